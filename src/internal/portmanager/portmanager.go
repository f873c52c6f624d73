// Package portmanager remembers which local port each long-running listener
// used last, so the dashboard comes back on the same address between runs.
package portmanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/logging"
)

// Default scan range for new assignments.
const (
	DefaultRangeStart = 40000
	DefaultRangeEnd   = 49999
)

// PortAssignment is one persisted assignment.
type PortAssignment struct {
	Name     string    `json:"name"`
	Port     int       `json:"port"`
	LastUsed time.Time `json:"lastUsed"`
}

// PortManager hands out and persists port assignments.
type PortManager struct {
	mu          sync.RWMutex
	assignments map[string]*PortAssignment // key: listener name
	filePath    string
	portRange   struct {
		start int
		end   int
	}
	// portChecker reports whether a port can be bound. Tests replace it to
	// avoid touching the network.
	portChecker func(port int) bool
	log         zerolog.Logger
}

// New loads (or creates) the assignment file under stateDir.
func New(stateDir string) *PortManager {
	pm := &PortManager{
		assignments: make(map[string]*PortAssignment),
		filePath:    filepath.Join(stateDir, "ports.json"),
		log:         logging.Component("portmanager"),
	}
	pm.portRange.start = DefaultRangeStart
	pm.portRange.end = DefaultRangeEnd
	pm.portChecker = isPortAvailable

	if err := os.MkdirAll(stateDir, 0750); err != nil {
		pm.log.Warn().Err(err).Str("dir", stateDir).Msg("failed to create state directory")
	}
	if err := pm.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		pm.log.Warn().Err(err).Str("file", pm.filePath).Msg("ignoring unreadable port assignments")
		pm.assignments = make(map[string]*PortAssignment)
	}
	return pm
}

// SetRange limits where new ports are searched for.
func (pm *PortManager) SetRange(start, end int) error {
	if start < 1 || end > 65535 || start > end {
		return fmt.Errorf("invalid port range %d-%d", start, end)
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.portRange.start = start
	pm.portRange.end = end
	return nil
}

// AssignPort returns the port name should listen on: its previous port if
// still free, else preferred if free, else the first free unassigned port in range.
func (pm *PortManager) AssignPort(name string, preferred int) (int, error) {
	if name == "" {
		return 0, errors.New("listener name is required")
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if a, ok := pm.assignments[name]; ok {
		if pm.portChecker(a.Port) {
			a.LastUsed = time.Now()
			pm.persist()
			return a.Port, nil
		}
		pm.log.Debug().Str("name", name).Int("port", a.Port).Msg("previous port is busy, reassigning")
	}

	if preferred >= pm.portRange.start && preferred <= pm.portRange.end && pm.portChecker(preferred) {
		return pm.assign(name, preferred), nil
	}

	port, err := pm.findAvailablePort(name)
	if err != nil {
		return 0, err
	}
	return pm.assign(name, port), nil
}

func (pm *PortManager) assign(name string, port int) int {
	pm.assignments[name] = &PortAssignment{Name: name, Port: port, LastUsed: time.Now()}
	pm.persist()
	return port
}

// ReleasePort forgets name's assignment.
func (pm *PortManager) ReleasePort(name string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	delete(pm.assignments, name)
	return pm.save()
}

// GetAssignment returns name's port, if any.
func (pm *PortManager) GetAssignment(name string) (int, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if a, ok := pm.assignments[name]; ok {
		return a.Port, true
	}
	return 0, false
}

// CleanStale removes assignments unused for longer than maxAge.
func (pm *PortManager) CleanStale(maxAge time.Duration) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for name, a := range pm.assignments {
		if a.LastUsed.Before(cutoff) {
			delete(pm.assignments, name)
			removed++
		}
	}
	if removed > 0 {
		pm.persist()
	}
	return removed
}

func (pm *PortManager) findAvailablePort(name string) (int, error) {
	taken := make(map[int]bool, len(pm.assignments))
	for n, a := range pm.assignments {
		if n != name {
			taken[a.Port] = true
		}
	}

	for port := pm.portRange.start; port <= pm.portRange.end; port++ {
		if taken[port] {
			continue
		}
		if pm.portChecker(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available ports in range %d-%d", pm.portRange.start, pm.portRange.end)
}

// isPortAvailable binds the loopback port briefly.
func isPortAvailable(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func (pm *PortManager) persist() {
	if err := pm.save(); err != nil {
		pm.log.Warn().Err(err).Msg("failed to save port assignments")
	}
}

func (pm *PortManager) load() error {
	data, err := os.ReadFile(pm.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &pm.assignments)
}

func (pm *PortManager) save() error {
	data, err := json.MarshalIndent(pm.assignments, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal port assignments: %w", err)
	}
	return os.WriteFile(pm.filePath, data, 0600)
}
