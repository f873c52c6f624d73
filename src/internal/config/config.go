// Package config loads portwarden settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "PORTWARDEN_CONFIG"

// Config is the root configuration document.
type Config struct {
	Refresh     RefreshConfig     `yaml:"refresh"`
	Termination TerminationConfig `yaml:"termination"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// RefreshConfig controls the background port refresh scheduler.
type RefreshConfig struct {
	Tick         time.Duration `yaml:"tick"`
	MinInterval  time.Duration `yaml:"minInterval"`
	BatchSize    int           `yaml:"batchSize"`
	BatchPause   time.Duration `yaml:"batchPause"`
	MaxLines     int           `yaml:"maxLines"`
	NameCacheTTL time.Duration `yaml:"nameCacheTTL"` // 0 re-resolves names on every refresh
	LockWait     time.Duration `yaml:"lockWait"`
}

// TerminationConfig controls the escalation ladder.
type TerminationConfig struct {
	SettleDelay               time.Duration `yaml:"settleDelay"`
	VerifyAttempts            int           `yaml:"verifyAttempts"`
	VerifyInterval            time.Duration `yaml:"verifyInterval"`
	Sensitive                 []string      `yaml:"sensitive"`
	ElevationFailureThreshold uint32        `yaml:"elevationFailureThreshold"`
	ElevationCooldown         time.Duration `yaml:"elevationCooldown"`
}

// DashboardConfig controls the local HTTP/WebSocket server.
type DashboardConfig struct {
	Address         string  `yaml:"address"`
	StateDir        string  `yaml:"stateDir"`
	EventsPerSecond float64 `yaml:"eventsPerSecond"`

	// Saved-port search range and how long an unused assignment is kept.
	PortRangeStart   int           `yaml:"portRangeStart"`
	PortRangeEnd     int           `yaml:"portRangeEnd"`
	AssignmentMaxAge time.Duration `yaml:"assignmentMaxAge"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Refresh: RefreshConfig{
			Tick:         500 * time.Millisecond,
			MinInterval:  30 * time.Second,
			BatchSize:    50,
			BatchPause:   100 * time.Millisecond,
			MaxLines:     5000,
			NameCacheTTL: 5 * time.Minute,
			LockWait:     50 * time.Millisecond,
		},
		Termination: TerminationConfig{
			SettleDelay:               500 * time.Millisecond,
			VerifyAttempts:            3,
			VerifyInterval:            300 * time.Millisecond,
			Sensitive:                 []string{"steam", "game", "epic", "battle.net"},
			ElevationFailureThreshold: 2,
			ElevationCooldown:         time.Minute,
		},
		Dashboard: DashboardConfig{
			Address:          "127.0.0.1:0",
			StateDir:         defaultStateDir(),
			EventsPerSecond:  4,
			PortRangeStart:   40000,
			PortRangeEnd:     49999,
			AssignmentMaxAge: 30 * 24 * time.Hour,
		},
	}
}

// Load reads path on top of the defaults. An empty path falls back to the
// PORTWARDEN_CONFIG environment variable; a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- path is supplied by the operator via flag or environment
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Refresh.Tick <= 0 {
		errs = append(errs, fmt.Errorf("refresh.tick must be positive"))
	}
	if c.Refresh.MinInterval < c.Refresh.Tick {
		errs = append(errs, fmt.Errorf("refresh.minInterval must be at least refresh.tick"))
	}
	if c.Refresh.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("refresh.batchSize must be positive"))
	}
	if c.Refresh.NameCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("refresh.nameCacheTTL must not be negative"))
	}
	if c.Refresh.MaxLines <= 0 {
		errs = append(errs, fmt.Errorf("refresh.maxLines must be positive"))
	}
	if c.Termination.VerifyAttempts <= 0 {
		errs = append(errs, fmt.Errorf("termination.verifyAttempts must be positive"))
	}
	for i, p := range c.Termination.Sensitive {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("termination.sensitive[%d] is empty", i))
		}
	}
	if c.Dashboard.EventsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("dashboard.eventsPerSecond must not be negative"))
	}
	if c.Dashboard.PortRangeStart < 1 || c.Dashboard.PortRangeEnd > 65535 || c.Dashboard.PortRangeStart > c.Dashboard.PortRangeEnd {
		errs = append(errs, fmt.Errorf("dashboard port range %d-%d is invalid", c.Dashboard.PortRangeStart, c.Dashboard.PortRangeEnd))
	}
	if c.Dashboard.AssignmentMaxAge < 0 {
		errs = append(errs, fmt.Errorf("dashboard.assignmentMaxAge must not be negative"))
	}
	return errors.Join(errs...)
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portwarden"
	}
	return filepath.Join(dir, "portwarden")
}
