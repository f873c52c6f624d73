// Package ports models observed port/process bindings and enumerates them from the OS.
package ports

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Protocol is the transport protocol of a binding.
type Protocol int

const (
	TCP Protocol = iota + 1
	UDP
)

const (
	// SystemName is the display name for reserved kernel/system processes.
	SystemName = "System"
	// UnknownName is used when a process name cannot be resolved.
	UnknownName = "Unknown"
)

// ParseProtocol maps a tool token to a Protocol. Only "TCP" and "UDP" are
// recognized (case-insensitive); anything else reports false.
func ParseProtocol(token string) (Protocol, bool) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "TCP":
		return TCP, true
	case "UDP":
		return UDP, true
	default:
		return 0, false
	}
}

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return "Protocol(" + strconv.Itoa(int(p)) + ")"
	}
}

// MarshalJSON encodes the protocol as "TCP" or "UDP".
func (p Protocol) MarshalJSON() ([]byte, error) {
	if p != TCP && p != UDP {
		return nil, fmt.Errorf("invalid protocol %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts "TCP" or "UDP" in any case.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, ok := ParseProtocol(s)
	if !ok {
		return fmt.Errorf("invalid protocol %q", s)
	}
	*p = parsed
	return nil
}

// PortRecord is one observed binding between a socket and its owning process.
type PortRecord struct {
	Protocol       Protocol `json:"protocol"`
	LocalAddress   string   `json:"local_address"`
	ForeignAddress string   `json:"foreign_address"`
	State          string   `json:"state"` // empty for UDP
	PID            int      `json:"process_id"`
	ProcessName    string   `json:"process_name"`
	ProcessPath    string   `json:"process_path"`
}

// Key identifies a binding for change detection: pid plus protocol:local address.
func (r PortRecord) Key() string {
	return strconv.Itoa(r.PID) + "|" + r.Protocol.String() + ":" + r.LocalAddress
}

// Port returns the numeric local port, or 0 if the address has none.
func (r PortRecord) Port() int {
	return PortOf(r.LocalAddress)
}

// PortOf extracts the port from "ip:port", "[v6]:port" or "*:port".
func PortOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			return 0
		}
		portStr = addr[idx+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return 0
	}
	return port
}

// KeySet returns the set of binding keys in records.
func KeySet(records []PortRecord) map[string]struct{} {
	keys := make(map[string]struct{}, len(records))
	for _, r := range records {
		keys[r.Key()] = struct{}{}
	}
	return keys
}

// SameKeys reports whether two key sets are equal.
func SameKeys(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Sort orders records by port, then protocol, then pid, for stable display.
func Sort(records []PortRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := records[i].Port(), records[j].Port()
		if pi != pj {
			return pi < pj
		}
		if records[i].Protocol != records[j].Protocol {
			return records[i].Protocol < records[j].Protocol
		}
		return records[i].PID < records[j].PID
	})
}

// Clone returns a copy of records that shares no backing array.
func Clone(records []PortRecord) []PortRecord {
	if records == nil {
		return nil
	}
	out := make([]PortRecord, len(records))
	copy(out, records)
	return out
}
