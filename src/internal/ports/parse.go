package ports

import (
	"strconv"
	"strings"
)

// Binding is a raw row from a port listing, before process names are resolved.
type Binding struct {
	Protocol       Protocol
	LocalAddress   string
	ForeignAddress string
	State          string
	PID            int
	// Unattributed marks a socket whose owner the source could not see,
	// e.g. another user's socket read without privileges.
	Unattributed bool
}

// Minimum field counts per protocol: TCP rows carry a state column, UDP rows do not.
const (
	tcpFields = 5
	udpFields = 4
)

// ParseStats summarizes one ParseNetstat call.
type ParseStats struct {
	Lines     int // lines examined
	Skipped   int // non-empty rows that were not bindings
	Truncated bool
}

// ParseNetstat parses `netstat -ano` style output. The header row is the first
// line mentioning both a protocol and a PID column; rows before it are ignored.
// If no header is found every line is treated as a candidate row. At most
// maxLines lines are examined (maxLines <= 0 means unlimited).
func ParseNetstat(text string, maxLines int) ([]Binding, ParseStats) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var stats ParseStats
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		stats.Truncated = true
	}
	stats.Lines = len(lines)

	start := 0
	if idx := findHeader(lines); idx >= 0 {
		start = idx + 1
	}

	var bindings []Binding
	for _, line := range lines[start:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b, ok := ParseRow(line)
		if !ok {
			stats.Skipped++
			continue
		}
		bindings = append(bindings, b)
	}
	return bindings, stats
}

func findHeader(lines []string) int {
	for i, line := range lines {
		upper := strings.ToUpper(line)
		if strings.Contains(upper, "PID") && strings.Contains(upper, "PROTO") {
			return i
		}
	}
	return -1
}

// ParseRow parses one whitespace-delimited row:
//
//	TCP  127.0.0.1:8080  0.0.0.0:0  LISTENING  1234
//	UDP  0.0.0.0:53      *:*                   500
//
// It reports false for unknown protocols, short rows and invalid pids.
func ParseRow(line string) (Binding, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Binding{}, false
	}

	proto, ok := ParseProtocol(fields[0])
	if !ok {
		return Binding{}, false
	}

	b := Binding{Protocol: proto}
	var pidField string
	switch proto {
	case TCP:
		if len(fields) < tcpFields {
			return Binding{}, false
		}
		b.LocalAddress, b.ForeignAddress, b.State = fields[1], fields[2], fields[3]
		pidField = fields[4]
	case UDP:
		if len(fields) < udpFields {
			return Binding{}, false
		}
		b.LocalAddress, b.ForeignAddress = fields[1], fields[2]
		pidField = fields[3]
	}

	pid, err := strconv.Atoi(pidField)
	if err != nil || pid < 0 {
		return Binding{}, false
	}
	b.PID = pid
	return b, true
}
