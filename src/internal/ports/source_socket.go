package ports

import (
	"context"
	"net"
	"strconv"
	"syscall"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// ConnectionsFunc lists sockets; it matches gopsutil's net.ConnectionsWithContext.
type ConnectionsFunc func(ctx context.Context, kind string) ([]gopsnet.ConnectionStat, error)

// SocketSource reads the kernel socket tables directly (via /proc on Linux,
// sysctl/libproc on BSD and macOS) instead of parsing a tool's text output.
type SocketSource struct {
	Connections ConnectionsFunc
}

// NewSocketSource returns a source backed by gopsutil.
func NewSocketSource() *SocketSource {
	return &SocketSource{Connections: gopsnet.ConnectionsWithContext}
}

// Bindings lists TCP and UDP sockets over IPv4 and IPv6.
func (s *SocketSource) Bindings(ctx context.Context, maxLines int) ([]Binding, ParseStats, error) {
	conns, err := s.Connections(ctx, "inet")
	if err != nil {
		return nil, ParseStats{}, &EnumerationError{Attempts: []string{"socket table (inet)"}, Err: err}
	}

	var stats ParseStats
	if maxLines > 0 && len(conns) > maxLines {
		conns = conns[:maxLines]
		stats.Truncated = true
	}
	stats.Lines = len(conns)

	bindings := make([]Binding, 0, len(conns))
	for _, c := range conns {
		var proto Protocol
		switch c.Type {
		case syscall.SOCK_STREAM:
			proto = TCP
		case syscall.SOCK_DGRAM:
			proto = UDP
		default:
			stats.Skipped++
			continue
		}
		if c.Pid < 0 {
			stats.Skipped++
			continue
		}

		b := Binding{
			Protocol:       proto,
			LocalAddress:   formatAddr(c.Laddr),
			ForeignAddress: formatAddr(c.Raddr),
			PID:            int(c.Pid),
		}
		if proto == TCP {
			b.State = c.Status
		}
		// gopsutil reports pid 0 when the owning process is not visible to us.
		if c.Pid == 0 {
			b.Unattributed = true
		}
		bindings = append(bindings, b)
	}
	return bindings, stats, nil
}

func formatAddr(a gopsnet.Addr) string {
	if a.IP == "" && a.Port == 0 {
		return "*:*"
	}
	ip := a.IP
	if ip == "" {
		ip = "*"
	}
	return net.JoinHostPort(ip, strconv.FormatUint(uint64(a.Port), 10))
}
