package terminate

import (
	"context"
	"errors"
	"os/exec"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/ports"
)

// host simulates processes that die when a given level runs.
type host struct {
	mu       sync.Mutex
	alive    map[int]bool
	diesAt   map[int]Level
	attempts []Level
	killed   []int
	checks   int
}

func newHost() *host {
	return &host{alive: map[int]bool{}, diesAt: map[int]Level{}}
}

func (h *host) strategy(level Level) Strategy {
	return Strategy{Level: level, Name: level.String(), Run: func(_ context.Context, pid int) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.attempts = append(h.attempts, level)
		h.killed = append(h.killed, pid)
		if at, ok := h.diesAt[pid]; ok && level >= at {
			h.alive[pid] = false
		}
		return nil
	}}
}

func (h *host) ladder(levels ...Level) []Strategy {
	out := make([]Strategy, 0, len(levels))
	for _, l := range levels {
		out = append(out, h.strategy(l))
	}
	return out
}

func (h *host) Exists(_ context.Context, pid int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks++
	return h.alive[pid], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event+" "+payload.(string))
	return nil
}

type staticLister []ProcessInfo

func (l staticLister) Processes(context.Context) ([]ProcessInfo, error) { return l, nil }

func testOptions() Options {
	return Options{VerifyAttempts: 2, VerifyInterval: time.Millisecond, Policy: DefaultPolicy()}
}

func allLevels() []Level {
	return []Level{LevelStandard, LevelForced, LevelTree, LevelElevated, LevelOSAPI}
}

func newTestEngine(h *host, sink events.Sink, lister Lister, levels ...Level) *Engine {
	e := NewEngine(Deps{Ladder: h.ladder(levels...), Checker: h, Lister: lister, Sink: sink}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestReservedPIDsNeverReachTheOS(t *testing.T) {
	h := newHost()
	sink := &recordingSink{}
	e := newTestEngine(h, sink, nil, allLevels()...)

	port := 80
	for _, pid := range []int{0, 4} {
		for name, op := range map[string]Op{
			"terminate": e.Terminate, "close-port": e.ClosePort, "force": e.ForceKill, "emergency": e.EmergencyKill,
		} {
			_, err := op(context.Background(), Request{PID: pid, Port: &port})
			assert.ErrorIs(t, err, ErrSystemProcessProtected, "%s pid %d", name, pid)
		}
	}
	assert.Empty(t, h.attempts)
	assert.Zero(t, h.checks)
	assert.Empty(t, sink.events)
}

func TestEscalation(t *testing.T) {
	missing := Strategy{Level: LevelStandard, Name: "missing", Run: func(context.Context, int) error {
		return exec.ErrNotFound
	}}
	failedOSAPI := Strategy{Level: LevelOSAPI, Name: "os api", Run: func(context.Context, int) error {
		return errOSAPIFailed
	}}

	tests := []struct {
		name   string
		ladder func(h *host) []Strategy
		diesAt Level
		// exists, when set, answers the checker in order; the last answer repeats.
		exists       []bool
		wantLevel    Level
		wantErr      error
		wantAttempts []Level
		wantChecks   int
		wantEvents   []string
	}{
		{
			name:         "stops at first verified level",
			ladder:       func(h *host) []Strategy { return h.ladder(allLevels()...) },
			diesAt:       LevelTree,
			wantLevel:    LevelTree,
			wantAttempts: []Level{LevelStandard, LevelForced, LevelTree},
			wantChecks:   3,
			wantEvents:   []string{"port-closed 7"},
		},
		{
			name:         "unexecuted level skips verification",
			ladder:       func(h *host) []Strategy { return []Strategy{missing, h.strategy(LevelForced)} },
			diesAt:       LevelForced,
			wantLevel:    LevelForced,
			wantAttempts: []Level{LevelForced},
			wantChecks:   1,
			wantEvents:   []string{"port-closed 7"},
		},
		{
			name:         "exit noticed after a later method fails to run",
			ladder:       func(h *host) []Strategy { return []Strategy{h.strategy(LevelTree), failedOSAPI} },
			exists:       []bool{true, false},
			wantLevel:    LevelTree,
			wantAttempts: []Level{LevelTree},
			wantChecks:   2,
			wantEvents:   []string{"port-closed 7"},
		},
		{
			name:         "still alive after a later method fails to run",
			ladder:       func(h *host) []Strategy { return []Strategy{h.strategy(LevelTree), failedOSAPI} },
			exists:       []bool{true},
			wantErr:      ErrAllMethodsExhausted,
			wantAttempts: []Level{LevelTree},
			wantChecks:   2,
			wantEvents:   []string{"port-close-error 7"},
		},
		{
			name:       "nothing ran",
			ladder:     func(*host) []Strategy { return []Strategy{missing} },
			exists:     []bool{false},
			wantErr:    ErrAllMethodsExhausted,
			wantChecks: 0,
			wantEvents: []string{"port-close-error 7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost()
			h.alive[7] = true
			if tt.diesAt != LevelNone {
				h.diesAt[7] = tt.diesAt
			}

			var checker Checker = h
			if tt.exists != nil {
				checker = CheckerFunc(func(context.Context, int) (bool, error) {
					h.mu.Lock()
					defer h.mu.Unlock()
					i := min(h.checks, len(tt.exists)-1)
					h.checks++
					return tt.exists[i], nil
				})
			}
			sink := &recordingSink{}
			opts := testOptions()
			opts.VerifyAttempts = 1
			e := NewEngine(Deps{Ladder: tt.ladder(h), Checker: checker, Sink: sink}, opts)
			e.sleep = func(context.Context, time.Duration) error { return nil }

			out, err := e.Terminate(context.Background(), Request{PID: 7})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Terminate() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("Terminate() error = %v", err)
			} else if out.Level != tt.wantLevel {
				t.Errorf("Level = %v, want %v", out.Level, tt.wantLevel)
			}

			if !slices.Equal(h.attempts, tt.wantAttempts) {
				t.Errorf("attempts = %v, want %v", h.attempts, tt.wantAttempts)
			}
			if h.checks != tt.wantChecks {
				t.Errorf("checks = %d, want %d", h.checks, tt.wantChecks)
			}
			if !slices.Equal(sink.events, tt.wantEvents) {
				t.Errorf("events = %v, want %v", sink.events, tt.wantEvents)
			}
		})
	}
}

func TestExhaustionReportsPIDAndEmitsError(t *testing.T) {
	h := newHost()
	h.alive[77] = true
	sink := &recordingSink{}
	e := newTestEngine(h, sink, nil, allLevels()...)

	port := 8080
	_, err := e.Terminate(context.Background(), Request{PID: 77, Port: &port})
	require.ErrorIs(t, err, ErrAllMethodsExhausted)

	var termErr *Error
	require.True(t, errors.As(err, &termErr))
	assert.Equal(t, 77, termErr.PID)
	assert.Contains(t, err.Error(), "77")
	assert.Len(t, h.attempts, 5)
	assert.Equal(t, []string{"port-close-error 77:8080"}, sink.events)
}

func TestCheckerErrorIsNotSuccess(t *testing.T) {
	h := newHost()
	failing := CheckerFunc(func(context.Context, int) (bool, error) { return false, errors.New("tasklist failed") })
	e := NewEngine(Deps{Ladder: h.ladder(LevelStandard), Checker: failing}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := e.Terminate(context.Background(), Request{PID: 10})
	assert.ErrorIs(t, err, ErrAllMethodsExhausted)
}

func TestVerifyPollsUntilGone(t *testing.T) {
	calls := 0
	checker := CheckerFunc(func(context.Context, int) (bool, error) {
		calls++
		return calls < 2, nil
	})
	h := newHost()
	e := NewEngine(Deps{Ladder: h.ladder(LevelStandard), Checker: checker}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := e.Terminate(context.Background(), Request{PID: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestForceKillRunsOnlyPrivilegedLevels(t *testing.T) {
	h := newHost()
	h.alive[9] = true
	h.diesAt[9] = LevelOSAPI
	e := newTestEngine(h, nil, nil, allLevels()...)

	out, err := e.ForceKill(context.Background(), Request{PID: 9})
	require.NoError(t, err)
	assert.Equal(t, []Level{LevelElevated, LevelOSAPI}, h.attempts)
	assert.Equal(t, LevelOSAPI, out.Level)
}

func TestPrivilegedOperationsUnsupportedWithoutElevation(t *testing.T) {
	h := newHost()
	e := newTestEngine(h, nil, nil, LevelStandard, LevelForced, LevelTree, LevelOSAPI)

	_, err := e.ForceKill(context.Background(), Request{PID: 9})
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = e.EmergencyKill(context.Background(), Request{PID: 9})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Empty(t, h.attempts)
}

func TestEmergencyKillSweepsChildren(t *testing.T) {
	h := newHost()
	h.alive[100] = true
	h.diesAt[100] = LevelTree
	lister := staticLister{
		{PID: 100, PPID: 1, Name: "parent"},
		{PID: 101, PPID: 100, Name: "child"},
		{PID: 102, PPID: 100, Name: "child"},
		{PID: 200, PPID: 1, Name: "unrelated"},
		{PID: 4, PPID: 100, Name: "System"},
	}
	e := newTestEngine(h, nil, lister, allLevels()...)

	_, err := e.EmergencyKill(context.Background(), Request{PID: 100})
	require.NoError(t, err)
	assert.Equal(t, []int{101, 102, 100}, h.killed)
	assert.Equal(t, []Level{LevelForced, LevelForced, LevelTree}, h.attempts)
}

func TestClosePortSweepsSensitiveSiblings(t *testing.T) {
	h := newHost()
	h.alive[50] = true
	h.diesAt[50] = LevelStandard
	lister := staticLister{
		{PID: 50, Name: "steam.exe"},
		{PID: 51, Name: "steamwebhelper.exe"},
		{PID: 52, Name: "EpicGamesLauncher.exe"},
		{PID: 53, Name: "code.exe"},
	}
	e := newTestEngine(h, nil, lister, allLevels()...)

	udp := ports.UDP
	port := 27015
	out, err := e.ClosePort(context.Background(), Request{PID: 50, Port: &port, Protocol: &udp, LocalAddress: "0.0.0.0:27015"})
	require.NoError(t, err)

	assert.Equal(t, []int{51, 50}, h.killed)
	assert.Contains(t, out.Message, "27015")
}

func TestTerminateDoesNotSweepSensitive(t *testing.T) {
	h := newHost()
	h.alive[50] = true
	h.diesAt[50] = LevelStandard
	lister := staticLister{{PID: 50, Name: "steam.exe"}, {PID: 51, Name: "steamwebhelper.exe"}}
	e := newTestEngine(h, nil, lister, allLevels()...)

	_, err := e.Terminate(context.Background(), Request{PID: 50})
	require.NoError(t, err)
	assert.Equal(t, []int{50}, h.killed)
}

type fakeDropper struct {
	available bool
	err       error
	dropped   []string
}

func (d *fakeDropper) Available() bool { return d.available }
func (d *fakeDropper) Drop(_ context.Context, addr string) error {
	d.dropped = append(d.dropped, addr)
	return d.err
}

type fakeProbe struct{ bound bool }

func (p fakeProbe) Bound(context.Context, int, ports.Protocol, string) (bool, error) {
	return p.bound, nil
}

func TestClosePortDropsTCPConnection(t *testing.T) {
	h := newHost()
	h.alive[60] = true
	dropper := &fakeDropper{available: true}
	sink := &recordingSink{}
	e := NewEngine(Deps{Ladder: h.ladder(allLevels()...), Checker: h, Dropper: dropper, Probe: fakeProbe{}, Sink: sink}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	tcp := ports.TCP
	port := 5000
	out, err := e.ClosePort(context.Background(), Request{PID: 60, Port: &port, Protocol: &tcp, LocalAddress: "127.0.0.1:5000"})
	require.NoError(t, err)

	assert.Equal(t, LevelNone, out.Level)
	assert.Equal(t, []string{"127.0.0.1:5000"}, dropper.dropped)
	assert.Empty(t, h.attempts, "owner must survive a successful drop")
	assert.Equal(t, []string{"port-closed 60:5000"}, sink.events)
}

func TestClosePortEscalatesWhenBindingSurvivesDrop(t *testing.T) {
	h := newHost()
	h.alive[61] = true
	h.diesAt[61] = LevelStandard
	dropper := &fakeDropper{available: true}
	e := NewEngine(Deps{Ladder: h.ladder(allLevels()...), Checker: h, Dropper: dropper, Probe: fakeProbe{bound: true}}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	tcp := ports.TCP
	out, err := e.ClosePort(context.Background(), Request{PID: 61, Protocol: &tcp, LocalAddress: "0.0.0.0:80"})
	require.NoError(t, err)
	assert.Equal(t, LevelStandard, out.Level)
}

func TestClosePortUDPNeverDrops(t *testing.T) {
	h := newHost()
	h.alive[62] = true
	h.diesAt[62] = LevelForced
	dropper := &fakeDropper{available: true}
	e := NewEngine(Deps{Ladder: h.ladder(allLevels()...), Checker: h, Dropper: dropper}, testOptions())
	e.sleep = func(context.Context, time.Duration) error { return nil }

	udp := ports.UDP
	_, err := e.ClosePort(context.Background(), Request{PID: 62, Protocol: &udp, LocalAddress: "0.0.0.0:53"})
	require.NoError(t, err)
	assert.Empty(t, dropper.dropped)
	assert.Equal(t, []Level{LevelStandard, LevelForced}, h.attempts)
}

func TestCanDrop(t *testing.T) {
	e := NewEngine(Deps{Dropper: &fakeDropper{available: true}}, testOptions())
	assert.True(t, e.CanDrop(ports.TCP, "127.0.0.1:80"))
	assert.False(t, e.CanDrop(ports.UDP, "127.0.0.1:80"))
	assert.False(t, e.CanDrop(ports.TCP, "*:*"))

	assert.False(t, NewEngine(Deps{}, testOptions()).CanDrop(ports.TCP, "127.0.0.1:80"))
	assert.False(t, NewEngine(Deps{Dropper: &fakeDropper{}}, testOptions()).CanDrop(ports.TCP, "127.0.0.1:80"))
}

func TestGoDeliversResult(t *testing.T) {
	h := newHost()
	e := newTestEngine(h, nil, nil, allLevels()...)

	res := <-e.Go(context.Background(), Request{PID: 4}, e.Terminate)
	assert.ErrorIs(t, res.Err, ErrSystemProcessProtected)

	res = <-e.Go(context.Background(), Request{PID: 3000}, e.Terminate)
	require.NoError(t, res.Err)
	assert.Equal(t, 3000, res.Outcome.PID)
}

func TestEmitFailureDoesNotChangeResult(t *testing.T) {
	h := newHost()
	failing := events.SinkFunc(func(string, any) error { return errors.New("window closed") })
	e := newTestEngine(h, failing, nil, allLevels()...)

	_, err := e.Terminate(context.Background(), Request{PID: 3001})
	assert.NoError(t, err)
}

func TestNegativePIDRejected(t *testing.T) {
	e := newTestEngine(newHost(), nil, nil, allLevels()...)
	_, err := e.Terminate(context.Background(), Request{PID: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
