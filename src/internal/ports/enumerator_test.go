package ports

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner returns canned output per command name.
type scriptedRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func (r *scriptedRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	if err, ok := r.errs[name]; ok {
		return r.outputs[name], err
	}
	if out, ok := r.outputs[name]; ok {
		return out, nil
	}
	return nil, exec.ErrNotFound
}

// mapResolver resolves from a fixed table and counts calls.
type mapResolver struct {
	names map[int]string
	calls map[int]int
}

func (m *mapResolver) Resolve(_ context.Context, pid int) (string, string) {
	if m.calls == nil {
		m.calls = map[int]int{}
	}
	m.calls[pid]++
	if name, ok := m.names[pid]; ok {
		return name, `C:\bin\` + name
	}
	return UnknownName, ""
}

func TestEnumerateResolvesNames(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string][]byte{"netstat": []byte(sampleNetstat)}}
	resolver := &mapResolver{names: map[int]string{1234: "node.exe", 500: "dns.exe"}}

	records, err := NewEnumerator(NewNetstatSource(runner), 0).Enumerate(context.Background(), resolver, false)
	require.NoError(t, err)
	require.Len(t, records, 6)

	byPID := map[int]PortRecord{}
	for _, r := range records {
		byPID[r.PID] = r
	}
	assert.Equal(t, "node.exe", byPID[1234].ProcessName)
	assert.Equal(t, `C:\bin\node.exe`, byPID[1234].ProcessPath)
	assert.Equal(t, SystemName, byPID[4].ProcessName)
	assert.Equal(t, UnknownName, byPID[1044].ProcessName)
	assert.Equal(t, "", byPID[500].State)

	assert.Zero(t, resolver.calls[4], "system pid must not reach the resolver")
	assert.Equal(t, []string{"netstat -ano"}, runner.calls)
}

func TestNetstatSourceFallsBackThroughInvocations(t *testing.T) {
	runner := &scriptedRunner{
		outputs: map[string][]byte{"powershell": []byte("TCP 127.0.0.1:80 0.0.0.0:0 LISTENING 42")},
	}

	records, err := NewEnumerator(NewNetstatSource(runner), 0).Enumerate(context.Background(), nil, true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 42, records[0].PID)
	assert.Len(t, runner.calls, 3)
}

func TestNetstatSourceParsesOutputOfNonZeroExit(t *testing.T) {
	exitErr := &exec.ExitError{}
	runner := &scriptedRunner{
		outputs: map[string][]byte{"netstat": []byte("UDP 0.0.0.0:53 *:* 500")},
		errs:    map[string]error{"netstat": exitErr},
	}

	records, err := NewEnumerator(NewNetstatSource(runner), 0).Enumerate(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Len(t, runner.calls, 1, "a tool that ran is not retried")
}

func TestEnumerateFailsOnlyWhenNothingRuns(t *testing.T) {
	runner := &scriptedRunner{}

	_, err := NewEnumerator(NewNetstatSource(runner), 0).Enumerate(context.Background(), nil, false)
	require.Error(t, err)
	assert.True(t, IsEnumerationError(err))
	assert.True(t, errors.Is(err, exec.ErrNotFound))

	var enumErr *EnumerationError
	require.True(t, errors.As(err, &enumErr))
	assert.Len(t, enumErr.Attempts, len(NetstatInvocations))
}

func TestEnumerateEmptyOutputIsNotAnError(t *testing.T) {
	runner := &scriptedRunner{outputs: map[string][]byte{"netstat": {}}}

	records, err := NewEnumerator(NewNetstatSource(runner), 0).Enumerate(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Empty(t, records)
}
