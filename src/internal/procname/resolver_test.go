package procname

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jongio/portwarden/src/internal/ports"
)

type countingLookup struct {
	names     map[int]string
	paths     map[int]string
	nameCalls atomic.Int32
	pathCalls atomic.Int32
}

func (l *countingLookup) Name(_ context.Context, pid int) (string, error) {
	l.nameCalls.Add(1)
	if n, ok := l.names[pid]; ok {
		return n, nil
	}
	return "", errors.New("no such process")
}

func (l *countingLookup) Path(_ context.Context, pid int) (string, error) {
	l.pathCalls.Add(1)
	if p, ok := l.paths[pid]; ok {
		return p, nil
	}
	return "", errors.New("access denied")
}

func TestResolveIsIdempotent(t *testing.T) {
	lookup := &countingLookup{
		names: map[int]string{1234: "node.exe"},
		paths: map[int]string{1234: `C:\node\node.exe`},
	}
	r := NewResolver(lookup)
	cache := NewCache(0)

	first := r.Resolve(context.Background(), 1234, cache)
	second := r.Resolve(context.Background(), 1234, cache)

	assert.Equal(t, Identity{Name: "node.exe", Path: `C:\node\node.exe`}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), lookup.nameCalls.Load())
	assert.Equal(t, int32(1), lookup.pathCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestResolveDegradesAndCachesFailures(t *testing.T) {
	lookup := &countingLookup{}
	r := NewResolver(lookup)
	cache := NewCache(0)

	id := r.Resolve(context.Background(), 777, cache)
	assert.Equal(t, Identity{Name: ports.UnknownName, Path: ""}, id)

	_ = r.Resolve(context.Background(), 777, cache)
	assert.Equal(t, int32(1), lookup.nameCalls.Load(), "a failed lookup is still cached")
}

func TestResolvePartialFailure(t *testing.T) {
	lookup := &countingLookup{names: map[int]string{42: "svc"}}
	id := NewResolver(lookup).Resolve(context.Background(), 42, NewCache(0))
	assert.Equal(t, Identity{Name: "svc"}, id)
}

func TestResolveSystemPIDSkipsLookup(t *testing.T) {
	lookup := &countingLookup{}
	r := NewResolver(lookup)

	for _, pid := range []int{0, 4} {
		assert.Equal(t, ports.SystemName, r.Resolve(context.Background(), pid, NewCache(0)).Name)
	}
	assert.Zero(t, lookup.nameCalls.Load())
	assert.Zero(t, lookup.pathCalls.Load())
}

func TestFlushForcesReResolution(t *testing.T) {
	lookup := &countingLookup{names: map[int]string{9: "a"}}
	r := NewResolver(lookup)
	cache := NewCache(0)

	r.Resolve(context.Background(), 9, cache)
	cache.Flush()
	assert.Zero(t, cache.Len())

	lookup.names[9] = "b"
	assert.Equal(t, "b", r.Resolve(context.Background(), 9, cache).Name)
	assert.Equal(t, int32(2), lookup.nameCalls.Load())
}

func TestConcurrentResolveSharesLookup(t *testing.T) {
	lookup := &countingLookup{names: map[int]string{55: "x"}}
	r := NewResolver(lookup)
	cache := NewCache(0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "x", r.Resolve(context.Background(), 55, cache).Name)
		}()
	}
	wg.Wait()

	// Late arrivals hit the cache; overlapping ones share a flight.
	assert.LessOrEqual(t, lookup.nameCalls.Load(), int32(16))
	require.Equal(t, 1, cache.Len())
}

func TestBindAdaptsToNameResolver(t *testing.T) {
	lookup := &countingLookup{names: map[int]string{3: "three"}, paths: map[int]string{3: "/bin/three"}}
	var nr ports.NameResolver = NewResolver(lookup).Bind(NewCache(0))

	name, path := nr.Resolve(context.Background(), 3)
	assert.Equal(t, "three", name)
	assert.Equal(t, "/bin/three", path)
}
