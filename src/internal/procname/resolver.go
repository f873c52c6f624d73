// Package procname resolves process ids to display names and executable paths.
package procname

import (
	"context"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/ports"
)

// Identity is the resolved name and path of a process.
type Identity struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

var systemIdentity = Identity{Name: ports.SystemName}

// Lookup queries the OS for a single process attribute.
// Name and Path fail independently.
type Lookup interface {
	Name(ctx context.Context, pid int) (string, error)
	Path(ctx context.Context, pid int) (string, error)
}

// Cache memoizes identities by pid. Entries live until Flush or, when a TTL
// is set, until they expire.
type Cache struct {
	items *gocache.Cache
}

// NewCache creates a cache. A ttl <= 0 keeps entries until Flush.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &Cache{items: gocache.New(ttl, ttl)}
}

func (c *Cache) get(pid int) (Identity, bool) {
	v, ok := c.items.Get(strconv.Itoa(pid))
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func (c *Cache) set(pid int, id Identity) {
	c.items.SetDefault(strconv.Itoa(pid), id)
}

// Flush drops every entry so the next resolution re-queries the OS.
func (c *Cache) Flush() {
	c.items.Flush()
}

// Len returns the number of cached entries, including expired ones not yet collected.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Resolver answers pid lookups through a Cache.
type Resolver struct {
	lookup Lookup
	group  singleflight.Group
	log    zerolog.Logger
}

// NewResolver creates a resolver backed by lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{
		lookup: lookup,
		log:    logging.Component("procname"),
	}
}

// Resolve returns the identity of pid. Reserved system pids never reach the
// OS. Failed lookups degrade to UnknownName and an empty path, and the result
// is cached either way, so each pid is looked up at most once per cache.
func (r *Resolver) Resolve(ctx context.Context, pid int, cache *Cache) Identity {
	if ports.IsSystemPID(pid) {
		return systemIdentity
	}
	if cache != nil {
		if id, ok := cache.get(pid); ok {
			return id
		}
	}

	// Concurrent misses for the same pid share one lookup.
	v, _, _ := r.group.Do(strconv.Itoa(pid), func() (interface{}, error) {
		if cache != nil {
			if id, ok := cache.get(pid); ok {
				return id, nil
			}
		}
		id := r.lookupIdentity(ctx, pid)
		if cache != nil {
			cache.set(pid, id)
		}
		return id, nil
	})
	return v.(Identity)
}

func (r *Resolver) lookupIdentity(ctx context.Context, pid int) Identity {
	id := Identity{Name: ports.UnknownName}

	name, err := r.lookup.Name(ctx, pid)
	if err != nil || name == "" {
		r.log.Debug().Err(err).Int("pid", pid).Msg("process name lookup failed")
	} else {
		id.Name = name
	}

	path, err := r.lookup.Path(ctx, pid)
	if err != nil {
		r.log.Debug().Err(err).Int("pid", pid).Msg("process path lookup failed")
	} else {
		id.Path = path
	}
	return id
}

// Bind adapts the resolver to the enumerator's NameResolver using cache.
func (r *Resolver) Bind(cache *Cache) ports.NameResolver {
	return boundResolver{resolver: r, cache: cache}
}

type boundResolver struct {
	resolver *Resolver
	cache    *Cache
}

func (b boundResolver) Resolve(ctx context.Context, pid int) (string, string) {
	id := b.resolver.Resolve(ctx, pid, b.cache)
	return id.Name, id.Path
}
