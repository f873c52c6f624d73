package portcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jongio/portwarden/src/internal/events"
	"github.com/jongio/portwarden/src/internal/logging"
	"github.com/jongio/portwarden/src/internal/metrics"
	"github.com/jongio/portwarden/src/internal/ports"
)

// State is the lifecycle of the cache as seen by the scheduler.
type State int32

const (
	StateEmpty State = iota
	StatePopulating
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePopulating:
		return "populating"
	case StateSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// Enumerator produces the current port list.
type Enumerator interface {
	Enumerate(ctx context.Context, verbose bool) ([]ports.PortRecord, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context, verbose bool) ([]ports.PortRecord, error)

// Enumerate calls f.
func (f EnumeratorFunc) Enumerate(ctx context.Context, verbose bool) ([]ports.PortRecord, error) {
	return f(ctx, verbose)
}

// Flusher is a cache whose entries the scheduler drops periodically, such as
// the process-name memo, so reused pids are resolved again.
type Flusher interface {
	Flush()
}

// Options tune the scheduler.
type Options struct {
	Tick        time.Duration // wake-up period
	MinInterval time.Duration // minimum time between scheduled enumerations
	BatchSize   int           // first-population chunk size
	BatchPause  time.Duration // pause between first-population chunks
	LockWait    time.Duration // bound on cache lock acquisition

	// Names is flushed before a refresh once NameTTL has passed since the
	// last flush (every refresh when NameTTL is 0), and before every
	// forced refresh.
	Names   Flusher
	NameTTL time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Tick:        500 * time.Millisecond,
		MinInterval: 30 * time.Second,
		BatchSize:   50,
		BatchPause:  100 * time.Millisecond,
		LockWait:    50 * time.Millisecond,
	}
}

// Scheduler is the single writer of a Cache. Its own ticks never overlap;
// ForceRefresh calls may run alongside them and the last writer wins.
type Scheduler struct {
	cache      *Cache
	enumerator Enumerator
	sink       events.Sink
	metrics    *metrics.Metrics
	opts       Options
	log        zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	mu          sync.Mutex
	attempted   bool
	lastRefresh time.Time
	lastFlush   time.Time
}

// NewScheduler creates a scheduler for cache. sink and m may be nil.
func NewScheduler(cache *Cache, enumerator Enumerator, sink events.Sink, m *metrics.Metrics, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = def.MinInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.LockWait <= 0 {
		opts.LockWait = def.LockWait
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Scheduler{
		cache:      cache,
		enumerator: enumerator,
		sink:       sink,
		metrics:    m,
		opts:       opts,
		log:        logging.Component("scheduler"),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cache returns the cache the scheduler writes.
func (s *Scheduler) Cache() *Cache {
	return s.cache
}

// Run ticks until ctx is done. The first tick happens immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	s.log.Debug().Dur("tick", s.opts.Tick).Dur("minInterval", s.opts.MinInterval).Msg("scheduler started")
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs a refresh if one is due. Errors are logged, never returned.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.due() {
		return
	}
	_ = s.refresh(ctx)
}

func (s *Scheduler) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attempted {
		return true
	}
	return s.now().Sub(s.lastRefresh) >= s.opts.MinInterval
}

func (s *Scheduler) markRefreshed() {
	s.mu.Lock()
	s.attempted = true
	s.lastRefresh = s.now()
	s.mu.Unlock()
}

// expireNames flushes the name cache when it is older than NameTTL.
func (s *Scheduler) expireNames(force bool) {
	if s.opts.Names == nil {
		return
	}
	s.mu.Lock()
	now := s.now()
	due := force || s.lastFlush.IsZero() || now.Sub(s.lastFlush) >= s.opts.NameTTL
	if due {
		s.lastFlush = now
	}
	s.mu.Unlock()

	if due {
		s.opts.Names.Flush()
		s.log.Debug().Bool("forced", force).Msg("process name cache flushed")
	}
}

// retrySoon makes the next tick due again after a lock failure.
func (s *Scheduler) retrySoon() {
	s.mu.Lock()
	s.attempted = false
	s.mu.Unlock()
}

func (s *Scheduler) refresh(ctx context.Context) error {
	start := s.now()
	s.markRefreshed()

	oldKeys, err := s.cache.TryKeys(s.opts.LockWait)
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping refresh, cache busy")
		s.metrics.ObserveRefresh(metrics.ResultSkipped, 0)
		s.retrySoon()
		return err
	}

	s.expireNames(false)
	records, err := s.enumerator.Enumerate(ctx, false)
	took := s.now().Sub(start)
	if err != nil {
		s.log.Error().Err(err).Msg("port enumeration failed, keeping previous snapshot")
		s.metrics.ObserveRefresh(metrics.ResultFailed, took)
		return err
	}

	if s.State() == StateEmpty {
		if err := s.populate(ctx, records); err != nil {
			s.metrics.ObserveRefresh(metrics.ResultSkipped, 0)
			return err
		}
		s.metrics.ObserveRefresh(metrics.ResultReplaced, took)
		return nil
	}

	if ports.SameKeys(oldKeys, ports.KeySet(records)) {
		s.metrics.ObserveRefresh(metrics.ResultUnchanged, took)
		return nil
	}

	if err := s.cache.TryReplace(records, s.opts.LockWait); err != nil {
		s.log.Warn().Err(err).Msg("skipping cache write, cache busy")
		s.metrics.ObserveRefresh(metrics.ResultSkipped, 0)
		s.retrySoon()
		return err
	}
	s.log.Debug().Int("records", len(records)).Msg("port snapshot replaced")
	s.metrics.ObserveRefresh(metrics.ResultReplaced, took)
	s.published(records)
	return nil
}

// populate fills an empty cache in growing prefixes of BatchSize, pausing
// between chunks. The last chunk is always the complete list.
func (s *Scheduler) populate(ctx context.Context, records []ports.PortRecord) error {
	s.state.Store(int32(StatePopulating))

	for end := 0; ; {
		end += s.opts.BatchSize
		if end > len(records) {
			end = len(records)
		}

		if err := s.cache.TryReplace(records[:end], s.opts.LockWait); err != nil {
			s.log.Warn().Err(err).Int("written", end).Msg("initial population interrupted, cache busy")
			s.state.Store(int32(StateEmpty))
			s.retrySoon()
			return err
		}
		s.published(records[:end])

		if end == len(records) {
			break
		}
		if err := s.sleep(ctx, s.opts.BatchPause); err != nil {
			// Still leave the cache holding the full list.
			if err := s.cache.TryReplace(records, s.opts.LockWait); err != nil {
				s.state.Store(int32(StateEmpty))
				s.retrySoon()
				return err
			}
			s.published(records)
			break
		}
	}

	s.state.Store(int32(StateSteady))
	s.log.Info().Int("records", len(records)).Msg("port cache populated")
	return nil
}

func (s *Scheduler) published(records []ports.PortRecord) {
	s.metrics.SetCacheRecords(len(records))
	events.Notify(s.sink, s.log, events.EventPortsData, ports.Clone(records))
}

// ForceRefresh enumerates now, regardless of the schedule, writes the result
// and publishes it. A busy cache does not fail the call; the fresh list is
// still returned and published.
func (s *Scheduler) ForceRefresh(ctx context.Context, verbose bool) ([]ports.PortRecord, error) {
	s.expireNames(true)
	start := s.now()
	records, err := s.enumerator.Enumerate(ctx, verbose)
	took := s.now().Sub(start)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.ResultFailed, took)
		return nil, err
	}
	s.markRefreshed()

	if err := s.cache.TryReplace(records, s.opts.LockWait); err != nil {
		s.log.Warn().Err(err).Msg("forced refresh could not write cache")
		s.metrics.ObserveRefresh(metrics.ResultSkipped, 0)
	} else {
		s.state.CompareAndSwap(int32(StateEmpty), int32(StateSteady))
		s.metrics.ObserveRefresh(metrics.ResultReplaced, took)
	}

	s.published(records)
	return records, nil
}
