// Package poller caches window aggregates between device reads.
package poller

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/solo2d/internal/aggregate"
	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/logger"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/store"
)

const (
	// MinInterval is the least time between two successful refreshes.
	MinInterval = 14 * time.Minute

	// A refresh is only attempted in the minutes around a slot boundary.
	boundaryLead  = 5
	boundaryTrail = 10
	slotMinutes   = 15
)

// Opener is a record store that is attached for the length of one refresh.
type Opener interface {
	aggregate.Source
	Open(ctx context.Context) error
	Close() error
}

// Result describes one refresh attempt.
type Result struct {
	At       time.Time
	Records  map[int]record.Record
	Coverage map[int]aggregate.Coverage
	Err      error
}

// Cache holds the latest aggregate per tracked window length.
//
// One mutex covers the eligibility check, the store acquisition, every window
// read and the cache update, so the medium is never attached twice.
type Cache struct {
	mu        sync.Mutex
	store     Opener
	loc       *time.Location
	logger    logger.Logger
	windows   []int
	records   map[int]record.Record
	coverage  map[int]aggregate.Coverage
	last      time.Time
	refreshed bool
	listeners []func(Result)
}

type Option func(*Cache)

// WithLocation sets the zone used for the slot boundary check.
func WithLocation(loc *time.Location) Option {
	return func(c *Cache) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Cache) {
		c.logger = log
	}
}

// New returns an empty cache reading from st.
func New(st Opener, opts ...Option) *Cache {
	c := &Cache{
		store:    st,
		loc:      time.Local,
		logger:   logger.Default(),
		records:  make(map[int]record.Record),
		coverage: make(map[int]aggregate.Coverage),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("poller")

	return c
}

// Track adds a window length to refresh. Tracking a length twice is a no-op.
func (c *Cache) Track(window int) error {
	if window < 1 {
		return errors.New().WithData(errors.ErrInvalidArgument, window)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if i, found := slices.BinarySearch(c.windows, window); !found {
		c.windows = slices.Insert(c.windows, i, window)
	}

	return nil
}

// Windows returns the tracked window lengths in ascending order.
func (c *Cache) Windows() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.windows)
}

// OnRefresh registers fn to be called after every refresh attempt, outside
// the cache lock.
func (c *Cache) OnRefresh(fn func(Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, fn)
}

// ShouldRefresh reports whether a refresh at now is due.
func (c *Cache) ShouldRefresh(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shouldRefresh(now)
}

func (c *Cache) shouldRefresh(now time.Time) bool {
	if c.refreshed && absDuration(now.Sub(c.last)) < MinInterval {
		return false
	}

	minute := now.In(c.loc).Minute() % slotMinutes

	return minute < boundaryLead || minute > boundaryTrail
}

// Refresh reads every tracked window from the store, regardless of
// eligibility. On failure the cached values are kept and the last refresh
// time is not advanced.
func (c *Cache) Refresh(ctx context.Context, now time.Time) error {
	res := c.refreshWithLock(ctx, now)
	c.notify(res)

	return res.Err
}

// Poll refreshes the cache if a refresh is due. It reports whether a refresh
// was attempted.
func (c *Cache) Poll(ctx context.Context, now time.Time) (bool, error) {
	res, attempted := c.pollWithLock(ctx, now)
	if !attempted {
		return false, nil
	}
	c.notify(res)

	return true, res.Err
}

func (c *Cache) pollWithLock(ctx context.Context, now time.Time) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shouldRefresh(now) {
		return Result{}, false
	}

	return c.refresh(ctx, now), true
}

func (c *Cache) refreshWithLock(ctx context.Context, now time.Time) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.refresh(ctx, now)
}

func (c *Cache) refresh(ctx context.Context, now time.Time) Result {
	res := Result{At: now}

	records, coverage, err := c.read(ctx, now)
	if err != nil {
		res.Err = errors.New().Wrap(errors.ErrRefresh, err)
		c.logger.Warn().Err(err).Msg("Refresh failed, keeping cached values")

		return res
	}

	c.records = records
	c.coverage = coverage
	c.last = now
	c.refreshed = true

	res.Records = maps.Clone(records)
	res.Coverage = maps.Clone(coverage)

	c.logger.Debug().
		Int("windows", len(c.windows)).
		Int("with_data", len(records)).
		Msg("Cache refreshed")

	return res
}

func (c *Cache) read(ctx context.Context, now time.Time) (map[int]record.Record, map[int]aggregate.Coverage, error) {
	if err := c.store.Open(ctx); err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to release store")
		}
	}()

	records := make(map[int]record.Record, len(c.windows))
	coverage := make(map[int]aggregate.Coverage, len(c.windows))

	for _, window := range c.windows {
		r, cov, err := aggregate.AggregateWithCoverage(c.store, now, window)
		if err != nil {
			if errors.HasCode(err, store.ErrUninitializedStore) {
				c.logger.Info().Msg("Store holds no records yet")
				return map[int]record.Record{}, map[int]aggregate.Coverage{}, nil
			}

			return nil, nil, err
		}

		coverage[window] = cov
		if cov.Present > 0 {
			records[window] = r
		}
	}

	return records, coverage, nil
}

func (c *Cache) notify(res Result) {
	c.mu.Lock()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

// Get returns the cached aggregate for window. It returns false before the
// first successful refresh and when the window held no data.
func (c *Cache) Get(window int) (record.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.records[window]

	return r, ok
}

// Coverage returns how much of window was backed by real slots at the last
// successful refresh.
func (c *Cache) Coverage(window int) (aggregate.Coverage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cov, ok := c.coverage[window]

	return cov, ok
}

// LastRefresh returns the time of the last successful refresh, or the zero
// time if there was none.
func (c *Cache) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Snapshot returns a copy of all cached aggregates.
func (c *Cache) Snapshot() map[int]record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.records)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
