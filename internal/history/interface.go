package history

import (
	"context"
	"time"

	"codeberg.org/mutker/solo2d/internal/record"
)

// Collector stores window aggregates after each refresh.
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Recent(ctx context.Context, window, limit int) ([]Entry, error)
	Close() error
}

// Repository is the storage behind a Collector.
type Repository interface {
	Record(snapshot *Snapshot) error
	Recent(window, limit int) ([]Entry, error)
	Flush() error
	Close() error
}

// Snapshot is the set of aggregates produced by one refresh.
type Snapshot struct {
	At      time.Time
	Entries []Entry
}

// Entry is the aggregate of one window at one refresh.
type Entry struct {
	At      time.Time
	Window  int
	Present int
	Record  record.Record
}
