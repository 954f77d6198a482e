package store

import (
	"context"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/logger"
	"codeberg.org/mutker/solo2d/internal/record"
)

const (
	// SlotCount is the number of slots in the circular record region,
	// one year of 15 minute intervals.
	SlotCount = 35832
	// FileOffset is where the record region starts in the data file.
	FileOffset = 0x1a000
	// HeaderSize is the offset of slot 0 within the record region.
	HeaderSize = 0x100
	// SlotSize is the stride between slots.
	SlotSize = record.SlotSize

	// refWindow is how far a query may drift from the cached slot 0 time
	// before it is read again.
	refWindow = 365 * 24 * 60 * 60
)

// Store reads slots from the circular record region of a Medium.
//
// The region is only attached between Open and Close. A Store is not safe for
// concurrent use; callers serialize access.
type Store struct {
	medium Medium
	epoch  record.Epoch
	logger logger.Logger

	region  Region
	refTime int64 // unix seconds of slot 0
	hasRef  bool
}

type Option func(*Store)

// WithEpoch sets the epoch used to date slots. Defaults to the epoch of the
// local time zone.
func WithEpoch(epoch record.Epoch) Option {
	return func(s *Store) {
		s.epoch = epoch
	}
}

// WithLogger sets the logger. Defaults to logger.Default().
func WithLogger(log logger.Logger) Option {
	return func(s *Store) {
		s.logger = log
	}
}

// New returns a closed store over medium.
func New(medium Medium, opts ...Option) *Store {
	s := &Store{
		medium: medium,
		epoch:  record.NewEpoch(time.Local),
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("store")

	return s
}

// Open attaches the medium. A failed attach is retried once after resetting
// the medium; if that fails too the store stays closed and the error carries
// ErrMediumUnavailable.
func (s *Store) Open(ctx context.Context) error {
	errFactory := errors.New()

	if s.region != nil {
		return errFactory.New(ErrStoreOpen)
	}

	region, err := s.medium.Attach(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to attach medium, resetting")

		if resetErr := s.medium.Reset(ctx); resetErr != nil {
			s.logger.Debug().Err(resetErr).Msg("Medium reset failed")
		}

		region, err = s.medium.Attach(ctx)
		if err != nil {
			return errFactory.Wrap(ErrMediumUnavailable, err)
		}
	}

	s.region = region
	s.logger.Debug().Int("region_size", len(region.Bytes())).Msg("Store opened")

	return nil
}

// Close releases the medium. Closing a closed store is a no-op.
func (s *Store) Close() error {
	if s.region == nil {
		return nil
	}

	region := s.region
	s.region = nil

	if err := region.Close(); err != nil {
		return errors.New().Wrap(ErrUnmountFailed, err)
	}
	s.logger.Debug().Msg("Store closed")

	return nil
}

// View opens the store, runs fn and closes the store again, also when fn
// panics.
func (s *Store) View(ctx context.Context, fn func(*Store) error) (err error) {
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("Failed to close store")
			if err == nil {
				err = closeErr
			}
		}
	}()

	return fn(s)
}

// IsOpen reports whether the medium is attached.
func (s *Store) IsOpen() bool {
	return s.region != nil
}

// Epoch returns the epoch used to date slots.
func (s *Store) Epoch() record.Epoch {
	return s.epoch
}

// RecordAt decodes the slot at index modulo SlotCount. Negative indices wrap
// around to the end of the region. It returns false for uninitialized or
// unreadable slots and when the store is closed.
func (s *Store) RecordAt(index int) (record.Record, bool) {
	data, ok := s.slotBytes(index)
	if !ok {
		return record.Record{}, false
	}

	return record.Decode(data, s.epoch)
}

// SlotAt returns the raw slot at index modulo SlotCount.
func (s *Store) SlotAt(index int) (record.Slot, error) {
	data, ok := s.slotBytes(index)
	if !ok {
		if s.region == nil {
			return record.Slot{}, errors.New().New(ErrStoreClosed)
		}
		return record.Slot{}, errors.New().WithData(record.ErrMalformedSlot, index)
	}

	return record.ParseSlot(data)
}

func (s *Store) slotBytes(index int) ([]byte, bool) {
	if s.region == nil {
		return nil, false
	}

	slot := int(record.FloorMod(int64(index), SlotCount))
	data := s.region.Bytes()

	start := HeaderSize + slot*SlotSize
	if start >= len(data) {
		return nil, false
	}
	end := min(start+SlotSize, len(data))

	return data[start:end], true
}

// IndexFor returns the index of the slot covering t, relative to slot 0.
// The time of slot 0 is cached and read again once t is more than a year
// away from it.
func (s *Store) IndexFor(t time.Time) (int, error) {
	errFactory := errors.New()

	if s.region == nil {
		return 0, errFactory.New(ErrStoreClosed)
	}

	at := t.Unix()
	if !s.hasRef || abs(at-s.refTime) > refWindow {
		first, ok := s.RecordAt(0)
		if !ok {
			return 0, errFactory.New(ErrUninitializedStore)
		}

		s.logger.Debug().
			Time("previous", time.Unix(s.refTime, 0)).
			Time("current", first.Time).
			Msg("Reference time updated")

		s.refTime = first.Time.Unix()
		s.hasRef = true
	}

	return int(record.FloorDiv(at-s.refTime, record.IntervalSeconds)), nil
}

// RecordNear decodes the slot covering t.
func (s *Store) RecordNear(t time.Time) (record.Record, bool, error) {
	index, err := s.IndexFor(t)
	if err != nil {
		return record.Record{}, false, err
	}

	r, ok := s.RecordAt(index)

	return r, ok, nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}

	return x
}
