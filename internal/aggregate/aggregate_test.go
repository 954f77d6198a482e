package aggregate_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/solo2d/internal/aggregate"
	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/store"
	"codeberg.org/mutker/solo2d/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

// slots serves records by index; index 0 covers origin.
type slots struct {
	records map[int]record.Record
	err     error
}

func (s *slots) IndexFor(t time.Time) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	return int(record.FloorDiv(t.Unix()-origin.Unix(), record.IntervalSeconds)), nil
}

func (s *slots) RecordAt(index int) (record.Record, bool) {
	r, ok := s.records[index]
	return r, ok
}

func energy(kwh float64) record.Record {
	return record.Record{
		Consumption: kwh,
		Cost:        kwh * 0.15,
		Generation:  kwh / 2,
		Gain:        kwh / 2 * 0.05,
		Temp1:       20,
		Temp2:       kwh,
	}
}

func TestAggregateExtrapolatesMissingSlots(t *testing.T) {
	// Slots -3 and -2 read 1.0 and 2.0 kWh, -1 and 0 were never written.
	src := &slots{records: map[int]record.Record{
		-3: energy(1),
		-2: energy(2),
	}}

	at := origin.Add(5 * time.Minute)
	r, ok, err := aggregate.Aggregate(src, at, 4)
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, 6.0, r.Consumption, 1e-9)
	assert.InDelta(t, 0.9, r.Cost, 1e-9)
	assert.InDelta(t, 3.0, r.Generation, 1e-9)
	assert.InDelta(t, 0.15, r.Gain, 1e-9)
	assert.InDelta(t, 20.0, r.Temp1, 1e-9)
	assert.InDelta(t, 1.5, r.Temp2, 1e-9, "temperatures average the present slots")
	assert.Equal(t, at, r.Time)
}

func TestAggregateFullWindow(t *testing.T) {
	src := &slots{records: map[int]record.Record{}}
	for i := -5; i <= 0; i++ {
		src.records[i] = energy(0.25)
	}
	src.records[1] = energy(100)

	r, cov, err := aggregate.AggregateWithCoverage(src, origin, 6)
	require.NoError(t, err)
	assert.Equal(t, aggregate.Coverage{Present: 6, Window: 6}, cov)
	assert.Equal(t, 0, cov.Missing())
	assert.InDelta(t, 1.0, cov.Ratio(), 1e-9)
	assert.InDelta(t, 1.5, r.Consumption, 1e-9, "slot after at is not part of the window")
}

func TestAggregateHalfMissing(t *testing.T) {
	// Which half is missing makes no difference to the totals.
	early := &slots{records: map[int]record.Record{-3: energy(1), -2: energy(3)}}
	late := &slots{records: map[int]record.Record{-1: energy(1), 0: energy(3)}}

	a, _, err := aggregate.Aggregate(early, origin, 4)
	require.NoError(t, err)
	b, _, err := aggregate.Aggregate(late, origin, 4)
	require.NoError(t, err)

	assert.InDelta(t, 8.0, a.Consumption, 1e-9)
	assert.InDelta(t, a.Consumption, b.Consumption, 1e-9)
	assert.InDelta(t, a.Temp2, b.Temp2, 1e-9)

	_, cov, err := aggregate.AggregateWithCoverage(early, origin, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, cov.Missing())
	assert.InDelta(t, 0.5, cov.Ratio(), 1e-9)
}

func TestAggregateNothingPresent(t *testing.T) {
	src := &slots{records: map[int]record.Record{5: energy(1), -10: energy(1)}}

	r, ok, err := aggregate.Aggregate(src, origin, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, record.Record{}, r)
}

func TestAggregateInvalidWindow(t *testing.T) {
	src := &slots{records: map[int]record.Record{0: energy(1)}}

	for _, window := range []int{0, -1, -96} {
		_, ok, err := aggregate.Aggregate(src, origin, window)
		require.NoError(t, err)
		assert.False(t, ok, "window %d", window)
	}
}

func TestAggregateIndexError(t *testing.T) {
	src := &slots{err: errors.New().New(store.ErrUninitializedStore)}

	_, ok, err := aggregate.Aggregate(src, origin, 4)
	assert.False(t, ok)
	assert.True(t, errors.HasCode(err, store.ErrUninitializedStore))
}

func TestAggregateStoreSingleSlot(t *testing.T) {
	im := storetest.NewImage()
	im.Fill(0, 500, 20000, func(i int) record.Slot {
		return record.Slot{
			Consumption: uint32(100 * (i%7 + 1)),
			CostRate:    250,
			Generation:  uint16(i % 3 * 40),
			GainRate:    80,
			Temp1:       uint8(70 + i%5),
			Temp2:       uint8(50 + i%9),
		}
	})
	im.Clear(42)

	s := store.New(storetest.NewMedium(im), store.WithEpoch(storetest.Epoch))
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	for _, offset := range []int32{20000, 20010, 20042, 20123, 20499} {
		at := storetest.Epoch.Time(offset).Add(7 * time.Minute)

		want, wantOK, err := s.RecordNear(at)
		require.NoError(t, err)
		got, ok, err := aggregate.Aggregate(s, at, 1)
		require.NoError(t, err)

		require.Equal(t, wantOK, ok, "offset %d", offset)
		if !ok {
			continue
		}
		assert.InDelta(t, want.Consumption, got.Consumption, 1e-9)
		assert.InDelta(t, want.Cost, got.Cost, 1e-9)
		assert.InDelta(t, want.Generation, got.Generation, 1e-9)
		assert.InDelta(t, want.Gain, got.Gain, 1e-9)
		assert.InDelta(t, want.Temp1, got.Temp1, 1e-9)
		assert.InDelta(t, want.Temp2, got.Temp2, 1e-9)
		assert.Equal(t, at, got.Time)
	}
}

func TestAggregateStoreDay(t *testing.T) {
	im := storetest.NewImage()
	im.Fill(0, 200, 30000, func(int) record.Slot {
		return record.Slot{Consumption: 250, CostRate: 200, Temp1: 100, Temp2: 90}
	})
	for i := 150; i < 160; i++ {
		im.Clear(i)
	}

	s := store.New(storetest.NewMedium(im), store.WithEpoch(storetest.Epoch))
	require.NoError(t, s.Open(context.Background()))
	defer s.Close()

	at := storetest.Epoch.Time(30199)
	r, cov, err := aggregate.AggregateWithCoverage(s, at, 96)
	require.NoError(t, err)

	assert.Equal(t, 86, cov.Present)
	assert.InDelta(t, 24.0, r.Consumption, 1e-9)
	assert.InDelta(t, 4.8, r.Cost, 1e-9)
	assert.InDelta(t, 20.0, r.Temp1, 1e-9)
	assert.InDelta(t, 15.0, r.Temp2, 1e-9)
}
