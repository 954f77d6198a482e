// Package aggregate sums consecutive slots into window totals.
package aggregate

import (
	"time"

	"codeberg.org/mutker/solo2d/internal/record"
)

// Source resolves times to slot indices and reads slots.
type Source interface {
	IndexFor(t time.Time) (int, error)
	RecordAt(index int) (record.Record, bool)
}

// Coverage tells how many slots of a window held data.
type Coverage struct {
	Present int
	Window  int
}

// Missing is the number of slots that were extrapolated.
func (c Coverage) Missing() int {
	return c.Window - c.Present
}

// Ratio is the share of the window backed by real slots.
func (c Coverage) Ratio() float64 {
	if c.Window == 0 {
		return 0
	}

	return float64(c.Present) / float64(c.Window)
}

// Aggregate combines the window slots ending at the slot covering at.
//
// Consumption, cost, generation and gain are window totals. Slots that were
// never written are filled in with the average of the slots that were.
// Temperatures are the average of the written slots only. The result is
// dated at. It returns false when window < 1 or no slot in the window holds
// data.
func Aggregate(src Source, at time.Time, window int) (record.Record, bool, error) {
	r, cov, err := AggregateWithCoverage(src, at, window)
	if err != nil {
		return record.Record{}, false, err
	}

	return r, cov.Present > 0, nil
}

// AggregateWithCoverage is Aggregate, also reporting the coverage.
func AggregateWithCoverage(src Source, at time.Time, window int) (record.Record, Coverage, error) {
	if window < 1 {
		return record.Record{}, Coverage{}, nil
	}

	last, err := src.IndexFor(at)
	if err != nil {
		return record.Record{}, Coverage{}, err
	}

	var sum record.Record
	count := 0
	for i := last; i > last-window; i-- {
		r, ok := src.RecordAt(i)
		if !ok {
			continue
		}

		sum.Consumption += r.Consumption
		sum.Cost += r.Cost
		sum.Generation += r.Generation
		sum.Gain += r.Gain
		sum.Temp1 += r.Temp1
		sum.Temp2 += r.Temp2
		count++
	}

	cov := Coverage{Present: count, Window: window}
	if count == 0 {
		return record.Record{}, cov, nil
	}

	if missing := cov.Missing(); missing > 0 {
		n := float64(count)
		m := float64(missing)
		sum.Consumption += sum.Consumption / n * m
		sum.Cost += sum.Cost / n * m
		sum.Generation += sum.Generation / n * m
		sum.Gain += sum.Gain / n * m
	}

	return record.Record{
		Time:        at,
		Consumption: sum.Consumption,
		Cost:        sum.Cost,
		Generation:  sum.Generation,
		Gain:        sum.Gain,
		Temp1:       sum.Temp1 / float64(count),
		Temp2:       sum.Temp2 / float64(count),
	}, cov, nil
}
