package record

import "time"

// deviceEpochSlots is the device's slot count between its own epoch and
// local midnight of 2016-01-01.
const deviceEpochSlots = 16854881

// Epoch maps slot time offsets to absolute time. The device counts in local
// time, so the epoch depends on the zone the monitor was set up in.
type Epoch struct {
	base int64 // unix seconds of time offset 0
}

// NewEpoch returns the device epoch for loc.
func NewEpoch(loc *time.Location) Epoch {
	if loc == nil {
		loc = time.Local
	}
	ref := time.Date(2016, time.January, 1, 0, 0, 0, 0, loc).Unix()

	return Epoch{base: ref + deviceEpochSlots*IntervalSeconds}
}

// EpochAt returns an epoch whose time offset 0 falls on t.
func EpochAt(t time.Time) Epoch {
	return Epoch{base: t.Unix()}
}

// Time returns the start of the slot with the given time offset.
func (e Epoch) Time(offset int32) time.Time {
	return time.Unix(e.base+int64(offset)*IntervalSeconds, 0)
}

// Offset returns the time offset of the slot containing t.
func (e Epoch) Offset(t time.Time) int32 {
	//nolint:gosec // G115: device offsets fit in int32 by construction
	return int32(FloorDiv(t.Unix()-e.base, IntervalSeconds))
}

// FloorDiv divides rounding towards negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}

// FloorMod is the remainder matching FloorDiv; its sign follows b.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}

	return m
}
