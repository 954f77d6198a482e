// Package record decodes the fixed-size slots of the Solo II record file.
//
// A slot covers one 15 minute interval. Slots are laid out with a 32 byte
// stride; the first PayloadSize bytes carry data, little-endian, no padding:
//
//	offset  width  field
//	0       int32  time offset in 15 minute units (-1: never written)
//	4       uint32 consumption, Wh
//	8       uint16 unused
//	10      uint16 cost rate, 1/1000 currency per kWh
//	12      uint16 generation, Wh
//	14      uint16 gain rate, 1/1000 currency per kWh
//	16      uint32 generation gain accumulator
//	20      uint16 reserved
//	22      uint8  reserved
//	23      uint8  temp2, half degrees offset by 60
//	24      uint8  temp1, half degrees offset by 60
//	25      uint8  reserved
package record

import (
	"encoding/binary"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
)

const (
	// SlotSize is the stride between consecutive slots.
	SlotSize = 0x20
	// PayloadSize is the number of meaningful bytes at the start of a slot.
	PayloadSize = 0x1a

	// Interval is the time covered by one slot.
	Interval = 15 * time.Minute
	// IntervalSeconds is Interval in seconds.
	IntervalSeconds = 900

	uninitialized = -1
	tempBias      = 60
	milli         = 1000
)

// Field offsets within a slot
const (
	offTimeOffset  = 0
	offConsumption = 4
	offUnused      = 8
	offCostRate    = 10
	offGeneration  = 12
	offGainRate    = 14
	offAccumulator = 16
	offReserved    = 20
	offFlags       = 22
	offTemp2       = 23
	offTemp1       = 24
	offSpare       = 25
)

// Slot is the raw content of one slot.
type Slot struct {
	TimeOffset  int32
	Consumption uint32
	Unused      uint16
	CostRate    uint16
	Generation  uint16
	GainRate    uint16
	Accumulator uint32
	Reserved    uint16
	Flags       uint8
	Temp2       uint8
	Temp1       uint8
	Spare       uint8
}

// Initialized reports whether the device has ever written this slot.
func (s Slot) Initialized() bool {
	return s.TimeOffset != uninitialized
}

// Record is a decoded reading, or an aggregate over several readings.
type Record struct {
	Time        time.Time
	Consumption float64 // kWh
	Cost        float64
	Generation  float64 // kWh
	Gain        float64
	Temp1       float64 // °C
	Temp2       float64 // °C
}

// ParseSlot unpacks the raw fields of a slot.
func ParseSlot(b []byte) (Slot, error) {
	if len(b) < PayloadSize {
		return Slot{}, errors.New().WithData(ErrMalformedSlot, len(b))
	}

	le := binary.LittleEndian

	//nolint:gosec // G115: reinterpreting the on-disk two's complement value
	return Slot{
		TimeOffset:  int32(le.Uint32(b[offTimeOffset:])),
		Consumption: le.Uint32(b[offConsumption:]),
		Unused:      le.Uint16(b[offUnused:]),
		CostRate:    le.Uint16(b[offCostRate:]),
		Generation:  le.Uint16(b[offGeneration:]),
		GainRate:    le.Uint16(b[offGainRate:]),
		Accumulator: le.Uint32(b[offAccumulator:]),
		Reserved:    le.Uint16(b[offReserved:]),
		Flags:       b[offFlags],
		Temp2:       b[offTemp2],
		Temp1:       b[offTemp1],
		Spare:       b[offSpare],
	}, nil
}

// Record converts the raw slot into a reading.
func (s Slot) Record(epoch Epoch) Record {
	consumption := float64(s.Consumption) / milli
	generation := float64(s.Generation) / milli

	return Record{
		Time:        epoch.Time(s.TimeOffset),
		Consumption: consumption,
		Cost:        consumption * (float64(s.CostRate) / milli),
		Generation:  generation,
		Gain:        generation * (float64(s.GainRate) / milli),
		Temp1:       temperature(s.Temp1),
		Temp2:       temperature(s.Temp2),
	}
}

// DecodeStrict decodes a slot and reports why it carries no reading.
func DecodeStrict(b []byte, epoch Epoch) (Record, error) {
	slot, err := ParseSlot(b)
	if err != nil {
		return Record{}, err
	}
	if !slot.Initialized() {
		return Record{}, errors.New().New(ErrUninitializedSlot)
	}

	return slot.Record(epoch), nil
}

// Decode decodes a slot. Uninitialized and truncated slots both yield false.
func Decode(b []byte, epoch Epoch) (Record, bool) {
	r, err := DecodeStrict(b, epoch)
	if err != nil {
		return Record{}, false
	}

	return r, true
}

func temperature(raw uint8) float64 {
	return (float64(raw) - tempBias) / 2
}
