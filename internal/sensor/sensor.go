// Package sensor turns cached window aggregates into display values.
package sensor

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/record"
)

// Type selects the record field a sensor reports.
type Type string

const (
	Consumption Type = "consumption"
	Cost        Type = "cost"
	Generation  Type = "generation"
	Gain        Type = "gain"
	Temp1       Type = "temp1"
	Temp2       Type = "temp2"
)

// Unit is a normalized unit of measurement.
type Unit string

const (
	KilowattHour Unit = "kWh"
	Kilowatt     Unit = "kW"
	Celsius      Unit = "°C"
	Fahrenheit   Unit = "°F"
)

// slotsPerHour converts a per-slot energy into average power.
const slotsPerHour = 4

// Types lists every supported sensor type.
func Types() []Type {
	return []Type{Consumption, Cost, Generation, Gain, Temp1, Temp2}
}

// Sensor reports one field of the aggregate over Count slots.
type Sensor struct {
	Name  string
	Count int
	Type  Type
	Unit  Unit
}

// New validates a sensor definition and normalizes its unit. A count of zero
// means a single slot.
func New(name string, count int, typ, unit string) (Sensor, error) {
	if count == 0 {
		count = 1
	}

	s := Sensor{
		Name:  strings.TrimSpace(name),
		Count: count,
		Type:  Type(strings.ToLower(strings.TrimSpace(typ))),
		Unit:  Unit(strings.TrimSpace(unit)),
	}
	if err := s.Validate(); err != nil {
		return Sensor{}, err
	}
	s.Unit, _ = normalizeUnit(s.Type, string(s.Unit))

	return s, nil
}

// Validate checks that the sensor can be evaluated.
func (s Sensor) Validate() error {
	errFactory := errors.New()

	if s.Name == "" {
		return errFactory.WithMessage(errors.ErrInvalidSensor, "sensor name must not be empty")
	}
	if s.Count < 1 {
		return errFactory.WithMessage(errors.ErrInvalidSensor,
			fmt.Sprintf("sensor %q: integration count must be positive, got %d", s.Name, s.Count))
	}
	if !slices.Contains(Types(), s.Type) {
		return errFactory.WithMessage(errors.ErrInvalidSensor,
			fmt.Sprintf("sensor %q: unknown type %q", s.Name, s.Type))
	}
	if _, ok := normalizeUnit(s.Type, string(s.Unit)); !ok {
		return errFactory.WithMessage(errors.ErrInvalidSensor,
			fmt.Sprintf("sensor %q: unit %q not supported for %s", s.Name, s.Unit, s.Type))
	}

	return nil
}

func normalizeUnit(typ Type, unit string) (Unit, bool) {
	switch typ {
	case Consumption, Generation:
		switch strings.ToLower(unit) {
		case "kwh":
			return KilowattHour, true
		case "kw":
			return Kilowatt, true
		}
	case Temp1, Temp2:
		switch strings.TrimPrefix(strings.ToUpper(unit), "°") {
		case "C", "":
			return Celsius, true
		case "F":
			return Fahrenheit, true
		}
	case Cost, Gain:
		// any currency label
		return Unit(unit), true
	}

	return "", false
}

// Value extracts and rounds the reported quantity from an aggregate over
// s.Count slots.
func (s Sensor) Value(r record.Record) float64 {
	switch s.Type {
	case Consumption:
		return s.energy(r.Consumption)
	case Generation:
		return s.energy(r.Generation)
	case Cost:
		return Round(r.Cost, 2)
	case Gain:
		return Round(r.Gain, 2)
	case Temp1:
		return s.temperature(r.Temp1)
	case Temp2:
		return s.temperature(r.Temp2)
	}

	return math.NaN()
}

func (s Sensor) energy(kwh float64) float64 {
	if s.Unit == Kilowatt {
		return Round(kwh/float64(s.Count)*slotsPerHour, 2)
	}

	switch {
	case kwh < 20:
		return Round(kwh, 2)
	case kwh < 1000:
		return Round(kwh, 1)
	default:
		return Round(kwh, 0)
	}
}

func (s Sensor) temperature(celsius float64) float64 {
	if s.Unit == Fahrenheit {
		return Round(celsius*9/5+32, 1)
	}

	return Round(celsius, 1)
}

// UniqueID identifies the sensor across restarts.
func (s Sensor) UniqueID(mountPoint string) string {
	return fmt.Sprintf("SOLO2-SENSOR-%s-%s-%d", mountPoint, s.Type, s.Count)
}

// ObjectID is UniqueID reduced to characters allowed in MQTT topic levels
// and entity ids.
func (s Sensor) ObjectID(mountPoint string) string {
	id := strings.ToLower(s.UniqueID(mountPoint))

	var b strings.Builder
	underscore := false
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// DeviceClass is the Home Assistant device class for the sensor.
func (s Sensor) DeviceClass() string {
	switch s.Type {
	case Consumption, Generation:
		if s.Unit == Kilowatt {
			return "power"
		}
		return "energy"
	case Cost, Gain:
		return "monetary"
	case Temp1, Temp2:
		return "temperature"
	}

	return ""
}

// StateClass is the Home Assistant state class for the sensor.
func (s Sensor) StateClass() string {
	switch s.DeviceClass() {
	case "energy", "monetary":
		return "total"
	}

	return "measurement"
}

// Round rounds v to places decimals, halves away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
