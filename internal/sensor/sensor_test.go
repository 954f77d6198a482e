package sensor_test

import (
	"testing"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNormalizesUnit(t *testing.T) {
	tests := []struct {
		typ, unit string
		want      sensor.Unit
	}{
		{"consumption", "Kwh", sensor.KilowattHour},
		{"consumption", "kWh", sensor.KilowattHour},
		{"consumption", "Kw", sensor.Kilowatt},
		{"generation", "kw", sensor.Kilowatt},
		{"temp1", "C", sensor.Celsius},
		{"temp2", "°F", sensor.Fahrenheit},
		{"temp2", "", sensor.Celsius},
		{"cost", "EUR", sensor.Unit("EUR")},
		{"Gain", " SEK ", sensor.Unit("SEK")},
	}

	for _, tt := range tests {
		s, err := sensor.New("Test", 1, tt.typ, tt.unit)
		require.NoError(t, err, "%s %s", tt.typ, tt.unit)
		assert.Equal(t, tt.want, s.Unit, "%s %s", tt.typ, tt.unit)
	}
}

func TestNewDefaultsCount(t *testing.T) {
	s, err := sensor.New("Power", 0, "consumption", "Kw")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count)
}

func TestNewInvalid(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		typ, unit string
	}{
		{"Humidity", 1, "humidity", "%"},
		{"", 1, "consumption", "kWh"},
		{"Negative", -4, "consumption", "kWh"},
		{"Joules", 1, "consumption", "J"},
		{"Kelvin", 1, "temp1", "K"},
	}

	for _, tt := range tests {
		_, err := sensor.New(tt.name, tt.count, tt.typ, tt.unit)
		require.Error(t, err, "%+v", tt)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidSensor), "%+v", tt)
	}
}

func TestValueConsumptionTiers(t *testing.T) {
	s, err := sensor.New("Consumption", 96, "consumption", "Kwh")
	require.NoError(t, err)

	assert.InDelta(t, 12.35, s.Value(record.Record{Consumption: 12.3456}), 1e-9)
	assert.InDelta(t, 123.5, s.Value(record.Record{Consumption: 123.456}), 1e-9)
	assert.InDelta(t, 1235.0, s.Value(record.Record{Consumption: 1234.56}), 1e-9)
	assert.InDelta(t, 19.99, s.Value(record.Record{Consumption: 19.994}), 1e-9)
}

func TestValuePower(t *testing.T) {
	s, err := sensor.New("Power", 4, "consumption", "Kw")
	require.NoError(t, err)

	// 2 kWh over one hour
	assert.InDelta(t, 2.0, s.Value(record.Record{Consumption: 2}), 1e-9)

	s, err = sensor.New("Power", 1, "consumption", "Kw")
	require.NoError(t, err)
	assert.InDelta(t, 1.23, s.Value(record.Record{Consumption: 0.3071}), 1e-9)
}

func TestValueTemperatures(t *testing.T) {
	r := record.Record{Temp1: 21.26, Temp2: -3.5}

	s, err := sensor.New("Indoor", 1, "temp1", "C")
	require.NoError(t, err)
	assert.InDelta(t, 21.3, s.Value(r), 1e-9)

	s, err = sensor.New("Outdoor", 1, "temp2", "C")
	require.NoError(t, err)
	assert.InDelta(t, -3.5, s.Value(r), 1e-9)

	s, err = sensor.New("Outdoor", 1, "temp2", "F")
	require.NoError(t, err)
	assert.InDelta(t, 25.7, s.Value(r), 1e-9)
}

func TestValueMonetary(t *testing.T) {
	r := record.Record{Cost: 3.14159, Gain: 0.005, Generation: 7.777}

	s, err := sensor.New("Cost", 96, "cost", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 3.14, s.Value(r), 1e-9)

	s, err = sensor.New("Gain", 96, "gain", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, s.Value(r), 1e-9)

	s, err = sensor.New("Solar", 96, "generation", "kWh")
	require.NoError(t, err)
	assert.InDelta(t, 7.78, s.Value(r), 1e-9)
}

func TestUniqueID(t *testing.T) {
	s, err := sensor.New("Consumption 24h", 96, "consumption", "Kwh")
	require.NoError(t, err)

	assert.Equal(t, "SOLO2-SENSOR-/media/SoloII-consumption-96", s.UniqueID("/media/SoloII"))
	assert.Equal(t, "solo2_sensor_media_soloii_consumption_96", s.ObjectID("/media/SoloII"))
}

func TestClasses(t *testing.T) {
	tests := []struct {
		typ, unit  string
		device     string
		stateClass string
	}{
		{"consumption", "kWh", "energy", "total"},
		{"consumption", "kW", "power", "measurement"},
		{"cost", "EUR", "monetary", "total"},
		{"temp1", "C", "temperature", "measurement"},
	}

	for _, tt := range tests {
		s, err := sensor.New("Test", 1, tt.typ, tt.unit)
		require.NoError(t, err)
		assert.Equal(t, tt.device, s.DeviceClass())
		assert.Equal(t, tt.stateClass, s.StateClass())
	}
}

func TestRound(t *testing.T) {
	assert.InDelta(t, 0.13, sensor.Round(0.125, 2), 1e-9)
	assert.InDelta(t, -0.13, sensor.Round(-0.125, 2), 1e-9)
	assert.InDelta(t, 3.0, sensor.Round(2.5, 0), 1e-9)
}
