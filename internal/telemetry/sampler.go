// Package telemetry samples the node's sensors on a fixed interval and
// keeps the last known readings for publication.
package telemetry

import (
	"log/slog"
	"time"
)

// Sensor is one temperature device.
type Sensor interface {
	// Sample performs a synchronous read in degrees Celsius.
	Sample() (float64, error)
}

// Gauge is an analog input, such as the supply-voltage divider.
type Gauge interface {
	Read() (float64, error)
}

// Reading is the last sample of one device. An invalid reading holds
// zero values with Valid false.
type Reading struct {
	TempC float64
	TempF float64
	Valid bool
}

// CelsiusToFahrenheit converts degrees Celsius to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Sampler polls every sensor once per interval. Readings persist
// between ticks: they are the last known values, not fresh ones.
type Sampler struct {
	sensors  []Sensor
	supply   Gauge
	interval time.Duration
	logger   *slog.Logger

	last     time.Time
	sampled  bool
	readings []Reading
	volts    float64
}

// NewSampler creates a sampler over at most maxDevices sensors; any
// beyond that are ignored. supply may be nil.
func NewSampler(sensors []Sensor, supply Gauge, interval time.Duration, maxDevices int, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDevices > 0 && len(sensors) > maxDevices {
		logger.Info("ignoring sensors beyond device limit",
			"found", len(sensors), "limit", maxDevices)
		sensors = sensors[:maxDevices]
	}
	return &Sampler{
		sensors:  sensors,
		supply:   supply,
		interval: interval,
		logger:   logger,
		readings: make([]Reading, len(sensors)),
	}
}

// Due reports whether a sample is due at now. The first call after
// construction is always due.
func (s *Sampler) Due(now time.Time) bool {
	return !s.sampled || now.Sub(s.last) >= s.interval
}

// Tick samples every sensor and the supply gauge when the interval has
// elapsed and reports whether it did. A failed device is recorded as
// invalid; there is no retry within the tick.
func (s *Sampler) Tick(now time.Time) bool {
	if !s.Due(now) {
		return false
	}

	for i, sensor := range s.sensors {
		c, err := sensor.Sample()
		if err != nil {
			s.logger.Warn("sensor read failed", "sensor", i, "error", err)
			s.readings[i] = Reading{}
			continue
		}
		s.readings[i] = Reading{TempC: c, TempF: CelsiusToFahrenheit(c), Valid: true}
	}

	if s.supply != nil {
		v, err := s.supply.Read()
		if err != nil {
			s.logger.Warn("supply read failed", "error", err)
		} else {
			s.volts = v
		}
	}

	s.last = now
	s.sampled = true
	s.logger.Debug("sensors sampled", "devices", len(s.sensors), "supply_v", s.volts)
	return true
}

// Readings returns a copy of the last known readings, one per device.
func (s *Sampler) Readings() []Reading {
	out := make([]Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

// Supply returns the last supply-voltage estimate in volts.
func (s *Sampler) Supply() float64 {
	return s.volts
}
