/*
tc2-bms-controller - Battery management estimation and control
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package measurement holds the data shapes passed between the estimator,
// thermal controller, safety monitor and optimizer.
package measurement

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidMeasurement is returned when measurements are missing a required
// field or hold a value outside the declared physical range.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Declared physical ranges. Anything outside these can't come from a real
// sensor and is rejected rather than clamped.
const (
	MinDeclaredVoltage     = 0.0
	MaxDeclaredVoltage     = 10.0
	MinDeclaredCurrent     = -500.0
	MaxDeclaredCurrent     = 500.0
	MinDeclaredTemperature = -50.0
	MaxDeclaredTemperature = 150.0
	MinDeclaredSOC         = 0.0
	MaxDeclaredSOC         = 100.0
)

// RawSample is a single reading from the measurement source.
// Positive current is charging.
type RawSample struct {
	Voltage       float64   `json:"voltage"`
	Current       float64   `json:"current"`
	Temperature   float64   `json:"temperature"`
	StateOfCharge *float64  `json:"state_of_charge,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// HasSOC reports whether the sample carries its own state of charge.
func (r RawSample) HasSOC() bool {
	return r.StateOfCharge != nil
}

// SOC returns the sample's state of charge, or fallback when it has none.
func (r RawSample) SOC(fallback float64) float64 {
	if r.StateOfCharge == nil {
		return fallback
	}
	return *r.StateOfCharge
}

// WithSOC returns a copy of the sample carrying soc.
func (r RawSample) WithSOC(soc float64) RawSample {
	r.StateOfCharge = &soc
	return r
}

// Finite reports whether every numeric field is a real number.
func (r RawSample) Finite() bool {
	if !finite(r.Voltage) || !finite(r.Current) || !finite(r.Temperature) {
		return false
	}
	return r.StateOfCharge == nil || finite(*r.StateOfCharge)
}

// FilteredSample is the recursive filter output for one RawSample.
type FilteredSample struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Temperature float64 `json:"temperature"`
}

// Health is the composite health model of the battery.
type Health struct {
	StateOfHealth    float64 `json:"state_of_health"`
	VoltageHealth    float64 `json:"voltage_health"`
	ResistanceHealth float64 `json:"resistance_health"`
}

// BatteryState is the trusted battery state produced once per estimation cycle.
type BatteryState struct {
	Voltage            float64   `json:"voltage"`
	Current            float64   `json:"current"`
	Temperature        float64   `json:"temperature"`
	StateOfCharge      float64   `json:"state_of_charge"`
	Health             Health    `json:"health"`
	InternalResistance float64   `json:"internal_resistance"`
	Timestamp          time.Time `json:"timestamp"`
}

// Finite reports whether the fields used as controller inputs are real numbers.
func (s BatteryState) Finite() bool {
	return finite(s.Voltage) && finite(s.Current) && finite(s.Temperature) && finite(s.StateOfCharge)
}

// Sample turns the state back into a raw sample, carrying its SOC.
func (s BatteryState) Sample() RawSample {
	return RawSample{
		Voltage:     s.Voltage,
		Current:     s.Current,
		Temperature: s.Temperature,
		Timestamp:   s.Timestamp,
	}.WithSOC(s.StateOfCharge)
}

// ThermalControl is the cooling command for one cycle.
// PredictionValid is false when the controller fell back to its fail-safe
// output and PredictedTemperature carries no meaning.
type ThermalControl struct {
	FanSpeed             float64 `json:"fan_speed"`
	TargetTemperature    float64 `json:"target_temperature"`
	PredictedTemperature float64 `json:"predicted_temperature"`
	PredictionValid      bool    `json:"prediction_valid"`
	TemperatureRate      float64 `json:"temperature_rate"`
	FailSafe             bool    `json:"fail_safe,omitempty"`
}

// OptimizationResult is the combined decision of one optimizer cycle.
type OptimizationResult struct {
	OptimalCurrent float64        `json:"optimal_current"`
	ThermalControl ThermalControl `json:"thermal_control"`
	State          BatteryState   `json:"state"`
	FailSafe       bool           `json:"fail_safe,omitempty"`
}

// Measurements is the strongly typed input to the safety monitor.
// Use NewMeasurements to build one; the zero value is invalid.
type Measurements struct {
	Voltage       float64   `json:"voltage"`
	Current       float64   `json:"current"`
	Temperature   float64   `json:"temperature"`
	StateOfCharge float64   `json:"state_of_charge"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewMeasurements validates and builds Measurements.
func NewMeasurements(voltage, current, temperature, soc float64, ts time.Time) (Measurements, error) {
	m := Measurements{
		Voltage:       voltage,
		Current:       current,
		Temperature:   temperature,
		StateOfCharge: soc,
		Timestamp:     ts,
	}
	return m, m.Validate()
}

// Validate checks required fields and declared ranges.
func (m Measurements) Validate() error {
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidMeasurement)
	}
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"voltage", m.Voltage, MinDeclaredVoltage, MaxDeclaredVoltage},
		{"current", m.Current, MinDeclaredCurrent, MaxDeclaredCurrent},
		{"temperature", m.Temperature, MinDeclaredTemperature, MaxDeclaredTemperature},
		{"state_of_charge", m.StateOfCharge, MinDeclaredSOC, MaxDeclaredSOC},
	}
	for _, c := range checks {
		if !finite(c.value) {
			return fmt.Errorf("%w: %s is not a number", ErrInvalidMeasurement, c.name)
		}
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("%w: %s %.3f outside [%.1f, %.1f]", ErrInvalidMeasurement, c.name, c.value, c.min, c.max)
		}
	}
	return nil
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
