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

// Package estimator fuses voltage, current and temperature samples into a
// filtered battery state with a state of charge and health estimate.
package estimator

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/rolling"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sirupsen/logrus"
)

var errNonFinite = errors.New("sample has non-finite values")

// Estimator keeps the filter and SOC state for one battery.
// It is not safe for concurrent use.
type Estimator struct {
	config Config
	log    *logrus.Entry

	filter *kalmanFilter
	curve  ocvCurve

	soc        float64
	socKnown   bool
	socHistory *rolling.Window

	last      measurement.BatteryState
	fallbacks int
}

// New creates an estimator. A nil logger gets the default info logger.
func New(config Config, log *logging.Logger) (*Estimator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid estimator config: %w", err)
	}
	return &Estimator{
		config:     config,
		log:        logging.Component(log, ConfigKey),
		filter:     newKalmanFilter(config.ProcessNoise, config.MeasurementNoise),
		curve:      newOCVCurve(config),
		socHistory: rolling.NewWindow(config.HistorySize),
	}, nil
}

// DefaultState is the safe state returned when an estimate can't be trusted:
// nominal voltage, no current, 25C, 50% SOC and full health.
func DefaultState(config Config, ts time.Time) measurement.BatteryState {
	return measurement.BatteryState{
		Voltage:       config.NominalVoltage,
		Current:       0,
		Temperature:   referenceTemperature,
		StateOfCharge: defaultSOC,
		Health: measurement.Health{
			StateOfHealth:    100,
			VoltageHealth:    1,
			ResistanceHealth: 1,
		},
		InternalResistance: config.NominalResistance,
		Timestamp:          ts,
	}
}

// Validate clamps raw into the estimator's input limits.
func (e *Estimator) Validate(raw measurement.RawSample) measurement.RawSample {
	return e.config.Limits.ClampSample(raw)
}

// Estimate runs one estimation cycle. It never fails: on an internal error the
// failure is logged and DefaultState is returned.
func (e *Estimator) Estimate(raw measurement.RawSample) (state measurement.BatteryState) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("Recovered from panic while estimating: %v", r)
			state = e.fallback(raw.Timestamp)
		}
	}()

	state, err := e.estimate(raw)
	if err != nil {
		e.log.Warnf("Estimation failed, using safe default state: %v", err)
		return e.fallback(raw.Timestamp)
	}
	return state
}

func (e *Estimator) estimate(raw measurement.RawSample) (measurement.BatteryState, error) {
	if !raw.Finite() {
		return measurement.BatteryState{}, errNonFinite
	}
	sample := e.Validate(raw)

	filtered, err := e.filter.step(measurement.FilteredSample{
		Voltage:     sample.Voltage,
		Current:     sample.Current,
		Temperature: sample.Temperature,
	})
	if err != nil {
		e.filter.reset()
		return measurement.BatteryState{}, err
	}

	socOCV := e.curve.SOC(filtered.Voltage, filtered.Temperature)
	prev := e.priorSOC(sample, socOCV)
	socCC := CoulombCount(prev, filtered.Current, e.config.SampleIntervalHours, e.config.CapacityAh)
	soc := FuseSOC(socCC, socOCV)

	resistance := EstimateResistance(filtered, e.config.NominalVoltage, e.config.NominalResistance)
	health := EstimateHealth(filtered.Voltage, resistance, e.config.NominalVoltage, e.config.NominalResistance)

	state := measurement.BatteryState{
		Voltage:            filtered.Voltage,
		Current:            filtered.Current,
		Temperature:        filtered.Temperature,
		StateOfCharge:      soc,
		Health:             health,
		InternalResistance: resistance,
		Timestamp:          sample.Timestamp,
	}
	if !state.Finite() {
		return measurement.BatteryState{}, errNonFinite
	}

	e.soc = soc
	e.socKnown = true
	e.socHistory.Add(soc)
	e.last = state

	e.log.Debugf("V: %.3f, I: %.2f, T: %.1f, SOC: %.1f (cc %.1f, ocv %.1f), SOH: %.1f, R: %.3f",
		state.Voltage, state.Current, state.Temperature, soc, socCC, socOCV, health.StateOfHealth, resistance)
	return state, nil
}

// priorSOC picks the starting point for coulomb counting: the sample's own
// SOC, then the previous estimate, then the OCV estimate.
func (e *Estimator) priorSOC(sample measurement.RawSample, socOCV float64) float64 {
	if sample.HasSOC() {
		return *sample.StateOfCharge
	}
	if e.socKnown {
		return e.soc
	}
	return socOCV
}

func (e *Estimator) fallback(ts time.Time) measurement.BatteryState {
	e.fallbacks++
	return DefaultState(e.config, ts)
}

// Last returns the most recent successful estimate.
func (e *Estimator) Last() (measurement.BatteryState, bool) {
	return e.last, e.socKnown
}

// SOCTrend is the mean SOC change per sample over the rolling window.
func (e *Estimator) SOCTrend() float64 {
	return e.socHistory.MeanDiff(e.socHistory.Len())
}

// Fallbacks counts how many estimates returned the safe default.
func (e *Estimator) Fallbacks() int {
	return e.fallbacks
}

// Config returns the estimator's configuration.
func (e *Estimator) Config() Config {
	return e.config
}

// Reset drops the filter, SOC and history state.
func (e *Estimator) Reset() {
	e.filter.reset()
	e.soc = 0
	e.socKnown = false
	e.socHistory.Reset()
	e.last = measurement.BatteryState{}
}
