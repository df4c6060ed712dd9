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

// Package optimizer turns a battery state into one decision per cycle: the
// charge/discharge current target and the cooling command.
package optimizer

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sirupsen/logrus"
)

// ErrInvalidState is returned when the state handed to Optimize can't be used.
var ErrInvalidState = errors.New("invalid battery state")

type StateEstimator interface {
	Validate(raw measurement.RawSample) measurement.RawSample
	Estimate(raw measurement.RawSample) measurement.BatteryState
}

type ThermalController interface {
	Control(temperature, current, soc float64) measurement.ThermalControl
}

// Optimizer sequences the estimator and the thermal controller. It holds no
// state of its own but the ones it wraps are per battery.
type Optimizer struct {
	config    Config
	log       *logrus.Entry
	estimator StateEstimator
	thermal   ThermalController
}

func New(config Config, estimator StateEstimator, thermal ThermalController, log *logging.Logger) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	if estimator == nil || thermal == nil {
		return nil, errors.New("optimizer needs an estimator and a thermal controller")
	}
	return &Optimizer{
		config:    config,
		log:       logging.Component(log, ConfigKey),
		estimator: estimator,
		thermal:   thermal,
	}, nil
}

// Optimize validates and re-estimates state, then returns the current target
// and the thermal command for it.
//
// The current target is derived from the validated input state, the thermal
// command from the re-estimated one.
func (o *Optimizer) Optimize(state measurement.BatteryState) (measurement.OptimizationResult, error) {
	if !state.Finite() {
		return measurement.OptimizationResult{}, fmt.Errorf("%w: non-finite field in %+v", ErrInvalidState, state)
	}

	validated := o.estimator.Validate(state.Sample())
	estimated := o.estimator.Estimate(validated)

	current := o.ChargeCurrent(validated.SOC(estimated.StateOfCharge), validated.Temperature, validated.Voltage)
	control := o.thermal.Control(estimated.Temperature, estimated.Current, estimated.StateOfCharge)
	o.log.Debugf("SOC: %.1f, T: %.1f, V: %.3f -> current: %.2f, fan: %.1f",
		validated.SOC(estimated.StateOfCharge), validated.Temperature, validated.Voltage, current, control.FanSpeed)

	return measurement.OptimizationResult{
		OptimalCurrent: current,
		ThermalControl: control,
		State:          estimated,
		FailSafe:       control.FailSafe,
	}, nil
}

// Plan is Optimize for a state that has already been estimated this cycle.
func (o *Optimizer) Plan(state measurement.BatteryState) measurement.OptimizationResult {
	control := o.thermal.Control(state.Temperature, state.Current, state.StateOfCharge)
	current := 0.0
	if state.Finite() {
		current = o.ChargeCurrent(state.StateOfCharge, state.Temperature, state.Voltage)
	} else {
		o.log.Warnf("Non-finite state, holding current at 0: %+v", state)
	}
	return measurement.OptimizationResult{
		OptimalCurrent: current,
		ThermalControl: control,
		State:          state,
		FailSafe:       control.FailSafe || !state.Finite(),
	}
}

// ChargeCurrent applies the SOC band, the temperature derate and the voltage
// cut to the configured maximum current.
func (o *Optimizer) ChargeCurrent(soc, temperature, voltage float64) float64 {
	c := o.config
	current := c.MaxCurrent
	switch {
	case soc > c.HighSOC.AboveSOC:
		current *= c.HighSOC.Fraction
	case soc >= c.MidSOC.AboveSOC:
		current *= c.MidSOC.Fraction
	}

	// Only the stronger derate applies.
	switch {
	case temperature > c.HotDerate.AboveTemperature:
		current *= c.HotDerate.Multiplier
	case temperature > c.WarmDerate.AboveTemperature:
		current *= c.WarmDerate.Multiplier
	}

	if voltage >= c.MaxVoltage {
		current *= c.VoltageMultiplier
	}
	return current
}

func (o *Optimizer) Config() Config {
	return o.config
}
