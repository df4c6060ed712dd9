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

// Package bms runs the per-cycle estimation, safety and control loop for one
// or more batteries.
package bms

import (
	"github.com/TheCacophonyProject/tc2-bms-controller/estimator"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/TheCacophonyProject/tc2-bms-controller/optimizer"
	"github.com/TheCacophonyProject/tc2-bms-controller/safety"
	"github.com/TheCacophonyProject/tc2-bms-controller/thermal"
	"github.com/sirupsen/logrus"
)

// Cycle is everything decided for one raw sample.
type Cycle struct {
	Raw     measurement.RawSample          `json:"raw"`
	State   measurement.BatteryState       `json:"state"`
	Result  measurement.OptimizationResult `json:"result"`
	Verdict measurement.SafetyVerdict      `json:"verdict"`
	// Err is set when the safety check rejected the cycle.
	Err error `json:"-"`
}

// Device owns the component instances for one battery.
// It is not safe for concurrent use, see Fleet.
type Device struct {
	config    Config
	log       *logrus.Entry
	estimator *estimator.Estimator
	thermal   *thermal.Controller
	monitor   *safety.Monitor
	optimizer *optimizer.Optimizer

	cycles int
}

func NewDevice(config Config, log *logging.Logger) (*Device, error) {
	log = logging.OrDefault(log)
	est, err := estimator.New(config.Estimator, log)
	if err != nil {
		return nil, err
	}
	ctl, err := thermal.New(config.Thermal, log)
	if err != nil {
		return nil, err
	}
	mon, err := safety.New(config.Safety, log)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(config.Optimizer, est, ctl, log)
	if err != nil {
		return nil, err
	}
	return &Device{
		config:    config,
		log:       logging.Component(log, "bms"),
		estimator: est,
		thermal:   ctl,
		monitor:   mon,
		optimizer: opt,
	}, nil
}

// Step runs one cycle: estimate, check safety on the raw values, then plan.
// A degraded operating state or a rejected check overrides the plan with
// zero current and full cooling.
func (d *Device) Step(raw measurement.RawSample) Cycle {
	d.cycles++
	state := d.estimator.Estimate(raw)

	meas := measurement.Measurements{
		Voltage:       raw.Voltage,
		Current:       raw.Current,
		Temperature:   raw.Temperature,
		StateOfCharge: raw.SOC(state.StateOfCharge),
		Timestamp:     raw.Timestamp,
	}
	verdict, err := d.monitor.CheckSafety(meas)
	result := d.optimizer.Plan(state)

	if err != nil || verdict.OperatingState.Degraded() {
		result = d.failSafe(result)
		if err != nil {
			d.log.Warnf("Safety check rejected cycle %d, failing safe: %v", d.cycles, err)
		} else {
			d.log.Debugf("Operating state is %s, failing safe", verdict.OperatingState)
		}
	}

	return Cycle{
		Raw:     raw,
		State:   state,
		Result:  result,
		Verdict: verdict,
		Err:     err,
	}
}

func (d *Device) failSafe(result measurement.OptimizationResult) measurement.OptimizationResult {
	result.OptimalCurrent = 0
	result.ThermalControl.FanSpeed = d.config.Thermal.MaxFanSpeed
	result.FailSafe = true
	return result
}

// Reset clears all history, counters and the safety latch.
func (d *Device) Reset() {
	d.estimator.Reset()
	d.thermal.Reset()
	d.monitor.Reset()
	d.cycles = 0
}

// Stats are counters describing how a device has been running.
type Stats struct {
	Cycles            int                        `json:"cycles"`
	EstimateFallbacks int                        `json:"estimate_fallbacks"`
	ThermalFailSafes  int                        `json:"thermal_fail_safes"`
	SOCTrend          float64                    `json:"soc_trend"`
	OperatingState    measurement.OperatingState `json:"operating_state"`
	Faults            measurement.FaultCounters  `json:"faults"`
}

func (d *Device) Stats() Stats {
	return Stats{
		Cycles:            d.cycles,
		EstimateFallbacks: d.estimator.Fallbacks(),
		ThermalFailSafes:  d.thermal.FailSafes(),
		SOCTrend:          d.estimator.SOCTrend(),
		OperatingState:    d.monitor.State(),
		Faults:            d.monitor.Counters(),
	}
}
