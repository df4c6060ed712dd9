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

// Package thermal computes the cooling command from the estimated battery
// state using a one step temperature prediction and a PID law.
package thermal

import (
	"fmt"
	"math"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/rolling"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sirupsen/logrus"
)

// Heat model coefficients.
const (
	jouleCoefficient   = 0.01
	socHeatCoefficient = 0.005
	coolingCoefficient = 0.1
)

// Controller holds the temperature history for one battery.
// It is not safe for concurrent use.
type Controller struct {
	config  Config
	log     *logrus.Entry
	history *rolling.Window

	failSafes int
}

func New(config Config, log *logging.Logger) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thermal config: %w", err)
	}
	return &Controller{
		config:  config,
		log:     logging.Component(log, ConfigKey),
		history: rolling.NewWindow(config.HistorySize),
	}, nil
}

// FailSafeControl runs the fan flat out and marks the prediction as invalid.
func FailSafeControl(config Config) measurement.ThermalControl {
	return measurement.ThermalControl{
		FanSpeed:          config.MaxFanSpeed,
		TargetTemperature: config.OptimalTemperature,
		PredictionValid:   false,
		TemperatureRate:   0,
		FailSafe:          true,
	}
}

// Control computes the cooling command for one cycle. It never fails: bad
// input or an internal error returns FailSafeControl.
func (c *Controller) Control(temperature, current, soc float64) (out measurement.ThermalControl) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("Recovered from panic in thermal control: %v", r)
			out = c.failSafe()
		}
	}()

	if !finite(temperature) || !finite(current) || !finite(soc) {
		c.log.Warnf("Non-finite thermal input (T: %v, I: %v, SOC: %v), running fan at maximum", temperature, current, soc)
		return c.failSafe()
	}

	cfg := c.config
	dt := cfg.SamplePeriod
	c.history.Add(temperature)

	rate := c.history.MeanDiff(cfg.RateWindow) / dt
	predicted := c.Predict(temperature, current, soc)

	errTerm := temperature - cfg.OptimalTemperature
	derivative := (predicted - temperature) / dt
	integral := c.history.SumOffset(cfg.OptimalTemperature) * dt
	fan := cfg.Kp*errTerm + cfg.Ki*integral + cfg.Kd*derivative
	fan = measurement.Clamp(fan, cfg.MinFanSpeed, cfg.MaxFanSpeed)

	// Hard limits take precedence over the control law.
	if temperature >= cfg.MaxTemperature {
		fan = cfg.MaxFanSpeed
	} else if temperature <= cfg.MinTemperature {
		fan = cfg.MinFanSpeed
	}

	out = measurement.ThermalControl{
		FanSpeed:             fan,
		TargetTemperature:    cfg.OptimalTemperature,
		PredictedTemperature: predicted,
		PredictionValid:      true,
		TemperatureRate:      rate,
	}
	if !finite(fan) || !finite(predicted) || !finite(rate) {
		c.log.Warn("Thermal control produced a non-finite output, running fan at maximum")
		return c.failSafe()
	}
	c.log.Debugf("T: %.2f, predicted: %.2f, rate: %.3f, fan: %.1f", temperature, predicted, rate, fan)
	return out
}

// Predict returns the temperature expected one sample period ahead.
func (c *Controller) Predict(temperature, current, soc float64) float64 {
	heatGen := jouleCoefficient*current*current + socHeatCoefficient*soc
	cooling := -coolingCoefficient * (temperature - c.config.OptimalTemperature)
	return temperature + (heatGen+cooling)*c.config.SamplePeriod
}

func (c *Controller) failSafe() measurement.ThermalControl {
	c.failSafes++
	return FailSafeControl(c.config)
}

// FailSafes counts how many cycles returned the fail-safe control.
func (c *Controller) FailSafes() int {
	return c.failSafes
}

// History returns a copy of the temperature history, oldest first.
func (c *Controller) History() []float64 {
	return c.history.Values()
}

func (c *Controller) Config() Config {
	return c.config
}

// Reset clears the temperature history.
func (c *Controller) Reset() {
	c.history.Reset()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
