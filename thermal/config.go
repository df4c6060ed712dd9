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

package thermal

import "errors"

const ConfigKey = "thermal"

// Config is the thermal section of the config file.
type Config struct {
	OptimalTemperature float64 `mapstructure:"optimal-temperature"`
	MinTemperature     float64 `mapstructure:"min-temperature"`
	MaxTemperature     float64 `mapstructure:"max-temperature"`

	Kp float64 `mapstructure:"kp"`
	Ki float64 `mapstructure:"ki"`
	Kd float64 `mapstructure:"kd"`

	// Sample period used for the rate, prediction and integral terms.
	SamplePeriod float64 `mapstructure:"sample-period"`
	HistorySize  int     `mapstructure:"history-size"`
	RateWindow   int     `mapstructure:"rate-window"`

	MinFanSpeed float64 `mapstructure:"min-fan-speed"`
	MaxFanSpeed float64 `mapstructure:"max-fan-speed"`
}

func DefaultConfig() Config {
	return Config{
		OptimalTemperature: 25,
		MinTemperature:     15,
		MaxTemperature:     45,
		Kp:                 10,
		Ki:                 0.1,
		Kd:                 2,
		SamplePeriod:       0.1,
		HistorySize:        100,
		RateWindow:         10,
		MinFanSpeed:        0,
		MaxFanSpeed:        100,
	}
}

func (c Config) Validate() error {
	if c.SamplePeriod <= 0 {
		return errors.New("sample-period must be positive")
	}
	if c.MinTemperature >= c.MaxTemperature {
		return errors.New("min-temperature must be below max-temperature")
	}
	if c.OptimalTemperature < c.MinTemperature || c.OptimalTemperature > c.MaxTemperature {
		return errors.New("optimal-temperature must be within the min and max temperatures")
	}
	if c.HistorySize < 2 || c.RateWindow < 2 {
		return errors.New("history-size and rate-window must be at least 2")
	}
	if c.RateWindow > c.HistorySize {
		return errors.New("rate-window can't be larger than history-size")
	}
	if c.MinFanSpeed < 0 || c.MaxFanSpeed > 100 || c.MinFanSpeed >= c.MaxFanSpeed {
		return errors.New("fan speed limits must satisfy 0 <= min < max <= 100")
	}
	return nil
}
