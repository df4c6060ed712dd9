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

package safety

import (
	"errors"
	"fmt"
	"time"
)

const ConfigKey = "safety"

// ChannelLimits are the nested bands for one measured channel. From the
// outside in: absolute, critical, warning.
type ChannelLimits struct {
	AbsoluteMin float64 `mapstructure:"absolute-min"`
	AbsoluteMax float64 `mapstructure:"absolute-max"`
	CriticalMin float64 `mapstructure:"critical-min"`
	CriticalMax float64 `mapstructure:"critical-max"`
	WarningMin  float64 `mapstructure:"warning-min"`
	WarningMax  float64 `mapstructure:"warning-max"`
	Hysteresis  float64 `mapstructure:"hysteresis"`
}

func (l ChannelLimits) validate() error {
	if !(l.AbsoluteMin <= l.CriticalMin && l.CriticalMin <= l.WarningMin &&
		l.WarningMin < l.WarningMax && l.WarningMax <= l.CriticalMax && l.CriticalMax <= l.AbsoluteMax) {
		return errors.New("limits must nest as absolute <= critical <= warning")
	}
	if l.Hysteresis < 0 {
		return errors.New("hysteresis can't be negative")
	}
	return nil
}

// RateLimits are the maximum changes per second before a rate alarm.
type RateLimits struct {
	Voltage     float64 `mapstructure:"voltage"`
	Current     float64 `mapstructure:"current"`
	Temperature float64 `mapstructure:"temperature"`
}

// Config is the safety section of the config file.
type Config struct {
	Voltage       ChannelLimits `mapstructure:"voltage"`
	Current       ChannelLimits `mapstructure:"current"`
	Temperature   ChannelLimits `mapstructure:"temperature"`
	StateOfCharge ChannelLimits `mapstructure:"state-of-charge"`
	MaxRates      RateLimits    `mapstructure:"max-rates"`

	MaxConsecutiveFaults int           `mapstructure:"max-consecutive-faults"`
	FaultResetWindow     time.Duration `mapstructure:"fault-reset-window"`
}

func DefaultConfig() Config {
	return Config{
		Voltage: ChannelLimits{
			AbsoluteMin: 2.5, AbsoluteMax: 4.3,
			CriticalMin: 2.8, CriticalMax: 4.2,
			WarningMin: 3.0, WarningMax: 4.1,
			Hysteresis: 0.05,
		},
		Current: ChannelLimits{
			AbsoluteMin: -150, AbsoluteMax: 150,
			CriticalMin: -100, CriticalMax: 100,
			WarningMin: -80, WarningMax: 80,
			Hysteresis: 2,
		},
		Temperature: ChannelLimits{
			AbsoluteMin: -20, AbsoluteMax: 60,
			CriticalMin: 0, CriticalMax: 55,
			WarningMin: 10, WarningMax: 45,
			Hysteresis: 2,
		},
		StateOfCharge: ChannelLimits{
			AbsoluteMin: 2, AbsoluteMax: 100,
			CriticalMin: 5, CriticalMax: 98,
			WarningMin: 10, WarningMax: 95,
			Hysteresis: 1,
		},
		MaxRates: RateLimits{
			Voltage:     0.5,
			Current:     50,
			Temperature: 1,
		},
		MaxConsecutiveFaults: 3,
		FaultResetWindow:     time.Hour,
	}
}

func (c Config) Validate() error {
	channels := []struct {
		name   string
		limits ChannelLimits
	}{
		{"voltage", c.Voltage},
		{"current", c.Current},
		{"temperature", c.Temperature},
		{"state-of-charge", c.StateOfCharge},
	}
	for _, ch := range channels {
		if err := ch.limits.validate(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	if c.MaxRates.Voltage <= 0 || c.MaxRates.Current <= 0 || c.MaxRates.Temperature <= 0 {
		return errors.New("max-rates must be positive")
	}
	if c.MaxConsecutiveFaults < 1 {
		return errors.New("max-consecutive-faults must be at least 1")
	}
	if c.FaultResetWindow <= 0 {
		return errors.New("fault-reset-window must be positive")
	}
	return nil
}
