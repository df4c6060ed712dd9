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

package optimizer

import "errors"

const ConfigKey = "optimizer"

// Band is one SOC band of the charge current table as a fraction of
// MaxCurrent.
type Band struct {
	AboveSOC float64 `mapstructure:"above-soc"`
	Fraction float64 `mapstructure:"fraction"`
}

// Derate applies Multiplier when the temperature is above AboveTemperature.
type Derate struct {
	AboveTemperature float64 `mapstructure:"above-temperature"`
	Multiplier       float64 `mapstructure:"multiplier"`
}

// Config is the optimizer section of the config file.
type Config struct {
	MaxCurrent float64 `mapstructure:"max-current"`
	MaxVoltage float64 `mapstructure:"max-voltage"`

	// HighSOC applies strictly above its SOC, MidSOC from its SOC up to and
	// including HighSOC. Below MidSOC the full MaxCurrent is used.
	HighSOC Band `mapstructure:"high-soc"`
	MidSOC  Band `mapstructure:"mid-soc"`

	HotDerate  Derate `mapstructure:"hot-derate"`
	WarmDerate Derate `mapstructure:"warm-derate"`

	VoltageMultiplier float64 `mapstructure:"voltage-multiplier"`
}

func DefaultConfig() Config {
	return Config{
		MaxCurrent:        100,
		MaxVoltage:        4.2,
		HighSOC:           Band{AboveSOC: 80, Fraction: 0.5},
		MidSOC:            Band{AboveSOC: 60, Fraction: 0.7},
		HotDerate:         Derate{AboveTemperature: 40, Multiplier: 0.5},
		WarmDerate:        Derate{AboveTemperature: 35, Multiplier: 0.7},
		VoltageMultiplier: 0.3,
	}
}

func (c Config) Validate() error {
	if c.MaxCurrent <= 0 {
		return errors.New("max-current must be positive")
	}
	if c.MaxVoltage <= 0 {
		return errors.New("max-voltage must be positive")
	}
	if c.MidSOC.AboveSOC >= c.HighSOC.AboveSOC {
		return errors.New("mid-soc must start below high-soc")
	}
	if c.WarmDerate.AboveTemperature >= c.HotDerate.AboveTemperature {
		return errors.New("warm-derate must start below hot-derate")
	}
	for _, f := range []float64{c.HighSOC.Fraction, c.MidSOC.Fraction, c.HotDerate.Multiplier, c.WarmDerate.Multiplier, c.VoltageMultiplier} {
		if f < 0 || f > 1 {
			return errors.New("fractions and multipliers must be within [0, 1]")
		}
	}
	return nil
}
