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

package estimator

import (
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
)

const (
	ConfigKey = "estimator"

	referenceTemperature = 25.0
	defaultSOC           = 50.0
	minResistance        = 0.01
	maxResistance        = 1.0
)

// Limits are the input clamps applied to every raw sample before use.
type Limits struct {
	MinVoltage     float64 `mapstructure:"min-voltage"`
	MaxVoltage     float64 `mapstructure:"max-voltage"`
	MinCurrent     float64 `mapstructure:"min-current"`
	MaxCurrent     float64 `mapstructure:"max-current"`
	MinTemperature float64 `mapstructure:"min-temperature"`
	MaxTemperature float64 `mapstructure:"max-temperature"`
}

// Config is the estimator section of the config file.
type Config struct {
	NominalVoltage      float64 `mapstructure:"nominal-voltage"`
	NominalResistance   float64 `mapstructure:"nominal-resistance"`
	CapacityAh          float64 `mapstructure:"capacity-ah"`
	SampleIntervalHours float64 `mapstructure:"sample-interval-hours"`

	// Volts per degree of deviation from 25C, applied before the OCV lookup.
	OCVTempCoefficient float64 `mapstructure:"ocv-temp-coefficient"`

	// Open circuit voltage curve, voltages ascending.
	OCVVoltages []float64 `mapstructure:"ocv-voltages"`
	OCVPercent  []float64 `mapstructure:"ocv-percent"`

	// Diagonal filter covariances for voltage, current and temperature.
	ProcessNoise     []float64 `mapstructure:"process-noise"`
	MeasurementNoise []float64 `mapstructure:"measurement-noise"`

	HistorySize int    `mapstructure:"history-size"`
	Limits      Limits `mapstructure:"limits"`
}

// DefaultConfig returns the parameters for a single Li-ion cell.
func DefaultConfig() Config {
	return Config{
		NominalVoltage:      3.7,
		NominalResistance:   0.05,
		CapacityAh:          50,
		SampleIntervalHours: 0.1,
		OCVTempCoefficient:  0.0005,
		OCVVoltages:         []float64{3.0, 3.4, 3.5, 3.55, 3.6, 3.65, 3.7, 3.8, 3.9, 4.0, 4.2},
		OCVPercent:          []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		ProcessNoise:        []float64{1e-4, 1e-2, 1e-3},
		MeasurementNoise:    []float64{1e-2, 1e-1, 1e-1},
		HistorySize:         100,
		Limits: Limits{
			MinVoltage:     2.5,
			MaxVoltage:     4.2,
			MinCurrent:     -100,
			MaxCurrent:     100,
			MinTemperature: 0,
			MaxTemperature: 60,
		},
	}
}

// Validate rejects configs the estimator can't run with.
func (c Config) Validate() error {
	if c.NominalVoltage <= 0 {
		return errors.New("nominal-voltage must be positive")
	}
	if c.NominalResistance < minResistance || c.NominalResistance > maxResistance {
		return fmt.Errorf("nominal-resistance must be within [%.2f, %.2f]", minResistance, maxResistance)
	}
	if c.CapacityAh <= 0 {
		return errors.New("capacity-ah must be positive")
	}
	if c.SampleIntervalHours <= 0 {
		return errors.New("sample-interval-hours must be positive")
	}
	if len(c.OCVVoltages) < 2 || len(c.OCVVoltages) != len(c.OCVPercent) {
		return fmt.Errorf("ocv curve needs at least two points with matching lengths, got %d voltages and %d percents",
			len(c.OCVVoltages), len(c.OCVPercent))
	}
	for i := 1; i < len(c.OCVVoltages); i++ {
		if c.OCVVoltages[i] < c.OCVVoltages[i-1] || c.OCVPercent[i] < c.OCVPercent[i-1] {
			return fmt.Errorf("ocv curve is not monotonic at index %d", i)
		}
	}
	if c.OCVVoltages[0] == c.OCVVoltages[len(c.OCVVoltages)-1] {
		return errors.New("ocv curve spans no voltage range")
	}
	if len(c.ProcessNoise) != stateSize || len(c.MeasurementNoise) != stateSize {
		return fmt.Errorf("process-noise and measurement-noise need %d values", stateSize)
	}
	for i := 0; i < stateSize; i++ {
		if c.ProcessNoise[i] < 0 || c.MeasurementNoise[i] <= 0 {
			return errors.New("noise covariances must be positive")
		}
	}
	if c.HistorySize < 2 {
		return errors.New("history-size must be at least 2")
	}
	l := c.Limits
	if l.MinVoltage >= l.MaxVoltage || l.MinCurrent >= l.MaxCurrent || l.MinTemperature >= l.MaxTemperature {
		return errors.New("limits must have min below max")
	}
	return nil
}

// ClampSample applies the input limits to raw. SOC, when present, is clamped
// to [0,100]. Out of range values are clamped rather than rejected so the
// control loop keeps running.
func (l Limits) ClampSample(raw measurement.RawSample) measurement.RawSample {
	out := raw
	out.Voltage = measurement.Clamp(raw.Voltage, l.MinVoltage, l.MaxVoltage)
	out.Current = measurement.Clamp(raw.Current, l.MinCurrent, l.MaxCurrent)
	out.Temperature = measurement.Clamp(raw.Temperature, l.MinTemperature, l.MaxTemperature)
	if raw.StateOfCharge != nil {
		out = out.WithSOC(measurement.Clamp(*raw.StateOfCharge, 0, 100))
	}
	return out
}
