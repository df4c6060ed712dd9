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
	"math"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
)

// Below this current the voltage drop is mostly noise.
const minCurrentForResistance = 1.0

// EstimateResistance estimates internal resistance in ohms from the voltage
// deviation under load, corrected for temperature.
func EstimateResistance(f measurement.FilteredSample, nominalVoltage, nominalResistance float64) float64 {
	if math.Abs(f.Current) <= minCurrentForResistance {
		return nominalResistance
	}
	tempFactor := 1 + 0.003*(f.Temperature-referenceTemperature)
	r := math.Abs((f.Voltage-nominalVoltage)/f.Current) * tempFactor
	return measurement.Clamp(r, minResistance, maxResistance)
}

// EstimateHealth combines voltage and resistance degradation into a health score.
func EstimateHealth(voltage, resistance, nominalVoltage, nominalResistance float64) measurement.Health {
	vh := voltage / nominalVoltage
	rh := nominalResistance / resistance
	return measurement.Health{
		StateOfHealth:    math.Min(100, (vh+rh)*50),
		VoltageHealth:    vh,
		ResistanceHealth: rh,
	}
}
