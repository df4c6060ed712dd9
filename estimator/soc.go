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
	"sort"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
)

const (
	ccWeightMidRange = 0.8
	ccWeightEdges    = 0.3
	ccMidRangeLow    = 20.0
	ccMidRangeHigh   = 80.0
)

// CoulombCount integrates current over dt hours against the rated capacity.
// Positive current charges the battery. The result is clamped to [0,100].
func CoulombCount(prevSOC, current, dtHours, capacityAh float64) float64 {
	soc := prevSOC + (current*dtHours/capacityAh)*100
	return measurement.Clamp(soc, 0, 100)
}

// FusionWeight is the weight given to the coulomb counted SOC. Coulomb
// counting is trusted mid range, the OCV curve near the steep ends.
func FusionWeight(socCC float64) float64 {
	if socCC > ccMidRangeLow && socCC < ccMidRangeHigh {
		return ccWeightMidRange
	}
	return ccWeightEdges
}

// FuseSOC combines the coulomb counted and OCV estimates.
func FuseSOC(socCC, socOCV float64) float64 {
	w := FusionWeight(socCC)
	return measurement.Clamp(w*socCC+(1-w)*socOCV, 0, 100)
}

// ocvCurve maps open circuit voltage to SOC.
type ocvCurve struct {
	voltages []float64
	percent  []float64
	tempCoef float64
}

func newOCVCurve(c Config) ocvCurve {
	return ocvCurve{
		voltages: append([]float64(nil), c.OCVVoltages...),
		percent:  append([]float64(nil), c.OCVPercent...),
		tempCoef: c.OCVTempCoefficient,
	}
}

// compensate removes the temperature effect from voltage.
func (c ocvCurve) compensate(voltage, temperature float64) float64 {
	return voltage - c.tempCoef*(temperature-referenceTemperature)
}

// SOC returns the state of charge for a voltage measured at temperature.
func (c ocvCurve) SOC(voltage, temperature float64) float64 {
	return c.lookup(c.compensate(voltage, temperature))
}

// lookup interpolates the curve, extrapolating linearly past either end.
func (c ocvCurve) lookup(v float64) float64 {
	n := len(c.voltages)
	var left, right int
	switch {
	case v <= c.voltages[0]:
		left, right = 0, 1
	case v >= c.voltages[n-1]:
		left, right = n-2, n-1
	default:
		i := sort.SearchFloat64s(c.voltages, v)
		if c.voltages[i] == v {
			return c.percent[i]
		}
		left, right = i-1, i
	}

	v1, v2 := c.voltages[left], c.voltages[right]
	p1, p2 := c.percent[left], c.percent[right]
	if v2 == v1 {
		return measurement.Clamp(p1, 0, 100)
	}
	soc := p1 + (p2-p1)*(v-v1)/(v2-v1)
	return measurement.Clamp(soc, 0, 100)
}
