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
	"fmt"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
)

type band int

const (
	bandNone band = iota
	bandAbsolute
	bandCriticalHysteresis
	bandWarning
)

// Classify returns the level of value against the channel limits given the
// current operating state. It has no side effects.
//
// The critical hysteresis band is only evaluated once the system has left
// NORMAL, so the first critical-adjacent excursion from NORMAL is caught by
// the absolute or warning band only.
func Classify(value float64, state measurement.OperatingState, limits ChannelLimits) measurement.Level {
	level, _ := classify(value, state, limits)
	return level
}

func classify(value float64, state measurement.OperatingState, l ChannelLimits) (measurement.Level, band) {
	if value < l.AbsoluteMin || value > l.AbsoluteMax {
		return measurement.LevelCritical, bandAbsolute
	}
	if state != measurement.StateNormal {
		if value <= l.CriticalMin+l.Hysteresis || value >= l.CriticalMax-l.Hysteresis {
			return measurement.LevelWarning, bandCriticalHysteresis
		}
	}
	if value < l.WarningMin || value > l.WarningMax {
		return measurement.LevelWarning, bandWarning
	}
	return measurement.LevelNormal, bandNone
}

func describe(parameter string, value float64, b band, l ChannelLimits) string {
	switch b {
	case bandAbsolute:
		return fmt.Sprintf("%s %.3f outside absolute limits [%.2f, %.2f]", parameter, value, l.AbsoluteMin, l.AbsoluteMax)
	case bandCriticalHysteresis:
		return fmt.Sprintf("%s %.3f within %.2f of critical limits [%.2f, %.2f]", parameter, value, l.Hysteresis, l.CriticalMin, l.CriticalMax)
	case bandWarning:
		return fmt.Sprintf("%s %.3f outside warning limits [%.2f, %.2f]", parameter, value, l.WarningMin, l.WarningMax)
	}
	return fmt.Sprintf("%s %.3f normal", parameter, value)
}
