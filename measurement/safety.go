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

package measurement

import (
	"fmt"
	"time"
)

// Level is the severity of a single channel check.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// MarshalText lets levels show up by name in JSON and logs.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	for _, v := range []Level{LevelNormal, LevelWarning, LevelCritical} {
		if v.String() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", b)
}

// OperatingState is the system posture maintained by the safety monitor.
type OperatingState int

const (
	StateNormal OperatingState = iota
	StateCautious
	StateRestricted
	StateEmergency
	StateFailSafe
)

func (s OperatingState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateCautious:
		return "CAUTIOUS"
	case StateRestricted:
		return "RESTRICTED"
	case StateEmergency:
		return "EMERGENCY"
	case StateFailSafe:
		return "FAIL_SAFE"
	}
	return "UNKNOWN"
}

func (s OperatingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OperatingState) UnmarshalText(b []byte) error {
	for v := StateNormal; v <= StateFailSafe; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown operating state %q", b)
}

// Degraded reports whether actuation should fall back to its safe output.
func (s OperatingState) Degraded() bool {
	return s == StateEmergency || s == StateFailSafe
}

// Alarm is a single flagged parameter.
type Alarm struct {
	Parameter string  `json:"parameter"`
	Level     Level   `json:"level"`
	Message   string  `json:"message"`
	Value     float64 `json:"value"`
}

// SafetyVerdict is the outcome of one safety check.
type SafetyVerdict struct {
	OperatingState OperatingState `json:"operating_state"`
	Alarms         []Alarm        `json:"alarms"`
}

// WorstLevel returns the most severe alarm level in the verdict.
func (v SafetyVerdict) WorstLevel() Level {
	worst := LevelNormal
	for _, a := range v.Alarms {
		if a.Level > worst {
			worst = a.Level
		}
	}
	return worst
}

// FaultCounters are the per-channel fault counts kept by the safety monitor.
type FaultCounters struct {
	Voltage       int       `json:"voltage"`
	Current       int       `json:"current"`
	Temperature   int       `json:"temperature"`
	StateOfCharge int       `json:"state_of_charge"`
	RateOfChange  int       `json:"rate_of_change"`
	Consecutive   int       `json:"consecutive"`
	ResetAt       time.Time `json:"reset_at"`
}
