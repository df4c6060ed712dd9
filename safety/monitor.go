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

// Package safety classifies operating risk from battery measurements and
// keeps the system's operating posture.
package safety

import (
	"errors"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sirupsen/logrus"
)

// ErrInternal is returned when the check itself failed.
var ErrInternal = errors.New("internal safety check error")

// Monitor keeps the operating state and fault counters for one battery.
// It is not safe for concurrent use.
type Monitor struct {
	config Config
	log    *logrus.Entry

	state    measurement.OperatingState
	counters measurement.FaultCounters
	latched  bool

	last        *measurement.Measurements
	lastVerdict measurement.SafetyVerdict
}

func New(config Config, log *logging.Logger) (*Monitor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety config: %w", err)
	}
	return &Monitor{
		config: config,
		log:    logging.Component(log, ConfigKey),
		state:  measurement.StateNormal,
	}, nil
}

// CheckSafety checks one cycle of measurements and returns the verdict.
//
// Invalid measurements return an error wrapping
// measurement.ErrInvalidMeasurement together with a FAIL_SAFE (or EMERGENCY)
// verdict; the caller must treat the cycle as failed safe.
func (m *Monitor) CheckSafety(meas measurement.Measurements) (verdict measurement.SafetyVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorf("Recovered from panic during safety check: %v", r)
			m.setState(measurement.StateFailSafe)
			m.forgetLast()
			verdict = measurement.SafetyVerdict{
				OperatingState: measurement.StateFailSafe,
				Alarms: []measurement.Alarm{{
					Parameter: "monitor",
					Level:     measurement.LevelCritical,
					Message:   fmt.Sprint("safety check failed: ", r),
				}},
			}
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	if err := meas.Validate(); err != nil {
		return m.rejectInvalid(err), err
	}

	// Same logical cycle as the last check, don't count it twice. The posture
	// is always the current one.
	if m.last != nil && sameCycle(*m.last, meas) {
		verdict = copyVerdict(m.lastVerdict)
		verdict.OperatingState = m.state
		return verdict, nil
	}

	m.decayCounters(meas)

	var alarms []measurement.Alarm
	alarms = append(alarms, m.checkChannels(meas)...)
	alarms = append(alarms, m.checkRates(meas)...)

	worst := measurement.LevelNormal
	for _, a := range alarms {
		if a.Level > worst {
			worst = a.Level
		}
	}
	if worst == measurement.LevelCritical {
		m.counters.Consecutive++
	} else {
		m.counters.Consecutive = 0
	}

	m.setState(m.nextState(worst))

	verdict = measurement.SafetyVerdict{
		OperatingState: m.state,
		Alarms:         alarms,
	}
	last := meas
	m.last = &last
	m.lastVerdict = copyVerdict(verdict)
	return verdict, nil
}

// rejectInvalid counts an invalid cycle towards EMERGENCY and fails safe.
func (m *Monitor) rejectInvalid(err error) measurement.SafetyVerdict {
	m.forgetLast()
	m.counters.Consecutive++
	m.log.Warnf("Invalid measurements (%d consecutive faults): %v", m.counters.Consecutive, err)

	if m.latched || m.counters.Consecutive >= m.config.MaxConsecutiveFaults {
		m.latched = true
		m.setState(measurement.StateEmergency)
	} else {
		m.setState(measurement.StateFailSafe)
	}
	return measurement.SafetyVerdict{
		OperatingState: m.state,
		Alarms: []measurement.Alarm{{
			Parameter: "measurements",
			Level:     measurement.LevelCritical,
			Message:   err.Error(),
		}},
	}
}

func (m *Monitor) nextState(worst measurement.Level) measurement.OperatingState {
	if m.latched || m.counters.Consecutive >= m.config.MaxConsecutiveFaults {
		m.latched = true
		return measurement.StateEmergency
	}
	switch worst {
	case measurement.LevelCritical:
		return measurement.StateRestricted
	case measurement.LevelWarning:
		return measurement.StateCautious
	}
	return measurement.StateNormal
}

func (m *Monitor) setState(state measurement.OperatingState) {
	if state == m.state {
		return
	}
	if state > m.state {
		m.log.Warnf("Operating state %s -> %s", m.state, state)
	} else {
		m.log.Infof("Operating state %s -> %s", m.state, state)
	}
	m.state = state
}

// decayCounters resets the fault counters once the measurement timeline has
// moved past the reset window, whether or not faults are still active.
func (m *Monitor) decayCounters(meas measurement.Measurements) {
	if m.counters.ResetAt.IsZero() {
		m.counters.ResetAt = meas.Timestamp
		return
	}
	if meas.Timestamp.Sub(m.counters.ResetAt) <= m.config.FaultResetWindow {
		return
	}
	m.log.Infof("Fault reset window of %s elapsed, clearing counters %+v", m.config.FaultResetWindow, m.counters)
	m.counters = measurement.FaultCounters{ResetAt: meas.Timestamp}
	if m.latched {
		m.log.Info("Releasing EMERGENCY latch")
		m.latched = false
	}
}

func (m *Monitor) checkChannels(meas measurement.Measurements) []measurement.Alarm {
	channels := []struct {
		name    string
		value   float64
		limits  ChannelLimits
		counter *int
	}{
		{"voltage", meas.Voltage, m.config.Voltage, &m.counters.Voltage},
		{"current", meas.Current, m.config.Current, &m.counters.Current},
		{"temperature", meas.Temperature, m.config.Temperature, &m.counters.Temperature},
		{"state_of_charge", meas.StateOfCharge, m.config.StateOfCharge, &m.counters.StateOfCharge},
	}

	var alarms []measurement.Alarm
	for _, ch := range channels {
		level, b := classify(ch.value, m.state, ch.limits)
		if level == measurement.LevelNormal {
			continue
		}
		*ch.counter++
		alarms = append(alarms, measurement.Alarm{
			Parameter: ch.name,
			Level:     level,
			Message:   describe(ch.name, ch.value, b, ch.limits),
			Value:     ch.value,
		})
	}
	return alarms
}

func (m *Monitor) checkRates(meas measurement.Measurements) []measurement.Alarm {
	if m.last == nil {
		return nil
	}
	dt := meas.Timestamp.Sub(m.last.Timestamp).Seconds()
	if dt <= 0 {
		return nil
	}
	rates := []struct {
		name     string
		delta    float64
		maxPerS  float64
		unitName string
	}{
		{"voltage_rate", meas.Voltage - m.last.Voltage, m.config.MaxRates.Voltage, "V/s"},
		{"current_rate", meas.Current - m.last.Current, m.config.MaxRates.Current, "A/s"},
		{"temperature_rate", meas.Temperature - m.last.Temperature, m.config.MaxRates.Temperature, "C/s"},
	}

	var alarms []measurement.Alarm
	for _, r := range rates {
		rate := math.Abs(r.delta) / dt
		if rate <= r.maxPerS {
			continue
		}
		m.counters.RateOfChange++
		alarms = append(alarms, measurement.Alarm{
			Parameter: r.name,
			Level:     measurement.LevelWarning,
			Message:   fmt.Sprintf("%s %.3f %s exceeds %.3f %s", r.name, rate, r.unitName, r.maxPerS, r.unitName),
			Value:     rate,
		})
	}
	return alarms
}

// State returns the current operating state.
func (m *Monitor) State() measurement.OperatingState {
	return m.state
}

// Counters returns a copy of the fault counters.
func (m *Monitor) Counters() measurement.FaultCounters {
	return m.counters
}

// Reset clears the counters, the EMERGENCY latch and the operating state.
func (m *Monitor) Reset() {
	m.log.Info("Safety monitor reset")
	m.counters = measurement.FaultCounters{}
	m.latched = false
	m.state = measurement.StateNormal
	m.forgetLast()
}

// forgetLast drops the previous cycle so the next check is evaluated in full.
func (m *Monitor) forgetLast() {
	m.last = nil
	m.lastVerdict = measurement.SafetyVerdict{}
}

func sameCycle(a, b measurement.Measurements) bool {
	return a.Timestamp.Equal(b.Timestamp) &&
		a.Voltage == b.Voltage &&
		a.Current == b.Current &&
		a.Temperature == b.Temperature &&
		a.StateOfCharge == b.StateOfCharge
}

func copyVerdict(v measurement.SafetyVerdict) measurement.SafetyVerdict {
	out := measurement.SafetyVerdict{OperatingState: v.OperatingState}
	if v.Alarms != nil {
		out.Alarms = append([]measurement.Alarm(nil), v.Alarms...)
	}
	return out
}
