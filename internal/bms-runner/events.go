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

package runner

import (
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
)

const (
	operatingStateEvent = "bmsOperatingState"
	alarmEvent          = "bmsAlarm"
)

var nowFn = time.Now

// eventReporter is satisfied by the event-reporter client.
type eventReporter interface {
	AddEvent(event eventclient.Event) error
}

type eventClient struct{}

func (eventClient) AddEvent(event eventclient.Event) error {
	return eventclient.AddEvent(event)
}

type noEvents struct{}

func (noEvents) AddEvent(eventclient.Event) error { return nil }

// events turns cycles into events. Posture changes are always reported,
// CRITICAL alarms at most once per interval for each device and parameter.
type events struct {
	reporter eventReporter
	interval time.Duration

	states   map[string]measurement.OperatingState
	lastSent map[string]time.Time
}

func newEvents(reporter eventReporter, interval time.Duration) *events {
	return &events{
		reporter: reporter,
		interval: interval,
		states:   map[string]measurement.OperatingState{},
		lastSent: map[string]time.Time{},
	}
}

// stateChange returns the previous state when device changed posture.
func (e *events) stateChange(device string, c bms.Cycle) (measurement.OperatingState, bool) {
	prev, ok := e.states[device]
	if !ok {
		prev = measurement.StateNormal
	}
	e.states[device] = c.Verdict.OperatingState
	return prev, prev != c.Verdict.OperatingState
}

func (e *events) report(device string, c bms.Cycle, prev measurement.OperatingState, changed bool) error {
	var events []eventclient.Event
	now := nowFn()
	if changed {
		s := c.Result.State
		events = append(events, eventclient.Event{
			Timestamp: now,
			Type:      operatingStateEvent,
			Details: map[string]interface{}{
				"device":      device,
				"from":        prev.String(),
				"to":          c.Verdict.OperatingState.String(),
				"voltage":     s.Voltage,
				"current":     s.Current,
				"temperature": s.Temperature,
				"soc":         s.StateOfCharge,
			},
		})
	}

	for _, a := range c.Verdict.Alarms {
		if a.Level != measurement.LevelCritical {
			continue
		}
		key := device + "/" + a.Parameter
		if last, ok := e.lastSent[key]; ok && now.Sub(last) < e.interval {
			continue
		}
		e.lastSent[key] = now
		events = append(events, eventclient.Event{
			Timestamp: now,
			Type:      alarmEvent,
			Details: map[string]interface{}{
				"device":    device,
				"parameter": a.Parameter,
				"level":     a.Level.String(),
				"message":   a.Message,
				"value":     a.Value,
			},
		})
	}

	for _, event := range events {
		if err := e.reporter.AddEvent(event); err != nil {
			return err
		}
	}
	return nil
}
