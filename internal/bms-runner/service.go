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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.bms"
	dbusPath = "/org/cacophony/bms"

	stateChangedSignal = dbusName + ".OperatingStateChanged"
)

// signaler sends posture changes out, the DBus service or nothing.
type signaler interface {
	stateChanged(device string, from, to measurement.OperatingState) error
}

type noSignals struct{}

func (noSignals) stateChanged(string, measurement.OperatingState, measurement.OperatingState) error {
	return nil
}

type service struct {
	fleet *bms.Fleet
	conn  *dbus.Conn
}

func startService(fleet *bms.Fleet) (*service, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}

	s := &service{fleet: fleet, conn: conn}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return nil, err
	}
	if err := conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, err
	}
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: "OperatingStateChanged",
				Args: []introspect.Arg{
					{Name: "device", Type: "s"},
					{Name: "from", Type: "s"},
					{Name: "to", Type: "s"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

func (s *service) stateChanged(device string, from, to measurement.OperatingState) error {
	return s.conn.Emit(dbusPath, stateChangedSignal, device, from.String(), to.String())
}

// Devices returns the ids of every device seen so far.
func (s *service) Devices() ([]string, *dbus.Error) {
	return s.fleet.Devices(), nil
}

// State returns the latest cycle of device as JSON.
func (s *service) State(device string) (string, *dbus.Error) {
	c, ok := s.fleet.Snapshot(device)
	if !ok {
		return "", makeDbusError(".State", fmt.Errorf("no cycle for device %q", device))
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", makeDbusError(".State", err)
	}
	return string(b), nil
}

// Stats returns the running counters of device as JSON.
func (s *service) Stats(device string) (string, *dbus.Error) {
	stats, ok := s.fleet.Stats(device)
	if !ok {
		return "", makeDbusError(".Stats", fmt.Errorf("unknown device %q", device))
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return "", makeDbusError(".Stats", err)
	}
	return string(b), nil
}

// Reset clears the history, fault counters and EMERGENCY latch of device.
func (s *service) Reset(device string) *dbus.Error {
	log.Printf("Reset requested for %q", device)
	if err := s.fleet.Reset(device); err != nil {
		return makeDbusError(".Reset", err)
	}
	return nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}
