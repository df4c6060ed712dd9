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

package bms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sirupsen/logrus"
)

// Fleet shards devices by id. Each device is created on its first sample and
// stepped behind its own lock, so different devices can run concurrently.
type Fleet struct {
	config Config
	log    *logging.Logger

	mu      sync.Mutex
	devices map[string]*fleetDevice
}

type fleetDevice struct {
	mu      sync.Mutex
	device  *Device
	last    Cycle
	hasLast bool
}

func NewFleet(config Config, log *logging.Logger) (*Fleet, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}
	return &Fleet{
		config:  config,
		log:     logging.OrDefault(log),
		devices: map[string]*fleetDevice{},
	}, nil
}

func (f *Fleet) get(id string) (*fleetDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd, ok := f.devices[id]; ok {
		return fd, nil
	}
	d, err := NewDevice(f.config, f.log)
	if err != nil {
		return nil, err
	}
	d.log = d.log.WithFields(logrus.Fields{"device": id})
	fd := &fleetDevice{device: d}
	f.devices[id] = fd
	f.log.Infof("New device %q", id)
	return fd, nil
}

// Step runs one cycle for the device id.
func (f *Fleet) Step(id string, raw measurement.RawSample) (Cycle, error) {
	fd, err := f.get(id)
	if err != nil {
		return Cycle{}, err
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	c := fd.device.Step(raw)
	fd.last = c
	fd.hasLast = true
	return c, nil
}

// Snapshot returns the latest cycle for id.
func (f *Fleet) Snapshot(id string) (Cycle, bool) {
	f.mu.Lock()
	fd, ok := f.devices[id]
	f.mu.Unlock()
	if !ok {
		return Cycle{}, false
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.last, fd.hasLast
}

// Stats returns the running counters for id.
func (f *Fleet) Stats(id string) (Stats, bool) {
	f.mu.Lock()
	fd, ok := f.devices[id]
	f.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.device.Stats(), true
}

// Reset clears one device's state.
func (f *Fleet) Reset(id string) error {
	f.mu.Lock()
	fd, ok := f.devices[id]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no device %q", id)
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.device.Reset()
	fd.last = Cycle{}
	fd.hasLast = false
	return nil
}

// Devices returns the known device ids, sorted.
func (f *Fleet) Devices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.devices))
	for id := range f.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
