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

	"github.com/TheCacophonyProject/tc2-bms-controller/estimator"
	"github.com/TheCacophonyProject/tc2-bms-controller/optimizer"
	"github.com/TheCacophonyProject/tc2-bms-controller/safety"
	"github.com/TheCacophonyProject/tc2-bms-controller/thermal"
)

// Config holds the settings for every component of one device.
type Config struct {
	Estimator estimator.Config
	Thermal   thermal.Config
	Safety    safety.Config
	Optimizer optimizer.Config
}

func DefaultConfig() Config {
	return Config{
		Estimator: estimator.DefaultConfig(),
		Thermal:   thermal.DefaultConfig(),
		Safety:    safety.DefaultConfig(),
		Optimizer: optimizer.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if err := c.Estimator.Validate(); err != nil {
		return fmt.Errorf("%s: %w", estimator.ConfigKey, err)
	}
	if err := c.Thermal.Validate(); err != nil {
		return fmt.Errorf("%s: %w", thermal.ConfigKey, err)
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("%s: %w", safety.ConfigKey, err)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("%s: %w", optimizer.ConfigKey, err)
	}
	return nil
}
