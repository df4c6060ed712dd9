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

// Package config loads the BMS config file. Every section starts from the
// package defaults and only the keys present in the file or environment are
// overridden.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/estimator"
	"github.com/TheCacophonyProject/tc2-bms-controller/optimizer"
	"github.com/TheCacophonyProject/tc2-bms-controller/safety"
	"github.com/TheCacophonyProject/tc2-bms-controller/thermal"
	"github.com/spf13/viper"
)

const (
	FileName  = "bms.toml"
	EnvPrefix = "BMS"
	RunnerKey = "runner"
)

// RunnerConfig is the runner section of the config file. Command line flags
// override these when set.
type RunnerConfig struct {
	// Minimum time between two events of the same type for one device and
	// parameter.
	EventInterval  time.Duration `mapstructure:"event-interval"`
	Events         bool          `mapstructure:"events"`
	DBus           bool          `mapstructure:"dbus"`
	MetricsAddress string        `mapstructure:"metrics-address"`

	SerialPort      string        `mapstructure:"serial-port"`
	Baud            int           `mapstructure:"baud"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	RequireChecksum bool          `mapstructure:"require-checksum"`
}

func DefaultRunner() RunnerConfig {
	return RunnerConfig{
		EventInterval:  10 * time.Minute,
		Events:         true,
		DBus:           true,
		MetricsAddress: "",
		SerialPort:     "/dev/serial0",
		Baud:           115200,
		ReadTimeout:    time.Second,
	}
}

type Config struct {
	Estimator estimator.Config `mapstructure:"estimator"`
	Thermal   thermal.Config   `mapstructure:"thermal"`
	Safety    safety.Config    `mapstructure:"safety"`
	Optimizer optimizer.Config `mapstructure:"optimizer"`
	Runner    RunnerConfig     `mapstructure:"runner"`
}

func Default() Config {
	d := bms.DefaultConfig()
	return Config{
		Estimator: d.Estimator,
		Thermal:   d.Thermal,
		Safety:    d.Safety,
		Optimizer: d.Optimizer,
		Runner:    DefaultRunner(),
	}
}

// Device returns the per-device part of the config.
func (c Config) Device() bms.Config {
	return bms.Config{
		Estimator: c.Estimator,
		Thermal:   c.Thermal,
		Safety:    c.Safety,
		Optimizer: c.Optimizer,
	}
}

func (c Config) Validate() error {
	if err := c.Device().Validate(); err != nil {
		return err
	}
	if c.Runner.EventInterval < 0 {
		return fmt.Errorf("%s: event-interval can't be negative", RunnerKey)
	}
	if c.Runner.Baud <= 0 {
		return fmt.Errorf("%s: baud must be positive", RunnerKey)
	}
	return nil
}

// FilePath is where the config file is read from in configDir.
func FilePath(configDir string) string {
	return filepath.Join(configDir, FileName)
}

// Parse reads the config from configDir. A missing file isn't an error, the
// defaults (and any environment overrides) are used.
func Parse(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(FilePath(configDir))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	bindEnvs(v, "", reflect.TypeOf(Config{}))

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", FilePath(configDir), err)
	}

	c := Default()
	// Lists replace the defaults rather than being merged into them.
	for key, list := range map[string]*[]float64{
		"estimator.ocv-voltages":      &c.Estimator.OCVVoltages,
		"estimator.ocv-percent":       &c.Estimator.OCVPercent,
		"estimator.process-noise":     &c.Estimator.ProcessNoise,
		"estimator.measurement-noise": &c.Estimator.MeasurementNoise,
	} {
		if v.IsSet(key) {
			*list = nil
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// bindEnvs binds an environment variable to every leaf key of t so nested
// keys can be overridden, e.g. BMS_SAFETY_MAX_CONSECUTIVE_FAULTS.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, key, f.Type)
			continue
		}
		_ = v.BindEnv(key)
	}
}
