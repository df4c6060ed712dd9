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

package config

import (
	"context"
	"path/filepath"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
)

// Diff re-parses the config in configDir and returns how it differs from
// conf. An empty string means no relevant change.
func Diff(conf *Config, configDir string) (string, error) {
	newConfig, err := Parse(configDir)
	if err != nil {
		return "", err
	}
	return cmp.Diff(conf, newConfig), nil
}

// Watch compares conf with the config file each time the file is written.
// When they differ onChange is called with the diff. Services use this to exit
// and have systemd restart them with the new config.
// Watch returns when ctx is done.
func Watch(ctx context.Context, conf *Config, configDir string, log *logging.Logger, onChange func(diff string)) error {
	log = logging.OrDefault(log)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, editors often replace the file rather than write it.
	if err := watcher.Add(configDir); err != nil {
		return err
	}
	path := filepath.Clean(FilePath(configDir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Config watch error: ", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			diff, err := Diff(conf, configDir)
			if err != nil {
				log.Error("Error reloading config: ", err)
				continue
			}
			log.Debug("Config diff: ", diff)
			if diff != "" {
				log.Info("Config changed.")
				onChange(diff)
			} else {
				log.Info("No relevant changes detected in config file.")
			}
		}
	}
}
