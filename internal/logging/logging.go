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

// Package logging adds the helpers the core packages need on top of the
// go-utils logger.
package logging

import (
	"io"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/sirupsen/logrus"
)

// Logger is the go-utils logger used by every component.
type Logger = logging.Logger

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := logging.NewLogger("error")
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// OrDefault returns l, or a new info logger when l is nil.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return logging.NewLogger("info")
	}
	return l
}

// Component returns an entry of l tagged with the component name.
func Component(l *Logger, name string) *logrus.Entry {
	return OrDefault(l).WithField("component", name)
}
