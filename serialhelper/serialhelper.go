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

// Package serialhelper opens a serial port for exclusive use by taking a
// file lock on the device first.
package serialhelper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/tarm/serial"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	if l != nil {
		log = l
	}
}

var (
	cmdlineFile = "/boot/firmware/cmdline.txt"
	sleepFn     = time.Sleep
	lockingFn   = getLockingProcess
)

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// SerialInUseFromTerminal reports whether the kernel console is on the port.
func SerialInUseFromTerminal(device string) bool {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		log.Debugf("Error when reading %s: %s", cmdlineFile, err)
		return false
	}
	name := strings.TrimPrefix(device, "/dev/")
	return strings.Contains(string(b), "console="+name)
}

// Lock opens device and takes an exclusive lock on it, retrying while another
// process holds it. Call Release to drop the lock.
func Lock(device string, retries int, wait time.Duration) (*os.File, error) {
	if SerialInUseFromTerminal(device) {
		return nil, NewSerialUnavailableError(fmt.Sprintf("%s is in use by the terminal console", device))
	}

	f, err := os.OpenFile(device, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	locked := false
	defer func() {
		if !locked {
			f.Close()
		}
	}()

	for i := retries; ; i-- {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			locked = true
			return f, nil
		}
		var errno syscall.Errno
		if !errors.As(err, &errno) || errno != syscall.EWOULDBLOCK {
			return nil, err
		}

		process, err := lockingFn(device)
		if err != nil {
			log.Printf("Error checking locking process: %v", err)
		} else if process != "" {
			log.Printf("%s is locked by process: %s", device, strings.TrimSpace(process))
		}
		if i <= 0 {
			return nil, NewSerialUnavailableError(fmt.Sprintf("failed to get lock on %s, might be in use by other process", device))
		}
		log.Printf("%s is locked. Retrying %d more times in %s...", device, i, wait)
		sleepFn(wait)
	}
}

func Release(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Port is a locked, open serial port.
type Port struct {
	*serial.Port
	lock *os.File
}

// Open locks device and opens it at baud. Reads return after readTimeout
// with no data.
func Open(device string, baud int, readTimeout time.Duration) (*Port, error) {
	lock, err := Lock(device, 3, time.Second)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	p, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: readTimeout})
	if err != nil {
		Release(lock)
		return nil, err
	}
	log.Debugf("Opened %s at %d baud in %s", device, baud, time.Since(start))
	return &Port{Port: p, lock: lock}, nil
}

func (p *Port) Close() error {
	err := p.Port.Close()
	if rerr := Release(p.lock); err == nil {
		err = rerr
	}
	return err
}

func getLockingProcess(path string) (string, error) {
	cmd := exec.Command("fuser", path)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
			// Nothing is using the file.
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return output.String(), nil
}
