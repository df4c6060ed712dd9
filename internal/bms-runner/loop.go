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
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/config"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/metrics"
	"github.com/TheCacophonyProject/tc2-bms-controller/serialhelper"
)

// loop steps the fleet for every frame read from the input.
type loop struct {
	fleet           *bms.Fleet
	metrics         *metrics.Metrics
	events          *events
	signals         signaler
	requireChecksum bool
	onCycle         func(Frame, bms.Cycle) error

	frames int
}

func (l *loop) handleLine(line string) error {
	f, err := parseFrame(line, l.requireChecksum)
	if errors.Is(err, errNoFrame) {
		return nil
	}
	if err != nil {
		log.Warnf("Dropping frame %q: %v", line, err)
		l.metrics.BadFrame(frameErrorReason(err))
		return nil
	}
	l.frames++

	c, err := l.fleet.Step(f.Device, f.Sample)
	if err != nil {
		return err
	}
	l.metrics.Observe(f.Device, c)

	prev, changed := l.events.stateChange(f.Device, c)
	if changed {
		to := c.Verdict.OperatingState
		if to > prev {
			log.Warnf("Device %q operating state %s -> %s", f.Device, prev, to)
		} else {
			log.Infof("Device %q operating state %s -> %s", f.Device, prev, to)
		}
		if err := l.signals.stateChanged(f.Device, prev, to); err != nil {
			log.Error("Error sending state change signal: ", err)
		}
	}
	if err := l.events.report(f.Device, c, prev, changed); err != nil {
		log.Error("Error reporting event: ", err)
	}

	if l.onCycle != nil {
		return l.onCycle(f, c)
	}
	return nil
}

// run handles lines from r until it ends or ctx is done.
func (l *loop) run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := l.handleLine(line); err != nil {
				return err
			}
		}
	}
}

// openInput opens the frame source: a file, stdin for "-", or the serial
// port when input is empty.
func openInput(ctx context.Context, input string, rc config.RunnerConfig) (io.ReadCloser, error) {
	switch input {
	case "-":
		log.Info("Reading frames from stdin")
		return io.NopCloser(os.Stdin), nil
	case "":
		log.Infof("Reading frames from %s at %d baud", rc.SerialPort, rc.Baud)
		port, err := serialhelper.Open(rc.SerialPort, rc.Baud, rc.ReadTimeout)
		if err != nil {
			return nil, err
		}
		return &portReader{Reader: quietReader{ctx: ctx, r: port}, Closer: port}, nil
	}
	log.Infof("Reading frames from %s", input)
	return os.Open(input)
}

type portReader struct {
	io.Reader
	io.Closer
}

// quietReader keeps reading through read timeouts on a quiet serial port, which
// show up as empty reads, until ctx is done.
type quietReader struct {
	ctx context.Context
	r   io.Reader
}

func (q quietReader) Read(b []byte) (int, error) {
	for {
		n, err := q.r.Read(b)
		if n > 0 || (err != nil && !errors.Is(err, io.EOF)) {
			return n, err
		}
		if q.ctx.Err() != nil {
			return 0, io.EOF
		}
	}
}
