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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/sigurn/crc8"
)

// Frames are single lines:
//
//	device,unix_ms,voltage,current,temperature[,soc][*HH]
//
// An empty soc field means the sample has none. HH is an optional crc8 of
// everything before the '*', in hex.

var (
	errNoFrame         = errors.New("no frame")
	errBadChecksum     = errors.New("bad checksum")
	errMissingChecksum = errors.New("missing checksum")
	errBadFrame        = errors.New("bad frame")
)

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

type Frame struct {
	Device string
	Sample measurement.RawSample
}

func calculateCRC(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// parseFrame parses one line. Blank lines and '#' comments return errNoFrame.
func parseFrame(line string, requireChecksum bool) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Frame{}, errNoFrame
	}

	body := line
	if i := strings.LastIndexByte(line, '*'); i >= 0 {
		body = line[:i]
		sum, err := strconv.ParseUint(line[i+1:], 16, 8)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: checksum %q", errBadFrame, line[i+1:])
		}
		if crc := calculateCRC([]byte(body)); byte(sum) != crc {
			return Frame{}, fmt.Errorf("%w: got 0x%02X, calculated 0x%02X", errBadChecksum, sum, crc)
		}
	} else if requireChecksum {
		return Frame{}, errMissingChecksum
	}

	fields := strings.Split(body, ",")
	if len(fields) != 5 && len(fields) != 6 {
		return Frame{}, fmt.Errorf("%w: expected 5 or 6 fields, got %d", errBadFrame, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" {
		return Frame{}, fmt.Errorf("%w: empty device", errBadFrame)
	}

	ms, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: timestamp: %v", errBadFrame, err)
	}
	values := make([]float64, 3)
	for i, name := range []string{"voltage", "current", "temperature"} {
		values[i], err = strconv.ParseFloat(fields[i+2], 64)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %s: %v", errBadFrame, name, err)
		}
	}

	sample := measurement.RawSample{
		Voltage:     values[0],
		Current:     values[1],
		Temperature: values[2],
	}
	// A zero timestamp is left zero so the safety check rejects it.
	if ms != 0 {
		sample.Timestamp = time.UnixMilli(ms).UTC()
	}
	if len(fields) == 6 && fields[5] != "" {
		soc, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: soc: %v", errBadFrame, err)
		}
		sample = sample.WithSOC(soc)
	}
	return Frame{Device: fields[0], Sample: sample}, nil
}

// formatFrame is the inverse of parseFrame, always with a checksum.
func formatFrame(f Frame) string {
	s := f.Sample
	var ms int64
	if !s.Timestamp.IsZero() {
		ms = s.Timestamp.UnixMilli()
	}
	body := fmt.Sprintf("%s,%d,%s,%s,%s", f.Device, ms, formatFloat(s.Voltage), formatFloat(s.Current), formatFloat(s.Temperature))
	if s.HasSOC() {
		body += "," + formatFloat(*s.StateOfCharge)
	}
	return fmt.Sprintf("%s*%02X", body, calculateCRC([]byte(body)))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// frameErrorReason is the metrics label for a dropped frame.
func frameErrorReason(err error) string {
	switch {
	case errors.Is(err, errBadChecksum):
		return "checksum"
	case errors.Is(err, errMissingChecksum):
		return "missing_checksum"
	}
	return "malformed"
}
