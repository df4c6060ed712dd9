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

// Package rolling provides the small fixed-length sample windows used for
// rate and trend calculations.
package rolling

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window keeps the most recent samples, oldest first.
type Window struct {
	values []float64
	size   int
}

// NewWindow returns a window holding at most size samples.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		values: make([]float64, 0, size),
		size:   size,
	}
}

// Add appends v, dropping the oldest sample once the window is full.
func (w *Window) Add(v float64) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.values = w.values[1:]
	}
}

func (w *Window) Len() int {
	return len(w.values)
}

func (w *Window) Cap() int {
	return w.size
}

// Latest returns the newest sample, false when empty.
func (w *Window) Latest() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	return w.values[len(w.values)-1], true
}

// Last returns a copy of the newest n samples (fewer if not available).
func (w *Window) Last(n int) []float64 {
	if n > len(w.values) {
		n = len(w.values)
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	copy(out, w.values[len(w.values)-n:])
	return out
}

// Values returns a copy of every sample in the window.
func (w *Window) Values() []float64 {
	return w.Last(len(w.values))
}

// Sum of (sample - offset) over the whole window.
func (w *Window) SumOffset(offset float64) float64 {
	if len(w.values) == 0 {
		return 0
	}
	shifted := w.Values()
	floats.AddConst(-offset, shifted)
	return floats.Sum(shifted)
}

// MeanDiff returns the mean of successive differences over the newest n
// samples. Zero when fewer than two samples are available.
func (w *Window) MeanDiff(n int) float64 {
	last := w.Last(n)
	if len(last) < 2 {
		return 0
	}
	diffs := make([]float64, len(last)-1)
	for i := 1; i < len(last); i++ {
		diffs[i-1] = last[i] - last[i-1]
	}
	return stat.Mean(diffs, nil)
}

// Reset drops every sample.
func (w *Window) Reset() {
	w.values = w.values[:0]
}
