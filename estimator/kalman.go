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

package estimator

import (
	"fmt"

	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"gonum.org/v1/gonum/mat"
)

// voltage, current, temperature
const stateSize = 3

// kalmanFilter is a linear filter with identity transition and observation
// models and diagonal noise covariances.
type kalmanFilter struct {
	x *mat.VecDense
	p *mat.Dense
	q *mat.DiagDense
	r *mat.DiagDense

	seeded bool
}

func newKalmanFilter(processNoise, measurementNoise []float64) *kalmanFilter {
	f := &kalmanFilter{
		q: mat.NewDiagDense(stateSize, append([]float64(nil), processNoise...)),
		r: mat.NewDiagDense(stateSize, append([]float64(nil), measurementNoise...)),
	}
	f.reset()
	return f
}

func (f *kalmanFilter) reset() {
	f.x = mat.NewVecDense(stateSize, nil)
	f.p = mat.NewDense(stateSize, stateSize, nil)
	for i := 0; i < stateSize; i++ {
		f.p.Set(i, i, 1)
	}
	f.seeded = false
}

// step runs one predict/update cycle against the measurement z.
// The first measurement seeds the state so there is no start-up transient.
func (f *kalmanFilter) step(z measurement.FilteredSample) (measurement.FilteredSample, error) {
	zv := mat.NewVecDense(stateSize, []float64{z.Voltage, z.Current, z.Temperature})
	if !f.seeded {
		f.x.CopyVec(zv)
		f.seeded = true
	}

	// Predict. The transition is identity so only the covariance grows.
	var pPred mat.Dense
	pPred.Add(f.p, f.q)

	// Update.
	var s mat.Dense
	s.Add(&pPred, f.r)
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return measurement.FilteredSample{}, fmt.Errorf("innovation covariance not invertible: %w", err)
	}
	var k mat.Dense
	k.Mul(&pPred, &sInv)

	var innovation mat.VecDense
	innovation.SubVec(zv, f.x)
	var correction mat.VecDense
	correction.MulVec(&k, &innovation)
	f.x.AddVec(f.x, &correction)

	var ik mat.Dense
	ik.Sub(identity(), &k)
	var p mat.Dense
	p.Mul(&ik, &pPred)
	f.p = &p

	return measurement.FilteredSample{
		Voltage:     f.x.AtVec(0),
		Current:     f.x.AtVec(1),
		Temperature: f.x.AtVec(2),
	}, nil
}

// gain returns the diagonal of the gain the next update would use, without
// advancing the filter.
func (f *kalmanFilter) gain() []float64 {
	out := make([]float64, stateSize)
	for i := 0; i < stateSize; i++ {
		pPred := f.p.At(i, i) + f.q.At(i, i)
		out[i] = pPred / (pPred + f.r.At(i, i))
	}
	return out
}

func identity() *mat.DiagDense {
	return mat.NewDiagDense(stateSize, []float64{1, 1, 1})
}
