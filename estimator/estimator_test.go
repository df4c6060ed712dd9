package estimator

import (
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	e, err := New(DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	return e
}

func sample(v, i, temp float64, ts time.Time) measurement.RawSample {
	return measurement.RawSample{Voltage: v, Current: i, Temperature: temp, Timestamp: ts}
}

func TestEstimateScenario(t *testing.T) {
	e := newTestEstimator(t)
	state := e.Estimate(sample(3.7, 2.0, 25, t0).WithSOC(75))

	assert.InDelta(t, 3.7, state.Voltage, 1e-9)
	assert.InDelta(t, 2.0, state.Current, 1e-9)
	assert.InDelta(t, 25.0, state.Temperature, 1e-9)
	assert.GreaterOrEqual(t, state.StateOfCharge, 70.0)
	assert.LessOrEqual(t, state.StateOfCharge, 80.0)
	assert.GreaterOrEqual(t, state.Health.StateOfHealth, 90.0)
	assert.LessOrEqual(t, state.Health.StateOfHealth, 100.0)
	assert.Equal(t, t0, state.Timestamp)
}

func TestEstimateClampsVoltage(t *testing.T) {
	voltages := []float64{-1, 0, 1.2, 2.49, 4.21, 5, 12, 1000}

	// A fresh estimator per input, and one estimator fed the whole sequence.
	for _, v := range voltages {
		state := newTestEstimator(t).Estimate(sample(v, 0, 25, t0))
		assert.GreaterOrEqual(t, state.Voltage, 2.5, "voltage %.2f", v)
		assert.LessOrEqual(t, state.Voltage, 4.2, "voltage %.2f", v)
	}

	e := newTestEstimator(t)
	for i, v := range voltages {
		state := e.Estimate(sample(v, 0, 25, t0.Add(time.Duration(i)*time.Second)))
		assert.GreaterOrEqual(t, state.Voltage, 2.5, "voltage %.2f", v)
		assert.LessOrEqual(t, state.Voltage, 4.2, "voltage %.2f", v)
	}
}

func TestEstimateClampsOtherInputs(t *testing.T) {
	e := newTestEstimator(t)
	state := e.Estimate(sample(3.7, 500, 90, t0).WithSOC(140))
	assert.InDelta(t, 100.0, state.Current, 1e-9)
	assert.InDelta(t, 60.0, state.Temperature, 1e-9)
	assert.LessOrEqual(t, state.StateOfCharge, 100.0)
	assert.GreaterOrEqual(t, state.StateOfCharge, 0.0)

	state = newTestEstimator(t).Estimate(sample(3.7, -500, -20, t0).WithSOC(-3))
	assert.InDelta(t, -100.0, state.Current, 1e-9)
	assert.InDelta(t, 0.0, state.Temperature, 1e-9)
	assert.GreaterOrEqual(t, state.StateOfCharge, 0.0)
}

func TestEstimateFailsClosed(t *testing.T) {
	tests := []struct {
		name string
		raw  measurement.RawSample
	}{
		{"NaN voltage", sample(math.NaN(), 1, 25, t0)},
		{"Inf current", sample(3.7, math.Inf(1), 25, t0)},
		{"NaN temperature", sample(3.7, 1, math.NaN(), t0)},
		{"NaN soc", sample(3.7, 1, 25, t0).WithSOC(math.NaN())},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEstimator(t)
			state := e.Estimate(tc.raw)
			assert.Equal(t, DefaultState(DefaultConfig(), t0), state)
			assert.Equal(t, 1, e.Fallbacks())
			_, ok := e.Last()
			assert.False(t, ok, "a fallback is not a valid estimate")
		})
	}
}

func TestDefaultState(t *testing.T) {
	state := DefaultState(DefaultConfig(), t0)
	assert.Equal(t, 3.7, state.Voltage)
	assert.Equal(t, 0.0, state.Current)
	assert.Equal(t, 25.0, state.Temperature)
	assert.Equal(t, 50.0, state.StateOfCharge)
	assert.Equal(t, measurement.Health{StateOfHealth: 100, VoltageHealth: 1, ResistanceHealth: 1}, state.Health)
	assert.Equal(t, 0.05, state.InternalResistance)
}

func TestFilterSmoothsNoise(t *testing.T) {
	e := newTestEstimator(t)
	first := e.Estimate(sample(3.70, 5, 25, t0))
	second := e.Estimate(sample(3.90, 15, 30, t0.Add(time.Second)))

	assert.Greater(t, second.Voltage, first.Voltage)
	assert.Less(t, second.Voltage, 3.90)
	assert.Greater(t, second.Current, first.Current)
	assert.Less(t, second.Current, 15.0)
	assert.Greater(t, second.Temperature, first.Temperature)
	assert.Less(t, second.Temperature, 30.0)
}

func TestFilterGain(t *testing.T) {
	cfg := DefaultConfig()
	f := newKalmanFilter(cfg.ProcessNoise, cfg.MeasurementNoise)

	// Before any update P is identity so K = (1+Q)/(1+Q+R).
	for i, k := range f.gain() {
		q, r := cfg.ProcessNoise[i], cfg.MeasurementNoise[i]
		assert.InDelta(t, (1+q)/(1+q+r), k, 1e-12)
	}

	prev := f.gain()
	for i := 0; i < 20; i++ {
		_, err := f.step(measurement.FilteredSample{Voltage: 3.7, Current: 1, Temperature: 25})
		require.NoError(t, err)
	}
	for i, k := range f.gain() {
		assert.Greater(t, k, 0.0)
		assert.Less(t, k, prev[i], "gain settles as the covariance shrinks")
	}
}

func TestCoulombCountingFollowsCurrentSign(t *testing.T) {
	for _, prev := range []float64{0, 10, 49.5, 79, 99.9, 100} {
		for _, current := range []float64{0, 0.5, 2, 50, 100} {
			soc := CoulombCount(prev, current, 0.1, 50)
			assert.GreaterOrEqual(t, soc, prev, "charging at %.1fA from %.1f%%", current, prev)
			assert.LessOrEqual(t, soc, 100.0)

			soc = CoulombCount(prev, -current, 0.1, 50)
			assert.LessOrEqual(t, soc, prev, "discharging at %.1fA from %.1f%%", current, prev)
			assert.GreaterOrEqual(t, soc, 0.0)
		}
	}
	assert.InDelta(t, 50.4, CoulombCount(50, 2, 0.1, 50), 1e-9)
}

func TestFusionWeight(t *testing.T) {
	tests := []struct {
		soc    float64
		weight float64
	}{
		{50, 0.8},
		{10, 0.3},
		{20, 0.3},
		{20.01, 0.8},
		{79.99, 0.8},
		{80, 0.3},
		{95, 0.3},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.weight, FusionWeight(tc.soc), "soc %.2f", tc.soc)
	}
	assert.InDelta(t, 0.8*50+0.2*60, FuseSOC(50, 60), 1e-9)
	assert.InDelta(t, 0.3*10+0.7*30, FuseSOC(10, 30), 1e-9)
}

func TestOCVCurve(t *testing.T) {
	curve := newOCVCurve(DefaultConfig())

	assert.InDelta(t, 60.0, curve.SOC(3.7, 25), 1e-9)
	assert.InDelta(t, 55.0, curve.SOC(3.675, 25), 1e-9)
	// 20C above reference removes 10mV before the lookup.
	assert.InDelta(t, 58.0, curve.SOC(3.7, 45), 1e-9)
	assert.Equal(t, 0.0, curve.SOC(2.5, 25))
	assert.Equal(t, 100.0, curve.SOC(4.3, 25))

	linear := ocvCurve{voltages: []float64{3.0, 4.0}, percent: []float64{10, 90}}
	assert.InDelta(t, 2.0, linear.lookup(2.9), 1e-9, "extrapolates below the curve")
	assert.InDelta(t, 94.0, linear.lookup(4.05), 1e-9, "extrapolates above the curve")

	flat := ocvCurve{voltages: []float64{3.0, 3.25, 3.25, 3.6}, percent: []float64{0, 40, 50, 100}}
	assert.InDelta(t, 40.0, flat.lookup(3.25), 1e-9)
}

func TestEstimateResistance(t *testing.T) {
	tests := []struct {
		name     string
		sample   measurement.FilteredSample
		expected float64
	}{
		{"low current uses nominal", measurement.FilteredSample{Voltage: 3.5, Current: 0.5, Temperature: 25}, 0.05},
		{"negative low current uses nominal", measurement.FilteredSample{Voltage: 3.5, Current: -1, Temperature: 25}, 0.05},
		{"under load", measurement.FilteredSample{Voltage: 3.6, Current: 2, Temperature: 25}, 0.05},
		{"warm", measurement.FilteredSample{Voltage: 3.6, Current: -2, Temperature: 35}, 0.05 * 1.03},
		{"clamped low", measurement.FilteredSample{Voltage: 3.7, Current: 10, Temperature: 25}, 0.01},
		{"clamped high", measurement.FilteredSample{Voltage: 2.5, Current: 1.1, Temperature: 25}, 1.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, EstimateResistance(tc.sample, 3.7, 0.05), 1e-9)
		})
	}
}

func TestEstimateHealth(t *testing.T) {
	h := EstimateHealth(3.6, 0.05, 3.7, 0.05)
	assert.InDelta(t, 3.6/3.7, h.VoltageHealth, 1e-9)
	assert.InDelta(t, 1.0, h.ResistanceHealth, 1e-9)
	assert.InDelta(t, (3.6/3.7+1)*50, h.StateOfHealth, 1e-9)

	h = EstimateHealth(3.7, 0.01, 3.7, 0.05)
	assert.Equal(t, 100.0, h.StateOfHealth, "capped at 100")

	h = EstimateHealth(3.0, 0.5, 3.7, 0.05)
	assert.Less(t, h.StateOfHealth, 50.0)
}

func TestSOCTrendWhileCharging(t *testing.T) {
	e := newTestEstimator(t)
	for i := 0; i < 30; i++ {
		e.Estimate(sample(3.7, 20, 25, t0.Add(time.Duration(i)*time.Minute)))
	}
	assert.Greater(t, e.SOCTrend(), 0.0)

	last, ok := e.Last()
	require.True(t, ok)
	assert.InDelta(t, 20.0, last.Current, 1e-6)

	e.Reset()
	_, ok = e.Last()
	assert.False(t, ok)
	assert.Equal(t, 0.0, e.SOCTrend())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero capacity", func(c *Config) { c.CapacityAh = 0 }},
		{"negative interval", func(c *Config) { c.SampleIntervalHours = -1 }},
		{"resistance out of range", func(c *Config) { c.NominalResistance = 2 }},
		{"mismatched curve", func(c *Config) { c.OCVPercent = c.OCVPercent[1:] }},
		{"unsorted curve", func(c *Config) { c.OCVVoltages = []float64{3.0, 4.0, 3.5}; c.OCVPercent = []float64{0, 50, 100} }},
		{"short noise", func(c *Config) { c.ProcessNoise = []float64{1} }},
		{"zero measurement noise", func(c *Config) { c.MeasurementNoise = []float64{0, 1, 1} }},
		{"inverted limits", func(c *Config) { c.Limits.MinVoltage = 5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(&c)
			require.Error(t, c.Validate())
			_, err := New(c, logging.Discard())
			require.Error(t, err)
		})
	}
}
