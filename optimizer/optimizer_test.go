package optimizer

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/estimator"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/TheCacophonyProject/tc2-bms-controller/thermal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	log := logging.Discard()
	est, err := estimator.New(estimator.DefaultConfig(), log)
	require.NoError(t, err)
	ctl, err := thermal.New(thermal.DefaultConfig(), log)
	require.NoError(t, err)
	o, err := New(DefaultConfig(), est, ctl, log)
	require.NoError(t, err)
	return o
}

func state(soc, temp, voltage float64) measurement.BatteryState {
	return measurement.BatteryState{
		Voltage:       voltage,
		Current:       0,
		Temperature:   temp,
		StateOfCharge: soc,
		Timestamp:     t0,
	}
}

func TestOptimizeScenario(t *testing.T) {
	o := newTestOptimizer(t)
	res, err := o.Optimize(state(85, 25, 3.7))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*o.Config().MaxCurrent, res.OptimalCurrent, 1e-9)
	assert.True(t, res.ThermalControl.PredictionValid)
	assert.False(t, res.FailSafe)
	assert.Equal(t, t0, res.State.Timestamp)
}

func TestOptimizeDeratedScenario(t *testing.T) {
	o := newTestOptimizer(t)
	res, err := o.Optimize(state(85, 42, 3.7))
	require.NoError(t, err)
	assert.InDelta(t, 0.25*o.Config().MaxCurrent, res.OptimalCurrent, 1e-9)
}

func TestChargeCurrent(t *testing.T) {
	o := newTestOptimizer(t)
	tests := []struct {
		name        string
		soc         float64
		temperature float64
		voltage     float64
		expected    float64
	}{
		{"low soc", 30, 25, 3.7, 100},
		{"just below mid band", 59.9, 25, 3.7, 100},
		{"mid band lower edge", 60, 25, 3.7, 70},
		{"mid band", 70, 25, 3.7, 70},
		{"mid band upper edge", 80, 25, 3.7, 70},
		{"high band", 85, 25, 3.7, 50},
		{"warm", 30, 37, 3.7, 70},
		{"warm edge isn't derated", 30, 35, 3.7, 100},
		{"hot", 30, 42, 3.7, 50},
		{"hot edge is warm", 30, 40, 3.7, 70},
		{"hot derates don't compound", 85, 42, 3.7, 25},
		{"warm high band", 85, 37, 3.7, 35},
		{"max voltage", 30, 25, 4.2, 30},
		{"everything", 85, 42, 4.2, 7.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, o.ChargeCurrent(tc.soc, tc.temperature, tc.voltage), 1e-9)
		})
	}
}

func TestOptimizeRejectsNonFiniteState(t *testing.T) {
	o := newTestOptimizer(t)
	bad := []measurement.BatteryState{
		state(math.NaN(), 25, 3.7),
		state(50, math.Inf(1), 3.7),
		state(50, 25, math.Inf(-1)),
	}
	for _, s := range bad {
		_, err := o.Optimize(s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	}
}

func TestOptimizeClampsInput(t *testing.T) {
	o := newTestOptimizer(t)
	// 5V is clamped to the 4.2V limit, which triggers the voltage cut.
	res, err := o.Optimize(state(30, 25, 5))
	require.NoError(t, err)
	assert.InDelta(t, 30, res.OptimalCurrent, 1e-9)

	res, err = o.Optimize(state(150, 25, 3.7))
	require.NoError(t, err)
	assert.InDelta(t, 50, res.OptimalCurrent, 1e-9)
	assert.LessOrEqual(t, res.State.StateOfCharge, 100.0)
}

type fakeEstimator struct {
	out measurement.BatteryState
	in  []measurement.RawSample
}

func (f *fakeEstimator) Validate(raw measurement.RawSample) measurement.RawSample {
	return raw
}

func (f *fakeEstimator) Estimate(raw measurement.RawSample) measurement.BatteryState {
	f.in = append(f.in, raw)
	return f.out
}

type fakeThermal struct {
	calls [][3]float64
	out   measurement.ThermalControl
}

func (f *fakeThermal) Control(temperature, current, soc float64) measurement.ThermalControl {
	f.calls = append(f.calls, [3]float64{temperature, current, soc})
	return f.out
}

func TestOptimizeWiring(t *testing.T) {
	est := &fakeEstimator{out: measurement.BatteryState{Voltage: 3.6, Current: 5, Temperature: 30, StateOfCharge: 40, Timestamp: t0}}
	ctl := &fakeThermal{out: measurement.ThermalControl{FanSpeed: 42, PredictionValid: true}}
	o, err := New(DefaultConfig(), est, ctl, logging.Discard())
	require.NoError(t, err)

	res, err := o.Optimize(state(85, 25, 3.7))
	require.NoError(t, err)

	require.Len(t, est.in, 1)
	assert.Equal(t, 85.0, est.in[0].SOC(0))
	// Current comes from the input state, cooling from the estimate.
	assert.InDelta(t, 50, res.OptimalCurrent, 1e-9)
	assert.Equal(t, [][3]float64{{30, 5, 40}}, ctl.calls)
	assert.Equal(t, 42.0, res.ThermalControl.FanSpeed)
	assert.Equal(t, est.out, res.State)
}

func TestPlanDoesNotReestimate(t *testing.T) {
	est := &fakeEstimator{}
	ctl := &fakeThermal{out: measurement.ThermalControl{FanSpeed: 10, PredictionValid: true}}
	o, err := New(DefaultConfig(), est, ctl, logging.Discard())
	require.NoError(t, err)

	s := state(70, 37, 3.8)
	res := o.Plan(s)
	assert.Empty(t, est.in)
	assert.InDelta(t, 49, res.OptimalCurrent, 1e-9)
	assert.Equal(t, [][3]float64{{37, 0, 70}}, ctl.calls)
	assert.Equal(t, s, res.State)
	assert.False(t, res.FailSafe)
}

func TestPlanFailSafeFromThermal(t *testing.T) {
	ctl := &fakeThermal{out: measurement.ThermalControl{FanSpeed: 100, FailSafe: true}}
	o, err := New(DefaultConfig(), &fakeEstimator{}, ctl, logging.Discard())
	require.NoError(t, err)
	assert.True(t, o.Plan(state(50, 25, 3.7)).FailSafe)

	res := o.Plan(state(math.NaN(), 25, 3.7))
	assert.True(t, res.FailSafe)
	assert.Equal(t, 0.0, res.OptimalCurrent)
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeThermal{}, nil)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero max current", func(c *Config) { c.MaxCurrent = 0 }},
		{"zero max voltage", func(c *Config) { c.MaxVoltage = 0 }},
		{"bands out of order", func(c *Config) { c.MidSOC.AboveSOC = 90 }},
		{"derates out of order", func(c *Config) { c.WarmDerate.AboveTemperature = 45 }},
		{"fraction over 1", func(c *Config) { c.HighSOC.Fraction = 1.5 }},
		{"negative multiplier", func(c *Config) { c.VoltageMultiplier = -0.1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(&c)
			require.Error(t, c.Validate())
		})
	}
}
