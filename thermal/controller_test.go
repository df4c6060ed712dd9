package thermal

import (
	"math"
	"testing"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	return c
}

func TestOverrideAtMaxTemperature(t *testing.T) {
	gains := []struct {
		name       string
		kp, ki, kd float64
	}{
		{"default", 10, 0.1, 2},
		{"negative gains", -100, -10, -50},
		{"zero gains", 0, 0, 0},
	}
	for _, g := range gains {
		t.Run(g.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Kp, cfg.Ki, cfg.Kd = g.kp, g.ki, g.kd
			c := newTestController(t, cfg)

			out := c.Control(45, 0, 50)
			assert.Equal(t, 100.0, out.FanSpeed)
			assert.True(t, out.PredictionValid)

			out = c.Control(50, 30, 90)
			assert.Equal(t, 100.0, out.FanSpeed)
		})
	}
}

func TestOverrideAtMinTemperature(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kp = 1000
	c := newTestController(t, cfg)

	// Warm the integral up first so the PID output would be large.
	for i := 0; i < 20; i++ {
		c.Control(40, 50, 90)
	}
	out := c.Control(15, 50, 90)
	assert.Equal(t, 0.0, out.FanSpeed)
	out = c.Control(5, 50, 90)
	assert.Equal(t, 0.0, out.FanSpeed)
}

func TestPIDLaw(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	out := c.Control(30, 0, 0)

	// predicted = 30 + (0 - 0.1*5) * 0.1
	assert.InDelta(t, 29.95, out.PredictedTemperature, 1e-9)
	// 10*5 + 0.1*(5*0.1) + 2*(-0.05/0.1)
	assert.InDelta(t, 49.05, out.FanSpeed, 1e-9)
	assert.Equal(t, 25.0, out.TargetTemperature)
	assert.Equal(t, 0.0, out.TemperatureRate)
	assert.False(t, out.FailSafe)
}

func TestFanSpeedClamped(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	out := c.Control(44, 80, 100)
	assert.Equal(t, 100.0, out.FanSpeed)

	c = newTestController(t, DefaultConfig())
	out = c.Control(16, 0, 0)
	assert.Equal(t, 0.0, out.FanSpeed)
}

func TestTemperatureRate(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	// Something older than the rate window with a big jump.
	c.Control(40, 0, 50)
	var rate float64
	for temp := 20.0; temp < 30; temp++ {
		rate = c.Control(temp, 0, 50).TemperatureRate
	}
	// The last ten entries step by 1C per 0.1 period.
	assert.InDelta(t, 10.0, rate, 1e-9)
}

func TestHistoryIsBounded(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	for i := 0; i < 250; i++ {
		c.Control(25+float64(i%5), 1, 50)
	}
	assert.Len(t, c.History(), 100)

	c.Reset()
	assert.Empty(t, c.History())
}

func TestPredict(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	assert.InDelta(t, 30.075, c.Predict(30, 10, 50), 1e-9)
	assert.InDelta(t, 25.0, c.Predict(25, 0, 0), 1e-9)
}

func TestFailSafeOnBadInput(t *testing.T) {
	inputs := [][3]float64{
		{math.NaN(), 1, 50},
		{30, math.Inf(-1), 50},
		{30, 1, math.NaN()},
	}
	c := newTestController(t, DefaultConfig())
	for _, in := range inputs {
		out := c.Control(in[0], in[1], in[2])
		assert.Equal(t, FailSafeControl(DefaultConfig()), out)
		assert.Equal(t, 100.0, out.FanSpeed)
		assert.Equal(t, 25.0, out.TargetTemperature)
		assert.False(t, out.PredictionValid)
		assert.Equal(t, 0.0, out.TemperatureRate)
	}
	assert.Equal(t, len(inputs), c.FailSafes())
	assert.Empty(t, c.History(), "bad input is not recorded")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero period", func(c *Config) { c.SamplePeriod = 0 }},
		{"inverted limits", func(c *Config) { c.MinTemperature = 50 }},
		{"optimal outside limits", func(c *Config) { c.OptimalTemperature = 60 }},
		{"tiny rate window", func(c *Config) { c.RateWindow = 1 }},
		{"rate window over history", func(c *Config) { c.RateWindow = 200 }},
		{"fan over 100", func(c *Config) { c.MaxFanSpeed = 120 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(&c)
			require.Error(t, c.Validate())
		})
	}
}
