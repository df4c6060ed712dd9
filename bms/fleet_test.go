package bms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFleet(t *testing.T) *Fleet {
	t.Helper()
	f, err := NewFleet(DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	return f
}

func TestFleetCreatesDevicesLazily(t *testing.T) {
	f := newTestFleet(t)
	assert.Empty(t, f.Devices())

	_, ok := f.Snapshot("b")
	assert.False(t, ok)

	_, err := f.Step("b", raw(3.7, 2, 25, t0))
	require.NoError(t, err)
	_, err = f.Step("a", raw(3.7, 2, 25, t0))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, f.Devices())

	c, ok := f.Snapshot("a")
	require.True(t, ok)
	assert.Equal(t, t0, c.Raw.Timestamp)
}

func TestFleetDevicesAreIsolated(t *testing.T) {
	f := newTestFleet(t)
	for i := 0; i < 3; i++ {
		ts := t0.Add(time.Duration(i) * time.Second)
		_, err := f.Step("hot", raw(4.4, 2, 25, ts))
		require.NoError(t, err)
		_, err = f.Step("fine", raw(3.7, 2, 25, ts))
		require.NoError(t, err)
	}

	hot, _ := f.Snapshot("hot")
	fine, _ := f.Snapshot("fine")
	assert.Equal(t, measurement.StateEmergency, hot.Verdict.OperatingState)
	assert.Equal(t, measurement.StateNormal, fine.Verdict.OperatingState)

	require.NoError(t, f.Reset("hot"))
	stats, ok := f.Stats("hot")
	require.True(t, ok)
	assert.Equal(t, measurement.StateNormal, stats.OperatingState)
	_, ok = f.Snapshot("hot")
	assert.False(t, ok)

	require.Error(t, f.Reset("missing"))
}

func TestFleetConcurrentDevices(t *testing.T) {
	f := newTestFleet(t)
	const devices = 8
	const samples = 50

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < samples; i++ {
				_, err := f.Step(id, raw(3.7, 2, 25, t0.Add(time.Duration(i)*time.Second)))
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("dev-%d", d))
	}
	wg.Wait()

	require.Len(t, f.Devices(), devices)
	for _, id := range f.Devices() {
		stats, ok := f.Stats(id)
		require.True(t, ok)
		assert.Equal(t, samples, stats.Cycles, id)
		assert.Equal(t, measurement.StateNormal, stats.OperatingState, id)
	}
}

func TestNewFleetRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Safety.MaxConsecutiveFaults = 0
	_, err := NewFleet(cfg, logging.Discard())
	require.Error(t, err)
}
