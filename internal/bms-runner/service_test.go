package runner

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-bms-controller/bms"
	"github.com/TheCacophonyProject/tc2-bms-controller/internal/logging"
	"github.com/TheCacophonyProject/tc2-bms-controller/measurement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceMethods(t *testing.T) {
	fleet, err := bms.NewFleet(bms.DefaultConfig(), logging.Discard())
	require.NoError(t, err)
	s := &service{fleet: fleet}

	_, dErr := s.State("a")
	require.NotNil(t, dErr)
	assert.Equal(t, dbusName+".State", dErr.Name)

	ts := time.UnixMilli(baseMs).UTC()
	_, err = fleet.Step("a", measurement.RawSample{Voltage: 3.7, Current: 2, Temperature: 25, Timestamp: ts})
	require.NoError(t, err)

	devices, dErr := s.Devices()
	require.Nil(t, dErr)
	assert.Equal(t, []string{"a"}, devices)

	state, dErr := s.State("a")
	require.Nil(t, dErr)
	assert.Contains(t, state, `"operating_state":"NORMAL"`)

	stats, dErr := s.Stats("a")
	require.Nil(t, dErr)
	assert.Contains(t, stats, `"cycles":1`)

	require.Nil(t, s.Reset("a"))
	dErr = s.Reset("missing")
	require.NotNil(t, dErr)
	assert.Equal(t, dbusName+".Reset", dErr.Name)
}
