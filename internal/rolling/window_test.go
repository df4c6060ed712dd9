package rolling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowDropsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		w.Add(v)
	}
	require.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{3, 4, 5}, w.Values())

	latest, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, 5.0, latest)
}

func TestWindowMeanDiff(t *testing.T) {
	w := NewWindow(100)
	assert.Equal(t, 0.0, w.MeanDiff(10))

	w.Add(20)
	assert.Equal(t, 0.0, w.MeanDiff(10), "single sample has no difference")

	for _, v := range []float64{21, 23, 26} {
		w.Add(v)
	}
	// differences 1, 2, 3
	assert.InDelta(t, 2.0, w.MeanDiff(10), 1e-9)
	// only the newest two samples: 23 -> 26
	assert.InDelta(t, 3.0, w.MeanDiff(2), 1e-9)
}

func TestWindowSumOffset(t *testing.T) {
	w := NewWindow(10)
	assert.Equal(t, 0.0, w.SumOffset(25))

	w.Add(26)
	w.Add(24)
	w.Add(30)
	assert.InDelta(t, 5.0, w.SumOffset(25), 1e-9)
	// the window itself is untouched
	assert.Equal(t, []float64{26, 24, 30}, w.Values())
}

func TestWindowReset(t *testing.T) {
	w := NewWindow(2)
	w.Add(1)
	w.Reset()
	_, ok := w.Latest()
	assert.False(t, ok)
	assert.Nil(t, w.Last(5))
}
