package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 4.0, SMA(prices, 3))
	assert.Equal(t, 0.0, SMA(prices, 6))
	assert.Equal(t, 0.0, SMA(prices, 0))
}

func TestRSI(t *testing.T) {
	assert.Equal(t, 100.0, RSI([]float64{1, 2, 3, 4}, 3))
	assert.Equal(t, 0.0, RSI([]float64{1, 2}, 3))
	// two gains of 1, one loss of 1 -> rs 2 -> 66.67
	assert.InDelta(t, 66.6667, RSI([]float64{10, 11, 12, 11}, 3), 1e-3)
}

func TestReturns(t *testing.T) {
	r := Returns([]float64{100, 110, 99})
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, r, 1e-12)
	assert.Nil(t, Returns([]float64{100}))
}

func TestPearson(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, Pearson(a, []float64{2, 4, 6, 8, 10}), 1e-12)
	assert.InDelta(t, -1.0, Pearson(a, []float64{5, 4, 3, 2, 1}), 1e-12)
	assert.True(t, math.IsNaN(Pearson(a, []float64{3, 3, 3, 3, 3})))
	assert.True(t, math.IsNaN(Pearson([]float64{1}, []float64{1})))
	// uses overlapping tail
	assert.InDelta(t, 1.0, Pearson([]float64{9, 9, 1, 2, 3}, []float64{1, 2, 3}), 1e-12)
}
