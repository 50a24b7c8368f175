package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA_MinPeriodsOne(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4}, 3)
	assert.InDeltaSlice(t, []float64{1, 1.5, 2, 3}, out, 1e-9)
}

func TestEMA_AdjustFalseSeedsFromFirstValue(t *testing.T) {
	out := EMA([]float64{10, 20}, 3)
	assert.Equal(t, 10.0, out[0])
	alpha := 2.0 / 4.0
	assert.InDelta(t, alpha*20+(1-alpha)*10, out[1], 1e-9)
}

func TestPrv_LeadingValuesAreNaN(t *testing.T) {
	out := Prv([]float64{1, 2, 3}, 1)
	assert.True(t, math.IsNaN(out[0]))
	assert.Equal(t, 1.0, out[1])
	assert.Equal(t, 2.0, out[2])
}

func TestMinMax_RollingWindow(t *testing.T) {
	series := []float64{5, 1, 4, 2, 8}
	assert.Equal(t, []float64{5, 1, 1, 1, 2}, Min(series, 3))
	assert.Equal(t, []float64{5, 5, 5, 4, 8}, Max(series, 3))
}

func TestCount_RollingWindowWithNaNs(t *testing.T) {
	series := []float64{1, math.NaN(), 3}
	out := Count(series, 2)
	assert.Equal(t, []float64{1, 1, 1}, out)
}

func TestCountTrue_SumsRollingWindow(t *testing.T) {
	out := CountTrue([]float64{1, 0, 1, 1}, 2)
	assert.Equal(t, []float64{1, 1, 1, 2}, out)
}

func TestChange_CollapsesInfToNaN(t *testing.T) {
	out := Change([]float64{0, 10, 20}, 1)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]), "division by a zero previous value collapses to NaN, not +Inf")
	assert.InDelta(t, 1.0, out[2], 1e-9)
}
