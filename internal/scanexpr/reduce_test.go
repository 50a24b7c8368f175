package scanexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReduceCondition_Now(t *testing.T) {
	assert.True(t, ReduceCondition([]bool{false, false, true}, PeriodNow, 0))
	assert.False(t, ReduceCondition([]bool{true, true, false}, PeriodNow, 0))
}

func TestReduceCondition_XBarAgo(t *testing.T) {
	series := []bool{true, false, false}
	assert.True(t, ReduceCondition(series, PeriodXBarAgo, 3))
	assert.False(t, ReduceCondition(series, PeriodXBarAgo, 2))
	assert.False(t, ReduceCondition(series, PeriodXBarAgo, 5), "insufficient history reduces to false")
}

func TestReduceCondition_WithinLast(t *testing.T) {
	series := []bool{false, false, true, false}
	assert.True(t, ReduceCondition(series, PeriodWithinLast, 2))
	assert.False(t, ReduceCondition(series, PeriodWithinLast, 1))
}

func TestReduceCondition_InRow(t *testing.T) {
	series := []bool{false, true, true, true}
	assert.True(t, ReduceCondition(series, PeriodInRow, 3))
	assert.False(t, ReduceCondition(series, PeriodInRow, 4))
}

func TestReduceCondition_EmptySeriesIsFalse(t *testing.T) {
	assert.False(t, ReduceCondition(nil, PeriodNow, 0))
}
