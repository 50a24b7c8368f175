package expcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetThenGetIsHit(t *testing.T) {
	c := New()
	key := Key("AAPL", ModeValue, "sma(c, 20)")
	c.Set(key, 123.45)

	v, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, 123.45, v)

	stats := c.StatsSnapshot()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, 1, stats.CachedExpressions)
}

func TestCache_MissWhenKeyAbsent(t *testing.T) {
	c := New()
	_, ok := c.Get(Key("AAPL", ModeValue, "sma(c, 20)"))
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.StatsSnapshot().Misses)
}

func TestCache_DisabledAlwaysMissesAndClears(t *testing.T) {
	c := New()
	key := Key("AAPL", ModeCondition, "c > o")
	c.Set(key, true)

	c.Disable()
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.False(t, c.IsEnabled())

	c.Enable()
	_, ok = c.Get(key)
	assert.False(t, ok, "disabling clears existing entries")
}

func TestCache_ClearResetsStats(t *testing.T) {
	c := New()
	key := Key("AAPL", ModeValue, "c")
	c.Set(key, 1.0)
	c.Get(key)
	c.Get("missing")

	c.Clear()
	stats := c.StatsSnapshot()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 0, stats.CachedExpressions)
}

func TestKey_DifferentModesProduceDifferentKeys(t *testing.T) {
	val := Key("AAPL", ModeValue, "c > o")
	cond := Key("AAPL", ModeCondition, "c > o")
	assert.NotEqual(t, val, cond)
}

func TestKeyGroup_OrderSensitiveAndLogicScoped(t *testing.T) {
	a := KeyGroup("AAPL", ModeCondCol, "and", "c > o", "v > 100")
	b := KeyGroup("AAPL", ModeCondCol, "and", "v > 100", "c > o")
	c := KeyGroup("AAPL", ModeCondCol, "or", "c > o", "v > 100")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
