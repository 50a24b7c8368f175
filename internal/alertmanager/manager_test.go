package alertmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/model"
)

func alert(id int64, symbol model.Ticker) *model.Alert {
	return &model.Alert{ID: id, Symbol: symbol, IsActive: true}
}

func TestAddAndGet(t *testing.T) {
	m := New()
	m.Add(alert(1, "NSE:TCS"))
	m.Add(alert(2, "NSE:TCS"))
	m.Add(alert(3, "NSE:INFY"))

	tcs := m.Get("NSE:TCS")
	require.Len(t, tcs, 2)
	// Insertion order is preserved.
	assert.Equal(t, int64(1), tcs[0].ID)
	assert.Equal(t, int64(2), tcs[1].ID)

	assert.True(t, m.Has("NSE:INFY"))
	assert.False(t, m.Has("NSE:HDFC"))
	assert.Empty(t, m.Get("NSE:HDFC"))
	assert.Equal(t, 3, m.Count())
}

func TestGetReturnsSnapshot(t *testing.T) {
	m := New()
	m.Add(alert(1, "NSE:TCS"))

	snapshot := m.Get("NSE:TCS")
	m.Remove(snapshot[0])

	// The caller's snapshot is unaffected by index mutation.
	require.Len(t, snapshot, 1)
	assert.Empty(t, m.Get("NSE:TCS"))
}

func TestRemovePrunesEmptyBucket(t *testing.T) {
	m := New()
	a := alert(1, "NSE:TCS")
	m.Add(a)
	m.Remove(a)

	assert.False(t, m.Has("NSE:TCS"))
	assert.Empty(t, m.Symbols())
}

func TestRemoveByID(t *testing.T) {
	m := New()
	m.Add(alert(1, "NSE:TCS"))
	m.Add(alert(2, "NSE:INFY"))

	removed := m.RemoveByID(2)
	require.NotNil(t, removed)
	assert.Equal(t, model.Ticker("NSE:INFY"), removed.Symbol)
	assert.False(t, m.Has("NSE:INFY"))

	assert.Nil(t, m.RemoveByID(99))
}

func TestUpdateMovesAlertAcrossSymbols(t *testing.T) {
	m := New()
	m.Add(alert(1, "NSE:TCS"))

	// The same id re-registered under a different symbol must leave no
	// duplicate behind.
	m.Update(alert(1, "NSE:INFY"))

	assert.False(t, m.Has("NSE:TCS"))
	require.Len(t, m.Get("NSE:INFY"), 1)
	assert.Equal(t, 1, m.Count())
}
