// Package alertmanager owns the in-memory Symbol→Alerts index used by the
// alert engine. It performs no I/O; all state lives in process memory. A
// Manager is not safe for concurrent use: the engine guards every call with
// its own mutex.
package alertmanager

import "github.com/weqory/backend/internal/model"

// Manager maintains a mapping of ticker to the ordered list of alerts
// registered against it. No two entries share an id.
type Manager struct {
	bySymbol map[model.Ticker][]*model.Alert
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{bySymbol: make(map[model.Ticker][]*model.Alert)}
}

// Add appends alert to the bucket for alert.Symbol, creating the bucket if
// absent. Idempotence is not guaranteed; callers must remove a stale
// version before re-adding (see Update).
func (m *Manager) Add(alert *model.Alert) {
	m.bySymbol[alert.Symbol] = append(m.bySymbol[alert.Symbol], alert)
}

// Update removes any alert sharing alert.ID anywhere in the index, then
// adds the new version. This permits Symbol to change across versions.
func (m *Manager) Update(alert *model.Alert) {
	m.RemoveByID(alert.ID)
	m.Add(alert)
}

// Remove drops the alert by (Symbol, ID), pruning the bucket if it becomes
// empty.
func (m *Manager) Remove(alert *model.Alert) {
	m.removeFrom(alert.Symbol, alert.ID)
}

// RemoveByID scans every bucket, drops the first alert with the given id,
// prunes the bucket if empty, and returns the removed alert (or nil).
func (m *Manager) RemoveByID(id int64) *model.Alert {
	for symbol, alerts := range m.bySymbol {
		for _, a := range alerts {
			if a.ID == id {
				m.removeFrom(symbol, id)
				return a
			}
		}
	}
	return nil
}

func (m *Manager) removeFrom(symbol model.Ticker, id int64) {
	alerts, ok := m.bySymbol[symbol]
	if !ok {
		return
	}
	for i, a := range alerts {
		if a.ID == id {
			alerts = append(alerts[:i], alerts[i+1:]...)
			break
		}
	}
	if len(alerts) == 0 {
		delete(m.bySymbol, symbol)
		return
	}
	m.bySymbol[symbol] = alerts
}

// Get returns the bucket contents for symbol, or an empty slice. The
// returned slice is a fresh copy safe for the caller to iterate over while
// the engine mutates the index.
func (m *Manager) Get(symbol model.Ticker) []*model.Alert {
	alerts := m.bySymbol[symbol]
	if len(alerts) == 0 {
		return nil
	}
	snapshot := make([]*model.Alert, len(alerts))
	copy(snapshot, alerts)
	return snapshot
}

// Has reports whether symbol has any registered alerts.
func (m *Manager) Has(symbol model.Ticker) bool {
	return len(m.bySymbol[symbol]) > 0
}

// Symbols returns every ticker currently carrying at least one alert.
func (m *Manager) Symbols() []model.Ticker {
	symbols := make([]model.Ticker, 0, len(m.bySymbol))
	for s := range m.bySymbol {
		symbols = append(symbols, s)
	}
	return symbols
}

// Count returns the total number of alerts registered across all symbols.
func (m *Manager) Count() int {
	count := 0
	for _, alerts := range m.bySymbol {
		count += len(alerts)
	}
	return count
}
