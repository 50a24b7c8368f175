// Package model holds the shared data types of the alert and screening
// domain: tickers, alerts, ticks, and the market dimension that the scanner
// and screener are parameterized over.
package model

import "time"

// Ticker identifies an instrument as "EXCHANGE:SYMBOL". Equality is
// byte-exact; case is significant on both sides.
type Ticker string

// Market is one of the two universes the scanner and screener operate over.
type Market string

const (
	MarketIndia Market = "india"
	MarketUS    Market = "us"
)

// Operator is a comparison operator usable on an alert's lhs/rhs pair.
type Operator string

const (
	OpLT  Operator = "<"
	OpLTE Operator = "<="
	OpGT  Operator = ">"
	OpGTE Operator = ">="
	OpEQ  Operator = "=="
	OpNE  Operator = "!="
)

// LHSType is the left-hand-side source of an alert's comparison. Only
// last_price exists today; the field exists for forward-compatibility.
type LHSType string

const LHSLastPrice LHSType = "last_price"

// RHSType selects how rhs_attr is interpreted.
type RHSType string

const (
	RHSConstant  RHSType = "constant"
	RHSTrendLine RHSType = "trend_line"
)

// TrendLinePoint is one endpoint of a two-point trend line.
type TrendLinePoint struct {
	Time  time.Time
	Price float64
}

// Alert is a user-defined condition on a ticker's live price. It is
// immutable except for IsActive, DeletedAt, LastTriggeredAt and
// LastTriggeredPrice.
type Alert struct {
	ID     int64
	UserID int64
	Symbol Ticker
	Notes  string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	Type    string // always "simple" today
	LHSType LHSType

	Operator Operator

	RHSType RHSType
	// RHSConstant holds the comparison value when RHSType == RHSConstant.
	RHSConstant *float64
	// RHSTrendLine holds exactly two points when RHSType == RHSTrendLine.
	RHSTrendLine *[2]TrendLinePoint

	LastTriggeredAt    *time.Time
	LastTriggeredPrice *float64
}

// IsLive reports whether the alert is eligible to fire.
func (a *Alert) IsLive() bool {
	return a.IsActive && a.DeletedAt == nil
}

// ChangeUpdate is a single tick from the quote stream.
type ChangeUpdate struct {
	Symbol Ticker
	LTP    float64   // last trade price
	LTT    time.Time // last trade time
	LTQ    float64   // last trade quantity
}
