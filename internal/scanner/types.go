// Package scanner implements the two-phase technical-analysis scan:
// cheap static metadata filtering narrows the universe before the more
// expensive per-bar expression evaluation runs only over the survivors.
package scanner

import (
	"fmt"
	"time"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/scanexpr"
	pkgerrors "github.com/weqory/backend/pkg/errors"
)

// ConditionType distinguishes a condition that only needs per-symbol
// metadata (cheap, evaluated first) from one that needs OHLCV history.
type ConditionType string

const (
	ConditionStatic   ConditionType = "static"
	ConditionComputed ConditionType = "computed"
)

// EvaluationType distinguishes a boolean condition from a percentile-rank
// condition. Rank conditions qualify a symbol by where its expression's
// last value sits across the whole phase-1 universe.
type EvaluationType string

const (
	EvalBoolean EvaluationType = "boolean"
	EvalRank    EvaluationType = "rank"
)

// Condition is one filter clause of a scan request.
type Condition struct {
	Expression       string          `json:"expression" validate:"required"`
	ConditionType    ConditionType   `json:"condition_type"`
	EvaluationType   EvaluationType  `json:"evaluation_type,omitempty"`
	EvaluationPeriod scanexpr.Period `json:"evaluation_period,omitempty" validate:"omitempty,evaluation_period"`
	Value            int             `json:"value,omitempty"`
	RankMin          float64         `json:"rank_min,omitempty"`
	RankMax          float64         `json:"rank_max,omitempty"`
}

// ColumnType distinguishes the three output column shapes a scan result
// row can carry.
type ColumnType string

const (
	ColumnStatic    ColumnType = "static"
	ColumnComputed  ColumnType = "computed"
	ColumnCondition ColumnType = "condition"
)

// ColumnDef describes one output column of a scan result.
type ColumnDef struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         ColumnType  `json:"type"`
	PropertyName string      `json:"property_name,omitempty"`
	Expression   string      `json:"expression,omitempty"`
	Conditions   []Condition `json:"conditions,omitempty" validate:"omitempty,dive"`
	Logic        string      `json:"logic,omitempty"` // "and" | "or", defaults to "and"
}

// SortColumn names a result column to sort by and its direction.
type SortColumn struct {
	Column    string `json:"column"`    // a ColumnDef.ID, or "symbol"
	Direction string `json:"direction"` // "asc" | "desc"
}

// Request is a complete scan specification.
type Request struct {
	Market            model.Market `json:"market,omitempty" validate:"omitempty,market"`
	Conditions        []Condition  `json:"conditions" validate:"omitempty,dive"`
	PreConditions     []Condition  `json:"pre_conditions,omitempty" validate:"omitempty,dive"`
	Columns           []ColumnDef  `json:"columns" validate:"omitempty,dive"`
	Logic             string       `json:"logic,omitempty"` // "and" | "or"
	PreConditionLogic string       `json:"pre_condition_logic,omitempty"`
	SortColumns       []SortColumn `json:"sort_columns,omitempty"`
}

// Validate rejects programmer errors up front: duplicate column ids,
// malformed conditions, columns missing their type-mandated field.
func (r Request) Validate() error {
	seen := make(map[string]bool, len(r.Columns))
	for _, col := range r.Columns {
		if seen[col.ID] {
			return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("duplicate column id %q", col.ID))
		}
		seen[col.ID] = true

		switch col.Type {
		case ColumnStatic:
			if col.PropertyName == "" {
				return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("static column %q requires property_name", col.ID))
			}
		case ColumnComputed:
			if col.Expression == "" {
				return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("computed column %q requires expression", col.ID))
			}
		case ColumnCondition:
			if len(col.Conditions) == 0 {
				return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("condition column %q requires conditions", col.ID))
			}
			for _, c := range col.Conditions {
				if err := validateCondition(c); err != nil {
					return err
				}
			}
		default:
			return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("column %q has unknown type %q", col.ID, col.Type))
		}
	}

	for _, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return err
		}
	}
	for _, c := range r.PreConditions {
		if err := validateCondition(c); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	if c.Expression == "" {
		return pkgerrors.ErrScanValidation.WithDetails("condition requires an expression")
	}
	if c.ConditionType == ConditionStatic {
		if c.EvaluationPeriod != "" && c.EvaluationPeriod != scanexpr.PeriodNow {
			return pkgerrors.ErrScanValidation.WithDetails("evaluation_period not allowed for static conditions")
		}
		return nil
	}
	switch c.EvaluationPeriod {
	case "", scanexpr.PeriodNow:
	case scanexpr.PeriodXBarAgo, scanexpr.PeriodWithinLast, scanexpr.PeriodInRow:
		if c.Value <= 0 {
			return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("value must be a positive integer for evaluation_period %q", c.EvaluationPeriod))
		}
	default:
		return pkgerrors.ErrScanValidation.WithDetails(fmt.Sprintf("unknown evaluation_period %q", c.EvaluationPeriod))
	}
	if c.EvaluationType == EvalRank && c.RankMax < c.RankMin {
		return pkgerrors.ErrScanValidation.WithDetails("rank_max must be >= rank_min")
	}
	return nil
}

// Result is a scan's tabular output: Columns names each entry of every Data
// row positionally, Data[i][0] is always the symbol.
type Result struct {
	Count   int      `json:"count"`
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
	Success bool     `json:"success"`
}

// Candles is one symbol's OHLCV history, oldest bar first.
type Candles struct {
	Timestamps []time.Time `json:"timestamps"`
	Open       []float64   `json:"open"`
	High       []float64   `json:"high"`
	Low        []float64   `json:"low"`
	Close      []float64   `json:"close"`
	Volume     []float64   `json:"volume"`
}

func (c Candles) env(meta map[string]scanexpr.Value) *scanexpr.Env {
	return &scanexpr.Env{
		Open:     c.Open,
		High:     c.High,
		Low:      c.Low,
		Close:    c.Close,
		Volume:   c.Volume,
		Metadata: meta,
	}
}
