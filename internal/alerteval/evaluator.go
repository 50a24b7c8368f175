// Package alerteval decides whether a single (Alert, ChangeUpdate) pair
// fires.
package alerteval

import (
	"time"

	"github.com/weqory/backend/internal/model"
)

// Evaluator is stateless; it holds no fields today but is kept as a type
// (rather than a free function) so a future forward-compatible lhs type can
// carry configuration without changing every call site.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate decides whether alert fires for update.
func (e *Evaluator) Evaluate(alert *model.Alert, update model.ChangeUpdate) bool {
	if alert.LHSType != model.LHSLastPrice {
		return false
	}
	lhs := update.LTP

	rhs, ok := e.resolveRHS(alert, update)
	if !ok {
		return false
	}

	return applyOperator(alert.Operator, lhs, rhs)
}

func (e *Evaluator) resolveRHS(alert *model.Alert, update model.ChangeUpdate) (float64, bool) {
	switch alert.RHSType {
	case model.RHSConstant:
		if alert.RHSConstant == nil {
			return 0, false
		}
		return *alert.RHSConstant, true

	case model.RHSTrendLine:
		if alert.RHSTrendLine == nil {
			return 0, false
		}
		return interpolateTrendLine(*alert.RHSTrendLine, update.LTT), true

	default:
		return 0, false
	}
}

// interpolateTrendLine linearly interpolates the trend line defined by the
// two points at the given query time. Points are sorted ascending by time
// before interpolation. If the two timestamps are equal the line degenerates
// to the constant of either point's price. Extrapolation outside the point
// span is permitted and unbounded — callers that want strict bounds must
// pre-filter (see DESIGN.md open-question #1).
func interpolateTrendLine(points [2]model.TrendLinePoint, at time.Time) float64 {
	old, newer := points[0], points[1]
	if newer.Time.Before(old.Time) {
		old, newer = newer, old
	}

	t0 := float64(old.Time.UnixNano()) / 1e9
	t1 := float64(newer.Time.UnixNano()) / 1e9
	if t1 == t0 {
		return newer.Price
	}

	tQuery := float64(at.UnixNano()) / 1e9
	return old.Price + (newer.Price-old.Price)*(tQuery-t0)/(t1-t0)
}

func applyOperator(op model.Operator, lhs, rhs float64) bool {
	switch op {
	case model.OpLT:
		return lhs < rhs
	case model.OpLTE:
		return lhs <= rhs
	case model.OpGT:
		return lhs > rhs
	case model.OpGTE:
		return lhs >= rhs
	case model.OpEQ:
		return lhs == rhs
	case model.OpNE:
		return lhs != rhs
	default:
		return false
	}
}
