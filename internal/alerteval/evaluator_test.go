package alerteval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/weqory/backend/internal/model"
)

func constAlert(op model.Operator, rhs float64) *model.Alert {
	v := rhs
	return &model.Alert{
		IsActive: true,
		LHSType:  model.LHSLastPrice,
		Operator: op,
		RHSType:  model.RHSConstant,
		RHSConstant: &v,
	}
}

func trendAlert(op model.Operator, t0 time.Time, p0 float64, t1 time.Time, p1 float64) *model.Alert {
	points := [2]model.TrendLinePoint{{Time: t0, Price: p0}, {Time: t1, Price: p1}}
	return &model.Alert{
		IsActive:     true,
		LHSType:      model.LHSLastPrice,
		Operator:     op,
		RHSType:      model.RHSTrendLine,
		RHSTrendLine: &points,
	}
}

func TestEvaluate_ConstantGreaterThan(t *testing.T) {
	e := New()
	alert := constAlert(model.OpGT, 100)

	cases := []struct {
		name  string
		ltp   float64
		fires bool
	}{
		{"below", 99, false},
		{"just above", 100.0001, true},
		{"well above", 101, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fired := e.Evaluate(alert, model.ChangeUpdate{LTP: c.ltp, LTT: time.Now()})
			assert.Equal(t, c.fires, fired)
		})
	}
}

func TestEvaluate_TrendLineInterpolation(t *testing.T) {
	e := New()
	base := time.Unix(0, 0).UTC()
	alert := trendAlert(model.OpGTE, base, 100, base.Add(100*time.Second), 200)

	// S2: tick at t=50 with ltp=150 fires; ltp=149.999 does not.
	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 150, LTT: base.Add(50 * time.Second)}))
	assert.False(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 149.999, LTT: base.Add(50 * time.Second)}))
}

func TestEvaluate_TrendLineEndpoints(t *testing.T) {
	e := New()
	base := time.Unix(0, 0).UTC()
	// invariant 5: interp(p0,p1,p0.t) == p0.price, interp(p0,p1,p1.t) == p1.price
	alert := trendAlert(model.OpEQ, base, 100, base.Add(100*time.Second), 200)

	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 100, LTT: base}))
	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 200, LTT: base.Add(100 * time.Second)}))
}

func TestEvaluate_TrendLineUnboundedExtrapolation(t *testing.T) {
	e := New()
	base := time.Unix(0, 0).UTC()
	alert := trendAlert(model.OpEQ, base, 100, base.Add(100*time.Second), 200)

	// Outside the point span: unbounded extrapolation per DESIGN.md #1.
	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 300, LTT: base.Add(200 * time.Second)}))
	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 0, LTT: base.Add(-100 * time.Second)}))
}

func TestEvaluate_TrendLineDegenerateEqualTimes(t *testing.T) {
	e := New()
	base := time.Unix(0, 0).UTC()
	alert := trendAlert(model.OpEQ, base, 100, base, 150)

	assert.True(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 150, LTT: base}))
}

func TestEvaluate_UnknownLHSType(t *testing.T) {
	e := New()
	alert := constAlert(model.OpGT, 100)
	alert.LHSType = "future_field"

	assert.False(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 1000, LTT: time.Now()}))
}

func TestEvaluate_MissingRHS(t *testing.T) {
	e := New()
	alert := constAlert(model.OpGT, 100)
	alert.RHSConstant = nil

	assert.False(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 1000, LTT: time.Now()}))
}

func TestEvaluate_UnknownOperator(t *testing.T) {
	e := New()
	alert := constAlert(model.Operator("~="), 100)

	assert.False(t, e.Evaluate(alert, model.ChangeUpdate{LTP: 1000, LTT: time.Now()}))
}
