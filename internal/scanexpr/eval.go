package scanexpr

import (
	"fmt"
	"math"

	"github.com/weqory/backend/internal/indicators"
)

// Env is the evaluation environment an expression runs against: the OHLCV
// series for one symbol over its lookback window, a running bar index, and
// whatever per-symbol metadata scalars the scan has loaded (sector,
// exchange, market cap, and the like).
type Env struct {
	Close  []float64
	Open   []float64
	High   []float64
	Low    []float64
	Volume []float64

	Metadata map[string]Value
}

func (e *Env) indexSeries() []float64 {
	n := len(e.Close)
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}

func (e *Env) lookupIdent(name string) (Value, error) {
	switch name {
	case "c":
		return seriesValue(e.Close), nil
	case "o":
		return seriesValue(e.Open), nil
	case "h":
		return seriesValue(e.High), nil
	case "l":
		return seriesValue(e.Low), nil
	case "v":
		return seriesValue(e.Volume), nil
	case "i":
		return seriesValue(e.indexSeries()), nil
	}
	if v, ok := e.Metadata[name]; ok {
		return v, nil
	}
	return Value{}, fmt.Errorf("unknown identifier %q", name)
}

// Evaluate walks node against env and returns its value.
func Evaluate(node Node, env *Env) (Value, error) {
	switch n := node.(type) {
	case NumberLit:
		return numberValue(n.Value), nil
	case StringLit:
		return stringValue(n.Value), nil
	case Ident:
		return env.lookupIdent(n.Name)
	case UnaryExpr:
		return evalUnary(n, env)
	case BinaryExpr:
		return evalBinary(n, env)
	case CallExpr:
		return evalCall(n, env)
	default:
		return Value{}, fmt.Errorf("unhandled node type %T", node)
	}
}

func evalUnary(n UnaryExpr, env *Env) (Value, error) {
	operand, err := Evaluate(n.Operand, env)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case TokMinus:
		if operand.Kind == KindSeries {
			out := make([]float64, len(operand.Series))
			for i, v := range operand.Series {
				out[i] = -v
			}
			return seriesValue(out), nil
		}
		num, err := scalarNum(operand)
		if err != nil {
			return Value{}, err
		}
		return numberValue(-num), nil
	case TokNot:
		b, err := operand.lastBool()
		if err != nil {
			return Value{}, err
		}
		return boolValue(!b), nil
	default:
		return Value{}, fmt.Errorf("unsupported unary operator")
	}
}

func scalarNum(v Value) (float64, error) {
	switch v.Kind {
	case KindNumber:
		return v.Num, nil
	case KindSeries:
		if len(v.Series) == 0 {
			return 0, fmt.Errorf("empty series in scalar context")
		}
		return v.Series[len(v.Series)-1], nil
	default:
		return 0, fmt.Errorf("value is not numeric")
	}
}

func evalBinary(n BinaryExpr, env *Env) (Value, error) {
	left, err := Evaluate(n.Left, env)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case TokAnd, TokOr:
		return evalLogical(n.Op, left, n.Right, env)
	}

	right, err := Evaluate(n.Right, env)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case TokPlus, TokMinus, TokStar, TokSlash:
		return evalArith(n.Op, left, right)
	case TokLT, TokLTE, TokGT, TokGTE, TokEQ, TokNE:
		return evalCompare(n.Op, left, right)
	default:
		return Value{}, fmt.Errorf("unsupported binary operator")
	}
}

// evalLogical short-circuits "and"/"or" on scalar left operands; series
// operands combine element-wise instead.
func evalLogical(op TokenKind, left Value, rightNode Node, env *Env) (Value, error) {
	if left.Kind == KindBool || left.Kind == KindNumber {
		lb, err := left.lastBool()
		if err != nil {
			return Value{}, err
		}
		if op == TokAnd && !lb {
			return boolValue(false), nil
		}
		if op == TokOr && lb {
			return boolValue(true), nil
		}
		right, err := Evaluate(rightNode, env)
		if err != nil {
			return Value{}, err
		}
		rb, err := right.lastBool()
		if err != nil {
			return Value{}, err
		}
		return boolValue(rb), nil
	}

	right, err := Evaluate(rightNode, env)
	if err != nil {
		return Value{}, err
	}
	n, err := broadcastLen(left, right)
	if err != nil {
		return Value{}, err
	}
	ls, err := left.asBoolSeries(n)
	if err != nil {
		return Value{}, err
	}
	rs, err := right.asBoolSeries(n)
	if err != nil {
		return Value{}, err
	}
	out := make([]bool, n)
	for i := range out {
		if op == TokAnd {
			out[i] = ls[i] && rs[i]
		} else {
			out[i] = ls[i] || rs[i]
		}
	}
	return boolSeriesValue(out), nil
}

func (v Value) asBoolSeries(n int) ([]bool, error) {
	switch v.Kind {
	case KindBoolSeries:
		return v.BoolSeries, nil
	case KindBool:
		out := make([]bool, n)
		for i := range out {
			out[i] = v.Bool
		}
		return out, nil
	case KindSeries:
		out := make([]bool, len(v.Series))
		for i, f := range v.Series {
			out[i] = f != 0 && !math.IsNaN(f)
		}
		return out, nil
	case KindNumber:
		out := make([]bool, n)
		b := v.Num != 0 && !math.IsNaN(v.Num)
		for i := range out {
			out[i] = b
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot use string value as a boolean")
	}
}

func evalArith(op TokenKind, left, right Value) (Value, error) {
	if left.Kind == KindNumber && right.Kind == KindNumber {
		return numberValue(applyArith(op, left.Num, right.Num)), nil
	}
	n, err := broadcastLen(left, right)
	if err != nil {
		return Value{}, err
	}
	ls, err := left.asSeries(n)
	if err != nil {
		return Value{}, err
	}
	rs, err := right.asSeries(n)
	if err != nil {
		return Value{}, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = applyArith(op, ls[i], rs[i])
	}
	return seriesValue(out), nil
}

func applyArith(op TokenKind, a, b float64) float64 {
	switch op {
	case TokPlus:
		return a + b
	case TokMinus:
		return a - b
	case TokStar:
		return a * b
	case TokSlash:
		if b == 0 {
			return math.NaN()
		}
		return a / b
	default:
		return math.NaN()
	}
}

func evalCompare(op TokenKind, left, right Value) (Value, error) {
	if left.Kind == KindString || right.Kind == KindString {
		if left.Kind != KindString || right.Kind != KindString {
			return Value{}, fmt.Errorf("cannot compare string with numeric value")
		}
		switch op {
		case TokEQ:
			return boolValue(left.Str == right.Str), nil
		case TokNE:
			return boolValue(left.Str != right.Str), nil
		default:
			return Value{}, fmt.Errorf("strings only support == and !=")
		}
	}
	if left.Kind == KindNumber && right.Kind == KindNumber {
		return boolValue(applyCompare(op, left.Num, right.Num)), nil
	}
	n, err := broadcastLen(left, right)
	if err != nil {
		return Value{}, err
	}
	ls, err := left.asSeries(n)
	if err != nil {
		return Value{}, err
	}
	rs, err := right.asSeries(n)
	if err != nil {
		return Value{}, err
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = applyCompare(op, ls[i], rs[i])
	}
	return boolSeriesValue(out), nil
}

func applyCompare(op TokenKind, a, b float64) bool {
	switch op {
	case TokLT:
		return a < b
	case TokLTE:
		return a <= b
	case TokGT:
		return a > b
	case TokGTE:
		return a >= b
	case TokEQ:
		return a == b
	case TokNE:
		return a != b
	default:
		return false
	}
}

func evalCall(n CallExpr, env *Env) (Value, error) {
	switch n.Func {
	case "sma", "ema", "min", "max", "count", "countTrue":
		if len(n.Args) != 2 {
			return Value{}, fmt.Errorf("%s expects 2 arguments, got %d", n.Func, len(n.Args))
		}
		series, err := evalSeriesArg(n.Args[0], env)
		if err != nil {
			return Value{}, err
		}
		window, err := evalIntArg(n.Args[1], env)
		if err != nil {
			return Value{}, err
		}
		switch n.Func {
		case "sma":
			return seriesValue(indicators.SMA(series, window)), nil
		case "ema":
			return seriesValue(indicators.EMA(series, window)), nil
		case "min":
			return seriesValue(indicators.Min(series, window)), nil
		case "max":
			return seriesValue(indicators.Max(series, window)), nil
		case "count":
			return seriesValue(indicators.Count(series, window)), nil
		case "countTrue":
			return seriesValue(indicators.CountTrue(series, window)), nil
		}
	case "prv", "change":
		// The lookback defaults to 1 when omitted.
		if len(n.Args) != 1 && len(n.Args) != 2 {
			return Value{}, fmt.Errorf("%s expects 1 or 2 arguments, got %d", n.Func, len(n.Args))
		}
		series, err := evalSeriesArg(n.Args[0], env)
		if err != nil {
			return Value{}, err
		}
		k := 1
		if len(n.Args) == 2 {
			k, err = evalIntArg(n.Args[1], env)
			if err != nil {
				return Value{}, err
			}
		}
		if n.Func == "prv" {
			return seriesValue(indicators.Prv(series, k)), nil
		}
		return seriesValue(indicators.Change(series, k)), nil
	}
	return Value{}, fmt.Errorf("unknown function %q", n.Func)
}

func evalSeriesArg(node Node, env *Env) ([]float64, error) {
	v, err := Evaluate(node, env)
	if err != nil {
		return nil, err
	}
	switch v.Kind {
	case KindSeries:
		return v.Series, nil
	case KindBoolSeries:
		out := make([]float64, len(v.BoolSeries))
		for i, b := range v.BoolSeries {
			out[i] = boolToFloat(b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a series argument")
	}
}

func evalIntArg(node Node, env *Env) (int, error) {
	v, err := Evaluate(node, env)
	if err != nil {
		return 0, err
	}
	num, err := scalarNum(v)
	if err != nil {
		return 0, err
	}
	return int(num), nil
}
