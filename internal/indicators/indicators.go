// Package indicators implements the rolling-window technical indicator
// primitives the scanner and expression evaluator build on: sma, ema, prv,
// min, max, count, countTrue and change. Rolling windows use min_periods=1,
// the exponential average uses the unadjusted recursive form, and
// percentage change collapses +/-Inf to NaN. All primitives are pure
// functions over []float64; they never mutate their input.
package indicators

import "math"

// SMA computes the simple moving average over a trailing window, with
// min_periods=1: the first window-1 points average over however many
// values are available so far rather than emitting NaN.
func SMA(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	var sum float64
	for i, v := range series {
		sum += v
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		} else if lo > 0 {
			sum -= series[lo-1]
		}
		count := i - lo + 1
		out[i] = sum / float64(count)
	}
	return out
}

// EMA computes the exponential moving average with no bias adjustment: the
// smoothing factor is alpha = 2/(window+1), and the first value seeds the
// recursion directly rather than being itself smoothed.
func EMA(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 {
		return out
	}
	alpha := 2.0 / (float64(window) + 1.0)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

// Prv shifts the series back by lookback positions; the first lookback
// entries have no prior value and are NaN.
func Prv(series []float64, lookback int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		if i-lookback < 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = series[i-lookback]
	}
	return out
}

// Min computes the rolling minimum over a trailing window, min_periods=1.
func Min(series []float64, window int) []float64 {
	return rollingReduce(series, window, math.Inf(1), math.Min)
}

// Max computes the rolling maximum over a trailing window, min_periods=1.
func Max(series []float64, window int) []float64 {
	return rollingReduce(series, window, math.Inf(-1), math.Max)
}

func rollingReduce(series []float64, window int, seed float64, reduce func(a, b float64) float64) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		acc := seed
		for j := lo; j <= i; j++ {
			acc = reduce(acc, series[j])
		}
		out[i] = acc
	}
	return out
}

// Count computes the rolling count of non-NaN points over a trailing
// window, min_periods=1.
func Count(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		n := 0
		for j := lo; j <= i; j++ {
			if !math.IsNaN(series[j]) {
				n++
			}
		}
		out[i] = float64(n)
	}
	return out
}

// CountTrue sums a rolling window of 0/1-valued points (the result of a
// boolean condition encoded as float64), min_periods=1.
func CountTrue(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	var sum float64
	for i, v := range series {
		sum += v
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		} else if lo > 0 {
			sum -= series[lo-1]
		}
		out[i] = sum
	}
	return out
}

// Change computes percentage change over the given number of periods:
// (series[i] - series[i-periods]) / series[i-periods]. A zero denominator
// produces +/-Inf in ordinary floating point, which this collapses to NaN
// so a division by zero never leaks an infinity into a result row.
func Change(series []float64, periods int) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		out[i] = math.NaN()
	}
	for i := periods; i < len(series); i++ {
		prev := series[i-periods]
		if prev == 0 {
			continue
		}
		v := (series[i] - prev) / prev
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}
