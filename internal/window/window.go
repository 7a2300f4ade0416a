// Package window computes trailing-window statistics over ordered series.
// Every index where a statistic is not defined is reported as an invalid
// Value rather than as an error.
package window

import "math"

// Value is a float that may be undefined at a position.
type Value struct {
	Float float64
	Valid bool
}

// Some wraps a defined value.
func Some(v float64) Value {
	return Value{Float: v, Valid: true}
}

// Values lifts a dense slice into defined Values.
func Values(in []float64) []Value {
	out := make([]Value, len(in))
	for i, v := range in {
		out[i] = Some(v)
	}
	return out
}

// RollingMeanStd returns the mean and population standard deviation of the
// trailing w values ending at each index. Indices with fewer than w values of
// history are undefined.
func RollingMeanStd(values []float64, w int) (means, stds []Value) {
	means = make([]Value, len(values))
	stds = make([]Value, len(values))
	if w < 1 {
		return means, stds
	}

	for i := range values {
		if i+1 < w {
			continue
		}
		slice := values[i+1-w : i+1]

		sum := 0.0
		for _, v := range slice {
			sum += v
		}
		mean := sum / float64(w)

		variance := 0.0
		for _, v := range slice {
			diff := v - mean
			variance += diff * diff
		}
		variance /= float64(w)

		means[i] = Some(mean)
		stds[i] = Some(math.Sqrt(variance))
	}
	return means, stds
}

// RollingPctChange compares each value with the one exactly w positions
// earlier: (v[i]-v[i-w]) / |v[i-w]| * 100. Undefined when there is no such
// position or it holds zero.
func RollingPctChange(values []float64, w int) []Value {
	changes := make([]Value, len(values))
	if w < 1 {
		return changes
	}

	for i := range values {
		j := i - w
		if j < 0 || values[j] == 0 {
			continue
		}
		changes[i] = Some((values[i] - values[j]) / math.Abs(values[j]) * 100)
	}
	return changes
}

// MovingAverage smooths a series that may contain gaps. The average at i is
// defined only when all w trailing positions hold a value; a single gap in
// the window leaves the output undefined.
func MovingAverage(values []Value, w int) []Value {
	out := make([]Value, len(values))
	if w < 1 {
		return out
	}

	for i := range values {
		start := i + 1 - w
		if start < 0 {
			continue
		}

		sum := 0.0
		defined := 0
		for _, v := range values[start : i+1] {
			if !v.Valid {
				continue
			}
			sum += v.Float
			defined++
		}
		if defined < w {
			continue
		}
		out[i] = Some(sum / float64(w))
	}
	return out
}
