// Package polarpipe provides the shared numeric helpers used by the
// extraction, aggregation, fusion, and comparison stages.
package polarpipe

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of values, skipping non-finite entries.
func Mean(values []float64) float64 {
	total := 0.0
	count := 0
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		total += v
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// Median returns the 0.5 quantile of values.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// Quantile returns the q-th quantile of values using linear interpolation
// between closest ranks. values is not modified.
func Quantile(values []float64, q float64) float64 {
	clean := finiteOnly(values)
	if len(clean) == 0 {
		return 0
	}
	sort.Float64s(clean)
	if q <= 0 {
		return clean[0]
	}
	if q >= 1 {
		return clean[len(clean)-1]
	}
	pos := q * float64(len(clean)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return clean[lo]
	}
	frac := pos - float64(lo)
	return clean[lo]*(1-frac) + clean[hi]*frac
}

// Min returns the smallest finite value, or 0 when there is none.
func Min(values []float64) float64 {
	min := 0.0
	found := false
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		if !found || v < min {
			min = v
			found = true
		}
	}
	return min
}

// Max returns the largest finite value, or 0 when there is none.
func Max(values []float64) float64 {
	max := 0.0
	found := false
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		if !found || v > max {
			max = v
			found = true
		}
	}
	return max
}

// Sum returns the sum of all finite values.
func Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		total += v
	}
	return total
}

// SampleStdDev returns the sample (n-1) standard deviation. ok is false when
// fewer than two finite values are present.
func SampleStdDev(values []float64) (sd float64, ok bool) {
	clean := finiteOnly(values)
	if len(clean) < 2 {
		return 0, false
	}
	mean := Mean(clean)
	sumSq := 0.0
	for _, v := range clean {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(clean)-1)), true
}

// Round rounds v to the given number of decimal places. Statistics are kept
// at full precision through aggregation; rounding happens only when a summary
// is rendered.
func Round(v float64, places int) float64 {
	if !isFinite(v) {
		return v
	}
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func finiteOnly(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if isFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
