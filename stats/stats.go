// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package stats implements the numeric slice utilities shared by the
// transform framework: order statistics, moments, cumulative sums, random
// sampling, and outlier filtering.
//
// All functions operate on plain Go slices. Violated preconditions (an empty
// slice where a value must be returned, a non-positive sampling weight) are
// programming errors and panic; nothing in this package returns an error.
package stats

import (
	"math"
	"math/rand"
	"slices"
	"sort"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// Number constrains the numeric utilities to any integer or floating-point
// type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Pair couples two values. Sort produces value/index pairs and SplitPairs
// takes them apart again.
type Pair[T, U any] struct {
	First  T
	Second U
}

// Sort returns vals as (value, original index) pairs ordered by value.
// Equal values keep ascending index order; descending reverses the whole
// sequence, indexes included.
func Sort[T constraints.Ordered](vals []T, descending bool) []Pair[T, int] {
	pairs := make([]Pair[T, int], len(vals))
	for ii, v := range vals {
		pairs[ii] = Pair[T, int]{First: v, Second: ii}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].First != pairs[j].First {
			return pairs[i].First < pairs[j].First
		}
		return pairs[i].Second < pairs[j].Second
	})
	if descending {
		slices.Reverse(pairs)
	}
	return pairs
}

// MinMax returns the smallest and largest value in vals along with the index
// of their first occurrence. It panics on an empty slice.
func MinMax[T constraints.Ordered](vals []T) (minVal, maxVal T, minIndex, maxIndex int) {
	if len(vals) == 0 {
		exceptions.Panicf("stats: MinMax of an empty slice")
	}
	minVal, maxVal = vals[0], vals[0]
	for ii := 1; ii < len(vals); ii++ {
		v := vals[ii]
		if v < minVal {
			minVal, minIndex = v, ii
		} else if v > maxVal {
			maxVal, maxIndex = v, ii
		}
	}
	return
}

// Mean returns the arithmetic mean of vals, or 0 for an empty slice.
func Mean[T Number](vals []T) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += float64(v)
	}
	return sum / float64(len(vals))
}

// MeanStdDev returns the mean and the population standard deviation of vals.
// An empty slice yields (0, 0).
func MeanStdDev[T Number](vals []T) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean = Mean(vals)
	variance := 0.0
	for _, v := range vals {
		delta := float64(v) - mean
		variance += delta * delta
	}
	return mean, math.Sqrt(variance / float64(len(vals)))
}

// Median returns the middle value of vals after sorting; for an even count
// it is the upper of the two middle values. vals is not modified. It panics
// on an empty slice.
func Median[T Number](vals []T) T {
	if len(vals) == 0 {
		exceptions.Panicf("stats: Median of an empty slice")
	}
	sorted := sortedCopy(vals)
	return sorted[len(sorted)/2]
}

// Quartiles returns the first quartile, the median, and the third quartile
// of vals, each taken directly from the sorted values without interpolation.
// It panics on an empty slice.
func Quartiles[T Number](vals []T) (q1, median, q3 T) {
	if len(vals) == 0 {
		exceptions.Panicf("stats: Quartiles of an empty slice")
	}
	sorted := sortedCopy(vals)
	n := len(sorted)
	return sorted[n/4], sorted[n/2], sorted[3*n/4]
}

// Mode returns the most frequent value in vals. When several values are tied
// for the highest count, which of them is returned is unspecified. It panics
// on an empty slice.
func Mode[T comparable](vals []T) T {
	if len(vals) == 0 {
		exceptions.Panicf("stats: Mode of an empty slice")
	}
	counts := make(map[T]int, len(vals))
	for _, v := range vals {
		counts[v]++
	}
	var best T
	bestCount := 0
	for v, c := range counts {
		if c > bestCount {
			best, bestCount = v, c
		}
	}
	return best
}

// CumSum returns the running sum of vals with a leading zero, so the result
// has len(vals)+1 entries and result[i+1]-result[i] == vals[i].
func CumSum[T Number](vals []T) []T {
	out := make([]T, 1, len(vals)+1)
	for _, v := range vals {
		out = append(out, out[len(out)-1]+v)
	}
	return out
}

// RandSample draws n integers from [0, max) using rng. With unique set, no
// index repeats; uniqueness is enforced by rejection, which degrades as n
// approaches max. It panics when max is not positive or when n unique
// samples cannot exist.
func RandSample(rng *rand.Rand, n, max int, unique bool) []int {
	if max <= 0 {
		exceptions.Panicf("stats: RandSample range must be positive, got max=%d", max)
	}
	if unique && n > max {
		exceptions.Panicf("stats: cannot draw %d unique samples from %d values", n, max)
	}
	samples := make([]int, 0, n)
	for len(samples) < n {
		j := rng.Intn(max)
		if unique && slices.Contains(samples, j) {
			continue
		}
		samples = append(samples, j)
	}
	return samples
}

// WeightedSample draws n indexes into weights, each index selected with
// probability proportional to its weight. Weights must be non-negative; the
// total must be positive or WeightedSample panics. With unique set, no index
// repeats (enforced by rejection). A zero-weight index is never selected
// unless the draw lands exactly on its collapsed span boundary, which can
// only happen for the span starting at zero.
func WeightedSample[T constraints.Float](rng *rand.Rand, n int, weights []T, unique bool) []int {
	if unique && n > len(weights) {
		exceptions.Panicf("stats: cannot draw %d unique samples from %d weights", n, len(weights))
	}
	cdf := CumSum(weights)
	total := cdf[len(cdf)-1]
	if total <= 0 {
		exceptions.Panicf("stats: weighted sampling requires a positive total weight, got %v", total)
	}
	for ii := range cdf {
		cdf[ii] /= total
	}
	samples := make([]int, 0, n)
	for len(samples) < n {
		r := T(rng.Float64())
		for j := 0; j < len(weights); j++ {
			if r >= cdf[j] && r <= cdf[j+1] {
				if !unique || !slices.Contains(samples, j) {
					samples = append(samples, j)
				}
				break
			}
		}
	}
	return samples
}

// Unique returns the distinct values of vals in ascending order, the index
// in vals of each distinct value's last occurrence, and for every element of
// vals its position in the distinct list (so unique[inverse[i]] == vals[i]).
// It panics on an empty slice.
func Unique[T constraints.Ordered](vals []T) (unique []T, lastIndex []int, inverse []int) {
	if len(vals) == 0 {
		exceptions.Panicf("stats: Unique of an empty slice")
	}
	pairs := Sort(vals, false)
	unique = make([]T, 0, len(vals))
	lastIndex = make([]int, 0, len(vals))
	position := make(map[T]int, len(vals))
	for _, pair := range pairs {
		if len(unique) > 0 && pair.First == unique[len(unique)-1] {
			// Ties sort by ascending index, so the last pair of a run
			// carries the highest original index.
			lastIndex[len(lastIndex)-1] = pair.Second
			continue
		}
		position[pair.First] = len(unique)
		unique = append(unique, pair.First)
		lastIndex = append(lastIndex, pair.Second)
	}
	inverse = make([]int, len(vals))
	for ii, v := range vals {
		inverse[ii] = position[v]
	}
	return
}

// SplitPairs unzips pairs into a slice of first values and a slice of second
// values.
func SplitPairs[T, U any](pairs []Pair[T, U]) (firsts []T, seconds []U) {
	firsts = make([]T, len(pairs))
	seconds = make([]U, len(pairs))
	for ii, pair := range pairs {
		firsts[ii] = pair.First
		seconds[ii] = pair.Second
	}
	return
}

// RemoveOutliers returns vals, in original order, with every value outside
// 1.5 interquartile ranges of the quartiles removed. The bounds are
// converted to T before comparing, truncating toward zero for integer types.
// It panics on an empty slice.
func RemoveOutliers[T Number](vals []T) []T {
	q1, _, q3 := Quartiles(vals)
	iqr := float64(q3) - float64(q1)
	lo := T(float64(q1) - 1.5*iqr)
	hi := T(float64(q3) + 1.5*iqr)
	kept := make([]T, 0, len(vals))
	for _, v := range vals {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	return kept
}

// Downsample sorts vals and evenly samples k of them, always keeping both
// extremes. When vals already has at most k entries the sorted values are
// returned unchanged. It panics when k < 2 and a reduction is required.
func Downsample[T Number](vals []T, k int) []T {
	sorted := sortedCopy(vals)
	if len(sorted) <= k {
		return sorted
	}
	if k < 2 {
		exceptions.Panicf("stats: Downsample to k=%d cannot span %d values", k, len(vals))
	}
	out := make([]T, k)
	size := int64(len(sorted))
	for ii := range out {
		out[ii] = sorted[int64(ii)*(size-1)/int64(k-1)]
	}
	return out
}

func sortedCopy[T Number](vals []T) []T {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	return sorted
}
