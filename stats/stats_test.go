// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package stats

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSort_PairsCarryOriginalIndexes(t *testing.T) {
	vals := []int{3, 1, 2, 1}
	pairs := Sort(vals, false)
	want := []Pair[int, int]{
		{First: 1, Second: 1},
		{First: 1, Second: 3},
		{First: 2, Second: 2},
		{First: 3, Second: 0},
	}
	assert.Equal(t, want, pairs)

	descending := Sort(vals, true)
	for ii := range want {
		assert.Equal(t, want[len(want)-1-ii], descending[ii])
	}
}

func TestMinMax(t *testing.T) {
	minVal, maxVal, minIdx, maxIdx := MinMax([]int{5, 2, 9, 2, 9})
	assert.Equal(t, 2, minVal)
	assert.Equal(t, 9, maxVal)
	assert.Equal(t, 1, minIdx, "first occurrence of the minimum wins")
	assert.Equal(t, 2, maxIdx, "first occurrence of the maximum wins")

	minVal, maxVal, minIdx, maxIdx = MinMax([]int{7})
	assert.Equal(t, 7, minVal)
	assert.Equal(t, 7, maxVal)
	assert.Equal(t, 0, minIdx)
	assert.Equal(t, 0, maxIdx)

	require.Panics(t, func() { MinMax([]float32{}) })
}

func TestMeanAndStdDev(t *testing.T) {
	vals := []int{2, 4, 4, 4, 5, 5, 7, 9}
	assert.Equal(t, 5.0, Mean(vals))

	mean, stddev := MeanStdDev(vals)
	assert.Equal(t, 5.0, mean)
	assert.Equal(t, 2.0, stddev)

	assert.Equal(t, 0.0, Mean([]float64(nil)))
	mean, stddev = MeanStdDev([]float64(nil))
	assert.Equal(t, 0.0, mean)
	assert.Equal(t, 0.0, stddev)
}

func TestMedian(t *testing.T) {
	vals := []int{5, 1, 3}
	assert.Equal(t, 3, Median(vals))
	assert.Equal(t, []int{5, 1, 3}, vals, "input must not be reordered")

	// Even count takes the upper of the two middle values.
	assert.Equal(t, 3, Median([]int{4, 1, 3, 2}))

	require.Panics(t, func() { Median([]float64{}) })
}

func TestQuartiles(t *testing.T) {
	vals := []int{8, 3, 5, 1, 7, 2, 6, 4}
	q1, median, q3 := Quartiles(vals)
	assert.Equal(t, 3, q1)
	assert.Equal(t, 5, median)
	assert.Equal(t, 7, q3)

	require.Panics(t, func() { Quartiles([]int{}) })
}

func TestMode(t *testing.T) {
	assert.Equal(t, 2, Mode([]int{1, 2, 2, 3, 2}))

	// Ties resolve to one of the tied values, which one is unspecified.
	got := Mode([]int{4, 4, 7, 7})
	assert.Contains(t, []int{4, 7}, got)

	require.Panics(t, func() { Mode([]string{}) })
}

func TestCumSum(t *testing.T) {
	assert.Equal(t, []int{0, 1, 3, 6}, CumSum([]int{1, 2, 3}))
	assert.Equal(t, []float64{0, 0.5, 0.75}, CumSum([]float64{0.5, 0.25}))
	assert.Equal(t, []int{0}, CumSum([]int(nil)))
}

func TestRandSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	samples := RandSample(rng, 100, 10, false)
	require.Len(t, samples, 100)
	for _, s := range samples {
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 10)
	}

	unique := RandSample(rng, 10, 10, true)
	require.Len(t, unique, 10)
	seen := make(map[int]bool)
	for _, s := range unique {
		assert.False(t, seen[s], "unique sample %d repeated", s)
		seen[s] = true
	}

	assert.Empty(t, RandSample(rng, 0, 5, false))

	require.Panics(t, func() { RandSample(rng, 1, 0, false) })
	require.Panics(t, func() { RandSample(rng, 11, 10, true) })
}

func TestWeightedSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	weights := []float64{0, 1, 0, 3}
	samples := WeightedSample(rng, 1000, weights, false)
	require.Len(t, samples, 1000)
	counts := make(map[int]int)
	for _, s := range samples {
		counts[s]++
	}
	assert.Zero(t, counts[2], "a zero-weight span between non-zero spans is unreachable")
	assert.Greater(t, counts[3], counts[1], "weight 3 must dominate weight 1")
	assert.Greater(t, counts[1], 0)

	unique := WeightedSample(rng, 4, []float64{1, 1, 1, 1}, true)
	require.Len(t, unique, 4)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, unique)

	require.Panics(t, func() { WeightedSample(rng, 1, []float64{0, 0}, false) })
	require.Panics(t, func() { WeightedSample(rng, 1, []float64{-1, 0.5}, false) })
	require.Panics(t, func() { WeightedSample(rng, 3, []float64{1, 1}, true) })
}

func TestUnique(t *testing.T) {
	vals := []int{9, 1, 9, 3, 1}
	unique, lastIndex, inverse := Unique(vals)
	assert.Equal(t, []int{1, 3, 9}, unique)
	assert.Equal(t, []int{4, 3, 2}, lastIndex)
	assert.Equal(t, []int{2, 0, 2, 1, 0}, inverse)
	for ii, v := range vals {
		assert.Equal(t, v, unique[inverse[ii]])
	}

	require.Panics(t, func() { Unique([]int{}) })
}

func TestSplitPairs(t *testing.T) {
	pairs := []Pair[int, string]{
		{First: 1, Second: "a"},
		{First: 2, Second: "b"},
	}
	firsts, seconds := SplitPairs(pairs)
	assert.Equal(t, []int{1, 2}, firsts)
	assert.Equal(t, []string{"a", "b"}, seconds)
}

func TestRemoveOutliers(t *testing.T) {
	// Sorted: {1,2,3,4,5,6,7,8,100}; q1=3, q3=7, bounds [-3, 13].
	vals := []int{5, 1, 100, 3, 2, 4, 8, 7, 6}
	assert.Equal(t, []int{5, 1, 3, 2, 4, 8, 7, 6}, RemoveOutliers(vals))

	// Sorted: {0,10,11,12,13,100}; q1=10, q3=13, iqr=3, bounds
	// truncate to [5, 17].
	assert.Equal(t, []int{10, 11, 12, 13}, RemoveOutliers([]int{0, 10, 11, 12, 13, 100}))

	assert.Equal(t, []float64{1, 2, 3, 4}, RemoveOutliers([]float64{1, 2, 3, 4, 100}))
}

func TestDownsample(t *testing.T) {
	vals := []int{7, 0, 9, 2, 4, 6, 8, 1, 3, 5}
	assert.Equal(t, []int{0, 2, 4, 6, 9}, Downsample(vals, 5))

	assert.Equal(t, []int{1, 2, 3}, Downsample([]int{3, 1, 2}, 5), "short input is only sorted")
	assert.Equal(t, []int{1, 2}, Downsample([]int{2, 1}, 2))

	require.Panics(t, func() { Downsample([]int{3, 1, 2}, 1) })
}
