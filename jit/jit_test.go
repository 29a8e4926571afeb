// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/types/matrix"
)

func init() {
	klog.InitFlags(nil)
}

func TestApply_AddSigned8(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[int8](1, 2, 2, 1, []int8{-1, -2, 3, 4})
	dst := NewUnary(ctx, AsKernel(Add(1))).Apply(src)
	require.Equal(t, matrix.S8, dst.Type())
	require.Equal(t, src.Hash, dst.Hash)
	require.Equal(t, []int8{0, -1, 4, 5}, matrix.Flat[int8](dst))
}

func TestApply_AbsFloat32(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1.5, -2.5, 3.5, -4.5})
	dst := NewUnary(ctx, AsKernel(Abs())).Apply(src)
	require.Equal(t, matrix.F32, dst.Type())
	require.Equal(t, []float32{1.5, 2.5, 3.5, 4.5}, matrix.Flat[float32](dst))
}

func TestApply_SquareFloat32(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1, 2, 3, 4})
	dst := NewUnary(ctx, AsKernel(Square())).Apply(src)
	require.Equal(t, []float32{1, 4, 9, 16}, matrix.Flat[float32](dst))
}

func TestApply_QuantizeToU8(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 2, 1, []float32{0, 128, 255, 300})
	dst := NewUnary(ctx, AsKernel(Quantize(1, 0))).Apply(src)
	require.Equal(t, matrix.U8, dst.Type())
	require.Equal(t, []uint8{0, 128, 255, 255}, matrix.Flat[uint8](dst))
}

func TestCompileCounter_OncePerFingerprint(t *testing.T) {
	ctx := NewContext()
	u := NewUnary(ctx, AsKernel(Add(1)))

	s8 := matrix.FromFlat[int8](1, 2, 2, 1, []int8{1, 2, 3, 4})
	f32 := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1, 2, 3, 4})

	u.Apply(s8)
	require.EqualValues(t, 1, ctx.CompiledKernels())
	u.Apply(f32)
	require.EqualValues(t, 2, ctx.CompiledKernels())

	// Switching back to a seen fingerprint is a lookup, not a recompile,
	// even with different extents.
	u.Apply(s8)
	u.Apply(matrix.FromFlat[int8](1, 3, 3, 1, make([]int8, 9)))
	require.EqualValues(t, 2, ctx.CompiledKernels())
}

func TestSameConfiguration_SharesCompiledCode(t *testing.T) {
	ctx := NewContext()
	m := matrix.FromFlat[int8](1, 2, 2, 1, []int8{1, 2, 3, 4})

	a := NewUnary(ctx, AsKernel(Add(1)))
	b := NewUnary(ctx, AsKernel(Add(1)))
	require.Equal(t, []int8{2, 3, 4, 5}, matrix.Flat[int8](a.Apply(m)))
	require.Equal(t, []int8{2, 3, 4, 5}, matrix.Flat[int8](b.Apply(m)))
	require.EqualValues(t, 1, ctx.CompiledKernels())

	// A different argument is a different family.
	c := NewUnary(ctx, AsKernel(Add(2)))
	require.Equal(t, []int8{3, 4, 5, 6}, matrix.Flat[int8](c.Apply(m)))
	require.EqualValues(t, 2, ctx.CompiledKernels())
}

func TestConcurrentFirstDispatch_CompilesOnce(t *testing.T) {
	ctx := NewContext()
	u := NewUnary(ctx, AsKernel(Square()))

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			vals := make([]int32, 64)
			for i := range vals {
				vals[i] = int32(i - 32)
			}
			src := matrix.FromFlat[int32](1, 8, 8, 1, vals)
			got := matrix.Flat[int32](u.Apply(src))
			for i, v := range vals {
				if !assert.Equal(t, v*v, got[i]) {
					return
				}
			}
		}()
	}
	close(start)
	wg.Wait()
	require.EqualValues(t, 1, ctx.CompiledKernels())
}

func TestProject_MatchesApply(t *testing.T) {
	ctx := NewContext()
	u := Stitched(ctx, Scale(2), Add(-3))

	vals := make([]float32, 3*4*5*2)
	for i := range vals {
		vals[i] = float32(i%17) - 8.5
	}
	src := matrix.FromFlat[float32](3, 4, 5, 2, vals)

	want := u.Apply(src)
	got := u.Project(src)
	require.Equal(t, want.Hash, got.Hash)
	require.Equal(t, want.Channels, got.Channels)
	require.Equal(t, want.Columns, got.Columns)
	require.Equal(t, want.Rows, got.Rows)
	require.Equal(t, want.Frames, got.Frames)
	require.Equal(t, matrix.Flat[float32](want), matrix.Flat[float32](got))
}

func TestTrampoline_RebindsAfterFamilySwitch(t *testing.T) {
	ctx := NewContext()
	u := NewUnary(ctx, AsKernel(Add(1)))

	s8 := matrix.FromFlat[int8](1, 2, 2, 1, []int8{1, 2, 3, 4})
	tramp := u.Trampoline(s8)

	var dst matrix.Matrix
	tramp(&s8, &dst)
	require.Equal(t, []int8{2, 3, 4, 5}, matrix.Flat[int8](dst))

	// Move the family's published specialization to f32, then call the s8
	// trampoline again: its guard re-binds the family to its own kernel.
	f32 := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1, 2, 3, 4})
	require.Equal(t, []float32{2, 3, 4, 5}, matrix.Flat[float32](u.Apply(f32)))

	var dst2 matrix.Matrix
	tramp(&s8, &dst2)
	require.Equal(t, s8.Hash, dst2.Hash)
	require.Equal(t, []int8{2, 3, 4, 5}, matrix.Flat[int8](dst2))
}

func TestSeparateContexts_DoNotShare(t *testing.T) {
	a, b := NewContext(), NewContext()
	m := matrix.FromFlat[int8](1, 2, 2, 1, []int8{1, 2, 3, 4})
	NewUnary(a, AsKernel(Add(1))).Apply(m)
	NewUnary(b, AsKernel(Add(1))).Apply(m)
	require.EqualValues(t, 1, a.CompiledKernels())
	require.EqualValues(t, 1, b.CompiledKernels())
}

func TestFinalize_FailsFurtherCompiles(t *testing.T) {
	ctx := NewContext()
	m := matrix.FromFlat[int8](1, 2, 2, 1, []int8{1, 2, 3, 4})
	NewUnary(ctx, AsKernel(Add(1))).Apply(m)
	ctx.Finalize()
	require.Panics(t, func() {
		NewUnary(ctx, AsKernel(Square())).Apply(m)
	})
}

func TestSelfCheck(t *testing.T) {
	require.NotPanics(t, func() { SelfCheck(NewContext()) })
}

// pointwiseSum exercises the two-input dispatch path; no built-in binary
// kernel ships.
type pointwiseSum struct{}

func (pointwiseSum) Name() string { return "pointwise_sum" }
func (pointwiseSum) Args() string { return "" }

func (pointwiseSum) Preallocate(a, b matrix.Matrix) matrix.Matrix { return a.Header() }

func (pointwiseSum) Build(a, b, dst *MatrixBuilder, i *Value) {
	av := a.Cast(a.Load(i), dst)
	bv := b.Cast(b.Load(i), dst)
	dst.Store(i, dst.Add(av, bv))
}

func TestBinary_PointwiseSum(t *testing.T) {
	ctx := NewContext()
	u := NewBinary(ctx, pointwiseSum{})

	a := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1, 2, 3, 4})
	b := matrix.FromFlat[float32](1, 2, 2, 1, []float32{10, 20, 30, 40})
	dst := u.Apply(a, b)
	require.Equal(t, []float32{11, 22, 33, 44}, matrix.Flat[float32](dst))
	require.EqualValues(t, 1, ctx.CompiledKernels())

	// Same pair of fingerprints: reuse. A different second fingerprint is a
	// new specialization.
	u.Apply(a, b)
	require.EqualValues(t, 1, ctx.CompiledKernels())
	bi := matrix.FromFlat[int32](1, 2, 2, 1, []int32{10, 20, 30, 40})
	require.Equal(t, []float32{11, 22, 33, 44}, matrix.Flat[float32](u.Apply(a, bi)))
	require.EqualValues(t, 2, ctx.CompiledKernels())

	require.Equal(t, matrix.Flat[float32](dst), matrix.Flat[float32](u.Project(a, b)))
}
