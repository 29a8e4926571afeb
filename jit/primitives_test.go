// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caotto/openbr/types/matrix"
)

func TestScaleAddRoundTrip_Float32(t *testing.T) {
	ctx := NewContext()
	// Dyadic values and a power-of-two scale keep every step exact.
	src := matrix.FromFlat[float32](1, 3, 2, 1, []float32{0.25, 1.5, -2.75, 3, -0.5, 8.125})
	u := Stitched(ctx, Scale(4), Add(7), Add(-7), Scale(0.25))
	require.Equal(t, matrix.Flat[float32](src), matrix.Flat[float32](u.Apply(src)))
}

func TestScaleAddRoundTrip_Float32Tolerance(t *testing.T) {
	ctx := NewContext()
	vals := []float32{0.1, -1.7, 2.3, 9.9, -0.01, 5}
	src := matrix.FromFlat[float32](1, 3, 2, 1, vals)
	u := Stitched(ctx, Scale(3), Add(0.1), Add(-0.1), Scale(1.0/3))
	got := matrix.Flat[float32](u.Apply(src))
	for i, v := range vals {
		assert.InDelta(t, v, got[i], 1e-4)
	}
}

func TestScaleAddRoundTrip_Signed16(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[int16](1, 3, 2, 1, []int16{0, 1, -1, 1000, -32768, 32767})
	u := Stitched(ctx, Scale(-1), Add(5), Add(-5), Scale(-1))
	require.Equal(t, matrix.Flat[int16](src), matrix.Flat[int16](u.Apply(src)))
}

func TestScale_TruncatesConstantInIntegerTypes(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[uint8](1, 2, 1, 1, []uint8{10, 200})
	dst := NewUnary(ctx, AsKernel(Scale(2.9))).Apply(src)
	// The constant materializes as u8(2): 10*2=20, 200*2 wraps to 144.
	require.Equal(t, []uint8{20, 144}, matrix.Flat[uint8](dst))
}

func TestSquare_WrapsPerElementType(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[uint8](1, 3, 1, 1, []uint8{4, 16, 250})
	dst := NewUnary(ctx, AsKernel(Square())).Apply(src)
	require.Equal(t, []uint8{16, 0, 36}, matrix.Flat[uint8](dst)) // 250*250 mod 256
}

func TestPow_SquareAgreement(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 2, 1, []float32{1.5, -2, 0.25, 3})
	pow := NewUnary(ctx, AsKernel(Pow(2))).Apply(src)
	sq := NewUnary(ctx, AsKernel(Square())).Apply(src)
	require.Equal(t, matrix.F32, pow.Type())
	require.Equal(t, matrix.Flat[float32](sq), matrix.Flat[float32](pow))
}

func TestPow_IntegralExponents(t *testing.T) {
	ctx := NewContext()
	vals := []float32{1, 1.5, 2, 0.5, 3, -1.5}
	src := matrix.FromFlat[float32](1, 3, 2, 1, vals)
	for _, n := range []int{0, 1, 3, 5} {
		dst := NewUnary(ctx, AsKernel(Pow(float64(n)))).Apply(src)
		got := matrix.Flat[float32](dst)
		for i, v := range vals {
			want := float32(math.Pow(float64(v), float64(n)))
			assert.Equal(t, want, got[i], "x=%v n=%d", v, n)
		}
	}
}

func TestPow_NegativeAndFractionalExponents(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 3, 1, 1, []float32{2, 4, 0.5})
	inv := NewUnary(ctx, AsKernel(Pow(-1))).Apply(src)
	require.Equal(t, []float32{0.5, 0.25, 2}, matrix.Flat[float32](inv))

	roots := matrix.FromFlat[float32](1, 3, 1, 1, []float32{4, 9, 2.25})
	sqrt := NewUnary(ctx, AsKernel(Pow(0.5))).Apply(roots)
	require.Equal(t, []float32{2, 3, 1.5}, matrix.Flat[float32](sqrt))
}

func TestPow_PromotesToFloat(t *testing.T) {
	ctx := NewContext()
	u8 := matrix.FromFlat[uint8](1, 3, 1, 1, []uint8{0, 3, 15})
	dst := NewUnary(ctx, AsKernel(Pow(2))).Apply(u8)
	require.Equal(t, matrix.F32, dst.Type())
	require.Equal(t, []float32{0, 9, 225}, matrix.Flat[float32](dst))

	f64 := matrix.FromFlat[float64](1, 2, 1, 1, []float64{2, 3})
	wide := NewUnary(ctx, AsKernel(Pow(3))).Apply(f64)
	require.Equal(t, matrix.F64, wide.Type())
	require.Equal(t, []float64{8, 27}, matrix.Flat[float64](wide))
}

func TestCast_RoundTripWidensExactly(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[uint8](1, 3, 2, 1, []uint8{0, 1, 127, 128, 254, 255})
	u := Stitched(ctx, Cast(matrix.F32), Cast(matrix.U8))
	dst := u.Apply(src)
	require.Equal(t, matrix.U8, dst.Type())
	require.Equal(t, matrix.Flat[uint8](src), matrix.Flat[uint8](dst))
}

func TestCast_NarrowingWraps(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[int32](1, 3, 1, 1, []int32{300, -1, 128})
	dst := NewUnary(ctx, AsKernel(Cast(matrix.U8))).Apply(src)
	require.Equal(t, []uint8{44, 255, 128}, matrix.Flat[uint8](dst))
}

func TestCast_FloatToIntTruncatesTowardZero(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 4, 1, 1, []float32{3.9, -3.9, 0.5, -0.5})
	dst := NewUnary(ctx, AsKernel(Cast(matrix.S16))).Apply(src)
	require.Equal(t, []int16{3, -3, 0, 0}, matrix.Flat[int16](dst))
}

func TestCast_RejectsInvalidType(t *testing.T) {
	require.Panics(t, func() { Cast(matrix.Fingerprint(0x7f)) })
}

func TestAbs_Float32(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 4, 1, 1, []float32{-0.5, 0, 2.25, -100})
	dst := NewUnary(ctx, AsKernel(Abs())).Apply(src)
	require.Equal(t, []float32{0.5, 0, 2.25, 100}, matrix.Flat[float32](dst))
}

func TestAbs_SignedMinWraps(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[int16](1, 4, 1, 1, []int16{-5, 5, 0, math.MinInt16})
	dst := NewUnary(ctx, AsKernel(Abs())).Apply(src)
	require.Equal(t, []int16{5, 5, 0, math.MinInt16}, matrix.Flat[int16](dst))
}

func TestAbs_UnsignedIdentity(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[uint8](1, 3, 1, 1, []uint8{0, 7, 255})
	dst := NewUnary(ctx, AsKernel(Abs())).Apply(src)
	require.Equal(t, matrix.Flat[uint8](src), matrix.Flat[uint8](dst))
}

func TestClamp_PinsOutOfRange(t *testing.T) {
	ctx := NewContext()
	f32 := matrix.FromFlat[float32](1, 4, 1, 1, []float32{-10, 0, 5.5, 300})
	require.Equal(t, []float32{0, 0, 5.5, 255},
		matrix.Flat[float32](NewUnary(ctx, AsKernel(Clamp(0, 255))).Apply(f32)))

	s32 := matrix.FromFlat[int32](1, 4, 1, 1, []int32{-5, 0, 100, 300})
	require.Equal(t, []int32{0, 0, 100, 255},
		matrix.Flat[int32](NewUnary(ctx, AsKernel(Clamp(0, 255))).Apply(s32)))
}

func TestClamp_DisabledBounds(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 3, 1, 1, []float32{-1e30, 5, 1e30})

	hiOnly := NewUnary(ctx, AsKernel(Clamp(-math.MaxFloat64, 10))).Apply(src)
	require.Equal(t, []float32{-1e30, 5, 10}, matrix.Flat[float32](hiOnly))

	loOnly := NewUnary(ctx, AsKernel(Clamp(0, math.MaxFloat64))).Apply(src)
	require.Equal(t, []float32{0, 5, 1e30}, matrix.Flat[float32](loOnly))
}

func TestStitch_MatchesSequentialApplication(t *testing.T) {
	ctx := NewContext()
	steps := []Stitchable{Scale(2), Add(-1), Square(), Cast(matrix.F64), Add(0.5)}

	vals := make([]float32, 2*3*4*1)
	for i := range vals {
		vals[i] = float32(i)*0.25 - 2
	}
	src := matrix.FromFlat[float32](2, 3, 4, 1, vals)

	fused := Stitched(ctx, steps...).Apply(src)

	seq := src
	for _, s := range steps {
		seq = NewUnary(ctx, AsKernel(s)).Apply(seq)
	}
	require.Equal(t, seq.Hash, fused.Hash)
	require.Equal(t, matrix.Flat[float64](seq), matrix.Flat[float64](fused))
}

func TestStitch_IntegerPipelineExact(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[uint8](1, 4, 1, 1, []uint8{0, 10, 100, 255})
	steps := []Stitchable{Cast(matrix.S32), Scale(3), Add(-30)}

	fused := Stitched(ctx, steps...).Apply(src)
	seq := src
	for _, s := range steps {
		seq = NewUnary(ctx, AsKernel(s)).Apply(seq)
	}
	require.Equal(t, matrix.S32, fused.Type())
	require.Equal(t, []int32{-30, 0, 270, 735}, matrix.Flat[int32](fused))
	require.Equal(t, matrix.Flat[int32](seq), matrix.Flat[int32](fused))
}

func TestStitch_SharesCompiledCodeByConfiguration(t *testing.T) {
	ctx := NewContext()
	m := matrix.FromFlat[float32](1, 2, 1, 1, []float32{1, 2})
	Stitched(ctx, Scale(2), Add(3)).Apply(m)
	Stitched(ctx, Scale(2), Add(3)).Apply(m)
	require.EqualValues(t, 1, ctx.CompiledKernels())
	Stitched(ctx, Scale(2), Add(4)).Apply(m)
	require.EqualValues(t, 2, ctx.CompiledKernels())
}

func TestStitch_RequiresSteps(t *testing.T) {
	require.Panics(t, func() { NewStitch() })
}

func TestApply_EmptyMatrix(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 0, 1, 1, nil)
	u := NewUnary(ctx, AsKernel(Square()))
	dst := u.Apply(src)
	require.Equal(t, src.Hash, dst.Hash)
	require.Empty(t, matrix.Flat[float32](dst))
	require.Empty(t, matrix.Flat[float32](u.Project(src)))
}

func TestMakePrimitive_Descriptions(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 2, 1, []float32{-1, 2, -3, 4})

	cases := []struct {
		desc string
		want []float32
	}{
		{"abs", []float32{1, 2, 3, 4}},
		{"square", []float32{1, 4, 9, 16}},
		{"scale(2)", []float32{-2, 4, -6, 8}},
		{"add(1.5)", []float32{0.5, 3.5, -1.5, 5.5}},
		{"clamp(0,2)", []float32{0, 2, 0, 2}},
		{"stitch(scale(2),add(1))", []float32{-1, 5, -5, 9}},
	}
	for _, tc := range cases {
		p, err := MakePrimitive(tc.desc)
		require.NoError(t, err, tc.desc)
		got := NewUnary(ctx, AsKernel(p)).Apply(src)
		assert.Equal(t, tc.want, matrix.Flat[float32](got), tc.desc)
	}
}

func TestMakePrimitive_CastAndQuantize(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 2, 1, 1, []float32{-4, 260})

	p, err := MakePrimitive("cast(s16)")
	require.NoError(t, err)
	require.Equal(t, []int16{-4, 260}, matrix.Flat[int16](NewUnary(ctx, AsKernel(p)).Apply(src)))

	q, err := MakePrimitive("quantize(1,0)")
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 255}, matrix.Flat[uint8](NewUnary(ctx, AsKernel(q)).Apply(src)))
}

func TestMakePrimitive_ClampDefaults(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 3, 1, 1, []float32{-1e30, 5, 1e30})

	p, err := MakePrimitive("clamp(,10)")
	require.NoError(t, err)
	require.Equal(t, []float32{-1e30, 5, 10},
		matrix.Flat[float32](NewUnary(ctx, AsKernel(p)).Apply(src)))

	p, err = MakePrimitive("clamp(0,)")
	require.NoError(t, err)
	require.Equal(t, []float32{0, 5, 1e30},
		matrix.Flat[float32](NewUnary(ctx, AsKernel(p)).Apply(src)))
}

func TestMakePrimitive_Errors(t *testing.T) {
	for _, desc := range []string{
		"",
		"nosuch",
		"scale",
		"scale(a)",
		"scale(1,2)",
		"clamp(1)",
		"cast(q7)",
		"stitch()",
		"stitch(scale(2",
		"(1)",
	} {
		_, err := MakePrimitive(desc)
		assert.Error(t, err, "description %q", desc)
	}
}

func TestMakeKernel_SumAndFallback(t *testing.T) {
	ctx := NewContext()
	src := matrix.FromFlat[float32](1, 4, 1, 1, []float32{1, 2, 3, 4})

	k, err := MakeKernel("sum(columns)")
	require.NoError(t, err)
	dst := NewUnary(ctx, k).Apply(src)
	require.Equal(t, []float64{10}, matrix.Flat[float64](dst))

	k, err = MakeKernel("scale(2)")
	require.NoError(t, err)
	require.Equal(t, []float32{2, 4, 6, 8}, matrix.Flat[float32](NewUnary(ctx, k).Apply(src)))

	_, err = MakeKernel("sum(diagonals)")
	require.Error(t, err)
}
