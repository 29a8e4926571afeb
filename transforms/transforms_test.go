// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caotto/openbr/types/matrix"
)

func TestParseDescription(t *testing.T) {
	name, args, err := parseDescription("scale(2)")
	require.NoError(t, err)
	assert.Equal(t, "scale", name)
	assert.Equal(t, []string{"2"}, args)

	name, args, err = parseDescription("byrow")
	require.NoError(t, err)
	assert.Equal(t, "byrow", name)
	assert.Empty(t, args)

	name, args, err = parseDescription("sum()")
	require.NoError(t, err)
	assert.Equal(t, "sum", name)
	assert.Empty(t, args)

	// Commas inside parentheses or brackets stay within one argument.
	name, args, err = parseDescription("stitch([scale(2),add(3)],cast(u8))")
	require.NoError(t, err)
	assert.Equal(t, "stitch", name)
	assert.Equal(t, []string{"[scale(2),add(3)]", "cast(u8)"}, args)

	for _, bad := range []string{"", "scale(2", "(2)", "a(b))"} {
		_, _, err := parseDescription(bad)
		assert.Error(t, err, "description %q must not parse", bad)
	}
}

func TestMake_KernelTransform(t *testing.T) {
	tr, err := Make("scale(2)")
	require.NoError(t, err)
	assert.Equal(t, "scale(2)", tr.Name())

	src := NewTemplate(NewFile("x.png"), matrix.FromFlat[uint8](1, 2, 1, 1, []uint8{10, 20}))
	dst, err := tr.Project(src)
	require.NoError(t, err)
	require.Equal(t, 1, dst.Len())
	assert.Equal(t, matrix.U8, dst.Mats[0].Type())
	assert.Equal(t, []uint8{20, 40}, matrix.Flat[uint8](dst.Mats[0]))
	assert.Equal(t, src.File, dst.File)
}

func TestMake_StitchAcceptsBracketsAndParens(t *testing.T) {
	src := NewTemplate(NewFile(""), matrix.FromFlat[float32](1, 2, 1, 1, []float32{1, 2}))

	brackets, err := Make("stitch([scale(2),add(3)])")
	require.NoError(t, err)
	parens, err := Make("stitch(scale(2),add(3))")
	require.NoError(t, err)

	a, err := brackets.Project(src)
	require.NoError(t, err)
	b, err := parens.Project(src)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 7}, matrix.Flat[float32](a.Mats[0]))
	assert.Equal(t, matrix.Flat[float32](a.Mats[0]), matrix.Flat[float32](b.Mats[0]))
}

func TestMake_Quantize(t *testing.T) {
	tr, err := Make("quantize(1,0)")
	require.NoError(t, err)

	src := NewTemplate(NewFile(""), matrix.FromFlat[float32](1, 2, 2, 1, []float32{0, 128, 255, 300}))
	dst, err := tr.Project(src)
	require.NoError(t, err)
	assert.Equal(t, matrix.U8, dst.Mats[0].Type())
	assert.Equal(t, []uint8{0, 128, 255, 255}, matrix.Flat[uint8](dst.Mats[0]))
}

func TestMake_SumTransform(t *testing.T) {
	tr, err := Make("sum(columns)")
	require.NoError(t, err)

	src := NewTemplate(NewFile(""), matrix.FromFlat[float32](1, 4, 2, 1,
		[]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	dst, err := tr.Project(src)
	require.NoError(t, err)
	m := dst.Mats[0]
	assert.Equal(t, int32(1), m.Columns)
	assert.Equal(t, int32(2), m.Rows)
	assert.Equal(t, matrix.F64, m.Type())
	assert.Equal(t, []float64{10, 26}, matrix.Flat[float64](m))

	all, err := Make("sum")
	require.NoError(t, err)
	dst, err = all.Project(src)
	require.NoError(t, err)
	assert.Equal(t, []float64{36}, matrix.Flat[float64](dst.Mats[0]))
}

func TestMake_AppliesToEveryMatrix(t *testing.T) {
	tr, err := Make("add(1)")
	require.NoError(t, err)

	src := NewTemplate(NewFile("multi"),
		matrix.FromFlat[uint8](1, 2, 1, 1, []uint8{1, 2}),
		matrix.FromFlat[uint8](1, 3, 1, 1, []uint8{3, 4, 5}))
	dst, err := tr.Project(src)
	require.NoError(t, err)
	require.Equal(t, 2, dst.Len())
	assert.Equal(t, []uint8{2, 3}, matrix.Flat[uint8](dst.Mats[0]))
	assert.Equal(t, []uint8{4, 5, 6}, matrix.Flat[uint8](dst.Mats[1]))
}

func TestMake_Errors(t *testing.T) {
	_, err := Make("nosuch(1)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transform")

	_, err = Make("scale(2")
	require.Error(t, err)

	_, err = Make("scale(two)")
	require.Error(t, err)

	_, err = Make("")
	require.Error(t, err)
}

func TestNames_ContainsRegisteredTransforms(t *testing.T) {
	names := Names()
	for _, want := range []string{"scale", "stitch", "sum", "rectregions", "byrow", "cat", "dup"} {
		assert.Contains(t, names, want)
	}
}
