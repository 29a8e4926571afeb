// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"math"
	"strconv"

	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
)

// Stitchable is a pure element-wise primitive that can be fused with others
// into one compiled loop. Stitch receives an already-loaded element value
// and returns the transformed value; it must not emit loads, stores, or
// header accesses. The stitch driver owns those.
type Stitchable interface {
	// Name is the family name used for mangled symbols and the registry.
	Name() string
	// Args serializes the primitive's configuration, "" when it has none.
	// Equal configurations must serialize equally: compiled code is shared
	// through this string.
	Args() string
	// Preallocate derives the output descriptor from the input descriptor.
	// Shape is always copied; only the element type may change.
	Preallocate(src matrix.Matrix) matrix.Matrix
	// Stitch emits IR transforming one element value. src describes the
	// value's type, dst the required result type.
	Stitch(src, dst *MatrixBuilder, v *Value) *Value
}

// Kernel is the whole-loop contract consumed by Unary: a preallocation
// policy plus the loop body emitted once per output element.
type Kernel interface {
	Name() string
	Args() string
	Preallocate(src matrix.Matrix) matrix.Matrix
	// Build emits the body for output element i. The enclosing loop over
	// [0, elements) is already open.
	Build(src, dst *MatrixBuilder, i *Value)
}

// AsKernel adapts a stitchable primitive to the whole-loop contract: one
// load, the stitched value chain, one store.
func AsKernel(s Stitchable) Kernel { return stitchableKernel{s} }

type stitchableKernel struct {
	Stitchable
}

func (k stitchableKernel) Build(src, dst *MatrixBuilder, i *Value) {
	dst.Store(i, k.Stitch(src, dst, src.Load(i)))
}

func formatArg(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Square returns the v*v primitive. Overflow wraps per the element type.
func Square() Stitchable { return square{} }

type square struct{}

func (square) Name() string { return "square" }
func (square) Args() string { return "" }

func (square) Preallocate(src matrix.Matrix) matrix.Matrix { return src.Header() }

func (square) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	return dst.Multiply(v, v)
}

// Scale returns the v*a primitive; a is materialized in the element type.
func Scale(a float64) Stitchable { return scale{a} }

type scale struct{ a float64 }

func (p scale) Name() string { return "scale" }
func (p scale) Args() string { return formatArg(p.a) }

func (p scale) Preallocate(src matrix.Matrix) matrix.Matrix { return src.Header() }

func (p scale) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	return dst.Multiply(v, dst.AutoConstant(p.a))
}

// Add returns the v+b primitive; b is materialized in the element type.
func Add(b float64) Stitchable { return addBias{b} }

type addBias struct{ b float64 }

func (p addBias) Name() string { return "add" }
func (p addBias) Args() string { return formatArg(p.b) }

func (p addBias) Preallocate(src matrix.Matrix) matrix.Matrix { return src.Header() }

func (p addBias) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	return dst.Add(v, dst.AutoConstant(p.b))
}

// Abs returns the absolute-value primitive: identity for unsigned types,
// the floating intrinsic for floats, and a branchless select for signed
// integers. Note abs of a signed type's minimum wraps to itself.
func Abs() Stitchable { return absValue{} }

type absValue struct{}

func (absValue) Name() string { return "abs" }
func (absValue) Args() string { return "" }

func (absValue) Preallocate(src matrix.Matrix) matrix.Matrix { return src.Header() }

func (absValue) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	switch {
	case dst.IsFloating():
		return dst.FAbs(v)
	case dst.IsSigned():
		zero := dst.AutoConstant(0)
		return dst.Select(dst.CompareLT(v, zero), dst.Subtract(zero, v), v)
	default:
		return v
	}
}

// Cast returns the element-type conversion primitive. Widening is zero or
// sign extended per the source type; narrowing truncates; float conversions
// follow IEEE 754.
func Cast(t matrix.Fingerprint) Stitchable {
	if !t.IsValidType() {
		exceptions.Panicf("jit: cast to invalid element type %#x", uint16(t))
	}
	return castTo{t}
}

type castTo struct{ t matrix.Fingerprint }

func (p castTo) Name() string { return "cast" }
func (p castTo) Args() string { return p.t.TypeName() }

func (p castTo) Preallocate(src matrix.Matrix) matrix.Matrix {
	d := src.Header()
	d.SetType(p.t)
	return d
}

func (p castTo) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	return src.Cast(v, dst)
}

// Pow returns the v**e primitive. The output is promoted to a float of at
// least 32 bits; integral exponents use the power-by-integer intrinsic.
func Pow(e float64) Stitchable { return powOf{e} }

type powOf struct{ e float64 }

func (p powOf) Name() string { return "pow" }
func (p powOf) Args() string { return formatArg(p.e) }

func (p powOf) Preallocate(src matrix.Matrix) matrix.Matrix {
	d := src.Header()
	bits := d.Bits()
	if bits < 32 {
		bits = 32
	}
	d.SetType(d.Type().WithFloating(true).WithBits(bits))
	return d
}

func (p powOf) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	v = src.Cast(v, dst)
	switch {
	case p.e == 0:
		return dst.AutoConstant(1)
	case p.e == 1:
		return v
	case p.e == 2:
		return dst.Multiply(v, v)
	case p.e == math.Trunc(p.e):
		return dst.Powi(v, int(p.e))
	default:
		return dst.Pow(v, p.e)
	}
}

// Clamp returns the primitive pinning values to [lo, hi]. Either bound can
// be disabled by passing -math.MaxFloat64 or math.MaxFloat64; the disabled
// comparison is not emitted.
func Clamp(lo, hi float64) Stitchable { return clampTo{lo, hi} }

type clampTo struct{ lo, hi float64 }

func (p clampTo) Name() string { return "clamp" }

func (p clampTo) Args() string { return formatArg(p.lo) + "," + formatArg(p.hi) }

func (p clampTo) Preallocate(src matrix.Matrix) matrix.Matrix { return src.Header() }

func (p clampTo) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	if p.lo != -math.MaxFloat64 {
		lo := dst.AutoConstant(p.lo)
		v = dst.Select(dst.CompareLT(v, lo), lo, v)
	}
	if p.hi != math.MaxFloat64 {
		hi := dst.AutoConstant(p.hi)
		v = dst.Select(dst.CompareGT(v, hi), hi, v)
	}
	return v
}

// Quantize returns the compound pipeline scale(a), add(b), clamp(0, 255),
// cast(u8). It has no other implementation.
func Quantize(a, b float64) Stitchable {
	return NewStitch(Scale(a), Add(b), Clamp(0, 255), Cast(matrix.U8))
}
