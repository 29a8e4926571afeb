// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
)

// funcBuilder appends instructions to a Function, tracking the insertion
// point through a stack of open loop bodies.
type funcBuilder struct {
	fn     *Function
	blocks []*block // insertion stack; top is current
}

func newFuncBuilder(fn *Function) *funcBuilder {
	return &funcBuilder{fn: fn, blocks: []*block{fn.entry}}
}

func (b *funcBuilder) emit(v *Value) *Value {
	v.id = b.fn.nextID
	b.fn.nextID++
	cur := b.blocks[len(b.blocks)-1]
	cur.values = append(cur.values, v)
	return v
}

func (b *funcBuilder) constIndex(c int64) *Value {
	return b.emit(&Value{op: OpConstIndex, intImm: c})
}

func (b *funcBuilder) length() *Value {
	return b.emit(&Value{op: OpLength, name: "len"})
}

func (b *funcBuilder) headerGet(param int, field headerField, name string) *Value {
	return b.emit(&Value{op: OpHeaderGet, param: param, field: field, name: name})
}

func (b *funcBuilder) headerSet(param int, field headerField, v *Value) {
	b.emit(&Value{op: OpHeaderSet, param: param, field: field, args: []*Value{v}})
}

// iMul emits an index multiply, elided when an operand is statically 1.
func (b *funcBuilder) iMul(x, y *Value) *Value {
	if x.isConstIndex(1) {
		return y
	}
	if y.isConstIndex(1) {
		return x
	}
	return b.emit(&Value{op: OpIMul, args: []*Value{x, y}})
}

// iAdd emits an index add, elided when an operand is statically 0.
func (b *funcBuilder) iAdd(x, y *Value) *Value {
	if x.isConstIndex(0) {
		return y
	}
	if y.isConstIndex(0) {
		return x
	}
	return b.emit(&Value{op: OpIAdd, args: []*Value{x, y}})
}

func (b *funcBuilder) iSub(x, y *Value) *Value {
	return b.emit(&Value{op: OpISub, args: []*Value{x, y}})
}

func (b *funcBuilder) uDiv(x, y *Value) *Value {
	return b.emit(&Value{op: OpUDiv, args: []*Value{x, y}})
}

func (b *funcBuilder) uRem(x, y *Value) *Value {
	return b.emit(&Value{op: OpURem, args: []*Value{x, y}})
}

func (b *funcBuilder) alloc(param int, bytes *Value) {
	b.emit(&Value{op: OpAlloc, param: param, args: []*Value{bytes}})
}

func (b *funcBuilder) guard(fam *family, spec *specialization, hashes ...*Value) {
	b.emit(&Value{op: OpGuard, fam: fam, spec: spec, args: hashes})
}

func (b *funcBuilder) invoke(fam *family, length *Value) {
	b.emit(&Value{op: OpInvoke, fam: fam, args: []*Value{length}})
}

// beginLoop opens a counted loop over [0, limit) and moves the insertion
// point into its body. The returned value is the induction variable.
func (b *funcBuilder) beginLoop(limit *Value, name string) *Value {
	lp := b.emit(&Value{op: OpLoop, args: []*Value{limit}, body: &block{}, name: name})
	b.blocks = append(b.blocks, lp.body)
	return lp
}

// endLoop closes the innermost open loop.
func (b *funcBuilder) endLoop() {
	if len(b.blocks) < 2 {
		exceptions.Panicf("jit: endLoop without an open loop in %s", b.fn.name)
	}
	b.blocks = b.blocks[:len(b.blocks)-1]
}

// MatrixBuilder emits matrix-aware IR for one matrix parameter of the
// function under construction. It is bound to a compile-time descriptor (the
// specialization's fingerprint and the triggering matrix's static extents),
// so header accessors fold degenerate axes to constants and index chains
// skip them entirely. The embedded Matrix is the descriptor; its Data is
// always nil.
type MatrixBuilder struct {
	matrix.Matrix

	b     *funcBuilder
	param int
	name  string
}

func newMatrixBuilder(b *funcBuilder, desc matrix.Matrix, param int, name string) *MatrixBuilder {
	return &MatrixBuilder{Matrix: desc.Header(), b: b, param: param, name: name}
}

// rebind returns a builder over the same parameter with a new descriptor,
// used by stitch to thread the in-flight element type between steps.
func (mb *MatrixBuilder) rebind(desc matrix.Matrix) *MatrixBuilder {
	return &MatrixBuilder{Matrix: desc.Header(), b: mb.b, param: mb.param, name: mb.name}
}

// ChannelsCode returns the runtime channels extent, or the constant 1 when
// the axis is statically degenerate.
func (mb *MatrixBuilder) ChannelsCode() *Value {
	if mb.SingleChannel() {
		return mb.b.constIndex(1)
	}
	return mb.b.headerGet(mb.param, fieldChannels, mb.name+"_channels")
}

// ColumnsCode returns the runtime columns extent, or the constant 1.
func (mb *MatrixBuilder) ColumnsCode() *Value {
	if mb.SingleColumn() {
		return mb.b.constIndex(1)
	}
	return mb.b.headerGet(mb.param, fieldColumns, mb.name+"_columns")
}

// RowsCode returns the runtime rows extent, or the constant 1.
func (mb *MatrixBuilder) RowsCode() *Value {
	if mb.SingleRow() {
		return mb.b.constIndex(1)
	}
	return mb.b.headerGet(mb.param, fieldRows, mb.name+"_rows")
}

// FramesCode returns the runtime frames extent, or the constant 1.
func (mb *MatrixBuilder) FramesCode() *Value {
	if mb.SingleFrame() {
		return mb.b.constIndex(1)
	}
	return mb.b.headerGet(mb.param, fieldFrames, mb.name+"_frames")
}

// HashCode loads the runtime fingerprint word.
func (mb *MatrixBuilder) HashCode() *Value {
	return mb.b.headerGet(mb.param, fieldHash, mb.name+"_hash")
}

// ExtentCode returns the extent getter for one axis.
func (mb *MatrixBuilder) ExtentCode(axis matrix.Axis) *Value {
	switch axis {
	case matrix.AxisChannels:
		return mb.ChannelsCode()
	case matrix.AxisColumns:
		return mb.ColumnsCode()
	case matrix.AxisRows:
		return mb.RowsCode()
	case matrix.AxisFrames:
		return mb.FramesCode()
	}
	exceptions.Panicf("jit: extent of unknown axis %d", axis)
	return nil
}

func (mb *MatrixBuilder) SetChannelsCode(v *Value) { mb.b.headerSet(mb.param, fieldChannels, v) }
func (mb *MatrixBuilder) SetColumnsCode(v *Value)  { mb.b.headerSet(mb.param, fieldColumns, v) }
func (mb *MatrixBuilder) SetRowsCode(v *Value)     { mb.b.headerSet(mb.param, fieldRows, v) }
func (mb *MatrixBuilder) SetFramesCode(v *Value)   { mb.b.headerSet(mb.param, fieldFrames, v) }
func (mb *MatrixBuilder) SetHashCode(v *Value)     { mb.b.headerSet(mb.param, fieldHash, v) }

// ElementsCode computes channels·columns·rows·frames, eliding degenerate
// factors.
func (mb *MatrixBuilder) ElementsCode() *Value {
	return mb.b.iMul(mb.b.iMul(mb.b.iMul(mb.ChannelsCode(), mb.ColumnsCode()), mb.RowsCode()), mb.FramesCode())
}

// BytesCode computes ceil(bits/8)·elements; the element width is static.
func (mb *MatrixBuilder) BytesCode() *Value {
	return mb.b.iMul(mb.b.constIndex(int64(mb.Hash.ElemBytes())), mb.ElementsCode())
}

// AllocateCode gives the matrix parameter a fresh buffer of BytesCode bytes.
func (mb *MatrixBuilder) AllocateCode() {
	mb.b.alloc(mb.param, mb.BytesCode())
}

// ColumnStep is the flat stride between columns.
func (mb *MatrixBuilder) ColumnStep() *Value { return mb.ChannelsCode() }

// RowStep is the flat stride between rows.
func (mb *MatrixBuilder) RowStep() *Value {
	return mb.b.iMul(mb.ColumnsCode(), mb.ColumnStep())
}

// FrameStep is the flat stride between frames.
func (mb *MatrixBuilder) FrameStep() *Value {
	return mb.b.iMul(mb.RowsCode(), mb.RowStep())
}

// AliasColumnStep borrows other's column step when the channel extents
// statically agree, so the optimizer can prove the two chains equal.
func (mb *MatrixBuilder) AliasColumnStep(other *MatrixBuilder) *Value {
	if mb.Channels == other.Channels {
		return other.ColumnStep()
	}
	return mb.ColumnStep()
}

// AliasRowStep borrows per factor: the columns extent from other when it
// agrees, recursing for the column step. Borrowing other's whole row step
// would be wrong when an inner extent differs.
func (mb *MatrixBuilder) AliasRowStep(other *MatrixBuilder) *Value {
	if mb.Columns == other.Columns {
		return mb.b.iMul(other.ColumnsCode(), mb.AliasColumnStep(other))
	}
	return mb.RowStep()
}

func (mb *MatrixBuilder) AliasFrameStep(other *MatrixBuilder) *Value {
	if mb.Rows == other.Rows {
		return mb.b.iMul(other.RowsCode(), mb.AliasRowStep(other))
	}
	return mb.FrameStep()
}

// Index folds 1 to 4 coordinates, ordered (c, x, y, f), into a flat element
// index, skipping degenerate axes.
func (mb *MatrixBuilder) Index(coords ...*Value) *Value {
	return mb.index(nil, coords)
}

// AliasIndex is Index with the multiply steps borrowed from other where the
// static extents agree (see AliasColumnStep).
func (mb *MatrixBuilder) AliasIndex(other *MatrixBuilder, coords ...*Value) *Value {
	return mb.index(other, coords)
}

func (mb *MatrixBuilder) index(other *MatrixBuilder, coords []*Value) *Value {
	if len(coords) == 0 || len(coords) > 4 {
		exceptions.Panicf("jit: index of %d coordinates", len(coords))
	}
	var i *Value
	if mb.SingleChannel() {
		i = mb.b.constIndex(0)
	} else {
		i = coords[0]
	}
	steps := []func() *Value{mb.ColumnStep, mb.RowStep, mb.FrameStep}
	if other != nil {
		steps = []func() *Value{
			func() *Value { return mb.AliasColumnStep(other) },
			func() *Value { return mb.AliasRowStep(other) },
			func() *Value { return mb.AliasFrameStep(other) },
		}
	}
	for axis := 1; axis < len(coords); axis++ {
		if mb.Hash.Single(matrix.Axis(axis)) {
			continue
		}
		i = mb.b.iAdd(mb.b.iMul(coords[axis], steps[axis-1]()), i)
	}
	return i
}

// Deindex recovers (c, x, y, f) from a flat index in this matrix's space,
// producing constant 0 for degenerate axes without emitting arithmetic.
func (mb *MatrixBuilder) Deindex(i *Value) (c, x, y, f *Value) {
	rem := i
	if mb.SingleFrame() {
		f = mb.b.constIndex(0)
	} else {
		step := mb.FrameStep()
		r := mb.b.uRem(rem, step)
		f = mb.b.uDiv(mb.b.iSub(rem, r), step)
		f.name = mb.name + "_f"
		rem = r
	}
	if mb.SingleRow() {
		y = mb.b.constIndex(0)
	} else {
		step := mb.RowStep()
		r := mb.b.uRem(rem, step)
		y = mb.b.uDiv(mb.b.iSub(rem, r), step)
		y.name = mb.name + "_y"
		rem = r
	}
	if mb.SingleColumn() {
		x = mb.b.constIndex(0)
	} else {
		step := mb.ColumnStep()
		r := mb.b.uRem(rem, step)
		x = mb.b.uDiv(mb.b.iSub(rem, r), step)
		x.name = mb.name + "_x"
		rem = r
	}
	if mb.SingleChannel() {
		c = mb.b.constIndex(0)
	} else {
		c = rem
	}
	return
}

// Load reads element i in this matrix's element type.
func (mb *MatrixBuilder) Load(i *Value) *Value {
	return mb.b.emit(&Value{op: OpLoad, param: mb.param, elem: mb.Type(), args: []*Value{i}})
}

// Store writes element i.
func (mb *MatrixBuilder) Store(i, v *Value) {
	mb.b.emit(&Value{op: OpStore, param: mb.param, elem: mb.Type(), args: []*Value{i, v}})
}

// Cast converts v from this matrix's element type to dst's; identity when
// the types already agree.
func (mb *MatrixBuilder) Cast(v *Value, dst *MatrixBuilder) *Value {
	if mb.Type() == dst.Type() {
		return v
	}
	return mb.b.emit(&Value{op: OpCast, elem: dst.Type(), fromElem: mb.Type(), args: []*Value{v}})
}

// Add emits x+y in this matrix's element type.
func (mb *MatrixBuilder) Add(x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpAdd, elem: mb.Type(), args: []*Value{x, y}})
}

// Multiply emits x·y in this matrix's element type.
func (mb *MatrixBuilder) Multiply(x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpMul, elem: mb.Type(), args: []*Value{x, y}})
}

// Subtract emits x-y in this matrix's element type.
func (mb *MatrixBuilder) Subtract(x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpSub, elem: mb.Type(), args: []*Value{x, y}})
}

// CompareLT emits x<y: ordered for floating, signed or unsigned for
// integers per the descriptor.
func (mb *MatrixBuilder) CompareLT(x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpCmpLT, elem: mb.Type(), args: []*Value{x, y}})
}

// CompareGT emits x>y.
func (mb *MatrixBuilder) CompareGT(x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpCmpGT, elem: mb.Type(), args: []*Value{x, y}})
}

// Select emits cond ? x : y.
func (mb *MatrixBuilder) Select(cond, x, y *Value) *Value {
	return mb.b.emit(&Value{op: OpSelect, elem: mb.Type(), args: []*Value{cond, x, y}})
}

// FAbs emits the floating absolute-value intrinsic.
func (mb *MatrixBuilder) FAbs(v *Value) *Value {
	if !mb.IsFloating() {
		exceptions.Panicf("jit: fabs on non-floating %s", mb.Hash)
	}
	return mb.b.emit(&Value{op: OpFAbs, elem: mb.Type(), args: []*Value{v}})
}

// Powi emits the power-by-integer intrinsic.
func (mb *MatrixBuilder) Powi(v *Value, n int) *Value {
	return mb.b.emit(&Value{op: OpPowi, elem: mb.Type(), intImm: int64(n), args: []*Value{v}})
}

// Pow emits the floating power intrinsic.
func (mb *MatrixBuilder) Pow(v *Value, e float64) *Value {
	return mb.b.emit(&Value{op: OpPow, elem: mb.Type(), floatImm: e, args: []*Value{v}})
}

// AutoConstant materializes a literal of this matrix's element type,
// truncating toward zero for integer types.
func (mb *MatrixBuilder) AutoConstant(v float64) *Value {
	t := mb.Type()
	return mb.b.emit(&Value{op: OpConstElem, elem: t, wordImm: constWordOf(t, v)})
}

// AutoAlloca allocates an accumulator slot of this matrix's element type,
// initialized with AutoConstant(init).
func (mb *MatrixBuilder) AutoAlloca(init float64, name string) *Value {
	return mb.b.emit(&Value{op: OpAccAlloc, elem: mb.Type(), args: []*Value{mb.AutoConstant(init)}, name: name})
}

// AccGet reads an accumulator slot.
func (mb *MatrixBuilder) AccGet(acc *Value) *Value {
	return mb.b.emit(&Value{op: OpAccGet, elem: acc.elem, args: []*Value{acc}})
}

// AccSet writes an accumulator slot.
func (mb *MatrixBuilder) AccSet(acc, v *Value) {
	mb.b.emit(&Value{op: OpAccSet, args: []*Value{acc, v}})
}

// BeginLoop opens a counted loop over [0, limit); the result is the
// induction variable. Loops nest on a stack closed by EndLoop.
func (mb *MatrixBuilder) BeginLoop(limit *Value, name string) *Value {
	return mb.b.beginLoop(limit, name)
}

// EndLoop closes the innermost open loop.
func (mb *MatrixBuilder) EndLoop() { mb.b.endLoop() }
