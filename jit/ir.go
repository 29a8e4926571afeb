// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"fmt"
	"strings"

	"github.com/caotto/openbr/types/matrix"
)

// Op identifies one IR instruction kind.
type Op uint8

const (
	OpInvalid Op = iota

	// Index lane: 64-bit integers carrying indices, extents and hash words.
	OpConstIndex // intImm
	OpLength     // the kernel's length parameter
	OpHeaderGet  // param, field
	OpIMul       // args[0] * args[1]
	OpIAdd       // args[0] + args[1]
	OpISub       // args[0] - args[1]
	OpUDiv       // args[0] / args[1], unsigned
	OpURem       // args[0] % args[1], unsigned

	// Element lane: values typed by elem.
	OpConstElem // wordImm of type elem
	OpLoad      // param, args[0]=index
	OpCast      // args[0], fromElem -> elem
	OpAdd       // args[0] + args[1] in elem
	OpMul       // args[0] * args[1] in elem
	OpSub       // args[0] - args[1] in elem
	OpCmpLT     // args[0] < args[1] in elem -> bool
	OpCmpGT     // args[0] > args[1] in elem -> bool
	OpSelect    // args[0] ? args[1] : args[2]
	OpFAbs      // |args[0]|, floating elem
	OpPowi      // args[0] ** intImm, floating elem
	OpPow       // args[0] ** floatImm, floating elem

	// Accumulator slots.
	OpAccAlloc // args[0]=initial value; the value is the slot handle
	OpAccGet   // args[0]=slot
	OpAccSet   // args[0]=slot, args[1]=value

	// Side effects on matrix parameters.
	OpStore     // param, args[0]=index, args[1]=value
	OpHeaderSet // param, field, args[0]=index value
	OpAlloc     // param, args[0]=bytes: give the matrix a fresh buffer

	// Control.
	OpLoop // args[0]=limit; body; the value is the induction variable

	// Host intrinsics, used by trampolines only.
	OpGuard  // args[0]=runtime hash; rebinds family globals to spec
	OpInvoke // args[0]=length; calls the family's current kernel
)

var opNames = [...]string{
	OpInvalid:    "invalid",
	OpConstIndex: "iconst",
	OpLength:     "length",
	OpHeaderGet:  "headerget",
	OpIMul:       "imul",
	OpIAdd:       "iadd",
	OpISub:       "isub",
	OpUDiv:       "udiv",
	OpURem:       "urem",
	OpConstElem:  "const",
	OpLoad:       "load",
	OpCast:       "cast",
	OpAdd:        "add",
	OpMul:        "mul",
	OpSub:        "sub",
	OpCmpLT:      "cmplt",
	OpCmpGT:      "cmpgt",
	OpSelect:     "select",
	OpFAbs:       "fabs",
	OpPowi:       "powi",
	OpPow:        "pow",
	OpAccAlloc:   "acc",
	OpAccGet:     "accget",
	OpAccSet:     "accset",
	OpStore:      "store",
	OpHeaderSet:  "headerset",
	OpAlloc:      "alloc",
	OpLoop:       "loop",
	OpGuard:      "guard",
	OpInvoke:     "invoke",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// headerField selects one MatrixHeader field in OpHeaderGet/OpHeaderSet.
type headerField uint8

const (
	fieldChannels headerField = iota
	fieldColumns
	fieldRows
	fieldFrames
	fieldHash
)

var fieldNames = [...]string{"channels", "columns", "rows", "frames", "hash"}

func (f headerField) String() string { return fieldNames[f] }

// valueKind classifies what an instruction produces.
type valueKind uint8

const (
	kindEffect valueKind = iota // no value
	kindIndex
	kindElem
	kindBool
	kindSlot
)

// Value is one IR instruction and, for non-effect ops, the SSA value it
// defines. Arguments reference their defining instructions directly.
type Value struct {
	id       int
	op       Op
	elem     matrix.Fingerprint // element type of elem-lane values; comparison type for cmps
	fromElem matrix.Fingerprint // source type of OpCast
	args     []*Value
	intImm   int64
	floatImm float64
	wordImm  word
	param    int // matrix parameter index
	field    headerField
	body     *block // OpLoop
	fam      *family
	spec     *specialization // OpGuard rebind target
	name     string
}

func (v *Value) kind() valueKind {
	switch v.op {
	case OpConstIndex, OpLength, OpHeaderGet, OpIMul, OpIAdd, OpISub, OpUDiv, OpURem, OpLoop:
		return kindIndex
	case OpConstElem, OpLoad, OpCast, OpAdd, OpMul, OpSub, OpSelect, OpFAbs, OpPowi, OpPow, OpAccGet:
		return kindElem
	case OpCmpLT, OpCmpGT:
		return kindBool
	case OpAccAlloc:
		return kindSlot
	}
	return kindEffect
}

// pure reports whether the instruction can be folded, deduplicated and
// removed freely: no side effects and no reads of mutable state.
func (v *Value) pure() bool {
	switch v.op {
	case OpConstIndex, OpIMul, OpIAdd, OpISub, OpUDiv, OpURem,
		OpConstElem, OpCast, OpAdd, OpMul, OpSub, OpCmpLT, OpCmpGT,
		OpSelect, OpFAbs, OpPowi, OpPow:
		return true
	}
	return false
}

func (v *Value) isConstIndex(c int64) bool {
	return v.op == OpConstIndex && v.intImm == c
}

// block is an ordered instruction sequence; loop bodies are nested blocks.
type block struct {
	values []*Value
}

// Function is a kernel or trampoline being assembled, optimized or already
// materialized.
type Function struct {
	name      string
	numParams int // matrix header parameters: 2 unary, 3 binary/trampoline
	entry     *block
	nextID    int
	kernel    compiledFn // set by materialize
}

// compiledFn is the materialized form of any Function. Unary kernels use
// (m0=src, m1=dst); binary kernels (m0, m1, m2=dst); trampolines ignore
// length and allocate dst themselves.
type compiledFn func(m0, m1, m2 *matrix.Matrix, length int32)

func newFunction(name string, numParams int) *Function {
	return &Function{name: name, numParams: numParams, entry: &block{}}
}

func (fn *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(%d params):\n", fn.name, fn.numParams)
	fn.entry.print(&sb, 1)
	return sb.String()
}

func (b *block) print(sb *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, v := range b.values {
		sb.WriteString(indent)
		sb.WriteString(v.line())
		sb.WriteByte('\n')
		if v.op == OpLoop {
			v.body.print(sb, depth+1)
		}
	}
}

// line renders a single instruction.
func (v *Value) line() string {
	var sb strings.Builder
	if v.kind() != kindEffect {
		fmt.Fprintf(&sb, "%%%d = ", v.id)
	}
	sb.WriteString(v.op.String())
	switch v.op {
	case OpConstIndex:
		fmt.Fprintf(&sb, " %d", v.intImm)
	case OpConstElem:
		if v.elem.IsFloating() {
			fmt.Fprintf(&sb, " %s %v", v.elem, v.wordImm.f)
		} else {
			fmt.Fprintf(&sb, " %s %d", v.elem, opsOf(v.elem).toInt(v.wordImm))
		}
	case OpHeaderGet, OpHeaderSet:
		fmt.Fprintf(&sb, " m%d.%s", v.param, v.field)
	case OpLoad, OpStore, OpAlloc:
		fmt.Fprintf(&sb, " m%d", v.param)
	case OpPowi:
		fmt.Fprintf(&sb, " ^%d", v.intImm)
	case OpPow:
		fmt.Fprintf(&sb, " ^%v", v.floatImm)
	case OpGuard, OpInvoke:
		fmt.Fprintf(&sb, " %s", v.fam.name)
	}
	for i, a := range v.args {
		if i == 0 {
			sb.WriteByte(' ')
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%%%d", a.id)
	}
	switch v.op {
	case OpCast:
		fmt.Fprintf(&sb, " : %s->%s", v.fromElem, v.elem)
	case OpAdd, OpMul, OpSub, OpCmpLT, OpCmpGT, OpLoad, OpFAbs, OpPowi, OpPow, OpAccAlloc:
		fmt.Fprintf(&sb, " : %s", v.elem)
	}
	if v.name != "" {
		fmt.Fprintf(&sb, " ; %s", v.name)
	}
	return sb.String()
}

// walk visits every instruction of the function depth-first in schedule
// order.
func (fn *Function) walk(visit func(*Value)) {
	fn.entry.walk(visit)
}

func (b *block) walk(visit func(*Value)) {
	for _, v := range b.values {
		visit(v)
		if v.op == OpLoop {
			v.body.walk(visit)
		}
	}
}
