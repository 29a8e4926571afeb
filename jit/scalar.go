// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"math"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"

	"github.com/caotto/openbr/types/matrix"
)

// word holds one element value in flight inside a materialized kernel.
// Integer elements live in bits as the canonical uint64 conversion of the
// typed Go value; floating elements live in f, always holding a value
// exactly representable in the element's format.
type word struct {
	bits uint64
	f    float64
}

// scalarOps implements one element type's arithmetic with that type's exact
// width, wrap-around and rounding semantics. abs, powi and pow are only
// populated for floating types; integer abs is emitted as compare+select.
type scalarOps struct {
	fromInt   func(int64) word
	fromFloat func(float64) word
	toInt     func(word) int64
	toFloat   func(word) float64
	add       func(a, b word) word
	mul       func(a, b word) word
	sub       func(a, b word) word
	lt        func(a, b word) bool
	gt        func(a, b word) bool
	abs       func(word) word
	powi      func(word, int) word
	pow       func(word, float64) word
}

// memCodec loads and stores one element type from a matrix buffer.
type memCodec struct {
	load  func(data []byte, i int) word
	store func(data []byte, i int, w word)
}

type podInteger interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64
}

type podFloat interface {
	float32 | float64
}

func intWord[T podInteger](v T) word { return word{bits: uint64(v)} }

func floatWord[T podFloat](v T) word { return word{f: float64(v)} }

func intOpsFor[T podInteger]() *scalarOps {
	return &scalarOps{
		fromInt:   func(v int64) word { return intWord(T(v)) },
		fromFloat: func(v float64) word { return intWord(T(int64(v))) },
		toInt:     func(w word) int64 { return int64(T(w.bits)) },
		toFloat:   func(w word) float64 { return float64(T(w.bits)) },
		add:       func(a, b word) word { return intWord(T(a.bits) + T(b.bits)) },
		mul:       func(a, b word) word { return intWord(T(a.bits) * T(b.bits)) },
		sub:       func(a, b word) word { return intWord(T(a.bits) - T(b.bits)) },
		lt:        func(a, b word) bool { return T(a.bits) < T(b.bits) },
		gt:        func(a, b word) bool { return T(a.bits) > T(b.bits) },
	}
}

func floatOpsFor[T podFloat]() *scalarOps {
	return &scalarOps{
		fromInt:   func(v int64) word { return floatWord(T(v)) },
		fromFloat: func(v float64) word { return floatWord(T(v)) },
		toInt:     func(w word) int64 { return int64(w.f) },
		toFloat:   func(w word) float64 { return w.f },
		add:       func(a, b word) word { return floatWord(T(a.f) + T(b.f)) },
		mul:       func(a, b word) word { return floatWord(T(a.f) * T(b.f)) },
		sub:       func(a, b word) word { return floatWord(T(a.f) - T(b.f)) },
		lt:        func(a, b word) bool { return a.f < b.f },
		gt:        func(a, b word) bool { return a.f > b.f },
		abs:       func(w word) word { return floatWord(T(math.Abs(w.f))) },
		powi:      powiFor[T](),
		pow:       func(w word, e float64) word { return floatWord(T(math.Pow(w.f, e))) },
	}
}

// powiFor raises to an integer power by squaring, rounding every multiply in
// the element's format so the result matches an emitted multiply chain.
func powiFor[T podFloat]() func(word, int) word {
	return func(w word, n int) word {
		x := T(w.f)
		neg := n < 0
		if neg {
			n = -n
		}
		r := T(1)
		for ; n > 0; n >>= 1 {
			if n&1 == 1 {
				r *= x
			}
			x *= x
		}
		if neg {
			r = 1 / r
		}
		return floatWord(r)
	}
}

func f16Word(h float16.Float16) word { return word{f: float64(h.Float32())} }

func f16Of(w word) float16.Float16 { return float16.Fromfloat32(float32(w.f)) }

// f16Ops routes every operation through float32 and rounds back per step;
// the float32 intermediate is wide enough that the double rounding is exact.
var f16Ops = &scalarOps{
	fromInt:   func(v int64) word { return f16Word(float16.Fromfloat32(float32(v))) },
	fromFloat: func(v float64) word { return f16Word(float16.Fromfloat32(float32(v))) },
	toInt:     func(w word) int64 { return int64(w.f) },
	toFloat:   func(w word) float64 { return w.f },
	add:       func(a, b word) word { return f16Word(float16.Fromfloat32(float32(a.f) + float32(b.f))) },
	mul:       func(a, b word) word { return f16Word(float16.Fromfloat32(float32(a.f) * float32(b.f))) },
	sub:       func(a, b word) word { return f16Word(float16.Fromfloat32(float32(a.f) - float32(b.f))) },
	lt:        func(a, b word) bool { return a.f < b.f },
	gt:        func(a, b word) bool { return a.f > b.f },
	abs:       func(w word) word { return f16Word(float16.Fromfloat32(float32(math.Abs(w.f)))) },
	powi: func(w word, n int) word {
		x := float16.Fromfloat32(float32(w.f))
		neg := n < 0
		if neg {
			n = -n
		}
		r := float16.Fromfloat32(1)
		for ; n > 0; n >>= 1 {
			if n&1 == 1 {
				r = float16.Fromfloat32(r.Float32() * x.Float32())
			}
			x = float16.Fromfloat32(x.Float32() * x.Float32())
		}
		if neg {
			r = float16.Fromfloat32(1 / r.Float32())
		}
		return f16Word(r)
	},
	pow: func(w word, e float64) word {
		return f16Word(float16.Fromfloat32(float32(math.Pow(w.f, e))))
	},
}

// u1Ops follows 1-bit two's complement: add wraps to xor, multiply to and.
var u1Ops = &scalarOps{
	fromInt:   func(v int64) word { return word{bits: uint64(v) & 1} },
	fromFloat: func(v float64) word { return word{bits: uint64(int64(v)) & 1} },
	toInt:     func(w word) int64 { return int64(w.bits & 1) },
	toFloat:   func(w word) float64 { return float64(w.bits & 1) },
	add:       func(a, b word) word { return word{bits: (a.bits ^ b.bits) & 1} },
	mul:       func(a, b word) word { return word{bits: a.bits & b.bits & 1} },
	sub:       func(a, b word) word { return word{bits: (a.bits ^ b.bits) & 1} },
	lt:        func(a, b word) bool { return a.bits&1 < b.bits&1 },
	gt:        func(a, b word) bool { return a.bits&1 > b.bits&1 },
}

var scalarOpsTable = map[matrix.Fingerprint]*scalarOps{
	matrix.U1:  u1Ops,
	matrix.U8:  intOpsFor[uint8](),
	matrix.U16: intOpsFor[uint16](),
	matrix.U32: intOpsFor[uint32](),
	matrix.U64: intOpsFor[uint64](),
	matrix.S8:  intOpsFor[int8](),
	matrix.S16: intOpsFor[int16](),
	matrix.S32: intOpsFor[int32](),
	matrix.S64: intOpsFor[int64](),
	matrix.F16: f16Ops,
	matrix.F32: floatOpsFor[float32](),
	matrix.F64: floatOpsFor[float64](),
}

// opsOf resolves the arithmetic table for an element type. Unknown types are
// fatal.
func opsOf(t matrix.Fingerprint) *scalarOps {
	ops, ok := scalarOpsTable[t.Type()]
	if !ok {
		exceptions.Panicf("jit: no scalar ops for element type %s", t)
	}
	return ops
}

// constWordOf materializes a float64 literal as the element type, truncating
// toward zero for integer types.
func constWordOf(t matrix.Fingerprint, v float64) word {
	ops := opsOf(t)
	if t.IsFloating() {
		return ops.fromFloat(v)
	}
	return ops.fromInt(int64(v))
}

// castFor builds the conversion between two element types: width/sign
// adjustment between integers, rounding into floating formats, truncation
// toward zero out of them.
func castFor(from, to matrix.Fingerprint) func(word) word {
	src, dst := opsOf(from), opsOf(to)
	if from.IsFloating() || to.IsFloating() {
		if to.IsFloating() {
			return func(w word) word { return dst.fromFloat(src.toFloat(w)) }
		}
		return func(w word) word { return dst.fromInt(int64(src.toFloat(w))) }
	}
	return func(w word) word { return dst.fromInt(src.toInt(w)) }
}

func intMemCodecFor[T podInteger]() memCodec {
	var zero T
	size := int(unsafe.Sizeof(zero))
	return memCodec{
		load: func(data []byte, i int) word {
			return intWord(*(*T)(unsafe.Pointer(&data[i*size])))
		},
		store: func(data []byte, i int, w word) {
			*(*T)(unsafe.Pointer(&data[i*size])) = T(w.bits)
		},
	}
}

func floatMemCodecFor[T podFloat]() memCodec {
	var zero T
	size := int(unsafe.Sizeof(zero))
	return memCodec{
		load: func(data []byte, i int) word {
			return floatWord(*(*T)(unsafe.Pointer(&data[i*size])))
		},
		store: func(data []byte, i int, w word) {
			*(*T)(unsafe.Pointer(&data[i*size])) = T(w.f)
		},
	}
}

var memCodecTable = map[matrix.Fingerprint]memCodec{
	matrix.U1: {
		load:  func(data []byte, i int) word { return word{bits: uint64(data[i] & 1)} },
		store: func(data []byte, i int, w word) { data[i] = byte(w.bits & 1) },
	},
	matrix.U8:  intMemCodecFor[uint8](),
	matrix.U16: intMemCodecFor[uint16](),
	matrix.U32: intMemCodecFor[uint32](),
	matrix.U64: intMemCodecFor[uint64](),
	matrix.S8:  intMemCodecFor[int8](),
	matrix.S16: intMemCodecFor[int16](),
	matrix.S32: intMemCodecFor[int32](),
	matrix.S64: intMemCodecFor[int64](),
	matrix.F16: {
		load: func(data []byte, i int) word {
			return f16Word(float16.Float16(*(*uint16)(unsafe.Pointer(&data[i*2]))))
		},
		store: func(data []byte, i int, w word) {
			*(*uint16)(unsafe.Pointer(&data[i*2])) = f16Of(w).Bits()
		},
	},
	matrix.F32: floatMemCodecFor[float32](),
	matrix.F64: floatMemCodecFor[float64](),
}

// codecOf resolves the load/store codec for an element type.
func codecOf(t matrix.Fingerprint) memCodec {
	codec, ok := memCodecTable[t.Type()]
	if !ok {
		exceptions.Panicf("jit: no element codec for type %s", t)
	}
	return codec
}
