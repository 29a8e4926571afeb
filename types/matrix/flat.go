// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/x448/float16"
)

// Supported are the Go types that map one-to-one onto element types wider
// than one bit. u1 matrices store one byte per element and are accessed
// through Data directly.
type Supported interface {
	uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 |
		float16.Float16 | float32 | float64
}

// TypeOf returns the element type corresponding to the Go type T.
func TypeOf[T Supported]() Fingerprint {
	var v T
	switch any(v).(type) {
	case uint8:
		return U8
	case uint16:
		return U16
	case uint32:
		return U32
	case uint64:
		return U64
	case int8:
		return S8
	case int16:
		return S16
	case int32:
		return S32
	case int64:
		return S64
	case float16.Float16:
		return F16
	case float32:
		return F32
	case float64:
		return F64
	}
	exceptions.Panicf("matrix: unsupported Go type %T", v)
	return 0
}

// Flat returns m's buffer viewed as a []T sharing the same backing bytes.
// T must match m's element type exactly; mismatches are fatal.
func Flat[T Supported](m Matrix) []T {
	if t := TypeOf[T](); t != m.Type() {
		var v T
		exceptions.Panicf("matrix: flat view as %T of a %s matrix", v, m.Hash)
	}
	if len(m.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&m.Data[0])), m.Elements())
}

// FromFlat builds an owning Matrix of the element type matching T,
// initialized from values in storage order (channels innermost). The length
// of values must equal the element count.
func FromFlat[T Supported](channels, columns, rows, frames int, values []T) Matrix {
	m := New(TypeOf[T](), channels, columns, rows, frames)
	if len(values) != m.Elements() {
		exceptions.Panicf("matrix: %d values for %s with %d elements", len(values), m, m.Elements())
	}
	copy(Flat[T](m), values)
	return m
}

// At returns the element at (c, x, y, f).
func At[T Supported](m Matrix, c, x, y, f int) T {
	return Flat[T](m)[m.Index(c, x, y, f)]
}

// Set assigns the element at (c, x, y, f).
func Set[T Supported](m Matrix, c, x, y, f int, value T) {
	Flat[T](m)[m.Index(c, x, y, f)] = value
}
