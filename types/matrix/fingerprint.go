// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Fingerprint is the 16-bit tag that summarizes a Matrix's element type and
// which of its axes are degenerate (extent 1). It is the unit of kernel
// specialization: two matrices with equal fingerprints are interchangeable
// inputs for any kernel compiled against that fingerprint.
//
// Bit layout, low to high:
//
//	[0:5)  log2 of the element width in bits (widths 1, 8, 16, 32, 64)
//	[5]    floating-point element
//	[6]    signed element (always set when floating is set)
//	[7]    singleChannel
//	[8]    singleColumn
//	[9]    singleRow
//	[10]   singleFrame
//	[11:16) reserved, zero
type Fingerprint uint16

const (
	bitsMask      Fingerprint = 0x001F
	flagFloating  Fingerprint = 1 << 5
	flagSigned    Fingerprint = 1 << 6
	singleChannel Fingerprint = 1 << 7
	singleColumn  Fingerprint = 1 << 8
	singleRow     Fingerprint = 1 << 9
	singleFrame   Fingerprint = 1 << 10

	typeMask  = bitsMask | flagFloating | flagSigned
	shapeMask = singleChannel | singleColumn | singleRow | singleFrame
)

// Element types: fingerprints with only the type bits set.
const (
	U1  Fingerprint = 0 // log2(1)
	U8  Fingerprint = 3
	U16 Fingerprint = 4
	U32 Fingerprint = 5
	U64 Fingerprint = 6
	S8              = U8 | flagSigned
	S16             = U16 | flagSigned
	S32             = U32 | flagSigned
	S64             = U64 | flagSigned
	F16             = U16 | flagFloating | flagSigned
	F32             = U32 | flagFloating | flagSigned
	F64             = U64 | flagFloating | flagSigned
)

// ElementTypes lists every supported element type.
var ElementTypes = []Fingerprint{U1, U8, U16, U32, U64, S8, S16, S32, S64, F16, F32, F64}

// Axis identifies one of the four matrix axes.
type Axis uint8

const (
	AxisChannels Axis = iota
	AxisColumns
	AxisRows
	AxisFrames
)

// NumAxes is the fixed rank of a Matrix.
const NumAxes = 4

func (a Axis) String() string {
	switch a {
	case AxisChannels:
		return "channels"
	case AxisColumns:
		return "columns"
	case AxisRows:
		return "rows"
	case AxisFrames:
		return "frames"
	}
	return fmt.Sprintf("axis(%d)", uint8(a))
}

// ParseAxis resolves an axis name to its Axis.
func ParseAxis(name string) (Axis, error) {
	for a := Axis(0); a < NumAxes; a++ {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, errors.Errorf("unknown axis %q", name)
}

// Bits returns the element width in bits: one of 1, 8, 16, 32 or 64.
func (f Fingerprint) Bits() int { return 1 << (f & bitsMask) }

// IsFloating reports whether the element type is floating-point.
func (f Fingerprint) IsFloating() bool { return f&flagFloating != 0 }

// IsSigned reports whether the element type is signed. Floating implies signed.
func (f Fingerprint) IsSigned() bool { return f&flagSigned != 0 }

// SingleChannel reports whether the channels axis is degenerate (extent 1).
func (f Fingerprint) SingleChannel() bool { return f&singleChannel != 0 }

// SingleColumn reports whether the columns axis is degenerate (extent 1).
func (f Fingerprint) SingleColumn() bool { return f&singleColumn != 0 }

// SingleRow reports whether the rows axis is degenerate (extent 1).
func (f Fingerprint) SingleRow() bool { return f&singleRow != 0 }

// SingleFrame reports whether the frames axis is degenerate (extent 1).
func (f Fingerprint) SingleFrame() bool { return f&singleFrame != 0 }

// Single reports whether the given axis is degenerate (extent 1).
func (f Fingerprint) Single(axis Axis) bool {
	return f&(singleChannel<<Fingerprint(axis)) != 0
}

// Type returns the fingerprint with only the element-type bits
// (width, floating, signed) retained.
func (f Fingerprint) Type() Fingerprint { return f & typeMask }

// WithType replaces the element-type bits, keeping the degenerate-axis flags.
func (f Fingerprint) WithType(t Fingerprint) Fingerprint {
	return f&^typeMask | t&typeMask
}

// WithBits replaces the element width, keeping everything else.
// Widths outside {1, 8, 16, 32, 64} are fatal.
func (f Fingerprint) WithBits(bits int) Fingerprint {
	var code Fingerprint
	switch bits {
	case 1:
		code = 0
	case 8:
		code = 3
	case 16:
		code = 4
	case 32:
		code = 5
	case 64:
		code = 6
	default:
		exceptions.Panicf("matrix: element width %d bits is not one of 1, 8, 16, 32, 64", bits)
	}
	return f&^bitsMask | code
}

// WithFloating sets or clears the floating flag. Setting it also sets signed.
func (f Fingerprint) WithFloating(floating bool) Fingerprint {
	if floating {
		return f | flagFloating | flagSigned
	}
	return f &^ flagFloating
}

// WithSigned sets or clears the signed flag.
func (f Fingerprint) WithSigned(signed bool) Fingerprint {
	if signed {
		return f | flagSigned
	}
	return f &^ flagSigned
}

// withSingles returns f with the degenerate-axis flags recomputed for the
// given extents.
func (f Fingerprint) withSingles(channels, columns, rows, frames int32) Fingerprint {
	f &^= shapeMask
	if channels == 1 {
		f |= singleChannel
	}
	if columns == 1 {
		f |= singleColumn
	}
	if rows == 1 {
		f |= singleRow
	}
	if frames == 1 {
		f |= singleFrame
	}
	return f
}

// ElemBytes returns the packed size of one element: ceil(bits/8).
func (f Fingerprint) ElemBytes() int { return (f.Bits() + 7) / 8 }

// IsValidType reports whether the type bits describe one of the supported
// element types.
func (f Fingerprint) IsValidType() bool {
	switch f & bitsMask {
	case 0, 3, 4, 5, 6:
	default:
		return false
	}
	if f.IsFloating() {
		if !f.IsSigned() {
			return false
		}
		switch f.Bits() {
		case 16, 32, 64:
		default:
			return false
		}
	}
	return true
}

// TypeName returns the short element-type name ("u8", "s32", "f16", ...).
func (f Fingerprint) TypeName() string {
	if !f.IsValidType() {
		return fmt.Sprintf("invalid(%#04x)", uint16(f))
	}
	prefix := "u"
	if f.IsFloating() {
		prefix = "f"
	} else if f.IsSigned() {
		prefix = "s"
	}
	return fmt.Sprintf("%s%d", prefix, f.Bits())
}

// String renders the fingerprint as the element-type name followed by the
// degenerate axes, e.g. "f32" or "u8_cf". The form is stable and is used in
// mangled kernel names.
func (f Fingerprint) String() string {
	s := f.TypeName()
	if f&shapeMask == 0 {
		return s
	}
	s += "_"
	if f.SingleChannel() {
		s += "c"
	}
	if f.SingleColumn() {
		s += "x"
	}
	if f.SingleRow() {
		s += "y"
	}
	if f.SingleFrame() {
		s += "f"
	}
	return s
}

var typeNames = map[string]Fingerprint{
	"u1": U1, "u8": U8, "u16": U16, "u32": U32, "u64": U64,
	"s8": S8, "s16": S16, "s32": S32, "s64": S64,
	"f16": F16, "f32": F32, "f64": F64,
}

// ParseType resolves an element-type name ("u8", "f32", ...) to its
// fingerprint.
func ParseType(name string) (Fingerprint, error) {
	t, ok := typeNames[name]
	if !ok {
		return 0, errors.Errorf("unknown element type %q", name)
	}
	return t, nil
}
