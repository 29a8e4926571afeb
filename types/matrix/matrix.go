// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package matrix defines the dense 4-axis tensor value shared between the
// host and compiled kernels.
//
// A Matrix is a contiguous byte buffer plus a header describing how to
// interpret it: four axis extents (channels, columns, rows, frames, with
// channels innermost in storage order) and a 16-bit Fingerprint packing the
// element type together with a degenerate flag per axis. The fingerprint is
// the key under which kernels are specialized and cached, so the package
// maintains the invariant that the degenerate flags always agree with the
// extents.
//
// Glossary:
//   - Element index space: the flat range [0, channels·columns·rows·frames).
//     Element i lives at byte offset i·ElemBytes.
//   - Degenerate axis: an axis with extent 1. Compiled kernels elide index
//     arithmetic on degenerate axes, which is why the flags are part of the
//     specialization key.
//   - Borrowed matrix: one built by Wrap around caller-owned bytes; the
//     caller keeps the buffer alive and mutations are visible both ways.
package matrix

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
)

// Matrix is a self-describing dense tensor. The field order mirrors the
// header layout compiled kernels consume: buffer, four 32-bit extents, then
// the 16-bit fingerprint.
type Matrix struct {
	Data     []byte
	Channels int32
	Columns  int32
	Rows     int32
	Frames   int32
	Hash     Fingerprint
}

// NewHeader builds a data-less Matrix header with the degenerate-axis flags
// derived from the extents. Extents must be non-negative and the element
// type valid; violations are fatal.
func NewHeader(t Fingerprint, channels, columns, rows, frames int) Matrix {
	checkExtent("channels", channels)
	checkExtent("columns", columns)
	checkExtent("rows", rows)
	checkExtent("frames", frames)
	if !t.IsValidType() {
		exceptions.Panicf("matrix: invalid element type %s", t)
	}
	if int64(channels)*int64(columns)*int64(rows)*int64(frames) > math.MaxInt32 {
		exceptions.Panicf("matrix: %dx%dx%dx%d elements overflow the kernel index space",
			channels, columns, rows, frames)
	}
	c, x, y, f := int32(channels), int32(columns), int32(rows), int32(frames)
	return Matrix{
		Channels: c,
		Columns:  x,
		Rows:     y,
		Frames:   f,
		Hash:     t.Type().withSingles(c, x, y, f),
	}
}

// New builds an owning Matrix with a freshly allocated zeroed buffer.
func New(t Fingerprint, channels, columns, rows, frames int) Matrix {
	m := NewHeader(t, channels, columns, rows, frames)
	m.Allocate()
	return m
}

// Wrap builds a borrowed Matrix around caller-owned bytes. The buffer must
// be contiguous channel-innermost storage of exactly Bytes() length and
// aligned for the element width; a length mismatch is fatal. The caller
// retains ownership of data.
func Wrap(t Fingerprint, channels, columns, rows, frames int, data []byte) Matrix {
	m := NewHeader(t, channels, columns, rows, frames)
	if len(data) != m.Bytes() {
		exceptions.Panicf("matrix: wrapping %s with %d bytes, want %d (%dx%dx%dx%d, %d bytes/element)",
			m.Hash, len(data), m.Bytes(), channels, columns, rows, frames, t.ElemBytes())
	}
	m.Data = data
	return m
}

func checkExtent(name string, v int) {
	if v < 0 || v > math.MaxInt32 {
		exceptions.Panicf("matrix: %s extent %d out of range", name, v)
	}
}

// Header returns a data-less copy of m's header, the starting point of
// kernel preallocation.
func (m Matrix) Header() Matrix {
	m.Data = nil
	return m
}

// Elements returns the size of the element index space.
func (m Matrix) Elements() int {
	return int(m.Channels) * int(m.Columns) * int(m.Rows) * int(m.Frames)
}

// Bytes returns the packed buffer size: ceil(bits/8) × elements.
func (m Matrix) Bytes() int { return m.Hash.ElemBytes() * m.Elements() }

// Bits returns the element width in bits.
func (m Matrix) Bits() int { return m.Hash.Bits() }

// IsFloating reports whether elements are floating-point.
func (m Matrix) IsFloating() bool { return m.Hash.IsFloating() }

// IsSigned reports whether elements are signed.
func (m Matrix) IsSigned() bool { return m.Hash.IsSigned() }

// SingleChannel reports whether the channels axis is degenerate.
func (m Matrix) SingleChannel() bool { return m.Hash.SingleChannel() }

// SingleColumn reports whether the columns axis is degenerate.
func (m Matrix) SingleColumn() bool { return m.Hash.SingleColumn() }

// SingleRow reports whether the rows axis is degenerate.
func (m Matrix) SingleRow() bool { return m.Hash.SingleRow() }

// SingleFrame reports whether the frames axis is degenerate.
func (m Matrix) SingleFrame() bool { return m.Hash.SingleFrame() }

// Type returns the element type (fingerprint with shape flags cleared).
func (m Matrix) Type() Fingerprint { return m.Hash.Type() }

// Extent returns the extent of the given axis.
func (m Matrix) Extent(axis Axis) int32 {
	switch axis {
	case AxisChannels:
		return m.Channels
	case AxisColumns:
		return m.Columns
	case AxisRows:
		return m.Rows
	case AxisFrames:
		return m.Frames
	}
	exceptions.Panicf("matrix: invalid axis %d", axis)
	return 0
}

// SetExtent sets the extent of the given axis and recomputes the
// degenerate-axis flags.
func (m *Matrix) SetExtent(axis Axis, extent int32) {
	if extent < 0 {
		exceptions.Panicf("matrix: %s extent %d out of range", axis, extent)
	}
	switch axis {
	case AxisChannels:
		m.Channels = extent
	case AxisColumns:
		m.Columns = extent
	case AxisRows:
		m.Rows = extent
	case AxisFrames:
		m.Frames = extent
	default:
		exceptions.Panicf("matrix: invalid axis %d", axis)
	}
	m.Hash = m.Hash.withSingles(m.Channels, m.Columns, m.Rows, m.Frames)
}

// SetType replaces the element type, keeping the shape and its flags.
func (m *Matrix) SetType(t Fingerprint) {
	if !t.IsValidType() {
		exceptions.Panicf("matrix: invalid element type %s", t)
	}
	m.Hash = m.Hash.WithType(t)
}

// Allocate gives m a fresh zeroed buffer of Bytes() length, dropping any
// previous one. The result is always owning.
func (m *Matrix) Allocate() {
	m.Data = make([]byte, m.Bytes())
}

// ColumnStep returns the flat-index stride between consecutive columns.
func (m Matrix) ColumnStep() int { return int(m.Channels) }

// RowStep returns the flat-index stride between consecutive rows.
func (m Matrix) RowStep() int { return int(m.Columns) * m.ColumnStep() }

// FrameStep returns the flat-index stride between consecutive frames.
func (m Matrix) FrameStep() int { return int(m.Rows) * m.RowStep() }

// Index returns the flat element index of (c, x, y, f).
func (m Matrix) Index(c, x, y, f int) int {
	return c + m.ColumnStep()*x + m.RowStep()*y + m.FrameStep()*f
}

// Coordinates is the inverse of Index.
func (m Matrix) Coordinates(i int) (c, x, y, f int) {
	c = i % m.ColumnStep()
	x = i % m.RowStep() / m.ColumnStep()
	y = i % m.FrameStep() / m.RowStep()
	f = i / m.FrameStep()
	return
}

// Clone returns an owning deep copy of m.
func (m Matrix) Clone() Matrix {
	c := m
	if m.Data != nil {
		c.Data = make([]byte, len(m.Data))
		copy(c.Data, m.Data)
	}
	return c
}

// Equal reports whether m and other have identical headers and identical
// buffer contents.
func (m Matrix) Equal(other Matrix) bool {
	if m.Channels != other.Channels || m.Columns != other.Columns ||
		m.Rows != other.Rows || m.Frames != other.Frames || m.Hash != other.Hash {
		return false
	}
	if len(m.Data) != len(other.Data) {
		return false
	}
	for i, b := range m.Data {
		if other.Data[i] != b {
			return false
		}
	}
	return true
}

// String renders the header, e.g. "f32[c=3 x=640 y=480 f=1]".
func (m Matrix) String() string {
	return fmt.Sprintf("%s[c=%d x=%d y=%d f=%d]", m.Hash.TypeName(), m.Channels, m.Columns, m.Rows, m.Frames)
}
