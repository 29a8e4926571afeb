// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sort"
	"strings"

	"github.com/caotto/openbr/types/matrix"
)

// Sum returns a kernel reducing over the given axes. Reduced axes collapse
// to extent 1 in the output; the element type is promoted to hold partial
// sums: width doubles, capped at 32 bits for integers and 64 for floats.
//
// The reduction nest always runs frames outermost down to channels
// innermost, so floating-point accumulation order (and therefore rounding)
// is deterministic for a given shape. With no axes the kernel degenerates
// to a promoting copy.
func Sum(axes ...matrix.Axis) Kernel {
	var s sumKernel
	for _, ax := range axes {
		s.axes[ax] = true
	}
	return s
}

type sumKernel struct {
	axes [matrix.NumAxes]bool
}

func (s sumKernel) Name() string { return "sum" }

func (s sumKernel) Args() string {
	var names []string
	for ax := 0; ax < matrix.NumAxes; ax++ {
		if s.axes[ax] {
			names = append(names, matrix.Axis(ax).String())
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (s sumKernel) Preallocate(src matrix.Matrix) matrix.Matrix {
	d := src.Header()
	for ax := 0; ax < matrix.NumAxes; ax++ {
		if s.axes[ax] {
			d.SetExtent(matrix.Axis(ax), 1)
		}
	}
	bits := 2 * d.Bits()
	max := 32
	if d.IsFloating() {
		max = 64
	}
	if bits > max {
		bits = max
	}
	if bits < 8 {
		bits = 8 // u1 partial sums are counts
	}
	d.SetType(d.Type().WithBits(bits))
	return d
}

func (s sumKernel) Build(src, dst *MatrixBuilder, i *Value) {
	c, x, y, f := dst.Deindex(i)
	coords := [matrix.NumAxes]*Value{c, x, y, f}
	acc := dst.AutoAlloca(0, "sum")
	open := 0
	for ax := int(matrix.AxisFrames); ax >= int(matrix.AxisChannels); ax-- {
		axis := matrix.Axis(ax)
		if !s.axes[axis] || src.Hash.Single(axis) {
			continue
		}
		coords[axis] = dst.BeginLoop(src.ExtentCode(axis), "src_"+axis.String())
		open++
	}
	si := src.AliasIndex(dst, coords[0], coords[1], coords[2], coords[3])
	v := src.Cast(src.Load(si), dst)
	dst.AccSet(acc, dst.Add(dst.AccGet(acc), v))
	for ; open > 0; open-- {
		dst.EndLoop()
	}
	dst.Store(i, dst.AccGet(acc))
}
