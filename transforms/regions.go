// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/caotto/openbr/jit"
	"github.com/caotto/openbr/types/matrix"
)

// rectRegions tiles every matrix of a template into width x height
// subregions.
type rectRegions struct {
	width, height, widthStep, heightStep int
}

// RectRegions subdivides each matrix into rectangular column/row regions,
// each an owning copy preserving channels and frames. Steps smaller than 1
// default to the region extents, producing non-overlapping tiles. Matrices
// smaller than a single region yield nothing.
func RectRegions(width, height, widthStep, heightStep int) (Transform, error) {
	if width < 1 || height < 1 {
		return nil, errors.Errorf("transforms: rectregions: region %dx%d must be positive", width, height)
	}
	if widthStep < 1 {
		widthStep = width
	}
	if heightStep < 1 {
		heightStep = height
	}
	return &rectRegions{width: width, height: height, widthStep: widthStep, heightStep: heightStep}, nil
}

func (r *rectRegions) Name() string {
	return fmt.Sprintf("rectregions(%d,%d,%d,%d)", r.width, r.height, r.widthStep, r.heightStep)
}

func (r *rectRegions) Project(src Template) (Template, error) {
	dst := Template{File: src.File}
	for _, m := range src.Mats {
		for x := 0; x+r.width <= int(m.Columns); x += r.widthStep {
			for y := 0; y+r.height <= int(m.Rows); y += r.heightStep {
				dst.Append(copyRegion(m, x, y, r.width, r.height))
			}
		}
	}
	return dst, nil
}

type byRow struct{}

// ByRow splits every matrix of a template into one matrix per row.
func ByRow() Transform { return byRow{} }

func (byRow) Name() string { return "byrow" }

func (byRow) Project(src Template) (Template, error) {
	dst := Template{File: src.File}
	for _, m := range src.Mats {
		for y := 0; y < int(m.Rows); y++ {
			dst.Append(copyRegion(m, 0, y, int(m.Columns), 1))
		}
	}
	return dst, nil
}

// copyRegion copies the [x, x+width) x [y, y+height) column/row window of m
// into a fresh owning matrix, keeping channels and frames. Rows of a region
// are contiguous runs in storage order, so the copy moves one run per row
// per frame.
func copyRegion(m matrix.Matrix, x, y, width, height int) matrix.Matrix {
	out := matrix.New(m.Type(), int(m.Channels), width, height, int(m.Frames))
	elem := m.Hash.ElemBytes()
	run := width * int(m.Channels) * elem
	for f := 0; f < int(m.Frames); f++ {
		for yy := 0; yy < height; yy++ {
			srcOff := m.Index(0, x, y+yy, f) * elem
			dstOff := out.Index(0, 0, yy, f) * elem
			copy(out.Data[dstOff:dstOff+run], m.Data[srcOff:srcOff+run])
		}
	}
	return out
}

// cat concatenates all matrices of a template into one f32 row vector.
type cat struct {
	cast *jit.Unary
}

// Cat flattens a template: every element of every matrix, cast to f32 in
// storage order, lands in a single row vector. Input matrices may differ in
// shape and element type.
func Cat() Transform {
	return &cat{cast: jit.NewUnary(jit.Default(), jit.AsKernel(jit.Cast(matrix.F32)))}
}

func (c *cat) Name() string { return "cat" }

func (c *cat) Project(src Template) (Template, error) {
	total := 0
	for _, m := range src.Mats {
		total += m.Elements()
	}
	out := matrix.New(matrix.F32, 1, total, 1, 1)
	flat := matrix.Flat[float32](out)
	offset := 0
	for _, m := range src.Mats {
		if m.Type() != matrix.F32 {
			m = c.cast.Project(m)
		}
		offset += copy(flat[offset:], matrix.Flat[float32](m))
	}
	return NewTemplate(src.File, out), nil
}

// dup repeats the template's matrices n times.
type dup struct {
	n int
}

// Dup duplicates the template's matrices n times; the copies share their
// data buffers. Dup(0) empties the template.
func Dup(n int) (Transform, error) {
	if n < 0 {
		return nil, errors.Errorf("transforms: dup: negative count %d", n)
	}
	return dup{n: n}, nil
}

func (d dup) Name() string { return fmt.Sprintf("dup(%d)", d.n) }

func (d dup) Project(src Template) (Template, error) {
	dst := Template{File: src.File}
	for i := 0; i < d.n; i++ {
		dst.Merge(src)
	}
	return dst, nil
}

func intArg(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "transforms: %s: bad argument %q", name, raw)
	}
	return v, nil
}

func init() {
	Register("rectregions", func(args []string) (Transform, error) {
		if len(args) != 0 && len(args) != 2 && len(args) != 4 {
			return nil, errors.Errorf("transforms: rectregions: want 0, 2, or 4 arguments, have %d", len(args))
		}
		vals := []int{8, 8, 0, 0}
		for ii, a := range args {
			v, err := intArg("rectregions", a)
			if err != nil {
				return nil, err
			}
			vals[ii] = v
		}
		return RectRegions(vals[0], vals[1], vals[2], vals[3])
	})
	Register("byrow", func(args []string) (Transform, error) {
		if err := wantArgs("byrow", args, 0); err != nil {
			return nil, err
		}
		return ByRow(), nil
	})
	Register("cat", func(args []string) (Transform, error) {
		if err := wantArgs("cat", args, 0); err != nil {
			return nil, err
		}
		return Cat(), nil
	})
	Register("dup", func(args []string) (Transform, error) {
		if len(args) == 0 {
			return Dup(1)
		}
		if err := wantArgs("dup", args, 1); err != nil {
			return nil, err
		}
		n, err := intArg("dup", args[0])
		if err != nil {
			return nil, err
		}
		return Dup(n)
	})
}
