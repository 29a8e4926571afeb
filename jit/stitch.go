// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
)

// NewStitch composes stitchable primitives into a single fused primitive:
// one loop, one load and one store per element, with every step's value
// chain emitted in between. Because each step is a pure value-in/value-out
// function that preserves element count, the composition is pointwise
// function composition under one load/store pair.
//
// The result is itself stitchable, so pipelines nest.
func NewStitch(steps ...Stitchable) Stitchable {
	if len(steps) == 0 {
		exceptions.Panicf("jit: stitch of zero primitives")
	}
	return stitch{steps}
}

type stitch struct {
	steps []Stitchable
}

func (s stitch) Name() string {
	names := make([]string, len(s.steps))
	for i, p := range s.steps {
		names[i] = p.Name()
	}
	return "stitch_" + strings.Join(names, "_")
}

func (s stitch) Args() string {
	args := make([]string, len(s.steps))
	for i, p := range s.steps {
		args[i] = p.Args()
	}
	return strings.Join(args, ";")
}

// Preallocate folds the steps' policies: step i's output descriptor is step
// i+1's input. The intermediate descriptors reappear during Stitch to
// govern per-step casts.
func (s stitch) Preallocate(src matrix.Matrix) matrix.Matrix {
	d := src.Header()
	for _, p := range s.steps {
		d = p.Preallocate(d)
	}
	return d
}

func (s stitch) Stitch(src, dst *MatrixBuilder, v *Value) *Value {
	cur := src
	for _, p := range s.steps {
		stepDst := dst.rebind(p.Preallocate(cur.Matrix))
		v = p.Stitch(cur, stepDst, v)
		cur = stepDst
	}
	return v
}
