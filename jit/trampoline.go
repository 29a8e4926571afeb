// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/types/matrix"
)

// compileTrampoline emits the per-specialization entry point:
//
//	guard: republish this specialization if the runtime hash drifted
//	preallocate: write dst's header from src's (inlined policy result)
//	allocate: give dst a buffer of dst.bytes
//	invoke: call the family's current kernel with dst.elements
//
// The preallocation policy is folded in at compile time: axes whose extent
// the policy preserves are copied from the runtime src header, collapsed or
// retyped fields become constants. srcB is non-nil for binary kernels.
// Caller holds ctx.mu.
func (ctx *Context) compileTrampoline(fam *family, s *specialization, src, dst matrix.Matrix, srcB *matrix.Matrix) *Function {
	numParams := 2
	if srcB != nil {
		numParams = 3
	}
	fn := newFunction(s.fn.name+"_tramp", numParams)
	b := newFuncBuilder(fn)

	srcMB := newMatrixBuilder(b, src, 0, "src")
	hashes := []*Value{srcMB.HashCode()}
	var srcBMB *MatrixBuilder
	if srcB != nil {
		srcBMB = newMatrixBuilder(b, *srcB, 1, "srcB")
		hashes = append(hashes, srcBMB.HashCode())
	}
	dstMB := newMatrixBuilder(b, dst, numParams-1, "dst")
	b.guard(fam, s, hashes...)

	exts := make([]*Value, matrix.NumAxes)
	for ax := 0; ax < matrix.NumAxes; ax++ {
		axis := matrix.Axis(ax)
		switch {
		case dst.Extent(axis) == src.Extent(axis):
			exts[ax] = srcMB.ExtentCode(axis)
		case srcB != nil && dst.Extent(axis) == srcB.Extent(axis):
			exts[ax] = srcBMB.ExtentCode(axis)
		default:
			exts[ax] = b.constIndex(int64(dst.Extent(axis)))
		}
	}
	dstMB.SetChannelsCode(exts[matrix.AxisChannels])
	dstMB.SetColumnsCode(exts[matrix.AxisColumns])
	dstMB.SetRowsCode(exts[matrix.AxisRows])
	dstMB.SetFramesCode(exts[matrix.AxisFrames])
	dstMB.SetHashCode(b.constIndex(int64(dst.Hash)))

	elems := b.iMul(b.iMul(b.iMul(exts[0], exts[1]), exts[2]), exts[3])
	b.alloc(numParams-1, b.iMul(b.constIndex(int64(dst.Hash.ElemBytes())), elems))
	b.invoke(fam, elems)

	ctx.optimize(fn)
	materialize(fn)
	ctx.funcs[fn.name] = fn
	klog.V(1).Infof("jit: compiled trampoline %s", fn.name)
	return fn
}
