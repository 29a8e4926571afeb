// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/types/matrix"
)

// BinaryKernel is the two-input whole-loop contract: a preallocation policy
// over both input descriptors plus the loop body emitted per output
// element.
type BinaryKernel interface {
	Name() string
	Args() string
	Preallocate(a, b matrix.Matrix) matrix.Matrix
	Build(a, b, dst *MatrixBuilder, i *Value)
}

// Binary dispatches a two-input kernel family. Specializations are keyed by
// the fingerprint pair; dispatch and compilation follow the unary contract.
// No built-in binary kernel ships; the wrapper serves caller-defined ones.
type Binary struct {
	ctx    *Context
	kernel BinaryKernel
	fam    *family
	cached atomic.Pointer[specialization]
}

// NewBinary wraps a two-input kernel for dispatch within ctx.
func NewBinary(ctx *Context, k BinaryKernel) *Binary {
	return &Binary{ctx: ctx, kernel: k}
}

// Apply runs the kernel on (a, b), compiling a specialization for the
// fingerprint pair on first encounter.
func (u *Binary) Apply(a, b matrix.Matrix) matrix.Matrix {
	s := u.specialize(&a, &b)
	dst := u.kernel.Preallocate(a, b)
	dst.Allocate()
	s.fn.kernel(&a, &b, &dst, int32(dst.Elements()))
	return dst
}

// Project runs the kernel through its compiled trampoline, like
// Unary.Project.
func (u *Binary) Project(a, b matrix.Matrix) matrix.Matrix {
	s := u.specialize(&a, &b)
	var dst matrix.Matrix
	s.tramp.kernel(&a, &b, &dst, 0)
	return dst
}

func (u *Binary) specialize(a, b *matrix.Matrix) *specialization {
	if s := u.cached.Load(); s != nil && s.hash == a.Hash && s.hashB == b.Hash {
		return s
	}
	return u.specializeSlow(a, b)
}

func (u *Binary) specializeSlow(a, b *matrix.Matrix) *specialization {
	ctx := u.ctx
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.checkUsable()
	if s := u.cached.Load(); s != nil && s.hash == a.Hash && s.hashB == b.Hash {
		return s
	}
	if !a.Hash.IsValidType() || !b.Hash.IsValidType() {
		exceptions.Panicf("jit: dispatch on invalid fingerprint pair %#x, %#x",
			uint16(a.Hash), uint16(b.Hash))
	}
	if u.fam == nil {
		u.fam = ctx.family(mangledFamily(ctx, u.kernel.Name(), u.kernel.Args()))
	}
	key := specKey{hash: a.Hash, hashB: b.Hash}
	s, ok := u.fam.specs[key]
	if !ok {
		s = ctx.compileBinary(u.fam, u.kernel, a.Header(), b.Header())
		u.fam.specs[key] = s
	}
	u.fam.current.Store(s)
	u.cached.Store(s)
	return s
}

// compileBinary mirrors compileUnary for the two-input ABI. Caller holds
// ctx.mu.
func (ctx *Context) compileBinary(fam *family, k BinaryKernel, a, b matrix.Matrix) *specialization {
	dst := k.Preallocate(a, b)
	name := fam.name + "_" + a.Hash.String() + "_" + b.Hash.String()
	fn := ctx.funcs[name]
	if fn == nil {
		fn = emitBinaryKernel(name, k, a, b, dst)
		ctx.optimize(fn)
		materialize(fn)
		ctx.funcs[name] = fn
		ctx.compiles.Add(1)
		klog.V(1).Infof("jit: compiled kernel %s", name)
	}
	s := &specialization{hash: a.Hash, hashB: b.Hash, fn: fn}
	s.tramp = ctx.compileTrampoline(fam, s, a, dst, &b)
	return s
}

func emitBinaryKernel(name string, k BinaryKernel, aDesc, bDesc, dstDesc matrix.Matrix) *Function {
	fn := newFunction(name, 3)
	fb := newFuncBuilder(fn)
	a := newMatrixBuilder(fb, aDesc, 0, "srcA")
	b := newMatrixBuilder(fb, bDesc, 1, "srcB")
	dst := newMatrixBuilder(fb, dstDesc, 2, "dst")
	i := fb.beginLoop(fb.length(), "i")
	k.Build(a, b, dst, i)
	fb.endLoop()
	return fn
}
