// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"strconv"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/types/matrix"
)

// Unary dispatches a kernel family over single-input matrices. Each
// instance caches the specialization it last dispatched; the compiled code
// itself is shared through the context, so two instances with the same
// kernel configuration never compile twice.
type Unary struct {
	ctx    *Context
	kernel Kernel
	fam    *family // resolved under ctx.mu on first miss
	cached atomic.Pointer[specialization]
}

// NewUnary wraps a kernel for dispatch within ctx.
func NewUnary(ctx *Context, k Kernel) *Unary {
	return &Unary{ctx: ctx, kernel: k}
}

// Stitched wraps a fused pipeline of stitchable primitives for dispatch.
func Stitched(ctx *Context, steps ...Stitchable) *Unary {
	return NewUnary(ctx, AsKernel(NewStitch(steps...)))
}

// Apply runs the kernel on src, compiling a specialization for its
// fingerprint on first encounter. The output matrix is preallocated by the
// kernel's policy and owned by the caller.
func (u *Unary) Apply(src matrix.Matrix) matrix.Matrix {
	s := u.specialize(&src)
	dst := u.kernel.Preallocate(src)
	dst.Allocate()
	s.fn.kernel(&src, &dst, nil, int32(dst.Elements()))
	return dst
}

// Project runs the kernel through its compiled trampoline: the fingerprint
// guard, preallocation, allocation, and kernel call all execute as compiled
// code. Results match Apply exactly.
func (u *Unary) Project(src matrix.Matrix) matrix.Matrix {
	s := u.specialize(&src)
	var dst matrix.Matrix
	s.tramp.kernel(&src, &dst, nil, 0)
	return dst
}

// TrampolineFn is a compiled single entry point for a kernel family. It
// guards the family's published specialization against the input's runtime
// fingerprint, preallocates and allocates dst, and invokes the family's
// current kernel.
type TrampolineFn func(src, dst *matrix.Matrix)

// Trampoline ensures a specialization exists for hint's fingerprint and
// returns its compiled entry point.
func (u *Unary) Trampoline(hint matrix.Matrix) TrampolineFn {
	s := u.specialize(&hint)
	t := s.tramp.kernel
	return func(src, dst *matrix.Matrix) { t(src, dst, nil, 0) }
}

// specialize resolves the specialization for src's fingerprint. Hot path is
// one atomic load and a compare; misses take the context's compile mutex.
func (u *Unary) specialize(src *matrix.Matrix) *specialization {
	if s := u.cached.Load(); s != nil && s.hash == src.Hash {
		return s
	}
	return u.specializeSlow(src)
}

func (u *Unary) specializeSlow(src *matrix.Matrix) *specialization {
	ctx := u.ctx
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.checkUsable()
	if s := u.cached.Load(); s != nil && s.hash == src.Hash {
		return s
	}
	if !src.Hash.IsValidType() {
		exceptions.Panicf("jit: dispatch on invalid fingerprint %#x", uint16(src.Hash))
	}
	if u.fam == nil {
		u.fam = ctx.family(mangledFamily(ctx, u.kernel.Name(), u.kernel.Args()))
	}
	key := specKey{hash: src.Hash}
	s, ok := u.fam.specs[key]
	if !ok {
		s = ctx.compileUnary(u.fam, u.kernel, src.Header())
		u.fam.specs[key] = s
	}
	u.fam.current.Store(s)
	u.cached.Store(s)
	return s
}

// mangledFamily builds the family symbol prefix: the kernel name plus a
// context-unique id for its argument string, so same-configuration kernels
// share symbols and differently-configured ones never collide. Caller holds
// ctx.mu.
func mangledFamily(ctx *Context, name, args string) string {
	mangled := "jitcv_" + name
	if args != "" {
		mangled += strconv.Itoa(ctx.argID(args))
	}
	return mangled
}

// compileUnary emits, optimizes, and materializes the kernel specialization
// for src's fingerprint, plus its trampoline. Caller holds ctx.mu.
func (ctx *Context) compileUnary(fam *family, k Kernel, src matrix.Matrix) *specialization {
	dst := k.Preallocate(src)
	name := fam.name + "_" + src.Hash.String()
	fn := ctx.funcs[name]
	if fn == nil {
		fn = emitUnaryKernel(name, k, src, dst)
		ctx.optimize(fn)
		materialize(fn)
		ctx.funcs[name] = fn
		ctx.compiles.Add(1)
		klog.V(1).Infof("jit: compiled kernel %s", name)
	}
	s := &specialization{hash: src.Hash, fn: fn}
	s.tramp = ctx.compileTrampoline(fam, s, src, dst, nil)
	return s
}

func emitUnaryKernel(name string, k Kernel, srcDesc, dstDesc matrix.Matrix) *Function {
	fn := newFunction(name, 2)
	b := newFuncBuilder(fn)
	src := newMatrixBuilder(b, srcDesc, 0, "src")
	dst := newMatrixBuilder(b, dstDesc, 1, "dst")
	i := b.beginLoop(b.length(), "i")
	k.Build(src, dst, i)
	b.endLoop()
	return fn
}
