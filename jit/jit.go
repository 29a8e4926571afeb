// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package jit compiles matrix kernels at runtime, specialized to the 16-bit
// fingerprint of their operands.
//
// A kernel family (a primitive such as square, or a fused stitch pipeline)
// is specialized on first use for the fingerprint of the triggering matrix:
// the body is emitted as typed IR against that fingerprint, run through an
// optimization pipeline, and lowered to a callable kernel. Specializations
// are cached in the owning Context under their mangled name, so later calls
// with the same fingerprint reuse the compiled code, and two kernels with
// the same configuration share it.
//
// Dispatch is lock-free in steady state: callers compare the operand's
// fingerprint against an atomically published specialization and take the
// context's compile lock only on a miss.
package jit

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
)

// Context owns compiled kernels. All compilation within a context is
// serialized by one mutex; compiled kernels remain callable until Finalize.
//
// Most programs use the package-wide Default context. Separate contexts are
// independent: they share no cache and may compile concurrently.
type Context struct {
	mu        sync.Mutex
	funcs     map[string]*Function
	families  map[string]*family
	argIDs    map[string]int
	nextArgID int
	finalized bool

	compiles atomic.Int64

	primary, extra []pass
}

// family is the shared state of one kernel family within a context: the
// cached specializations plus the trampoline globals, a single atomically
// published current specialization.
type family struct {
	name    string
	current atomic.Pointer[specialization]
	specs   map[specKey]*specialization // guarded by Context.mu
}

type specKey struct {
	hash, hashB matrix.Fingerprint
}

// specialization is one compiled instance of a family: the kernel plus its
// per-specialization trampoline, both specialized to the key fingerprints.
type specialization struct {
	hash, hashB matrix.Fingerprint
	fn          *Function // kernel: (src, dst[, srcB], length)
	tramp       *Function // trampoline: guard, preallocate, allocate, invoke
}

// NewContext returns an empty compilation context.
func NewContext() *Context {
	return &Context{
		funcs:    make(map[string]*Function),
		families: make(map[string]*family),
		argIDs:   make(map[string]int),
		primary:  standardPasses(),
		extra:    extraPasses(),
	}
}

var (
	defaultOnce    sync.Once
	defaultContext *Context
)

// Default returns the process-wide context, created on first use.
func Default() *Context {
	defaultOnce.Do(func() { defaultContext = NewContext() })
	return defaultContext
}

// CompiledKernels reports how many kernel specializations this context has
// compiled. Trampolines are not counted.
func (ctx *Context) CompiledKernels() int64 { return ctx.compiles.Load() }

// Finalize drops every compiled kernel and marks the context unusable.
// Pointers handed out earlier must not be called afterwards.
func (ctx *Context) Finalize() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.finalized = true
	for _, f := range ctx.families {
		f.current.Store(nil)
	}
	ctx.funcs = nil
	ctx.families = nil
}

// checkUsable panics if the context was finalized. Caller holds ctx.mu.
func (ctx *Context) checkUsable() {
	if ctx.finalized {
		exceptions.Panicf("jit: context used after Finalize")
	}
}

// argID returns a small integer unique to an argument string within this
// context, assigned in first-use order. It keeps mangled names short while
// letting same-configuration kernels share them. Caller holds ctx.mu.
func (ctx *Context) argID(args string) int {
	id, ok := ctx.argIDs[args]
	if !ok {
		id = ctx.nextArgID
		ctx.nextArgID++
		ctx.argIDs[args] = id
	}
	return id
}

// family returns the shared family state for a mangled family name,
// creating it on first use. Caller holds ctx.mu.
func (ctx *Context) family(name string) *family {
	f, ok := ctx.families[name]
	if !ok {
		f = &family{name: name, specs: make(map[specKey]*specialization)}
		ctx.families[name] = f
	}
	return f
}

func (ctx *Context) optimize(fn *Function) {
	runPasses(fn, ctx.primary, ctx.extra)
}

// SelfCheck compiles and runs a trivial kernel against known data and
// panics if the engine produces wrong results. Call it once at startup to
// fail fast on a broken build.
func SelfCheck(ctx *Context) {
	src := matrix.FromFlat[int8](1, 2, 2, 1, []int8{-1, -2, 3, 4})
	dst := NewUnary(ctx, AsKernel(Add(1))).Apply(src)
	want := []int8{0, -1, 4, 5}
	got := matrix.Flat[int8](dst)
	for i := range want {
		if got[i] != want[i] {
			exceptions.Panicf("jit: self-check failed: add(1)(%v) = %v, want %v",
				matrix.Flat[int8](src), got, want)
		}
	}
}
