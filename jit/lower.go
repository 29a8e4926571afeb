// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"sync"

	"github.com/gomlx/exceptions"

	"github.com/caotto/openbr/types/matrix"
)

// machine is the execution state of one kernel invocation: a register file
// indexed by value id plus the bound matrix parameters. Machines are pooled
// per compiled function, so steady-state dispatch does not allocate.
type machine struct {
	regs   []word
	mats   [3]*matrix.Matrix
	length int32
}

type step func(*machine)

func ix(w word) int64 { return int64(w.bits) }

func ixWord(c int64) word { return word{bits: uint64(c)} }

func boolWord(b bool) word {
	if b {
		return word{bits: 1}
	}
	return word{}
}

// materialize lowers an optimized function to a callable kernel. The result
// is installed on fn and stays valid until the owning context is finalized.
func materialize(fn *Function) compiledFn {
	prog := lowerBlock(fn, fn.entry)
	regs := fn.nextID
	pool := &sync.Pool{New: func() any {
		return &machine{regs: make([]word, regs)}
	}}
	fn.kernel = func(m0, m1, m2 *matrix.Matrix, length int32) {
		mc := pool.Get().(*machine)
		mc.mats[0], mc.mats[1], mc.mats[2] = m0, m1, m2
		mc.length = length
		for _, s := range prog {
			s(mc)
		}
		mc.mats = [3]*matrix.Matrix{}
		pool.Put(mc)
	}
	return fn.kernel
}

func lowerBlock(fn *Function, b *block) []step {
	prog := make([]step, 0, len(b.values))
	for _, v := range b.values {
		prog = append(prog, lowerValue(fn, v))
	}
	return prog
}

func lowerValue(fn *Function, v *Value) step {
	d := v.id
	argReg := func(i int) int { return v.args[i].id }
	switch v.op {
	case OpConstIndex:
		w := ixWord(v.intImm)
		return func(mc *machine) { mc.regs[d] = w }
	case OpLength:
		return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.length)) }
	case OpHeaderGet:
		p := v.param
		switch v.field {
		case fieldChannels:
			return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.mats[p].Channels)) }
		case fieldColumns:
			return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.mats[p].Columns)) }
		case fieldRows:
			return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.mats[p].Rows)) }
		case fieldFrames:
			return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.mats[p].Frames)) }
		case fieldHash:
			return func(mc *machine) { mc.regs[d] = ixWord(int64(mc.mats[p].Hash)) }
		}
	case OpIMul:
		a, b2 := argReg(0), argReg(1)
		return func(mc *machine) { mc.regs[d] = ixWord(ix(mc.regs[a]) * ix(mc.regs[b2])) }
	case OpIAdd:
		a, b2 := argReg(0), argReg(1)
		return func(mc *machine) { mc.regs[d] = ixWord(ix(mc.regs[a]) + ix(mc.regs[b2])) }
	case OpISub:
		a, b2 := argReg(0), argReg(1)
		return func(mc *machine) { mc.regs[d] = ixWord(ix(mc.regs[a]) - ix(mc.regs[b2])) }
	case OpUDiv:
		a, b2 := argReg(0), argReg(1)
		return func(mc *machine) {
			mc.regs[d] = word{bits: mc.regs[a].bits / mc.regs[b2].bits}
		}
	case OpURem:
		a, b2 := argReg(0), argReg(1)
		return func(mc *machine) {
			mc.regs[d] = word{bits: mc.regs[a].bits % mc.regs[b2].bits}
		}
	case OpConstElem:
		w := v.wordImm
		return func(mc *machine) { mc.regs[d] = w }
	case OpLoad:
		p, i := v.param, argReg(0)
		codec := codecOf(v.elem)
		return func(mc *machine) { mc.regs[d] = codec.load(mc.mats[p].Data, int(ix(mc.regs[i]))) }
	case OpCast:
		a := argReg(0)
		cast := castFor(v.fromElem, v.elem)
		return func(mc *machine) { mc.regs[d] = cast(mc.regs[a]) }
	case OpAdd:
		a, b2 := argReg(0), argReg(1)
		add := opsOf(v.elem).add
		return func(mc *machine) { mc.regs[d] = add(mc.regs[a], mc.regs[b2]) }
	case OpMul:
		a, b2 := argReg(0), argReg(1)
		mul := opsOf(v.elem).mul
		return func(mc *machine) { mc.regs[d] = mul(mc.regs[a], mc.regs[b2]) }
	case OpSub:
		a, b2 := argReg(0), argReg(1)
		sub := opsOf(v.elem).sub
		return func(mc *machine) { mc.regs[d] = sub(mc.regs[a], mc.regs[b2]) }
	case OpCmpLT:
		a, b2 := argReg(0), argReg(1)
		lt := opsOf(v.elem).lt
		return func(mc *machine) { mc.regs[d] = boolWord(lt(mc.regs[a], mc.regs[b2])) }
	case OpCmpGT:
		a, b2 := argReg(0), argReg(1)
		gt := opsOf(v.elem).gt
		return func(mc *machine) { mc.regs[d] = boolWord(gt(mc.regs[a], mc.regs[b2])) }
	case OpSelect:
		c, a, b2 := argReg(0), argReg(1), argReg(2)
		return func(mc *machine) {
			if mc.regs[c].bits != 0 {
				mc.regs[d] = mc.regs[a]
			} else {
				mc.regs[d] = mc.regs[b2]
			}
		}
	case OpFAbs:
		a := argReg(0)
		abs := opsOf(v.elem).abs
		return func(mc *machine) { mc.regs[d] = abs(mc.regs[a]) }
	case OpPowi:
		a, n := argReg(0), int(v.intImm)
		powi := opsOf(v.elem).powi
		return func(mc *machine) { mc.regs[d] = powi(mc.regs[a], n) }
	case OpPow:
		a, e := argReg(0), v.floatImm
		pow := opsOf(v.elem).pow
		return func(mc *machine) { mc.regs[d] = pow(mc.regs[a], e) }
	case OpAccAlloc:
		a := argReg(0)
		return func(mc *machine) { mc.regs[d] = mc.regs[a] }
	case OpAccGet:
		slot := argReg(0)
		return func(mc *machine) { mc.regs[d] = mc.regs[slot] }
	case OpAccSet:
		slot, a := argReg(0), argReg(1)
		return func(mc *machine) { mc.regs[slot] = mc.regs[a] }
	case OpStore:
		p, i, a := v.param, argReg(0), argReg(1)
		codec := codecOf(v.elem)
		return func(mc *machine) { codec.store(mc.mats[p].Data, int(ix(mc.regs[i])), mc.regs[a]) }
	case OpHeaderSet:
		p, a := v.param, argReg(0)
		switch v.field {
		case fieldChannels:
			return func(mc *machine) { mc.mats[p].Channels = int32(ix(mc.regs[a])) }
		case fieldColumns:
			return func(mc *machine) { mc.mats[p].Columns = int32(ix(mc.regs[a])) }
		case fieldRows:
			return func(mc *machine) { mc.mats[p].Rows = int32(ix(mc.regs[a])) }
		case fieldFrames:
			return func(mc *machine) { mc.mats[p].Frames = int32(ix(mc.regs[a])) }
		case fieldHash:
			return func(mc *machine) { mc.mats[p].Hash = matrix.Fingerprint(mc.regs[a].bits) }
		}
	case OpAlloc:
		p, a := v.param, argReg(0)
		return func(mc *machine) { mc.mats[p].Data = make([]byte, ix(mc.regs[a])) }
	case OpLoop:
		limit := argReg(0)
		body := lowerBlock(fn, v.body)
		return func(mc *machine) {
			n := ix(mc.regs[limit])
			for j := int64(0); j < n; j++ {
				mc.regs[d] = ixWord(j)
				for _, s := range body {
					s(mc)
				}
			}
		}
	case OpGuard:
		fam, spec := v.fam, v.spec
		a := argReg(0)
		if len(v.args) == 2 {
			b2 := argReg(1)
			return func(mc *machine) {
				cur := fam.current.Load()
				if cur == nil ||
					matrix.Fingerprint(mc.regs[a].bits) != cur.hash ||
					matrix.Fingerprint(mc.regs[b2].bits) != cur.hashB {
					fam.current.Store(spec)
				}
			}
		}
		return func(mc *machine) {
			cur := fam.current.Load()
			if cur == nil || matrix.Fingerprint(mc.regs[a].bits) != cur.hash {
				fam.current.Store(spec)
			}
		}
	case OpInvoke:
		fam, l := v.fam, argReg(0)
		return func(mc *machine) {
			cur := fam.current.Load()
			if cur == nil || cur.fn.kernel == nil {
				exceptions.Panicf("jit: %s invoked before any specialization was compiled", fam.name)
			}
			cur.fn.kernel(mc.mats[0], mc.mats[1], mc.mats[2], int32(ix(mc.regs[l])))
		}
	}
	exceptions.Panicf("jit: cannot lower %s", v.op)
	return nil
}
