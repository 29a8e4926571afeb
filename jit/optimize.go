// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/caotto/openbr/types/matrix"
)

// A pass rewrites a function in place and reports whether it changed
// anything. Passes must be safe to re-run; the primary pipeline iterates
// them to a fixed point before materialization.
type pass struct {
	name string
	run  func(fn *Function) bool
}

func standardPasses() []pass {
	return []pass{
		{"verify", passVerify},
		{"fold", passFold},
		{"simplify", passSimplify},
		{"cse", passCSE},
		{"dce", passDCE},
	}
}

// extraPasses run once after the primary pipeline converges.
func extraPasses() []pass {
	return []pass{
		{"verify", passVerify},
		{"dump", passDump},
	}
}

const maxOptimizeRounds = 100

func runPasses(fn *Function, primary, extra []pass) {
	for round := 0; ; round++ {
		if round == maxOptimizeRounds {
			klog.Warningf("jit: optimizer did not converge on %s after %d rounds", fn.name, round)
			break
		}
		changed := false
		for _, p := range primary {
			changed = p.run(fn) || changed
		}
		if !changed {
			break
		}
	}
	for _, p := range extra {
		p.run(fn)
	}
}

func passDump(fn *Function) bool {
	if klog.V(2).Enabled() {
		klog.Infof("jit: optimized %s:\n%s", fn.name, fn)
	}
	return false
}

// passVerify checks structural invariants and panics on the first
// violation. Emitters only produce well-formed functions, so a failure here
// is a bug in a pass or in a kernel's Build.
func passVerify(fn *Function) bool {
	defined := make(map[*Value]bool)
	var check func(b *block)
	check = func(b *block) {
		var scoped []*Value
		for _, v := range b.values {
			for i, a := range v.args {
				if a == nil {
					exceptions.Panicf("jit: verify %s: %s arg %d is nil", fn.name, v.op, i)
				}
				if !defined[a] {
					exceptions.Panicf("jit: verify %s: %s uses %%%d before definition", fn.name, v.op, a.id)
				}
			}
			verifyValue(fn, v)
			defined[v] = true
			scoped = append(scoped, v)
			if v.op == OpLoop {
				check(v.body)
			}
		}
		for _, v := range scoped {
			delete(defined, v)
		}
	}
	check(fn.entry)
	return false
}

func verifyValue(fn *Function, v *Value) {
	bad := func(format string, args ...any) {
		exceptions.Panicf("jit: verify %s: %%%d %s: %s", fn.name, v.id, v.op, fmt.Sprintf(format, args...))
	}
	arity := func(n int) {
		if len(v.args) != n {
			bad("want %d args, have %d", n, len(v.args))
		}
	}
	wantIndex := func(a *Value) {
		if a.kind() != kindIndex {
			bad("arg %%%d is not an index", a.id)
		}
	}
	wantElem := func(a *Value, t matrix.Fingerprint) {
		if a.kind() != kindElem {
			bad("arg %%%d is not an element", a.id)
		}
		if a.elem != t {
			bad("arg %%%d has type %s, want %s", a.id, a.elem.TypeName(), t.TypeName())
		}
	}
	param := func() {
		if v.param < 0 || v.param >= fn.numParams {
			bad("parameter %d out of range", v.param)
		}
	}
	switch v.op {
	case OpConstIndex, OpLength, OpConstElem:
		arity(0)
	case OpHeaderGet:
		arity(0)
		param()
	case OpIMul, OpIAdd, OpISub, OpUDiv, OpURem:
		arity(2)
		wantIndex(v.args[0])
		wantIndex(v.args[1])
	case OpLoad:
		arity(1)
		param()
		wantIndex(v.args[0])
	case OpCast:
		arity(1)
		wantElem(v.args[0], v.fromElem)
	case OpAdd, OpMul, OpSub, OpCmpLT, OpCmpGT:
		arity(2)
		wantElem(v.args[0], v.elem)
		wantElem(v.args[1], v.elem)
	case OpSelect:
		arity(3)
		if v.args[0].kind() != kindBool {
			bad("condition %%%d is not a bool", v.args[0].id)
		}
		wantElem(v.args[1], v.elem)
		wantElem(v.args[2], v.elem)
	case OpFAbs:
		arity(1)
		if !v.elem.IsFloating() {
			bad("element type %s is not floating", v.elem.TypeName())
		}
		wantElem(v.args[0], v.elem)
	case OpPowi, OpPow:
		arity(1)
		if !v.elem.IsFloating() {
			bad("element type %s is not floating", v.elem.TypeName())
		}
		wantElem(v.args[0], v.elem)
	case OpAccAlloc:
		arity(1)
		wantElem(v.args[0], v.elem)
	case OpAccGet:
		arity(1)
		if v.args[0].kind() != kindSlot {
			bad("arg %%%d is not a slot", v.args[0].id)
		}
		if v.elem != v.args[0].elem {
			bad("slot type mismatch")
		}
	case OpAccSet:
		arity(2)
		if v.args[0].kind() != kindSlot {
			bad("arg %%%d is not a slot", v.args[0].id)
		}
		wantElem(v.args[1], v.args[0].elem)
	case OpStore:
		arity(2)
		param()
		wantIndex(v.args[0])
		wantElem(v.args[1], v.elem)
	case OpHeaderSet:
		arity(1)
		param()
		wantIndex(v.args[0])
	case OpAlloc:
		arity(1)
		param()
		wantIndex(v.args[0])
	case OpLoop:
		arity(1)
		wantIndex(v.args[0])
		if v.body == nil {
			bad("loop without a body")
		}
	case OpGuard:
		if len(v.args) != 1 && len(v.args) != 2 {
			bad("want 1 or 2 hash args, have %d", len(v.args))
		}
		for _, a := range v.args {
			wantIndex(a)
		}
		if v.fam == nil || v.spec == nil {
			bad("guard without a rebind target")
		}
	case OpInvoke:
		arity(1)
		wantIndex(v.args[0])
		if v.fam == nil {
			bad("invoke without a family")
		}
	default:
		bad("unknown op")
	}
}

// rewriteArgs updates every use through the replacement map, following
// chains so stacked replacements resolve in one round.
func rewriteArgs(fn *Function, repl map[*Value]*Value) {
	if len(repl) == 0 {
		return
	}
	resolve := func(v *Value) *Value {
		for {
			r, ok := repl[v]
			if !ok {
				return v
			}
			v = r
		}
	}
	fn.walk(func(v *Value) {
		for i, a := range v.args {
			v.args[i] = resolve(a)
		}
	})
}

// passFold evaluates operations whose operands are all constants, mutating
// the value into a constant in place so uses need no rewriting.
func passFold(fn *Function) bool {
	changed := false
	toConstIndex := func(v *Value, c int64) {
		v.op = OpConstIndex
		v.intImm = c
		v.args = nil
		changed = true
	}
	toConstElem := func(v *Value, w word) {
		v.op = OpConstElem
		v.wordImm = w
		v.args = nil
		changed = true
	}
	fn.walk(func(v *Value) {
		switch v.op {
		case OpIMul, OpIAdd, OpISub, OpUDiv, OpURem:
			a, b := v.args[0], v.args[1]
			if a.op != OpConstIndex || b.op != OpConstIndex {
				return
			}
			switch v.op {
			case OpIMul:
				toConstIndex(v, a.intImm*b.intImm)
			case OpIAdd:
				toConstIndex(v, a.intImm+b.intImm)
			case OpISub:
				toConstIndex(v, a.intImm-b.intImm)
			case OpUDiv:
				if b.intImm != 0 {
					toConstIndex(v, int64(uint64(a.intImm)/uint64(b.intImm)))
				}
			case OpURem:
				if b.intImm != 0 {
					toConstIndex(v, int64(uint64(a.intImm)%uint64(b.intImm)))
				}
			}
		case OpCast:
			if a := v.args[0]; a.op == OpConstElem {
				toConstElem(v, castFor(v.fromElem, v.elem)(a.wordImm))
			}
		case OpAdd, OpMul, OpSub:
			a, b := v.args[0], v.args[1]
			if a.op != OpConstElem || b.op != OpConstElem {
				return
			}
			ops := opsOf(v.elem)
			switch v.op {
			case OpAdd:
				toConstElem(v, ops.add(a.wordImm, b.wordImm))
			case OpMul:
				toConstElem(v, ops.mul(a.wordImm, b.wordImm))
			case OpSub:
				toConstElem(v, ops.sub(a.wordImm, b.wordImm))
			}
		case OpFAbs:
			if a := v.args[0]; a.op == OpConstElem {
				toConstElem(v, opsOf(v.elem).abs(a.wordImm))
			}
		}
	})
	return changed
}

// passSimplify applies algebraic identities, forwarding uses to an existing
// value. Floating add/sub are left alone: x+0 is not an identity for
// negative zero.
func passSimplify(fn *Function) bool {
	repl := make(map[*Value]*Value)
	var zero *Value
	zeroIndex := func() *Value {
		if zero == nil {
			zero = &Value{id: fn.nextID, op: OpConstIndex}
			fn.nextID++
		}
		return zero
	}
	var visit func(b *block)
	visit = func(b *block) {
		for _, v := range b.values {
			switch v.op {
			case OpIMul:
				a, c := v.args[0], v.args[1]
				switch {
				case a.isConstIndex(1):
					repl[v] = c
				case c.isConstIndex(1):
					repl[v] = a
				case a.isConstIndex(0) || c.isConstIndex(0):
					repl[v] = zeroIndex()
				}
			case OpIAdd:
				a, c := v.args[0], v.args[1]
				if a.isConstIndex(0) {
					repl[v] = c
				} else if c.isConstIndex(0) {
					repl[v] = a
				}
			case OpISub:
				if v.args[0] == v.args[1] {
					repl[v] = zeroIndex()
				} else if v.args[1].isConstIndex(0) {
					repl[v] = v.args[0]
				}
			case OpUDiv:
				if v.args[1].isConstIndex(1) {
					repl[v] = v.args[0]
				}
			case OpURem:
				if v.args[1].isConstIndex(1) {
					repl[v] = zeroIndex()
				}
			case OpMul:
				if !v.elem.IsFloating() {
					if a, c := v.args[0], v.args[1]; a.op == OpConstElem && a.wordImm.bits == 1 {
						repl[v] = c
					} else if c.op == OpConstElem && c.wordImm.bits == 1 {
						repl[v] = a
					}
				}
			case OpAdd:
				if !v.elem.IsFloating() {
					if a, c := v.args[0], v.args[1]; a.op == OpConstElem && a.wordImm.bits == 0 {
						repl[v] = c
					} else if c.op == OpConstElem && c.wordImm.bits == 0 {
						repl[v] = a
					}
				}
			case OpSelect:
				if v.args[1] == v.args[2] {
					repl[v] = v.args[1]
				}
			case OpPowi:
				if v.intImm == 1 {
					repl[v] = v.args[0]
				}
			}
			if v.op == OpLoop {
				visit(v.body)
			}
		}
	}
	visit(fn.entry)
	if zero != nil {
		fn.entry.values = append([]*Value{zero}, fn.entry.values...)
	}
	rewriteArgs(fn, repl)
	return len(repl) > 0
}

// passCSE value-numbers pure operations with a scoped table so values
// defined inside a loop body never serve uses outside it. Header and length
// reads join the candidates: no emitter reads a header field after writing
// it (trampolines reuse the stored values directly). Element loads stay
// excluded because stores alias them.
func passCSE(fn *Function) bool {
	repl := make(map[*Value]*Value)
	resolve := func(v *Value) *Value {
		for {
			r, ok := repl[v]
			if !ok {
				return v
			}
			v = r
		}
	}
	type table map[string]*Value
	var visit func(b *block, scopes []table)
	visit = func(b *block, scopes []table) {
		cur := scopes[len(scopes)-1]
		for _, v := range b.values {
			for i, a := range v.args {
				v.args[i] = resolve(a)
			}
			if v.op == OpLoop {
				visit(v.body, append(scopes, table{}))
				continue
			}
			if !v.pure() && v.op != OpLength && v.op != OpHeaderGet {
				continue
			}
			key := cseKey(v)
			found := false
			for i := len(scopes) - 1; i >= 0; i-- {
				if hit, ok := scopes[i][key]; ok {
					repl[v] = hit
					found = true
					break
				}
			}
			if !found {
				cur[key] = v
			}
		}
	}
	visit(fn.entry, []table{{}})
	rewriteArgs(fn, repl)
	return len(repl) > 0
}

func cseKey(v *Value) string {
	key := fmt.Sprintf("%d:%d:%d:%d:%x:%x:%x:%d:%d", v.op, v.elem, v.fromElem, v.intImm, v.floatImm, v.wordImm.bits, v.wordImm.f, v.param, v.field)
	for _, a := range v.args {
		key += fmt.Sprintf(":%d", a.id)
	}
	return key
}

// passDCE removes values nothing observable depends on. Roots are the
// effectful operations; accumulator writes count only when some read of the
// same slot survives.
func passDCE(fn *Function) bool {
	readSlots := make(map[*Value]bool)
	fn.walk(func(v *Value) {
		if v.op == OpAccGet {
			readSlots[v.args[0]] = true
		}
	})

	live := make(map[*Value]bool)
	var markValue func(v *Value)
	markValue = func(v *Value) {
		if live[v] {
			return
		}
		live[v] = true
		for _, a := range v.args {
			markValue(a)
		}
	}
	for {
		before := len(live)
		fn.walk(func(v *Value) {
			switch v.op {
			case OpStore, OpHeaderSet, OpAlloc, OpGuard, OpInvoke:
				markValue(v)
			case OpAccSet:
				if readSlots[v.args[0]] {
					markValue(v)
				}
			case OpLoop:
				for _, inner := range v.body.values {
					if live[inner] {
						markValue(v)
						break
					}
				}
			}
		})
		if len(live) == before {
			break
		}
	}

	changed := false
	var sweep func(b *block)
	sweep = func(b *block) {
		kept := b.values[:0]
		for _, v := range b.values {
			if v.op == OpLoop {
				sweep(v.body)
			}
			if live[v] {
				kept = append(kept, v)
			} else {
				changed = true
			}
		}
		b.values = kept
	}
	sweep(fn.entry)
	return changed
}
