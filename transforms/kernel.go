// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"strings"

	"github.com/caotto/openbr/jit"
	"github.com/caotto/openbr/types/xslices"
)

// kernelTransform runs a compiled kernel family over every matrix of a
// template, dispatching through the family's trampoline.
type kernelTransform struct {
	desc  string
	unary *jit.Unary
}

// NewKernelTransform exposes a jit kernel description ("scale(2)",
// "quantize(0.5,10)", "sum(columns)") as a transform on the default jit
// context.
func NewKernelTransform(desc string) (Transform, error) {
	k, err := jit.MakeKernel(desc)
	if err != nil {
		return nil, err
	}
	return &kernelTransform{desc: desc, unary: jit.NewUnary(jit.Default(), k)}, nil
}

func (k *kernelTransform) Name() string { return k.desc }

func (k *kernelTransform) Project(src Template) (Template, error) {
	return Template{File: src.File, Mats: xslices.Map(src.Mats, k.unary.Project)}, nil
}

// jitNames are the kernel descriptions served by the jit registry.
var jitNames = []string{
	"square", "scale", "add", "abs", "cast", "pow", "clamp", "quantize",
	"stitch", "sum",
}

func init() {
	for _, name := range jitNames {
		Register(name, kernelFactory(name))
	}
}

func kernelFactory(name string) Factory {
	return func(args []string) (Transform, error) {
		return NewKernelTransform(jitDescription(name, args))
	}
}

// jitDescription rebuilds the jit-level description: arguments are joined
// back together and bracket lists fold into plain argument lists, so
// "stitch([scale(2),add(3)])" reaches the jit registry as
// "stitch(scale(2),add(3))".
func jitDescription(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	desc := name + "(" + strings.Join(args, ",") + ")"
	desc = strings.ReplaceAll(desc, "[", "")
	return strings.ReplaceAll(desc, "]", "")
}
