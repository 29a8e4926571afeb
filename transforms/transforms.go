// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms carries templates through processing pipelines.
//
// A Transform turns one Template into another. Transforms are constructed
// from descriptions such as "scale(2)", "rectregions(8,8,4,4)", or the
// fused "stitch([scale(2),add(3)])"; element-wise descriptions resolve to
// compiled kernel families in the jit package and dispatch through their
// trampoline entry points, so repeated projections of like-shaped inputs
// reuse the same compiled code.
package transforms

import (
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/caotto/openbr/types/xslices"
)

// Transform projects a template into a new one. Implementations must be
// safe for concurrent Project calls.
type Transform interface {
	// Name returns the description the transform was built from.
	Name() string
	// Project computes the transform of src. src is borrowed, never
	// modified.
	Project(src Template) (Template, error)
}

// Factory builds a transform from its split argument list.
type Factory func(args []string) (Transform, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register names a transform factory, normally from an init function.
// Re-registering a name panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[name]; dup {
		exceptions.Panicf("transforms: %q registered twice", name)
	}
	factories[name] = f
}

// Names returns the registered transform names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return xslices.SortedKeys(factories)
}

// Make constructs a transform from a description of the form
// "name(arg1,arg2,...)". Arguments may nest, with parentheses or brackets:
// "stitch([scale(2),add(3)])" and "stitch(scale(2),add(3))" build the same
// transform. Unknown names and malformed argument lists return errors.
func Make(description string) (Transform, error) {
	name, args, err := parseDescription(description)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("transforms: unknown transform %q", name)
	}
	t, err := f(args)
	return t, errors.WithMessagef(err, "transforms: making %q", description)
}

// parseDescription splits "name(a,b,...)" into name and top-level
// arguments. Parentheses and brackets both nest, so commas inside either
// stay within one argument.
func parseDescription(desc string) (string, []string, error) {
	desc = strings.TrimSpace(desc)
	open := strings.IndexByte(desc, '(')
	if open < 0 {
		if desc == "" {
			return "", nil, errors.New("transforms: empty description")
		}
		return desc, nil, nil
	}
	if !strings.HasSuffix(desc, ")") {
		return "", nil, errors.Errorf("transforms: unbalanced parentheses in %q", desc)
	}
	name := strings.TrimSpace(desc[:open])
	if name == "" {
		return "", nil, errors.Errorf("transforms: missing transform name in %q", desc)
	}
	inner := desc[open+1 : len(desc)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
			if depth < 0 {
				return "", nil, errors.Errorf("transforms: unbalanced nesting in %q", desc)
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, errors.Errorf("transforms: unbalanced nesting in %q", desc)
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	return name, args, nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return errors.Errorf("transforms: %s: want %d arguments, have %d", name, n, len(args))
	}
	return nil
}
