// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package jit

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/caotto/openbr/types/matrix"
)

// Factory builds a stitchable primitive from serialized arguments.
type Factory func(args []string) (Stitchable, error)

// KernelFactory builds a whole-loop kernel from serialized arguments.
type KernelFactory func(args []string) (Kernel, error)

var (
	registryMu      sync.RWMutex
	factories       = make(map[string]Factory)
	kernelFactories = make(map[string]KernelFactory)
)

// RegisterPrimitive names a stitchable primitive factory, normally from an
// init function. Re-registering a name panics.
func RegisterPrimitive(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := factories[name]; dup {
		exceptions.Panicf("jit: primitive %q registered twice", name)
	}
	factories[name] = f
}

// RegisterKernel names a whole-loop kernel factory.
func RegisterKernel(name string, f KernelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := kernelFactories[name]; dup {
		exceptions.Panicf("jit: kernel %q registered twice", name)
	}
	kernelFactories[name] = f
}

// MakePrimitive instantiates a registered primitive from a description: a
// name with optional parenthesized arguments, e.g. "square", "scale(1.5)",
// "clamp(0,255)", "cast(u8)", or a nested "stitch(scale(2),add(3))".
func MakePrimitive(desc string) (Stitchable, error) {
	name, args, err := parseDescription(desc)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("jit: unknown primitive %q", name)
	}
	return f(args)
}

// MakeKernel instantiates a whole-loop kernel from a description, falling
// back to adapting a stitchable primitive.
func MakeKernel(desc string) (Kernel, error) {
	name, args, err := parseDescription(desc)
	if err != nil {
		return nil, err
	}
	registryMu.RLock()
	kf, ok := kernelFactories[name]
	registryMu.RUnlock()
	if ok {
		return kf(args)
	}
	s, err := MakePrimitive(desc)
	if err != nil {
		return nil, err
	}
	return AsKernel(s), nil
}

// parseDescription splits "name(a,b,...)" into name and top-level
// arguments; nested parentheses stay intact within one argument.
func parseDescription(desc string) (string, []string, error) {
	desc = strings.TrimSpace(desc)
	open := strings.IndexByte(desc, '(')
	if open < 0 {
		if desc == "" {
			return "", nil, errors.New("jit: empty primitive description")
		}
		return desc, nil, nil
	}
	if !strings.HasSuffix(desc, ")") {
		return "", nil, errors.Errorf("jit: unbalanced parentheses in %q", desc)
	}
	name := strings.TrimSpace(desc[:open])
	if name == "" {
		return "", nil, errors.Errorf("jit: missing primitive name in %q", desc)
	}
	inner := desc[open+1 : len(desc)-1]
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	var args []string
	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", nil, errors.Errorf("jit: unbalanced parentheses in %q", desc)
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, errors.Errorf("jit: unbalanced parentheses in %q", desc)
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	return name, args, nil
}

func wantArgs(name string, args []string, n int) error {
	if len(args) != n {
		return errors.Errorf("jit: %s: want %d arguments, have %d", name, n, len(args))
	}
	return nil
}

func floatArg(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "jit: %s: bad argument %q", name, raw)
	}
	return v, nil
}

func init() {
	RegisterPrimitive("square", func(args []string) (Stitchable, error) {
		if err := wantArgs("square", args, 0); err != nil {
			return nil, err
		}
		return Square(), nil
	})
	RegisterPrimitive("scale", func(args []string) (Stitchable, error) {
		if err := wantArgs("scale", args, 1); err != nil {
			return nil, err
		}
		a, err := floatArg("scale", args[0])
		if err != nil {
			return nil, err
		}
		return Scale(a), nil
	})
	RegisterPrimitive("add", func(args []string) (Stitchable, error) {
		if err := wantArgs("add", args, 1); err != nil {
			return nil, err
		}
		b, err := floatArg("add", args[0])
		if err != nil {
			return nil, err
		}
		return Add(b), nil
	})
	RegisterPrimitive("abs", func(args []string) (Stitchable, error) {
		if err := wantArgs("abs", args, 0); err != nil {
			return nil, err
		}
		return Abs(), nil
	})
	RegisterPrimitive("cast", func(args []string) (Stitchable, error) {
		if err := wantArgs("cast", args, 1); err != nil {
			return nil, err
		}
		t, err := matrix.ParseType(args[0])
		if err != nil {
			return nil, err
		}
		return Cast(t), nil
	})
	RegisterPrimitive("pow", func(args []string) (Stitchable, error) {
		if err := wantArgs("pow", args, 1); err != nil {
			return nil, err
		}
		e, err := floatArg("pow", args[0])
		if err != nil {
			return nil, err
		}
		return Pow(e), nil
	})
	RegisterPrimitive("clamp", func(args []string) (Stitchable, error) {
		if err := wantArgs("clamp", args, 2); err != nil {
			return nil, err
		}
		lo, hi := -math.MaxFloat64, math.MaxFloat64
		var err error
		if args[0] != "" {
			if lo, err = floatArg("clamp", args[0]); err != nil {
				return nil, err
			}
		}
		if args[1] != "" {
			if hi, err = floatArg("clamp", args[1]); err != nil {
				return nil, err
			}
		}
		return Clamp(lo, hi), nil
	})
	RegisterPrimitive("quantize", func(args []string) (Stitchable, error) {
		if err := wantArgs("quantize", args, 2); err != nil {
			return nil, err
		}
		a, err := floatArg("quantize", args[0])
		if err != nil {
			return nil, err
		}
		b, err := floatArg("quantize", args[1])
		if err != nil {
			return nil, err
		}
		return Quantize(a, b), nil
	})
	RegisterPrimitive("stitch", func(args []string) (Stitchable, error) {
		if len(args) == 0 {
			return nil, errors.New("jit: stitch: want at least one primitive")
		}
		steps := make([]Stitchable, len(args))
		for i, arg := range args {
			s, err := MakePrimitive(arg)
			if err != nil {
				return nil, err
			}
			steps[i] = s
		}
		return NewStitch(steps...), nil
	})
	RegisterKernel("sum", func(args []string) (Kernel, error) {
		if len(args) == 0 {
			return Sum(matrix.AxisChannels, matrix.AxisColumns, matrix.AxisRows, matrix.AxisFrames), nil
		}
		axes := make([]matrix.Axis, len(args))
		for i, arg := range args {
			ax, err := matrix.ParseAxis(arg)
			if err != nil {
				return nil, err
			}
			axes[i] = ax
		}
		return Sum(axes...), nil
	})
}
