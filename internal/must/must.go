// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package must converts errors on paths that cannot fail into panics.
//
// It serves tests and the command-line tools, which prefer aborting over
// plumbing an error. After https://github.com/janpfeifer/must.
package must

import (
	"k8s.io/klog/v2"
)

// M logs and panics if err is not nil. The value-carrying variants M1 and M2
// route through M, so reassigning it changes the failure behavior of all of
// them.
var M = func(err error) {
	if err != nil {
		klog.Errorf("unexpected error: %+v", err)
		panic(err)
	}
}

// M1 checks err with M and returns the value unchanged.
func M1[T any](value T, err error) T {
	M(err)
	return value
}

// M2 checks err with M and returns both values unchanged.
func M2[T1, T2 any](value1 T1, value2 T2, err error) (T1, T2) {
	M(err)
	return value1, value2
}
