// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/caotto/openbr/internal/workerspool"
)

// pool bounds the goroutines ProjectAll fans a batch out across. When the
// pool saturates, templates project inline on the calling goroutine instead
// of queueing.
var pool = workerspool.New()

/// SetParallelism caps the worker goroutines used by ProjectAll: 0 projects
// everything inline, a negative value removes the cap. Call it before any
// batch is in flight.
func SetParallelism(n int) {
	pool.SetMaxParallelism(n)
}

// ProjectAll projects every template of the batch through t, preserving
// order. The first projection error aborts the result; kernels themselves
// do not fail, so errors surface only from host-side transforms.
func ProjectAll(t Transform, batch []Template) ([]Template, error) {
	out := make([]Template, len(batch))
	errs := make([]error, len(batch))
	var wg sync.WaitGroup
	for ii := range batch {
		task := func() {
			defer wg.Done()
			out[ii], errs[ii] = t.Project(batch[ii])
		}
		if wg.Add(1); !pool.StartIfAvailable(task) {
			task()
		}
	}
	wg.Wait()
	for ii, err := range errs {
		if err != nil {
			return nil, errors.WithMessagef(err, "transforms: projecting %q through %s",
				batch[ii].File.Key(), t.Name())
		}
	}
	return out, nil
}
