// Copyright 2026 The OpenBR Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the goroutines that fan batch work out across
// CPUs.
//
// The pool never queues: StartIfAvailable starts the task in a goroutine
// only while capacity remains and otherwise reports false, leaving the
// caller to run the task inline. Batch drivers pair it with their own
// sync.WaitGroup to join the goroutines they started.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool caps the number of concurrently running tasks.
type Pool struct {
	// maxParallelism caps the tasks running at once. Zero disables the
	// pool, negative removes the cap.
	maxParallelism int

	mu         sync.Mutex
	numRunning int
}

// New returns a Pool capped at runtime.NumCPU() parallel tasks.
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// IsEnabled reports whether the pool will run any task in a goroutine.
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited reports whether the pool caps parallelism at all.
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the cap on concurrently running tasks. Zero means
// the pool is disabled, negative means no cap.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism changes the cap. Only call it while no task is running;
// changing it mid-flight leaves the pool's accounting undefined.
func (w *Pool) SetMaxParallelism(maxParallelism int) {
	w.maxParallelism = maxParallelism
}

// StartIfAvailable runs task in its own goroutine when the pool has capacity
// and reports whether it did. On false the caller runs the task inline.
// Joining the goroutine is the caller's responsibility.
func (w *Pool) StartIfAvailable(task func()) bool {
	if w.IsUnlimited() {
		go task()
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.numRunning >= w.maxParallelism {
		return false
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.mu.Unlock()
	}()
	return true
}
