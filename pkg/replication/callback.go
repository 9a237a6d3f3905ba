// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package replication

import "sync"

// callbackRunner executes user callbacks on a dedicated goroutine, in
// enqueue order. Keeping them off the read loop lets a callback call back
// into the session, including blocking calls like Request, without
// stalling frame processing.
type callbackRunner struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
}

func newCallbackRunner() *callbackRunner {
	r := &callbackRunner{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *callbackRunner) enqueue(f func()) {
	r.mu.Lock()
	if !r.stopped {
		r.queue = append(r.queue, f)
	}
	r.mu.Unlock()
	r.cond.Signal()
}

// stop lets the runner drain what is already queued and then exit.
func (r *callbackRunner) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *callbackRunner) run() {
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		f := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		f()
	}
}
