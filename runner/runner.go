/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package runner gives the Server, Lander and Client a common start/stop
// state machine: a background function runs until its context is cancelled
// or it returns on its own, and a second function handles the orderly
// teardown around that cancellation.
package runner

import (
	"context"
	"sync"
	"time"
)

// StartFunc runs until ctx is cancelled (or it decides to return early on
// its own), typically hosting an accept loop or a connection's read/write
// goroutines.
type StartFunc func(ctx context.Context) error

// StopFunc runs once, after StartFunc has returned, to release whatever it
// held (close a listener, flush a file, join worker goroutines).
type StopFunc func(ctx context.Context) error

// Runner tracks one StartFunc/StopFunc pair's running state and uptime. The
// zero value is not usable; build one with New.
type Runner struct {
	mu sync.Mutex

	start StartFunc
	stop  StopFunc

	running bool
	startAt time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Runner wrapping start and stop. Neither is invoked until
// Start is called.
func New(start StartFunc, stop StopFunc) *Runner {
	return &Runner{start: start, stop: stop}
}

// Start launches start in its own goroutine, derived from ctx. If the
// Runner was already running, the previous instance is stopped first so
// exactly one instance is ever active.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()

	if r.running {
		r.stopLocked(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.cancel = cancel
	r.done = done
	r.running = true
	r.startAt = time.Now()

	fn := r.start
	r.mu.Unlock()

	go func() {
		defer close(done)
		_ = fn(runCtx)
	}()

	return nil
}

// Stop cancels the running instance and runs stop to completion, blocking
// until both have finished. Calling Stop when not running is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopLocked(ctx)
}

func (r *Runner) stopLocked(ctx context.Context) error {
	if !r.running {
		return nil
	}

	cancel := r.cancel
	done := r.done

	r.running = false
	r.startAt = time.Time{}
	r.cancel = nil
	r.done = nil

	cancel()
	<-done

	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}

// Restart stops the current instance, if any, and starts a fresh one.
func (r *Runner) Restart(ctx context.Context) error {
	if err := r.Stop(ctx); err != nil {
		return err
	}
	return r.Start(ctx)
}

// IsRunning reports whether a start function is currently active.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// Uptime reports how long the current instance has been running, or zero
// if not running.
func (r *Runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return 0
	}
	return time.Since(r.startAt)
}
