// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/pathspace/services/space/path"
)

// waitEntry pairs a broadcast channel with a registration count for one
// waited-on path string.
type waitEntry struct {
	ch      chan struct{}
	waiters int
}

// WaitMap wakes blocked readers when data or task results arrive.
//
// Description:
//
//	Waiters register under the literal path string they are blocked on,
//	which may be concrete or a glob. Notify closes the broadcast channel
//	of every registration that matches the notified path in either
//	direction: a waiter on "/jobs/*" wakes for a notify on "/jobs/7",
//	and a waiter on "/jobs/7" wakes for a notify on "/jobs/*".
//
// Thread Safety:
//
//	Safe for concurrent use.
type WaitMap struct {
	mu       sync.Mutex
	entries  map[string]*waitEntry
	globKeys int
}

// NewWaitMap creates an empty registry.
func NewWaitMap() *WaitMap {
	return &WaitMap{entries: make(map[string]*waitEntry)}
}

// watch registers one waiter under p and returns the current broadcast
// channel.
func (w *WaitMap) watch(p string) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entries[p]
	if e == nil {
		e = &waitEntry{ch: make(chan struct{})}
		w.entries[p] = e
		if path.IsGlob(p) {
			w.globKeys++
		}
	}
	e.waiters++
	return e.ch
}

// unwatch drops one waiter registration under p.
func (w *WaitMap) unwatch(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.entries[p]
	if e == nil {
		return
	}
	e.waiters--
	if e.waiters <= 0 {
		delete(w.entries, p)
		if path.IsGlob(p) {
			w.globKeys--
		}
	}
}

// Notify wakes every waiter whose registration matches p in either
// direction. p may be concrete or a glob.
func (w *WaitMap) Notify(p string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[p]; ok {
		close(e.ch)
		e.ch = make(chan struct{})
	}
	// Cross-matching is only needed when a glob is involved on either
	// side; pure concrete-to-concrete was handled by the exact hit.
	if w.globKeys == 0 && !path.IsGlob(p) {
		return
	}
	for key, e := range w.entries {
		if key == p {
			continue
		}
		if path.MatchPaths(key, p) || path.MatchPaths(p, key) {
			close(e.ch)
			e.ch = make(chan struct{})
		}
	}
}

// NotifyAll wakes every waiter regardless of path.
func (w *WaitMap) NotifyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		close(e.ch)
		e.ch = make(chan struct{})
	}
}

// HasWaiters reports whether anyone is currently blocked.
func (w *WaitMap) HasWaiters() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries) > 0
}

// Waiters returns the number of registered wait paths.
func (w *WaitMap) Waiters() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, e := range w.entries {
		n += e.waiters
	}
	return n
}

// WaitFor retries attempt until it succeeds, returns a non-retryable
// error, the deadline passes, or ctx is cancelled. Between attempts the
// caller sleeps on the broadcast channel for p.
//
// A zero deadline means no time bound (ctx still applies). On deadline
// expiry the last attempt's error is wrapped with ErrTimeout so callers
// can distinguish "timed out waiting" from an immediate miss.
func (w *WaitMap) WaitFor(ctx context.Context, p string, deadline time.Time,
	attempt func() error, retryable func(error) bool) error {

	var timerC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		err := attempt()
		if err == nil || !retryable(err) {
			return err
		}

		ch := w.watch(p)
		// The condition may have been satisfied between the failed
		// attempt and the registration; re-check before sleeping.
		if err2 := attempt(); err2 == nil || !retryable(err2) {
			w.unwatch(p)
			return err2
		}

		select {
		case <-ch:
			w.unwatch(p)
		case <-timerC:
			w.unwatch(p)
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case <-ctx.Done():
			w.unwatch(p)
			return ctx.Err()
		}
	}
}
