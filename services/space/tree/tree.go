// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tree implements the leaf tree at the heart of the space: a
// recursive node structure where every node owns named children and an
// ordered, heterogeneous value/task queue, with glob fan-out, blocking
// wait/notify, and deferred task execution.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/pathspace/services/space/path"
)

// BlockBehavior selects what a read or take waits for when the slot is
// not immediately servable.
type BlockBehavior int

const (
	// DontWait attempts once and returns.
	DontWait BlockBehavior = iota
	// WaitForExistence waits for a servable entry to appear.
	WaitForExistence
	// WaitForExecution waits for a pending task in the slot to finish.
	WaitForExecution
	// WaitForExecutionAndExistence waits for both.
	WaitForExecutionAndExistence
)

// String returns the behavior name for logs.
func (b BlockBehavior) String() string {
	switch b {
	case DontWait:
		return "DontWait"
	case WaitForExistence:
		return "WaitForExistence"
	case WaitForExecution:
		return "WaitForExecution"
	case WaitForExecutionAndExistence:
		return "WaitForExecutionAndExistence"
	default:
		return "Unknown"
	}
}

// InsertStats reports the outcome of one insert, which may fan out to
// several leaves when the path is a glob.
type InsertStats struct {
	ValuesInserted int
	TasksInserted  int
	// Paths lists the concrete leaves that received an entry.
	Paths []string
	// Errors collects per-target failures; a glob insert can partially
	// succeed.
	Errors []error
}

// OutRequest describes one read or take.
type OutRequest struct {
	// Path is the target, concrete or glob, optionally carrying a
	// trailing index qualifier on the final component.
	Path string
	// Type restricts extraction to entries of this type; nil accepts
	// anything.
	Type reflect.Type
	// Pop removes the served entry (take); false peeks (read).
	Pop bool
	// Behavior and Deadline control blocking. A zero Deadline with a
	// blocking behavior waits until ctx cancellation.
	Behavior BlockBehavior
	Deadline time.Time
	// MaxReads caps how many times a peeked entry may be served before
	// it is dropped; zero disables the cap. Ignored when Pop is set.
	MaxReads int
	// SyncExecution runs a not-yet-started deferred task on the caller's
	// goroutine instead of handing it to the pool, so the request returns
	// the materialized result without a wait cycle.
	SyncExecution bool
	// Leaf, when non-nil, is a pre-resolved target node (cache hit);
	// the walk is skipped. Ignored for glob paths.
	Leaf *Node
}

// Config configures a Tree.
type Config struct {
	// Workers sizes the task pool; non-positive defaults to GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Tree is the hierarchical store. The zero value is not usable; use New.
//
// Thread Safety:
//
//	All methods are safe for concurrent use from any number of
//	goroutines.
type Tree struct {
	root   *Node
	waits  *WaitMap
	pool   *Pool
	logger *slog.Logger
	closed atomic.Bool
	epoch  atomic.Uint64
}

// New creates an empty tree with its own wait registry and task pool.
func New(cfg Config) *Tree {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tree{
		root:   newNode(),
		waits:  NewWaitMap(),
		logger: logger,
	}
	t.pool = NewPool(cfg.Workers, t.waits.Notify, logger)
	return t
}

// Epoch returns the clear-generation of the tree. It increments on every
// Clear, which is the only operation that destroys nodes; handle holders
// compare epochs to detect staleness.
func (t *Tree) Epoch() uint64 {
	return t.epoch.Load()
}

// Pool returns the task pool for stats and shutdown wiring.
func (t *Tree) Pool() *Pool {
	return t.pool
}

// Notify wakes waiters blocked on paths matching p.
func (t *Tree) Notify(p string) {
	t.waits.Notify(p)
}

// Insert adds a value or task entry at the target path.
//
// Description:
//
//	A concrete path auto-creates missing ancestors and appends to the
//	target queue. A glob path appends a copy of the entry to every
//	currently-matching leaf and never creates nodes; zero matches is a
//	no-op, not an error. A data-holding leaf blocks structure below it.
//	Task entries are only accepted on concrete paths. Successful targets
//	are notified so blocked readers wake.
func (t *Tree) Insert(p string, e *Entry) InsertStats {
	var st InsertStats
	if t.closed.Load() {
		st.Errors = append(st.Errors, ErrClosed)
		return st
	}

	if _, ic := path.SplitFinalIndex(p); ic.HasIndex {
		st.Errors = append(st.Errors, fmt.Errorf("%w: cannot insert at an index-qualified path %q", ErrMalformedInput, p))
		return st
	}
	glob := path.IsGlob(p)
	if glob && e.Kind == EntryTask {
		st.Errors = append(st.Errors, fmt.Errorf("%w: cannot insert a task through glob %q", ErrMalformedInput, p))
		return st
	}

	t.insertAt(t.root, path.NewIterator(p), "", e, &st, !glob)

	for _, target := range st.Paths {
		t.waits.Notify(target)
	}
	if e.Kind == EntryTask && len(st.Paths) == 1 {
		t.launch(e.Task, st.Paths[0])
	}
	return st
}

// insertAt recursively walks one component of the insert path. create is
// false for glob paths, which address existing leaves only and never
// grow the tree; concrete walks auto-create missing ancestors.
func (t *Tree) insertAt(n *Node, it path.Iterator, prefix string, e *Entry, st *InsertStats, create bool) {
	comp := it.Component()
	if comp == "" {
		return
	}
	compGlob := path.IsGlob("/" + comp)

	if it.IsAtFinal() {
		if compGlob {
			for _, mc := range n.matchingChildren(comp) {
				t.push(mc.node, cloneEntry(e), path.Join(prefix, mc.name), st)
			}
			return
		}
		child := n.child(comp)
		if child == nil {
			if !create {
				return
			}
			child = n.getOrCreateChild(comp)
		}
		// Glob fan-out can land the same entry on several leaves; each
		// gets its own copy so read caps stay independent.
		if !create {
			e = cloneEntry(e)
		}
		t.push(child, e, path.Join(prefix, comp), st)
		return
	}

	next := it
	next.Next()

	if compGlob {
		for _, mc := range n.matchingChildren(comp) {
			// A data-holding leaf blocks deeper structure; glob
			// fan-out skips such branches silently.
			if mc.node.hasData() {
				continue
			}
			t.insertAt(mc.node, next, path.Join(prefix, mc.name), e, st, false)
		}
		return
	}

	child := n.child(comp)
	if child == nil {
		if !create {
			return
		}
		child = n.getOrCreateChild(comp)
	} else if child.hasData() {
		if create {
			st.Errors = append(st.Errors, fmt.Errorf("%q: %w", path.Join(prefix, comp), ErrInvalidSubcomponent))
		}
		return
	}
	t.insertAt(child, next, path.Join(prefix, comp), e, st, create)
}

// push appends the entry to the node's queue and records the target.
func (t *Tree) push(n *Node, e *Entry, resolved string, st *InsertStats) {
	n.mu.Lock()
	n.queue.Push(e)
	n.mu.Unlock()

	if e.Kind == EntryTask {
		st.TasksInserted++
	} else {
		st.ValuesInserted++
	}
	st.Paths = append(st.Paths, resolved)
}

// launch starts a freshly inserted task according to its category.
func (t *Tree) launch(task *Task, target string) {
	task.notifyPath = target
	switch task.category {
	case ExecImmediate:
		if task.TryStart() {
			if err := t.pool.Submit(task); err != nil {
				t.logger.Warn("immediate task not submitted",
					slog.String("task_id", task.ID()),
					slog.String("path", target),
					slog.String("error", err.Error()))
			}
		}
	case ExecPeriodic:
		if task.TryStart() {
			if err := t.pool.Submit(task); err != nil {
				return
			}
			t.pool.SchedulePeriodic(task)
		}
	case ExecOnRead:
		// Deferred until the first read or take reaches the slot.
	}
}

// Resolve walks a concrete path without creating nodes and returns the
// target leaf.
func (t *Tree) Resolve(p string) (*Node, error) {
	n := t.root
	for it := path.NewIterator(p); !it.IsAtEnd(); it.Next() {
		comp := it.Component()
		child := n.child(comp)
		if child == nil {
			return nil, fmt.Errorf("%q: %w", p, ErrNoSuchPath)
		}
		if !it.IsAtFinal() && child.hasData() && !child.hasChildren() {
			return nil, fmt.Errorf("%q: %w", p, ErrInvalidSubcomponent)
		}
		n = child
	}
	if n == t.root {
		return nil, fmt.Errorf("%q: %w", p, ErrNoSuchPath)
	}
	return n, nil
}

// Out serves one read or take, blocking per the request's behavior. It
// returns the value and the concrete path of the leaf that served it.
func (t *Tree) Out(ctx context.Context, req OutRequest) (any, string, error) {
	basePath, ic := path.SplitFinalIndex(req.Path)
	glob := path.IsGlob(basePath)

	var value any
	var resolved string

	attempt := func() error {
		if t.closed.Load() {
			return ErrClosed
		}
		var err error
		if glob {
			value, resolved, err = t.outGlob(basePath, ic, req)
			return err
		}
		resolved = basePath
		leaf := req.Leaf
		if leaf == nil {
			leaf, err = t.Resolve(basePath)
			if err != nil {
				return err
			}
		}
		value, err = t.extract(leaf, ic, req)
		return err
	}

	if req.Behavior == DontWait {
		return value, resolved, attempt()
	}

	retry := retryPredicate(req.Behavior)
	err := t.waits.WaitFor(ctx, req.Path, req.Deadline, attempt, retry)
	return value, resolved, err
}

// retryPredicate maps a blocking behavior to the set of errors worth
// waiting out.
func retryPredicate(b BlockBehavior) func(error) bool {
	switch b {
	case WaitForExecution:
		return func(err error) bool {
			return errors.Is(err, ErrTaskPending)
		}
	default:
		// WaitForExistence and WaitForExecutionAndExistence: both an
		// absent node and an empty/pending slot are worth waiting on.
		return func(err error) bool {
			return errors.Is(err, ErrNoSuchPath) || errors.Is(err, ErrNoObjectFound)
		}
	}
}

// outGlob resolves a final-component glob and tries matching leaves in
// lexicographic order until one serves the request. Globs on intermediate
// components are not resolvable by read or take.
func (t *Tree) outGlob(basePath string, ic path.IndexedComponent, req OutRequest) (any, string, error) {
	parentPath := path.Parent(basePath)
	pattern := path.Base(basePath)

	n := t.root
	for it := path.NewIterator(parentPath); !it.IsAtEnd(); it.Next() {
		comp := it.Component()
		if path.IsGlob("/" + comp) {
			return nil, "", fmt.Errorf("%q: %w", req.Path, ErrNoSuchPath)
		}
		child := n.child(comp)
		if child == nil {
			return nil, "", fmt.Errorf("%q: %w", req.Path, ErrNoSuchPath)
		}
		if !it.IsAtFinal() && child.hasData() && !child.hasChildren() {
			return nil, "", fmt.Errorf("%q: %w", req.Path, ErrInvalidSubcomponent)
		}
		n = child
	}

	var pendingSeen, mismatchSeen bool
	for _, mc := range n.matchingChildren(pattern) {
		v, err := t.extract(mc.node, ic, req)
		if err == nil {
			return v, path.Join(parentPath, mc.name), nil
		}
		switch {
		case errors.Is(err, ErrTaskPending):
			pendingSeen = true
		case errors.Is(err, ErrTypeMismatch):
			mismatchSeen = true
		}
	}
	switch {
	case pendingSeen:
		return nil, "", fmt.Errorf("%q: %w", req.Path, ErrTaskPending)
	case mismatchSeen:
		return nil, "", fmt.Errorf("%q: %w", req.Path, ErrTypeMismatch)
	default:
		return nil, "", fmt.Errorf("%q: %w", req.Path, ErrNoSuchPath)
	}
}

// extract serves one entry from a leaf queue: type checking against the
// slot, executing or materializing deferred tasks, and popping or
// read-capping per the request. It never blocks on the pool; a task that
// has not finished surfaces as ErrTaskPending for the caller's wait loop.
// With SyncExecution set, a deferred task this call manages to start runs
// on the calling goroutine and the extraction retries once.
func (t *Tree) extract(n *Node, ic path.IndexedComponent, req OutRequest) (any, error) {
	for pass := 0; ; pass++ {
		var submit, runNow *Task

		n.mu.Lock()
		value, err := func() (any, error) {
			q := &n.queue
			if q.Len() == 0 {
				return nil, ErrNoObjectFound
			}
			idx := 0
			if ic.HasIndex {
				idx = ic.Index
				if idx >= q.Len() {
					return nil, fmt.Errorf("%w: index %d beyond queue of %d", ErrNoObjectFound, idx, q.Len())
				}
			}
			e := q.At(idx)

			if e.Kind == EntryTask {
				task := e.Task
				switch task.Category() {
				case ExecPeriodic:
					// Serve the latest refreshed result; a re-run in flight
					// must not make reads flicker back to pending.
					if task.Runs() == 0 {
						return nil, ErrTaskPending
					}
					result, terr := task.Result()
					if terr != nil && result == nil {
						q.PopAt(idx)
						task.Cancel()
						return nil, fmt.Errorf("task %s failed: %w", task.ID(), terr)
					}
					if !typeMatches(reflect.TypeOf(result), req.Type) {
						return nil, fmt.Errorf("%w: slot holds %v", ErrTypeMismatch, reflect.TypeOf(result))
					}
					if req.Pop {
						q.PopAt(idx)
						task.Cancel()
					}
					return result, nil
				default:
					switch task.State() {
					case TaskCompleted:
						result, _ := task.Result()
						e.materialize(result)
						q.retag(idx)
						// Fall through to the value path below.
					case TaskFailed:
						_, terr := task.Result()
						q.PopAt(idx)
						return nil, fmt.Errorf("task %s failed: %w", task.ID(), terr)
					default:
						if task.Category() == ExecOnRead && task.TryStart() {
							if req.SyncExecution {
								runNow = task
							} else {
								submit = task
							}
						}
						return nil, ErrTaskPending
					}
				}
			}

			if !typeMatches(e.Type, req.Type) {
				return nil, fmt.Errorf("%w: slot holds %v", ErrTypeMismatch, e.Type)
			}
			v := e.Value
			if req.Pop {
				q.PopAt(idx)
			} else if req.MaxReads > 0 {
				e.reads++
				if e.reads >= req.MaxReads {
					q.PopAt(idx)
				}
			}
			return v, nil
		}()
		n.mu.Unlock()

		if submit != nil {
			if serr := t.pool.Submit(submit); serr != nil {
				return nil, serr
			}
		}
		if runNow != nil && pass == 0 {
			runNow.execute(context.Background())
			if runNow.notifyPath != "" {
				t.waits.Notify(runNow.notifyPath)
			}
			continue
		}
		return value, err
	}
}

// typeMatches reports whether a slot of type have satisfies a request for
// type want. A nil want accepts anything; an interface want accepts any
// implementation.
func typeMatches(have, want reflect.Type) bool {
	if want == nil || have == want {
		return true
	}
	if have != nil && want.Kind() == reflect.Interface && have.Implements(want) {
		return true
	}
	return false
}

// Clear drops every node and queued entry, cancelling deferred tasks, and
// bumps the epoch so outstanding handles turn stale. The nodes themselves
// are the only thing Clear destroys; waiters stay blocked until their own
// deadlines.
func (t *Tree) Clear() {
	t.epoch.Add(1)
	t.waits.NotifyAll()
	t.root.clear()
}

// Shutdown stops the task pool and unblocks every waiter. Subsequent
// operations fail with ErrClosed.
func (t *Tree) Shutdown(ctx context.Context) error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.waits.NotifyAll()
	return t.pool.Shutdown(ctx)
}

// Stats is a point-in-time census of the tree.
type Stats struct {
	Nodes   int       `json:"nodes"`
	Entries int       `json:"entries"`
	Tasks   int       `json:"tasks"`
	Waiters int       `json:"waiters"`
	Epoch   uint64    `json:"epoch"`
	Pool    PoolStats `json:"pool"`
}

// Stats walks the tree and counts nodes, queued entries and still-deferred
// tasks.
func (t *Tree) Stats() Stats {
	st := Stats{
		Waiters: t.waits.Waiters(),
		Epoch:   t.epoch.Load(),
		Pool:    t.pool.Stats(),
	}
	t.census(t.root, &st)
	st.Nodes-- // the root is not addressable
	return st
}

func (t *Tree) census(n *Node, st *Stats) {
	n.mu.RLock()
	st.Nodes++
	st.Entries += n.queue.Len()
	for _, e := range n.queue.entries {
		if e.Kind == EntryTask {
			st.Tasks++
		}
	}
	children := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		children = append(children, c)
	}
	n.mu.RUnlock()

	for _, c := range children {
		t.census(c, st)
	}
}

// ListPaths returns the concrete paths of every data-holding leaf, in
// lexicographic order, optionally filtered by a glob pattern. An empty
// pattern lists everything.
func (t *Tree) ListPaths(pattern string) []string {
	var out []string
	t.listAt(t.root, "", pattern, &out)
	return out
}

func (t *Tree) listAt(n *Node, prefix, pattern string, out *[]string) {
	for _, mc := range n.matchingChildren("*") {
		p := path.Join(prefix, mc.name)
		if mc.node.hasData() {
			if pattern == "" || path.MatchPaths(p, pattern) {
				*out = append(*out, p)
			}
		}
		t.listAt(mc.node, p, pattern, out)
	}
}

// PeekTypes returns the queued type runs at a concrete path for
// diagnostics.
func (t *Tree) PeekTypes(p string) ([]TypeCount, error) {
	n, err := t.Resolve(p)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.queue.TypeCounts(), nil
}
