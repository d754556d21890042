// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package space is the path-addressed concurrent store. Values and
// deferred tasks live in per-path FIFO queues addressed by
// filesystem-like paths; glob patterns fan one operation out across many
// leaves. The facade composes the leaf tree with a resolution cache,
// per-root undo/redo history, a mutation event feed and the inspector
// HTTP surface.
package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/pathspace/services/space/cache"
	"github.com/AleutianAI/pathspace/services/space/history"
	"github.com/AleutianAI/pathspace/services/space/path"
	"github.com/AleutianAI/pathspace/services/space/tree"
)

// historyPrefix is the reserved component below an enabled history root;
// inserts and reads under it address the history layer, not the tree.
const historyPrefix = "_history"

// Options configures a Space.
type Options struct {
	// Workers sizes the task pool; non-positive defaults to GOMAXPROCS.
	Workers int

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Cache configures the resolution cache.
	Cache []cache.Option

	// Store backs history persistence. Optional.
	Store *badger.DB

	// SweepInterval drives the background cache expiry sweeper; zero
	// disables it, leaving expiry to store-amortized sweeps.
	SweepInterval time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SweepInterval: time.Minute}
}

// Option is a functional option for configuring a Space.
type Option func(*Options)

// WithWorkers sizes the task pool.
func WithWorkers(n int) Option {
	return func(o *Options) { o.Workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithCache forwards options to the resolution cache.
func WithCache(opts ...cache.Option) Option {
	return func(o *Options) { o.Cache = append(o.Cache, opts...) }
}

// WithStore provides the store history persistence spills to.
func WithStore(db *badger.DB) Option {
	return func(o *Options) { o.Store = db }
}

// WithSweepInterval sets the background cache sweep interval.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Options) { o.SweepInterval = d }
}

// Space is the store facade.
//
// Thread Safety:
//
//	All methods are safe for concurrent use from any number of
//	goroutines.
type Space struct {
	tree    *tree.Tree
	cache   *cache.Cache
	history *history.History
	events  *EventHub
	logger  *slog.Logger

	sweepStop chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// New creates an empty Space.
func New(opts ...Option) *Space {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tr := tree.New(tree.Config{Workers: options.Workers, Logger: logger})
	s := &Space{
		tree:    tr,
		cache:   cache.New(options.Cache...),
		history: history.New(history.Config{Tree: tr, Store: options.Store, Logger: logger}),
		events:  NewEventHub(logger),
		logger:  logger,
	}
	if options.SweepInterval > 0 {
		s.sweepStop = make(chan struct{})
		s.sweepDone = make(chan struct{})
		go s.sweeper(options.SweepInterval)
	}
	return s
}

func (s *Space) sweeper(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			s.cache.Cleanup()
		}
	}
}

// History exposes the undo/redo layer for root management and stats.
func (s *Space) History() *history.History { return s.history }

// Events exposes the mutation feed hub.
func (s *Space) Events() *EventHub { return s.events }

// InsertResult reports the outcome of one insert, which may fan out to
// several leaves when the path is a glob.
type InsertResult struct {
	ValuesInserted int
	TasksInserted  int

	// Paths lists the concrete leaves that received an entry.
	Paths []string

	// Errors collects per-target failures; a glob insert can partially
	// succeed.
	Errors []error
}

// Insert adds a value or task at the target path.
//
// Description:
//
//	A concrete path auto-creates missing ancestors; a glob path appends
//	to every currently-matching leaf and never creates nodes. Function
//	values enqueue tasks, scheduled per the execution options
//	(immediate submission by default). Inserts below an enabled history
//	root record an undo entry first; inserts to the root's reserved
//	_history subtree are control commands (undo, redo,
//	garbage_collect) whose integer payload is the step count.
func (s *Space) Insert(p string, value any, opts ...InOption) InsertResult {
	o := buildInOptions(opts)
	var res InsertResult

	base, _ := path.SplitFinalIndex(p)
	glob := path.IsGlob(base)
	if err := path.Validate(base, o.Validation, glob); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("%q: %w: %w", p, ErrInvalidPath, err))
		return res
	}

	if root, ok := s.history.Covers(base); ok {
		if rel := relativePath(root, base); strings.HasPrefix(rel, historyPrefix) {
			return s.historyControl(root, rel, value)
		}
	}

	entry, isTask, err := s.buildEntry(value, o.Execution)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	want := CapWrite
	if isTask {
		want |= CapExecute
	}
	if err := o.Capabilities.check(p, want); err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}

	txn, err := s.history.Begin(base, "insert")
	if err != nil {
		s.logger.Warn("history capture refused, insert proceeds unguarded",
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}

	st := s.tree.Insert(p, entry)
	if txn != nil {
		if st.ValuesInserted+st.TasksInserted > 0 {
			if cerr := txn.Commit(); cerr != nil {
				s.logger.Warn("history record failed",
					slog.String("path", p),
					slog.String("error", cerr.Error()),
				)
			}
		} else {
			txn.Abandon()
		}
	}

	res.ValuesInserted = st.ValuesInserted
	res.TasksInserted = st.TasksInserted
	res.Paths = st.Paths
	res.Errors = st.Errors
	if st.ValuesInserted+st.TasksInserted > 0 {
		recordInsert(st.ValuesInserted + st.TasksInserted)
		s.events.Publish(Event{
			Type:   EventInsert,
			Path:   p,
			Values: st.ValuesInserted,
			Tasks:  st.TasksInserted,
		})
	}
	return res
}

// buildEntry wraps the value as a queue entry. Function values become
// tasks; execution options on a non-function are an error.
func (s *Space) buildEntry(value any, exec *ExecutionOptions) (*tree.Entry, bool, error) {
	isFunc := reflect.ValueOf(value).Kind() == reflect.Func
	if !isFunc {
		if exec != nil {
			return nil, false, fmt.Errorf("%w: execution options require a function value", ErrMalformedInput)
		}
		return tree.NewValueEntry(value), false, nil
	}

	cfg := tree.TaskConfig{Category: tree.ExecImmediate}
	if exec != nil {
		cfg.Category = exec.Time
		cfg.Interval = exec.UpdateInterval
		cfg.MaxRuns = exec.MaxExecutions
	}
	task, err := tree.NewTask(value, cfg)
	if err != nil {
		return nil, false, err
	}
	return tree.NewTaskEntry(task), true, nil
}

// Read returns the front entry of type T at the path without removing
// it. A deferred task in the slot is executed (or waited on, per the
// block options) and its materialized result served.
func Read[T any](ctx context.Context, s *Space, p string, opts ...ReadOption) (T, error) {
	var zero T
	o := buildReadOptions(opts)
	v, err := s.read(ctx, p, reflect.TypeOf((*T)(nil)).Elem(), o)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%q: %w: slot holds %T", p, ErrTypeMismatch, v)
	}
	return typed, nil
}

// ReadAny is Read without a type restriction.
func (s *Space) ReadAny(ctx context.Context, p string, opts ...ReadOption) (any, error) {
	return s.read(ctx, p, nil, buildReadOptions(opts))
}

func (s *Space) read(ctx context.Context, p string, typ reflect.Type, o ReadOptions) (any, error) {
	base, _ := path.SplitFinalIndex(p)
	glob := path.IsGlob(base)
	if err := path.Validate(base, path.LevelFull, glob); err != nil {
		return nil, fmt.Errorf("%q: %w: %w", p, ErrInvalidPath, err)
	}
	if err := o.Capabilities.check(p, CapRead); err != nil {
		return nil, err
	}

	if root, ok := s.history.Covers(base); ok {
		if rel := relativePath(root, base); strings.HasPrefix(rel, historyPrefix) {
			return s.historyRead(root, rel)
		}
	}

	req := tree.OutRequest{
		Path:          p,
		Type:          typ,
		Behavior:      o.Block.behavior(),
		Deadline:      o.Block.deadline(),
		MaxReads:      o.MaxBlobReads,
		SyncExecution: o.Execution != nil && o.Execution.Time == tree.ExecImmediate,
	}
	s.attachCachedLeaf(&req, base, glob)

	v, _, err := s.tree.Out(ctx, req)
	if err != nil {
		return nil, err
	}
	recordRead()
	return v, nil
}

// attachCachedLeaf pre-resolves a concrete, non-blocking target through
// the cache. Blocking requests walk fresh on every attempt so a restore
// or clear between wakeups cannot leave them extracting from a detached
// node.
func (s *Space) attachCachedLeaf(req *tree.OutRequest, base string, glob bool) {
	if glob || req.Behavior != tree.DontWait {
		return
	}
	n, err := s.cache.GetOrResolve(base, s.tree.Epoch(), func() (*tree.Node, error) {
		return s.tree.Resolve(base)
	})
	if err == nil {
		req.Leaf = n
	}
}

// Take returns and removes the front entry of type T at the path. An
// index qualifier on the final component ("/x[2]") removes that 0-based
// queue position instead, preserving the relative order of the rest.
func Take[T any](ctx context.Context, s *Space, p string, opts ...TakeOption) (T, error) {
	var zero T
	o := buildTakeOptions(opts)
	v, err := s.take(ctx, p, reflect.TypeOf((*T)(nil)).Elem(), o)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%q: %w: slot holds %T", p, ErrTypeMismatch, v)
	}
	return typed, nil
}

// TakeAny is Take without a type restriction.
func (s *Space) TakeAny(ctx context.Context, p string, opts ...TakeOption) (any, error) {
	return s.take(ctx, p, nil, buildTakeOptions(opts))
}

func (s *Space) take(ctx context.Context, p string, typ reflect.Type, o TakeOptions) (any, error) {
	base, _ := path.SplitFinalIndex(p)
	glob := path.IsGlob(base)
	if err := path.Validate(base, path.LevelFull, glob); err != nil {
		return nil, fmt.Errorf("%q: %w: %w", p, ErrInvalidPath, err)
	}
	if err := o.Capabilities.check(p, CapRead); err != nil {
		return nil, err
	}

	root, covered := s.history.Covers(base)
	if covered {
		// The taxonomy is read-only; a pop there serves like a read.
		if rel := relativePath(root, base); strings.HasPrefix(rel, historyPrefix) {
			return s.historyRead(root, rel)
		}
	}

	req := tree.OutRequest{
		Path:     p,
		Type:     typ,
		Pop:      o.DoPop,
		Behavior: o.Block.behavior(),
		Deadline: o.Block.deadline(),
		MaxReads: o.MaxBlobReads,
	}

	if !o.DoPop {
		s.attachCachedLeaf(&req, base, glob)
		v, _, err := s.tree.Out(ctx, req)
		if err != nil {
			return nil, err
		}
		recordRead()
		return v, nil
	}

	if covered {
		return s.guardedTake(ctx, root, req)
	}

	v, resolved, err := s.tree.Out(ctx, req)
	if err != nil {
		return nil, err
	}
	recordTake()
	s.events.Publish(Event{Type: EventTake, Path: resolved})
	return v, nil
}

// guardedTake pops under a history transaction. The pre-state snapshot
// only lands on the undo stack when the pop succeeds; blocking waits
// happen outside the transaction so a parked consumer cannot stall
// producers on the same root.
func (s *Space) guardedTake(ctx context.Context, root string, req tree.OutRequest) (any, error) {
	for {
		txn, err := s.history.Begin(root, "take")
		if err != nil {
			s.logger.Warn("history capture refused, take proceeds unguarded",
				slog.String("path", req.Path),
				slog.String("error", err.Error()),
			)
			v, resolved, terr := s.tree.Out(ctx, req)
			if terr != nil {
				return nil, terr
			}
			recordTake()
			s.events.Publish(Event{Type: EventTake, Path: resolved})
			return v, nil
		}

		attempt := req
		attempt.Behavior = tree.DontWait
		v, resolved, terr := s.tree.Out(ctx, attempt)
		if terr == nil {
			if cerr := txn.Commit(); cerr != nil {
				s.logger.Warn("history record failed",
					slog.String("path", req.Path),
					slog.String("error", cerr.Error()),
				)
			}
			recordTake()
			s.events.Publish(Event{Type: EventTake, Path: resolved})
			return v, nil
		}
		txn.Abandon()

		if req.Behavior == tree.DontWait || !waitWorthy(req.Behavior, terr) {
			return nil, terr
		}

		// Park as a reader until the slot can serve, then retry the pop.
		// Another consumer may win the race; the loop goes around until
		// the deadline or ctx gives out.
		wait := req
		wait.Pop = false
		wait.MaxReads = 0
		if _, _, werr := s.tree.Out(ctx, wait); werr != nil {
			return nil, werr
		}
	}
}

// waitWorthy mirrors the tree's retry predicate for the facade's
// wait-then-pop loop.
func waitWorthy(b tree.BlockBehavior, err error) bool {
	if b == tree.WaitForExecution {
		return errors.Is(err, tree.ErrTaskPending)
	}
	return errors.Is(err, ErrNoSuchPath) || errors.Is(err, ErrNoObjectFound)
}

// Clear drops every node and queued entry and invalidates all cached
// handles. History stacks are untouched; an undo after a clear restores
// its root's recorded state.
func (s *Space) Clear() {
	s.tree.Clear()
	s.cache.Clear()
	recordClear()
	s.events.Publish(Event{Type: EventClear, Path: "/"})
}

// EnableHistory turns undo/redo on for a concrete root path.
func (s *Space) EnableHistory(root string, opts history.Options) error {
	return s.history.Enable(root, opts)
}

// DisableHistory removes the root's in-RAM history; persisted stacks
// survive for a later EnableHistory with Restore.
func (s *Space) DisableHistory(root string) error {
	return s.history.Disable(root)
}

// Undo rolls the root back the given number of steps and invalidates
// cached handles under it.
func (s *Space) Undo(root string, steps int) error {
	if err := s.history.Undo(root, steps); err != nil {
		return err
	}
	s.cache.InvalidatePrefix(root)
	s.events.Publish(Event{Type: EventUndo, Path: root})
	return nil
}

// Redo re-applies previously undone steps.
func (s *Space) Redo(root string, steps int) error {
	if err := s.history.Redo(root, steps); err != nil {
		return err
	}
	s.cache.InvalidatePrefix(root)
	s.events.Publish(Event{Type: EventRedo, Path: root})
	return nil
}

// historyControl dispatches an insert below a root's reserved _history
// subtree. The inserted value, when integral, is the step count.
func (s *Space) historyControl(root, rel string, value any) InsertResult {
	var res InsertResult
	var err error
	switch rel {
	case "_history/undo":
		err = s.Undo(root, stepsFrom(value))
	case "_history/redo":
		err = s.Redo(root, stepsFrom(value))
	case "_history/garbage_collect":
		_, err = s.history.Trim(root)
	default:
		err = fmt.Errorf("%q: %w: unknown history control command", rel, ErrMalformedInput)
	}
	if err != nil {
		res.Errors = append(res.Errors, err)
	}
	return res
}

// stepsFrom interprets a control payload as a step count. Unrecognized
// payloads mean one step; JSON numbers arrive as float64.
func stepsFrom(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 1
	}
}

// historyRead serves the read-only taxonomy below a root's _history
// subtree: the stats struct itself plus scalar leaves for the common
// counters.
func (s *Space) historyRead(root, rel string) (any, error) {
	st, err := s.history.Stats(root)
	if err != nil {
		return nil, err
	}
	switch rel {
	case "_history/stats":
		return st, nil
	case "_history/stats/undoCount":
		return st.Counts.Undo, nil
	case "_history/stats/redoCount":
		return st.Counts.Redo, nil
	case "_history/stats/undoBytes":
		return st.Bytes.Undo, nil
	case "_history/stats/redoBytes":
		return st.Bytes.Redo, nil
	case "_history/stats/liveBytes":
		return st.Bytes.Live, nil
	case "_history/stats/diskBytes":
		return st.Bytes.Disk, nil
	case "_history/stats/trimOperationCount":
		return st.Trim.OperationCount, nil
	case "_history/stats/trimmedEntries":
		return st.Trim.Entries, nil
	case "_history/stats/trimmedBytes":
		return st.Trim.Bytes, nil
	case "_history/stats/lastTrimTimestampMs":
		return st.Trim.LastTimestampMS, nil
	case "_history/unsupported/totalCount":
		return st.Unsupported.Total, nil
	case "_history/unsupported/recentCount":
		return len(st.Unsupported.Recent), nil
	}
	if st.LastOperation != nil {
		switch rel {
		case "_history/lastOperation/type":
			return st.LastOperation.Type, nil
		case "_history/lastOperation/timestampMs":
			return st.LastOperation.TimestampMS, nil
		case "_history/lastOperation/durationMs":
			return st.LastOperation.DurationMS, nil
		case "_history/lastOperation/success":
			return st.LastOperation.Success, nil
		case "_history/lastOperation/message":
			return st.LastOperation.Message, nil
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", root, rel, ErrNoSuchPath)
}

// SpaceStats aggregates the component statistics for the inspector.
type SpaceStats struct {
	Tree             tree.Stats  `json:"tree"`
	Cache            cache.Stats `json:"cache"`
	HistoryRoots     []string    `json:"history_roots,omitempty"`
	EventSubscribers int         `json:"event_subscribers"`
}

// Stats returns a point-in-time census of the space.
func (s *Space) Stats() SpaceStats {
	return SpaceStats{
		Tree:             s.tree.Stats(),
		Cache:            s.cache.Stats(),
		HistoryRoots:     s.history.Roots(),
		EventSubscribers: s.events.Subscribers(),
	}
}

// ListPaths returns every concrete path holding data that matches the
// glob pattern; an empty pattern lists everything.
func (s *Space) ListPaths(pattern string) ([]string, error) {
	if pattern != "" {
		if err := path.ValidateGlob(pattern); err != nil {
			return nil, fmt.Errorf("%q: %w: %w", pattern, ErrInvalidPath, err)
		}
	}
	return s.tree.ListPaths(pattern), nil
}

// PeekTypes reports the queued type runs at a concrete path.
func (s *Space) PeekTypes(p string) ([]tree.TypeCount, error) {
	if err := path.ValidateConcrete(p); err != nil {
		return nil, fmt.Errorf("%q: %w: %w", p, ErrInvalidPath, err)
	}
	return s.tree.PeekTypes(p)
}

// Shutdown stops the sweeper, the event feed, history manifests and the
// task pool, and unblocks every waiter. Subsequent operations fail with
// ErrClosed.
func (s *Space) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if s.sweepStop != nil {
			close(s.sweepStop)
			<-s.sweepDone
		}
		s.events.Close()
		if herr := s.history.Close(); herr != nil {
			s.logger.Warn("history close failed", slog.String("error", herr.Error()))
		}
		err = s.tree.Shutdown(ctx)
	})
	return err
}

func relativePath(root, p string) string {
	if p == root {
		return ""
	}
	return strings.TrimPrefix(p, root+"/")
}
