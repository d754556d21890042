// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history provides per-root undo/redo over the live space, built
// on copy-on-write subtree snapshots.
//
// A root enabled for history captures a snapshot of its subtree ahead of
// every mutation routed through it. Snapshots stack up for undo, move to
// the redo stack as they are undone, and can spill to an embedded store
// when a retention policy pushes them out of RAM. Payloads cross the
// snapshot boundary as JSON, so history is limited to values JSON can
// represent; task slots and unencodable values are recorded as
// unsupported and skip the capture.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/pathspace/services/space/path"
	"github.com/AleutianAI/pathspace/services/space/tree"
	badger "github.com/dgraph-io/badger/v4"
)

var (
	// ErrHistoryDisabled indicates the root has no history enabled.
	ErrHistoryDisabled = errors.New("history is not enabled for this root")

	// ErrNothingToUndo indicates the undo stack is empty.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNothingToRedo indicates the redo stack is empty.
	ErrNothingToRedo = errors.New("nothing to redo")

	// ErrRootOverlap indicates the requested root nests inside, or
	// contains, an already-enabled root.
	ErrRootOverlap = errors.New("history root overlaps an enabled root")

	// ErrUnsupportedPayload indicates a subtree holds state a snapshot
	// cannot carry: an unexecuted task slot or a value JSON cannot
	// represent.
	ErrUnsupportedPayload = errors.New("unsupported payload")

	// ErrNoStore indicates a persistence option was requested without a
	// backing store.
	ErrNoStore = errors.New("history persistence requires a store")
)

const (
	reasonExecution     = "unexecuted task slots are not captured"
	reasonSerialization = "value cannot be serialized"

	// DefaultMaxEntries bounds the undo stack per root.
	DefaultMaxEntries = 128

	// DefaultRAMCacheEntries is how many decoded snapshots stay hot per
	// stack before cold entries are evicted to the store.
	DefaultRAMCacheEntries = 8

	maxUnsupportedRecords = 8
	maxRecentOperations   = 16
)

// Options configures history retention for one root.
type Options struct {
	// MaxEntries bounds the undo stack; zero means DefaultMaxEntries.
	MaxEntries int

	// MaxBytesRetained caps the combined encoded size of both stacks;
	// zero means unlimited. Oldest undo entries go first.
	MaxBytesRetained int64

	// RAMCacheEntries is how many decoded snapshots to keep hot per
	// stack; zero means DefaultRAMCacheEntries. Only persisted entries
	// are ever evicted.
	RAMCacheEntries int

	// MaxDiskBytes caps the spilled bytes in the store; zero means
	// unlimited. Exceeding it drops the oldest spilled undo entries.
	MaxDiskBytes int64

	// Persist spills entries to the store so they survive RAM eviction
	// and process restarts.
	Persist bool

	// Restore reloads persisted stacks when the root is enabled.
	// Requires Persist.
	Restore bool
}

// Counts reports stack and cache sizes.
type Counts struct {
	Undo        int `json:"undo"`
	Redo        int `json:"redo"`
	DiskEntries int `json:"disk_entries"`
	CachedUndo  int `json:"cached_undo"`
	CachedRedo  int `json:"cached_redo"`
}

// ByteTotals reports where history bytes live. Live is the payload size
// of the root's subtree as of its most recent capture; Total is live
// plus both stacks; Disk counts spilled blobs.
type ByteTotals struct {
	Total int64 `json:"total"`
	Undo  int64 `json:"undo"`
	Redo  int64 `json:"redo"`
	Live  int64 `json:"live"`
	Disk  int64 `json:"disk"`
}

// TrimTelemetry accumulates retention activity for one root.
type TrimTelemetry struct {
	OperationCount  int64 `json:"operation_count"`
	Entries         int64 `json:"entries"`
	Bytes           int64 `json:"bytes"`
	LastTimestampMS int64 `json:"last_timestamp_ms,omitempty"`
}

// OperationRecord describes one history operation against a root.
// Timestamps are Unix milliseconds UTC.
type OperationRecord struct {
	Type            string `json:"type"`
	TimestampMS     int64  `json:"timestamp_ms"`
	DurationMS      int64  `json:"duration_ms"`
	Success         bool   `json:"success"`
	UndoCountBefore int    `json:"undo_count_before"`
	UndoCountAfter  int    `json:"undo_count_after"`
	RedoCountBefore int    `json:"redo_count_before"`
	RedoCountAfter  int    `json:"redo_count_after"`
	BytesBefore     int64  `json:"bytes_before"`
	BytesAfter      int64  `json:"bytes_after"`
	Message         string `json:"message,omitempty"`
}

// UnsupportedRecord aggregates capture refusals at one path for one
// reason.
type UnsupportedRecord struct {
	Path            string `json:"path"`
	Reason          string `json:"reason"`
	Occurrences     int64  `json:"occurrences"`
	LastTimestampMS int64  `json:"last_timestamp_ms"`
}

// UnsupportedStats reports payloads history refused to capture.
type UnsupportedStats struct {
	Total  int64               `json:"total"`
	Recent []UnsupportedRecord `json:"recent,omitempty"`
}

// TrimStats reports one retention pass.
type TrimStats struct {
	EntriesRemoved int   `json:"entries_removed"`
	BytesRemoved   int64 `json:"bytes_removed"`
}

// Stats is the full telemetry view of one root's history.
// RecentOperations holds the last few operations in arrival order, a
// bounded log the inspector can page through without tailing anything.
type Stats struct {
	Root             string            `json:"root"`
	Counts           Counts            `json:"counts"`
	Bytes            ByteTotals        `json:"bytes"`
	Trim             TrimTelemetry     `json:"trim"`
	LastOperation    *OperationRecord  `json:"last_operation,omitempty"`
	RecentOperations []OperationRecord `json:"recent_operations,omitempty"`
	Unsupported      UnsupportedStats  `json:"unsupported"`
}

// Config wires a History to its space and optional store.
type Config struct {
	// Tree is the live space. Required.
	Tree *tree.Tree

	// Store backs persistence-enabled roots. Optional; roots that ask
	// for Persist without one fail to enable.
	Store *badger.DB

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// History manages undo/redo state for a set of enabled roots.
//
// Description:
//
//	Each root owns an undo stack, a redo stack, a copy-on-write engine
//	(so structural sharing and generations stay scoped per root) and
//	retention telemetry. Mutations routed through RecordBefore push a
//	pre-state snapshot; Undo and Redo exchange the live state with the
//	stack tops.
//
// Thread Safety:
//
//	Safe for concurrent use. Operations against one root serialize on
//	the root's lock; distinct roots proceed independently.
type History struct {
	tree   *tree.Tree
	store  *badger.DB
	logger *slog.Logger

	mu    sync.RWMutex
	roots map[string]*rootState
}

// New creates a History over the given space.
func New(cfg Config) *History {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &History{
		tree:   cfg.Tree,
		store:  cfg.Store,
		logger: logger,
		roots:  make(map[string]*rootState),
	}
}

type stackKind string

const (
	stackUndo stackKind = "undo"
	stackRedo stackKind = "redo"
)

// stackEntry is one snapshot on a stack. snapshot is nil when the entry
// has been evicted to the store; bytes is the encoded document size and
// stays meaningful either way.
type stackEntry struct {
	seq       uint64
	stack     stackKind
	bytes     int64
	persisted bool
	snapshot  *Snapshot
}

type rootState struct {
	mu      sync.Mutex
	root    string
	options Options
	engine  *Engine

	undo []*stackEntry
	redo []*stackEntry
	seq  uint64

	liveBytes   int64
	diskBytes   int64
	trim        TrimTelemetry
	lastOp      *OperationRecord
	recentOps   []OperationRecord
	unsupported UnsupportedStats
}

// Enable turns history on for a concrete root path.
//
// Description:
//
//	The root must not nest inside, or contain, an already-enabled
//	root. With Persist and Restore set, previously spilled stacks are
//	reloaded cold from the store; entries decode lazily when an undo
//	or redo first needs them.
func (h *History) Enable(root string, opts Options) error {
	if err := path.ValidateConcrete(root); err != nil {
		return fmt.Errorf("history root %q: %w", root, err)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.RAMCacheEntries <= 0 {
		opts.RAMCacheEntries = DefaultRAMCacheEntries
	}
	if (opts.Persist || opts.Restore) && h.store == nil {
		return ErrNoStore
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for existing := range h.roots {
		if rootsOverlap(existing, root) {
			return fmt.Errorf("%w: %s and %s", ErrRootOverlap, root, existing)
		}
	}

	state := &rootState{root: root, options: opts, engine: NewEngine()}
	if opts.Persist && opts.Restore {
		if err := h.loadManifest(state); err != nil {
			h.logger.Warn("history manifest restore failed, starting fresh",
				slog.String("root", root),
				slog.String("error", err.Error()),
			)
		}
	}
	h.roots[root] = state

	h.logger.Info("history enabled",
		slog.String("root", root),
		slog.Int("max_entries", opts.MaxEntries),
		slog.Bool("persist", opts.Persist),
		slog.Int("restored_undo", len(state.undo)),
		slog.Int("restored_redo", len(state.redo)),
	)
	return nil
}

// Disable removes the root's in-RAM history. Persisted stacks stay in
// the store so a later Enable with Restore can resume them.
func (h *History) Disable(root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.roots[root]
	if !ok {
		return fmt.Errorf("%q: %w", root, ErrHistoryDisabled)
	}
	state.mu.Lock()
	h.writeManifestLocked(state)
	state.mu.Unlock()
	delete(h.roots, root)
	h.logger.Info("history disabled", slog.String("root", root))
	return nil
}

// Roots lists the enabled roots.
func (h *History) Roots() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.roots))
	for root := range h.roots {
		out = append(out, root)
	}
	return out
}

// Covers returns the enabled root owning the path, if any.
func (h *History) Covers(p string) (string, bool) {
	if state := h.lookupCovering(p); state != nil {
		return state.root, true
	}
	return "", false
}

func (h *History) lookupCovering(p string) *rootState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for root, state := range h.roots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return state
		}
	}
	return nil
}

func (h *History) stateFor(root string) (*rootState, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.roots[root]
	if !ok {
		return nil, fmt.Errorf("%q: %w", root, ErrHistoryDisabled)
	}
	return state, nil
}

func rootsOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// Txn is an open mutation transaction against one enabled root. It holds
// the root's pre-state snapshot and the root's lock; the caller performs
// the mutation, then either Commit (push the pre-state for undo) or
// Abandon (the mutation failed, record nothing). Exactly one of the two
// must be called.
type Txn struct {
	h     *History
	state *rootState
	op    *opScope
	snap  Snapshot
	done  bool
}

// Begin opens a transaction for the root covering p.
//
// Description:
//
//	Returns (nil, nil) when p lies outside every enabled root; the
//	caller mutates unguarded. A capture refusal (task slot or
//	unencodable value in the subtree) is recorded against the root and
//	returned; history is advisory, so callers proceed with the
//	mutation either way.
//
// Thread Safety:
//
//	The returned transaction holds the root's lock until Commit or
//	Abandon, serializing mutations, undo and redo per root. Do not
//	block indefinitely between Begin and Commit.
func (h *History) Begin(p, opType string) (*Txn, error) {
	state := h.lookupCovering(p)
	if state == nil {
		return nil, nil
	}

	state.mu.Lock()
	op := beginOp(state, opType)
	snap, err := h.capture(state)
	if err != nil {
		op.finish(false, err.Error())
		state.mu.Unlock()
		return nil, err
	}
	return &Txn{h: h, state: state, op: op, snap: snap}, nil
}

// Commit pushes the pre-state onto the undo stack, clears the redo stack
// and applies the retention policy.
func (t *Txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.state.mu.Unlock()

	entry, err := t.h.pushEntryLocked(t.state, stackUndo, t.snap)
	if err != nil {
		t.op.finish(false, err.Error())
		return err
	}
	t.state.undo = append(t.state.undo, entry)
	t.h.dropRedoLocked(t.state)
	t.state.liveBytes = Analyze(t.snap).PayloadBytes

	t.h.applyRetentionLocked(t.state)
	t.h.applyRAMPolicyLocked(t.state)
	t.h.writeManifestLocked(t.state)
	t.op.finish(true, "")
	return nil
}

// Abandon releases the transaction without touching the stacks. The
// failed mutation leaves the root unchanged, so there is nothing to undo
// and no operation record is written.
func (t *Txn) Abandon() {
	if t.done {
		return
	}
	t.done = true
	t.state.mu.Unlock()
}

// RecordBefore captures the owning root's pre-state ahead of a mutation
// at the given path. It is Begin followed immediately by Commit, for
// callers that know the mutation will be attempted regardless.
func (h *History) RecordBefore(p, opType string) error {
	txn, err := h.Begin(p, opType)
	if err != nil || txn == nil {
		return err
	}
	return txn.Commit()
}

// Undo rolls the root back the given number of steps. Each step captures
// the live state onto the redo stack and applies the undo top. Zero or
// negative steps mean one.
func (h *History) Undo(root string, steps int) error {
	return h.step(root, stackUndo, steps)
}

// Redo re-applies previously undone steps symmetrically to Undo.
func (h *History) Redo(root string, steps int) error {
	return h.step(root, stackRedo, steps)
}

func (h *History) step(root string, direction stackKind, steps int) error {
	state, err := h.stateFor(root)
	if err != nil {
		return err
	}
	if steps <= 0 {
		steps = 1
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	op := beginOp(state, string(direction))
	var (
		done    int
		failure error
	)
	for done < steps {
		source, sink := &state.undo, &state.redo
		sinkKind := stackRedo
		if direction == stackRedo {
			source, sink = &state.redo, &state.undo
			sinkKind = stackUndo
		}
		if len(*source) == 0 {
			if done == 0 {
				if direction == stackUndo {
					failure = ErrNothingToUndo
				} else {
					failure = ErrNothingToRedo
				}
			}
			break
		}

		current, err := h.capture(state)
		if err != nil {
			failure = err
			break
		}
		top := (*source)[len(*source)-1]
		snap, err := h.entrySnapshot(state, top)
		if err != nil {
			failure = err
			break
		}
		if err := h.applySnapshot(state, snap); err != nil {
			failure = err
			break
		}
		*source = (*source)[:len(*source)-1]
		h.discardEntryLocked(state, top)

		entry, err := h.pushEntryLocked(state, sinkKind, current)
		if err != nil {
			failure = err
			break
		}
		*sink = append(*sink, entry)
		state.liveBytes = Analyze(snap).PayloadBytes
		done++
	}

	h.applyRAMPolicyLocked(state)
	h.writeManifestLocked(state)
	if failure != nil {
		op.finish(false, failure.Error())
		return failure
	}
	op.finish(true, fmt.Sprintf("steps=%d", done))
	return nil
}

// Trim runs the retention policy now and reports what it removed.
func (h *History) Trim(root string) (TrimStats, error) {
	state, err := h.stateFor(root)
	if err != nil {
		return TrimStats{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	op := beginOp(state, "garbage_collect")
	ts := h.applyRetentionLocked(state)
	h.applyRAMPolicyLocked(state)
	h.writeManifestLocked(state)
	if ts.EntriesRemoved == 0 {
		op.finish(true, "no_trim")
	} else {
		op.finish(true, fmt.Sprintf("trimmed=%d", ts.EntriesRemoved))
	}
	return ts, nil
}

// Stats returns the root's telemetry.
func (h *History) Stats(root string) (Stats, error) {
	state, err := h.stateFor(root)
	if err != nil {
		return Stats{}, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	st := Stats{
		Root: state.root,
		Counts: Counts{
			Undo:        len(state.undo),
			Redo:        len(state.redo),
			DiskEntries: coldCount(state.undo) + coldCount(state.redo),
			CachedUndo:  warmCount(state.undo),
			CachedRedo:  warmCount(state.redo),
		},
		Bytes: ByteTotals{
			Undo: stackBytes(state.undo),
			Redo: stackBytes(state.redo),
			Live: state.liveBytes,
			Disk: state.diskBytes,
		},
		Trim:        state.trim,
		Unsupported: state.unsupported,
	}
	st.Bytes.Total = st.Bytes.Live + st.Bytes.Undo + st.Bytes.Redo
	if state.lastOp != nil {
		record := *state.lastOp
		st.LastOperation = &record
	}
	if len(state.recentOps) > 0 {
		st.RecentOperations = append([]OperationRecord(nil), state.recentOps...)
	}
	return st, nil
}

// Close flushes every root's manifest. The store itself belongs to the
// caller.
func (h *History) Close() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, state := range h.roots {
		state.mu.Lock()
		h.writeManifestLocked(state)
		state.mu.Unlock()
	}
	return nil
}

// listingMutations encodes the root's live subtree into mutations,
// recording any unsupported payload against the root. Caller holds the
// state lock.
func (h *History) listingMutations(state *rootState) ([]Mutation, error) {
	listing, err := h.tree.CollectSubtree(state.root)
	if err != nil {
		return nil, err
	}

	mutations := make([]Mutation, 0, len(listing))
	for _, sv := range listing {
		full := joinComponents(state.root, sv.Components)
		if sv.HasTask {
			h.recordUnsupportedLocked(state, full, reasonExecution)
			return nil, fmt.Errorf("%w: %s at %s", ErrUnsupportedPayload, reasonExecution, full)
		}
		payload, err := encodeValues(sv.Values)
		if err != nil {
			h.recordUnsupportedLocked(state, full, reasonSerialization)
			return nil, fmt.Errorf("%w: %s at %s", ErrUnsupportedPayload, reasonSerialization, full)
		}
		mutations = append(mutations, Mutation{Components: sv.Components, Payload: payload})
	}
	return mutations, nil
}

// capture folds the root's live subtree into a free-standing snapshot.
// Caller holds the state lock.
func (h *History) capture(state *rootState) (Snapshot, error) {
	mutations, err := h.listingMutations(state)
	if err != nil {
		return Snapshot{}, err
	}
	if len(mutations) == 0 {
		return state.engine.EmptySnapshot(), nil
	}
	return state.engine.Apply(state.engine.EmptySnapshot(), mutations...), nil
}

// applySnapshot rewrites the root's live subtree to match the snapshot.
// Caller holds the state lock.
func (h *History) applySnapshot(state *rootState, snap Snapshot) error {
	if !snap.Valid() {
		return h.tree.RestoreSubtree(state.root, nil)
	}

	var listing []tree.SubtreeValue
	var walk func(n *Node, components []string) error
	walk = func(n *Node, components []string) error {
		if n.Payload != nil {
			values, err := decodeValues(n.Payload)
			if err != nil {
				return fmt.Errorf("decode payload at %q: %w", joinComponents(state.root, components), err)
			}
			rel := make([]string, len(components))
			copy(rel, components)
			listing = append(listing, tree.SubtreeValue{Components: rel, Values: values})
		}
		for _, name := range sortedChildren(n) {
			next := make([]string, len(components)+1)
			copy(next, components)
			next[len(components)] = name
			if err := walk(n.Children[name], next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(snap.Root, nil); err != nil {
		return err
	}
	return h.tree.RestoreSubtree(state.root, listing)
}

// pushEntryLocked encodes a snapshot into a stack entry and writes it
// through to the store when persistence is on. A failed store write
// degrades the entry to RAM-only with a warning.
func (h *History) pushEntryLocked(state *rootState, kind stackKind, snap Snapshot) (*stackEntry, error) {
	blob, err := encodeSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	state.seq++
	s := snap
	entry := &stackEntry{seq: state.seq, stack: kind, bytes: int64(len(blob)), snapshot: &s}
	if h.persistEnabled(state) {
		if err := h.saveBlob(state, entry, blob); err != nil {
			h.logger.Warn("history entry persist failed",
				slog.String("root", state.root),
				slog.Uint64("seq", entry.seq),
				slog.String("error", err.Error()),
			)
		}
	}
	return entry, nil
}

// entrySnapshot returns the entry's snapshot, reloading and re-warming it
// from the store when it was evicted.
func (h *History) entrySnapshot(state *rootState, e *stackEntry) (Snapshot, error) {
	if e.snapshot != nil {
		return *e.snapshot, nil
	}
	blob, err := h.loadBlob(state, e)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load history entry %d: %w", e.seq, err)
	}
	snap, err := decodeSnapshot(state.engine, blob)
	if err != nil {
		return Snapshot{}, err
	}
	e.snapshot = &snap
	return snap, nil
}

func (h *History) dropRedoLocked(state *rootState) {
	for _, e := range state.redo {
		h.discardEntryLocked(state, e)
	}
	state.redo = nil
}

// applyRetentionLocked enforces MaxEntries, MaxBytesRetained and
// MaxDiskBytes, oldest undo entries first.
func (h *History) applyRetentionLocked(state *rootState) TrimStats {
	var ts TrimStats
	drop := func(e *stackEntry) {
		ts.EntriesRemoved++
		ts.BytesRemoved += e.bytes
		h.discardEntryLocked(state, e)
	}

	for len(state.undo) > state.options.MaxEntries {
		e := state.undo[0]
		state.undo = state.undo[1:]
		drop(e)
	}

	if limit := state.options.MaxBytesRetained; limit > 0 {
		for stackBytes(state.undo)+stackBytes(state.redo) > limit && len(state.undo) > 0 {
			e := state.undo[0]
			state.undo = state.undo[1:]
			drop(e)
		}
	}

	if limit := state.options.MaxDiskBytes; limit > 0 {
		for state.diskBytes > limit {
			idx := -1
			for i, e := range state.undo {
				if e.persisted {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			e := state.undo[idx]
			state.undo = append(state.undo[:idx], state.undo[idx+1:]...)
			drop(e)
		}
	}

	if ts.EntriesRemoved > 0 {
		state.trim.OperationCount++
		state.trim.Entries += int64(ts.EntriesRemoved)
		state.trim.Bytes += ts.BytesRemoved
		state.trim.LastTimestampMS = time.Now().UnixMilli()
	}
	return ts
}

// applyRAMPolicyLocked evicts decoded snapshots beyond the hot window.
// Entries that never made it to the store are exempt; evicting them
// would lose them.
func (h *History) applyRAMPolicyLocked(state *rootState) {
	evict := func(stack []*stackEntry) {
		for i := 0; i < len(stack)-state.options.RAMCacheEntries; i++ {
			e := stack[i]
			if e.persisted {
				e.snapshot = nil
			}
		}
	}
	evict(state.undo)
	evict(state.redo)
}

// discardEntryLocked removes the entry's persisted blob, if any.
func (h *History) discardEntryLocked(state *rootState, e *stackEntry) {
	if !e.persisted {
		return
	}
	if err := h.deleteBlob(state, e); err != nil {
		h.logger.Warn("history entry delete failed",
			slog.String("root", state.root),
			slog.Uint64("seq", e.seq),
			slog.String("error", err.Error()),
		)
		return
	}
	e.persisted = false
	state.diskBytes -= e.bytes
}

func (h *History) recordUnsupportedLocked(state *rootState, p, reason string) {
	state.unsupported.Total++
	now := time.Now().UnixMilli()
	for i := range state.unsupported.Recent {
		r := &state.unsupported.Recent[i]
		if r.Path == p && r.Reason == reason {
			r.Occurrences++
			r.LastTimestampMS = now
			return
		}
	}
	record := UnsupportedRecord{Path: p, Reason: reason, Occurrences: 1, LastTimestampMS: now}
	state.unsupported.Recent = append(state.unsupported.Recent, record)
	if len(state.unsupported.Recent) > maxUnsupportedRecords {
		state.unsupported.Recent = state.unsupported.Recent[1:]
	}
}

func (h *History) persistEnabled(state *rootState) bool {
	return state.options.Persist && h.store != nil
}

type opScope struct {
	state  *rootState
	start  time.Time
	record OperationRecord
}

func beginOp(state *rootState, opType string) *opScope {
	return &opScope{
		state: state,
		start: time.Now(),
		record: OperationRecord{
			Type:            opType,
			UndoCountBefore: len(state.undo),
			RedoCountBefore: len(state.redo),
			BytesBefore:     totalBytes(state),
		},
	}
}

func (o *opScope) finish(success bool, message string) {
	o.record.TimestampMS = time.Now().UnixMilli()
	o.record.DurationMS = time.Since(o.start).Milliseconds()
	o.record.Success = success
	o.record.Message = message
	o.record.UndoCountAfter = len(o.state.undo)
	o.record.RedoCountAfter = len(o.state.redo)
	o.record.BytesAfter = totalBytes(o.state)
	o.state.lastOp = &o.record
	o.state.recentOps = append(o.state.recentOps, o.record)
	if len(o.state.recentOps) > maxRecentOperations {
		o.state.recentOps = o.state.recentOps[len(o.state.recentOps)-maxRecentOperations:]
	}
}

func totalBytes(state *rootState) int64 {
	return state.liveBytes + stackBytes(state.undo) + stackBytes(state.redo)
}

func stackBytes(stack []*stackEntry) int64 {
	var sum int64
	for _, e := range stack {
		sum += e.bytes
	}
	return sum
}

func warmCount(stack []*stackEntry) int {
	n := 0
	for _, e := range stack {
		if e.snapshot != nil {
			n++
		}
	}
	return n
}

func coldCount(stack []*stackEntry) int {
	n := 0
	for _, e := range stack {
		if e.snapshot == nil {
			n++
		}
	}
	return n
}

func joinComponents(root string, components []string) string {
	p := root
	for _, c := range components {
		p = path.Join(p, c)
	}
	return p
}
