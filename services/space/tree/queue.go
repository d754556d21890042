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

import "reflect"

// EntryKind discriminates the two queue slot variants.
type EntryKind int

const (
	// EntryValue is a materialized value slot.
	EntryValue EntryKind = iota
	// EntryTask is a deferred task slot. On completion of a one-shot
	// task the slot is converted in place to EntryValue, preserving its
	// queue position.
	EntryTask
)

// Entry is one slot in a leaf queue: a tagged union of a materialized
// value and a deferred task.
//
// Thread Safety:
//
//	Entries are guarded by the owning node's lock. The embedded Task has
//	its own synchronization for execution state.
type Entry struct {
	Kind  EntryKind
	Type  reflect.Type
	Value any
	Task  *Task

	// reads counts served peeks for read-capped entries.
	reads int
}

// NewValueEntry wraps a materialized value. The value must be non-nil.
func NewValueEntry(v any) *Entry {
	return &Entry{Kind: EntryValue, Type: reflect.TypeOf(v), Value: v}
}

// NewTaskEntry wraps a deferred task. The entry's type is the task's
// result type so typed reads resolve against it before execution.
func NewTaskEntry(t *Task) *Entry {
	return &Entry{Kind: EntryTask, Type: t.ResultType(), Task: t}
}

// materialize converts a completed one-shot task slot into a value slot in
// place. Caller holds the node lock.
func (e *Entry) materialize(v any) {
	e.Kind = EntryValue
	e.Value = v
	e.Type = reflect.TypeOf(v)
	e.Task = nil
}

// cloneEntry copies a value entry for glob fan-out so each target leaf
// owns an independent slot with its own read count.
func cloneEntry(e *Entry) *Entry {
	return &Entry{Kind: e.Kind, Type: e.Type, Value: e.Value, Task: e.Task}
}

// typeRun is a run-length record of adjacent entries sharing a type.
// Runs make "what is at the front" checks cheap without scanning entries.
type typeRun struct {
	t     reflect.Type
	count int
}

// Queue is the ordered, heterogeneous entry queue owned by one leaf node.
// Consumption order equals insertion order; PopAt is the only sanctioned
// out-of-order removal and preserves the relative order of the rest.
//
// Thread Safety:
//
//	Not synchronized. The owning node's lock guards all access.
type Queue struct {
	entries []*Entry
	runs    []typeRun
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Push appends an entry, merging the type-run bookkeeping with the tail
// run when the types agree.
func (q *Queue) Push(e *Entry) {
	q.entries = append(q.entries, e)
	if n := len(q.runs); n > 0 && q.runs[n-1].t == e.Type {
		q.runs[n-1].count++
		return
	}
	q.runs = append(q.runs, typeRun{t: e.Type, count: 1})
}

// Front returns the front entry without removing it, or nil when empty.
func (q *Queue) Front() *Entry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// At returns the entry at position i, or nil when out of range.
func (q *Queue) At(i int) *Entry {
	if i < 0 || i >= len(q.entries) {
		return nil
	}
	return q.entries[i]
}

// FrontType returns the type of the front run, or nil when empty.
func (q *Queue) FrontType() reflect.Type {
	if len(q.runs) == 0 {
		return nil
	}
	return q.runs[0].t
}

// PopFront removes and returns the front entry, or nil when empty.
func (q *Queue) PopFront() *Entry {
	return q.PopAt(0)
}

// PopAt removes and returns the entry at position i, or nil when out of
// range. Adjacent runs left touching by the removal are merged.
func (q *Queue) PopAt(i int) *Entry {
	if i < 0 || i >= len(q.entries) {
		return nil
	}
	e := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)

	// Locate the run containing position i and shrink it.
	pos := 0
	for ri := range q.runs {
		if i < pos+q.runs[ri].count {
			q.runs[ri].count--
			if q.runs[ri].count == 0 {
				q.runs = append(q.runs[:ri], q.runs[ri+1:]...)
				if ri > 0 && ri < len(q.runs) && q.runs[ri-1].t == q.runs[ri].t {
					q.runs[ri-1].count += q.runs[ri].count
					q.runs = append(q.runs[:ri], q.runs[ri+1:]...)
				}
			}
			break
		}
		pos += q.runs[ri].count
	}
	return e
}

// retag updates the run bookkeeping after an in-place entry type change at
// position i (task materialization can change the slot's type).
func (q *Queue) retag(i int) {
	if i < 0 || i >= len(q.entries) {
		return
	}
	q.rebuildRuns()
}

// rebuildRuns recomputes the run list from the entries. O(n), used only on
// the rare in-place retype.
func (q *Queue) rebuildRuns() {
	q.runs = q.runs[:0]
	for _, e := range q.entries {
		if n := len(q.runs); n > 0 && q.runs[n-1].t == e.Type {
			q.runs[n-1].count++
			continue
		}
		q.runs = append(q.runs, typeRun{t: e.Type, count: 1})
	}
}

// Clear drops every entry, cancelling any still-deferred tasks so their
// periodic schedules stop.
func (q *Queue) Clear() {
	for _, e := range q.entries {
		if e.Kind == EntryTask && e.Task != nil {
			e.Task.Cancel()
		}
	}
	q.entries = nil
	q.runs = nil
}

// Snapshot returns the queued values in order. The second result reports
// whether any slot still holds an unexecuted task; such queues cannot be
// captured faithfully and callers are expected to refuse them. Caller
// holds the node lock.
func (q *Queue) Snapshot() ([]any, bool) {
	hasTask := false
	values := make([]any, 0, len(q.entries))
	for _, e := range q.entries {
		if e.Kind == EntryTask {
			hasTask = true
			continue
		}
		values = append(values, e.Value)
	}
	return values, hasTask
}

// Replace swaps the queue contents for the given values, cancelling any
// tasks held in the discarded slots. Caller holds the node lock.
func (q *Queue) Replace(values []any) {
	q.Clear()
	for _, v := range values {
		q.Push(NewValueEntry(v))
	}
}

// TypeCounts returns the run list as (type name, count) pairs for
// diagnostics.
func (q *Queue) TypeCounts() []TypeCount {
	out := make([]TypeCount, 0, len(q.runs))
	for _, r := range q.runs {
		name := "<nil>"
		if r.t != nil {
			name = r.t.String()
		}
		out = append(out, TypeCount{Type: name, Count: r.count})
	}
	return out
}

// TypeCount is a diagnostic view of one type run.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}
