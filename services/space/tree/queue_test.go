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
	"reflect"
	"testing"
	"time"
)

func TestQueueOrderPreserved(t *testing.T) {
	var q Queue
	q.Push(NewValueEntry(1))
	q.Push(NewValueEntry(2))
	q.Push(NewValueEntry(3))

	if got := q.Len(); got != 3 {
		t.Fatalf("Len = %d, want 3", got)
	}
	for want := 1; want <= 3; want++ {
		e := q.PopFront()
		if e == nil {
			t.Fatalf("PopFront returned nil at %d", want)
		}
		if e.Value.(int) != want {
			t.Errorf("popped %v, want %d", e.Value, want)
		}
	}
	if q.PopFront() != nil {
		t.Error("PopFront on empty queue should return nil")
	}
}

func TestQueueTypeRuns(t *testing.T) {
	tests := []struct {
		name   string
		values []any
		want   []TypeCount
	}{
		{
			name:   "single type merges into one run",
			values: []any{1, 2, 3},
			want:   []TypeCount{{Type: "int", Count: 3}},
		},
		{
			name:   "alternation keeps runs apart",
			values: []any{1, "a", 2},
			want: []TypeCount{
				{Type: "int", Count: 1},
				{Type: "string", Count: 1},
				{Type: "int", Count: 1},
			},
		},
		{
			name:   "adjacent same types merge",
			values: []any{"a", "b", 1, 1.5},
			want: []TypeCount{
				{Type: "string", Count: 2},
				{Type: "int", Count: 1},
				{Type: "float64", Count: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Queue
			for _, v := range tt.values {
				q.Push(NewValueEntry(v))
			}
			got := q.TypeCounts()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TypeCounts = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestQueuePopAt(t *testing.T) {
	var q Queue
	q.Push(NewValueEntry("a"))
	q.Push(NewValueEntry("b"))
	q.Push(NewValueEntry("c"))

	e := q.PopAt(1)
	if e == nil || e.Value.(string) != "b" {
		t.Fatalf("PopAt(1) = %v, want b", e)
	}
	if q.Len() != 2 {
		t.Fatalf("Len after PopAt = %d, want 2", q.Len())
	}
	if q.At(0).Value.(string) != "a" || q.At(1).Value.(string) != "c" {
		t.Errorf("remaining order wrong: %v, %v", q.At(0).Value, q.At(1).Value)
	}
	if q.PopAt(5) != nil {
		t.Error("PopAt out of range should return nil")
	}
	if q.PopAt(-1) != nil {
		t.Error("PopAt negative should return nil")
	}
}

func TestQueuePopAtMergesSplitRuns(t *testing.T) {
	// int, string, int: removing the string leaves two adjacent int runs
	// that must collapse back into one.
	var q Queue
	q.Push(NewValueEntry(1))
	q.Push(NewValueEntry("x"))
	q.Push(NewValueEntry(2))

	q.PopAt(1)
	got := q.TypeCounts()
	want := []TypeCount{{Type: "int", Count: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TypeCounts after middle pop = %+v, want %+v", got, want)
	}
}

func TestQueueFrontType(t *testing.T) {
	var q Queue
	if q.FrontType() != nil {
		t.Error("FrontType on empty queue should be nil")
	}
	q.Push(NewValueEntry("s"))
	q.Push(NewValueEntry(1))
	if got := q.FrontType(); got != reflect.TypeOf("") {
		t.Errorf("FrontType = %v, want string", got)
	}
	q.PopFront()
	if got := q.FrontType(); got != reflect.TypeOf(0) {
		t.Errorf("FrontType after pop = %v, want int", got)
	}
}

func TestQueueMaterializeRetags(t *testing.T) {
	task, err := NewTask(func() string { return "done" }, TaskConfig{})
	if err != nil {
		t.Fatal(err)
	}
	var q Queue
	q.Push(NewTaskEntry(task))
	q.Push(NewValueEntry("tail"))

	// Before materialization the slot carries the task's declared result
	// type, so adjacent runs already merged with the string tail.
	if got := q.FrontType(); got != reflect.TypeOf("") {
		t.Fatalf("front type before materialize = %v, want string", got)
	}

	e := q.Front()
	e.materialize("done")
	q.retag(0)

	if e.Kind != EntryValue || e.Task != nil {
		t.Error("materialize should convert the slot to a value entry")
	}
	got := q.TypeCounts()
	want := []TypeCount{{Type: "string", Count: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TypeCounts after materialize = %+v, want %+v", got, want)
	}
}

func TestQueueClearCancelsTasks(t *testing.T) {
	task, err := NewTask(func() int { return 1 }, TaskConfig{Category: ExecPeriodic, Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	var q Queue
	q.Push(NewTaskEntry(task))
	q.Push(NewValueEntry(2))

	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", q.Len())
	}
	select {
	case <-task.Cancelled():
	default:
		t.Error("Clear should cancel queued tasks")
	}
}

func TestCloneEntryIndependentReads(t *testing.T) {
	orig := NewValueEntry(7)
	orig.reads = 3
	cp := cloneEntry(orig)
	if cp.Value.(int) != 7 || cp.Type != orig.Type {
		t.Fatalf("clone lost value or type: %+v", cp)
	}
	if cp.reads != 0 {
		t.Errorf("clone reads = %d, want 0", cp.reads)
	}
}
