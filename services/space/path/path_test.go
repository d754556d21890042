// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package path

import (
	"reflect"
	"testing"
)

// TestIterator verifies component iteration including duplicate slashes.
func TestIterator(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"/a/b/c", []string{"a", "b", "c"}},
		{"/a", []string{"a"}},
		{"/a//b", []string{"a", "b"}},
		{"/", nil},
		{"", nil},
	}

	for _, tt := range tests {
		if got := Components(tt.path); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Components(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

// TestIteratorFinal verifies final-component detection used by tree walks.
func TestIteratorFinal(t *testing.T) {
	it := NewIterator("/a/b")
	if it.IsAtFinal() {
		t.Error("first component of /a/b reported final")
	}
	if got := it.Component(); got != "a" {
		t.Errorf("Component() = %q, want a", got)
	}
	it.Next()
	if !it.IsAtFinal() {
		t.Error("second component of /a/b not reported final")
	}
	if got := it.Component(); got != "b" {
		t.Errorf("Component() = %q, want b", got)
	}
	it.Next()
	if !it.IsAtEnd() {
		t.Error("iterator not exhausted after final component")
	}
	if it.IsAtFinal() {
		t.Error("exhausted iterator reported final")
	}
}

// TestParentBaseJoin verifies the small path helpers agree with each other.
func TestParentBaseJoin(t *testing.T) {
	tests := []struct {
		path   string
		parent string
		base   string
	}{
		{"/a/b/c", "/a/b", "c"},
		{"/a", "/", "a"},
		{"/a/b", "/a", "b"},
	}

	for _, tt := range tests {
		if got := Parent(tt.path); got != tt.parent {
			t.Errorf("Parent(%q) = %q, want %q", tt.path, got, tt.parent)
		}
		if got := Base(tt.path); got != tt.base {
			t.Errorf("Base(%q) = %q, want %q", tt.path, got, tt.base)
		}
		if got := Join(tt.parent, tt.base); got != tt.path {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.parent, tt.base, got, tt.path)
		}
	}
}

// TestSplitIndex verifies index qualifier parsing on single components.
func TestSplitIndex(t *testing.T) {
	tests := []struct {
		comp     string
		base     string
		index    int
		hasIndex bool
	}{
		{"queue[2]", "queue", 2, true},
		{"queue[0]", "queue", 0, true},
		{"queue[12]", "queue", 12, true},
		{"queue", "queue", 0, false},
		{"[2]", "[2]", 0, false},
		{"queue[]", "queue[]", 0, false},
		{"queue[1x]", "queue[1x]", 0, false},
		{"q\\[2]", "q\\[2]", 0, false},
	}

	for _, tt := range tests {
		ic := SplitIndex(tt.comp)
		if ic.Base != tt.base || ic.Index != tt.index || ic.HasIndex != tt.hasIndex {
			t.Errorf("SplitIndex(%q) = %+v, want {%q %d %v}",
				tt.comp, ic, tt.base, tt.index, tt.hasIndex)
		}
	}
}

// TestJoinIndex verifies the inverse direction; index zero is the front and
// needs no qualifier.
func TestJoinIndex(t *testing.T) {
	if got := JoinIndex("queue", 0); got != "queue" {
		t.Errorf("JoinIndex(queue, 0) = %q", got)
	}
	if got := JoinIndex("queue", 3); got != "queue[3]" {
		t.Errorf("JoinIndex(queue, 3) = %q", got)
	}
}

// TestSplitFinalIndex verifies whole-path index splitting.
func TestSplitFinalIndex(t *testing.T) {
	p, ic := SplitFinalIndex("/a/queue[2]")
	if p != "/a/queue" || !ic.HasIndex || ic.Index != 2 {
		t.Errorf("SplitFinalIndex(/a/queue[2]) = %q, %+v", p, ic)
	}

	p, ic = SplitFinalIndex("/a/queue")
	if p != "/a/queue" || ic.HasIndex {
		t.Errorf("SplitFinalIndex(/a/queue) = %q, %+v", p, ic)
	}

	p, ic = SplitFinalIndex("/x[1]")
	if p != "/x" || ic.Index != 1 {
		t.Errorf("SplitFinalIndex(/x[1]) = %q, %+v", p, ic)
	}
}
