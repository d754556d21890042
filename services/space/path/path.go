// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package path implements the grammar shared by every component of the space:
// validation of concrete and glob paths, component iteration, glob matching,
// and index-qualified component parsing.
//
// A concrete path is a fully specified address ("/a/b/c"). A glob path may
// additionally contain `*`, `?`, bracket character classes ("[abc]", "[!abc]",
// "[a-z]") and backslash-escaped literal metacharacters. All functions in this
// package are pure and safe for concurrent use.
package path

import "strings"

// Iterator walks the components of a slash-delimited path without
// allocating. Duplicate slashes are skipped, so "/a//b" yields the same
// components as "/a/b".
//
// Thread Safety:
//
//	An Iterator is a value type; each goroutine should use its own copy.
type Iterator struct {
	path  string
	start int
	end   int
}

// NewIterator returns an iterator positioned at the first component of p.
// The caller is expected to have validated p first; iterating an invalid
// path is safe but yields unspecified components.
func NewIterator(p string) Iterator {
	it := Iterator{path: p}
	it.start = skipSlashes(p, 0)
	it.end = componentEnd(p, it.start)
	return it
}

// Component returns the component under the cursor. Empty once the
// iterator is exhausted.
func (it *Iterator) Component() string {
	if it.start >= len(it.path) {
		return ""
	}
	return it.path[it.start:it.end]
}

// IsAtFinal reports whether the cursor is on the last component.
func (it *Iterator) IsAtFinal() bool {
	if it.IsAtEnd() {
		return false
	}
	return skipSlashes(it.path, it.end) >= len(it.path)
}

// IsAtEnd reports whether the iterator is exhausted.
func (it *Iterator) IsAtEnd() bool {
	return it.start >= len(it.path)
}

// Next advances the cursor to the following component.
func (it *Iterator) Next() {
	if it.IsAtEnd() {
		return
	}
	it.start = skipSlashes(it.path, it.end)
	it.end = componentEnd(it.path, it.start)
}

// Components splits p into its path components, skipping empty segments.
// "/a//b" yields ["a", "b"]; "/" yields nil.
func Components(p string) []string {
	var out []string
	for it := NewIterator(p); !it.IsAtEnd(); it.Next() {
		out = append(out, it.Component())
	}
	return out
}

// skipSlashes returns the first index at or after i that is not a '/'.
func skipSlashes(p string, i int) int {
	for i < len(p) && p[i] == '/' {
		i++
	}
	return i
}

// componentEnd returns the index of the first '/' at or after i, or len(p).
func componentEnd(p string, i int) int {
	for i < len(p) && p[i] != '/' {
		i++
	}
	return i
}

// IsGlob reports whether p contains unescaped glob metacharacters. A
// trailing "[digits]" on the final component is an index qualifier, not a
// glob (see SplitIndex), so "/queue[2]" is still concrete.
func IsGlob(p string) bool {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			// Escaped character: skip the escape and whatever follows.
			i++
		case '*', '?':
			return true
		case '[':
			if end, isIndex := indexQualifierEnd(p, i); isIndex {
				i = end
				continue
			}
			return true
		}
	}
	return false
}

// indexQualifierEnd checks whether the bracket opening at p[open] is an
// index qualifier: one or more digits followed by ']', where the ']' is
// either the last character of the component or of the whole path. It
// returns the index of the closing bracket and true when it is.
func indexQualifierEnd(p string, open int) (int, bool) {
	if open == 0 || p[open-1] == '/' {
		// A bracket cannot open a component; treat as a glob class.
		return 0, false
	}
	i := open + 1
	digits := 0
	for i < len(p) && p[i] >= '0' && p[i] <= '9' {
		digits++
		i++
	}
	if digits == 0 || i >= len(p) || p[i] != ']' {
		return 0, false
	}
	if i+1 < len(p) && p[i+1] != '/' {
		return 0, false
	}
	return i, true
}

// Parent returns the parent path of p, or "/" when p has a single
// component. Parent("/a/b") is "/a".
func Parent(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Base returns the final component of p. Base("/a/b") is "b".
func Base(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// Join concatenates a parent path and a child component.
func Join(parent, child string) string {
	if parent == "/" || parent == "" {
		return "/" + child
	}
	return parent + "/" + child
}
