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

import "strconv"

// IndexedComponent is a path component split into its base name and an
// optional trailing index qualifier. "queue[2]" has base "queue" and
// index 2; "queue" has no index.
type IndexedComponent struct {
	Base     string
	Index    int
	HasIndex bool
}

// SplitIndex parses a trailing "[digits]" qualifier off a single
// component. The bracket must not open the component and the closing
// bracket must end it; anything else leaves the component untouched.
// An escaped bracket ("\[") never starts a qualifier.
func SplitIndex(component string) IndexedComponent {
	out := IndexedComponent{Base: component}
	if len(component) < 3 || component[len(component)-1] != ']' {
		return out
	}
	open := -1
	for i := 0; i < len(component); i++ {
		switch component[i] {
		case '\\':
			i++
		case '[':
			open = i
		}
	}
	if open <= 0 {
		return out
	}
	digits := component[open+1 : len(component)-1]
	if len(digits) == 0 {
		return out
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return out
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return out
	}
	out.Base = component[:open]
	out.Index = idx
	out.HasIndex = true
	return out
}

// JoinIndex appends an index qualifier to a base component. Index zero is
// the queue front and needs no qualifier, so JoinIndex(b, 0) returns b.
func JoinIndex(base string, index int) string {
	if index <= 0 {
		return base
	}
	return base + "[" + strconv.Itoa(index) + "]"
}

// SplitFinalIndex splits a whole concrete path into the path without its
// index qualifier and the parsed qualifier of the final component.
// "/a/queue[2]" yields ("/a/queue", {queue 2 true}).
func SplitFinalIndex(p string) (string, IndexedComponent) {
	base := Base(p)
	ic := SplitIndex(base)
	if !ic.HasIndex {
		return p, ic
	}
	parent := Parent(p)
	return Join(parent, ic.Base), ic
}
