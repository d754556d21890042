// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package space

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/pathspace/services/space/path"
)

// Capability is a bit set of allowed operation kinds.
type Capability int

const (
	// CapRead allows read and take.
	CapRead Capability = 1 << iota
	// CapWrite allows insert.
	CapWrite
	// CapExecute allows inserting task entries.
	CapExecute

	// CapAll allows everything.
	CapAll = CapRead | CapWrite | CapExecute
)

// String returns the capability names for logs and errors.
func (c Capability) String() string {
	if c == CapAll {
		return "all"
	}
	var names []string
	if c&CapRead != 0 {
		names = append(names, "read")
	}
	if c&CapWrite != 0 {
		names = append(names, "write")
	}
	if c&CapExecute != 0 {
		names = append(names, "execute")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Capabilities is a glob-keyed allow-list. An operation is allowed when
// at least one grant pattern matches the target path and carries the
// needed capability; a supplied but empty set refuses everything.
//
// Thread Safety:
//
//	Safe for concurrent use. Grants are typically installed once at
//	setup and checked on every operation.
type Capabilities struct {
	mu     sync.RWMutex
	grants []grant
}

type grant struct {
	pattern string
	caps    Capability
}

// NewCapabilities returns an empty allow-list.
func NewCapabilities() *Capabilities {
	return &Capabilities{}
}

// Grant allows the given capabilities on every path the glob pattern
// matches. Patterns with ** cover whole subtrees.
func (c *Capabilities) Grant(pattern string, caps Capability) error {
	if err := path.ValidateGlob(pattern); err != nil {
		return fmt.Errorf("capability pattern %q: %w: %w", pattern, ErrInvalidPath, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grants = append(c.grants, grant{pattern: pattern, caps: caps})
	return nil
}

// Allows reports whether the set permits the capability on the path.
// Glob operation targets are matched as written, so a grant needs ** (or
// an identical pattern) to cover them.
func (c *Capabilities) Allows(p string, want Capability) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.grants {
		if g.caps&want != want {
			continue
		}
		if g.pattern == p || path.MatchPaths(p, g.pattern) {
			return true
		}
	}
	return false
}

// check returns an ErrCapability error when a supplied set refuses the
// operation. A nil receiver is unrestricted.
func (c *Capabilities) check(p string, want Capability) error {
	if c == nil {
		return nil
	}
	if !c.Allows(p, want) {
		return fmt.Errorf("%q: %w: missing %s", p, ErrCapability, want)
	}
	return nil
}
