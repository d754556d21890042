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
	"errors"

	"github.com/AleutianAI/pathspace/services/space/tree"
)

// Sentinel errors for space operations. Most originate in the tree and
// are re-exported here so callers match with errors.Is against a single
// package.
var (
	// ErrInvalidPath indicates the path string failed validation. The
	// wrapped chain carries the kind-coded validator error with the
	// offending byte offset.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCapability indicates the supplied capability set does not allow
	// the operation on the target path.
	ErrCapability = errors.New("capability refused")

	// ErrNoSuchPath indicates no node exists at the requested path.
	ErrNoSuchPath = tree.ErrNoSuchPath

	// ErrNoObjectFound indicates the node exists but holds no entry
	// satisfying the request.
	ErrNoObjectFound = tree.ErrNoObjectFound

	// ErrTypeMismatch indicates the front entry's type differs from the
	// requested type.
	ErrTypeMismatch = tree.ErrTypeMismatch

	// ErrMalformedInput indicates the caller's data violates an
	// invariant.
	ErrMalformedInput = tree.ErrMalformedInput

	// ErrInvalidPathSubcomponent indicates an intermediate path
	// component names a leaf that already holds data.
	ErrInvalidPathSubcomponent = tree.ErrInvalidSubcomponent

	// ErrTimeout indicates a blocking deadline passed before the wait
	// condition was met.
	ErrTimeout = tree.ErrTimeout

	// ErrClosed indicates the space has been shut down.
	ErrClosed = tree.ErrClosed
)
