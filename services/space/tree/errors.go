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
	"errors"
	"fmt"
)

// Sentinel errors for tree operations. The space facade re-exports these
// so callers can use errors.Is without importing this package.
var (
	// ErrNoSuchPath indicates no node exists at the requested path.
	ErrNoSuchPath = errors.New("path not found")

	// ErrNoObjectFound indicates the node exists but holds no entry
	// satisfying the request.
	ErrNoObjectFound = errors.New("no object found")

	// ErrTypeMismatch indicates the front entry's type differs from the
	// requested type. A mismatched front blocks typed extraction; the
	// queue is never scanned past it.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrInvalidSubcomponent indicates an intermediate path component
	// names a leaf that already holds data.
	ErrInvalidSubcomponent = errors.New("sub-component name is data")

	// ErrMalformedInput indicates the caller's data violates an
	// invariant, such as inserting through an index qualifier.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTimeout indicates a blocking deadline passed before the wait
	// condition was met.
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed indicates the tree has been shut down.
	ErrClosed = errors.New("space is shut down")

	// ErrPoolClosed indicates a task was submitted after pool shutdown.
	ErrPoolClosed = errors.New("task pool is shut down")
)

// ErrTaskPending wraps ErrNoObjectFound: a deferred task occupies the slot
// but has not completed, so a non-blocking caller sees "nothing here yet"
// while a WaitForExecution caller keeps waiting.
var ErrTaskPending = fmt.Errorf("%w: task pending", ErrNoObjectFound)
