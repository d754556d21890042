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
	"time"

	"github.com/AleutianAI/pathspace/services/space/path"
	"github.com/AleutianAI/pathspace/services/space/tree"
)

// ValidationLevel selects how much path validation an operation pays
// for.
type ValidationLevel = path.Level

// Validation levels.
const (
	// ValidationStructural checks only the leading slash, trailing slash
	// and non-emptiness.
	ValidationStructural = path.LevelStructural
	// ValidationFull runs the entire grammar.
	ValidationFull = path.LevelFull
)

// Execution categories, re-exported from the tree so callers configure
// tasks without importing it.
const (
	ExecImmediate = tree.ExecImmediate
	ExecOnRead    = tree.ExecOnRead
	ExecPeriodic  = tree.ExecPeriodic
)

// Blocking behaviors, re-exported from the tree.
const (
	DontWait                     = tree.DontWait
	WaitForExistence             = tree.WaitForExistence
	WaitForExecution             = tree.WaitForExecution
	WaitForExecutionAndExistence = tree.WaitForExecutionAndExistence
)

// ExecutionOptions carries the execution schedule for a task entry. On a
// read it instead overrides how a still-pending deferred task is run:
// Time == ExecImmediate executes it synchronously on the caller's
// goroutine.
type ExecutionOptions struct {
	Time tree.ExecutionCategory

	// UpdateInterval is the re-execution period for ExecPeriodic tasks.
	UpdateInterval time.Duration

	// MaxExecutions bounds periodic executions; zero means unbounded.
	MaxExecutions int
}

// BlockOptions controls whether and how long an operation waits for its
// target.
type BlockOptions struct {
	Behavior tree.BlockBehavior

	// Timeout bounds the wait; zero waits until ctx cancellation.
	Timeout time.Duration
}

// InOptions configures one insert.
type InOptions struct {
	Execution    *ExecutionOptions
	Validation   ValidationLevel
	Capabilities *Capabilities
}

// ReadOptions configures one read.
type ReadOptions struct {
	Capabilities *Capabilities
	Execution    *ExecutionOptions
	Block        *BlockOptions

	// MaxBlobReads caps how many times the served entry may be read
	// before it is dropped; zero disables the cap.
	MaxBlobReads int
}

// TakeOptions configures one take.
type TakeOptions struct {
	Capabilities *Capabilities
	Block        *BlockOptions
	MaxBlobReads int

	// DoPop removes the served entry; false degrades the take to a
	// read. Defaults to true.
	DoPop bool
}

// InOption configures an insert.
type InOption interface{ applyIn(*InOptions) }

// ReadOption configures a read.
type ReadOption interface{ applyRead(*ReadOptions) }

// TakeOption configures a take.
type TakeOption interface{ applyTake(*TakeOptions) }

func buildInOptions(opts []InOption) InOptions {
	o := InOptions{Validation: ValidationFull}
	for _, opt := range opts {
		opt.applyIn(&o)
	}
	return o
}

func buildReadOptions(opts []ReadOption) ReadOptions {
	var o ReadOptions
	for _, opt := range opts {
		opt.applyRead(&o)
	}
	return o
}

func buildTakeOptions(opts []TakeOption) TakeOptions {
	o := TakeOptions{DoPop: true}
	for _, opt := range opts {
		opt.applyTake(&o)
	}
	return o
}

type capabilityOption struct{ caps *Capabilities }

func (o capabilityOption) applyIn(i *InOptions)     { i.Capabilities = o.caps }
func (o capabilityOption) applyRead(r *ReadOptions) { r.Capabilities = o.caps }
func (o capabilityOption) applyTake(t *TakeOptions) { t.Capabilities = o.caps }

// WithCapabilities restricts the operation to what the capability set
// allows. Valid on insert, read and take.
func WithCapabilities(caps *Capabilities) interface {
	InOption
	ReadOption
	TakeOption
} {
	return capabilityOption{caps: caps}
}

type executionOption struct{ e ExecutionOptions }

func (o executionOption) applyIn(i *InOptions)     { i.Execution = &o.e }
func (o executionOption) applyRead(r *ReadOptions) { r.Execution = &o.e }

// WithExecution sets the execution schedule for a task insert, or the
// execution override for a read.
func WithExecution(e ExecutionOptions) interface {
	InOption
	ReadOption
} {
	return executionOption{e: e}
}

type blockOption struct{ b BlockOptions }

func (o blockOption) applyRead(r *ReadOptions) { r.Block = &o.b }
func (o blockOption) applyTake(t *TakeOptions) { t.Block = &o.b }

// WithBlock makes the operation wait per the given behavior and timeout.
func WithBlock(b BlockOptions) interface {
	ReadOption
	TakeOption
} {
	return blockOption{b: b}
}

type maxBlobReadsOption struct{ n int }

func (o maxBlobReadsOption) applyRead(r *ReadOptions) { r.MaxBlobReads = o.n }
func (o maxBlobReadsOption) applyTake(t *TakeOptions) { t.MaxBlobReads = o.n }

// WithMaxBlobReads caps how many reads the served entry survives.
func WithMaxBlobReads(n int) interface {
	ReadOption
	TakeOption
} {
	return maxBlobReadsOption{n: n}
}

type validationOption struct{ level ValidationLevel }

func (o validationOption) applyIn(i *InOptions) { i.Validation = o.level }

// WithValidation selects the validation level for an insert. Reads and
// takes always validate fully.
func WithValidation(level ValidationLevel) InOption {
	return validationOption{level: level}
}

type noPopOption struct{}

func (noPopOption) applyTake(t *TakeOptions) { t.DoPop = false }

// WithoutPop turns a take into a peek: the entry is served but stays in
// the queue.
func WithoutPop() TakeOption {
	return noPopOption{}
}

// behavior returns the blocking behavior, or DontWait when no block
// options were supplied.
func (b *BlockOptions) behavior() tree.BlockBehavior {
	if b == nil {
		return tree.DontWait
	}
	return b.Behavior
}

// deadline converts the relative timeout into an absolute deadline. Zero
// means no deadline.
func (b *BlockOptions) deadline() time.Time {
	if b == nil || b.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(b.Timeout)
}
