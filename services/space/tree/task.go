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
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskState is the execution state of a deferred task.
type TaskState int32

const (
	TaskNotStarted TaskState = iota
	TaskStarting
	TaskRunning
	TaskCompleted
	TaskFailed
)

// String returns the state name for logs.
func (s TaskState) String() string {
	switch s {
	case TaskNotStarted:
		return "NotStarted"
	case TaskStarting:
		return "Starting"
	case TaskRunning:
		return "Running"
	case TaskCompleted:
		return "Completed"
	case TaskFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ExecutionCategory selects when a task's callable runs.
type ExecutionCategory int

const (
	// ExecImmediate submits the task to the worker pool at insert time.
	ExecImmediate ExecutionCategory = iota
	// ExecOnRead defers execution until the first read or take reaches
	// the slot.
	ExecOnRead
	// ExecPeriodic re-executes the task on a fixed interval until its
	// run budget is exhausted or it is cancelled.
	ExecPeriodic
)

// String returns the category name for logs.
func (c ExecutionCategory) String() string {
	switch c {
	case ExecImmediate:
		return "Immediate"
	case ExecOnRead:
		return "OnRead"
	case ExecPeriodic:
		return "Periodic"
	default:
		return "Unknown"
	}
}

// TaskConfig carries the execution schedule for a task.
type TaskConfig struct {
	Category ExecutionCategory
	// Interval is the re-execution period for ExecPeriodic tasks.
	Interval time.Duration
	// MaxRuns bounds periodic executions; zero means unbounded.
	MaxRuns int
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Task is a deferred callable occupying a queue slot until it produces a
// value.
//
// Description:
//
//	A task wraps a caller-supplied function of one of the shapes
//	func() T, func(context.Context) T, func() (T, error) or
//	func(context.Context) (T, error). The first execution transitions the
//	state NotStarted → Starting → Running → Completed/Failed exactly once;
//	periodic tasks then re-run on their interval, refreshing the result.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. State transitions use
//	atomics; result and error are guarded by an internal mutex.
type Task struct {
	id         string
	fn         reflect.Value
	wantsCtx   bool
	returnsErr bool
	resultType reflect.Type
	category   ExecutionCategory
	interval   time.Duration
	maxRuns    int
	notifyPath string

	state atomic.Int32

	mu     sync.Mutex
	result any
	err    error
	runs   int

	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTask validates the callable's shape and wraps it. Unsupported shapes
// return ErrMalformedInput; a periodic config without a positive interval
// does too.
func NewTask(fn any, cfg TaskConfig) (*Task, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: task is not a function", ErrMalformedInput)
	}
	ft := v.Type()

	wantsCtx := false
	switch ft.NumIn() {
	case 0:
	case 1:
		if ft.In(0) != ctxType {
			return nil, fmt.Errorf("%w: task parameter must be context.Context", ErrMalformedInput)
		}
		wantsCtx = true
	default:
		return nil, fmt.Errorf("%w: task takes at most one parameter", ErrMalformedInput)
	}

	returnsErr := false
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errType {
			return nil, fmt.Errorf("%w: task's second return must be error", ErrMalformedInput)
		}
		returnsErr = true
	default:
		return nil, fmt.Errorf("%w: task must return one value, optionally with an error", ErrMalformedInput)
	}

	if cfg.Category == ExecPeriodic && cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: periodic task needs a positive interval", ErrMalformedInput)
	}

	return &Task{
		id:         uuid.New().String(),
		fn:         v,
		wantsCtx:   wantsCtx,
		returnsErr: returnsErr,
		resultType: ft.Out(0),
		category:   cfg.Category,
		interval:   cfg.Interval,
		maxRuns:    cfg.MaxRuns,
		done:       make(chan struct{}),
		stop:       make(chan struct{}),
	}, nil
}

// ID returns the task's identifier.
func (t *Task) ID() string { return t.id }

// ResultType returns the static type the task will produce.
func (t *Task) ResultType() reflect.Type { return t.resultType }

// Category returns the task's execution category.
func (t *Task) Category() ExecutionCategory { return t.category }

// State returns the current execution state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// TryStart attempts the NotStarted → Starting transition. Only one caller
// wins; everyone else observes the task as already started.
func (t *Task) TryStart() bool {
	return t.state.CompareAndSwap(int32(TaskNotStarted), int32(TaskStarting))
}

// execute runs the callable once and records the outcome. Called from
// pool workers and from synchronous-execution reads.
func (t *Task) execute(ctx context.Context) {
	t.state.Store(int32(TaskRunning))

	out, err := t.call(ctx)

	t.mu.Lock()
	t.runs++
	if err != nil {
		t.err = err
		t.state.Store(int32(TaskFailed))
	} else {
		t.result = out
		t.err = nil
		t.state.Store(int32(TaskCompleted))
	}
	t.mu.Unlock()

	t.doneOnce.Do(func() { close(t.done) })
}

// call invokes the wrapped function, recovering panics into errors so a
// misbehaving task cannot take a worker down.
func (t *Task) call(ctx context.Context) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	var args []reflect.Value
	if t.wantsCtx {
		args = []reflect.Value{reflect.ValueOf(ctx)}
	}
	rets := t.fn.Call(args)
	if t.returnsErr && !rets[1].IsNil() {
		return nil, rets[1].Interface().(error)
	}
	return rets[0].Interface(), nil
}

// Result returns the latest result and error under the task's own lock.
func (t *Task) Result() (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Runs returns how many times the callable has executed.
func (t *Task) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Done exposes the first-completion channel; it is closed after the first
// terminal state, successful or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the first completion, the deadline, or ctx
// cancellation. A zero deadline waits indefinitely (subject to ctx).
func (t *Task) Wait(ctx context.Context, deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-t.done:
		return nil
	case <-timeout:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops a periodic task's rescheduling. One-shot tasks already in
// flight finish normally.
func (t *Task) Cancel() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Cancelled exposes the cancellation channel for schedulers.
func (t *Task) Cancelled() <-chan struct{} { return t.stop }

// budgetExhausted reports whether a periodic task has used up its run
// budget.
func (t *Task) budgetExhausted() bool {
	if t.maxRuns <= 0 {
		return false
	}
	return t.Runs() >= t.maxRuns
}
