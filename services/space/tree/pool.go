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
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var meter = otel.Meter("aleutian.space.tree")

// Pool runs deferred tasks on a fixed set of worker goroutines.
//
// Description:
//
//	Pool executes one-shot tasks submitted at insert or on first read,
//	and drives the rescheduling of periodic tasks. Completion of any task
//	notifies the pool's wait hook so blocked readers wake up.
//
// Thread Safety:
//
//	Pool is safe for concurrent use.
type Pool struct {
	logger *slog.Logger
	queue  chan *Task
	quit   chan struct{}
	closed atomic.Bool
	group  errgroup.Group

	baseCtx context.Context
	cancel  context.CancelFunc

	notify  func(path string)
	workers int

	executed atomic.Int64
	failed   atomic.Int64

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	taskLatency   metric.Float64Histogram
	taskSuccesses metric.Int64Counter
	taskFailures  metric.Int64Counter
	activeTasks   metric.Int64UpDownCounter
}

// NewPool creates a worker pool. A non-positive worker count defaults to
// GOMAXPROCS. The notify hook is called with a task's path after every
// execution; nil disables notification.
func NewPool(workers int, notify func(path string), logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		logger:  logger,
		queue:   make(chan *Task, 256),
		quit:    make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
		notify:  notify,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			p.worker()
			return nil
		})
	}
	return p
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (p *Pool) initMetrics() {
	p.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		p.taskLatency, err = meter.Float64Histogram("space_task_duration_seconds",
			metric.WithDescription("Time spent executing each deferred task"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_latency: "+err.Error())
		}

		p.taskSuccesses, err = meter.Int64Counter("space_task_success_total",
			metric.WithDescription("Number of successful task executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_successes: "+err.Error())
		}

		p.taskFailures, err = meter.Int64Counter("space_task_failure_total",
			metric.WithDescription("Number of failed task executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_failures: "+err.Error())
		}

		p.activeTasks, err = meter.Int64UpDownCounter("space_tasks_active",
			metric.WithDescription("Number of tasks currently executing"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_tasks: "+err.Error())
		}

		if len(initErrors) > 0 {
			p.logger.Warn("some task pool metrics failed to initialize",
				slog.String("errors", strings.Join(initErrors, "; ")))
		}
	})
}

// Submit queues a task for execution. The caller is responsible for
// winning TryStart first on one-shot tasks.
func (p *Pool) Submit(t *Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.queue <- t:
		return nil
	case <-p.quit:
		return ErrPoolClosed
	}
}

// SchedulePeriodic starts the interval loop for a periodic task. The first
// execution is the caller's submission; this loop handles every subsequent
// one until the budget is exhausted, the task is cancelled, or the pool
// shuts down.
func (p *Pool) SchedulePeriodic(t *Task) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.quit:
				return
			case <-t.Cancelled():
				return
			case <-ticker.C:
				if t.budgetExhausted() {
					return
				}
				if err := p.Submit(t); err != nil {
					return
				}
			}
		}
	}()
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.quit:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case t := <-p.queue:
					p.runTask(t)
				default:
					return
				}
			}
		case t := <-p.queue:
			p.runTask(t)
		}
	}
}

func (p *Pool) runTask(t *Task) {
	if t.category == ExecPeriodic && t.budgetExhausted() {
		return
	}
	p.initMetrics()

	ctx := p.baseCtx
	if p.activeTasks != nil {
		p.activeTasks.Add(ctx, 1)
		defer p.activeTasks.Add(ctx, -1)
	}

	start := time.Now()
	t.execute(ctx)
	elapsed := time.Since(start)

	if p.taskLatency != nil {
		p.taskLatency.Record(ctx, elapsed.Seconds())
	}
	if t.State() == TaskFailed {
		p.failed.Add(1)
		if p.taskFailures != nil {
			p.taskFailures.Add(ctx, 1)
		}
		_, err := t.Result()
		p.logger.Warn("task execution failed",
			slog.String("task_id", t.ID()),
			slog.String("path", t.notifyPath),
			slog.String("error", errString(err)))
	} else {
		p.executed.Add(1)
		if p.taskSuccesses != nil {
			p.taskSuccesses.Add(ctx, 1)
		}
		p.logger.Debug("task executed",
			slog.String("task_id", t.ID()),
			slog.String("path", t.notifyPath),
			slog.Duration("duration", elapsed))
	}

	if p.notify != nil && t.notifyPath != "" {
		p.notify(t.notifyPath)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Shutdown stops accepting tasks, drains queued work, and waits for the
// workers to exit. The context bounds the wait.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.quit)

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queue_depth"`
	Executed   int64 `json:"executed"`
	Failed     int64 `json:"failed"`
}

// Stats returns current pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		Executed:   p.executed.Load(),
		Failed:     p.failed.Load(),
	}
}
