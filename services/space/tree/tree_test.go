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
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr := New(Config{Workers: 2})
	t.Cleanup(func() { _ = tr.Shutdown(context.Background()) })
	return tr
}

func read(tr *Tree, p string, typ reflect.Type) (any, string, error) {
	return tr.Out(context.Background(), OutRequest{Path: p, Type: typ})
}

func take(tr *Tree, p string, typ reflect.Type) (any, string, error) {
	return tr.Out(context.Background(), OutRequest{Path: p, Type: typ, Pop: true})
}

func TestInsertReadTakeRoundTrip(t *testing.T) {
	tr := newTestTree(t)

	st := tr.Insert("/x", NewValueEntry(42))
	require.Empty(t, st.Errors)
	assert.Equal(t, 1, st.ValuesInserted)
	assert.Equal(t, []string{"/x"}, st.Paths)

	// Read is non-destructive.
	for i := 0; i < 2; i++ {
		v, p, err := read(tr, "/x", reflect.TypeOf(0))
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, "/x", p)
	}

	v, _, err := take(tr, "/x", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, _, err = take(tr, "/x", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

func TestTakeAtIndex(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/x", NewValueEntry("a"))
	tr.Insert("/x", NewValueEntry("b"))

	v, p, err := take(tr, "/x[1]", reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, "/x", p)

	// The front entry was untouched.
	v, _, err = take(tr, "/x", reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, _, err = take(tr, "/x", reflect.TypeOf(""))
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

func TestTakeIndexBeyondQueue(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/x", NewValueEntry(1))

	_, _, err := take(tr, "/x[5]", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNoObjectFound)

	// The miss must not consume anything.
	v, _, err := take(tr, "/x[0]", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGlobInsertFanOut(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/x", NewValueEntry(1))
	tr.Insert("/a/y", NewValueEntry(2))

	st := tr.Insert("/a/*", NewValueEntry(99))
	require.Empty(t, st.Errors)
	assert.Equal(t, 2, st.ValuesInserted)
	assert.Equal(t, []string{"/a/x", "/a/y"}, st.Paths)

	// Both leaves appended behind their existing entries.
	v, _, err := take(tr, "/a/x", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, _, err = take(tr, "/a/x", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 99, v)

	// A glob that matches nothing is a silent no-op and creates no nodes.
	st = tr.Insert("/b/*", NewValueEntry(5))
	require.Empty(t, st.Errors)
	assert.Zero(t, st.ValuesInserted)
	assert.Empty(t, tr.ListPaths("/b/*"))

	_, _, err = read(tr, "/a/z", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

func TestLeafWithDataBlocksDeeperInsert(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a", NewValueEntry(1))

	st := tr.Insert("/a/b", NewValueEntry(2))
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrInvalidSubcomponent)
	assert.Zero(t, st.ValuesInserted)

	_, _, err := read(tr, "/a/b", nil)
	assert.ErrorIs(t, err, ErrInvalidSubcomponent)
}

func TestDataAndChildrenCoexist(t *testing.T) {
	tr := newTestTree(t)
	// Structure first, then data on the intermediate node: reads still
	// reach the children, but no new structure may grow below it.
	tr.Insert("/a/b", NewValueEntry(1))
	st := tr.Insert("/a", NewValueEntry(9))
	require.Empty(t, st.Errors)

	v, _, err := read(tr, "/a/b", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	st = tr.Insert("/a/c", NewValueEntry(2))
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrInvalidSubcomponent)
}

func TestTypeMismatchFrontBlocks(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/x", NewValueEntry("front"))
	tr.Insert("/x", NewValueEntry(42))

	// A typed take never scans past a mismatched front entry.
	_, _, err := take(tr, "/x", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	v, _, err := take(tr, "/x", reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "front", v)

	v, _, err = take(tr, "/x", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGlobTakeServesSmallestMatch(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/bb", NewValueEntry(2))
	tr.Insert("/a/aa", NewValueEntry(1))

	v, p, err := take(tr, "/a/*", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, "/a/aa", p)
}

func TestGlobTakeSkipsMismatchedLeaves(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/q/aa", NewValueEntry("text"))
	tr.Insert("/q/bb", NewValueEntry(7))

	v, p, err := take(tr, "/q/*", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, "/q/bb", p)

	// Every remaining match has the wrong type.
	_, _, err = take(tr, "/q/*", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrTypeMismatch)

	// No candidates at all.
	_, _, err = take(tr, "/zz/*", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

func TestGlobOnIntermediateComponentRejected(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/b/c", NewValueEntry(1))

	_, _, err := read(tr, "/a/*/c", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

func TestReadRootRejected(t *testing.T) {
	tr := newTestTree(t)
	_, _, err := read(tr, "/", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)
}

func TestInterfaceTypeRequest(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/err", NewValueEntry(errors.New("stored")))

	want := reflect.TypeOf((*error)(nil)).Elem()
	v, _, err := read(tr, "/err", want)
	require.NoError(t, err)
	assert.Equal(t, "stored", v.(error).Error())

	// nil type accepts anything.
	tr.Insert("/any", NewValueEntry(3.14))
	v, _, err = read(tr, "/any", nil)
	require.NoError(t, err)
	assert.Equal(t, 3.14, v)
}

func TestBlockingTakeWokenByInsert(t *testing.T) {
	tr := newTestTree(t)

	type result struct {
		v   any
		err error
	}
	got := make(chan result, 1)
	go func() {
		v, _, err := tr.Out(context.Background(), OutRequest{
			Path:     "/slow",
			Type:     reflect.TypeOf(0),
			Pop:      true,
			Behavior: WaitForExistence,
			Deadline: time.Now().Add(5 * time.Second),
		})
		got <- result{v, err}
	}()

	time.Sleep(30 * time.Millisecond)
	tr.Insert("/slow", NewValueEntry(77))

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, 77, r.v)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked take never woke up")
	}
}

func TestBlockingGlobWaiterWokenByConcreteInsert(t *testing.T) {
	tr := newTestTree(t)

	got := make(chan any, 1)
	go func() {
		v, _, _ := tr.Out(context.Background(), OutRequest{
			Path:     "/jobs/*",
			Type:     reflect.TypeOf(""),
			Pop:      true,
			Behavior: WaitForExistence,
			Deadline: time.Now().Add(5 * time.Second),
		})
		got <- v
	}()

	time.Sleep(30 * time.Millisecond)
	tr.Insert("/jobs/7", NewValueEntry("payload"))

	select {
	case v := <-got:
		assert.Equal(t, "payload", v)
	case <-time.After(2 * time.Second):
		t.Fatal("glob waiter never woke up")
	}
}

func TestBlockingTimeoutWrapsLastError(t *testing.T) {
	tr := newTestTree(t)

	start := time.Now()
	_, _, err := tr.Out(context.Background(), OutRequest{
		Path:     "/never",
		Behavior: WaitForExistence,
		Deadline: time.Now().Add(40 * time.Millisecond),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrNoSuchPath)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDontWaitMissesFast(t *testing.T) {
	tr := newTestTree(t)
	start := time.Now()
	_, _, err := read(tr, "/missing", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)
	assert.Less(t, time.Since(start), time.Second)
}

func TestImmediateTaskRunsOnInsert(t *testing.T) {
	tr := newTestTree(t)
	task, err := NewTask(func() int { return 7 }, TaskConfig{})
	require.NoError(t, err)

	st := tr.Insert("/calc", NewTaskEntry(task))
	require.Empty(t, st.Errors)
	assert.Equal(t, 1, st.TasksInserted)

	v, _, err := tr.Out(context.Background(), OutRequest{
		Path:     "/calc",
		Type:     reflect.TypeOf(0),
		Behavior: WaitForExecutionAndExistence,
		Deadline: time.Now().Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, TaskCompleted, task.State())

	// The slot is now a plain value.
	v, _, err = read(tr, "/calc", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestOnReadTaskDeferredUntilRead(t *testing.T) {
	tr := newTestTree(t)
	var calls atomic.Int32
	task, err := NewTask(func() int { calls.Add(1); return 9 },
		TaskConfig{Category: ExecOnRead})
	require.NoError(t, err)

	tr.Insert("/lazy", NewTaskEntry(task))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "insert must not trigger an on-read task")
	assert.Equal(t, TaskNotStarted, task.State())

	v, _, err := tr.Out(context.Background(), OutRequest{
		Path:     "/lazy",
		Type:     reflect.TypeOf(0),
		Behavior: WaitForExecution,
		Deadline: time.Now().Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSyncExecutionRunsOnReadTaskInline(t *testing.T) {
	tr := newTestTree(t)
	var calls atomic.Int32
	task, err := NewTask(func() int { calls.Add(1); return 7 },
		TaskConfig{Category: ExecOnRead})
	require.NoError(t, err)

	tr.Insert("/inline", NewTaskEntry(task))

	// No blocking options: the read itself runs the task on this
	// goroutine and serves the result in the same call.
	v, p, err := tr.Out(context.Background(), OutRequest{
		Path:          "/inline",
		Type:          reflect.TypeOf(0),
		SyncExecution: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, "/inline", p)
	assert.Equal(t, int32(1), calls.Load())

	v, _, err = tr.Out(context.Background(), OutRequest{
		Path:          "/inline",
		Type:          reflect.TypeOf(0),
		SyncExecution: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(1), calls.Load(), "completed slot must not re-run")
}

func TestPendingTaskDontWait(t *testing.T) {
	tr := newTestTree(t)
	release := make(chan struct{})
	task, err := NewTask(func() int { <-release; return 5 }, TaskConfig{})
	require.NoError(t, err)

	tr.Insert("/busy", NewTaskEntry(task))
	time.Sleep(20 * time.Millisecond)

	_, _, err = read(tr, "/busy", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrTaskPending)
	assert.ErrorIs(t, err, ErrNoObjectFound)

	close(release)
	v, _, err := tr.Out(context.Background(), OutRequest{
		Path:     "/busy",
		Type:     reflect.TypeOf(0),
		Behavior: WaitForExecution,
		Deadline: time.Now().Add(2 * time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestPeriodicTaskRefreshesResult(t *testing.T) {
	tr := newTestTree(t)
	var n atomic.Int32
	task, err := NewTask(func() int { return int(n.Add(1)) },
		TaskConfig{Category: ExecPeriodic, Interval: 10 * time.Millisecond, MaxRuns: 3})
	require.NoError(t, err)

	tr.Insert("/ticker", NewTaskEntry(task))

	require.Eventually(t, func() bool {
		v, _, err := read(tr, "/ticker", reflect.TypeOf(0))
		return err == nil && v.(int) >= 2
	}, 2*time.Second, 5*time.Millisecond, "periodic result should refresh")

	require.Eventually(t, func() bool { return task.Runs() == 3 },
		2*time.Second, 5*time.Millisecond)

	// Take serves the latest value and stops the schedule.
	v, _, err := take(tr, "/ticker", reflect.TypeOf(0))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.(int), 1)

	_, _, err = read(tr, "/ticker", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNoObjectFound)

	select {
	case <-task.Cancelled():
	default:
		t.Error("take should cancel a periodic task")
	}
}

func TestFailedTaskPopsSlot(t *testing.T) {
	tr := newTestTree(t)
	task, err := NewTask(func() (int, error) { return 0, errors.New("bad calc") }, TaskConfig{})
	require.NoError(t, err)

	tr.Insert("/bad", NewTaskEntry(task))
	require.NoError(t, task.Wait(context.Background(), time.Now().Add(2*time.Second)))

	_, _, err = read(tr, "/bad", reflect.TypeOf(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad calc")

	// The poisoned slot is gone; the queue is usable again.
	_, _, err = read(tr, "/bad", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

func TestInsertTaskThroughGlobRejected(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/x", NewValueEntry(1))

	task, err := NewTask(func() int { return 1 }, TaskConfig{})
	require.NoError(t, err)

	st := tr.Insert("/a/*", NewTaskEntry(task))
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrMalformedInput)
	assert.Zero(t, st.TasksInserted)
}

func TestInsertAtIndexQualifiedPathRejected(t *testing.T) {
	tr := newTestTree(t)
	st := tr.Insert("/x[0]", NewValueEntry(1))
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrMalformedInput)
}

func TestMaxReadsDropsEntryAfterCap(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/blob", NewValueEntry("data"))

	req := OutRequest{Path: "/blob", Type: reflect.TypeOf(""), MaxReads: 2}
	for i := 0; i < 2; i++ {
		v, _, err := tr.Out(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "data", v)
	}
	_, _, err := tr.Out(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoObjectFound)
}

func TestClearResetsTreeAndBumpsEpoch(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/b", NewValueEntry(1))
	tr.Insert("/c", NewValueEntry(2))

	before := tr.Epoch()
	tr.Clear()
	assert.Equal(t, before+1, tr.Epoch())
	assert.Empty(t, tr.ListPaths(""))

	_, _, err := read(tr, "/a/b", nil)
	assert.ErrorIs(t, err, ErrNoSuchPath)

	st := tr.Stats()
	assert.Zero(t, st.Nodes)
	assert.Zero(t, st.Entries)
}

func TestShutdownUnblocksWaitersAndRejectsOps(t *testing.T) {
	tr := New(Config{Workers: 1})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := tr.Out(context.Background(), OutRequest{
			Path:     "/missing",
			Behavior: WaitForExistence,
			Deadline: time.Now().Add(5 * time.Second),
		})
		errCh <- err
	}()
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, tr.Shutdown(context.Background()))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown left a waiter blocked")
	}

	st := tr.Insert("/y", NewValueEntry(2))
	require.Len(t, st.Errors, 1)
	assert.ErrorIs(t, st.Errors[0], ErrClosed)

	_, _, err := read(tr, "/y", nil)
	assert.ErrorIs(t, err, ErrClosed)

	// Idempotent.
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestStatsCensus(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/a/b", NewValueEntry(1))
	tr.Insert("/a/b", NewValueEntry(2))
	tr.Insert("/a/c", NewValueEntry(3))

	task, err := NewTask(func() int { return 0 }, TaskConfig{Category: ExecOnRead})
	require.NoError(t, err)
	tr.Insert("/t", NewTaskEntry(task))

	st := tr.Stats()
	assert.Equal(t, 4, st.Nodes)
	assert.Equal(t, 4, st.Entries)
	assert.Equal(t, 1, st.Tasks)
	assert.Equal(t, 2, st.Pool.Workers)
}

func TestListPaths(t *testing.T) {
	tr := newTestTree(t)
	tr.Insert("/sys/cpu", NewValueEntry(1))
	tr.Insert("/sys/mem", NewValueEntry(2))
	tr.Insert("/app/log", NewValueEntry(3))

	assert.Equal(t, []string{"/app/log", "/sys/cpu", "/sys/mem"}, tr.ListPaths(""))
	assert.Equal(t, []string{"/sys/cpu", "/sys/mem"}, tr.ListPaths("/sys/*"))
	assert.Empty(t, tr.ListPaths("/nope/*"))
}

func TestConcurrentInsertTake(t *testing.T) {
	tr := newTestTree(t)
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Insert("/q", NewValueEntry(i))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		v, _, err := take(tr, "/q", reflect.TypeOf(0))
		require.NoError(t, err)
		seen[v.(int)] = true
	}
	assert.Len(t, seen, n, "every inserted value taken exactly once")

	_, _, err := take(tr, "/q", reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNoObjectFound)
}
