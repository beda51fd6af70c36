package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_DispatchesByPriority(t *testing.T) {
	e := NewExecutor(1, time.Minute, ByPriority)
	t.Cleanup(func() { e.ShutdownNow() })

	started := make(chan struct{})
	release := make(chan struct{})
	fa, err := e.Submit(blockingJob("a", started, release))
	require.NoError(t, err)
	<-started

	rec := &recorder{}
	mk := func(ref string, p int) *testJob {
		return &testJob{ref: ref, priority: p, run: func(context.Context) (Result, error) {
			rec.add(ref)
			return Result{}, nil
		}}
	}

	fc, err := e.Submit(mk("c", 1))
	require.NoError(t, err)
	fb, err := e.Submit(mk("b", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, e.Len())

	close(release)
	for _, f := range []*Future{fa, fb, fc} {
		_, err := f.Result()
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "c"}, rec.snapshot())
}

func TestExecutor_EqualPriorityIsFIFO(t *testing.T) {
	e := NewExecutor(1, time.Minute, ByPriority)
	t.Cleanup(func() { e.ShutdownNow() })

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := e.Submit(blockingJob("blocker", started, release))
	require.NoError(t, err)
	<-started

	rec := &recorder{}
	var futures []*Future
	for _, ref := range []string{"1", "2", "3", "4"} {
		ref := ref
		f, err := e.Submit(&testJob{ref: ref, run: func(context.Context) (Result, error) {
			rec.add(ref)
			return Result{}, nil
		}})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	close(release)
	for _, f := range futures {
		<-f.Done()
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, rec.snapshot())
}

func TestExecutor_JobsRunBeforeTasks(t *testing.T) {
	e := NewExecutor(1, time.Minute, ByPriority)
	t.Cleanup(func() { e.ShutdownNow() })

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := e.Submit(blockingJob("blocker", started, release))
	require.NoError(t, err)
	<-started

	rec := &recorder{}
	taskDone := make(chan struct{})
	require.NoError(t, e.Execute(func(context.Context) {
		rec.add("task")
		close(taskDone)
	}))
	f, err := e.Submit(&testJob{ref: "job", priority: -10, run: func(context.Context) (Result, error) {
		rec.add("job")
		return Result{}, nil
	}})
	require.NoError(t, err)

	close(release)
	<-f.Done()
	<-taskDone
	assert.Equal(t, []string{"job", "task"}, rec.snapshot())
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	e := NewExecutor(2, time.Minute, nil)
	t.Cleanup(func() { e.ShutdownNow() })

	release := make(chan struct{})
	var futures []*Future
	for _, ref := range []string{"a", "b", "c", "d"} {
		f, err := e.Submit(blockingJob(ref, nil, release))
		require.NoError(t, err)
		futures = append(futures, f)
	}

	require.Eventually(t, func() bool { return e.Running() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, e.Workers())
	assert.Equal(t, 2, e.Len())

	close(release)
	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}
}

func TestExecutor_IdleWorkersExit(t *testing.T) {
	e := NewExecutor(3, 20*time.Millisecond, nil)
	t.Cleanup(func() { e.ShutdownNow() })

	f, err := e.Submit(&testJob{ref: "quick"})
	require.NoError(t, err)
	res, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/quick.tspl", res.ReportURI)

	require.Eventually(t, func() bool { return e.Workers() == 0 }, time.Second, 5*time.Millisecond)

	// A fresh submission starts a new worker.
	f, err = e.Submit(&testJob{ref: "again"})
	require.NoError(t, err)
	_, err = f.Result()
	require.NoError(t, err)
}

func TestExecutor_FailureBecomesExecutionError(t *testing.T) {
	e := NewExecutor(1, time.Minute, nil)
	t.Cleanup(func() { e.ShutdownNow() })

	boom := errors.New("printer on fire")
	f, err := e.Submit(&testJob{ref: "x", run: func(context.Context) (Result, error) {
		return Result{}, boom
	}})
	require.NoError(t, err)

	_, err = f.Result()
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "x", execErr.ReferenceID)
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_PanicIsContained(t *testing.T) {
	e := NewExecutor(1, time.Minute, nil)
	t.Cleanup(func() { e.ShutdownNow() })

	f, err := e.Submit(&testJob{ref: "p", run: func(context.Context) (Result, error) {
		panic("bad template")
	}})
	require.NoError(t, err)

	_, err = f.Result()
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, err.Error(), "bad template")

	// The worker survived and keeps serving.
	f, err = e.Submit(&testJob{ref: "after"})
	require.NoError(t, err)
	_, err = f.Result()
	assert.NoError(t, err)
}

func TestExecutor_ShutdownNowInterrupts(t *testing.T) {
	e := NewExecutor(1, time.Minute, nil)

	started := make(chan struct{})
	running, err := e.Submit(blockingJob("running", started, make(chan struct{})))
	require.NoError(t, err)
	<-started
	waiting, err := e.Submit(&testJob{ref: "waiting"})
	require.NoError(t, err)

	assert.Equal(t, 1, e.ShutdownNow())
	assert.True(t, e.IsShutdown())

	_, err = waiting.Result()
	assert.ErrorIs(t, err, ErrInterrupted)
	_, err = running.Result()
	assert.ErrorIs(t, err, ErrInterrupted)

	_, err = e.Submit(&testJob{ref: "late"})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, e.Execute(func(context.Context) {}), ErrShutdown)

	e.Wait()
	assert.Equal(t, 0, e.Workers())
	assert.Equal(t, 0, e.ShutdownNow())
}

func TestExecutor_WaitingCountsJobsOnly(t *testing.T) {
	e := NewExecutor(1, time.Minute, nil)
	t.Cleanup(func() { e.ShutdownNow() })

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := e.Submit(blockingJob("a", started, release))
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Execute(func(context.Context) {}))
	_, err = e.Submit(&testJob{ref: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Len())
	assert.Equal(t, 1, e.Waiting())

	close(release)
	require.Eventually(t, func() bool { return e.Len() == 0 }, time.Second, time.Millisecond)
	assert.Zero(t, e.Waiting())

	started = make(chan struct{})
	_, err = e.Submit(blockingJob("c", started, make(chan struct{})))
	require.NoError(t, err)
	<-started
	_, err = e.Submit(&testJob{ref: "d"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Waiting())
	assert.Equal(t, 1, e.ShutdownNow())
	assert.Zero(t, e.Waiting())
}
