package core

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type entryKind int

const (
	// kindJob entries always run before kindTask entries.
	kindJob entryKind = iota
	kindTask
)

// entry is a waiting queue item. kind is the leading ordering key, so the
// queue never needs to inspect what it holds beyond this tag.
type entry struct {
	kind   entryKind
	job    Job
	future *Future
	task   func(ctx context.Context)
	seq    uint64
}

type entryHeap struct {
	items []*entry
	cmp   Comparator
}

func (h *entryHeap) Len() int { return len(h.items) }

func (h *entryHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.kind == kindJob {
		if c := h.cmp(a.job, b.job); c != 0 {
			return c < 0
		}
	}
	return a.seq < b.seq
}

func (h *entryHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *entryHeap) Push(x any) { h.items = append(h.items, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return e
}

// Executor runs jobs on at most maxWorkers goroutines, feeding them from a
// priority-ordered waiting queue. Workers are started on demand and exit
// after idleTimeout without work, so an idle executor holds no goroutines.
type Executor struct {
	maxWorkers  int
	idleTimeout time.Duration

	mu       sync.Mutex
	queue    entryHeap
	seq      uint64
	jobs     int // waiting kindJob entries
	workers  int
	idle     int
	running  int
	shutdown bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor creates an executor. A nil comparator means Unordered.
func NewExecutor(maxWorkers int, idleTimeout time.Duration, cmp Comparator) *Executor {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	if cmp == nil {
		cmp = Unordered
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		maxWorkers:  maxWorkers,
		idleTimeout: idleTimeout,
		queue:       entryHeap{cmp: cmp},
		wake:        make(chan struct{}, maxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Submit queues job and returns its future. It never waits for a free worker.
func (e *Executor) Submit(job Job) (*Future, error) {
	f := newFuture()
	if err := e.enqueue(&entry{kind: kindJob, job: job, future: f}); err != nil {
		return nil, err
	}
	return f, nil
}

// Execute queues internal work. It ranks below every job.
func (e *Executor) Execute(task func(ctx context.Context)) error {
	return e.enqueue(&entry{kind: kindTask, task: task})
}

func (e *Executor) enqueue(en *entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shutdown {
		return ErrShutdown
	}

	e.seq++
	en.seq = e.seq
	heap.Push(&e.queue, en)
	if en.kind == kindJob {
		e.jobs++
	}

	if e.idle > 0 {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
	if e.queue.Len() > e.idle && e.workers < e.maxWorkers {
		e.workers++
		e.wg.Add(1)
		go e.worker()
	}
	return nil
}

// Len is the number of entries waiting for a worker, tasks included.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Waiting is the number of jobs waiting for a worker. Queued tasks are
// not counted.
func (e *Executor) Waiting() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs
}

// Workers is the number of live worker goroutines.
func (e *Executor) Workers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers
}

// Running is the number of entries currently executing.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown
}

// ShutdownNow stops accepting work, cancels running jobs and resolves every
// waiting job as interrupted. It does not wait for workers to exit; use Wait
// for that. It returns the number of entries that never ran.
func (e *Executor) ShutdownNow() int {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return 0
	}
	e.shutdown = true
	drained := e.queue.items
	e.queue.items = nil
	e.jobs = 0
	e.mu.Unlock()

	e.cancel()
	for _, en := range drained {
		if en.future != nil {
			en.future.resolve(Result{}, ErrInterrupted)
		}
	}
	return len(drained)
}

// Wait blocks until every worker goroutine has exited.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		en, ok := e.next()
		if !ok {
			return
		}
		e.run(en)

		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}
}

// next pops the highest ranked entry, waiting up to idleTimeout for one.
// It returns false when the worker should exit.
func (e *Executor) next() (*entry, bool) {
	timer := time.NewTimer(e.idleTimeout)
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.shutdown {
			e.workers--
			return nil, false
		}
		if e.queue.Len() > 0 {
			e.running++
			en := heap.Pop(&e.queue).(*entry)
			if en.kind == kindJob {
				e.jobs--
			}
			return en, true
		}

		e.idle++
		e.mu.Unlock()
		timedOut := false
		select {
		case <-e.wake:
		case <-timer.C:
			timedOut = true
		case <-e.ctx.Done():
		}
		e.mu.Lock()
		e.idle--

		if timedOut && e.queue.Len() == 0 && !e.shutdown {
			e.workers--
			return nil, false
		}
		if timedOut {
			timer.Reset(e.idleTimeout)
		}
	}
}

func (e *Executor) run(en *entry) {
	if en.kind == kindTask {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("component", "jobs").
					Interface("panic", r).
					Msg("Background task panicked")
			}
		}()
		en.task(e.ctx)
		return
	}

	res, err := e.runJob(en.job)
	if err != nil {
		if e.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %v", ErrInterrupted, err)
		} else {
			err = &ExecutionError{ReferenceID: en.job.ReferenceID(), Err: err}
		}
	}
	en.future.resolve(res, err)
}

func (e *Executor) runJob(job Job) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "jobs").
				Str("reference_id", job.ReferenceID()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Print job panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(e.ctx)
}
