package core

import (
	"context"
	"errors"
	"sync"

	"github.com/orrn/printspool/internal/registry"
)

type testJob struct {
	ref      string
	app      string
	priority int
	run      func(ctx context.Context) (Result, error)
}

func (j *testJob) ReferenceID() string { return j.ref }
func (j *testJob) AppID() string       { return j.app }
func (j *testJob) Priority() int       { return j.priority }

func (j *testJob) Run(ctx context.Context) (Result, error) {
	if j.run == nil {
		return Result{ReportURI: "file:///tmp/" + j.ref + ".tspl", MimeType: "application/x-tspl"}, nil
	}
	return j.run(ctx)
}

// blockingJob runs until release is closed or its context is cancelled.
func blockingJob(ref string, started chan<- struct{}, release <-chan struct{}) *testJob {
	return &testJob{ref: ref, run: func(ctx context.Context) (Result, error) {
		if started != nil {
			close(started)
		}
		select {
		case <-release:
			return Result{ReportURI: "file:///tmp/" + ref}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}}
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed []*Completed
	failed    []*Failed
}

func (n *fakeNotifier) JobCompleted(c *Completed) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, c)
}

func (n *fakeNotifier) JobFailed(f *Failed) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, f)
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.completed), len(n.failed)
}

// failOnceRegistry fails the first Put of each key in failKeys.
type failOnceRegistry struct {
	*registry.Memory

	mu       sync.Mutex
	failKeys map[string]bool
}

func (r *failOnceRegistry) Put(ctx context.Context, key, value string) error {
	r.mu.Lock()
	fail := r.failKeys[key]
	delete(r.failKeys, key)
	r.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return r.Memory.Put(ctx, key, value)
}
