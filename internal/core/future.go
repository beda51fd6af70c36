package core

// Future is the pending outcome of a submitted job.
type Future struct {
	done   chan struct{}
	result Result
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the job has finished, failed or been interrupted.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves.
func (f *Future) Result() (Result, error) {
	<-f.done
	return f.result, f.err
}

// resolve must be called exactly once.
func (f *Future) resolve(r Result, err error) {
	f.result = r
	f.err = err
	close(f.done)
}
