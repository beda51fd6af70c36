package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded rejects a submission because the waiting queue is full.
	ErrCapacityExceeded = errors.New("max number of waiting print jobs exceeded")
	// ErrUnknownReference means the registry has no record for a reference id.
	ErrUnknownReference = errors.New("unknown print job reference")
	// ErrInterrupted resolves jobs that were cancelled by an executor shutdown.
	ErrInterrupted = errors.New("print job interrupted")
	// ErrShutdown rejects work submitted after shutdown.
	ErrShutdown = errors.New("job manager is shut down")
)

// ExecutionError wraps a failure raised by a job's Run.
type ExecutionError struct {
	ReferenceID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("print job %s failed: %v", e.ReferenceID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SerializationError means a status record could not be encoded or decoded.
// It indicates registry corruption or a defect in the status model.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("status record %s: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
