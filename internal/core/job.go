package core

import (
	"cmp"
	"context"
)

// Job is a unit of print work. A Job is immutable once submitted.
type Job interface {
	// ReferenceID is the caller-assigned identifier used for polling.
	ReferenceID() string
	// AppID identifies the owning application or template.
	AppID() string
	// Run executes the job synchronously. ctx is cancelled when the
	// executor is shut down.
	Run(ctx context.Context) (Result, error)
}

// Result is what a successful Job produced.
type Result struct {
	ReportURI string
	MimeType  string
}

// Prioritized is implemented by jobs that carry a numeric priority.
type Prioritized interface {
	Priority() int
}

// Comparator orders waiting jobs. It returns a negative number when a must
// be dispatched before b, zero when they are equal. It must be free of side
// effects; the executor calls it while holding its queue lock.
type Comparator func(a, b Job) int

// Unordered treats all jobs as equal priority.
func Unordered(_, _ Job) int { return 0 }

// ByPriority dispatches jobs with a higher Priority first. Jobs that do not
// implement Prioritized rank as priority 0.
func ByPriority(a, b Job) int {
	return cmp.Compare(priorityOf(b), priorityOf(a))
}

func priorityOf(j Job) int {
	if p, ok := j.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}
