package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orrn/printspool/internal/registry"
)

// reportURIPrefix namespaces status records in the registry.
const reportURIPrefix = "REPORT_URI_"

// State is the persisted lifecycle state of a print job.
//
// NOTE: These values are stored in the registry and are part of the stable
// on-disk contract.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Status is one of *Pending, *Completed or *Failed. Transitions are
// Pending -> Completed and Pending -> Failed only.
type Status interface {
	ReferenceID() string
	State() State
	record() statusRecord
}

// Pending is written when a job is submitted.
type Pending struct {
	RefID       string
	AppID       string
	SubmittedAt time.Time
}

// Completed is written once a job's future resolved without error.
type Completed struct {
	RefID       string
	ReportURI   string
	MimeType    string
	Duration    time.Duration
	CompletedAt time.Time
}

// Failed is the Error state: the job raised a failure or was interrupted.
type Failed struct {
	RefID       string
	Description string
	Interrupted bool
	FailedAt    time.Time
}

func (p *Pending) ReferenceID() string   { return p.RefID }
func (p *Pending) State() State          { return StatePending }
func (c *Completed) ReferenceID() string { return c.RefID }
func (c *Completed) State() State        { return StateCompleted }
func (f *Failed) ReferenceID() string    { return f.RefID }
func (f *Failed) State() State           { return StateError }

// statusRecord is the JSON envelope shared by all variants.
type statusRecord struct {
	State       State     `json:"state"`
	ReferenceID string    `json:"reference_id"`
	AppID       string    `json:"app_id,omitempty"`
	ReportURI   string    `json:"report_uri,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (p *Pending) record() statusRecord {
	return statusRecord{State: StatePending, ReferenceID: p.RefID, AppID: p.AppID, Timestamp: p.SubmittedAt}
}

func (c *Completed) record() statusRecord {
	return statusRecord{
		State:       StateCompleted,
		ReferenceID: c.RefID,
		ReportURI:   c.ReportURI,
		MimeType:    c.MimeType,
		DurationMS:  c.Duration.Milliseconds(),
		Timestamp:   c.CompletedAt,
	}
}

func (f *Failed) record() statusRecord {
	return statusRecord{
		State:       StateError,
		ReferenceID: f.RefID,
		Error:       f.Description,
		Interrupted: f.Interrupted,
		Timestamp:   f.FailedAt,
	}
}

func statusKey(referenceID string) string {
	return reportURIPrefix + referenceID
}

// StoreStatus writes s under the key derived from its reference id,
// replacing whatever record was there.
func StoreStatus(ctx context.Context, reg registry.Registry, s Status) error {
	key := statusKey(s.ReferenceID())
	b, err := json.Marshal(s.record())
	if err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	if err := reg.Put(ctx, key, string(b)); err != nil {
		return fmt.Errorf("store status %s: %w", key, err)
	}
	return nil
}

// LoadStatus reconstructs the status currently stored for referenceID.
func LoadStatus(ctx context.Context, reg registry.Registry, referenceID string) (Status, error) {
	key := statusKey(referenceID)
	raw, err := reg.Get(ctx, key)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, referenceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load status %s: %w", key, err)
	}

	var rec statusRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, &SerializationError{Key: key, Err: err}
	}

	switch rec.State {
	case StatePending:
		return &Pending{RefID: rec.ReferenceID, AppID: rec.AppID, SubmittedAt: rec.Timestamp}, nil
	case StateCompleted:
		return &Completed{
			RefID:       rec.ReferenceID,
			ReportURI:   rec.ReportURI,
			MimeType:    rec.MimeType,
			Duration:    time.Duration(rec.DurationMS) * time.Millisecond,
			CompletedAt: rec.Timestamp,
		}, nil
	case StateError:
		return &Failed{
			RefID:       rec.ReferenceID,
			Description: rec.Error,
			Interrupted: rec.Interrupted,
			FailedAt:    rec.Timestamp,
		}, nil
	default:
		return nil, &SerializationError{Key: key, Err: fmt.Errorf("unknown state %q", rec.State)}
	}
}
