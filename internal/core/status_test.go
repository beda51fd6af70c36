package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printspool/internal/registry"
)

func TestStatus_RoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status Status
	}{
		{"pending", &Pending{RefID: "r1", AppID: "shipping", SubmittedAt: at}},
		{"completed", &Completed{RefID: "r1", ReportURI: "file:///out/r1.tspl", MimeType: "application/x-tspl", Duration: 1500 * time.Millisecond, CompletedAt: at}},
		{"failed", &Failed{RefID: "r1", Description: "printer offline", FailedAt: at}},
		{"interrupted", &Failed{RefID: "r1", Description: "shutdown", Interrupted: true, FailedAt: at}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, StoreStatus(ctx, reg, tt.status))
			got, err := LoadStatus(ctx, reg, "r1")
			require.NoError(t, err)
			assert.Equal(t, tt.status.State(), got.State())
			assert.Equal(t, tt.status, got)
		})
	}
}

func TestLoadStatus_UnknownReference(t *testing.T) {
	_, err := LoadStatus(context.Background(), registry.NewMemory(), "missing")
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.Contains(t, err.Error(), "missing")
}

func TestLoadStatus_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()

	require.NoError(t, reg.Put(ctx, "REPORT_URI_bad", "{not json"))
	_, err := LoadStatus(ctx, reg, "bad")
	var serr *SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "REPORT_URI_bad", serr.Key)

	require.NoError(t, reg.Put(ctx, "REPORT_URI_odd", `{"state":"archived","reference_id":"odd"}`))
	_, err = LoadStatus(ctx, reg, "odd")
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "archived")
}

func TestByPriority(t *testing.T) {
	hi := &testJob{ref: "hi", priority: 5}
	lo := &testJob{ref: "lo", priority: 1}
	plain := plainJob{}

	assert.Negative(t, ByPriority(hi, lo))
	assert.Positive(t, ByPriority(lo, hi))
	assert.Zero(t, ByPriority(hi, hi))
	assert.Positive(t, ByPriority(plain, lo))
	assert.Zero(t, Unordered(hi, lo))
}

type plainJob struct{}

func (plainJob) ReferenceID() string                 { return "plain" }
func (plainJob) AppID() string                       { return "" }
func (plainJob) Run(context.Context) (Result, error) { return Result{}, nil }
