package label

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orrn/printspool/internal/core"
)

var ErrInvalidRequest = errors.New("invalid print request")

const reportExt = ".tspl"

// Request describes one print job as submitted by a client.
type Request struct {
	ReferenceID string            `json:"reference_id"`
	AppID       string            `json:"app_id"`
	Variables   map[string]string `json:"variables"`
	Copies      int               `json:"copies"`
	// Priority overrides the template's priority when set.
	Priority *int `json:"priority,omitempty"`
	// Printer is an optional host[:port] the rendered label is sent to.
	Printer string `json:"printer,omitempty"`
}

// Renderer turns requests into jobs that render into OutputDir.
type Renderer struct {
	catalog   *Catalog
	outputDir string
	printer   *Printer
}

func NewRenderer(catalog *Catalog, outputDir string, printer *Printer) *Renderer {
	if printer == nil {
		printer = &Printer{}
	}
	return &Renderer{catalog: catalog, outputDir: outputDir, printer: printer}
}

// NewJob validates req against its template. The returned job holds the
// template as it was at this moment.
func (r *Renderer) NewJob(req Request) (*RenderJob, error) {
	if !validName.MatchString(req.ReferenceID) {
		return nil, fmt.Errorf("%w: reference id %q", ErrInvalidRequest, req.ReferenceID)
	}
	if req.Copies < 0 || req.Copies > 1000 {
		return nil, fmt.Errorf("%w: copies %d out of range", ErrInvalidRequest, req.Copies)
	}
	schema, err := r.catalog.Get(req.AppID)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(req.Variables); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	priority := schema.Priority
	if req.Priority != nil {
		priority = *req.Priority
	}
	vars := make(map[string]string, len(req.Variables))
	for k, v := range req.Variables {
		vars[k] = v
	}
	req.Variables = vars

	return &RenderJob{req: req, priority: priority, schema: schema, renderer: r}, nil
}

// ReportPath is where the rendered program for referenceID is written.
func (r *Renderer) ReportPath(referenceID string) string {
	return filepath.Join(r.outputDir, referenceID+reportExt)
}

// RenderJob renders a label to a report file and optionally prints it.
type RenderJob struct {
	req      Request
	priority int
	schema   *Schema
	renderer *Renderer
}

func (j *RenderJob) ReferenceID() string { return j.req.ReferenceID }
func (j *RenderJob) AppID() string       { return j.req.AppID }
func (j *RenderJob) Priority() int       { return j.priority }

func (j *RenderJob) Run(ctx context.Context) (core.Result, error) {
	if err := ctx.Err(); err != nil {
		return core.Result{}, err
	}

	tspl, err := Generate(j.schema, j.req.Variables, j.req.Copies)
	if err != nil {
		return core.Result{}, err
	}

	path := j.renderer.ReportPath(j.req.ReferenceID)
	if err := writeFileAtomic(path, []byte(tspl)); err != nil {
		return core.Result{}, err
	}

	if j.req.Printer != "" {
		if err := ctx.Err(); err != nil {
			return core.Result{}, err
		}
		if err := j.renderer.printer.Send(ctx, j.req.Printer, tspl); err != nil {
			return core.Result{}, err
		}
		log.Debug().
			Str("component", "label").
			Str("reference_id", j.req.ReferenceID).
			Str("printer", j.req.Printer).
			Msg("Label sent to printer")
	}

	return core.Result{ReportURI: path, MimeType: MimeType}, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}
	return nil
}

// PurgeReports removes report files last modified before cutoff and
// returns how many were removed.
func PurgeReports(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list reports: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != reportExt {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove report %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Purger returns a housekeeping task deleting reports older than retention.
func (r *Renderer) Purger(retention time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		if ctx.Err() != nil {
			return
		}
		n, err := PurgeReports(r.outputDir, time.Now().Add(-retention))
		if err != nil {
			log.Warn().Str("component", "label").Err(err).Msg("Report purge failed")
			return
		}
		if n > 0 {
			log.Info().Str("component", "label").Int("removed", n).Msg("Purged old reports")
		}
	}
}
