package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orrn/printspool/internal/core"
	"github.com/orrn/printspool/internal/label"
)

type SubmitJobResponse struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ReportURL   string `json:"report_url"`
}

type JobStatusResponse struct {
	ReferenceID            string     `json:"reference_id"`
	Done                   bool       `json:"done"`
	Status                 core.State `json:"status"`
	AppID                  string     `json:"app_id,omitempty"`
	ReportURI              string     `json:"report_uri,omitempty"`
	MimeType               string     `json:"mime_type,omitempty"`
	DurationMS             int64      `json:"duration_ms,omitempty"`
	Error                  string     `json:"error,omitempty"`
	Interrupted            bool       `json:"interrupted,omitempty"`
	Timestamp              time.Time  `json:"timestamp"`
	SinceLastStatusCheckMS int64      `json:"since_last_status_check_ms"`
}

type MetricsResponse struct {
	RequestsMade  int64 `json:"requests_made"`
	Completed     int64 `json:"completed"`
	Failures      int64 `json:"failures"`
	AverageTimeMS int64 `json:"average_time_ms"`
	QueueDepth    int   `json:"queue_depth"`
	RunningJobs   int   `json:"running_jobs"`
	Workers       int   `json:"workers"`
}

var errDuplicateReference = errors.New("a job with this reference id already exists")

type JobHandler struct {
	manager  *core.Manager
	renderer *label.Renderer
	catalog  *label.Catalog

	// submitMu keeps the duplicate check and the pending write of one
	// submission from interleaving with another.
	submitMu sync.Mutex
}

func NewJobHandler(manager *core.Manager, renderer *label.Renderer, catalog *label.Catalog) *JobHandler {
	return &JobHandler{manager: manager, renderer: renderer, catalog: catalog}
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req label.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}
	h.submit(c, req)
}

// LegacyPrint accepts GET /print/:layout/:uid, printing template layout
// with the single variable uid.
func (h *JobHandler) LegacyPrint(c *gin.Context) {
	h.submit(c, label.Request{
		AppID:     c.Param("layout"),
		Variables: map[string]string{"uid": c.Param("uid")},
	})
}

func (h *JobHandler) submit(c *gin.Context, req label.Request) {
	if req.ReferenceID == "" {
		req.ReferenceID = uuid.NewString()
	}

	job, err := h.renderer.NewJob(req)
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	if err := h.admit(c.Request.Context(), job); err != nil {
		if errors.Is(err, errDuplicateReference) {
			c.JSON(http.StatusConflict, ErrorResponse{
				Error:   "duplicate_reference",
				Message: "A job with this reference id already exists",
			})
			return
		}
		abortWithJobError(c, err)
		return
	}

	base := "/api/v1/jobs/" + req.ReferenceID
	c.JSON(http.StatusAccepted, SubmitJobResponse{
		ReferenceID: req.ReferenceID,
		Status:      string(core.StatePending),
		StatusURL:   base + "/status",
		ReportURL:   base + "/report",
	})
}

// admit submits job unless its reference id already has a status. Submit
// writes the pending record before returning, so the next caller holding
// submitMu sees it.
func (h *JobHandler) admit(ctx context.Context, job *label.RenderJob) error {
	h.submitMu.Lock()
	defer h.submitMu.Unlock()

	_, err := h.manager.Status(ctx, job.ReferenceID())
	if err == nil {
		return errDuplicateReference
	}
	if !errors.Is(err, core.ErrUnknownReference) {
		return err
	}
	return h.manager.Submit(ctx, job)
}

func (h *JobHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("ref")

	// IsDone first so a pending job's poll time is recorded.
	done, err := h.manager.IsDone(ctx, ref)
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	status, err := h.manager.Status(ctx, ref)
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	since, err := h.manager.TimeSinceLastStatusCheck(ctx, ref)
	if err != nil {
		abortWithJobError(c, err)
		return
	}

	resp := JobStatusResponse{
		ReferenceID:            ref,
		Done:                   done,
		Status:                 status.State(),
		SinceLastStatusCheckMS: since.Milliseconds(),
	}
	switch s := status.(type) {
	case *core.Pending:
		resp.AppID = s.AppID
		resp.Timestamp = s.SubmittedAt
	case *core.Completed:
		resp.ReportURI = s.ReportURI
		resp.MimeType = s.MimeType
		resp.DurationMS = s.Duration.Milliseconds()
		resp.Timestamp = s.CompletedAt
	case *core.Failed:
		resp.Error = s.Description
		resp.Interrupted = s.Interrupted
		resp.Timestamp = s.FailedAt
	}
	c.JSON(http.StatusOK, resp)
}

// GetReport serves the rendered program of a completed job.
func (h *JobHandler) GetReport(c *gin.Context) {
	ref := c.Param("ref")

	status, done, err := h.manager.CompletedJob(c.Request.Context(), ref)
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	if !done {
		c.JSON(http.StatusAccepted, gin.H{"reference_id": ref, "status": core.StatePending})
		return
	}

	switch s := status.(type) {
	case *core.Failed:
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "job_failed",
			Message: s.Description,
		})
	case *core.Completed:
		if _, err := os.Stat(s.ReportURI); errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusGone, ErrorResponse{
				Error:   "report_purged",
				Message: "The report is no longer available",
			})
			return
		}
		c.Header("Content-Type", s.MimeType)
		c.FileAttachment(s.ReportURI, ref+".tspl")
	}
}

func (h *JobHandler) GetMetrics(c *gin.Context) {
	m, err := h.manager.Metrics(c.Request.Context())
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, MetricsResponse{
		RequestsMade:  m.RequestsMade,
		Completed:     m.Completed,
		Failures:      m.Failures,
		AverageTimeMS: m.AverageTimeSpentRunning.Milliseconds(),
		QueueDepth:    m.QueueDepth,
		RunningJobs:   m.RunningJobs,
		Workers:       m.Workers,
	})
}

func (h *JobHandler) ListTemplates(c *gin.Context) {
	ids, err := h.catalog.List()
	if err != nil {
		abortWithJobError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"templates": ids})
}

// RegisterRoutes mounts the job API. submit runs before the submission
// handlers only.
func (h *JobHandler) RegisterRoutes(r gin.IRoutes, submit ...gin.HandlerFunc) {
	r.POST("/jobs", chain(submit, h.SubmitJob)...)
	r.GET("/jobs/:ref/status", h.GetStatus)
	r.GET("/jobs/:ref/report", h.GetReport)
	r.GET("/metrics", h.GetMetrics)
	r.GET("/templates", h.ListTemplates)
}

func (h *JobHandler) RegisterLegacyRoutes(r gin.IRoutes, submit ...gin.HandlerFunc) {
	r.GET("/print/:layout/:uid", chain(submit, h.LegacyPrint)...)
}

func chain(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	return append(append([]gin.HandlerFunc(nil), mw...), h)
}
