package api

import (
	"context"
	"net/http"
	"time"

	"github.com/david/grant-discovery/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type discoverRequest struct {
	SourceIDs      []string `json:"source_ids"`
	Category       string   `json:"category"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// handleTriggerDiscover starts a discovery run in the background. Only one
// run may be active at a time.
func (s *Server) handleTriggerDiscover(c echo.Context) error {
	var req discoverRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid request")
		}
	}

	reg := s.opts.Registry.Filter(req.SourceIDs, req.Category)
	if len(reg.Sources) == 0 {
		return errorJSON(c, http.StatusBadRequest, "no sources match the request")
	}
	concurrency := req.MaxConcurrency
	if concurrency <= 0 {
		concurrency = s.opts.MaxConcurrency
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		running := s.runningJob.ID
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{"error": "discovery already running", "job_id": running})
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &backgroundJob{
		ID:        uuid.NewString(),
		Status:    "running",
		StartedAt: s.now(),
		Cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, src := range reg.Sources {
		job.SourceIDs = append(job.SourceIDs, src.ID)
	}
	s.jobs[job.ID] = job
	s.runningJob = job
	view := s.jobView(job)
	s.jobMu.Unlock()

	logf("job %s started over %d sources", job.ID, len(reg.Sources))
	go s.runJob(ctx, job, reg.Sources, concurrency)

	return c.JSON(http.StatusAccepted, view)
}

func (s *Server) runJob(ctx context.Context, job *backgroundJob, sources []models.SourceDescriptor, concurrency int) {
	defer close(job.done)
	defer job.Cancel()

	d := *s.opts.Discoverer
	d.MaxConcurrency = concurrency
	report := d.Run(ctx, sources)

	var persistErr error
	if s.opts.Store != nil {
		pctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.opts.Store.SaveGrants(pctx, report.Records); err != nil {
			persistErr = err
		} else if runID, err := uuid.Parse(job.ID); err == nil {
			persistErr = s.opts.Store.RecordRun(pctx, runID, report)
		}
		cancel()
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job.EndedAt = s.now()
	job.Report = report
	job.Records = len(report.Records)
	job.Failed = report.Failed()
	switch {
	case persistErr != nil:
		job.Status = "failed"
		job.Error = persistErr.Error()
	case report.Cancelled:
		job.Status = "cancelled"
	default:
		job.Status = "completed"
	}
	s.lastReport = report
	if s.runningJob == job {
		s.runningJob = nil
	}
	logf("job %s %s: %d records, %d failed sources", job.ID, job.Status, job.Records, job.Failed)
}

func (s *Server) handleJobStatus(c echo.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	job, ok := s.jobs[c.Param("id")]
	if !ok {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusOK, s.jobView(job))
}

func (s *Server) handleCancelJob(c echo.Context) error {
	s.jobMu.Lock()
	job, ok := s.jobs[c.Param("id")]
	if ok && job.Status == "running" {
		job.Cancel()
	}
	s.jobMu.Unlock()
	if !ok {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": job.ID, "status": "cancelling"})
}

// jobView copies a job for serialisation; callers hold jobMu.
func (s *Server) jobView(job *backgroundJob) backgroundJob {
	view := *job
	view.done = nil
	return view
}
