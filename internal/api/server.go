package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/matching"
	"github.com/david/grant-discovery/internal/models"
	"github.com/david/grant-discovery/internal/recurrence"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// GrantStore is the persistence the server uses when a database is configured.
type GrantStore interface {
	SaveGrants(ctx context.Context, records []models.GrantRecord) (int, error)
	RecordRun(ctx context.Context, runID uuid.UUID, report *ingest.DiscoveryReport) error
	PostingHistory(ctx context.Context) (map[string][]time.Time, error)
	ListGrants(ctx context.Context, limit int) ([]models.GrantRecord, error)
}

// storedGrantsLimit bounds the rows read back when no run has happened yet.
const storedGrantsLimit = 500

// Options wires the engine components into a Server.
type Options struct {
	Registry       *ingest.Registry
	Discoverer     *ingest.Discoverer
	Matcher        *matching.Engine
	Predictor      *recurrence.Predictor
	Health         *ingest.DomainHealthTracker
	Store          GrantStore // optional
	MaxConcurrency int
	CORSOrigins    []string
}

type Server struct {
	Echo *echo.Echo

	opts Options
	now  func() time.Time

	// Background job tracking
	jobMu      sync.Mutex
	jobs       map[string]*backgroundJob
	runningJob *backgroundJob
	lastReport *ingest.DiscoveryReport
}

type backgroundJob struct {
	ID        string                  `json:"id"`
	Status    string                  `json:"status"` // running, completed, cancelled, failed
	StartedAt time.Time               `json:"started_at"`
	EndedAt   time.Time               `json:"ended_at,omitempty"`
	SourceIDs []string                `json:"source_ids"`
	Records   int                     `json:"records"`
	Failed    int                     `json:"failed_sources"`
	Error     string                  `json:"error,omitempty"`
	Report    *ingest.DiscoveryReport `json:"report,omitempty"`
	Cancel    context.CancelFunc      `json:"-"`
	done      chan struct{}
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	if opts.Matcher == nil {
		opts.Matcher = matching.NewEngine(matching.DefaultConfig())
	}
	if opts.Predictor == nil {
		opts.Predictor = recurrence.NewPredictor(recurrence.DefaultConfig())
	}

	s := &Server{
		Echo: e,
		opts: opts,
		now:  time.Now,
		jobs: make(map[string]*backgroundJob),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/sources", s.handleGetSources)
	api.GET("/grants", s.handleListGrants)
	api.GET("/health/domains", s.handleDomainHealth)
	api.POST("/discover", s.handleTriggerDiscover)
	api.GET("/jobs/:id", s.handleJobStatus)
	api.DELETE("/jobs/:id", s.handleCancelJob)
	api.POST("/match", s.handleMatch)
	api.POST("/predict", s.handlePredict)
	api.GET("/predictions", s.handleListPredictions)
}

func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

// Shutdown cancels any running discovery and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Registry.Sources)
}

func (s *Server) handleDomainHealth(c echo.Context) error {
	if s.opts.Health == nil {
		return c.JSON(http.StatusOK, map[string]any{"domains": []ingest.DomainHealth{}})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"summary": s.opts.Health.Summary(),
		"domains": s.opts.Health.Snapshot(),
	})
}

func (s *Server) handleListGrants(c echo.Context) error {
	records, err := s.latestRecords(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	if records == nil {
		records = []models.GrantRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"grants": records, "total": len(records)})
}

// latestRecords serves the last run's records, falling back to the store
// after a restart.
func (s *Server) latestRecords(ctx context.Context) ([]models.GrantRecord, error) {
	s.jobMu.Lock()
	report := s.lastReport
	s.jobMu.Unlock()
	if report != nil {
		return report.Records, nil
	}
	if s.opts.Store == nil {
		return nil, nil
	}
	records, err := s.opts.Store.ListGrants(ctx, storedGrantsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored grants: %w", err)
	}
	return records, nil
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func logf(format string, args ...any) {
	log.Printf("[api] "+format, args...)
}
