package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
	"github.com/google/uuid"
)

const listing = `<html><body>
<h2>Public Humanities Projects grant program</h2>
<p>Awards up to $400,000 for nonprofit organizations. Deadline: August 12, 2030</p>
<h2>Digital Humanities Advancement Grants for research</h2>
</body></html>`

type fakeFetcher struct {
	block bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, src models.SourceDescriptor) (*ingest.FetchedDocument, error) {
	if f.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", ingest.ErrCancelled, ctx.Err())
	}
	return &ingest.FetchedDocument{
		URL:         src.PrimaryURL,
		StatusCode:  http.StatusOK,
		ContentType: "text/html",
		Content:     []byte(listing),
		FetchedAt:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	saved   int
	runs    []uuid.UUID
	history map[string][]time.Time
	stored  []models.GrantRecord
}

func (s *fakeStore) SaveGrants(_ context.Context, records []models.GrantRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved += len(records)
	return len(records), nil
}

func (s *fakeStore) RecordRun(_ context.Context, runID uuid.UUID, _ *ingest.DiscoveryReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, runID)
	return nil
}

func (s *fakeStore) PostingHistory(context.Context) (map[string][]time.Time, error) {
	return s.history, nil
}

func (s *fakeStore) ListGrants(_ context.Context, limit int) ([]models.GrantRecord, error) {
	if len(s.stored) > limit {
		return s.stored[:limit], nil
	}
	return s.stored, nil
}

func newTestServer(fetcher ingest.SourceFetcher, store GrantStore) *Server {
	health := ingest.NewDomainHealthTracker(ingest.DefaultHealthConfig())
	reg := &ingest.Registry{Sources: []models.SourceDescriptor{
		{ID: "neh_grants", Name: "National Endowment for the Humanities", PrimaryURL: "https://www.neh.gov/grants", Strategy: "keyword", Category: "arts", Region: "us"},
	}}
	d := ingest.NewDiscoverer(fetcher, ingest.NewExtractor(nil, ingest.NewValidator(false)), health)
	opts := Options{Registry: reg, Discoverer: d, Health: health, MaxConcurrency: 2}
	if store != nil {
		opts.Store = store
	}
	s := NewServer(opts)
	s.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func startJob(t *testing.T, s *Server, body string) *backgroundJob {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/discover", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, rec, &view)
	if view.Status != "running" {
		t.Fatalf("expected running job, got %s", view.Status)
	}
	s.jobMu.Lock()
	job := s.jobs[view.ID]
	s.jobMu.Unlock()
	if job == nil {
		t.Fatalf("job %s not tracked", view.ID)
	}
	return job
}

func waitJob(t *testing.T, job *backgroundJob) {
	t.Helper()
	select {
	case <-job.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", job.ID)
	}
}

func TestHealthAndSources(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/api/v1/sources", "")
	var sources []models.SourceDescriptor
	decode(t, rec, &sources)
	if len(sources) != 1 || sources[0].ID != "neh_grants" {
		t.Fatalf("unexpected sources: %+v", sources)
	}
}

func TestDiscoverJobLifecycle(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(&fakeFetcher{}, store)

	job := startJob(t, s, "")
	waitJob(t, job)

	rec := do(t, s, http.MethodGet, "/api/v1/jobs/"+job.ID, "")
	var status struct {
		Status  string `json:"status"`
		Records int    `json:"records"`
	}
	decode(t, rec, &status)
	if status.Status != "completed" || status.Records != 2 {
		t.Fatalf("unexpected job status: %+v", status)
	}
	if store.saved != 2 || len(store.runs) != 1 || store.runs[0].String() != job.ID {
		t.Fatalf("run not persisted: saved=%d runs=%v", store.saved, store.runs)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/grants", "")
	var grants struct {
		Total int `json:"total"`
	}
	decode(t, rec, &grants)
	if grants.Total != 2 {
		t.Fatalf("expected 2 grants, got %d", grants.Total)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/health/domains", "")
	var health struct {
		Summary ingest.HealthSummary `json:"summary"`
	}
	decode(t, rec, &health)
	if health.Summary.Healthy != 1 {
		t.Fatalf("unexpected health summary: %+v", health.Summary)
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/jobs/unknown", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestDiscoverRejectsUnknownSources(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)
	rec := do(t, s, http.MethodPost, "/api/v1/discover", `{"source_ids":["missing"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDiscoverConflictAndCancel(t *testing.T) {
	s := newTestServer(&fakeFetcher{block: true}, nil)

	job := startJob(t, s, `{"max_concurrency":1}`)

	if rec := do(t, s, http.MethodPost, "/api/v1/discover", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rec.Code)
	}

	if rec := do(t, s, http.MethodDelete, "/api/v1/jobs/"+job.ID, ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", rec.Code)
	}
	waitJob(t, job)

	s.jobMu.Lock()
	status := job.Status
	s.jobMu.Unlock()
	if status != "cancelled" {
		t.Fatalf("expected cancelled job, got %s", status)
	}

	// A new run may start once the previous one ended.
	s.opts.Discoverer.Fetcher = &fakeFetcher{}
	next := startJob(t, s, "")
	waitJob(t, next)
}

func TestMatchEndpoint(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)
	body := `{
		"profile": {"organization_type": "nonprofit", "focus_areas": ["arts", "research"], "geographic_scope": "us"},
		"grants": [
			{"title": "Health Outreach", "source_id": "hrsa", "focus_areas": ["health"], "geography": "us"},
			{"title": "Digital Humanities Advancement Grants", "source_id": "neh", "focus_areas": ["arts", "research"], "geography": "us"}
		]
	}`

	rec := do(t, s, http.MethodPost, "/api/v1/match", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []models.MatchResult `json:"results"`
		Total   int                  `json:"total"`
	}
	decode(t, rec, &resp)
	if resp.Total != 2 || resp.Results[0].Grant.Title != "Digital Humanities Advancement Grants" {
		t.Fatalf("unexpected ranking: %+v", resp.Results)
	}
	if resp.Results[0].Score <= resp.Results[1].Score {
		t.Fatalf("results not ordered by score")
	}

	if rec := do(t, s, http.MethodPost, "/api/v1/match", `{"profile":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty profile, got %d", rec.Code)
	}
}

func TestPredictEndpoint(t *testing.T) {
	s := newTestServer(&fakeFetcher{}, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/predict", `{"family_id":"neh.gov/public-humanities-projects","history":[]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty history, got %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/predict",
		`{"family_id":"neh.gov/public-humanities-projects","history":["2023-03-01T00:00:00Z","2024-03-03T00:00:00Z"],"now":"2024-06-01T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var pred models.RecurrencePrediction
	decode(t, rec, &pred)
	if pred.Center.Format("2006-01-02") != "2025-03-02" || pred.Confidence < 0.9 {
		t.Fatalf("unexpected prediction: %+v", pred)
	}
}

func TestListPredictionsFromStore(t *testing.T) {
	store := &fakeStore{history: map[string][]time.Time{
		"arts.gov/challenge-america": {time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)},
	}}
	s := newTestServer(&fakeFetcher{}, store)

	rec := do(t, s, http.MethodGet, "/api/v1/predictions", "")
	var preds []models.RecurrencePrediction
	decode(t, rec, &preds)
	if len(preds) != 1 || preds[0].Confidence != 0.3 {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
}

func TestGrantsFromStoreBeforeFirstRun(t *testing.T) {
	store := &fakeStore{stored: []models.GrantRecord{
		{Title: "Health Outreach", SourceID: "hrsa", FocusAreas: []string{"health"}, Geography: "us"},
		{Title: "Digital Humanities Advancement Grants", SourceID: "neh", FocusAreas: []string{"arts", "research"}, Geography: "us"},
	}}
	s := newTestServer(&fakeFetcher{}, store)

	rec := do(t, s, http.MethodGet, "/api/v1/grants", "")
	var grants struct {
		Grants []models.GrantRecord `json:"grants"`
		Total  int                  `json:"total"`
	}
	decode(t, rec, &grants)
	if grants.Total != 2 || grants.Grants[1].Title != "Digital Humanities Advancement Grants" {
		t.Fatalf("expected stored grants, got %+v", grants)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/match", `{"profile": {"focus_areas": ["arts"], "geographic_scope": "us"}}`)
	var resp struct {
		Results []models.MatchResult `json:"results"`
		Total   int                  `json:"total"`
	}
	decode(t, rec, &resp)
	if resp.Total != 2 || resp.Results[0].Grant.Title != "Digital Humanities Advancement Grants" {
		t.Fatalf("expected stored grants to be ranked, got %+v", resp.Results)
	}
}
