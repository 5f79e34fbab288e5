package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
	"github.com/david/grant-discovery/internal/recurrence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RunSummary is one row of discovery_runs.
type RunSummary struct {
	RunID       uuid.UUID  `json:"run_id"`
	Status      string     `json:"status"`
	Sources     int        `json:"sources"`
	Records     int        `json:"records"`
	Duplicates  int        `json:"duplicates"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

const upsertGrantSQL = `
INSERT INTO grants (
	id, title, description, amount_min, amount_max, currency, focus_areas, eligibility,
	geography, application_url, source_url, source_id, source_name, source_domain,
	confidence, disclaimer, deadline, posted_at, strategy, family_id, fetched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
ON CONFLICT (id) DO UPDATE SET
	description = EXCLUDED.description,
	amount_min = EXCLUDED.amount_min,
	amount_max = EXCLUDED.amount_max,
	currency = EXCLUDED.currency,
	focus_areas = EXCLUDED.focus_areas,
	eligibility = EXCLUDED.eligibility,
	confidence = EXCLUDED.confidence,
	disclaimer = EXCLUDED.disclaimer,
	deadline = EXCLUDED.deadline,
	posted_at = COALESCE(EXCLUDED.posted_at, grants.posted_at),
	fetched_at = EXCLUDED.fetched_at,
	last_seen_at = NOW()`

const insertPostingSQL = `
INSERT INTO grant_postings (family_id, posted_on, grant_id) VALUES ($1, $2, $3)
ON CONFLICT (family_id, posted_on) DO NOTHING`

const selectGrantCols = `id, title, description, amount_min, amount_max, currency, focus_areas, eligibility,
	geography, application_url, source_url, source_id, source_name, source_domain,
	confidence, disclaimer, deadline, posted_at, strategy, fetched_at`

// grantArgs maps a record onto upsertGrantSQL parameters. An absent amount
// stays NULL in every amount column.
func grantArgs(rec models.GrantRecord) []any {
	var amountMin, amountMax *float64
	var currency *string
	if rec.Amount != nil {
		amountMin, amountMax, currency = &rec.Amount.Min, &rec.Amount.Max, &rec.Amount.Currency
	}
	return []any{
		rec.ID, rec.Title, rec.Description, amountMin, amountMax, currency,
		nonNil(rec.FocusAreas), nonNil(rec.Eligibility), rec.Geography, rec.ApplicationURL,
		rec.SourceURL, rec.SourceID, rec.SourceName, rec.SourceDomain,
		string(rec.Confidence), rec.Disclaimer, rec.Deadline, rec.PostedAt, rec.Strategy,
		recurrence.FamilyID(rec.Title, rec.SourceDomain), rec.FetchedAt,
	}
}

// SaveGrants upserts records and their posting dates in one batch.
func (s *Store) SaveGrants(ctx context.Context, records []models.GrantRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, rec := range records {
		batch.Queue(upsertGrantSQL, grantArgs(rec)...)
		queued++
		if rec.PostedAt != nil {
			batch.Queue(insertPostingSQL, recurrence.FamilyID(rec.Title, rec.SourceDomain), rec.PostedAt.UTC(), rec.ID)
			queued++
		}
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("failed to save grants: %w", err)
		}
	}
	return len(records), nil
}

// ListGrants returns the most recently seen grants.
func (s *Store) ListGrants(ctx context.Context, limit int) ([]models.GrantRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, "SELECT "+selectGrantCols+" FROM grants ORDER BY last_seen_at DESC, id LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var out []models.GrantRecord
	for rows.Next() {
		var g models.GrantRecord
		var amountMin, amountMax *float64
		var currency *string
		var confidence string
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &amountMin, &amountMax, &currency,
			&g.FocusAreas, &g.Eligibility, &g.Geography, &g.ApplicationURL, &g.SourceURL,
			&g.SourceID, &g.SourceName, &g.SourceDomain, &confidence, &g.Disclaimer,
			&g.Deadline, &g.PostedAt, &g.Strategy, &g.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		g.Confidence = models.ExtractionConfidence(confidence)
		if amountMin != nil || amountMax != nil {
			g.Amount = &models.AmountRange{Min: deref(amountMin), Max: deref(amountMax), Currency: derefString(currency)}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// PostingHistory returns posting dates grouped by recurrence family.
func (s *Store) PostingHistory(ctx context.Context) (map[string][]time.Time, error) {
	rows, err := s.pool.Query(ctx, "SELECT family_id, posted_on FROM grant_postings ORDER BY family_id, posted_on")
	if err != nil {
		return nil, fmt.Errorf("failed to load posting history: %w", err)
	}
	defer rows.Close()

	history := make(map[string][]time.Time)
	for rows.Next() {
		var family string
		var postedOn time.Time
		if err := rows.Scan(&family, &postedOn); err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		history[family] = append(history[family], postedOn)
	}
	return history, rows.Err()
}

func runStatus(report *ingest.DiscoveryReport) string {
	switch {
	case report.Cancelled:
		return "cancelled"
	case len(report.Sources) > 0 && report.Failed() == len(report.Sources):
		return "failed"
	case report.Failed() > 0:
		return "partial"
	default:
		return "completed"
	}
}

// RecordRun stores the summary and full report of a discovery run.
func (s *Store) RecordRun(ctx context.Context, runID uuid.UUID, report *ingest.DiscoveryReport) error {
	payload, err := json.Marshal(report.Sources)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO discovery_runs (run_id, status, sources, records, duplicates, failed, started_at, completed_at, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status, records = EXCLUDED.records,
			duplicates = EXCLUDED.duplicates, failed = EXCLUDED.failed,
			completed_at = EXCLUDED.completed_at, report = EXCLUDED.report`,
		runID, runStatus(report), len(report.Sources), len(report.Records), report.Duplicates,
		report.Failed(), report.StartedAt, report.FinishedAt, payload)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, status, sources, records, duplicates, failed, started_at, completed_at
		FROM discovery_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Status, &r.Sources, &r.Records, &r.Duplicates, &r.Failed, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
