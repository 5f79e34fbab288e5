package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/david/grant-discovery/internal/models"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
)

// SourceOutcome summarises what happened to one source during a run.
type SourceOutcome struct {
	SourceID     string         `json:"source_id"`
	Stage        OutcomeKind    `json:"stage"`
	Records      int            `json:"records"`
	Rejected     int            `json:"rejected"`
	EffectiveURL string         `json:"effective_url,omitempty"`
	Attempts     []FetchAttempt `json:"attempts,omitempty"`
	Error        string         `json:"error,omitempty"`
	Cancelled    bool           `json:"cancelled,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// DiscoveryReport is the merged result of a run.
type DiscoveryReport struct {
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Records    []models.GrantRecord `json:"records"`
	Sources    []SourceOutcome      `json:"sources"`
	Duplicates int                  `json:"duplicates"`
	Health     HealthSummary        `json:"health"`
	Cancelled  bool                 `json:"cancelled"`
}

// Failed counts sources that produced no records because of an error.
func (r *DiscoveryReport) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// Discoverer runs fetch and extract for every source with bounded
// concurrency. A failure in one source never affects the others.
type Discoverer struct {
	Fetcher        SourceFetcher
	Extractor      *Extractor
	Health         *DomainHealthTracker
	MaxConcurrency int
	SourceTimeout  time.Duration

	// Progress, when set, is called once per finished source. Calls are
	// serialised.
	Progress func(SourceOutcome)
}

func NewDiscoverer(fetcher SourceFetcher, extractor *Extractor, health *DomainHealthTracker) *Discoverer {
	return &Discoverer{
		Fetcher:        fetcher,
		Extractor:      extractor,
		Health:         health,
		MaxConcurrency: 4,
		SourceTimeout:  2 * time.Minute,
	}
}

// NewDefaultDiscoverer wires a fresh health tracker, a RobustFetcher, the
// validator and the default strategy table.
func NewDefaultDiscoverer(fetchCfg FetchConfig, healthCfg HealthConfig, probeURLs bool) *Discoverer {
	health := NewDomainHealthTracker(healthCfg)
	fetcher := NewRobustFetcher(fetchCfg, health)
	extractor := NewExtractor(DefaultStrategyFactory(), NewValidator(probeURLs))
	return NewDiscoverer(fetcher, extractor, health)
}

// Discover returns the validated, deduplicated records of every source. A
// cancelled run still returns what was collected; ErrCancelled is returned
// only when cancellation left nothing to return.
func (d *Discoverer) Discover(ctx context.Context, reg *Registry, maxConcurrency int) ([]models.GrantRecord, error) {
	report := d.run(ctx, reg.Sources, maxConcurrency)
	if report.Cancelled && len(report.Records) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	return report.Records, nil
}

// Run is Discover with the full per-source report.
func (d *Discoverer) Run(ctx context.Context, sources []models.SourceDescriptor) *DiscoveryReport {
	return d.run(ctx, sources, d.MaxConcurrency)
}

// DiscoverAsync starts a run in the background. The channel receives exactly
// one report and is then closed.
func (d *Discoverer) DiscoverAsync(ctx context.Context, sources []models.SourceDescriptor) <-chan *DiscoveryReport {
	ch := make(chan *DiscoveryReport, 1)
	go func() {
		defer close(ch)
		ch <- d.Run(ctx, sources)
	}()
	return ch
}

func (d *Discoverer) run(ctx context.Context, sources []models.SourceDescriptor, maxConcurrency int) *DiscoveryReport {
	if maxConcurrency <= 0 {
		maxConcurrency = d.MaxConcurrency
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	report := &DiscoveryReport{StartedAt: time.Now()}
	log.Printf("[discover] starting run over %d sources (concurrency %d)", len(sources), maxConcurrency)

	var (
		mu       sync.Mutex
		records  []models.GrantRecord
		outcomes = make([]SourceOutcome, 0, len(sources))
	)
	collect := func(out SourceOutcome, recs []models.GrantRecord) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, recs...)
		outcomes = append(outcomes, out)
		if d.Progress != nil {
			d.Progress(out)
		}
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrency)

	for i, src := range sources {
		if ctx.Err() != nil {
			for _, skipped := range sources[i:] {
				collect(SourceOutcome{SourceID: skipped.ID, Cancelled: true, Error: "not started"}, nil)
			}
			break
		}
		src := src
		g.Go(func() error {
			out, recs := d.runSource(ctx, src)
			collect(out, recs)
			return nil
		})
	}
	g.Wait()

	merged, dups := dedupRecords(records)
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].SourceID < outcomes[j].SourceID })

	report.Records = merged
	report.Sources = outcomes
	report.Duplicates = dups
	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now()
	if d.Health != nil {
		report.Health = d.Health.Summary()
	}

	log.Printf("[discover] finished: %d records, %d duplicates dropped, %d/%d sources failed, cancelled=%v",
		len(merged), dups, report.Failed(), len(sources), report.Cancelled)
	return report
}

// runSource is the isolated fetch+extract task for one source.
func (d *Discoverer) runSource(ctx context.Context, src models.SourceDescriptor) (out SourceOutcome, records []models.GrantRecord) {
	start := time.Now()
	out.SourceID = src.ID
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] panic during discovery: %v", src.ID, r)
			out.Error = fmt.Sprintf("panic: %v", r)
			records = nil
		}
		out.Duration = time.Since(start)
	}()

	sctx := ctx
	if d.SourceTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.SourceTimeout)
		defer cancel()
	}

	doc, err := d.Fetcher.Fetch(sctx, src)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			out.Attempts = fetchErr.Attempts
		}
		switch {
		case ctx.Err() != nil:
			out.Cancelled = true
		case errors.Is(err, ErrCancelled):
			err = fmt.Errorf("source timed out after %s", d.SourceTimeout)
		}
		out.Error = err.Error()
		log.Printf("[%s] fetch failed: %v", src.ID, err)
		return out, nil
	}
	out.EffectiveURL = doc.URL

	outcome := d.Extractor.Run(sctx, src, doc)
	out.Stage = outcome.Kind
	out.Records = len(outcome.Records)
	out.Rejected = outcome.Rejected
	if ctx.Err() != nil {
		out.Cancelled = true
	}
	log.Printf("[%s] %s: %d records, %d rejected from %s", src.ID, outcome.Kind, out.Records, out.Rejected, doc.URL)
	return out, outcome.Records
}

// dedupKey combines the normalised title with the registrable domain of the
// source, so www.arts.gov and apply.arts.gov collapse together.
func dedupKey(rec models.GrantRecord) string {
	return normalizeTitle(rec.Title) + "|" + registrableDomain(rec.SourceDomain)
}

func registrableDomain(host string) string {
	host = normalizeDomain(host)
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	return host
}

// preferRecord reports whether a should replace b as the kept duplicate.
func preferRecord(a, b models.GrantRecord) bool {
	if ra, rb := a.Confidence.Rank(), b.Confidence.Rank(); ra != rb {
		return ra > rb
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.ID.String() < b.ID.String()
}

// dedupRecords keeps one record per key and sorts by source id then title,
// so the result does not depend on task completion order.
func dedupRecords(records []models.GrantRecord) ([]models.GrantRecord, int) {
	kept := make(map[string]models.GrantRecord, len(records))
	for _, rec := range records {
		key := dedupKey(rec)
		if cur, ok := kept[key]; !ok || preferRecord(rec, cur) {
			kept[key] = rec
		}
	}

	out := make([]models.GrantRecord, 0, len(kept))
	for _, rec := range kept {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, len(records) - len(out)
}
