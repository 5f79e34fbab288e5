package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/jedib0t/go-pretty/v6/table"
)

// manual_ingest fetches and extracts a single source, printing every fetch
// attempt and extracted record. Useful when tuning selectors.
func main() {
	sourceID := flag.String("source", "", "Source ID to ingest (e.g., nea_grants)")
	save := flag.Bool("save", false, "Persist the extracted records")
	timeout := flag.Duration("timeout", 2*time.Minute, "Fetch and extract timeout")
	flag.Parse()

	if *sourceID == "" {
		log.Fatal("Please provide a source ID using -source flag")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	engine, err := config.LoadEngine(cfg.EngineConfig)
	if err != nil {
		log.Fatal(err)
	}
	registry, err := ingest.LoadRegistry(cfg.SourcesPath)
	if err != nil {
		log.Fatal(err)
	}
	src, ok := registry.Get(*sourceID)
	if !ok {
		log.Fatalf("Unknown source %q", *sourceID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	health := ingest.NewDomainHealthTracker(engine.Health)
	fetcher := ingest.NewRobustFetcher(engine.Fetch, health)
	extractor := ingest.NewExtractor(ingest.DefaultStrategyFactory(), ingest.NewValidator(cfg.ProbeURLs))

	log.Printf("Starting manual ingestion for source: %s", src.ID)
	doc, err := fetcher.Fetch(ctx, src)
	if err != nil {
		var fetchErr *ingest.FetchError
		if errors.As(err, &fetchErr) {
			printAttempts(fetchErr.Attempts)
		}
		log.Fatalf("Fetch failed: %v", err)
	}
	log.Printf("Fetched %s (%d bytes, %s)", doc.URL, len(doc.Content), doc.ContentType)

	outcome := extractor.Run(ctx, src, doc)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("%s: %s, %d rejected", src.ID, outcome.Kind, outcome.Rejected)
	t.AppendHeader(table.Row{"Title", "Amount", "Deadline", "Confidence", "URL"})
	for _, rec := range outcome.Records {
		deadline := "-"
		if rec.Deadline != nil {
			deadline = rec.Deadline.Format("2006-01-02")
		}
		link := rec.ApplicationURL
		if link == "" {
			link = rec.SourceURL
		}
		t.AppendRow(table.Row{ingest.TruncateText(rec.Title, 60), rec.AmountLabel(), deadline, rec.Confidence, ingest.TruncateText(link, 70)})
	}
	t.Render()

	if !*save || len(outcome.Records) == 0 {
		return
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	n, err := db.NewStore(pool).SaveGrants(ctx, outcome.Records)
	if err != nil {
		log.Fatalf("Save failed: %v", err)
	}
	log.Printf("Ingestion finished for %s. Saved: %d", src.ID, n)
}

func printAttempts(attempts []ingest.FetchAttempt) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Fetch attempts")
	t.AppendHeader(table.Row{"URL", "Attempt", "Result", "Status", "Duration"})
	for _, a := range attempts {
		t.AppendRow(table.Row{ingest.TruncateText(a.URL, 70), a.Attempt + 1, a.KindName, a.StatusCode, a.Duration.Round(time.Millisecond)})
	}
	t.Render()
}
