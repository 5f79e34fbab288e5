package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/matching"
	"github.com/david/grant-discovery/internal/models"
	"github.com/david/grant-discovery/internal/recurrence"
	"github.com/jedib0t/go-pretty/v6/table"
)

func main() {
	sources := flag.String("sources", "", "Comma-separated source IDs (default: all)")
	category := flag.String("category", "", "Only sources in this category (education, arts, federal)")
	focus := flag.String("focus", "", "Comma-separated organization focus areas")
	geo := flag.String("geo", "", "Organization geographic scope, e.g. us/ca")
	orgType := flag.String("type", "", "Organization type, e.g. nonprofit")
	needMin := flag.Float64("need-min", 0, "Minimum funding need")
	needMax := flag.Float64("need-max", 0, "Maximum funding need")
	limit := flag.Int("limit", 20, "Rows to print")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall run timeout")
	flag.Parse()

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
	registry = registry.Filter(splitList(*sources), *category)
	if len(registry.Sources) == 0 {
		log.Fatal("No sources selected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	discoverer := ingest.NewDefaultDiscoverer(engine.Fetch, engine.Health, cfg.ProbeURLs)
	discoverer.SourceTimeout = engine.SourceTimeout
	report := discoverer.Run(ctx, registry.Sources)
	now := time.Now()

	printSources(report)

	profile := models.OrganizationProfile{
		Type:       *orgType,
		FocusAreas: splitList(*focus),
		Geography:  *geo,
	}
	if *needMin > 0 || *needMax > 0 {
		profile.Need = &models.AmountRange{Min: *needMin, Max: *needMax}
	}
	results := matching.NewEngine(engine.Matching).Rank(report.Records, profile, now)
	printMatches(results, *limit)

	preds := recurrence.NewPredictor(engine.Recurrence).PredictRecords(report.Records, now)
	if len(preds) > 0 {
		printPredictions(preds)
	}

	if report.Cancelled {
		fmt.Fprintln(os.Stderr, "Run was cancelled; results are partial.")
	}
}

func printSources(report *ingest.DiscoveryReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Sources")
	t.AppendHeader(table.Row{"Source", "Stage", "Records", "Rejected", "Duration", "Error"})
	for _, s := range report.Sources {
		t.AppendRow(table.Row{s.SourceID, s.Stage, s.Records, s.Rejected, s.Duration.Round(time.Millisecond), ingest.TruncateText(s.Error, 60)})
	}
	t.AppendFooter(table.Row{"", "", len(report.Records), "", "", fmt.Sprintf("%d duplicates, %d domains cooling down", report.Duplicates, report.Health.CoolingDown)})
	t.Render()
}

func printMatches(results []models.MatchResult, limit int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Matches")
	t.AppendHeader(table.Row{"#", "Score", "Title", "Amount", "Deadline", "Confidence", "Source"})
	for i, r := range results {
		if i >= limit {
			break
		}
		deadline := "-"
		if r.Grant.Deadline != nil {
			deadline = r.Grant.Deadline.Format("2006-01-02")
		}
		t.AppendRow(table.Row{i + 1, fmt.Sprintf("%.3f", r.Score), ingest.TruncateText(r.Grant.Title, 60),
			r.Grant.AmountLabel(), deadline, r.Grant.Confidence, r.Grant.SourceID})
	}
	t.Render()
}

func printPredictions(preds []models.RecurrencePrediction) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Predicted openings")
	t.AppendHeader(table.Row{"Family", "History", "Window", "Confidence"})
	for _, p := range preds {
		t.AppendRow(table.Row{ingest.TruncateText(p.FamilyID, 60), len(p.History),
			p.WindowStart.Format("2006-01-02") + " .. " + p.WindowEnd.Format("2006-01-02"),
			fmt.Sprintf("%.2f", p.Confidence)})
	}
	t.Render()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
