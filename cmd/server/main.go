package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/grant-discovery/internal/api"
	"github.com/david/grant-discovery/internal/config"
	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/matching"
	"github.com/david/grant-discovery/internal/recurrence"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	engine, err := config.LoadEngine(cfg.EngineConfig)
	if err != nil {
		log.Fatalf("Invalid engine configuration: %v", err)
	}
	registry, err := ingest.LoadRegistry(cfg.SourcesPath)
	if err != nil {
		log.Fatalf("Failed to load source registry: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	discoverer := ingest.NewDefaultDiscoverer(engine.Fetch, engine.Health, cfg.ProbeURLs)
	discoverer.SourceTimeout = engine.SourceTimeout
	discoverer.MaxConcurrency = cfg.MaxConcurrency

	opts := api.Options{
		Registry:       registry,
		Discoverer:     discoverer,
		Matcher:        matching.NewEngine(engine.Matching),
		Predictor:      recurrence.NewPredictor(engine.Recurrence),
		Health:         discoverer.Health,
		MaxConcurrency: cfg.MaxConcurrency,
		CORSOrigins:    cfg.CORSOrigins,
	}

	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		if err := db.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		opts.Store = db.NewStore(pool)
	} else {
		log.Printf("DATABASE_URL not set, results are kept in memory only")
	}

	srv := api.NewServer(opts)
	go func() {
		log.Printf("Server starting on %s with %d sources...", cfg.ListenAddr, len(registry.Sources))
		if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
