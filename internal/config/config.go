package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/matching"
	"github.com/david/grant-discovery/internal/recurrence"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration read from the environment.
type Config struct {
	Env            string
	ListenAddr     string
	DatabaseURL    string
	SourcesPath    string
	EngineConfig   string
	MaxConcurrency int
	ProbeURLs      bool
	CORSOrigins    []string
}

func Load() (Config, error) {
	cfg := Config{
		Env:            getenv("APP_ENV", "development"),
		ListenAddr:     getenv("LISTEN_ADDR", ":8081"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		SourcesPath:    getenv("SOURCES_PATH", ""),
		EngineConfig:   getenv("ENGINE_CONFIG", ""),
		MaxConcurrency: getenvInt("MAX_CONCURRENCY", 4),
		ProbeURLs:      getenvBool("PROBE_URLS", false),
		CORSOrigins:    splitCSV(getenv("CORS_ORIGINS", "http://localhost:4200")),
	}
	if cfg.MaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", cfg.MaxConcurrency)
	}
	return cfg, nil
}

// Engine holds the tunable defaults of every engine component.
type Engine struct {
	Matching      matching.Config     `yaml:"matching"`
	Health        ingest.HealthConfig `yaml:"health"`
	Fetch         ingest.FetchConfig  `yaml:"fetch"`
	Recurrence    recurrence.Config   `yaml:"recurrence"`
	SourceTimeout time.Duration       `yaml:"source_timeout"`
}

func DefaultEngine() Engine {
	return Engine{
		Matching:      matching.DefaultConfig(),
		Health:        ingest.DefaultHealthConfig(),
		Fetch:         ingest.DefaultFetchConfig(),
		Recurrence:    recurrence.DefaultConfig(),
		SourceTimeout: 2 * time.Minute,
	}
}

// LoadEngine reads an engine YAML file over the defaults. An empty path
// returns the defaults.
func LoadEngine(path string) (Engine, error) {
	cfg := DefaultEngine()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse engine config: %w", err)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
