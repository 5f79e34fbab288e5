package ingest

import (
	"strings"
	"testing"
)

func TestLoadRegistry_Embedded(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if len(reg.Sources) < 5 {
		t.Fatalf("expected the embedded registry to list several sources, got %d", len(reg.Sources))
	}

	factory := DefaultStrategyFactory()
	for _, src := range reg.Sources {
		if _, err := factory.Get(src.Strategy); err != nil {
			t.Errorf("source %s: %v", src.ID, err)
		}
		for _, u := range src.URLs() {
			if err := checkURLShape(u); err != nil {
				t.Errorf("source %s: %v", src.ID, err)
			}
		}
	}

	nea, ok := reg.Get("nea_grants")
	if !ok || nea.PrimaryURL != "https://www.arts.gov/grants" || len(nea.FallbackURLs) == 0 {
		t.Fatalf("unexpected nea_grants descriptor: %+v", nea)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("Get should miss unknown ids")
	}
}

func TestParseRegistry(t *testing.T) {
	t.Setenv("GRANTS_HOST", "www.neh.gov")

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "valid with env expansion",
			yaml: `
sources:
  - id: neh
    primary_url: https://${GRANTS_HOST}/grants
    strategy: keyword
`,
		},
		{
			name: "duplicate id",
			yaml: `
sources:
  - id: neh
    primary_url: https://www.neh.gov/grants
  - id: neh
    primary_url: https://www.neh.gov/program/all
`,
			wantErr: "duplicate source id: neh",
		},
		{
			name: "missing url",
			yaml: `
sources:
  - id: neh
`,
			wantErr: "has no primary_url",
		},
		{
			name:    "malformed",
			yaml:    "sources: [",
			wantErr: "failed to parse registry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := ParseRegistry([]byte(tt.yaml))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRegistry failed: %v", err)
			}
			if reg.Sources[0].PrimaryURL != "https://www.neh.gov/grants" {
				t.Fatalf("env not expanded: %s", reg.Sources[0].PrimaryURL)
			}
		})
	}
}

func TestRegistryFilter(t *testing.T) {
	reg, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}

	arts := reg.Filter(nil, "arts")
	if len(arts.Sources) == 0 {
		t.Fatalf("expected arts sources")
	}
	for _, src := range arts.Sources {
		if src.Category != "arts" {
			t.Fatalf("unexpected category %s", src.Category)
		}
	}

	one := reg.Filter([]string{"ed_grants"}, "")
	if len(one.Sources) != 1 || one.Sources[0].ID != "ed_grants" {
		t.Fatalf("unexpected filter result: %+v", one.Sources)
	}
}
