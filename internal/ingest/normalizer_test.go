package ingest

import (
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/david/grant-discovery/internal/models"
)

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://WWW.Arts.gov/grants?utm_source=newsletter&id=5#apply", "https://www.arts.gov/grants?id=5"},
		{"https://www.neh.gov/program?fbclid=abc", "https://www.neh.gov/program"},
		{" https://www.ed.gov/grants ", "https://www.ed.gov/grants"},
	}
	for _, tt := range tests {
		if got := CanonicalizeURL(tt.in); got != tt.want {
			t.Fatalf("CanonicalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextHelpers(t *testing.T) {
	if got := HTMLToText("<p>Grants for <b>Arts</b>\n Projects</p>"); got != "Grants for Arts Projects" {
		t.Fatalf("HTMLToText = %q", got)
	}
	if got := sanitizeText("<script>alert(1)</script>Challenge <i>America</i>"); got != "Challenge America" {
		t.Fatalf("sanitizeText = %q", got)
	}
	if got := sanitizeText(`Women's Arts & Culture: grants < $5,000 for "community" groups`); got != `Women's Arts & Culture: grants < $5,000 for "community" groups` {
		t.Fatalf("sanitizeText escaped plain text: %q", got)
	}
	if got := normalizeTitle("FY-2026: Arts & Culture!"); got != "fy 2026 arts culture" {
		t.Fatalf("normalizeTitle = %q", got)
	}
	if got := resolveURL("https://www.arts.gov/grants/", "../about"); got != "https://www.arts.gov/about" {
		t.Fatalf("resolveURL = %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	accented := "ab" + strings.Repeat("é", 10)
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short", "Arts", 10, "Arts"},
		{"ascii", "Public Humanities Projects", 10, "Public ..."},
		{"cut inside rune", accented, 8, "abé..."},
		{"cut on rune", accented, 9, "abéé..."},
		{"no room for ellipsis", accented, 3, "ab"},
		{"curly quotes", "\u201cArts\u201d grant", 6, "\u201c..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateText(tt.in, tt.maxLen)
			if got != tt.want {
				t.Fatalf("TruncateText = %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) || len(got) > tt.maxLen {
				t.Fatalf("TruncateText produced %q", got)
			}
		})
	}
}

func TestInferTags(t *testing.T) {
	if got := inferFocusAreas("Music education for youth", "arts"); !reflect.DeepEqual(got, []string{"arts", "education", "youth"}) {
		t.Fatalf("inferFocusAreas = %v", got)
	}
	if got := inferFocusAreas("Small business innovation", "federal"); !reflect.DeepEqual(got, []string{"economic-development", "research"}) {
		t.Fatalf("inferFocusAreas federal = %v", got)
	}
	if got := inferEligibility("Open to nonprofit organizations and public school districts"); !reflect.DeepEqual(got, []string{"nonprofit", "school"}) {
		t.Fatalf("inferEligibility = %v", got)
	}
}

func TestNewCandidate(t *testing.T) {
	src := models.SourceDescriptor{ID: "nea_grants", Name: "National Endowment for the Arts", Category: "arts", Region: "US"}
	doc := &FetchedDocument{URL: "https://www.arts.gov/grants", FetchedAt: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}

	rec := newCandidate(src, doc, "arts", "Challenge America", "/grants/challenge-america",
		"Awards of $10,000 for small organizations. Deadline: April 10, 2026")

	if rec.ApplicationURL != "https://www.arts.gov/grants/challenge-america" {
		t.Fatalf("ApplicationURL = %s", rec.ApplicationURL)
	}
	if rec.SourceURL != "https://www.arts.gov/grants" || rec.SourceDomain != "www.arts.gov" {
		t.Fatalf("unexpected source fields: %s %s", rec.SourceURL, rec.SourceDomain)
	}
	if rec.Amount == nil || rec.Amount.Max != 10000 {
		t.Fatalf("Amount = %+v", rec.Amount)
	}
	if rec.Deadline == nil || rec.Deadline.Format("2006-01-02") != "2026-04-10" {
		t.Fatalf("Deadline = %v", rec.Deadline)
	}
	if rec.Confidence != models.ConfidenceVerified || rec.Geography != "us" || rec.Strategy != "arts" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ID != models.NewRecordID("nea_grants", "Challenge America", rec.ApplicationURL) {
		t.Fatalf("record id is not deterministic")
	}

	noLink := newCandidate(src, doc, "keyword", "Grants for Arts Projects", "", "")
	if noLink.ApplicationURL != noLink.SourceURL || noLink.Amount != nil || noLink.Deadline != nil {
		t.Fatalf("expected source url fallback and no amount/deadline: %+v", noLink)
	}
}
