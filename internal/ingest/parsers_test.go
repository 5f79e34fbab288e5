package ingest

import (
	"testing"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		text string
		want *models.AmountRange
	}{
		{"Awards range from $10,000 to $50,000.", &models.AmountRange{Min: 10000, Max: 50000, Currency: "USD"}},
		{"Grants of up to $1.5 million are available", &models.AmountRange{Max: 1500000, Currency: "USD"}},
		{"Minimum award of $5k per project", &models.AmountRange{Min: 5000, Currency: "USD"}},
		{"Funding: EUR 20,000", &models.AmountRange{Max: 20000, Currency: "EUR"}},
		{"£2,500 bursaries for individual artists", &models.AmountRange{Max: 2500, Currency: "GBP"}},
		{"Founded in 2019, we serve 500 students each year", nil},
		{"Call 555-1234 for details", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := parseAmount(tt.text)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("parseAmount(%q) = %+v, want nil", tt.text, got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("parseAmount(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseDeadline(t *testing.T) {
	endOfDay := func(y int, m time.Month, d int) *time.Time {
		t := time.Date(y, m, d, 23, 59, 59, 999999999, time.UTC)
		return &t
	}

	tests := []struct {
		text string
		want *time.Time
	}{
		{"Applications due March 15, 2026", endOfDay(2026, time.March, 15)},
		{"Deadline: 2026-01-31", endOfDay(2026, time.January, 31)},
		{"Closing date: 15 April 2026", endOfDay(2026, time.April, 15)},
		{"Deadline: 4/30/2026 at 5pm ET", endOfDay(2026, time.April, 30)},
		{"Apply by Sept. 1, 2026", endOfDay(2026, time.September, 1)},
		{"Posted on March 1, 2026", nil},
		{"Deadline TBD", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := parseDeadline(tt.text)
			switch {
			case tt.want == nil && got != nil:
				t.Fatalf("parseDeadline(%q) = %v, want nil", tt.text, got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Fatalf("parseDeadline(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-02-01", time.Date(2026, 2, 1, 23, 59, 59, 999999999, time.UTC), false},
		{"Deadline: January 2, 2026", time.Date(2026, 1, 2, 23, 59, 59, 999999999, time.UTC), false},
		{"2026-02-01T10:00:00Z", time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), false},
		{"rolling", time.Time{}, true},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Fatalf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
