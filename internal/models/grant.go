package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExtractionConfidence is the trust level attached to every emitted record.
type ExtractionConfidence string

const (
	ConfidenceVerified      ExtractionConfidence = "verified-real-source"
	ConfidenceInformational ExtractionConfidence = "informational-only"
)

// Rank orders confidences so that higher is more trusted.
func (c ExtractionConfidence) Rank() int {
	switch c {
	case ConfidenceVerified:
		return 2
	case ConfidenceInformational:
		return 1
	default:
		return 0
	}
}

// AmountRange is a funding range in a single currency. A zero Min means "up to Max".
type AmountRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
}

// Upper returns the effective ceiling of the range.
func (a AmountRange) Upper() float64 {
	if a.Max > 0 {
		return a.Max
	}
	return a.Min
}

// Contains reports whether [lo, hi] lies fully within the range.
func (a AmountRange) Contains(lo, hi float64) bool {
	return lo >= a.Min && hi <= a.Upper()
}

func (a AmountRange) String() string {
	cur := a.Currency
	if cur == "" {
		cur = "USD"
	}
	switch {
	case a.Min > 0 && a.Max > 0 && a.Min != a.Max:
		return fmt.Sprintf("%s %.0f-%.0f", cur, a.Min, a.Max)
	case a.Max > 0:
		return fmt.Sprintf("%s up to %.0f", cur, a.Max)
	default:
		return fmt.Sprintf("%s %.0f", cur, a.Min)
	}
}

// GrantRecord is a validated grant listing. A nil Amount or Deadline means the
// source did not state one.
type GrantRecord struct {
	ID                uuid.UUID            `json:"id"`
	Title             string               `json:"title"`
	Description       string               `json:"description"`
	Amount            *AmountRange         `json:"amount"`
	FocusAreas        []string             `json:"focus_areas"`
	Eligibility       []string             `json:"eligibility"`
	Geography         string               `json:"geography,omitempty"`
	ExcludedGeography []string             `json:"excluded_geography,omitempty"`
	ApplicationURL    string               `json:"application_url,omitempty"`
	SourceURL         string               `json:"source_url"`
	SourceID          string               `json:"source_id"`
	SourceName        string               `json:"source_name"`
	SourceDomain      string               `json:"source_domain"`
	Confidence        ExtractionConfidence `json:"extraction_confidence"`
	Disclaimer        string               `json:"disclaimer,omitempty"`
	Deadline          *time.Time           `json:"deadline"`
	PostedAt          *time.Time           `json:"posted_at,omitempty"`
	Strategy          string               `json:"strategy"`
	FetchedAt         time.Time            `json:"fetched_at"`
}

// AmountLabel renders the amount for display, "unknown" when absent.
func (g GrantRecord) AmountLabel() string {
	if g.Amount == nil {
		return "unknown"
	}
	return g.Amount.String()
}

// NewRecordID derives a stable id so that re-discovering the same listing
// yields the same key.
func NewRecordID(sourceID, title, link string) uuid.UUID {
	name := strings.ToLower(strings.Join([]string{sourceID, strings.TrimSpace(title), link}, "|"))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name))
}
