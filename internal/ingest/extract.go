package ingest

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"github.com/david/grant-discovery/internal/models"
)

const (
	keywordStrategyID       = "keyword"
	informationalStrategyID = "informational"
)

// OutcomeKind names the chain stage that produced a result.
type OutcomeKind int

const (
	OutcomeEmpty OutcomeKind = iota
	OutcomeStructured
	OutcomeKeywordScan
	OutcomeInformationalOnly
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStructured:
		return "structured"
	case OutcomeKeywordScan:
		return "keyword_scan"
	case OutcomeInformationalOnly:
		return "informational_only"
	default:
		return "empty"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ExtractionOutcome is the result of running the strategy chain on one
// document. Records are always validated.
type ExtractionOutcome struct {
	Kind     OutcomeKind          `json:"kind"`
	Records  []models.GrantRecord `json:"-"`
	Rejected int                  `json:"rejected"`
	Errors   []string             `json:"errors,omitempty"`
}

// Extractor runs the chain: source-specific strategy, keyword scan, then the
// informational fallback. The first stage with a validated record wins.
type Extractor struct {
	Strategies *StrategyFactory
	Validator  *Validator
	Keyword    ExtractionStrategy
}

func NewExtractor(strategies *StrategyFactory, validator *Validator) *Extractor {
	if strategies == nil {
		strategies = DefaultStrategyFactory()
	}
	if validator == nil {
		validator = NewValidator(false)
	}
	keyword, err := strategies.Get(keywordStrategyID)
	if err != nil {
		keyword = &KeywordStrategy{}
	}
	return &Extractor{Strategies: strategies, Validator: validator, Keyword: keyword}
}

// Extract returns the records for a document; see Run for the full outcome.
func (x *Extractor) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) []models.GrantRecord {
	return x.Run(ctx, src, doc).Records
}

func (x *Extractor) Run(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ExtractionOutcome {
	var out ExtractionOutcome

	stage := func(kind OutcomeKind, strategy ExtractionStrategy) bool {
		candidates, err := strategy.Extract(ctx, src, doc)
		if err != nil {
			log.Printf("[%s] %s extraction failed: %v", src.ID, kind, err)
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", kind, err))
		}
		valid, rejected := x.Validator.filterValid(ctx, src.ID, candidates)
		out.Rejected += rejected
		if len(valid) == 0 {
			return false
		}
		out.Kind = kind
		out.Records = valid
		return true
	}

	if src.Strategy != "" && src.Strategy != keywordStrategyID && !doc.IsPDF() {
		if strategy, err := x.Strategies.Get(src.Strategy); err != nil {
			log.Printf("[%s] %v, falling back to keyword scan", src.ID, err)
			out.Errors = append(out.Errors, err.Error())
		} else if stage(OutcomeStructured, strategy) {
			return out
		}
	}

	if stage(OutcomeKeywordScan, x.Keyword) {
		return out
	}

	if stage(OutcomeInformationalOnly, informationalFallback{}) {
		return out
	}

	log.Printf("[%s] no records extracted from %s", src.ID, doc.URL)
	return out
}

const informationalDisclaimer = "Informational listing only: no specific opportunity was extracted from this source. Verify current availability directly with the funder before applying."

// informationalFallback points at the source's root and finance pages
// without claiming any opportunity-specific detail.
type informationalFallback struct{}

func (informationalFallback) Extract(_ context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	root := rootURL(doc.URL)
	if root == "" {
		return nil, fmt.Errorf("no root url for %s", doc.URL)
	}

	name := src.Name
	if name == "" {
		name = domainOf(root)
	}

	records := []models.GrantRecord{informationalRecord(src, doc, root, name+" funding programs",
		fmt.Sprintf("%s publishes funding programs at %s.", name, root))}

	if src.FinanceURL != "" {
		finance := CanonicalizeURL(resolveURL(root, src.FinanceURL))
		if finance != "" && finance != root {
			records = append(records, informationalRecord(src, doc, finance, name+" financial assistance information",
				fmt.Sprintf("Financial assistance information from %s.", name)))
		}
	}
	return records, nil
}

func informationalRecord(src models.SourceDescriptor, doc *FetchedDocument, link, title, description string) models.GrantRecord {
	return models.GrantRecord{
		ID:           models.NewRecordID(src.ID, title, link),
		Title:        title,
		Description:  description,
		FocusAreas:   inferFocusAreas("", src.Category),
		Geography:    regionOf(src),
		SourceURL:    link,
		SourceID:     src.ID,
		SourceName:   src.Name,
		SourceDomain: domainOf(link),
		Confidence:   models.ConfidenceInformational,
		Disclaimer:   informationalDisclaimer,
		Strategy:     informationalStrategyID,
		FetchedAt:    doc.FetchedAt,
	}
}

func rootURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}).String()
}
