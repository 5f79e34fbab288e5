package ingest

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

var placeholderHosts = []string{
	"example.com", "example.org", "example.net", "localhost",
	"yourdomain.com", "your-domain.com", "domain.com", "test.com",
}

var placeholderHostSuffixes = []string{".example", ".invalid", ".test", ".localhost"}

var placeholderURLMarkers = []string{
	"placeholder", "page-not-found", "pagenotfound", "not-found", "lorem",
	"your-url", "yoursite", "dummy", "{", "}",
}

// syntheticIDPatterns match opportunity identifiers that only appear in
// generated data (grant-001, opp_12345, id=99999).
var syntheticIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(grant|opp|opportunity|award|program)[-_]?0{2,}[1-9]\b`),
	regexp.MustCompile(`(?i)(grant|opp|opportunity|award|program|id)[-_=/]?(12345|123456|1234567|99999|00000|11111)\b`),
	regexp.MustCompile(`(?i)[?&](opp_?id|opportunity_?id|grant_?id)=(0|1|x+|n/a)(&|$)`),
}

var fabricationPattern = regexp.MustCompile(`(?i)\b(sample|fake|demo|dummy|placeholder|lorem ipsum)\b|\btest grant\b|\bgrant [0-9]+ of [0-9]+\b`)

// resultsKeywords indicate an announcement of winners rather than an open call.
var resultsKeywords = []string{
	"final results",
	"winners announced",
	"awards announced",
	"awardees selected",
	"recipients announced",
	"results published",
	"results available",
}

var placeholderAmounts = map[float64]bool{
	1234: true, 12345: true, 123456: true, 1234567: true,
	9999: true, 99999: true, 999999: true, 9999999: true,
	11111: true, 111111: true,
}

// Validator is the integrity filter every candidate record passes through.
// URL probing is optional and results are cached per URL.
type Validator struct {
	Probe        bool
	ProbeTimeout time.Duration
	Client       *http.Client

	mu    sync.Mutex
	cache map[string]bool
}

func NewValidator(probe bool) *Validator {
	return &Validator{
		Probe:        probe,
		ProbeTimeout: 3 * time.Second,
		Client: &http.Client{
			Transport: newSafeClient().Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cache: make(map[string]bool),
	}
}

// IsRealURL reports whether a URL is plausible and, when probing is enabled,
// reachable.
func (v *Validator) IsRealURL(ctx context.Context, rawURL string) bool {
	return v.CheckURL(ctx, rawURL) == nil
}

// CheckURL returns a *RejectionError describing why the URL was refused.
func (v *Validator) CheckURL(ctx context.Context, rawURL string) error {
	if err := checkURLShape(rawURL); err != nil {
		return err
	}
	if !v.Probe {
		return nil
	}
	if !v.probe(ctx, rawURL) {
		return reject("unreachable url %s", rawURL)
	}
	return nil
}

func checkURLShape(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return reject("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return reject("unparseable url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return reject("unsupported scheme %q", u.Scheme)
	}
	host := normalizeDomain(u.Host)
	if host == "" || !strings.Contains(host, ".") {
		return reject("missing host in %q", rawURL)
	}
	for _, h := range placeholderHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return reject("placeholder host %s", host)
		}
	}
	for _, suffix := range placeholderHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return reject("reserved host %s", host)
		}
	}
	lower := strings.ToLower(rawURL)
	for _, marker := range placeholderURLMarkers {
		if strings.Contains(lower, marker) {
			return reject("placeholder marker %q in url", marker)
		}
	}
	for _, re := range syntheticIDPatterns {
		if re.MatchString(u.Path + "?" + u.RawQuery) {
			return reject("synthetic opportunity id in %s", rawURL)
		}
	}
	return nil
}

// probe issues a HEAD request. 405 and 501 mean the server exists but
// refuses HEAD, so they count as reachable.
func (v *Validator) probe(ctx context.Context, rawURL string) bool {
	v.mu.Lock()
	if ok, cached := v.cache[rawURL]; cached {
		v.mu.Unlock()
		return ok
	}
	v.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, v.ProbeTimeout)
	defer cancel()

	ok := false
	req, err := http.NewRequestWithContext(pctx, http.MethodHead, rawURL, nil)
	if err == nil {
		req.Header.Set("User-Agent", defaultUserAgents[0])
		if resp, err := v.Client.Do(req); err == nil {
			resp.Body.Close()
			code := resp.StatusCode
			ok = (code >= 200 && code < 400) || code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented
		}
	}

	// A cancelled caller says nothing about the URL.
	if ctx.Err() != nil {
		return ok
	}
	v.mu.Lock()
	v.cache[rawURL] = ok
	v.mu.Unlock()
	return ok
}

// IsRealGrantData reports whether a record passes every integrity rule.
func (v *Validator) IsRealGrantData(ctx context.Context, rec models.GrantRecord) bool {
	return v.ValidateRecord(ctx, rec) == nil
}

// ValidateRecord returns nil for acceptable records and a *RejectionError
// otherwise.
func (v *Validator) ValidateRecord(ctx context.Context, rec models.GrantRecord) error {
	title := strings.TrimSpace(rec.Title)
	if len(title) < 5 {
		return reject("title too short: %q", title)
	}

	text := title + " " + rec.Description
	if m := fabricationPattern.FindString(text); m != "" {
		return reject("fabrication marker %q", strings.ToLower(m))
	}
	if isResultsText(title) {
		return reject("results announcement: %q", title)
	}

	switch rec.Confidence {
	case models.ConfidenceVerified:
	case models.ConfidenceInformational:
		if strings.TrimSpace(rec.Disclaimer) == "" {
			return reject("informational record without disclaimer")
		}
		if rec.Amount != nil || rec.Deadline != nil {
			return reject("informational record carries amount or deadline")
		}
	default:
		return reject("unknown extraction confidence %q", rec.Confidence)
	}

	if rec.Amount != nil {
		if err := checkAmount(*rec.Amount); err != nil {
			return err
		}
	}
	if rec.Deadline != nil {
		if y := rec.Deadline.Year(); y < 1990 || y >= 2099 {
			return reject("implausible deadline %s", rec.Deadline.Format("2006-01-02"))
		}
	}

	if err := v.CheckURL(ctx, rec.SourceURL); err != nil {
		return err
	}
	if rec.ApplicationURL != "" && rec.ApplicationURL != rec.SourceURL {
		if err := v.CheckURL(ctx, rec.ApplicationURL); err != nil {
			return err
		}
	}
	return nil
}

func checkAmount(a models.AmountRange) error {
	switch {
	case a.Min < 0 || a.Max < 0:
		return reject("negative amount")
	case a.Min == 0 && a.Max == 0:
		return reject("zero amount")
	case a.Max > 0 && a.Min > a.Max:
		return reject("amount range inverted")
	case a.Upper() > 1e10:
		return reject("implausible amount %.0f", a.Upper())
	case placeholderAmounts[a.Min] || placeholderAmounts[a.Max]:
		return reject("placeholder amount %s", a.String())
	}
	return nil
}

func isResultsText(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range resultsKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// filterValid keeps only records that pass validation, logging each rejection.
func (v *Validator) filterValid(ctx context.Context, sourceID string, candidates []models.GrantRecord) ([]models.GrantRecord, int) {
	out := make([]models.GrantRecord, 0, len(candidates))
	rejected := 0
	for _, rec := range candidates {
		if err := v.ValidateRecord(ctx, rec); err != nil {
			rejected++
			log.Printf("[%s] dropped candidate %q: %v", sourceID, TruncateText(rec.Title, 80), err)
			continue
		}
		out = append(out, rec)
	}
	return out, rejected
}
