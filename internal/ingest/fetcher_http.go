package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/david/grant-discovery/internal/models"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// FetchConfig defines HTTP fetching behaviour shared by all sources.
type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	TimeoutIncrement time.Duration `yaml:"timeout_increment"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	MaxJitter        time.Duration `yaml:"max_jitter"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"` // per domain, 0 disables
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	AcceptLanguage   string        `yaml:"accept_language"`
	UserAgents       []string      `yaml:"user_agents"`
}

func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Timeout:          10 * time.Second,
		TimeoutIncrement: 5 * time.Second,
		MaxAttempts:      3,
		BackoffBase:      time.Second,
		MaxJitter:        250 * time.Millisecond,
		RateLimitRPS:     1.0,
		MaxBodyBytes:     5 << 20,
		AcceptLanguage:   "en-US,en;q=0.5",
		UserAgents:       defaultUserAgents,
	}
}

func (c FetchConfig) withDefaults() FetchConfig {
	def := DefaultFetchConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.TimeoutIncrement < 0 {
		c.TimeoutIncrement = 0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = def.AcceptLanguage
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = def.UserAgents
	}
	return c
}

// RobustFetcher walks a source's URLs with retries, progressive timeouts,
// user-agent rotation and domain-health gating.
type RobustFetcher struct {
	Client *http.Client
	Health *DomainHealthTracker

	cfg       FetchConfig
	uaCounter atomic.Uint64
	mu        sync.RWMutex
	limiters  map[string]*rate.Limiter
}

func NewRobustFetcher(cfg FetchConfig, health *DomainHealthTracker) *RobustFetcher {
	if health == nil {
		health = NewDomainHealthTracker(DefaultHealthConfig())
	}
	return &RobustFetcher{
		Client:   newSafeClient(),
		Health:   health,
		cfg:      cfg.withDefaults(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch tries the primary URL then each fallback, stopping at the first
// success. It never panics on network conditions; when all URLs fail it
// returns a *FetchError listing every attempt.
func (f *RobustFetcher) Fetch(ctx context.Context, src models.SourceDescriptor) (*FetchedDocument, error) {
	fetchErr := &FetchError{SourceID: src.ID}

	for _, rawURL := range src.URLs() {
		domain := domainOf(rawURL)
		if domain == "" {
			fetchErr.Attempts = append(fetchErr.Attempts, FetchAttempt{URL: rawURL, Kind: KindOther, KindName: KindOther.String(), Err: "invalid url"})
			continue
		}

		for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}

			if ok, remaining := f.Health.CheckDomain(domain); !ok {
				log.Printf("[%s] skipping %s: %s cooling down for %s", src.ID, rawURL, domain, remaining.Round(time.Second))
				fetchErr.Attempts = append(fetchErr.Attempts, FetchAttempt{URL: rawURL, Attempt: attempt, Kind: KindOther, KindName: "cooldown", Skipped: true})
				break
			}

			if attempt > 0 {
				if err := sleepContext(ctx, f.backoff(attempt)); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
				}
			}

			doc, att := f.attempt(ctx, domain, rawURL, attempt)
			if doc != nil {
				f.Health.RecordSuccess(domain)
				return doc, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}

			fetchErr.Attempts = append(fetchErr.Attempts, att)
			f.Health.RecordFailure(domain, att.Kind)
			log.Printf("[%s] attempt %d for %s failed: %s", src.ID, attempt+1, rawURL, att.KindName)

			if !shouldRetry(att) {
				break
			}
		}
	}

	return nil, fetchErr
}

func (f *RobustFetcher) attempt(ctx context.Context, domain, rawURL string, attempt int) (*FetchedDocument, FetchAttempt) {
	att := FetchAttempt{URL: rawURL, Attempt: attempt}
	start := time.Now()

	fail := func(kind FetchErrorKind, status int, err error) (*FetchedDocument, FetchAttempt) {
		att.Kind = kind
		att.KindName = kind.String()
		att.StatusCode = status
		if err != nil {
			att.Err = err.Error()
		}
		att.Duration = time.Since(start)
		return nil, att
	}

	if limiter := f.limiter(domain); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fail(KindOther, 0, err)
		}
	}

	timeout := f.cfg.Timeout + time.Duration(attempt)*f.cfg.TimeoutIncrement
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fail(KindOther, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent(domain))
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7")
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.Client.Do(req)
	if err != nil {
		return fail(classifyError(err), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(classifyStatus(resp.StatusCode), resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	var body io.Reader = io.LimitReader(resp.Body, f.cfg.MaxBodyBytes)
	if isTextual(contentType) {
		if decoded, err := charset.NewReader(body, contentType); err == nil {
			body = decoded
		}
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return fail(classifyError(err), resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	effective := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		effective = resp.Request.URL.String()
	}

	att.Duration = time.Since(start)
	return &FetchedDocument{
		URL:          effective,
		RequestedURL: rawURL,
		StatusCode:   resp.StatusCode,
		ContentType:  contentType,
		Content:      content,
		FetchedAt:    time.Now(),
	}, att
}

// userAgent rotates per request; every 403 recorded for the domain shifts
// the rotation further.
func (f *RobustFetcher) userAgent(domain string) string {
	n := uint64(len(f.cfg.UserAgents))
	idx := f.uaCounter.Add(1) + uint64(f.Health.Rotations(domain))
	return f.cfg.UserAgents[idx%n]
}

func (f *RobustFetcher) limiter(domain string) *rate.Limiter {
	if f.cfg.RateLimitRPS <= 0 {
		return nil
	}

	f.mu.RLock()
	l, ok := f.limiters[domain]
	f.mu.RUnlock()
	if ok {
		return l
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Double-check after acquiring write lock
	if l, ok := f.limiters[domain]; ok {
		return l
	}
	l = rate.NewLimiter(rate.Limit(f.cfg.RateLimitRPS), 1)
	f.limiters[domain] = l
	return l
}

// backoff returns base*2^(attempt-1) plus jitter: 1s, 2s, 4s with defaults.
func (f *RobustFetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
	if f.cfg.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(f.cfg.MaxJitter)))
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classifyError(err error) FetchErrorKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNSUnreachable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindOther
}

func classifyStatus(code int) FetchErrorKind {
	switch code {
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound
	default:
		return KindOther
	}
}

// shouldRetry determines if a failed attempt is worth repeating on the same URL.
func shouldRetry(att FetchAttempt) bool {
	switch att.Kind {
	case KindTimeout, KindForbidden, KindDNSUnreachable:
		return true
	case KindNotFound:
		return false
	}
	switch {
	case att.StatusCode == 0:
		return true
	case att.StatusCode == http.StatusTooManyRequests:
		return true
	case att.StatusCode >= 500:
		return true
	}
	return false
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml") || strings.HasPrefix(ct, "text/")
}
