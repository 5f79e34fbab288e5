package ingest

import (
	"log"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// FetchErrorKind classifies a failed fetch attempt.
type FetchErrorKind int

const (
	KindOther FetchErrorKind = iota
	KindForbidden
	KindNotFound
	KindDNSUnreachable
	KindTimeout
)

func (k FetchErrorKind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindDNSUnreachable:
		return "dns_unreachable"
	case KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// HealthConfig tunes when a domain enters cooldown and for how long.
type HealthConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CooldownBase     time.Duration `yaml:"cooldown_base"`
	CooldownCap      time.Duration `yaml:"cooldown_cap"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		CooldownBase:     5 * time.Minute,
		CooldownCap:      time.Hour,
	}
}

// DomainHealth is a point-in-time copy of one domain's state.
type DomainHealth struct {
	Domain              string         `json:"domain"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	CooldownUntil       time.Time      `json:"cooldown_until"`
	LastErrorKind       FetchErrorKind `json:"-"`
	LastError           string         `json:"last_error,omitempty"`
	Rotations           int            `json:"rotations"`
	Cooldowns           int            `json:"cooldowns"`
	Failures            int            `json:"failures"`
	Successes           int            `json:"successes"`
}

// HealthSummary holds the counts a caller needs to tell "nothing found" apart
// from "some sources unreachable".
type HealthSummary struct {
	Domains     int `json:"domains"`
	Healthy     int `json:"healthy"`
	Failing     int `json:"failing"`
	CoolingDown int `json:"cooling_down"`
	Rotated     int `json:"rotated"`
}

type domainEntry struct {
	mu    sync.Mutex
	state DomainHealth
}

// DomainHealthTracker keeps per-domain failure state shared by every fetch in a
// run. Each domain has its own lock.
type DomainHealthTracker struct {
	cfg     HealthConfig
	now     func() time.Time
	mu      sync.RWMutex
	domains map[string]*domainEntry
}

func NewDomainHealthTracker(cfg HealthConfig) *DomainHealthTracker {
	def := DefaultHealthConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = def.CooldownBase
	}
	if cfg.CooldownCap <= 0 {
		cfg.CooldownCap = def.CooldownCap
	}
	return &DomainHealthTracker{
		cfg:     cfg,
		now:     time.Now,
		domains: make(map[string]*domainEntry),
	}
}

// WithClock replaces the time source. Used by tests.
func (t *DomainHealthTracker) WithClock(now func() time.Time) *DomainHealthTracker {
	t.now = now
	return t
}

func (t *DomainHealthTracker) entry(domain string) *domainEntry {
	domain = normalizeDomain(domain)

	t.mu.RLock()
	e, ok := t.domains[domain]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.domains[domain]; ok {
		return e
	}
	e = &domainEntry{state: DomainHealth{Domain: domain}}
	t.domains[domain] = e
	return e
}

// CheckDomain reports whether the domain may be contacted and, if not, how long
// the cooldown has left.
func (t *DomainHealthTracker) CheckDomain(domain string) (bool, time.Duration) {
	e := t.entry(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.state.CooldownUntil.Sub(t.now())
	if remaining > 0 {
		return false, remaining
	}
	return true, 0
}

// RecordFailure counts a failure. DNS and 404 failures accumulate toward a
// cooldown; 403 bumps the user-agent rotation counter instead.
func (t *DomainHealthTracker) RecordFailure(domain string, kind FetchErrorKind) {
	e := t.entry(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.state
	s.Failures++
	s.LastErrorKind = kind
	s.LastError = kind.String()

	switch kind {
	case KindForbidden:
		s.Rotations++
	case KindDNSUnreachable, KindNotFound:
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= t.cfg.FailureThreshold {
			d := t.cooldownFor(s.Cooldowns)
			s.CooldownUntil = t.now().Add(d)
			s.Cooldowns++
			s.ConsecutiveFailures = 0
			log.Printf("[health] %s cooling down for %s after repeated %s", s.Domain, d, kind)
		}
	}
}

// RecordSuccess clears every counter for the domain.
func (t *DomainHealthTracker) RecordSuccess(domain string) {
	e := t.entry(domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = DomainHealth{Domain: e.state.Domain, Successes: e.state.Successes + 1}
}

// Rotations returns how many 403s have been seen since the last success.
func (t *DomainHealthTracker) Rotations(domain string) int {
	e := t.entry(domain)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Rotations
}

func (t *DomainHealthTracker) cooldownFor(previous int) time.Duration {
	d := t.cfg.CooldownBase
	for i := 0; i < previous; i++ {
		d *= 2
		if d >= t.cfg.CooldownCap {
			return t.cfg.CooldownCap
		}
	}
	if d > t.cfg.CooldownCap {
		return t.cfg.CooldownCap
	}
	return d
}

// Snapshot returns a copy of every tracked domain, sorted by name.
func (t *DomainHealthTracker) Snapshot() []DomainHealth {
	t.mu.RLock()
	entries := make([]*domainEntry, 0, len(t.domains))
	for _, e := range t.domains {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]DomainHealth, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.state)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

func (t *DomainHealthTracker) Summary() HealthSummary {
	now := t.now()
	var sum HealthSummary
	for _, d := range t.Snapshot() {
		sum.Domains++
		switch {
		case d.CooldownUntil.After(now):
			sum.CoolingDown++
		case d.Failures > 0:
			sum.Failing++
		default:
			sum.Healthy++
		}
		if d.Rotations > 0 {
			sum.Rotated++
		}
	}
	return sum
}

// domainOf returns the tracker key for a URL.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeDomain(u.Host)
}

func normalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
