// Package matching scores grants against an organization profile. Every
// function is pure: the current time is always passed in.
package matching

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

const (
	neutralScore = 0.5
	partialScore = 0.5
)

// Weights for the linear combination. Normalised to sum to 1.0 on use.
type Weights struct {
	Focus    float64 `yaml:"focus" json:"focus"`
	Amount   float64 `yaml:"amount" json:"amount"`
	Geo      float64 `yaml:"geography" json:"geography"`
	Deadline float64 `yaml:"deadline" json:"deadline"`
}

func DefaultWeights() Weights {
	return Weights{Focus: 0.4, Amount: 0.3, Geo: 0.2, Deadline: 0.1}
}

func (w Weights) normalized() Weights {
	if w.Focus < 0 || w.Amount < 0 || w.Geo < 0 || w.Deadline < 0 {
		return DefaultWeights()
	}
	sum := w.Focus + w.Amount + w.Geo + w.Deadline
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{Focus: w.Focus / sum, Amount: w.Amount / sum, Geo: w.Geo / sum, Deadline: w.Deadline / sum}
}

// Config tunes the engine.
type Config struct {
	Weights Weights `yaml:"weights" json:"weights"`
	// AmountTolerance is the fraction of the need beyond which amount fit
	// reaches zero.
	AmountTolerance float64 `yaml:"amount_tolerance" json:"amount_tolerance"`
	// DeadlineLeadDays is the lead time that earns the full deadline bonus.
	DeadlineLeadDays int `yaml:"deadline_lead_days" json:"deadline_lead_days"`
}

func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), AmountTolerance: 0.5, DeadlineLeadDays: 14}
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	cfg.Weights = cfg.Weights.normalized()
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if cfg.DeadlineLeadDays <= 0 {
		cfg.DeadlineLeadDays = def.DeadlineLeadDays
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Score rates one grant for one profile.
func (e *Engine) Score(grant *models.GrantRecord, profile models.OrganizationProfile, now time.Time) models.MatchResult {
	c := models.ScoreComponents{
		FocusOverlap:  FocusOverlap(grant.FocusAreas, profile.FocusAreas),
		AmountFit:     AmountFit(grant.Amount, profile.Need, e.cfg.AmountTolerance),
		GeographyFit:  GeographyFit(grant, profile),
		DeadlineBonus: DeadlineBonus(grant.Deadline, now, e.cfg.DeadlineLeadDays),
	}
	w := e.cfg.Weights
	score := w.Focus*c.FocusOverlap + w.Amount*c.AmountFit + w.Geo*c.GeographyFit + w.Deadline*c.DeadlineBonus

	return models.MatchResult{
		Grant:       grant,
		Score:       clamp01(round6(score)),
		Components:  c,
		TieBreakKey: TieBreakKey(grant),
	}
}

// Rank scores every grant and orders by score, then tie-break key.
func (e *Engine) Rank(grants []models.GrantRecord, profile models.OrganizationProfile, now time.Time) []models.MatchResult {
	out := make([]models.MatchResult, 0, len(grants))
	for i := range grants {
		out = append(out, e.Score(&grants[i], profile, now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].TieBreakKey < out[j].TieBreakKey
	})
	return out
}

// TieBreakKey orders equal scores without reference to input order.
func TieBreakKey(g *models.GrantRecord) string {
	return strings.Join([]string{
		strings.ToLower(strings.Join(strings.Fields(g.Title), " ")),
		g.SourceID,
		g.ApplicationURL,
		g.ID.String(),
	}, "|")
}

// FocusOverlap is the Jaccard index of the two tag sets, case-insensitive.
func FocusOverlap(grantTags, profileTags []string) float64 {
	a, b := tagSet(grantTags), tagSet(profileTags)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// AmountFit is 1 when the grant range covers the need, decays linearly with
// the gap relative to the need, and is neutral when either side is unknown.
func AmountFit(grant, need *models.AmountRange, tolerance float64) float64 {
	if grant == nil || need == nil {
		return neutralScore
	}
	lo, hi := need.Min, need.Upper()
	if lo <= 0 {
		lo = hi
	}
	if hi <= 0 {
		return neutralScore
	}
	if grant.Contains(lo, hi) {
		return 1
	}

	var gap float64
	if lo < grant.Min {
		gap += grant.Min - lo
	}
	if up := grant.Upper(); hi > up {
		gap += hi - up
	}
	band := tolerance * math.Max(hi, 1)
	return clamp01(round6(1 - gap/band))
}

// GeographyFit compares slash-separated scopes such as "us/ca". Exact match
// is 1, a containing or unspecified scope is 0.5, exclusion or an unrelated
// scope is 0. An eligibility list that omits the organization type halves
// the result.
func GeographyFit(grant *models.GrantRecord, profile models.OrganizationProfile) float64 {
	p := normalizeScope(profile.Geography)
	g := normalizeScope(grant.Geography)

	for _, ex := range grant.ExcludedGeography {
		if ex = normalizeScope(ex); ex != "" && p != "" && (p == ex || withinScope(p, ex)) {
			return 0
		}
	}

	var fit float64
	switch {
	case g == "" || p == "":
		fit = partialScore
	case g == p:
		fit = 1
	case g == "international" || g == "global":
		fit = partialScore
	case withinScope(p, g) || withinScope(g, p):
		fit = partialScore
	default:
		fit = 0
	}

	if len(grant.Eligibility) > 0 && profile.Type != "" && !tagSet(grant.Eligibility)[strings.ToLower(profile.Type)] {
		fit *= 0.5
	}
	return fit
}

// DeadlineBonus is 1 when the deadline is at least leadDays away and 0
// otherwise. Past or unknown deadlines earn nothing.
func DeadlineBonus(deadline *time.Time, now time.Time, leadDays int) float64 {
	if deadline == nil || leadDays <= 0 {
		return 0
	}
	if deadline.Sub(now) < time.Duration(leadDays)*24*time.Hour {
		return 0
	}
	return 1
}

func withinScope(inner, outer string) bool {
	return strings.HasPrefix(inner, outer+"/")
}

func normalizeScope(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), "/")
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return set
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// round6 removes floating-point noise so equal inputs compare equal after
// serialisation.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
