// Package recurrence predicts when annually recurring grants will next open
// from the dates earlier editions were posted.
package recurrence

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

const daysPerYear = 365

type Config struct {
	// SinglePointHalfWidthDays is the half-width of the window predicted from
	// a single historical posting.
	SinglePointHalfWidthDays int     `yaml:"single_point_half_width_days" json:"single_point_half_width_days"`
	SinglePointConfidence    float64 `yaml:"single_point_confidence" json:"single_point_confidence"`
}

func DefaultConfig() Config {
	return Config{SinglePointHalfWidthDays: 14, SinglePointConfidence: 0.3}
}

type Predictor struct {
	cfg Config
}

func NewPredictor(cfg Config) *Predictor {
	def := DefaultConfig()
	if cfg.SinglePointHalfWidthDays <= 0 {
		cfg.SinglePointHalfWidthDays = def.SinglePointHalfWidthDays
	}
	if cfg.SinglePointConfidence <= 0 || cfg.SinglePointConfidence > 1 {
		cfg.SinglePointConfidence = def.SinglePointConfidence
	}
	return &Predictor{cfg: cfg}
}

// Predict estimates the next opening window. It reports false when history
// is empty; nothing is forecast from no data.
func (p *Predictor) Predict(familyID string, history []time.Time, now time.Time) (models.RecurrencePrediction, bool) {
	dates := normalizeHistory(history)
	if len(dates) == 0 {
		return models.RecurrencePrediction{}, false
	}

	pred := models.RecurrencePrediction{FamilyID: familyID, History: dates}
	last := dates[len(dates)-1]

	var centerDay int
	var halfWidth int
	if len(dates) == 1 {
		centerDay = dayOfYear(last)
		halfWidth = p.cfg.SinglePointHalfWidthDays
		pred.VarianceDays = float64(halfWidth)
		pred.Confidence = p.cfg.SinglePointConfidence
	} else {
		mean, std := circularStats(dates)
		centerDay = wrapDay(int(math.Round(mean)))
		halfWidth = int(math.Round(std))
		pred.VarianceDays = round3(std)
		pred.Confidence = round3(clamp01(1 / (1 + std/30)))
	}

	// The next edition is at least half a year after the latest posting and
	// its window has not fully passed.
	minGap := time.Duration(daysPerYear/2) * 24 * time.Hour
	year := last.Year()
	for {
		center := dateFromDay(year, centerDay)
		end := center.AddDate(0, 0, halfWidth)
		if center.Sub(last) > minGap && !end.Before(now) {
			pred.Center = center
			pred.WindowStart = center.AddDate(0, 0, -halfWidth)
			pred.WindowEnd = end
			break
		}
		year++
	}
	return pred, true
}

// PredictRecords groups records into families by title and domain and
// predicts each family from its posting dates. Families without any
// posting date are omitted.
func (p *Predictor) PredictRecords(records []models.GrantRecord, now time.Time) []models.RecurrencePrediction {
	families := make(map[string][]time.Time)
	for _, rec := range records {
		if rec.PostedAt == nil {
			continue
		}
		id := FamilyID(rec.Title, rec.SourceDomain)
		families[id] = append(families[id], *rec.PostedAt)
	}
	return p.PredictFamilies(families, now)
}

// PredictFamilies predicts every family, sorted by family id.
func (p *Predictor) PredictFamilies(families map[string][]time.Time, now time.Time) []models.RecurrencePrediction {
	ids := make([]string, 0, len(families))
	for id := range families {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]models.RecurrencePrediction, 0, len(ids))
	for _, id := range ids {
		if pred, ok := p.Predict(id, families[id], now); ok {
			out = append(out, pred)
		}
	}
	return out
}

var (
	yearTokens  = regexp.MustCompile(`(?i)\b(fy\s?\d{2,4}|fiscal year|(19|20)\d{2}(\s?[-/]\s?(19|20)?\d{2})?)\b`)
	nonWordRune = regexp.MustCompile(`[^a-z0-9]+`)
)

// FamilyID groups postings of the same grant across years: edition years
// and fiscal-year tokens are removed from the title.
func FamilyID(title, domain string) string {
	t := yearTokens.ReplaceAllString(strings.ToLower(title), " ")
	t = strings.Trim(nonWordRune.ReplaceAllString(t, "-"), "-")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	return domain + "/" + t
}

// normalizeHistory sorts a copy and keeps one entry per calendar day.
func normalizeHistory(history []time.Time) []time.Time {
	out := make([]time.Time, 0, len(history))
	seen := make(map[string]bool, len(history))
	for _, t := range history {
		if t.IsZero() {
			continue
		}
		t = t.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		key := day.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// dayOfYear maps a date onto a 365-day year, folding Feb 29 onto Feb 28 so
// March 1 has the same index every year.
func dayOfYear(t time.Time) int {
	d := t.YearDay()
	if isLeap(t.Year()) && d >= 60 {
		d--
	}
	return d
}

func dateFromDay(year, day int) time.Time {
	if isLeap(year) && day >= 60 {
		day++
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, day-1)
}

// circularStats returns the mean day and population standard deviation,
// unwrapping around the first date so late-December and early-January
// postings stay close.
func circularStats(dates []time.Time) (float64, float64) {
	ref := float64(dayOfYear(dates[0]))
	days := make([]float64, len(dates))
	var sum float64
	for i, t := range dates {
		d := float64(dayOfYear(t))
		switch {
		case d-ref > daysPerYear/2:
			d -= daysPerYear
		case ref-d > daysPerYear/2:
			d += daysPerYear
		}
		days[i] = d
		sum += d
	}
	mean := sum / float64(len(days))

	var sq float64
	for _, d := range days {
		sq += (d - mean) * (d - mean)
	}
	return mean, math.Sqrt(sq / float64(len(days)))
}

func wrapDay(d int) int {
	d = ((d-1)%daysPerYear + daysPerYear) % daysPerYear
	return d + 1
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
