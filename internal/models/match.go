package models

import "time"

// OrganizationProfile is supplied by the caller and only read by the engine.
type OrganizationProfile struct {
	Name       string       `json:"name"`
	Type       string       `json:"organization_type"`
	FocusAreas []string     `json:"focus_areas"`
	Need       *AmountRange `json:"funding_need"`
	Geography  string       `json:"geographic_scope"`
}

// ScoreComponents are the per-dimension sub-scores, each in [0,1].
type ScoreComponents struct {
	FocusOverlap  float64 `json:"focus_overlap"`
	AmountFit     float64 `json:"amount_fit"`
	GeographyFit  float64 `json:"geography_fit"`
	DeadlineBonus float64 `json:"deadline_bonus"`
}

type MatchResult struct {
	Grant       *GrantRecord    `json:"grant"`
	Score       float64         `json:"score"`
	Components  ScoreComponents `json:"components"`
	TieBreakKey string          `json:"tie_break_key"`
}

// RecurrencePrediction is replaced wholesale whenever history changes.
type RecurrencePrediction struct {
	FamilyID     string      `json:"family_id"`
	History      []time.Time `json:"history"`
	Center       time.Time   `json:"center"`
	WindowStart  time.Time   `json:"window_start"`
	WindowEnd    time.Time   `json:"window_end"`
	VarianceDays float64     `json:"variance_days"`
	Confidence   float64     `json:"confidence"`
}
