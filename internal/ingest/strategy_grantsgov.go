package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

// GrantsGovStrategy reads a Grants.gov opportunity search response. Both the
// search2 shape (hits wrapped in "data") and the older grantsws shape (hits
// at the top level) are accepted.
type GrantsGovStrategy struct{}

type grantsGovHits struct {
	HitCount int               `json:"hitCount"`
	OppHits  []grantsGovRecord `json:"oppHits"`
}

type grantsGovResponse struct {
	grantsGovHits
	Data      *grantsGovHits `json:"data"`
	ErrorCode int            `json:"errorcode"`
	Msg       string         `json:"msg"`
}

type grantsGovRecord struct {
	ID        string   `json:"id"`
	Number    string   `json:"number"`
	Title     string   `json:"title"`
	Agency    string   `json:"agency"`
	OpenDate  string   `json:"openDate"`
	CloseDate string   `json:"closeDate"`
	OppStatus string   `json:"oppStatus"`
	DocType   string   `json:"docType"`
	CFDAList  []string `json:"cfdaList"`
}

func (s *GrantsGovStrategy) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	var resp grantsGovResponse
	if err := json.Unmarshal(doc.Content, &resp); err != nil {
		return nil, fmt.Errorf("decoding grants.gov response: %w", err)
	}
	if resp.ErrorCode != 0 {
		return nil, fmt.Errorf("grants.gov API error: %s", resp.Msg)
	}
	hits := resp.grantsGovHits
	if resp.Data != nil {
		hits = *resp.Data
	}

	var out []models.GrantRecord
	for _, hit := range hits.OppHits {
		if ctx.Err() != nil {
			break
		}
		if hit.Title == "" || hit.ID == "" {
			continue
		}
		// Forecasts and posted calls only.
		if status := strings.ToLower(hit.OppStatus); status == "closed" || status == "archived" {
			continue
		}

		var deadline *time.Time
		if t, err := time.Parse("01/02/2006", hit.CloseDate); err == nil {
			end := toEndOfDay(t)
			if !doc.FetchedAt.IsZero() && end.Before(doc.FetchedAt) {
				continue
			}
			deadline = &end
		}

		description := fmt.Sprintf("Federal grant from %s.", hit.Agency)
		if len(hit.CFDAList) > 0 {
			description += " CFDA: " + strings.Join(hit.CFDAList, ", ")
		}
		if hit.Number != "" {
			description += " Opportunity number " + hit.Number + "."
		}

		link := "https://www.grants.gov/search-results-detail/" + hit.ID
		rec := newCandidate(src, doc, "grantsgov", hit.Title, link, description)
		rec.Deadline = deadline
		if rec.Geography == "" {
			rec.Geography = "us"
		}
		if t, err := time.Parse("01/02/2006", hit.OpenDate); err == nil {
			rec.PostedAt = &t
		}
		out = append(out, rec)
	}
	return out, ctx.Err()
}
