package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

// WordPressStrategy reads a WP REST posts listing (wp-json/wp/v2/posts).
type WordPressStrategy struct{}

type wpPost struct {
	ID    int    `json:"id"`
	Date  string `json:"date_gmt"`
	Link  string `json:"link"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Excerpt struct {
		Rendered string `json:"rendered"`
	} `json:"excerpt"`
	Content struct {
		Rendered string `json:"rendered"`
	} `json:"content"`
	Status string `json:"status"`
}

func (s *WordPressStrategy) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	var posts []wpPost
	if err := json.Unmarshal(doc.Content, &posts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal WP response: %w", err)
	}

	var out []models.GrantRecord
	for _, post := range posts {
		if ctx.Err() != nil {
			break
		}
		if post.Status != "" && post.Status != "publish" {
			continue
		}
		description := HTMLToText(post.Excerpt.Rendered)
		if description == "" {
			description = HTMLToText(post.Content.Rendered)
		}

		rec := newCandidate(src, doc, "wordpress", HTMLToText(post.Title.Rendered), post.Link, description)
		if t, err := time.Parse("2006-01-02T15:04:05", post.Date); err == nil {
			rec.PostedAt = timePtr(t)
		}
		out = append(out, rec)
	}
	return out, ctx.Err()
}
