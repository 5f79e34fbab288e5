package ingest

import (
	"context"
	"fmt"

	"github.com/david/grant-discovery/internal/models"
	"github.com/mmcdole/gofeed"
)

// FeedStrategy reads RSS, Atom or JSON feeds published by funders.
type FeedStrategy struct {
	MaxItems int
}

func (s *FeedStrategy) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	feed, err := gofeed.NewParser().ParseString(string(doc.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	limit := s.MaxItems
	if limit <= 0 {
		limit = 50
	}

	matcher := keywordMatcher(DefaultKeywords)
	if len(src.Keywords) > 0 {
		matcher = keywordMatcher(src.Keywords)
	}

	var out []models.GrantRecord
	for _, item := range feed.Items {
		if ctx.Err() != nil || len(out) >= limit {
			break
		}
		if item == nil || item.Title == "" {
			continue
		}
		body := item.Description
		if body == "" {
			body = item.Content
		}
		description := HTMLToText(body)
		if !matcher.MatchString(item.Title + " " + description) {
			continue
		}

		rec := newCandidate(src, doc, "rss", HTMLToText(item.Title), item.Link, description)
		if item.PublishedParsed != nil {
			rec.PostedAt = timePtr(*item.PublishedParsed)
		} else if item.UpdatedParsed != nil {
			rec.PostedAt = timePtr(*item.UpdatedParsed)
		}
		for _, c := range item.Categories {
			rec.FocusAreas = appendUnique(rec.FocusAreas, normalizeTitle(c))
		}
		out = append(out, rec)
	}
	return out, ctx.Err()
}
