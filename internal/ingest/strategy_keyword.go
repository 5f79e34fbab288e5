package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/grant-discovery/internal/models"
	"golang.org/x/net/html"
)

// DefaultKeywords is used when neither the strategy nor the source sets any.
var DefaultKeywords = []string{
	"grant", "funding", "scholarship", "financial assistance", "aid",
	"federal programs", "fellowship", "award", "request for proposals",
}

// KeywordStrategy scans headings, links, list items and short paragraphs for funding keywords
// and builds minimal records from the surrounding text.
type KeywordStrategy struct {
	Keywords   []string
	MaxRecords int
}

func (s *KeywordStrategy) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	keywords := src.Keywords
	if len(keywords) == 0 {
		keywords = s.Keywords
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	limit := s.MaxRecords
	if limit <= 0 {
		limit = 25
	}
	matcher := keywordMatcher(keywords)

	if doc.IsPDF() {
		text, err := extractPDFText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf: %w", err)
		}
		return s.scanText(src, doc, text, matcher, limit), nil
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	seen := make(map[string]struct{})
	described := make(map[*html.Node]bool)
	var out []models.GrantRecord
	page.Find("h1, h2, h3, h4, a, li, p").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if ctx.Err() != nil || len(out) >= limit {
			return false
		}
		if el.Closest("nav, header, footer, script, style").Length() > 0 {
			return true
		}
		// List items that wrap a link are scanned through the link itself.
		if goquery.NodeName(el) == "li" && el.Find("a").Length() > 0 {
			return true
		}
		if goquery.NodeName(el) == "p" && !isParagraphLabel(el, described) {
			return true
		}

		title := normalizeSpace(el.Text())
		if wordCount(title) < 3 || len(title) > 200 || !matcher.MatchString(title) {
			return true
		}
		key := normalizeTitle(title)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		if next := el.NextFiltered("p"); next.Length() > 0 {
			described[next.Get(0)] = true
		}

		link, description := surroundings(el)
		out = append(out, newCandidate(src, doc, keywordStrategyID, title, link, description))
		return true
	})
	return out, ctx.Err()
}

// isParagraphLabel reports whether a paragraph reads like a programme name
// rather than prose or the description of an earlier match.
func isParagraphLabel(el *goquery.Selection, described map[*html.Node]bool) bool {
	if described[el.Get(0)] || el.Find("a").Length() > 0 {
		return false
	}
	text := strings.TrimSpace(el.Text())
	return text != "" && !strings.ContainsAny(text[len(text)-1:], ".!?:;")
}

// surroundings picks the link and descriptive text that belong to a matched
// element.
func surroundings(el *goquery.Selection) (string, string) {
	var link string
	switch goquery.NodeName(el) {
	case "a":
		link, _ = el.Attr("href")
	default:
		link, _ = el.Find("a[href]").First().Attr("href")
	}
	if strings.HasPrefix(strings.TrimSpace(link), "#") || strings.HasPrefix(strings.TrimSpace(link), "javascript:") {
		link = ""
	}

	var description string
	if next := el.NextFiltered("p"); next.Length() > 0 {
		description = next.Text()
	} else if parent := el.ParentFiltered("p, li, td"); parent.Length() > 0 {
		description = parent.Text()
	}
	return link, normalizeSpace(description)
}

// scanText handles plain text such as PDF content, one line per candidate.
func (s *KeywordStrategy) scanText(src models.SourceDescriptor, doc *FetchedDocument, text string, matcher *regexp.Regexp, limit int) []models.GrantRecord {
	seen := make(map[string]struct{})
	var out []models.GrantRecord
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() && len(out) < limit {
		line := normalizeSpace(scanner.Text())
		if wordCount(line) < 3 || !matcher.MatchString(line) {
			continue
		}
		title := TruncateText(line, 200)
		key := normalizeTitle(title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, newCandidate(src, doc, keywordStrategyID, title, "", line))
	}
	return out
}

func keywordMatcher(keywords []string) *regexp.Regexp {
	parts := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			parts = append(parts, regexp.QuoteMeta(strings.ToLower(kw)))
		}
	}
	if len(parts) == 0 {
		return keywordMatcher(DefaultKeywords)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)s?\b`)
}
