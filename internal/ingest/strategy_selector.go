package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/grant-discovery/internal/models"
	"github.com/gocolly/colly/v2"
)

// Presets for the three source families. A descriptor's own selectors
// override any preset field they set.
var (
	educationPreset = models.SelectorConfig{
		Container:   "article.grant, .funding-opportunity, .grant-listing li, .program-card",
		Title:       "h2, h3, .title, a",
		Link:        "a",
		Description: ".summary, .description, p",
		Amount:      ".amount, .award",
		Deadline:    ".deadline, .due-date, time",
	}
	artsPreset = models.SelectorConfig{
		Container:   ".grant-program, .views-row, article.grant, .funding-card",
		Title:       "h3, h2, .title",
		Link:        "a",
		Description: ".field--name-body, .description, p",
		Amount:      ".grant-amount, .amount",
		Deadline:    ".deadline, .date",
	}
	federalPreset = models.SelectorConfig{
		Container:   ".usa-card, .opportunity, table.opportunities tbody tr",
		Title:       ".usa-card__heading, h3, h2, td.title, a",
		Link:        "a",
		Description: ".usa-card__body, td.description, p",
		Amount:      ".award-ceiling, td.amount",
		Deadline:    ".close-date, td.deadline",
	}
)

// SelectorStrategy parses listing markup with CSS selectors through colly's
// HTMLElement API, without colly doing any fetching of its own.
type SelectorStrategy struct {
	Preset models.SelectorConfig
}

func (s *SelectorStrategy) Extract(ctx context.Context, src models.SourceDescriptor, doc *FetchedDocument) ([]models.GrantRecord, error) {
	sel := mergeSelectors(s.Preset, src.Selectors)
	if sel.Container == "" {
		return nil, fmt.Errorf("selector 'container' is required for %s", src.ID)
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	base, err := url.Parse(doc.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid document url: %w", err)
	}
	resp := &colly.Response{
		StatusCode: doc.StatusCode,
		Body:       doc.Content,
		Request:    &colly.Request{URL: base, Method: "GET"},
	}

	linkAttr := sel.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}

	var out []models.GrantRecord
	page.Find(sel.Container).Each(func(i int, item *goquery.Selection) {
		if ctx.Err() != nil || len(item.Nodes) == 0 {
			return
		}
		e := colly.NewHTMLElementFromSelectionNode(resp, item, item.Nodes[0], i)

		title := firstChildText(e, sel.Title)
		var link string
		if sel.Link == "" || sel.Link == "." {
			link = e.Attr(linkAttr)
		} else {
			link = e.ChildAttr(sel.Link, linkAttr)
		}
		if title == "" {
			return
		}
		link = e.Request.AbsoluteURL(strings.TrimSpace(link))

		parts := []string{firstChildText(e, sel.Description)}
		if sel.Amount != "" {
			parts = append(parts, e.ChildText(sel.Amount))
		}
		if sel.Deadline != "" {
			if d := firstChildText(e, sel.Deadline); d != "" {
				parts = append(parts, "Deadline: "+d)
			}
		}

		rec := newCandidate(src, doc, strategyName(src), title, link, normalizeSpace(strings.Join(parts, " ")))
		out = append(out, rec)
	})

	return out, ctx.Err()
}

// firstChildText returns the text of the first element matching any part
// of a selector group, trying the parts in order.
func firstChildText(e *colly.HTMLElement, selector string) string {
	if selector == "" {
		return normalizeSpace(e.Text)
	}
	for _, part := range strings.Split(selector, ",") {
		var text string
		e.ForEachWithBreak(strings.TrimSpace(part), func(_ int, child *colly.HTMLElement) bool {
			text = normalizeSpace(child.Text)
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}

func mergeSelectors(preset, override models.SelectorConfig) models.SelectorConfig {
	pick := func(a, b string) string {
		if b != "" {
			return b
		}
		return a
	}
	return models.SelectorConfig{
		Container:   pick(preset.Container, override.Container),
		Title:       pick(preset.Title, override.Title),
		Link:        pick(preset.Link, override.Link),
		LinkAttr:    pick(preset.LinkAttr, override.LinkAttr),
		Description: pick(preset.Description, override.Description),
		Amount:      pick(preset.Amount, override.Amount),
		Deadline:    pick(preset.Deadline, override.Deadline),
	}
}

func strategyName(src models.SourceDescriptor) string {
	if src.Strategy == "" {
		return keywordStrategyID
	}
	return src.Strategy
}
