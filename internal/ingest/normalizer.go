package ingest

import (
	"html"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/david/grant-discovery/internal/models"
	"github.com/microcosm-cc/bluemonday"
)

var descriptionPolicy = bluemonday.StrictPolicy()

// focusVocabulary maps a focus-area tag to the phrases that imply it.
var focusVocabulary = map[string][]string{
	"education":            {"education", "school", "student", "scholarship", "teacher", "literacy", "stem", "classroom"},
	"arts":                 {"arts", "artist", "music", "theater", "theatre", "museum", "cultural", "creative", "humanities"},
	"health":               {"health", "medical", "clinic", "mental health", "disease", "wellness"},
	"environment":          {"environment", "climate", "conservation", "energy", "sustainab", "wildlife"},
	"community":            {"community", "housing", "neighborhood", "civic", "food security"},
	"research":             {"research", "science", "innovation", "technology", "laboratory"},
	"youth":                {"youth", "children", "kids", "after-school", "young people"},
	"economic-development": {"small business", "workforce", "economic development", "entrepreneur", "job training"},
}

var eligibilityVocabulary = map[string][]string{
	"nonprofit":  {"nonprofit", "non-profit", "501(c)", "charitable organization"},
	"school":     {"school district", "k-12", "public school", "schools"},
	"university": {"university", "college", "higher education", "institution of higher"},
	"individual": {"individuals", "individual artists", "students may apply"},
	"government": {"tribal", "state agencies", "local government", "municipal"},
	"business":   {"small business", "for-profit", "companies"},
}

// TruncateText cuts a string to at most maxLen bytes on a rune boundary,
// appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return text[:runeBoundary(text, maxLen-3)] + "..."
	}
	return text[:runeBoundary(text, maxLen)]
}

func runeBoundary(text string, n int) int {
	if n < 0 {
		return 0
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return n
}

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return normalizeSpace(markup)
	}
	return normalizeSpace(doc.Text())
}

// sanitizeText strips any markup left in extracted text. The policy escapes
// its output, so entities are decoded back to plain text.
func sanitizeText(s string) string {
	return normalizeSpace(html.UnescapeString(descriptionPolicy.Sanitize(s)))
}

// CanonicalizeURL lowercases the host and drops fragments and tracking params.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "s_cid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// resolveURL makes href absolute against base.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}

func tagFromVocabulary(text string, vocab map[string][]string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for tag, phrases := range vocab {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}

// inferFocusAreas tags text, falling back to the source category.
func inferFocusAreas(text, category string) []string {
	tags := tagFromVocabulary(text, focusVocabulary)
	if category != "" && category != "federal" {
		tags = appendUnique(tags, strings.ToLower(category))
		sort.Strings(tags)
	}
	return tags
}

func inferEligibility(text string) []string {
	return tagFromVocabulary(text, eligibilityVocabulary)
}

// newCandidate builds a verified-real-source record from extracted fields.
// Amount and deadline are only set when the text states them.
func newCandidate(src models.SourceDescriptor, doc *FetchedDocument, strategy, title, link, description string) models.GrantRecord {
	title = sanitizeText(title)
	description = TruncateText(sanitizeText(description), 2000)
	link = CanonicalizeURL(resolveURL(doc.URL, link))
	sourceURL := CanonicalizeURL(doc.URL)
	if link == "" {
		link = sourceURL
	}

	body := title + " " + description
	rec := models.GrantRecord{
		ID:             models.NewRecordID(src.ID, title, link),
		Title:          title,
		Description:    description,
		Amount:         parseAmount(body),
		FocusAreas:     inferFocusAreas(body, src.Category),
		Eligibility:    inferEligibility(body),
		Geography:      regionOf(src),
		ApplicationURL: link,
		SourceURL:      sourceURL,
		SourceID:       src.ID,
		SourceName:     src.Name,
		SourceDomain:   domainOf(doc.URL),
		Confidence:     models.ConfidenceVerified,
		Deadline:       parseDeadline(body),
		Strategy:       strategy,
		FetchedAt:      doc.FetchedAt,
	}
	return rec
}

func regionOf(src models.SourceDescriptor) string {
	return strings.ToLower(strings.TrimSpace(src.Region))
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
