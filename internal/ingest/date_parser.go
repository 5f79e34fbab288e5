package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	isoDatePattern   = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	usDatePattern    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(20\d{2})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(20\d{2})\b`)
	dayMonthPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)\.?,?\s+(20\d{2})\b`)
	deadlineLabelRex = regexp.MustCompile(`(?i)(deadline|due date|due|closing date|closes|close date|applications? (?:are )?due|submit by|apply by)\s*(?:is|on|:)?\s*`)
)

// parseDate attempts the formats sources actually publish.
func parseDate(text string) (time.Time, error) {
	text = cleanDateString(text)

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006", "2 January 2006", "2 Jan 2006", "01/02/2006", "1/2/2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return toEndOfDay(t), nil
		}
	}
	if t := parseDateWithRegex(text); !t.IsZero() {
		return toEndOfDay(t), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// parseDeadline looks for a date following a deadline label. Text without a
// label yields nil: an unlabelled date may be a posting or event date.
func parseDeadline(text string) *time.Time {
	loc := deadlineLabelRex.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	window := text[loc[1]:]
	if len(window) > 80 {
		window = window[:80]
	}
	t := parseDateWithRegex(window)
	if t.IsZero() {
		return nil
	}
	t = toEndOfDay(t)
	return &t
}

func parseDateWithRegex(text string) time.Time {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2006-01-02", m[0]); err == nil {
			return t
		}
	}
	if m := usDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("1/2/2006", fmt.Sprintf("%s/%s/%s", m[1], m[2], m[3])); err == nil {
			return t
		}
	}
	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %s %s", monthAbbrev(m[1]), m[2], m[3])); err == nil {
			return t
		}
	}
	if m := dayMonthPattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %s %s", monthAbbrev(m[2]), m[1], m[3])); err == nil {
			return t
		}
	}
	return time.Time{}
}

func monthAbbrev(name string) string {
	name = strings.ToLower(name)
	if len(name) < 3 {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:3]
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// cleanDateString removes common label prefixes.
func cleanDateString(s string) string {
	prefixes := []string{
		"closing date:", "deadline:", "due date:", "posted:", "published:", "expires:", "ends:",
	}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(lower, p); idx != -1 {
			s = s[idx+len(p):]
			lower = lower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
