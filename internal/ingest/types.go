package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/david/grant-discovery/internal/models"
)

// ErrCancelled is returned when the caller's context aborts a fetch or a
// discovery run before anything could be collected.
var ErrCancelled = errors.New("cancelled")

// FetchedDocument is the decoded body of a successful GET.
type FetchedDocument struct {
	URL          string // effective URL after redirects
	RequestedURL string
	StatusCode   int
	ContentType  string
	Content      []byte
	FetchedAt    time.Time
}

func (d *FetchedDocument) IsPDF() bool {
	return strings.Contains(strings.ToLower(d.ContentType), "application/pdf") ||
		strings.HasSuffix(strings.ToLower(d.URL), ".pdf")
}

func (d *FetchedDocument) IsJSON() bool {
	return strings.Contains(strings.ToLower(d.ContentType), "json")
}

// SourceFetcher retrieves the content of a source, walking its fallback URLs.
type SourceFetcher interface {
	Fetch(ctx context.Context, src models.SourceDescriptor) (*FetchedDocument, error)
}

// FetchAttempt records one try against one URL. Skipped attempts made no
// network call because the domain was cooling down.
type FetchAttempt struct {
	URL        string         `json:"url"`
	Attempt    int            `json:"attempt"`
	Kind       FetchErrorKind `json:"-"`
	KindName   string         `json:"kind"`
	StatusCode int            `json:"status_code,omitempty"`
	Err        string         `json:"error,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// FetchError enumerates every attempt made for a source when all URLs failed.
type FetchError struct {
	SourceID string
	Attempts []FetchAttempt
}

func (e *FetchError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("fetch %s: no usable urls", e.SourceID)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Skipped {
			parts = append(parts, fmt.Sprintf("%s skipped (cooldown)", a.URL))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s #%d %s", a.URL, a.Attempt+1, a.KindName))
	}
	return fmt.Sprintf("fetch %s failed: %s", e.SourceID, strings.Join(parts, "; "))
}

// LastKind returns the classification of the final non-skipped attempt.
func (e *FetchError) LastKind() FetchErrorKind {
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if !e.Attempts[i].Skipped {
			return e.Attempts[i].Kind
		}
	}
	return KindOther
}

// RejectionError explains why a candidate URL or record was refused.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "validation rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}
