package corpus

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/newsfeed/internal/config"
	"horse.fit/newsfeed/internal/news"
)

// articleUUIDTimeLayout is fixed-width so identifiers sort by time.
const articleUUIDTimeLayout = "2006-01-02T15:04:05.000Z"

var recordDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Record is one line of the newline-delimited corpus feed.
type Record struct {
	Date             string `json:"date"`
	Category         string `json:"category"`
	Headline         string `json:"headline"`
	Authors          string `json:"authors"`
	Link             string `json:"link"`
	ShortDescription string `json:"short_description"`
}

// RecordError explains why a record was rejected.
type RecordError struct {
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Cleaned is a validated record ready to be written.
type Cleaned struct {
	Article       news.Article
	CanonicalLink string
}

// Clean validates rec and derives the stored article. shift is applied to
// the source date before the identifier is computed.
func Clean(rec Record, shift config.DateShift, namespace uuid.UUID) (Cleaned, error) {
	published, err := parseRecordDate(rec.Date)
	if err != nil {
		return Cleaned{}, err
	}
	published = shift.Apply(published).UTC()

	link, err := CanonicalLink(rec.Link)
	if err != nil {
		return Cleaned{}, err
	}

	article := news.Article{
		ArticleUUID:      ArticleUUID(published, link, namespace),
		Category:         news.StringPtr(strings.ToLower(strings.TrimSpace(rec.Category))),
		Headline:         news.StringPtr(strings.TrimSpace(rec.Headline)),
		Authors:          news.StringPtr(strings.TrimSpace(rec.Authors)),
		Link:             news.StringPtr(strings.TrimSpace(rec.Link)),
		ShortDescription: news.StringPtr(strings.TrimSpace(rec.ShortDescription)),
		PublishedAt:      published,
	}
	return Cleaned{Article: article, CanonicalLink: link}, nil
}

// ArticleUUID is the adjusted publish time followed by a v5 UUID of the
// canonical link, so reloading a corpus reproduces the same identifiers.
func ArticleUUID(published time.Time, canonicalLink string, namespace uuid.UUID) string {
	return published.UTC().Format(articleUUIDTimeLayout) + uuid.NewSHA1(namespace, []byte(canonicalLink)).String()
}

// CanonicalLink lowercases scheme and host and drops fragments and trailing
// slashes so trivially different spellings hash alike.
func CanonicalLink(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &RecordError{Field: "link", Reason: "is required"}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || parsed.Scheme == "" {
		return "", &RecordError{Field: "link", Reason: "must be an absolute URL"}
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.RawFragment = ""
	if len(parsed.Path) > 1 {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
		parsed.RawPath = ""
	}
	if parsed.Path == "/" {
		parsed.Path = ""
	}
	return parsed.String(), nil
}

func parseRecordDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, &RecordError{Field: "date", Reason: "is required"}
	}
	for _, layout := range recordDateLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, &RecordError{Field: "date", Reason: "must be YYYY-MM-DD or RFC3339"}
}
