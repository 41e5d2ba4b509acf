// Package news holds the records shared by ingestion, search and the feed.
package news

import (
	"errors"
	"time"
)

// Article is immutable once written by the corpus loader. ArticleUUID sorts
// lexicographically by adjusted publish time.
type Article struct {
	ArticleUUID      string    `json:"article_uuid"`
	Category         *string   `json:"category,omitempty"`
	Headline         *string   `json:"headline,omitempty"`
	Authors          *string   `json:"authors,omitempty"`
	Link             *string   `json:"link,omitempty"`
	ShortDescription *string   `json:"short_description,omitempty"`
	Language         *string   `json:"language,omitempty"`
	PublishedAt      time.Time `json:"published_at"`
}

// Posting associates one normalized headline term with one article.
type Posting struct {
	Keyword     string `json:"keyword"`
	ArticleUUID string `json:"article_uuid"`
}

// RankingWeight is the offline adsorption weight for a (user, article) pair.
type RankingWeight struct {
	Username         string  `json:"username"`
	ArticleUUID      string  `json:"article_uuid"`
	AdsorptionWeight float64 `json:"adsorption_weight"`
}

// Recommendation is one entry of a user's precomputed feed.
type Recommendation struct {
	Username    string `json:"username"`
	RecUUID     string `json:"rec_uuid"`
	ArticleUUID string `json:"article_uuid"`
}

// Like records that a user liked an article.
type Like struct {
	ArticleUUID string    `json:"article_uuid"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	LikedAt     time.Time `json:"liked_at"`
}

// User is the subset of a profile this core reads from the identity store.
type User struct {
	Username    string   `json:"username"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Affiliation string   `json:"affiliation"`
	Interests   []string `json:"interests"`
}

// RunStatus is the shared recompute coordination state.
type RunStatus string

const (
	RunIdle           RunStatus = "idle"
	RunRunning        RunStatus = "running"
	RunRunningPending RunStatus = "running_pending"
)

// ErrRunLockLost is returned when renewing or releasing a recompute lock
// that another owner has taken over or that is no longer held.
var ErrRunLockLost = errors.New("recompute lock is held by another owner")

// RunState is the persisted record behind RunStatus. Owner is the token of
// the run holding the lock and is empty while idle. UpdatedAt is the last
// acquire or renewal.
type RunState struct {
	Name      string    `json:"name"`
	Status    RunStatus `json:"status"`
	Owner     string    `json:"owner,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether a run holds the lock at now, given a lease.
func (s RunState) Active(now time.Time, lease time.Duration) bool {
	if s.Status != RunRunning && s.Status != RunRunningPending {
		return false
	}
	if lease <= 0 {
		return true
	}
	return now.Sub(s.UpdatedAt) < lease
}

// Acquire is the result of asking for the recompute lock.
type Acquire struct {
	Acquired bool
	// Pending is true when the request was folded into a deferred rerun.
	Pending bool
}

// StringPtr returns nil for blank strings.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// Deref returns "" for nil.
func Deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
