// Package feed serves precomputed recommendation pages, the category list
// and article likes.
package feed

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/metrics"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/retry"
	"horse.fit/newsfeed/internal/search"
)

// RecommendationStore is the read side of the recommendation feed.
type RecommendationStore interface {
	ListRecommendations(ctx context.Context, username, before string, limit int) ([]news.Recommendation, error)
	GetArticles(ctx context.Context, articleUUIDs []string) ([]news.Article, error)
}

type Item struct {
	RecUUID string       `json:"rec_uuid"`
	Article news.Article `json:"article"`
}

type Page struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type Server struct {
	store  RecommendationStore
	logger zerolog.Logger
	retry  retry.Policy
}

func NewServer(store RecommendationStore, logger zerolog.Logger, policy retry.Policy) *Server {
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy
	}
	return &Server{store: store, logger: logger, retry: policy}
}

// GetFeed returns the user's recommendations newest first. cursor is the
// rec UUID of the last item already shown and is exclusive.
func (s *Server) GetFeed(ctx context.Context, username, cursor string, limit int) (page Page, err error) {
	defer func() { metrics.FeedRequests.WithLabelValues(metrics.Result(err)).Inc() }()

	username = strings.TrimSpace(username)
	if username == "" {
		return Page{}, apperr.BadRequest("username is required")
	}
	limit, err = search.ResolveLimit(limit)
	if err != nil {
		return Page{}, err
	}

	var recs []news.Recommendation
	err = retry.Do(ctx, s.retry, "list_recommendations", func() error {
		var err error
		recs, err = s.store.ListRecommendations(ctx, username, strings.TrimSpace(cursor), limit+1)
		return err
	})
	if err != nil {
		return Page{}, err
	}

	hasMore := len(recs) > limit
	if hasMore {
		recs = recs[:limit]
	}

	page = Page{Items: make([]Item, 0, len(recs))}
	if len(recs) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ArticleUUID)
	}
	var articles []news.Article
	err = retry.Do(ctx, s.retry, "get_articles", func() error {
		var err error
		articles, err = s.store.GetArticles(ctx, ids)
		return err
	})
	if err != nil {
		return Page{}, err
	}
	byID := make(map[string]news.Article, len(articles))
	for _, a := range articles {
		byID[a.ArticleUUID] = a
	}

	for _, rec := range recs {
		article, ok := byID[rec.ArticleUUID]
		if !ok {
			s.logger.Warn().
				Str("username", username).
				Str("rec_uuid", rec.RecUUID).
				Str("article_uuid", rec.ArticleUUID).
				Msg("recommended article is missing")
			continue
		}
		page.Items = append(page.Items, Item{RecUUID: rec.RecUUID, Article: article})
	}
	if hasMore {
		page.NextCursor = recs[len(recs)-1].RecUUID
	}
	return page, nil
}
