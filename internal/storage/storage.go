// Package storage selects the persistence backend named by configuration.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/config"
	"horse.fit/newsfeed/internal/db"
	"horse.fit/newsfeed/internal/kvstore"
	"horse.fit/newsfeed/internal/news"
)

// Backend is everything the loader, search engine, feed and recompute
// coordinator need from a store.
type Backend interface {
	UpsertArticles(ctx context.Context, articles []news.Article) error
	UpsertPostings(ctx context.Context, postings []news.Posting) error
	UpsertCategories(ctx context.Context, categories []string) error
	ClearPostings(ctx context.Context) error

	PostingsFor(ctx context.Context, term string) ([]string, error)
	WeightsFor(ctx context.Context, username string, articleUUIDs []string) (map[string]float64, error)
	UpsertWeights(ctx context.Context, weights []news.RankingWeight) error
	GetArticles(ctx context.Context, articleUUIDs []string) ([]news.Article, error)
	GetArticle(ctx context.Context, articleUUID string) (news.Article, error)
	ListCategories(ctx context.Context) ([]string, error)

	ListRecommendations(ctx context.Context, username, before string, limit int) ([]news.Recommendation, error)
	AddRecommendations(ctx context.Context, recs []news.Recommendation) error

	CreateLike(ctx context.Context, like news.Like) error
	DeleteLike(ctx context.Context, username, articleUUID string) error
	GetUser(ctx context.Context, username string) (news.User, error)
	UpsertUser(ctx context.Context, user news.User) error

	AcquireRun(ctx context.Context, name, owner string, now time.Time, lease time.Duration) (news.Acquire, error)
	RenewRun(ctx context.Context, name, owner string, now time.Time) error
	ReleaseRun(ctx context.Context, name, owner string, now time.Time) (bool, error)
	RunState(ctx context.Context, name string) (news.RunState, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*db.Pool)(nil)
	_ Backend = (*kvstore.Store)(nil)
)

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	switch cfg.Backend() {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg, logger.With().Str("component", "postgres").Logger())
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("backend", config.BackendPostgres).Msg("storage opened")
		return pool, nil
	case config.BackendBadger:
		store, err := kvstore.Open(cfg.BadgerDir, logger.With().Str("component", "badger").Logger())
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("backend", config.BackendBadger).Str("dir", cfg.BadgerDir).Msg("storage opened")
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StoreBackend)
	}
}
