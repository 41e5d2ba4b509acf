package feed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/news"
)

func TestLikeThenUnlike(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	if err := store.UpsertUser(ctx, news.User{Username: "ann", FirstName: "Ann", LastName: "Lee"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.UpsertArticles(ctx, []news.Article{{ArticleUUID: "a1", PublishedAt: time.Now()}}); err != nil {
		t.Fatalf("seed article: %v", err)
	}

	likes := NewLikes(store, zerolog.Nop())
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	likes.now = func() time.Time { return fixed }

	like, err := likes.Like(ctx, "ann", "a1")
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if like.FirstName != "Ann" || like.LastName != "Lee" || !like.LikedAt.Equal(fixed) {
		t.Fatalf("unexpected like: %+v", like)
	}
	if _, err := likes.Like(ctx, "ann", "a1"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on repeat like, got %v", err)
	}
	if err := likes.Unlike(ctx, "ann", "a1"); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if err := likes.Unlike(ctx, "ann", "a1"); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on repeat unlike, got %v", err)
	}
}

func TestLikeRequiresUserAndArticle(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	if err := store.UpsertUser(ctx, news.User{Username: "ann"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	likes := NewLikes(store, zerolog.Nop())

	if _, err := likes.Like(ctx, "bob", "a1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected missing user to be not found, got %v", err)
	}
	if _, err := likes.Like(ctx, "ann", "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected missing article to be not found, got %v", err)
	}
	if _, err := likes.Like(ctx, "ann", " "); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected blank article to be a bad request, got %v", err)
	}
}
