package feed

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/kvstore"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/retry"
)

func openStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedFeed(t *testing.T, store *kvstore.Store) {
	t.Helper()
	ctx := context.Background()
	published := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	articles := []news.Article{
		{ArticleUUID: "a1", Headline: news.StringPtr("one"), PublishedAt: published},
		{ArticleUUID: "a2", Headline: news.StringPtr("two"), PublishedAt: published},
		{ArticleUUID: "a3", Headline: news.StringPtr("three"), PublishedAt: published},
	}
	if err := store.UpsertArticles(ctx, articles); err != nil {
		t.Fatalf("seed articles: %v", err)
	}
	recs := []news.Recommendation{
		{Username: "ann", RecUUID: "r1", ArticleUUID: "a1"},
		{Username: "ann", RecUUID: "r2", ArticleUUID: "a2"},
		{Username: "ann", RecUUID: "r3", ArticleUUID: "a3"},
		{Username: "ann", RecUUID: "r4", ArticleUUID: "gone"},
	}
	if err := store.AddRecommendations(ctx, recs); err != nil {
		t.Fatalf("seed recommendations: %v", err)
	}
}

func recUUIDs(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.RecUUID)
	}
	return out
}

func TestGetFeedPagesNewestFirst(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seedFeed(t, store)
	server := NewServer(store, zerolog.Nop(), retry.NoRetry)
	ctx := context.Background()

	first, err := server.GetFeed(ctx, "ann", "", 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	// r4 points at a missing article and is dropped from the page.
	if !reflect.DeepEqual(recUUIDs(first.Items), []string{"r3"}) || first.NextCursor != "r3" {
		t.Fatalf("unexpected first page: %v cursor=%q", recUUIDs(first.Items), first.NextCursor)
	}
	if first.Items[0].Article.ArticleUUID != "a3" {
		t.Fatalf("unexpected joined article: %+v", first.Items[0].Article)
	}

	second, err := server.GetFeed(ctx, "ann", first.NextCursor, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if !reflect.DeepEqual(recUUIDs(second.Items), []string{"r2", "r1"}) || second.NextCursor != "" {
		t.Fatalf("unexpected second page: %v cursor=%q", recUUIDs(second.Items), second.NextCursor)
	}
}

func TestGetFeedEmptyAndInvalid(t *testing.T) {
	t.Parallel()

	server := NewServer(openStore(t), zerolog.Nop(), retry.NoRetry)
	page, err := server.GetFeed(context.Background(), "nobody", "", 0)
	if err != nil {
		t.Fatalf("empty feed: %v", err)
	}
	if len(page.Items) != 0 || page.NextCursor != "" {
		t.Fatalf("expected empty page, got %+v", page)
	}
	if _, err := server.GetFeed(context.Background(), " ", "", 10); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request for blank username, got %v", err)
	}
	if _, err := server.GetFeed(context.Background(), "ann", "", 500); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request for oversized limit, got %v", err)
	}
}
