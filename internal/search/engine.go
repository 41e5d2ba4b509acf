// Package search ranks articles for a keyword query. Candidates are grouped
// into buckets by how many distinct query terms they match; buckets are
// walked from the highest match count down, and each bucket is ordered by
// the requesting user's adsorption weight, then by article UUID descending.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/metrics"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/retry"
	"horse.fit/newsfeed/internal/textnorm"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	postingFanOut = 8
)

// Store is the read side the engine needs.
type Store interface {
	PostingsFor(ctx context.Context, term string) ([]string, error)
	WeightsFor(ctx context.Context, username string, articleUUIDs []string) (map[string]float64, error)
	GetArticles(ctx context.Context, articleUUIDs []string) ([]news.Article, error)
}

type Request struct {
	Username string
	Query    string
	// Cursor is the last article UUID of the previous page.
	Cursor string
	Limit  int
}

type Result struct {
	Terms      []string       `json:"terms"`
	Articles   []news.Article `json:"articles"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type Options struct {
	Retry retry.Policy
}

type Engine struct {
	store  Store
	logger zerolog.Logger
	retry  retry.Policy
}

func NewEngine(store Store, logger zerolog.Logger, opts Options) *Engine {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	return &Engine{store: store, logger: logger, retry: opts.Retry}
}

type candidate struct {
	id     string
	weight float64
}

// Search returns one page of ranked articles.
func (e *Engine) Search(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveSearch(start, err) }()

	limit, err := ResolveLimit(req.Limit)
	if err != nil {
		return Result{}, err
	}
	terms, err := queryTerms(req.Query)
	if err != nil {
		return Result{}, err
	}
	result = Result{Terms: terms, Articles: []news.Article{}}

	counts, err := e.matchCounts(ctx, terms)
	if err != nil {
		return Result{}, err
	}
	metrics.SearchCandidates.Observe(float64(len(counts)))

	startCount := 0
	cursor := strings.TrimSpace(req.Cursor)
	if cursor != "" {
		matched, ok := counts[cursor]
		if !ok {
			return Result{}, apperr.BadRequest("cursor %s is not part of this query's results", cursor)
		}
		startCount = matched
	}
	if len(counts) == 0 {
		return result, nil
	}

	buckets := bucketByCount(counts)
	levels := make([]int, 0, len(buckets))
	for level := range buckets {
		if startCount == 0 || level <= startCount {
			levels = append(levels, level)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	page := make([]string, 0, limit)
	hasMore := false
	for _, level := range levels {
		if len(page) >= limit {
			hasMore = true
			break
		}

		ranked, err := e.rankBucket(ctx, req.Username, buckets[level])
		if err != nil {
			return Result{}, err
		}
		if cursor != "" && level == startCount {
			ranked = after(ranked, cursor)
		}

		room := limit - len(page)
		if len(ranked) > room {
			page = append(page, ranked[:room]...)
			hasMore = true
			break
		}
		page = append(page, ranked...)
	}

	if len(page) > 0 {
		var articles []news.Article
		err := retry.Do(ctx, e.retry, "get_articles", func() error {
			var err error
			articles, err = e.store.GetArticles(ctx, page)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		result.Articles = articles
		if hasMore {
			result.NextCursor = page[len(page)-1]
		}
	}

	e.logger.Debug().
		Strs("terms", terms).
		Int("candidates", len(counts)).
		Int("returned", len(result.Articles)).
		Bool("has_more", hasMore).
		Msg("search completed")
	return result, nil
}

// ResolveLimit applies the default page size and rejects out of range values.
func ResolveLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit < 1 || limit > MaxLimit {
		return 0, apperr.BadRequest("limit must be between 1 and %d", MaxLimit)
	}
	return limit, nil
}

// queryTerms normalizes strictly and deduplicates, so a repeated word
// counts as a single match signal.
func queryTerms(query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.BadRequest("query is required")
	}
	terms, err := textnorm.Normalize(query, true)
	if err != nil {
		var invalid *textnorm.InvalidKeywordError
		if errors.As(err, &invalid) {
			return nil, apperr.BadRequest("invalid keywords: %s", strings.Join(invalid.Tokens, ", "))
		}
		return nil, err
	}
	terms = textnorm.Unique(terms)
	if len(terms) == 0 {
		return nil, apperr.UnprocessableEntity("query has no searchable keywords")
	}
	return terms, nil
}

// matchCounts fetches postings for every term concurrently and counts how
// many distinct terms matched each article.
func (e *Engine) matchCounts(ctx context.Context, terms []string) (map[string]int, error) {
	postings := make([][]string, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(postingFanOut)
	for i, term := range terms {
		i, term := i, term
		g.Go(func() error {
			return retry.Do(gctx, e.retry, "postings_for", func() error {
				ids, err := e.store.PostingsFor(gctx, term)
				if err != nil {
					return err
				}
				postings[i] = ids
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, ids := range postings {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}
	return counts, nil
}

func bucketByCount(counts map[string]int) map[int][]string {
	buckets := make(map[int][]string)
	for id, count := range counts {
		buckets[count] = append(buckets[count], id)
	}
	return buckets
}

// rankBucket orders a bucket by weight descending. Articles without a weight
// rank as 0; equal weights fall back to the newer article UUID first.
func (e *Engine) rankBucket(ctx context.Context, username string, ids []string) ([]string, error) {
	var weights map[string]float64
	err := retry.Do(ctx, e.retry, "weights_for", func() error {
		var err error
		weights, err = e.store.WeightsFor(ctx, username, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	ranked := make([]candidate, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, candidate{id: id, weight: weights[id]})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].weight != ranked[j].weight {
			return ranked[i].weight > ranked[j].weight
		}
		return ranked[i].id > ranked[j].id
	})

	out := make([]string, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, c.id)
	}
	return out, nil
}

func after(ranked []string, cursor string) []string {
	for i, id := range ranked {
		if id == cursor {
			return ranked[i+1:]
		}
	}
	return nil
}
