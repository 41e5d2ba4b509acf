// Package corpus streams the bulk article feed into the article, category and
// keyword stores.
package corpus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/config"
	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/metrics"
	"horse.fit/newsfeed/internal/news"
	"horse.fit/newsfeed/internal/retry"
	"horse.fit/newsfeed/internal/textnorm"
)

const DefaultBatchSize = 1000

// Writer persists loader output. Every call must overwrite by key.
type Writer interface {
	UpsertArticles(ctx context.Context, articles []news.Article) error
	UpsertPostings(ctx context.Context, postings []news.Posting) error
	UpsertCategories(ctx context.Context, categories []string) error
	ClearPostings(ctx context.Context) error
}

// Options controls one load.
type Options struct {
	// MinDate skips records published strictly before it.
	MinDate *time.Time
	// Full clears every posting before loading.
	Full bool
}

// Summary counts what a load did. Skipped is Invalid + Future + BeforeMin.
type Summary struct {
	Lines      int `json:"lines"`
	Loaded     int `json:"loaded"`
	Skipped    int `json:"skipped"`
	Invalid    int `json:"invalid"`
	Future     int `json:"future"`
	BeforeMin  int `json:"before_min"`
	Postings   int `json:"postings"`
	Categories int `json:"categories"`
	Batches    int `json:"batches"`
}

type LoaderOptions struct {
	BatchSize int
	DateShift config.DateShift
	Namespace uuid.UUID
	Retry     retry.Policy
	// DetectLanguage, when set, tags each article with an ISO 639-1 code.
	DetectLanguage func(text string) string
	// Tokenize turns a headline into index terms. It defaults to non-strict
	// textnorm.Normalize.
	Tokenize func(text string) ([]string, error)
	Now      func() time.Time
}

type Loader struct {
	writer Writer
	logger zerolog.Logger
	opts   LoaderOptions
}

func NewLoader(writer Writer, logger zerolog.Logger, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Namespace == uuid.Nil {
		opts.Namespace = uuid.NameSpaceURL
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.Now == nil {
		opts.Now = globaltime.UTC
	}
	if opts.Tokenize == nil {
		opts.Tokenize = headlineTerms
	}
	return &Loader{writer: writer, logger: logger, opts: opts}
}

type batch struct {
	articles map[string]news.Article
	order    []string
	postings map[news.Posting]struct{}
}

func newBatch(size int) *batch {
	return &batch{
		articles: make(map[string]news.Article, size),
		order:    make([]string, 0, size),
		postings: make(map[news.Posting]struct{}, size*8),
	}
}

func (b *batch) add(article news.Article, terms []string) {
	if _, exists := b.articles[article.ArticleUUID]; !exists {
		b.order = append(b.order, article.ArticleUUID)
	}
	b.articles[article.ArticleUUID] = article
	for _, term := range terms {
		b.postings[news.Posting{Keyword: term, ArticleUUID: article.ArticleUUID}] = struct{}{}
	}
}

func (b *batch) size() int { return len(b.order) }

// Load reads newline-delimited JSON from r. Bad records are skipped and
// counted; a storage failure aborts the load and is returned together with
// the counts reached so far.
func (l *Loader) Load(ctx context.Context, r io.Reader, opts Options) (Summary, error) {
	if l == nil || l.writer == nil {
		return Summary{}, fmt.Errorf("corpus loader is not initialized")
	}

	var summary Summary
	if opts.Full {
		if err := retry.Do(ctx, l.opts.Retry, "clear_postings", func() error {
			return l.writer.ClearPostings(ctx)
		}); err != nil {
			return summary, fmt.Errorf("clear postings: %w", err)
		}
		l.logger.Info().Msg("cleared keyword postings for full reload")
	}

	now := l.opts.Now()
	categories := map[string]struct{}{}
	current := newBatch(l.opts.BatchSize)
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			summary.Lines++
			l.processLine(line, summary.Lines, now, opts, &summary, current, categories)
			if current.size() >= l.opts.BatchSize {
				if err := l.flush(ctx, current, &summary); err != nil {
					return summary, err
				}
				current = newBatch(l.opts.BatchSize)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return summary, fmt.Errorf("read corpus line %d: %w", summary.Lines+1, readErr)
		}
	}

	if current.size() > 0 {
		if err := l.flush(ctx, current, &summary); err != nil {
			return summary, err
		}
	}

	if len(categories) > 0 {
		names := make([]string, 0, len(categories))
		for name := range categories {
			names = append(names, name)
		}
		sort.Strings(names)
		if err := retry.Do(ctx, l.opts.Retry, "upsert_categories", func() error {
			return l.writer.UpsertCategories(ctx, names)
		}); err != nil {
			return summary, fmt.Errorf("write categories: %w", err)
		}
		summary.Categories = len(names)
	}

	summary.Skipped = summary.Invalid + summary.Future + summary.BeforeMin
	l.logger.Info().
		Int("lines", summary.Lines).
		Int("loaded", summary.Loaded).
		Int("skipped", summary.Skipped).
		Int("postings", summary.Postings).
		Int("categories", summary.Categories).
		Msg("corpus load completed")
	return summary, nil
}

func (l *Loader) processLine(
	line []byte,
	lineNo int,
	now time.Time,
	opts Options,
	summary *Summary,
	current *batch,
	categories map[string]struct{},
) {
	var rec Record
	if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
		summary.Invalid++
		metrics.IngestRecords.WithLabelValues("invalid").Inc()
		l.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed corpus record")
		return
	}

	cleaned, err := Clean(rec, l.opts.DateShift, l.opts.Namespace)
	if err != nil {
		summary.Invalid++
		metrics.IngestRecords.WithLabelValues("invalid").Inc()
		l.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping invalid corpus record")
		return
	}

	article := cleaned.Article
	if article.PublishedAt.After(now) {
		summary.Future++
		metrics.IngestRecords.WithLabelValues("future").Inc()
		return
	}
	if opts.MinDate != nil && article.PublishedAt.Before(*opts.MinDate) {
		summary.BeforeMin++
		metrics.IngestRecords.WithLabelValues("before_min").Inc()
		return
	}

	if l.opts.DetectLanguage != nil && article.Headline != nil {
		article.Language = news.StringPtr(l.opts.DetectLanguage(*article.Headline))
	}

	terms, err := l.opts.Tokenize(news.Deref(article.Headline))
	if err != nil {
		summary.Invalid++
		metrics.IngestRecords.WithLabelValues("invalid").Inc()
		l.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping corpus record with untokenizable headline")
		return
	}
	current.add(article, textnorm.Unique(terms))
	if article.Category != nil {
		categories[*article.Category] = struct{}{}
	}
	summary.Loaded++
	metrics.IngestRecords.WithLabelValues("loaded").Inc()
}

// headlineTerms indexes headline text only. Non-strict mode drops
// punctuation tokens instead of failing.
func headlineTerms(text string) ([]string, error) {
	return textnorm.Normalize(text, false)
}

func (l *Loader) flush(ctx context.Context, current *batch, summary *Summary) error {
	articles := make([]news.Article, 0, current.size())
	for _, id := range current.order {
		articles = append(articles, current.articles[id])
	}
	postings := make([]news.Posting, 0, len(current.postings))
	for posting := range current.postings {
		postings = append(postings, posting)
	}
	sort.Slice(postings, func(i, j int) bool {
		if postings[i].Keyword != postings[j].Keyword {
			return postings[i].Keyword < postings[j].Keyword
		}
		return postings[i].ArticleUUID < postings[j].ArticleUUID
	})

	if err := retry.Do(ctx, l.opts.Retry, "upsert_articles", func() error {
		return l.writer.UpsertArticles(ctx, articles)
	}); err != nil {
		metrics.IngestBatches.WithLabelValues("error").Inc()
		return fmt.Errorf("write article batch %d: %w", summary.Batches+1, err)
	}
	if err := retry.Do(ctx, l.opts.Retry, "upsert_postings", func() error {
		return l.writer.UpsertPostings(ctx, postings)
	}); err != nil {
		metrics.IngestBatches.WithLabelValues("error").Inc()
		return fmt.Errorf("write posting batch %d: %w", summary.Batches+1, err)
	}

	summary.Batches++
	summary.Postings += len(postings)
	metrics.IngestBatches.WithLabelValues("ok").Inc()
	l.logger.Info().
		Int("batch", summary.Batches).
		Int("articles", len(articles)).
		Int("postings", len(postings)).
		Msg("flushed corpus batch")
	return nil
}
