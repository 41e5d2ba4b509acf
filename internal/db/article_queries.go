package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/news"
)

const writeBatchSize = 500

// UpsertArticles overwrites articles by article_uuid.
func (p *Pool) UpsertArticles(ctx context.Context, articles []news.Article) error {
	if len(articles) == 0 {
		return nil
	}
	rows := make([]Article, 0, len(articles))
	for _, a := range articles {
		rows = append(rows, articleRow(a))
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "article_uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"category", "headline", "authors", "link", "short_description", "language", "published_at", "updated_at",
			}),
		}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert articles: %w", err)
	}
	return nil
}

// UpsertPostings inserts postings, ignoring ones already present.
func (p *Pool) UpsertPostings(ctx context.Context, postings []news.Posting) error {
	if len(postings) == 0 {
		return nil
	}
	rows := make([]KeywordPosting, 0, len(postings))
	for _, posting := range postings {
		rows = append(rows, KeywordPosting{Keyword: posting.Keyword, ArticleUUID: posting.ArticleUUID})
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert keyword postings: %w", err)
	}
	return nil
}

func (p *Pool) UpsertCategories(ctx context.Context, categories []string) error {
	if len(categories) == 0 {
		return nil
	}
	rows := make([]Category, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, Category{Category: c})
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert categories: %w", err)
	}
	return nil
}

func (p *Pool) ClearPostings(ctx context.Context) error {
	if _, err := p.Exec(ctx, `TRUNCATE TABLE news.keyword_postings`); err != nil {
		return fmt.Errorf("clear keyword postings: %w", err)
	}
	return nil
}

// PostingsFor returns every article whose headline contains term.
func (p *Pool) PostingsFor(ctx context.Context, term string) ([]string, error) {
	const q = `
SELECT kp.article_uuid
FROM news.keyword_postings kp
WHERE kp.keyword = $1
`
	rows, err := p.Query(ctx, q, term)
	if err != nil {
		return nil, fmt.Errorf("query postings for %q: %w", term, err)
	}
	defer rows.Close()

	ids := make([]string, 0, 64)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan posting row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posting rows: %w", err)
	}
	return ids, nil
}

// GetArticles returns the articles that exist, in the order of ids.
func (p *Pool) GetArticles(ctx context.Context, ids []string) ([]news.Article, error) {
	if len(ids) == 0 {
		return []news.Article{}, nil
	}
	var rows []Article
	if err := p.gdb.WithContext(ctx).Where("article_uuid IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	byID := make(map[string]Article, len(rows))
	for _, row := range rows {
		byID[row.ArticleUUID] = row
	}
	out := make([]news.Article, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out = append(out, row.toNews())
		}
	}
	return out, nil
}

func (p *Pool) GetArticle(ctx context.Context, id string) (news.Article, error) {
	var row Article
	err := p.gdb.WithContext(ctx).Where("article_uuid = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return news.Article{}, apperr.NotFound("article %s not found", id)
	}
	if err != nil {
		return news.Article{}, fmt.Errorf("query article: %w", err)
	}
	return row.toNews(), nil
}

func (p *Pool) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := p.Query(ctx, `SELECT category FROM news.categories ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 64)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		out = append(out, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rows: %w", err)
	}
	return out, nil
}

func articleRow(a news.Article) Article {
	return Article{
		ArticleUUID:      a.ArticleUUID,
		Category:         a.Category,
		Headline:         a.Headline,
		Authors:          a.Authors,
		Link:             a.Link,
		ShortDescription: a.ShortDescription,
		Language:         a.Language,
		PublishedAt:      a.PublishedAt.UTC(),
	}
}

func (a Article) toNews() news.Article {
	return news.Article{
		ArticleUUID:      a.ArticleUUID,
		Category:         a.Category,
		Headline:         a.Headline,
		Authors:          a.Authors,
		Link:             a.Link,
		ShortDescription: a.ShortDescription,
		Language:         a.Language,
		PublishedAt:      a.PublishedAt.UTC(),
	}
}
