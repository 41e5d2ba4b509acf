package db

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"horse.fit/newsfeed/internal/news"
)

// WeightsFor returns the adsorption weights username has for ids. Articles
// without a weight are absent from the map.
func (p *Pool) WeightsFor(ctx context.Context, username string, ids []string) (map[string]float64, error) {
	out := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []RankingWeight
	err := p.gdb.WithContext(ctx).
		Where("username = ? AND article_uuid IN ?", username, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query ranking weights: %w", err)
	}
	for _, row := range rows {
		out[row.ArticleUUID] = row.AdsorptionWeight
	}
	return out, nil
}

func (p *Pool) UpsertWeights(ctx context.Context, weights []news.RankingWeight) error {
	if len(weights) == 0 {
		return nil
	}
	rows := make([]RankingWeight, 0, len(weights))
	for _, w := range weights {
		rows = append(rows, RankingWeight{Username: w.Username, ArticleUUID: w.ArticleUUID, AdsorptionWeight: w.AdsorptionWeight})
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}, {Name: "article_uuid"}},
			DoUpdates: clause.AssignmentColumns([]string{"adsorption_weight", "updated_at"}),
		}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert ranking weights: %w", err)
	}
	return nil
}

// ListRecommendations pages a user's feed by rec_uuid descending. before is
// an exclusive upper bound; empty starts at the newest entry.
func (p *Pool) ListRecommendations(ctx context.Context, username, before string, limit int) ([]news.Recommendation, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	const q = `
SELECT ra.rec_uuid, ra.article_uuid
FROM news.recommended_articles ra
WHERE ra.username = $1
  AND ($2 = '' OR ra.rec_uuid < $2)
ORDER BY ra.rec_uuid DESC
LIMIT $3
`
	rows, err := p.Query(ctx, q, username, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query recommendations: %w", err)
	}
	defer rows.Close()

	out := make([]news.Recommendation, 0, limit)
	for rows.Next() {
		rec := news.Recommendation{Username: username}
		if err := rows.Scan(&rec.RecUUID, &rec.ArticleUUID); err != nil {
			return nil, fmt.Errorf("scan recommendation row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recommendation rows: %w", err)
	}
	return out, nil
}

func (p *Pool) AddRecommendations(ctx context.Context, recs []news.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]RecommendedArticle, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, RecommendedArticle{Username: rec.Username, RecUUID: rec.RecUUID, ArticleUUID: rec.ArticleUUID})
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("insert recommendations: %w", err)
	}
	return nil
}
