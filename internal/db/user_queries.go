package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/news"
)

func (p *Pool) GetUser(ctx context.Context, username string) (news.User, error) {
	var row User
	err := p.gdb.WithContext(ctx).Where("username = ?", username).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return news.User{}, apperr.NotFound("user %s not found", username)
	}
	if err != nil {
		return news.User{}, fmt.Errorf("query user: %w", err)
	}
	return news.User{
		Username:    row.Username,
		FirstName:   row.FirstName,
		LastName:    row.LastName,
		Affiliation: row.Affiliation,
		Interests:   row.Interests,
	}, nil
}

func (p *Pool) UpsertUser(ctx context.Context, user news.User) error {
	row := User{
		Username:    user.Username,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Affiliation: user.Affiliation,
		Interests:   user.Interests,
		UpdatedAt:   globaltime.UTC(),
	}
	err := p.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "username"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "affiliation", "interests", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreateLike fails with Conflict when the pair is already liked.
func (p *Pool) CreateLike(ctx context.Context, like news.Like) error {
	const q = `
INSERT INTO news.article_likes (article_uuid, username, first_name, last_name, liked_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (article_uuid, username) DO NOTHING
`
	tag, err := p.Exec(ctx, q, like.ArticleUUID, like.Username, like.FirstName, like.LastName, like.LikedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert like: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("%s already liked article %s", like.Username, like.ArticleUUID)
	}
	return nil
}

// DeleteLike fails with Conflict when the pair is not liked.
func (p *Pool) DeleteLike(ctx context.Context, username, articleUUID string) error {
	const q = `
DELETE FROM news.article_likes
WHERE article_uuid = $1 AND username = $2
`
	tag, err := p.Exec(ctx, q, articleUUID, username)
	if err != nil {
		return fmt.Errorf("delete like: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("%s has not liked article %s", username, articleUUID)
	}
	return nil
}
