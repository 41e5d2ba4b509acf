package feed

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsfeed/internal/apperr"
	"horse.fit/newsfeed/internal/globaltime"
	"horse.fit/newsfeed/internal/news"
)

// LikeStore is what liking needs from storage.
type LikeStore interface {
	GetUser(ctx context.Context, username string) (news.User, error)
	GetArticle(ctx context.Context, articleUUID string) (news.Article, error)
	CreateLike(ctx context.Context, like news.Like) error
	DeleteLike(ctx context.Context, username, articleUUID string) error
}

type Likes struct {
	store  LikeStore
	logger zerolog.Logger
	now    func() time.Time
}

func NewLikes(store LikeStore, logger zerolog.Logger) *Likes {
	return &Likes{store: store, logger: logger, now: globaltime.UTC}
}

// Like records that username liked articleUUID. Both must exist; a repeat
// like is a Conflict.
func (l *Likes) Like(ctx context.Context, username, articleUUID string) (news.Like, error) {
	user, err := l.resolve(ctx, username, articleUUID)
	if err != nil {
		return news.Like{}, err
	}
	like := news.Like{
		ArticleUUID: strings.TrimSpace(articleUUID),
		Username:    user.Username,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		LikedAt:     l.now(),
	}
	if err := l.store.CreateLike(ctx, like); err != nil {
		return news.Like{}, err
	}
	l.logger.Info().Str("username", like.Username).Str("article_uuid", like.ArticleUUID).Msg("article liked")
	return like, nil
}

// Unlike removes a like. Unliking an article that is not liked is a Conflict.
func (l *Likes) Unlike(ctx context.Context, username, articleUUID string) error {
	user, err := l.resolve(ctx, username, articleUUID)
	if err != nil {
		return err
	}
	if err := l.store.DeleteLike(ctx, user.Username, strings.TrimSpace(articleUUID)); err != nil {
		return err
	}
	l.logger.Info().Str("username", user.Username).Str("article_uuid", articleUUID).Msg("article unliked")
	return nil
}

func (l *Likes) resolve(ctx context.Context, username, articleUUID string) (news.User, error) {
	username = strings.TrimSpace(username)
	articleUUID = strings.TrimSpace(articleUUID)
	if username == "" {
		return news.User{}, apperr.BadRequest("username is required")
	}
	if articleUUID == "" {
		return news.User{}, apperr.BadRequest("article_uuid is required")
	}
	user, err := l.store.GetUser(ctx, username)
	if err != nil {
		return news.User{}, err
	}
	if _, err := l.store.GetArticle(ctx, articleUUID); err != nil {
		return news.User{}, err
	}
	return user, nil
}
