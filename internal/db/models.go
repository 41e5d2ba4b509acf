package db

import (
	"time"
)

// Article maps news.articles.
type Article struct {
	ArticleUUID      string    `gorm:"column:article_uuid;type:text;primaryKey"`
	Category         *string   `gorm:"column:category;type:text"`
	Headline         *string   `gorm:"column:headline;type:text"`
	Authors          *string   `gorm:"column:authors;type:text"`
	Link             *string   `gorm:"column:link;type:text"`
	ShortDescription *string   `gorm:"column:short_description;type:text"`
	Language         *string   `gorm:"column:language;type:text"`
	PublishedAt      time.Time `gorm:"column:published_at;type:timestamptz;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Article) TableName() string { return "news.articles" }

// Category maps news.categories.
type Category struct {
	Category  string    `gorm:"column:category;type:text;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Category) TableName() string { return "news.categories" }

// KeywordPosting maps news.keyword_postings.
type KeywordPosting struct {
	Keyword     string `gorm:"column:keyword;type:text;primaryKey"`
	ArticleUUID string `gorm:"column:article_uuid;type:text;primaryKey"`
}

func (KeywordPosting) TableName() string { return "news.keyword_postings" }

// RankingWeight maps news.ranking_weights.
type RankingWeight struct {
	Username         string    `gorm:"column:username;type:text;primaryKey"`
	ArticleUUID      string    `gorm:"column:article_uuid;type:text;primaryKey"`
	AdsorptionWeight float64   `gorm:"column:adsorption_weight;type:double precision;not null;default:0"`
	UpdatedAt        time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RankingWeight) TableName() string { return "news.ranking_weights" }

// RecommendedArticle maps news.recommended_articles.
type RecommendedArticle struct {
	Username    string    `gorm:"column:username;type:text;primaryKey"`
	RecUUID     string    `gorm:"column:rec_uuid;type:text;primaryKey"`
	ArticleUUID string    `gorm:"column:article_uuid;type:text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (RecommendedArticle) TableName() string { return "news.recommended_articles" }

// ArticleLike maps news.article_likes.
type ArticleLike struct {
	ArticleUUID string    `gorm:"column:article_uuid;type:text;primaryKey"`
	Username    string    `gorm:"column:username;type:text;primaryKey"`
	FirstName   string    `gorm:"column:first_name;type:text;not null;default:''"`
	LastName    string    `gorm:"column:last_name;type:text;not null;default:''"`
	LikedAt     time.Time `gorm:"column:liked_at;type:timestamptz;not null;default:now()"`
}

func (ArticleLike) TableName() string { return "news.article_likes" }

// User maps news.users, a read replica of the identity store.
type User struct {
	Username    string    `gorm:"column:username;type:text;primaryKey"`
	FirstName   string    `gorm:"column:first_name;type:text;not null;default:''"`
	LastName    string    `gorm:"column:last_name;type:text;not null;default:''"`
	Affiliation string    `gorm:"column:affiliation;type:text;not null;default:''"`
	Interests   []string  `gorm:"column:interests;type:jsonb;serializer:json"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (User) TableName() string { return "news.users" }

// RecomputeState maps news.recompute_state.
type RecomputeState struct {
	Name      string    `gorm:"column:name;type:text;primaryKey"`
	Status    string    `gorm:"column:status;type:news.recompute_status;not null;default:idle"`
	Owner     string    `gorm:"column:owner;type:text;not null;default:''"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RecomputeState) TableName() string { return "news.recompute_state" }

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Category{},
		&KeywordPosting{},
		&RankingWeight{},
		&RecommendedArticle{},
		&ArticleLike{},
		&User{},
		&RecomputeState{},
	}
}
