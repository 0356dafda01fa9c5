package models

import "time"

// User is a player record. The ID is the external auth subject, so users are
// created lazily on their first scored answer.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" gorm:"index"`

	// Points may go negative.
	Points int `json:"points" gorm:"default:0"`
}

// TableName sets the explicit table name.
func (User) TableName() string {
	return "users"
}

// SeenArticle marks an article as already presented to a user. The composite
// unique index gives the seen list set semantics; inserts are idempotent via
// ON CONFLICT DO NOTHING.
type SeenArticle struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	UserID    string `json:"user_id" gorm:"index:idx_seen_user_article,unique;not null"`
	ArticleID uint   `json:"article_id" gorm:"index:idx_seen_user_article,unique;not null"`
}

// TableName sets the explicit table name.
func (SeenArticle) TableName() string {
	return "seen_articles"
}
