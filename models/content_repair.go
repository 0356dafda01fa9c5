package models

import "time"

// ContentRepair caches the generator's headline/body mismatch fix for an
// article, keyed by the original article id so each article is repaired at
// most once.
type ContentRepair struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ArticleID uint   `json:"article_id" gorm:"uniqueIndex;not null"`
	Title     string `json:"title"`
	Content   string `json:"content" gorm:"type:text"`
}

// TableName sets the explicit table name.
func (ContentRepair) TableName() string {
	return "content_repairs"
}
