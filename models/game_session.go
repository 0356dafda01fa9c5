package models

import "time"

// GameSession is one scored answer in the append-only session log. Rows are
// immutable once written; duplicates for the same logical answer are
// tolerated (analytics reads collapse them, scoring never re-reads the log).
type GameSession struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	UserID    string `json:"user_id" gorm:"index;not null"`
	ArticleID uint   `json:"article_id" gorm:"index;not null"`

	// SaidFake is the player's classification, not the ground truth.
	SaidFake     bool   `json:"said_fake"`
	ChosenReason string `json:"chosen_reason,omitempty"`
}

// TableName sets the explicit table name.
func (GameSession) TableName() string {
	return "game_sessions"
}
