package models

import (
	"fmt"
	"time"
)

// Fabrication reasons a fake article can be tagged with. The tag on a fake
// article is what the player has to guess for the bonus point.
const (
	ReasonSatire       = "satire"
	ReasonFalseContext = "false_context"
	ReasonManipulated  = "manipulated_content"
	ReasonImposter     = "imposter_content"
	ReasonClickbait    = "clickbait"
	ReasonConspiracy   = "conspiracy"
)

// FakeReasons lists every valid fabrication reason.
var FakeReasons = []string{
	ReasonSatire,
	ReasonFalseContext,
	ReasonManipulated,
	ReasonImposter,
	ReasonClickbait,
	ReasonConspiracy,
}

// ValidFakeReason reports whether r is one of the known fabrication reasons.
func ValidFakeReason(r string) bool {
	for _, known := range FakeReasons {
		if r == known {
			return true
		}
	}
	return false
}

// Article origins. Source is internal bookkeeping and never serialized.
const (
	SourceRSS       = "rss"
	SourceGenerated = "generated"
	SourceAdmin     = "admin"
)

// Article is a single news item presented to players.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string `json:"title" gorm:"uniqueIndex;not null"`
	Content  string `json:"content" gorm:"type:text"`
	ImageURL string `json:"image_url,omitempty"`

	// IsReal marks authentic journalism; FakeReason is set iff IsReal is false.
	IsReal     bool   `json:"is_real"`
	FakeReason string `json:"fake_reason,omitempty" gorm:"index"`

	Category string `json:"category" gorm:"index"`
	Source   string `json:"-" gorm:"index;default:'admin'"`

	// Views counts how often the article was handed out in a batch.
	Views int `json:"views" gorm:"default:0"`
}

// TableName sets the explicit table name.
func (Article) TableName() string {
	return "articles"
}

// Validate enforces the authenticity/reason invariant.
func (a *Article) Validate() error {
	if a.Title == "" {
		return fmt.Errorf("article title must not be empty")
	}
	if a.IsReal && a.FakeReason != "" {
		return fmt.Errorf("authentic article must not carry a fake reason")
	}
	if !a.IsReal {
		if a.FakeReason == "" {
			return fmt.Errorf("fake article requires a fake reason")
		}
		if !ValidFakeReason(a.FakeReason) {
			return fmt.Errorf("unknown fake reason %q", a.FakeReason)
		}
	}
	return nil
}
