package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fakeout/models"
)

// ErrArticleNotFound means the answered article id does not exist; no points
// are applied in that case.
var ErrArticleNotFound = errors.New("article not found")

// Point deltas per outcome.
const (
	pointsRealCorrect = 1
	pointsFakeCorrect = 2
	pointsRealWrong   = -1
	pointsFakeWrong   = -2
	pointsReasonBonus = 1
)

// AnswerResult carries the applied delta plus the ground truth for the
// feedback screen.
type AnswerResult struct {
	Delta      int    `json:"delta"`
	Correct    bool   `json:"correct"`
	IsReal     bool   `json:"is_real"`
	FakeReason string `json:"fake_reason,omitempty"`
}

// EvaluatorService scores submitted answers and persists their effects.
type EvaluatorService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewEvaluatorService creates a new EvaluatorService.
func NewEvaluatorService(db *gorm.DB, logger *zap.Logger) *EvaluatorService {
	return &EvaluatorService{DB: db, Logger: logger}
}

// Score evaluates one answer: computes the point delta, appends a session
// record, applies the delta to the user, and marks the article as seen.
// The session-log write and the user-record writes are independent; a failure
// of the former does not roll back the latter.
func (e *EvaluatorService) Score(ctx context.Context, userID string, articleID uint, saidFake bool, chosenReason string) (*AnswerResult, error) {
	log := e.Logger.With(zap.String("user_id", userID), zap.Uint("article_id", articleID))

	var article models.Article
	if err := e.DB.WithContext(ctx).First(&article, articleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("loading article: %w", err)
	}

	delta, correct := scoreAnswer(&article, saidFake, chosenReason)

	// Session log is append-only and a secondary effect: log and move on.
	record := models.GameSession{
		UserID:       userID,
		ArticleID:    articleID,
		SaidFake:     saidFake,
		ChosenReason: chosenReason,
	}
	if err := e.DB.WithContext(ctx).Create(&record).Error; err != nil {
		log.Warn("failed to append session record", zap.Error(err))
	}

	// Lazily create the user row, then apply the delta atomically in the
	// database. No read-modify-write: concurrent answers must not lose points.
	if err := e.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.User{ID: userID}).Error; err != nil {
		return nil, fmt.Errorf("ensuring user record: %w", err)
	}
	if err := e.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("points", gorm.Expr("points + ?", delta)).Error; err != nil {
		return nil, fmt.Errorf("applying point delta: %w", err)
	}

	// Seen list has set semantics: inserting an already-seen article is a no-op.
	if err := e.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.SeenArticle{UserID: userID, ArticleID: articleID}).Error; err != nil {
		return nil, fmt.Errorf("marking article seen: %w", err)
	}

	log.Info("answer scored",
		zap.Int("delta", delta),
		zap.Bool("correct", correct),
		zap.Bool("said_fake", saidFake))

	return &AnswerResult{
		Delta:      delta,
		Correct:    correct,
		IsReal:     article.IsReal,
		FakeReason: article.FakeReason,
	}, nil
}

// scoreAnswer computes the point delta for one classification. The reason
// bonus only applies when the article is truly fake, the user said fake, and
// a reason was supplied.
func scoreAnswer(article *models.Article, saidFake bool, chosenReason string) (delta int, correct bool) {
	if article.IsReal {
		if saidFake {
			return pointsRealWrong, false
		}
		return pointsRealCorrect, true
	}

	if !saidFake {
		return pointsFakeWrong, false
	}

	delta = pointsFakeCorrect
	if chosenReason != "" {
		if chosenReason == article.FakeReason {
			delta += pointsReasonBonus
		} else {
			delta -= pointsReasonBonus
		}
	}
	return delta, true
}
