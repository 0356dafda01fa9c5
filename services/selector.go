package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fakeout/models"
)

const (
	// DefaultBatchSize is used when the caller does not ask for a specific size.
	DefaultBatchSize = 10

	// smallCorpusThreshold: at or below this many articles the seen filter is
	// bypassed so a near-empty database never yields an empty batch.
	smallCorpusThreshold = 3

	// overfetchFactor caps the per-side candidate queries at a small multiple
	// of the batch size, leaving headroom for dedupe and balancing.
	overfetchFactor = 3
)

var (
	// ErrNoArticles means the corpus is empty and needs content population.
	ErrNoArticles = errors.New("no articles in corpus")
	// ErrExhausted means the user has answered every article of a small corpus.
	ErrExhausted = errors.New("all articles already answered")
)

// Batch is the selector's result: an ordered article list plus the counts the
// UI needs for its progress display.
type Batch struct {
	Articles    []models.Article `json:"articles"`
	TotalCount  int64            `json:"total_count"`
	UnseenCount int64            `json:"unseen_count"`
}

// SelectorService assembles game batches: unseen, title-deduplicated,
// roughly 50/50 real/fake, with adjacent same-type articles avoided where
// possible.
type SelectorService struct {
	DB     *gorm.DB
	Logger *zap.Logger

	// Replenish is invoked with the shortfall when a batch comes back short.
	// It must not block; the selector never waits on content generation.
	Replenish func(need int)
}

// NewSelectorService creates a new SelectorService.
func NewSelectorService(db *gorm.DB, logger *zap.Logger) *SelectorService {
	return &SelectorService{DB: db, Logger: logger}
}

// SelectBatch returns up to size articles the user has not seen yet.
func (s *SelectorService) SelectBatch(ctx context.Context, userID string, size int, ignoreSeen bool) (*Batch, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	log := s.Logger.With(zap.String("user_id", userID))

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Article{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting articles: %w", err)
	}
	if total == 0 {
		return nil, ErrNoArticles
	}

	var seen []uint
	if !ignoreSeen && userID != "" {
		if err := s.DB.WithContext(ctx).Model(&models.SeenArticle{}).
			Where("user_id = ?", userID).
			Pluck("article_id", &seen).Error; err != nil {
			return nil, fmt.Errorf("loading seen list: %w", err)
		}
	}
	unseen, err := s.unseenCount(ctx, seen, total)
	if err != nil {
		return nil, err
	}

	// Tiny corpus: hand out everything. The seen list only decides whether
	// the user is done with the few articles that exist.
	if total <= smallCorpusThreshold {
		// The most content-starved state still has to ask for more articles.
		if 2*int(total) < size && s.Replenish != nil {
			log.Info("small corpus below half the requested size, requesting replenishment",
				zap.Int64("total_articles", total), zap.Int("requested", size))
			s.Replenish(size - int(total))
		}
		if unseen == 0 && !ignoreSeen {
			return nil, ErrExhausted
		}
		var all []models.Article
		if err := s.DB.WithContext(ctx).Order("created_at desc").Find(&all).Error; err != nil {
			return nil, fmt.Errorf("loading small corpus: %w", err)
		}
		all = dedupeByTitle(all)
		shuffleArticles(all)
		repairAdjacency(all)
		s.bumpViews(ctx, all)
		return &Batch{Articles: all, TotalCount: total, UnseenCount: unseen}, nil
	}

	real, err := s.candidates(ctx, seen, true, size*overfetchFactor)
	if err != nil {
		return nil, err
	}
	fake, err := s.candidates(ctx, seen, false, size*overfetchFactor)
	if err != nil {
		return nil, err
	}

	if len(real)+len(fake) == 0 && unseen == 0 {
		// Every article answered: reset the seen history and start over.
		log.Info("seen list covers the whole corpus, resetting",
			zap.Int64("total_articles", total))
		if err := s.ResetSeen(ctx, userID); err != nil {
			return nil, err
		}
		seen = nil
		unseen = total
		if real, err = s.candidates(ctx, seen, true, size*overfetchFactor); err != nil {
			return nil, err
		}
		if fake, err = s.candidates(ctx, seen, false, size*overfetchFactor); err != nil {
			return nil, err
		}
	}

	pool := append(real, fake...)
	if len(pool) == 0 {
		// Last resort: a single combined query without the authenticity split.
		q := s.DB.WithContext(ctx).Order("created_at desc").Limit(size * overfetchFactor)
		if len(seen) > 0 {
			q = q.Where("id NOT IN ?", seen)
		}
		if err := q.Find(&pool).Error; err != nil {
			return nil, fmt.Errorf("combined candidate query: %w", err)
		}
	}

	pool = dedupeByTitle(pool)
	realPart, fakePart := splitByAuthenticity(pool)
	batch := balanceMix(realPart, fakePart, size)
	shuffleArticles(batch)
	repairAdjacency(batch)

	if 2*len(batch) < size && s.Replenish != nil {
		log.Info("batch below half the requested size, requesting replenishment",
			zap.Int("batch_size", len(batch)), zap.Int("requested", size))
		s.Replenish(size - len(batch))
	}

	s.bumpViews(ctx, batch)
	return &Batch{Articles: batch, TotalCount: total, UnseenCount: unseen}, nil
}

// ResetSeen clears the user's seen history.
func (s *SelectorService) ResetSeen(ctx context.Context, userID string) error {
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.SeenArticle{}).Error; err != nil {
		return fmt.Errorf("resetting seen list: %w", err)
	}
	return nil
}

func (s *SelectorService) candidates(ctx context.Context, seen []uint, isReal bool, limit int) ([]models.Article, error) {
	q := s.DB.WithContext(ctx).
		Where("is_real = ?", isReal).
		Order("created_at desc").
		Limit(limit)
	if len(seen) > 0 {
		q = q.Where("id NOT IN ?", seen)
	}
	var arts []models.Article
	if err := q.Find(&arts).Error; err != nil {
		return nil, fmt.Errorf("candidate query (is_real=%v): %w", isReal, err)
	}
	return arts, nil
}

func (s *SelectorService) unseenCount(ctx context.Context, seen []uint, total int64) (int64, error) {
	if len(seen) == 0 {
		return total, nil
	}
	var n int64
	if err := s.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id NOT IN ?", seen).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting unseen articles: %w", err)
	}
	return n, nil
}

// bumpViews increments the view counter for every presented article. A failed
// counter update never fails the batch.
func (s *SelectorService) bumpViews(ctx context.Context, arts []models.Article) {
	if len(arts) == 0 {
		return
	}
	ids := make([]uint, 0, len(arts))
	for _, a := range arts {
		ids = append(ids, a.ID)
	}
	if err := s.DB.WithContext(ctx).Model(&models.Article{}).
		Where("id IN ?", ids).
		UpdateColumn("views", gorm.Expr("views + 1")).Error; err != nil {
		s.Logger.Warn("failed to bump article view counters", zap.Error(err))
	}
}

// dedupeByTitle drops near-duplicate titles, keeping the first occurrence.
func dedupeByTitle(arts []models.Article) []models.Article {
	keys := make(map[string]struct{}, len(arts))
	out := make([]models.Article, 0, len(arts))
	for _, a := range arts {
		key := strings.ToLower(strings.TrimSpace(a.Title))
		if _, dup := keys[key]; dup {
			continue
		}
		keys[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func splitByAuthenticity(arts []models.Article) (real, fake []models.Article) {
	for _, a := range arts {
		if a.IsReal {
			real = append(real, a)
		} else {
			fake = append(fake, a)
		}
	}
	return real, fake
}

// balanceMix takes ceil(n/2) real and the remaining fake articles, then
// backfills from whichever side has surplus when the other comes up short.
func balanceMix(real, fake []models.Article, n int) []models.Article {
	wantReal := (n + 1) / 2
	if wantReal > len(real) {
		wantReal = len(real)
	}
	wantFake := n - wantReal
	if wantFake > len(fake) {
		wantFake = len(fake)
	}

	out := make([]models.Article, 0, n)
	out = append(out, real[:wantReal]...)
	out = append(out, fake[:wantFake]...)

	for len(out) < n && wantReal < len(real) {
		out = append(out, real[wantReal])
		wantReal++
	}
	for len(out) < n && wantFake < len(fake) {
		out = append(out, fake[wantFake])
		wantFake++
	}
	return out
}

func shuffleArticles(arts []models.Article) {
	rand.Shuffle(len(arts), func(i, j int) {
		arts[i], arts[j] = arts[j], arts[i]
	})
}

// repairAdjacency makes a single left-to-right pass and swaps each article
// that repeats its predecessor's authenticity with the nearest following
// article of the opposite type. No backtracking: if no candidate exists
// further right, the violation stays. Best effort, not a guarantee.
func repairAdjacency(arts []models.Article) {
	for i := 1; i < len(arts); i++ {
		if arts[i].IsReal != arts[i-1].IsReal {
			continue
		}
		for j := i + 1; j < len(arts); j++ {
			if arts[j].IsReal != arts[i].IsReal {
				arts[i], arts[j] = arts[j], arts[i]
				break
			}
		}
	}
}
