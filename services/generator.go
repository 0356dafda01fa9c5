package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fakeout/config"
	"fakeout/models"
	"fakeout/providers"
)

var headlineCaser = cases.Title(language.English)

// GeneratorService fabricates articles via the LLM provider and repairs
// headline/body mismatches. Every upstream call carries a deadline; on any
// failure the service falls back to locally fabricated text instead of
// surfacing the error to the player-facing path.
type GeneratorService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Provider providers.ChatProvider

	// Categories fake articles are spread across during replenishment.
	Categories []string
}

// NewGeneratorService creates a new GeneratorService.
func NewGeneratorService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, provider providers.ChatProvider, categories []string) *GeneratorService {
	if len(categories) == 0 {
		categories = []string{"world", "technology", "science", "health"}
	}
	return &GeneratorService{
		Config:     cfg,
		DB:         db,
		Logger:     logger,
		Provider:   provider,
		Categories: categories,
	}
}

// GenerateArticle fabricates and stores one article for the category. An
// empty fakeReason produces an authentic-style article; otherwise the reason
// must be one of the known fabrication tags. Duplicate titles are skipped.
func (g *GeneratorService) GenerateArticle(ctx context.Context, category, fakeReason string) (*models.Article, error) {
	if fakeReason != "" && !models.ValidFakeReason(fakeReason) {
		return nil, fmt.Errorf("unknown fake reason %q", fakeReason)
	}

	title, content := g.fabricate(ctx, category, fakeReason)

	article := models.Article{
		Title:      title,
		Content:    content,
		IsReal:     fakeReason == "",
		FakeReason: fakeReason,
		Category:   category,
		Source:     models.SourceGenerated,
	}
	if err := article.Validate(); err != nil {
		return nil, err
	}

	if err := g.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "title"}}, DoNothing: true}).
		Create(&article).Error; err != nil {
		return nil, fmt.Errorf("storing generated article: %w", err)
	}
	if article.ID == 0 {
		return nil, fmt.Errorf("generated article duplicates existing title %q", title)
	}

	g.Logger.Info("article generated",
		zap.Uint("article_id", article.ID),
		zap.String("category", category),
		zap.String("fake_reason", fakeReason))
	return &article, nil
}

// RepairMismatch aligns an article's headline with its body. Results are
// cached by article id so each article hits the LLM at most once.
func (g *GeneratorService) RepairMismatch(ctx context.Context, articleID uint) (*models.ContentRepair, error) {
	var cached models.ContentRepair
	err := g.DB.WithContext(ctx).Where("article_id = ?", articleID).First(&cached).Error
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading repair cache: %w", err)
	}

	var article models.Article
	if err := g.DB.WithContext(ctx).First(&article, articleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, fmt.Errorf("loading article: %w", err)
	}

	title, content := article.Title, article.Content
	if out, ok := g.complete(ctx, repairPrompt(&article)); ok {
		if t, c, parsed := parseArticleJSON(out); parsed {
			title, content = t, c
		}
	} else {
		// Rule-based substitution: reuse the body's first sentence as headline.
		if lead := firstSentence(content); lead != "" {
			title = lead
		}
	}

	repair := models.ContentRepair{ArticleID: articleID, Title: title, Content: content}
	if err := g.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "article_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content"}),
	}).Create(&repair).Error; err != nil {
		// Cache write is a secondary effect; the repair itself still succeeded.
		g.Logger.Warn("failed to cache content repair", zap.Uint("article_id", articleID), zap.Error(err))
	}
	return &repair, nil
}

// ReplenishCorpus generates up to need fake articles spread across the
// configured categories and reasons. Returns how many were actually stored.
func (g *GeneratorService) ReplenishCorpus(ctx context.Context, need int) (int, error) {
	created := 0
	for i := 0; i < need; i++ {
		category := g.Categories[rand.Intn(len(g.Categories))]
		reason := models.FakeReasons[rand.Intn(len(models.FakeReasons))]
		if _, err := g.GenerateArticle(ctx, category, reason); err != nil {
			g.Logger.Warn("replenishment article skipped",
				zap.String("category", category),
				zap.String("fake_reason", reason),
				zap.Error(err))
			continue
		}
		created++
	}
	return created, nil
}

// fabricate asks the LLM for title and body, falling back to local templates
// when the provider is unavailable, times out, or returns garbage.
func (g *GeneratorService) fabricate(ctx context.Context, category, fakeReason string) (title, content string) {
	if out, ok := g.complete(ctx, fabricationPrompt(category, fakeReason)); ok {
		if t, c, parsed := parseArticleJSON(out); parsed {
			return t, c
		}
		g.Logger.Warn("unparseable generator response, using fallback text",
			zap.String("category", category))
	}
	return fallbackArticle(category, fakeReason)
}

// complete runs one bounded provider call. Returns ok=false on any failure.
func (g *GeneratorService) complete(ctx context.Context, prompt string) (string, bool) {
	if g.Provider == nil || !g.Provider.IsConfigured() {
		return "", false
	}
	callCtx, cancel := context.WithTimeout(ctx, g.Config.LLMTimeout())
	defer cancel()

	out, err := g.Provider.Complete(callCtx, prompt)
	if err != nil {
		g.Logger.Warn("llm call failed", zap.String("provider", g.Provider.Name()), zap.Error(err))
		return "", false
	}
	return out, true
}

func fabricationPrompt(category, fakeReason string) string {
	var b strings.Builder
	b.WriteString("Write a short news article for the category \"")
	b.WriteString(category)
	b.WriteString("\".\n")
	if fakeReason == "" {
		b.WriteString("The article must read like credible, factual journalism.\n")
	} else {
		b.WriteString("The article must be fake news of the type \"")
		b.WriteString(fakeReason)
		b.WriteString("\": plausible at first glance but recognizably flawed to a careful reader.\n")
	}
	b.WriteString("Answer with JSON: {\"title\": \"...\", \"content\": \"...\"} (content 80-150 words).")
	return b.String()
}

func repairPrompt(article *models.Article) string {
	kind := "an authentic"
	if !article.IsReal {
		kind = fmt.Sprintf("a fake (%s)", article.FakeReason)
	}
	return fmt.Sprintf(
		"The headline and body of %s news article no longer match. Rewrite the headline so it fits the body without changing the body's meaning.\n"+
			"Headline: %s\nBody: %s\n"+
			"Answer with JSON: {\"title\": \"...\", \"content\": \"...\"}.",
		kind, article.Title, article.Content)
}

// parseArticleJSON extracts title and content from an LLM response, stripping
// markdown code fences first.
func parseArticleJSON(text string) (title, content string, ok bool) {
	text = stripCodeFences(text)
	if text == "" {
		return "", "", false
	}

	var payload struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", "", false
	}
	payload.Title = strings.TrimSpace(payload.Title)
	payload.Content = strings.TrimSpace(payload.Content)
	if payload.Title == "" || payload.Content == "" {
		return "", "", false
	}
	return payload.Title, payload.Content, true
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	// A fence without a body ("```" alone, or everything on one line) carries
	// no usable payload.
	if len(lines) < 2 {
		return ""
	}
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, ".!?"); idx > 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// Local fallback templates, one headline pattern per fabrication reason.
var fallbackHeadlines = map[string]string{
	models.ReasonSatire:       "Local %s Experts Declare Victory Over Common Sense",
	models.ReasonFalseContext: "Years-Old %s Footage Resurfaces As Breaking News",
	models.ReasonManipulated:  "Leaked %s Report Reveals Numbers Nobody Can Verify",
	models.ReasonImposter:     "Official %s Bulletin Announces Sweeping Overnight Changes",
	models.ReasonClickbait:    "You Won't Believe What Just Happened In %s",
	models.ReasonConspiracy:   "Insiders Say The Truth About %s Is Being Hidden",
}

// fallbackArticle fabricates rule-based text locally so the replenishment
// path keeps working without an LLM.
func fallbackArticle(category, fakeReason string) (title, content string) {
	if fakeReason == "" {
		title = fmt.Sprintf("Researchers Publish New Findings On %s Trends", headlineCaser.String(category))
		content = fmt.Sprintf(
			"A peer-reviewed study released this week examines long-term developments in %s. "+
				"The authors analyzed publicly available data from the past decade and describe "+
				"their methodology in detail. Independent experts called the findings solid but "+
				"cautioned that follow-up work is needed before drawing broad conclusions.",
			category)
		return title, content
	}

	pattern, ok := fallbackHeadlines[fakeReason]
	if !ok {
		pattern = "Shocking %s Development Stuns Observers"
	}
	title = fmt.Sprintf(pattern, headlineCaser.String(category))
	content = fmt.Sprintf(
		"Sources close to the matter claim a dramatic development in %s, though no official "+
			"confirmation exists. The report cites unnamed insiders and circulates figures that "+
			"cannot be traced to any published source. Established outlets have not picked up "+
			"the story, and earlier versions of the same claim were quietly corrected.",
		category)
	return title, content
}
