package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fakeout/config"
	"fakeout/models"
	"fakeout/storage"
)

// Feed bodies shorter than this trigger a readability fetch of the full page.
const minFeedContentLen = 280

// ingestTransport adds a browser User-Agent; several feeds reject default
// Go clients.
type ingestTransport struct {
	base http.RoundTripper
}

func (t *ingestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.base.RoundTrip(req)
}

var ingestClient = &http.Client{
	Timeout:   30 * time.Second,
	Transport: &ingestTransport{base: http.DefaultTransport},
}

// IngestService pulls configured RSS feeds and normalizes their items into
// authentic articles.
type IngestService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Feeds    []config.Feed
	S3Client *s3.Client // nil disables image mirroring

	parser *gofeed.Parser
}

// NewIngestService creates a new IngestService.
func NewIngestService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, feeds []config.Feed, s3Client *s3.Client) *IngestService {
	parser := gofeed.NewParser()
	parser.Client = ingestClient
	return &IngestService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Feeds:    feeds,
		S3Client: s3Client,
		parser:   parser,
	}
}

// RunAllFeeds ingests every configured feed. A failing feed is logged and
// skipped; the run continues with the next one.
func (s *IngestService) RunAllFeeds(ctx context.Context) (int, error) {
	total := 0
	for _, feed := range s.Feeds {
		count, err := s.runFeed(ctx, feed)
		if err != nil {
			s.Logger.Error("feed ingestion failed",
				zap.String("feed", feed.URL), zap.Error(err))
			continue
		}
		total += count
	}
	s.Logger.Info("feed ingestion completed", zap.Int("new_articles", total))
	return total, nil
}

func (s *IngestService) runFeed(ctx context.Context, feed config.Feed) (int, error) {
	log := s.Logger.With(zap.String("feed", feed.URL), zap.String("category", feed.Category))

	parsed, err := s.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, fmt.Errorf("parsing feed: %w", err)
	}

	count := 0
	for _, item := range parsed.Items {
		article := s.normalizeItem(ctx, item, feed)
		if article == nil {
			continue
		}

		// Duplicate titles (re-delivered items, overlapping feeds) are skipped.
		if err := s.DB.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "title"}}, DoNothing: true}).
			Create(article).Error; err != nil {
			log.Warn("failed to store feed article", zap.String("title", article.Title), zap.Error(err))
			continue
		}
		if article.ID != 0 {
			count++
		}
	}

	log.Info("feed processed", zap.Int("items", len(parsed.Items)), zap.Int("new_articles", count))
	return count, nil
}

// normalizeItem converts one feed item into an authentic Article, or nil when
// the item is unusable.
func (s *IngestService) normalizeItem(ctx context.Context, item *gofeed.Item, feed config.Feed) *models.Article {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	content = htmlToText(content)

	link := item.Link
	if link == "" {
		link = item.GUID
	}

	// Thin feed bodies: fetch the page and extract the readable text.
	if len(content) < minFeedContentLen && link != "" {
		if full := s.fetchFullText(ctx, link); full != "" {
			content = full
		}
	}
	if content == "" {
		return nil
	}

	imageURL := itemImageURL(item)
	if imageURL != "" && s.S3Client != nil {
		if mirrored := s.mirrorImage(ctx, imageURL); mirrored != "" {
			imageURL = mirrored
		}
	}

	return &models.Article{
		Title:    title,
		Content:  content,
		ImageURL: imageURL,
		IsReal:   true,
		Category: feed.Category,
		Source:   models.SourceRSS,
	}
}

// fetchFullText downloads the linked page and runs readability extraction.
// Failures degrade to the feed-provided body.
func (s *IngestService) fetchFullText(ctx context.Context, link string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return ""
	}
	resp, err := ingestClient.Do(req)
	if err != nil {
		s.Logger.Debug("full-text fetch failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	art, err := readability.FromReader(resp.Body, resp.Request.URL)
	if err != nil {
		s.Logger.Debug("readability extraction failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(art.TextContent)
}

// mirrorImage copies a remote article image into the configured bucket and
// returns the mirrored link, or "" when mirroring fails (the original URL
// stays in place then).
func (s *IngestService) mirrorImage(ctx context.Context, imageURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return ""
	}
	resp, err := ingestClient.Do(req)
	if err != nil {
		s.Logger.Warn("image download failed", zap.String("url", imageURL), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return ""
	}

	key := fmt.Sprintf("images/%d-%s", time.Now().UnixNano(), path.Base(imageURL))
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	link, err := storage.UploadObject(ctx, s.S3Client, s.Config, key, contentType, data)
	if err != nil {
		s.Logger.Warn("image upload failed", zap.String("url", imageURL), zap.Error(err))
		return ""
	}
	return link
}

func itemImageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// htmlToText extracts plain text from feed-provided HTML and collapses
// whitespace. Invalid HTML degrades to the raw string.
func htmlToText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
