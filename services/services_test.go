package services

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fakeout/models"
)

// newTestDB opens a fresh in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("getting sql.DB: %v", err)
	}
	// A second connection would see a different in-memory database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Article{},
		&models.User{},
		&models.SeenArticle{},
		&models.GameSession{},
		&models.ContentRepair{},
	); err != nil {
		t.Fatalf("migrating test schema: %v", err)
	}
	return db
}

// seedArticles inserts nReal authentic and nFake fabricated articles and
// returns them in insertion order.
func seedArticles(t *testing.T, db *gorm.DB, nReal, nFake int) []models.Article {
	t.Helper()
	var articles []models.Article
	for i := 0; i < nReal; i++ {
		articles = append(articles, models.Article{
			Title:    fmt.Sprintf("Real Article %d", i),
			Content:  "Body of an authentic article.",
			IsReal:   true,
			Category: "world",
			Source:   models.SourceAdmin,
		})
	}
	for i := 0; i < nFake; i++ {
		articles = append(articles, models.Article{
			Title:      fmt.Sprintf("Fake Article %d", i),
			Content:    "Body of a fabricated article.",
			IsReal:     false,
			FakeReason: models.ReasonClickbait,
			Category:   "world",
			Source:     models.SourceAdmin,
		})
	}
	if err := db.Create(&articles).Error; err != nil {
		t.Fatalf("seeding articles: %v", err)
	}
	return articles
}

func markSeen(t *testing.T, db *gorm.DB, userID string, articles []models.Article) {
	t.Helper()
	for _, a := range articles {
		if err := db.Create(&models.SeenArticle{UserID: userID, ArticleID: a.ID}).Error; err != nil {
			t.Fatalf("marking article %d seen: %v", a.ID, err)
		}
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
