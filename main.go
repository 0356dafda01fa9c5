package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"fakeout/config"
	"fakeout/models"
	"fakeout/providers/openai"
	"fakeout/services"
	"fakeout/storage"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	articlesIngestedCounter  prometheus.Counter
	articlesGeneratedCounter prometheus.Counter
	answersScoredCounter     prometheus.Counter
)

func init() {
	articlesIngestedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "articles_ingested_total",
		Help: "Total number of articles ingested from RSS feeds.",
	})
	articlesGeneratedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "articles_generated_total",
		Help: "Total number of articles fabricated by the content generator.",
	})
	answersScoredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "answers_scored_total",
		Help: "Total number of player answers scored.",
	})
	prometheus.MustRegister(articlesIngestedCounter, articlesGeneratedCounter, answersScoredCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Article{},
		&models.User{},
		&models.SeenArticle{},
		&models.GameSession{},
		&models.ContentRepair{},
	)

	seedDefaultArticles(db, logging)

	feeds, err := config.LoadFeeds(cfg.FeedsFile)
	if err != nil {
		logging.Fatal("Failed to load feeds file", zap.Error(err))
	}
	categories := make([]string, 0, len(feeds))
	for _, f := range feeds {
		categories = append(categories, f.Category)
	}

	var s3Client *awss3.Client
	if cfg.S3Enabled() {
		s3Client, err = storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		logging.Info("Image mirroring enabled", zap.String("bucket", cfg.S3Bucket))
	} else {
		logging.Info("Image mirroring disabled (no S3 configuration)")
	}

	chatProvider := openai.NewClient(cfg.LLMEndpoint, cfg.LLMModel, cfg.LLMAPIKey, cfg.LLMTimeout(), logging)
	if !chatProvider.IsConfigured() {
		logging.Warn("LLM provider not configured, generator will use fallback text only")
	}

	generatorService := services.NewGeneratorService(cfg, db, logging, chatProvider, categories)
	ingestService := services.NewIngestService(cfg, db, logging, feeds, s3Client)
	evaluatorService := services.NewEvaluatorService(db, logging)
	selectorService := services.NewSelectorService(db, logging)

	// Fire-and-forget replenishment: a short batch never blocks on generation.
	selectorService.Replenish = func(need int) {
		go func() {
			count, err := generatorService.ReplenishCorpus(context.Background(), need)
			if err != nil {
				logging.Error("Async replenishment failed", zap.Error(err))
				return
			}
			articlesGeneratedCounter.Add(float64(count))
			logging.Info("Async replenishment completed", zap.Int("new_articles", count))
		}()
	}

	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "fakeout"})
	})

	setupGameRoutes(router, cfg, selectorService, evaluatorService)
	setupUserRoutes(router, db, selectorService, logging)
	setupArticleRoutes(router, cfg, db, generatorService, logging)
	setupIngestRoutes(router, cfg, ingestService, generatorService, logging)

	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled replenishment job...")
		runReplenishmentJob(db, cfg, ingestService, generatorService, logging)
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// runReplenishmentJob ingests all feeds and tops the corpus up with generated
// fakes until it reaches the configured minimum size.
func runReplenishmentJob(db *gorm.DB, cfg *config.Config, ingest *services.IngestService, generator *services.GeneratorService, log *zap.Logger) {
	ctx := context.Background()

	count, err := ingest.RunAllFeeds(ctx)
	if err != nil {
		log.Error("Scheduled feed ingestion failed", zap.Error(err))
	} else {
		articlesIngestedCounter.Add(float64(count))
	}

	var total int64
	if err := db.Model(&models.Article{}).Count(&total).Error; err != nil {
		log.Error("Corpus count failed", zap.Error(err))
		return
	}
	if int(total) >= cfg.MinCorpusSize {
		return
	}

	generated, err := generator.ReplenishCorpus(ctx, cfg.MinCorpusSize-int(total))
	if err != nil {
		log.Error("Scheduled generation failed", zap.Error(err))
		return
	}
	articlesGeneratedCounter.Add(float64(generated))
	log.Info("Scheduled replenishment completed",
		zap.Int("ingested", count), zap.Int("generated", generated))
}

func setupGameRoutes(router *gin.Engine, cfg *config.Config, selector *services.SelectorService, evaluator *services.EvaluatorService) {
	rg := router.Group("/game")

	type batchRequest struct {
		UserID     string `json:"user_id" binding:"required"`
		BatchSize  int    `json:"batch_size"`
		IgnoreSeen bool   `json:"ignore_seen"`
	}

	fetchBatch := func(c *gin.Context) (*services.Batch, bool) {
		var req batchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: user_id required"})
			return nil, false
		}
		if req.BatchSize <= 0 {
			req.BatchSize = cfg.BatchSize
		}

		batch, err := selector.SelectBatch(c.Request.Context(), req.UserID, req.BatchSize, req.IgnoreSeen)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNoArticles):
				// Distinct state: the corpus needs content, retrying won't help.
				c.JSON(http.StatusNotFound, gin.H{"error": "no articles in corpus", "state": "empty_corpus"})
			case errors.Is(err, services.ErrExhausted):
				c.JSON(http.StatusOK, gin.H{"exhausted": true, "articles": []models.Article{}})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			}
			return nil, false
		}
		return batch, true
	}

	// POST /game/start builds an ephemeral play session around a fresh batch.
	// The session lives only in this response; progress durability comes from
	// the session log and the seen list.
	rg.POST("/start", func(c *gin.Context) {
		batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id":   uuid.NewString(),
			"articles":     batch.Articles,
			"answers":      gin.H{},
			"total_count":  batch.TotalCount,
			"unseen_count": batch.UnseenCount,
			"exhausted":    false,
		})
	})

	// POST /game/more returns an additional batch for the same user.
	rg.POST("/more", func(c *gin.Context) {
		batch, ok := fetchBatch(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"articles":     batch.Articles,
			"total_count":  batch.TotalCount,
			"unseen_count": batch.UnseenCount,
			"exhausted":    false,
		})
	})

	rg.POST("/answer", func(c *gin.Context) {
		var req struct {
			UserID       string `json:"user_id" binding:"required"`
			ArticleID    uint   `json:"article_id" binding:"required"`
			SaidFake     *bool  `json:"said_fake" binding:"required"`
			ChosenReason string `json:"chosen_reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: user_id, article_id and said_fake required"})
			return
		}
		if req.ChosenReason != "" && !models.ValidFakeReason(req.ChosenReason) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown fake reason", "valid_reasons": models.FakeReasons})
			return
		}

		result, err := evaluator.Score(c.Request.Context(), req.UserID, req.ArticleID, *req.SaidFake, req.ChosenReason)
		if err != nil {
			if errors.Is(err, services.ErrArticleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to score answer"})
			return
		}
		answersScoredCounter.Inc()
		c.JSON(http.StatusOK, result)
	})

	rg.GET("/reasons", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reasons": models.FakeReasons})
	})
}

func setupUserRoutes(router *gin.Engine, db *gorm.DB, selector *services.SelectorService, log *zap.Logger) {
	rg := router.Group("/users")

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var user models.User
		if err := db.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, user)
	})

	rg.POST("/:id/reset-seen", func(c *gin.Context) {
		id := c.Param("id")
		if err := selector.ResetSeen(c.Request.Context(), id); err != nil {
			log.Error("Failed to reset seen history", zap.String("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset seen history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "seen history cleared"})
	})

	rg.GET("/:id/history", func(c *gin.Context) {
		id := c.Param("id")
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		var sessions []models.GameSession
		if err := db.Where("user_id = ?", id).
			Order("created_at desc").
			Limit(limit).Offset(offset).
			Find(&sessions).Error; err != nil {
			log.Error("History query failed", zap.String("user_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Enrich each entry with the article's title and ground truth.
		type historyEntry struct {
			models.GameSession
			Title      string `json:"title"`
			Category   string `json:"category"`
			IsReal     bool   `json:"is_real"`
			FakeReason string `json:"fake_reason,omitempty"`
		}
		entries := make([]historyEntry, 0, len(sessions))
		for _, session := range sessions {
			entry := historyEntry{GameSession: session}
			var article models.Article
			if err := db.First(&article, session.ArticleID).Error; err == nil {
				entry.Title = article.Title
				entry.Category = article.Category
				entry.IsReal = article.IsReal
				entry.FakeReason = article.FakeReason
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warn("Failed to enrich history entry",
					zap.Uint("article_id", session.ArticleID), zap.Error(err))
			}
			entries = append(entries, entry)
		}

		c.JSON(http.StatusOK, entries)
	})

	router.GET("/leaderboard", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if limit <= 0 || limit > 100 {
			limit = 10
		}
		var users []models.User
		if err := db.Order("points desc").Limit(limit).Find(&users).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, users)
	})
}

func setupArticleRoutes(router *gin.Engine, cfg *config.Config, db *gorm.DB, generator *services.GeneratorService, log *zap.Logger) {
	rg := router.Group("/articles", apiKeyAuthMiddleware(cfg))

	rg.GET("/", func(c *gin.Context) {
		var articles []models.Article
		if err := db.Order("created_at desc").Find(&articles).Error; err != nil {
			log.Error("Database query for all articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	rg.POST("/query", func(c *gin.Context) {
		type ArticleQuery struct {
			Category   string `json:"category"`
			IsReal     *bool  `json:"is_real"`
			FakeReason string `json:"fake_reason"`
			Source     string `json:"source"`
			Limit      int    `json:"limit"`
		}

		var req ArticleQuery
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		query := db.Model(&models.Article{})
		if req.Category != "" {
			query = query.Where("category = ?", req.Category)
		}
		if req.IsReal != nil {
			query = query.Where("is_real = ?", *req.IsReal)
		}
		if req.FakeReason != "" {
			query = query.Where("fake_reason = ?", req.FakeReason)
		}
		if req.Source != "" {
			query = query.Where("source = ?", req.Source)
		}
		if req.Limit > 0 {
			query = query.Limit(req.Limit)
		}

		var articles []models.Article
		if err := query.Order("created_at desc").Find(&articles).Error; err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, articles)
	})

	rg.POST("/", func(c *gin.Context) {
		var article models.Article
		if err := c.ShouldBindJSON(&article); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		article.ID = 0
		article.Source = models.SourceAdmin
		if err := article.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := db.Create(&article).Error; err != nil {
			log.Error("Failed to create article", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create article"})
			return
		}
		c.JSON(http.StatusCreated, article)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	rg.PUT("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("DB error checking for article on PUT", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Bind only the sent fields to avoid clobbering the rest.
		var updateData map[string]interface{}
		if err := c.ShouldBindJSON(&updateData); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		delete(updateData, "id")
		delete(updateData, "views")

		// Check the authenticity/reason invariant before touching the row.
		next := article
		if v, ok := updateData["title"].(string); ok {
			next.Title = v
		}
		if v, ok := updateData["is_real"].(bool); ok {
			next.IsReal = v
		}
		if v, ok := updateData["fake_reason"].(string); ok {
			next.FakeReason = v
		}
		if err := next.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := db.Model(&article).Updates(updateData).Error; err != nil {
			log.Error("DB error updating article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update article"})
			return
		}
		c.JSON(http.StatusOK, article)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var article models.Article
		if err := db.First(&article, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		// Force delete cascades to everything referencing the article.
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("article_id = ?", article.ID).Delete(&models.GameSession{}).Error; err != nil {
				return err
			}
			if err := tx.Where("article_id = ?", article.ID).Delete(&models.SeenArticle{}).Error; err != nil {
				return err
			}
			if err := tx.Where("article_id = ?", article.ID).Delete(&models.ContentRepair{}).Error; err != nil {
				return err
			}
			return tx.Delete(&article).Error
		})
		if err != nil {
			log.Error("Failed to delete article", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete article"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "article deleted"})
	})

	rg.POST("/:id/repair", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
			return
		}
		repair, err := generator.RepairMismatch(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, services.ErrArticleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
				return
			}
			log.Error("Content repair failed", zap.Uint64("article_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to repair article"})
			return
		}
		c.JSON(http.StatusOK, repair)
	})
}

func setupIngestRoutes(router *gin.Engine, cfg *config.Config, ingest *services.IngestService, generator *services.GeneratorService, log *zap.Logger) {
	rg := router.Group("/ingest", apiKeyAuthMiddleware(cfg))

	rg.POST("/rss", func(c *gin.Context) {
		go func() {
			count, err := ingest.RunAllFeeds(context.Background())
			if err != nil {
				log.Error("Async feed ingestion failed", zap.Error(err))
				return
			}
			articlesIngestedCounter.Add(float64(count))
			log.Info("Async feed ingestion completed", zap.Int("new_articles", count))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Feed ingestion triggered."})
	})

	rg.POST("/generate", func(c *gin.Context) {
		var req struct {
			Category   string `json:"category" binding:"required"`
			FakeReason string `json:"fake_reason"`
			Count      int    `json:"count"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: category required"})
			return
		}
		if req.FakeReason != "" && !models.ValidFakeReason(req.FakeReason) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown fake reason", "valid_reasons": models.FakeReasons})
			return
		}
		if req.Count <= 0 {
			req.Count = 1
		}
		if req.Count > 50 {
			req.Count = 50
		}

		go func() {
			created := 0
			for i := 0; i < req.Count; i++ {
				if _, err := generator.GenerateArticle(context.Background(), req.Category, req.FakeReason); err != nil {
					log.Warn("Async article generation skipped", zap.Error(err))
					continue
				}
				created++
			}
			articlesGeneratedCounter.Add(float64(created))
			log.Info("Async article generation completed", zap.Int("new_articles", created))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Article generation triggered."})
	})
}

// seedDefaultArticles populates a fresh database with a handful of starter
// articles so the game is playable before the first ingestion run.
func seedDefaultArticles(db *gorm.DB, logger *zap.Logger) {
	var count int64
	db.Model(&models.Article{}).Count(&count)
	if count > 0 {
		return
	}
	articles := []models.Article{
		{
			Title:    "City Council Approves Funding For New Public Library Branch",
			Content:  "The city council voted on Tuesday to approve funding for a new public library branch on the east side. Construction is expected to begin next spring, with the branch opening roughly eighteen months later. The project was backed by a coalition of neighborhood groups that had campaigned for better library access for over a decade.",
			IsReal:   true,
			Category: "world",
			Source:   models.SourceAdmin,
		},
		{
			Title:    "Researchers Map Seasonal Migration Of Arctic Terns In New Study",
			Content:  "A multi-year tracking study published this week documents the full migration route of arctic terns between their breeding and wintering grounds. The team fitted over two hundred birds with lightweight geolocators and found the birds cover a longer round trip than previously estimated. The dataset has been released for other research groups to reuse.",
			IsReal:   true,
			Category: "science",
			Source:   models.SourceAdmin,
		},
		{
			Title:      "Scientists Admit The Moon Landing Photos Were Retouched To Hide Structures",
			Content:    "According to a viral post circulating this week, unnamed archive employees claim that historical moon landing photographs were systematically retouched to conceal artificial structures. No space agency has commented, which supporters of the claim present as confirmation. None of the cited employees have been identified, and the referenced archive does not exist.",
			IsReal:     false,
			FakeReason: models.ReasonConspiracy,
			Category:   "science",
			Source:     models.SourceAdmin,
		},
		{
			Title:      "This One Grocery Item Is Disappearing Forever Next Month",
			Content:    "Shoppers are being urged to stock up after reports that a staple grocery item will vanish from shelves permanently next month. The claim traces back to a single social media post misreading a routine packaging change announcement. The manufacturer has confirmed the product is not being discontinued, but the warning continues to spread.",
			IsReal:     false,
			FakeReason: models.ReasonClickbait,
			Category:   "health",
			Source:     models.SourceAdmin,
		},
	}
	if err := db.Create(&articles).Error; err != nil {
		logger.Warn("Failed to seed default articles", zap.Error(err))
	} else {
		logger.Info("Default articles seeded.")
	}
}
