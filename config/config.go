package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration parameters taken from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	// Admin endpoints reject requests without this key. Empty disables the check.
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// OpenAI-compatible chat completions endpoint used for article fabrication.
	LLMEndpoint       string `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	LLMModel          string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMAPIKey         string `envconfig:"LLM_API_KEY"`
	LLMTimeoutSeconds int    `envconfig:"LLM_TIMEOUT_SECONDS" default:"20"`

	// Path to the YAML file listing RSS feeds. Falls back to built-in feeds.
	FeedsFile string `envconfig:"FEEDS_FILE" default:"feeds.yaml"`

	// Game tuning.
	BatchSize int `envconfig:"BATCH_SIZE" default:"10"`
	// Corpus size the scheduled replenishment job tops the article table up to.
	MinCorpusSize int `envconfig:"MIN_CORPUS_SIZE" default:"30"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 */6 * * *"`

	// Optional S3-compatible storage for mirroring article images.
	// Mirroring is skipped entirely when S3URL or S3Bucket is empty.
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN returns the Data Source Name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// LLMTimeout returns the deadline applied to every generator call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// S3Enabled reports whether image mirroring is configured.
func (c *Config) S3Enabled() bool {
	return c.S3URL != "" && c.S3Bucket != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
