package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feeds.yaml")
	data := `feeds:
  - url: https://example.org/world.xml
    name: Example World
    category: world
  - url: https://example.org/tech.xml
    name: Example Tech
    category: technology
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing feeds file: %v", err)
	}

	feeds, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(feeds))
	}
	if feeds[0].URL != "https://example.org/world.xml" || feeds[0].Category != "world" {
		t.Fatalf("unexpected first feed: %+v", feeds[0])
	}
	if feeds[1].Name != "Example Tech" {
		t.Fatalf("unexpected second feed: %+v", feeds[1])
	}
}

func TestLoadFeedsMissingFileUsesDefaults(t *testing.T) {
	feeds, err := LoadFeeds(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("a missing file must not be an error: %v", err)
	}
	if len(feeds) == 0 {
		t.Fatal("expected built-in default feeds")
	}
	for _, f := range feeds {
		if f.URL == "" || f.Category == "" {
			t.Fatalf("default feed incomplete: %+v", f)
		}
	}
}

func TestLoadFeedsEmptyListUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds: []\n"), 0o644); err != nil {
		t.Fatalf("writing feeds file: %v", err)
	}

	feeds, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feeds) != len(defaultFeeds) {
		t.Fatalf("expected the %d default feeds, got %d", len(defaultFeeds), len(feeds))
	}
}

func TestLoadFeedsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	if err := os.WriteFile(path, []byte("feeds: [not: closed\n"), 0o644); err != nil {
		t.Fatalf("writing feeds file: %v", err)
	}

	if _, err := LoadFeeds(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDSN(t *testing.T) {
	c := &Config{
		DBHost:     "localhost",
		DBPort:     5433,
		DBUser:     "game",
		DBPassword: "secret",
		DBName:     "fakeout",
	}
	want := "host=localhost user=game password=secret dbname=fakeout port=5433 sslmode=disable"
	if got := c.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}

func TestS3Enabled(t *testing.T) {
	c := &Config{}
	if c.S3Enabled() {
		t.Fatal("empty config must not enable S3")
	}
	c.S3URL = "https://s3.example.org"
	if c.S3Enabled() {
		t.Fatal("S3 without a bucket must stay disabled")
	}
	c.S3Bucket = "fakeout-media"
	if !c.S3Enabled() {
		t.Fatal("URL plus bucket must enable S3")
	}
}
