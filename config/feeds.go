package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feed is a single RSS source. Articles ingested from it are tagged with
// the feed's category.
type Feed struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// defaultFeeds is used when no feeds file exists on disk.
var defaultFeeds = []Feed{
	{URL: "https://feeds.bbci.co.uk/news/world/rss.xml", Name: "BBC World", Category: "world"},
	{URL: "https://feeds.bbci.co.uk/news/technology/rss.xml", Name: "BBC Technology", Category: "technology"},
	{URL: "https://feeds.bbci.co.uk/news/science_and_environment/rss.xml", Name: "BBC Science", Category: "science"},
	{URL: "https://feeds.bbci.co.uk/news/health/rss.xml", Name: "BBC Health", Category: "health"},
}

// LoadFeeds reads the feed list from a YAML file. A missing file is not an
// error; the built-in defaults are returned instead.
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultFeeds, nil
		}
		return nil, fmt.Errorf("reading feeds file: %w", err)
	}

	var f feedsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing feeds file: %w", err)
	}
	if len(f.Feeds) == 0 {
		return defaultFeeds, nil
	}
	return f.Feeds, nil
}
