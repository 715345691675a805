package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	opml "github.com/gilliek/go-opml/opml"
)

// expandOPML appends the subscriptions of every OPML import to the feed list.
func (c *Config) expandOPML(baseDir string) error {
	for _, imp := range c.OPML {
		path := imp.Path
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		feeds, err := readOPML(path, imp)
		if err != nil {
			return err
		}
		c.Feeds = append(c.Feeds, feeds...)
	}
	return nil
}

func readOPML(path string, imp OPMLImport) ([]FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read opml %s: %w", path, err)
	}
	doc, err := opml.NewOPML(data)
	if err != nil {
		return nil, fmt.Errorf("parse opml %s: %w", path, err)
	}

	var feeds []FeedConfig
	var walk func(outlines []opml.Outline)
	walk = func(outlines []opml.Outline) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				feeds = append(feeds, FeedConfig{
					Name:     imp.Prefix + outlineName(o),
					URL:      url,
					Room:     imp.Room,
					Interval: imp.Interval,
				})
			}
			walk(o.Outlines)
		}
	}
	walk(doc.Body.Outlines)
	return feeds, nil
}

func outlineName(o opml.Outline) string {
	for _, s := range []string{o.Title, o.Text, o.XMLURL} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
