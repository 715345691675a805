// Package fetcher handles feed downloading and parsing into entries.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbridge/internal/model"
)

// ErrFetch marks a failed download or parse. It is always transient.
var ErrFetch = errors.New("fetch feed")

// ErrTooLarge marks a document over the 5 MiB body limit.
var ErrTooLarge = errors.New("feed exceeds 5 MiB")

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 5 * 1024 * 1024
	userAgent      = "feedbridge/1.0"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS, Atom and JSON feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: defaultTimeout,
	}
}

// SetTimeout overrides the per-request timeout. Non-positive values are ignored.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// Fetch downloads the document at url and returns its entries in document order.
// Every returned error wraps ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]model.Entry, error) {
	feed, err := f.fetchFeed(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	entries := make([]model.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, ToEntry(item))
	}
	return entries, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, maxBodySize)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ToEntry converts a parsed item into an Entry.
func ToEntry(item *gofeed.Item) model.Entry {
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	return model.Entry{
		ID:        EntryID(item),
		Title:     strings.TrimSpace(item.Title),
		Link:      strings.TrimSpace(item.Link),
		Summary:   summary,
		Published: Published(item),
	}
}

// EntryID returns the identifier used to deduplicate an item.
//
// Precedence: the item's GUID (RSS guid, Atom id), then its link, then a
// SHA-256 hash of title and description so items with neither are still
// recognised on the next poll.
func EntryID(item *gofeed.Item) string {
	if id := strings.TrimSpace(item.GUID); id != "" {
		return id
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Description))
	return fmt.Sprintf("sha256:%x", h[:16])
}

// Published returns the item's publication time, falling back to its update
// time. It returns the zero time when neither is present or parseable.
func Published(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
