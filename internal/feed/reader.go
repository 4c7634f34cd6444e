// Package feed reads FEC e-filing RSS feeds and extracts filing identities.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
)

// DefaultTimeout bounds a single feed request.
const DefaultTimeout = 30 * time.Second

// Item is one feed entry, in feed order.
type Item struct {
	Title       string
	Link        string
	Description string
	PubDate     *time.Time // UTC; nil when absent or unparseable
	Meta        map[string]string
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Reader fetches and decodes RSS feeds.
type Reader struct {
	httpClient *http.Client
	metrics    *metrics.Collector
}

// NewReader creates a feed reader. A nil httpClient gets DefaultTimeout.
func NewReader(httpClient *http.Client, m *metrics.Collector) *Reader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Reader{httpClient: httpClient, metrics: m}
}

// Fetch downloads url and returns its items in document order.
func (r *Reader) Fetch(ctx context.Context, url string) (items []Item, err error) {
	done := r.metrics.Time(metrics.OpFeedFetch)
	defer func() { done(err) }()

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch feed: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return Decode(resp.Body)
}

// Decode parses an RSS document from r.
func Decode(r io.Reader) ([]Item, error) {
	var doc rssDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	items := make([]Item, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		items = append(items, Item{
			Title:       strings.TrimSpace(it.Title),
			Link:        strings.TrimSpace(it.Link),
			Description: it.Description,
			PubDate:     parsePubDate(it.PubDate),
			Meta:        ParseMeta(it.Description),
		})
	}
	return items, nil
}

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
}

func parsePubDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
