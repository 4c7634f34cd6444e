// Package fetch downloads filing content with an optional size ceiling.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
)

// Network timeouts per request type.
const (
	ProbeTimeout    = 10 * time.Second
	DownloadTimeout = 60 * time.Second
)

const bytesPerMB = 1024 * 1024

// TooLargeError reports a filing whose probed size exceeds the ceiling.
// The body is never requested when this is returned.
type TooLargeError struct {
	URL     string
	SizeMB  float64
	LimitMB float64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file %s is %.1fMB, exceeds limit of %gMB", e.URL, e.SizeMB, e.LimitMB)
}

// IsTooLarge reports whether err is a *TooLargeError and returns it.
func IsTooLarge(err error) (*TooLargeError, bool) {
	var tl *TooLargeError
	if errors.As(err, &tl) {
		return tl, true
	}
	return nil, false
}

// Options controls a single fetch.
type Options struct {
	// MaxSizeMB enables the HEAD size probe when non-nil.
	MaxSizeMB *float64
	// MaxBytes > 0 requests only the leading bytes of the document and drops
	// the trailing partial line.
	MaxBytes int64
}

// Fetcher downloads filing documents over HTTP.
type Fetcher struct {
	httpClient *http.Client
	metrics    *metrics.Collector
}

// New creates a Fetcher. Timeouts are applied per request through the context,
// so httpClient may be shared.
func New(httpClient *http.Client, m *metrics.Collector) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Fetcher{httpClient: httpClient, metrics: m}
}

// ProbeSize issues a HEAD request and returns Content-Length in MB.
// ok is false when the probe is inconclusive (error, non-2xx or no header).
func (f *Fetcher) ProbeSize(ctx context.Context, url string) (sizeMB float64, ok bool) {
	done := f.metrics.Time(metrics.OpSizeProbe)
	var probeErr error
	defer func() { done(probeErr) }()

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		probeErr = err
		return 0, false
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		probeErr = err
		return 0, false
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		probeErr = fmt.Errorf("probe: %s", resp.Status)
		return 0, false
	}
	n := resp.ContentLength
	if h := resp.Header.Get("Content-Length"); h != "" {
		if v, err := strconv.ParseInt(h, 10, 64); err == nil {
			n = v
		}
	}
	if n < 0 {
		return 0, false
	}
	return float64(n) / bytesPerMB, true
}

// Fetch returns the document at url as text.
//
// With opts.MaxSizeMB set, an oversized probe result fails fast with
// *TooLargeError. An inconclusive probe downloads optimistically.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts Options) (string, error) {
	if opts.MaxSizeMB != nil {
		if size, ok := f.ProbeSize(ctx, url); ok && size > *opts.MaxSizeMB {
			return "", &TooLargeError{URL: url, SizeMB: size, LimitMB: *opts.MaxSizeMB}
		}
	}
	return f.download(ctx, url, opts.MaxBytes)
}

func (f *Fetcher) download(ctx context.Context, url string, maxBytes int64) (text string, err error) {
	done := f.metrics.Time(metrics.OpDownload)
	defer func() { done(err) }()

	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if maxBytes > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", maxBytes-1))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return "", fmt.Errorf("download %s: %s", url, resp.Status)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text = string(data)
	if maxBytes > 0 && int64(len(data)) >= maxBytes {
		if i := strings.LastIndexByte(text, '\n'); i >= 0 {
			text = text[:i+1]
		}
	}
	return text, nil
}
