// Package fecapi is a client for the paginated OpenFEC filings API.
package fecapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/metrics"
)

const (
	// DefaultBaseURL is the public OpenFEC endpoint.
	DefaultBaseURL = "https://api.open.fec.gov/v1"
	// DemoKey is the rate-limited key accepted without registration.
	DemoKey = "DEMO_KEY"
	// DefaultPerPage is the page size used by backfill.
	DefaultPerPage = 100
	// SortNewestReceipt orders results by receipt date, newest first.
	SortNewestReceipt = "-receipt_date"

	requestTimeout = 60 * time.Second
	filingURLBase  = "https://docquery.fec.gov/dcdev/posted/"
)

// FilingURL returns the raw .fec document URL for a filing id.
func FilingURL(filingID int64) string {
	return filingURLBase + strconv.FormatInt(filingID, 10) + ".fec"
}

// Query selects a page of filings.
type Query struct {
	FormTypes      []string
	MinReceiptDate time.Time
	MaxReceiptDate time.Time
	Page           int
	PerPage        int
	Sort           string
}

// Filing is one result of the /filings/ endpoint. Raw keeps the full
// object for storage as opaque metadata.
type Filing struct {
	FileNumber        int64    `json:"file_number"`
	CommitteeID       string   `json:"committee_id"`
	CommitteeName     string   `json:"committee_name"`
	FormType          string   `json:"form_type"`
	ReportType        string   `json:"report_type"`
	CoverageStartDate string   `json:"coverage_start_date"`
	CoverageEndDate   string   `json:"coverage_end_date"`
	ReceiptDate       string   `json:"receipt_date"`
	TotalReceipts     *float64 `json:"total_receipts"`

	Raw map[string]any `json:"-"`
}

// CoverageFrom parses the coverage start date, if present.
func (f Filing) CoverageFrom() *time.Time { return apiDate(f.CoverageStartDate) }

// CoverageThrough parses the coverage end date, if present.
func (f Filing) CoverageThrough() *time.Time { return apiDate(f.CoverageEndDate) }

// FiledAt places the receipt date at noon UTC; the API reports dates only.
func (f Filing) FiledAt() *time.Time {
	d := apiDate(f.ReceiptDate)
	if d == nil {
		return nil
	}
	t := d.Add(12 * time.Hour)
	return &t
}

func apiDate(s string) *time.Time {
	if len(s) < 10 {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s[:10])
	if err != nil {
		return nil
	}
	return &t
}

// Pagination is the paging envelope of a response.
type Pagination struct {
	Count   int `json:"count"`
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
}

// FilingsPage is one page of /filings/ results.
type FilingsPage struct {
	Results    []Filing   `json:"results"`
	Pagination Pagination `json:"pagination"`
}

// Client talks to the OpenFEC API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Collector
}

// New creates a Client. Empty baseURL and apiKey fall back to the public
// endpoint and DEMO_KEY.
func New(baseURL, apiKey string, httpClient *http.Client, m *metrics.Collector) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if apiKey == "" {
		apiKey = DemoKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		metrics:    m,
	}
}

// ListFilings fetches one page of filings matching q.
func (c *Client) ListFilings(ctx context.Context, q Query) (page *FilingsPage, err error) {
	done := c.metrics.Time(metrics.OpAPIPage)
	defer func() { done(err) }()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/filings/?"+c.params(q).Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list filings: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw struct {
		Results    []json.RawMessage `json:"results"`
		Pagination Pagination        `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode filings: %w", err)
	}

	page = &FilingsPage{Pagination: raw.Pagination, Results: make([]Filing, 0, len(raw.Results))}
	for i, msg := range raw.Results {
		var f Filing
		if err := json.Unmarshal(msg, &f); err != nil {
			return nil, fmt.Errorf("decode filing %d: %w", i, err)
		}
		if err := json.Unmarshal(msg, &f.Raw); err != nil {
			return nil, fmt.Errorf("decode filing %d: %w", i, err)
		}
		page.Results = append(page.Results, f)
	}
	return page, nil
}

func (c *Client) params(q Query) url.Values {
	v := url.Values{}
	v.Set("api_key", c.apiKey)
	for _, ft := range q.FormTypes {
		v.Add("form_type", ft)
	}
	if !q.MinReceiptDate.IsZero() {
		v.Set("min_receipt_date", q.MinReceiptDate.Format(time.DateOnly))
	}
	if !q.MaxReceiptDate.IsZero() {
		v.Set("max_receipt_date", q.MaxReceiptDate.Format(time.DateOnly))
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	v.Set("per_page", strconv.Itoa(perPage))
	p := q.Page
	if p <= 0 {
		p = 1
	}
	v.Set("page", strconv.Itoa(p))
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	return v
}
