package service

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/sludgewire/internal/fecapi"
	"github.com/raphaelgruber/sludgewire/internal/feed"
	"github.com/raphaelgruber/sludgewire/internal/fetch"
	"github.com/raphaelgruber/sludgewire/internal/lookup"
	"github.com/raphaelgruber/sludgewire/internal/memstore"
	"github.com/raphaelgruber/sludgewire/internal/metrics"
	"github.com/raphaelgruber/sludgewire/internal/parser"
)

// testNow is noon on the processing day used across service tests.
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type feedEntry struct {
	id        int64
	committee string
	formType  string
	pub       time.Time
	noLink    bool
}

// upstream fakes the feed, the document host and the historical API.
type upstream struct {
	srv *httptest.Server

	mu       sync.Mutex
	feed     []feedEntry
	docs     map[int64]string
	sizes    map[int64]int64
	failing  map[int64]int
	gets     map[int64]int
	apiPages [][]map[string]any
	apiFail  bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		docs:    map[int64]string{},
		sizes:   map[int64]int64{},
		failing: map[int64]int{},
		gets:    map[int64]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", u.serveFeed)
	mux.HandleFunc("/posted/", u.serveDoc)
	mux.HandleFunc("/v1/filings/", u.serveAPI)
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) feedURL() string { return u.srv.URL + "/feed" }

func (u *upstream) docURL(id int64) string {
	return u.srv.URL + "/posted/" + strconv.FormatInt(id, 10) + ".fec"
}

func (u *upstream) setFeed(entries ...feedEntry) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.feed = entries
}

func (u *upstream) setDoc(id int64, text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[id] = text
}

func (u *upstream) setSize(id int64, bytes int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sizes[id] = bytes
}

func (u *upstream) setFailing(id int64, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if status == 0 {
		delete(u.failing, id)
		return
	}
	u.failing[id] = status
}

func (u *upstream) getCount(id int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gets[id]
}

func (u *upstream) setAPIPages(pages ...[]map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.apiPages = pages
}

func (u *upstream) serveFeed(w http.ResponseWriter, _ *http.Request) {
	u.mu.Lock()
	entries := append([]feedEntry(nil), u.feed...)
	u.mu.Unlock()

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>test</title>`)
	for _, e := range entries {
		link := u.docURL(e.id)
		if e.noLink {
			link = ""
		}
		formType := e.formType
		if formType == "" {
			formType = "F3XN"
		}
		fmt.Fprintf(&b, `<item><title>filing %d</title><link>%s</link>`, e.id, link)
		fmt.Fprintf(&b, `<description>New filing *****CommitteeId: %s | FilingId: %d | FormType: %s | CoverageFrom: 01/01/2026 | CoverageThrough: 02/28/2026*****</description>`,
			e.committee, e.id, formType)
		fmt.Fprintf(&b, `<pubDate>%s</pubDate></item>`, e.pub.Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write([]byte(b.String()))
}

func (u *upstream) serveDoc(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/posted/"), ".fec")
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	u.mu.Lock()
	doc, ok := u.docs[id]
	size, sized := u.sizes[id]
	status := u.failing[id]
	if r.Method == http.MethodGet {
		u.gets[id]++
	}
	u.mu.Unlock()

	if r.Method == http.MethodHead {
		if sized {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if status != 0 {
		http.Error(w, "upstream error", status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(doc))
}

func (u *upstream) serveAPI(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	pages := u.apiPages
	fail := u.apiFail
	u.mu.Unlock()

	if fail {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	results := []map[string]any{}
	if page >= 1 && page <= len(pages) {
		results = pages[page-1]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"results": results,
		"pagination": map[string]any{
			"count": 0, "page": page, "pages": len(pages), "per_page": fecapi.DefaultPerPage,
		},
	})
}

// row builds a pipe-delimited record of n columns.
func row(n int, set map[int]string) string {
	fields := make([]string, n)
	for i, v := range set {
		fields[i] = v
	}
	return strings.Join(fields, "|")
}

// summaryDoc is a minimal v8 F3X filing with the given total receipts.
func summaryDoc(committee, name, total string) string {
	return strings.Join([]string{
		"HDR|FEC|8.3|NGP|9.0",
		row(27, map[int]string{
			0: "F3XN", 1: committee, 2: name, 9: "M3",
			13: "20260201", 14: "20260228", 22: "10.00", 23: total,
		}),
		"",
	}, "\n")
}

func seLine(amount, date, so, payee string) string {
	return row(36, map[int]string{
		0: "SE", 1: "C00900001", 2: "SE.1", 6: payee, 17: "G2026",
		19: date, 20: amount, 23: "TV AD", 26: so, 27: "H6CA12345",
		28: "DOE", 29: "JANE", 33: "H", 34: "12", 35: "CA",
	})
}

// eventsDoc is a minimal v8 F24 filing with the given Schedule E lines.
func eventsDoc(lines ...string) string {
	rows := []string{
		"HDR|FEC|8.3|NGP|9.0",
		row(16, map[int]string{0: "F24N", 1: "C00900001", 2: "24", 4: "SUPER PAC FOR TOMORROW"}),
	}
	rows = append(rows, lines...)
	return strings.Join(rows, "\n") + "\n"
}

// harness wires the services over a memstore and an upstream.
type harness struct {
	up       *upstream
	store    *memstore.Store
	metrics  *metrics.Collector
	pipeline *Pipeline
	ingest   *IngestService
	backfill *BackfillService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	up := newUpstream(t)
	store := memstore.New()
	store.Now = clock
	m := metrics.NewCollector()
	log := quietLogger()

	recorder := NewRecorder(store, lookup.NewResolver(store, 64, log), 50000, m, log)
	pipeline := NewPipeline(store, fetch.New(up.srv.Client(), m), parser.New(), recorder, m, log)

	ingest := NewIngestService(store, feed.NewReader(up.srv.Client(), m), pipeline, m, log)
	ingest.SetClock(clock)

	maxMB := 50.0
	backfill := NewBackfillService(store, fecapi.New(up.srv.URL+"/v1", "test-key", up.srv.Client(), m), pipeline, BackfillOptions{
		MaxSizeMB:   &maxMB,
		HeaderBytes: 50000,
		DocumentURL: up.docURL,
	}, log)
	backfill.SetClock(clock)

	return &harness{up: up, store: store, metrics: m, pipeline: pipeline, ingest: ingest, backfill: backfill}
}

func (h *harness) summarySpec() FeedSpec {
	return FeedSpec{Source: SummarySource, URL: h.up.feedURL(), Kind: KindSummary, HeaderBytes: 50000}
}

func (h *harness) eventsSpec() FeedSpec {
	maxMB := 50.0
	return FeedSpec{Source: h.up.feedURL(), URL: h.up.feedURL(), Kind: KindEvents, MaxSizeMB: &maxMB}
}
