package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

// fileServer serves body and reports headLength on HEAD; an empty
// headLength rejects HEAD so the probe is inconclusive.
type fileServer struct {
	body       string
	headLength string // "" omits the header
	gets       atomic.Int32
	lastRange  atomic.Value
}

func (s *fileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		if s.headLength == "" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Length", s.headLength)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.gets.Add(1)
		s.lastRange.Store(r.Header.Get("Range"))
		_, _ = w.Write([]byte(s.body))
	}
}

func TestFetchOversizeShortCircuits(t *testing.T) {
	fs := &fileServer{body: "HDR|FEC|8.3\n", headLength: strconv.Itoa(120 * bytesPerMB)}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	f := New(srv.Client(), nil)
	_, err := f.Fetch(context.Background(), srv.URL+"/1.fec", Options{MaxSizeMB: ptr(50)})

	tl, ok := IsTooLarge(err)
	require.True(t, ok, "expected TooLargeError, got %v", err)
	assert.InDelta(t, 120.0, tl.SizeMB, 0.001)
	assert.Equal(t, 50.0, tl.LimitMB)
	assert.Equal(t, int32(0), fs.gets.Load(), "body must not be downloaded")
}

func TestFetchUnderLimit(t *testing.T) {
	body := "HDR|FEC|8.3\nF3XN|C001|ACME\n"
	fs := &fileServer{body: body, headLength: strconv.Itoa(len(body))}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	got, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL, Options{MaxSizeMB: ptr(50)})
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchInconclusiveProbeDownloads(t *testing.T) {
	fs := &fileServer{body: "HDR|FEC|8.3\n"}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	f := New(srv.Client(), nil)
	_, ok := f.ProbeSize(context.Background(), srv.URL)
	assert.False(t, ok)

	got, err := f.Fetch(context.Background(), srv.URL, Options{MaxSizeMB: ptr(0.000001)})
	require.NoError(t, err)
	assert.Equal(t, "HDR|FEC|8.3\n", got)
}

func TestFetchHeaderOnly(t *testing.T) {
	body := strings.Repeat("SA|C001|line\n", 100)
	fs := &fileServer{body: body}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	got, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL, Options{MaxBytes: 30})
	require.NoError(t, err)
	assert.Equal(t, "bytes=0-29", fs.lastRange.Load())
	assert.Equal(t, "SA|C001|line\nSA|C001|line\n", got, "partial trailing line is dropped")
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).Fetch(context.Background(), srv.URL, Options{})
	require.Error(t, err)
	_, tooLarge := IsTooLarge(err)
	assert.False(t, tooLarge)
	assert.Contains(t, err.Error(), "410")
}
