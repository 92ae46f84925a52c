package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-toc/pkg/config"
	"doc-toc/pkg/log"
	"doc-toc/pkg/utils"
)

// testConfig returns an AppConfig with fast retry delays for testing
func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:        maxRetries,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
		DefaultUserAgent:  "doc-toc-test/1.0",
	}
}

func testClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// mockServer creates an httptest.Server that returns status codes in sequence,
// repeating the last one. The counter tracks request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetchWithRetry_StatusSequences(t *testing.T) {
	tests := []struct {
		name         string
		statuses     []int
		maxRetries   int
		wantStatus   int // 0 when no response is expected
		wantErrs     []error
		wantAttempts int32
	}{
		{name: "200 OK", statuses: []int{200}, maxRetries: 3, wantStatus: 200, wantAttempts: 1},
		{name: "204 No Content", statuses: []int{204}, maxRetries: 3, wantStatus: 204, wantAttempts: 1},
		{name: "5xx then success", statuses: []int{500, 502, 200}, maxRetries: 3, wantStatus: 200, wantAttempts: 3},
		{name: "429 then success", statuses: []int{429, 200}, maxRetries: 3, wantStatus: 200, wantAttempts: 2},
		{name: "mixed retryable then success", statuses: []int{500, 429, 503, 200}, maxRetries: 3, wantStatus: 200, wantAttempts: 4},
		{
			name: "5xx exhausts retries", statuses: []int{500}, maxRetries: 3,
			wantErrs: []error{utils.ErrRetryFailed, utils.ErrServerHTTPError}, wantAttempts: 4,
		},
		{
			name: "429 exhausts retries", statuses: []int{429}, maxRetries: 2,
			wantErrs: []error{utils.ErrRetryFailed, utils.ErrClientHTTPError}, wantAttempts: 3,
		},
		{
			name: "zero retries", statuses: []int{500}, maxRetries: 0,
			wantErrs: []error{utils.ErrRetryFailed}, wantAttempts: 1,
		},
		{
			name: "404 not retried", statuses: []int{404}, maxRetries: 3, wantStatus: 404,
			wantErrs: []error{utils.ErrClientHTTPError}, wantAttempts: 1,
		},
		{
			name: "403 not retried", statuses: []int{403}, maxRetries: 3, wantStatus: 403,
			wantErrs: []error{utils.ErrClientHTTPError}, wantAttempts: 1,
		},
		{
			name: "3xx without location", statuses: []int{301}, maxRetries: 3, wantStatus: 301,
			wantErrs: []error{utils.ErrOtherHTTPError}, wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, tt.statuses)
			fetcher := NewFetcher(testClient(), testConfig(tt.maxRetries), log.Discard())
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, err := fetcher.FetchWithRetry(context.Background(), req)
			if resp != nil {
				defer resp.Body.Close()
			}

			if tt.wantStatus == 0 {
				assert.Nil(t, resp)
			} else {
				require.NotNil(t, resp)
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			}
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
			}
			for _, want := range tt.wantErrs {
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, tt.wantAttempts, attempts.Load())
		})
	}
}

func TestFetchWithRetry_ContextCancelledBeforeAttempt(t *testing.T) {
	server, attempts := mockServer(t, []int{200})
	fetcher := NewFetcher(testClient(), testConfig(3), log.Discard())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), attempts.Load())
}

func TestFetchWithRetry_ContextTimeoutDuringBackoff(t *testing.T) {
	server, attempts := mockServer(t, []int{500})

	cfg := testConfig(3)
	cfg.InitialRetryDelay = 10 * time.Second
	cfg.MaxRetryDelay = 10 * time.Second
	fetcher := NewFetcher(testClient(), cfg, log.Discard())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrServerHTTPError, "last attempt's error is preserved")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetchWithRetry_ContextTimeoutDuringRequest(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	fetcher := NewFetcher(testClient(), testConfig(3), log.Discard())
	req, _ := http.NewRequest(http.MethodGet, slow.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := fetcher.FetchWithRetry(ctx, req)
	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestFetchWithRetry_NetworkErrorRetried(t *testing.T) {
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attemptCount.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(testClient(), testConfig(3), log.Discard())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), attemptCount.Load())
}

func TestFetchDocument(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/doc.html":
			w.Write([]byte("<h2>One</h2>"))
		case "/big.html":
			w.Write([]byte(strings.Repeat("x", 2048)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	t.Run("returns body", func(t *testing.T) {
		fetcher := NewFetcher(testClient(), testConfig(0), log.Discard())
		data, err := fetcher.FetchDocument(context.Background(), server.URL+"/doc.html", "agent/2.0")
		require.NoError(t, err)
		assert.Equal(t, "<h2>One</h2>", string(data))
		assert.Equal(t, "agent/2.0", gotUA)
	})

	t.Run("not found", func(t *testing.T) {
		fetcher := NewFetcher(testClient(), testConfig(0), log.Discard())
		_, err := fetcher.FetchDocument(context.Background(), server.URL+"/missing", "")
		assert.ErrorIs(t, err, utils.ErrClientHTTPError)
	})

	t.Run("size limit", func(t *testing.T) {
		cfg := testConfig(0)
		cfg.MaxDocumentSizeBytes = 1024
		fetcher := NewFetcher(testClient(), cfg, log.Discard())
		_, err := fetcher.FetchDocument(context.Background(), server.URL+"/big.html", "")
		assert.ErrorIs(t, err, utils.ErrResponseBodyRead)
		assert.Contains(t, err.Error(), "max_document_size_bytes")
	})

	t.Run("bad url", func(t *testing.T) {
		fetcher := NewFetcher(testClient(), testConfig(0), log.Discard())
		_, err := fetcher.FetchDocument(context.Background(), "http://[::1", "")
		assert.ErrorIs(t, err, utils.ErrRequestCreation)
	})
}

func TestBackoff(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoff(attempt, 100*time.Millisecond, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 1100*time.Millisecond, "attempt %d", attempt)
	}
	d := backoff(1, 100*time.Millisecond, time.Second)
	assert.InDelta(t, float64(100*time.Millisecond), float64(d), float64(10*time.Millisecond))
}
