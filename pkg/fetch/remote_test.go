package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-toc/pkg/log"
	"doc-toc/pkg/utils"
)

const testRobots = `User-agent: *
Disallow: /private/
`

func robotsServer(t *testing.T, robots string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	robotsHits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			robotsHits.Add(1)
			if robots == "" {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(robots))
		default:
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><body><h2>Doc</h2></body></html>"))
		}
	}))
	t.Cleanup(server.Close)
	return server, robotsHits
}

func TestRobotsChecker(t *testing.T) {
	server, hits := robotsServer(t, testRobots)
	cfg := testConfig(0)
	fetcher := NewFetcher(testClient(), cfg, log.Discard())
	checker := NewRobotsChecker(fetcher, NewRateLimiter(0, log.Discard()), cfg, log.Discard())

	allowed, _ := url.Parse(server.URL + "/docs/guide.html")
	blocked, _ := url.Parse(server.URL + "/private/notes.html")

	assert.True(t, checker.TestAgent(context.Background(), allowed, "doc-toc"))
	assert.False(t, checker.TestAgent(context.Background(), blocked, "doc-toc"))
	assert.Equal(t, int32(1), hits.Load(), "robots.txt is cached per host")
}

func TestRobotsChecker_MissingFileAllowsAll(t *testing.T) {
	server, hits := robotsServer(t, "")
	cfg := testConfig(0)
	fetcher := NewFetcher(testClient(), cfg, log.Discard())
	checker := NewRobotsChecker(fetcher, NewRateLimiter(0, log.Discard()), cfg, log.Discard())

	u, _ := url.Parse(server.URL + "/private/notes.html")
	assert.Nil(t, checker.GetRobotsData(context.Background(), u))
	assert.True(t, checker.TestAgent(context.Background(), u, "doc-toc"))
	assert.Equal(t, int32(1), hits.Load(), "negative result is cached too")
}

func TestRemoteGet(t *testing.T) {
	server, _ := robotsServer(t, testRobots)

	t.Run("fetches allowed document", func(t *testing.T) {
		cfg := testConfig(0)
		cfg.RespectRobots = true
		remote := NewRemote(testClient(), cfg, log.Discard())

		data, err := remote.Get(context.Background(), server.URL+"/docs/guide.html", "", 0)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<h2>Doc</h2>")
	})

	t.Run("robots disallowed", func(t *testing.T) {
		cfg := testConfig(0)
		cfg.RespectRobots = true
		remote := NewRemote(testClient(), cfg, log.Discard())

		_, err := remote.Get(context.Background(), server.URL+"/private/notes.html", "", 0)
		assert.ErrorIs(t, err, utils.ErrRobotsDisallowed)
	})

	t.Run("robots ignored when disabled", func(t *testing.T) {
		cfg := testConfig(0)
		remote := NewRemote(testClient(), cfg, log.Discard())

		_, err := remote.Get(context.Background(), server.URL+"/private/notes.html", "", 0)
		assert.NoError(t, err)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		remote := NewRemote(testClient(), testConfig(0), log.Discard())
		_, err := remote.Get(context.Background(), "ftp://example.com/a.html", "", 0)
		assert.ErrorIs(t, err, utils.ErrParsing)
	})
}
