package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"doc-toc/pkg/config"
)

// RobotsChecker manages fetching, parsing, caching, and checking robots.txt data
type RobotsChecker struct {
	fetcher       *Fetcher
	rateLimiter   *RateLimiter
	robotsCache   map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	robotsCacheMu sync.Mutex
	cfg           *config.AppConfig
	log           *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker
func NewRobotsChecker(fetcher *Fetcher, rateLimiter *RateLimiter, cfg *config.AppConfig, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		cfg:         cfg,
		log:         log,
	}
}

func (rc *RobotsChecker) cache(host string, data *robotstxt.RobotsData) *robotstxt.RobotsData {
	rc.robotsCacheMu.Lock()
	rc.robotsCache[host] = data
	rc.robotsCacheMu.Unlock()
	return data
}

// GetRobotsData retrieves robots.txt data for the targetURL's host, using cache or fetching.
// Returns nil on any error, 4xx or missing file; nil results are cached too.
func (rc *RobotsChecker) GetRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	host := targetURL.Host

	rc.robotsCacheMu.Lock()
	robotsData, found := rc.robotsCache[host]
	rc.robotsCacheMu.Unlock()
	if found {
		return robotsData
	}

	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: host, Path: "/robots.txt"}
	if targetURL.Scheme != "http" && targetURL.Scheme != "https" {
		robotsURL.Scheme = "https"
	}
	robotsLog := rc.log.WithField("robots_url", robotsURL.String())
	robotsLog.Debug("Fetching robots.txt...")

	if err := rc.rateLimiter.ApplyDelay(ctx, host, rc.cfg.DefaultDelayPerHost); err != nil {
		return nil // Cancelled; do not cache
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return rc.cache(host, nil)
	}
	req.Header.Set("User-Agent", rc.cfg.DefaultUserAgent)

	resp, fetchErr := rc.fetcher.FetchWithRetry(ctx, req)
	rc.rateLimiter.UpdateLastRequestTime(host)
	if fetchErr != nil {
		drain(resp)
		robotsLog.Debugf("robots.txt unavailable, allowing all: %v", fetchErr)
		return rc.cache(host, nil)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		robotsLog.Errorf("Error reading body: %v", err)
		return rc.cache(host, nil)
	}

	data, err := robotstxt.FromBytes(bodyBytes)
	if err != nil {
		robotsLog.Errorf("Error parsing content: %v", err)
		return rc.cache(host, nil)
	}

	robotsLog.Debug("Parsed robots.txt")
	return rc.cache(host, data)
}

// TestAgent reports whether userAgent may fetch targetURL.
// Allowed when robots data could not be obtained.
func (rc *RobotsChecker) TestAgent(ctx context.Context, targetURL *url.URL, userAgent string) bool {
	robotsData := rc.GetRobotsData(ctx, targetURL)
	if robotsData == nil {
		return true
	}
	return robotsData.TestAgent(targetURL.RequestURI(), userAgent)
}
