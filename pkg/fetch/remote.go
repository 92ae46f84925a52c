package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"doc-toc/pkg/config"
	"doc-toc/pkg/utils"
)

// Remote retrieves document sources over HTTP while honouring robots.txt and per-host delays.
// Safe for concurrent use.
type Remote struct {
	fetcher *Fetcher
	limiter *RateLimiter
	robots  *RobotsChecker
	hosts   *HostSemaphorePool
	cfg     *config.AppConfig
	log     *logrus.Entry
}

// NewRemote wires a Fetcher, RateLimiter and RobotsChecker around client.
func NewRemote(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Remote {
	fetcher := NewFetcher(client, cfg, log)
	limiter := NewRateLimiter(cfg.DefaultDelayPerHost, log)
	return &Remote{
		fetcher: fetcher,
		limiter: limiter,
		robots:  NewRobotsChecker(fetcher, limiter, cfg, log.WithField("component", "robots")),
		hosts:   NewHostSemaphorePool(cfg.MaxRequestsPerHost, log),
		cfg:     cfg,
		log:     log,
	}
}

// Get fetches rawURL as userAgent after waiting out delay for its host.
func (r *Remote) Get(ctx context.Context, rawURL, userAgent string, delay time.Duration) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q: %w", utils.ErrParsing, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", utils.ErrParsing, u.Scheme)
	}
	if userAgent == "" {
		userAgent = r.cfg.DefaultUserAgent
	}

	if r.cfg.RespectRobots && !r.robots.TestAgent(ctx, u, userAgent) {
		return nil, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
	}

	if err := r.hosts.Acquire(ctx, u.Host); err != nil {
		return nil, err
	}
	defer r.hosts.Release(u.Host)

	if err := r.limiter.ApplyDelay(ctx, u.Host, delay); err != nil {
		return nil, err
	}
	data, err := r.fetcher.FetchDocument(ctx, rawURL, userAgent)
	r.limiter.UpdateLastRequestTime(u.Host)
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{"url": rawURL, "bytes": len(data)}).Debug("Fetched document")
	return data, nil
}
