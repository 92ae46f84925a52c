package fetch

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"doc-toc/pkg/config"
)

const maxRedirects = 10

// documentTransport fills in the headers every document request should carry
// when the caller did not set them.
type documentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *documentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" && req.Header.Get("Accept") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" && t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "text/html, text/markdown;q=0.9, text/plain;q=0.8, */*;q=0.5")
	}
	return t.base.RoundTrip(r)
}

// NewClient creates the HTTP client used for remote document sources.
// Connections per host are capped at max_requests_per_host so the transport agrees with the
// HostSemaphorePool, and redirects may only lead to other http(s) URLs.
func NewClient(appCfg *config.AppConfig, log *logrus.Entry) *http.Client {
	cfg := appCfg.HTTPClientSettings

	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:        appCfg.MaxRequestsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &documentTransport{
			base:      transport,
			userAgent: appCfg.DefaultUserAgent,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("refusing redirect to %s: only http and https documents can be fetched", req.URL)
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithFields(logrus.Fields{
		"timeout":       cfg.Timeout,
		"max_per_host":  appCfg.MaxRequestsPerHost,
		"default_agent": appCfg.DefaultUserAgent,
	}).Debug("HTTP client initialized")
	return client
}
