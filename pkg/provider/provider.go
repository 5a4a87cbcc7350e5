// Package provider contains adapters over the external reverse-image-search
// backends. Every adapter normalizes its backend's response shape into one
// SearchResult contract at the boundary; per-item failures resolve to a
// result with SearchStatusError and never escape as Go errors.
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/config"
	"booru-tagger/pkg/models"
)

// Searcher is the shared contract of the interchangeable reverse-search
// backends. The adapter applies the caller-supplied similarity floor itself:
// a match below the floor is reported as no_match, not success.
type Searcher interface {
	// SearchImage performs one best-effort search. minSimilarity <= 0 means
	// "use the adapter's configured floor".
	SearchImage(ctx context.Context, imagePath string, minSimilarity float64) models.SearchResult
	// Name identifies the backend for logging
	Name() string
}

// TagExtractor fetches categorized tags for a matched post. An unparseable
// source URL yields (nil, nil) — no tags, not an error.
type TagExtractor interface {
	TagsFromURL(ctx context.Context, sourceURL string, maxTags int) (*models.PostTags, error)
}

// NewHTTPClient creates the shared HTTP client for all provider adapters.
// Network calls must have a bounded timeout so a hung backend resolves to an
// error result instead of stalling the batch.
func NewHTTPClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
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
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
}

// errorResult builds the uniform error-shaped SearchResult
func errorResult(site, msg string) models.SearchResult {
	return models.SearchResult{
		Status:       models.SearchStatusError,
		SourceSite:   site,
		ErrorMessage: msg,
	}
}
