package config

import (
	"fmt"
	"time"

	"booru-tagger/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// SauceNAO rate limit
	if c.API.SauceNAO.RateLimit <= 0 {
		warnings = append(warnings, "api.saucenao.rate_limit should be > 0, defaulting to 6")
		c.API.SauceNAO.RateLimit = 6
	}

	// Similarity floors
	if c.API.SauceNAO.MinSimilarity <= 0 {
		warnings = append(warnings, "api.saucenao.min_similarity not specified, defaulting to 70")
		c.API.SauceNAO.MinSimilarity = 70
	}
	if c.API.SauceNAO.MinSimilarity > 100 {
		return warnings, fmt.Errorf("%w: api.saucenao.min_similarity must be <= 100, got %v",
			utils.ErrConfigValidation, c.API.SauceNAO.MinSimilarity)
	}
	if c.API.IQDB.MinSimilarity <= 0 {
		warnings = append(warnings, "api.iqdb.min_similarity not specified, defaulting to 80")
		c.API.IQDB.MinSimilarity = 80
	}
	if c.API.IQDB.MinSimilarity > 100 {
		return warnings, fmt.Errorf("%w: api.iqdb.min_similarity must be <= 100, got %v",
			utils.ErrConfigValidation, c.API.IQDB.MinSimilarity)
	}

	// Cache
	if c.Cache.Dir == "" {
		warnings = append(warnings, "cache.dir is empty, defaulting to './data/search_cache'")
		c.Cache.Dir = "./data/search_cache"
	}
	if c.Cache.TTLHours <= 0 {
		warnings = append(warnings, "cache.ttl_hours should be > 0, defaulting to 48")
		c.Cache.TTLHours = 48
	}
	if c.Cache.GCIntervalMinutes <= 0 {
		c.Cache.GCIntervalMinutes = 10
	}

	// Learning
	if c.Learning.DatabasePath == "" {
		warnings = append(warnings, "learning.database_path is empty, defaulting to './data/preferences.db'")
		c.Learning.DatabasePath = "./data/preferences.db"
	}
	if c.Learning.MinConfidence <= 0 {
		c.Learning.MinConfidence = 0.7
	}
	if c.Learning.MinConfidence > 1 {
		return warnings, fmt.Errorf("%w: learning.min_confidence must be <= 1, got %v",
			utils.ErrConfigValidation, c.Learning.MinConfidence)
	}

	// Workflow
	if c.Workflow.MaxTags <= 0 {
		c.Workflow.MaxTags = 10
	}

	// HTTP client
	if c.HTTPClientSettings.Timeout <= 0 {
		c.HTTPClientSettings.Timeout = 30 * time.Second
	}
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 20
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 4
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 15 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	if c.API.SauceNAO.APIKey == "" {
		warnings = append(warnings, "api.saucenao.api_key is empty; anonymous access is limited server-side")
	}

	return warnings, nil
}
