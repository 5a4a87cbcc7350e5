package config

import "time"

// SauceNAOConfig holds settings for the primary reverse-search provider
type SauceNAOConfig struct {
	APIKey        string  `yaml:"api_key,omitempty"`
	RateLimit     int     `yaml:"rate_limit,omitempty"`     // Requests per 30-second window
	MinSimilarity float64 `yaml:"min_similarity,omitempty"` // 0-100
}

// IQDBConfig holds settings for the fallback reverse-search provider
type IQDBConfig struct {
	Enabled       *bool   `yaml:"enabled,omitempty"` // nil = enabled
	MinSimilarity float64 `yaml:"min_similarity,omitempty"`
}

// DanbooruConfig holds credentials for the tag-extraction backend.
// Both fields are optional; anonymous access is rate-limited server-side.
type DanbooruConfig struct {
	Username string `yaml:"username,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// APIConfig groups all external provider settings
type APIConfig struct {
	SauceNAO SauceNAOConfig `yaml:"saucenao,omitempty"`
	IQDB     IQDBConfig     `yaml:"iqdb,omitempty"`
	Danbooru DanbooruConfig `yaml:"danbooru,omitempty"`
}

// CacheConfig holds settings for the search-result cache
type CacheConfig struct {
	Dir               string `yaml:"dir,omitempty"`                 // Badger database directory
	TTLHours          int    `yaml:"ttl_hours,omitempty"`           // Entry time-to-live
	GCIntervalMinutes int    `yaml:"gc_interval_minutes,omitempty"` // Value-log GC cadence
}

// LearningConfig holds settings for the preference store
type LearningConfig struct {
	DatabasePath  string  `yaml:"database_path,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"` // Floor for category suggestions
}

// WorkflowConfig holds settings for the per-image pipeline
type WorkflowConfig struct {
	MaxTags       int   `yaml:"max_tags,omitempty"`      // Cap on general tags per post
	SkipExisting  *bool `yaml:"skip_existing,omitempty"` // Skip images that already have a sidecar (nil = true)
	IncludeRating bool  `yaml:"include_rating,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // Pointer for tri-state: nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// AppConfig holds the global application configuration
type AppConfig struct {
	API                APIConfig        `yaml:"api,omitempty"`
	Cache              CacheConfig      `yaml:"cache,omitempty"`
	Learning           LearningConfig   `yaml:"learning,omitempty"`
	Workflow           WorkflowConfig   `yaml:"workflow,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// IQDBEnabled reports whether the fallback provider should be constructed
func (c *AppConfig) IQDBEnabled() bool {
	if c.API.IQDB.Enabled != nil {
		return *c.API.IQDB.Enabled
	}
	return true
}

// SkipExisting reports whether images with an existing sidecar are skipped
func (c *AppConfig) SkipExisting() bool {
	if c.Workflow.SkipExisting != nil {
		return *c.Workflow.SkipExisting
	}
	return true
}
