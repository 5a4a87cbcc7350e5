package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidate_AppliesDefaults(t *testing.T) {
	var cfg AppConfig

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	assert.Equal(t, 6, cfg.API.SauceNAO.RateLimit)
	assert.Equal(t, 70.0, cfg.API.SauceNAO.MinSimilarity)
	assert.Equal(t, 80.0, cfg.API.IQDB.MinSimilarity)
	assert.Equal(t, "./data/search_cache", cfg.Cache.Dir)
	assert.Equal(t, 48, cfg.Cache.TTLHours)
	assert.Equal(t, 10, cfg.Cache.GCIntervalMinutes)
	assert.Equal(t, "./data/preferences.db", cfg.Learning.DatabasePath)
	assert.Equal(t, 0.7, cfg.Learning.MinConfidence)
	assert.Equal(t, 10, cfg.Workflow.MaxTags)
	assert.Equal(t, 30*time.Second, cfg.HTTPClientSettings.Timeout)
}

func TestValidate_KeepsExplicitValues(t *testing.T) {
	cfg := AppConfig{}
	cfg.API.SauceNAO.RateLimit = 3
	cfg.API.SauceNAO.MinSimilarity = 85
	cfg.Cache.TTLHours = 12

	_, err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.API.SauceNAO.RateLimit)
	assert.Equal(t, 85.0, cfg.API.SauceNAO.MinSimilarity)
	assert.Equal(t, 12, cfg.Cache.TTLHours)
}

func TestValidate_RejectsOutOfRangeValues(t *testing.T) {
	t.Run("similarity over 100", func(t *testing.T) {
		cfg := AppConfig{}
		cfg.API.SauceNAO.MinSimilarity = 101
		_, err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("confidence over 1", func(t *testing.T) {
		cfg := AppConfig{}
		cfg.Learning.MinConfidence = 1.5
		_, err := cfg.Validate()
		assert.Error(t, err)
	})
}

func TestIQDBEnabled_DefaultsToTrue(t *testing.T) {
	var cfg AppConfig
	assert.True(t, cfg.IQDBEnabled())

	disabled := false
	cfg.API.IQDB.Enabled = &disabled
	assert.False(t, cfg.IQDBEnabled())
}

func TestSkipExisting_DefaultsToTrue(t *testing.T) {
	var cfg AppConfig
	assert.True(t, cfg.SkipExisting())

	process := false
	cfg.Workflow.SkipExisting = &process
	assert.False(t, cfg.SkipExisting())
}

func TestAppConfig_YAMLRoundTrip(t *testing.T) {
	raw := `
api:
  saucenao:
    api_key: secret
    rate_limit: 4
    min_similarity: 75
  iqdb:
    enabled: false
  danbooru:
    username: someone
    api_key: key
cache:
  dir: /tmp/cache
  ttl_hours: 24
learning:
  database_path: /tmp/prefs.db
  min_confidence: 0.8
workflow:
  max_tags: 15
  skip_existing: false
  include_rating: true
http_client_settings:
  timeout: 10s
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "secret", cfg.API.SauceNAO.APIKey)
	assert.Equal(t, 4, cfg.API.SauceNAO.RateLimit)
	assert.False(t, cfg.IQDBEnabled())
	assert.Equal(t, "someone", cfg.API.Danbooru.Username)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, 0.8, cfg.Learning.MinConfidence)
	assert.Equal(t, 15, cfg.Workflow.MaxTags)
	assert.False(t, cfg.SkipExisting())
	assert.True(t, cfg.Workflow.IncludeRating)
	assert.Equal(t, 10*time.Second, cfg.HTTPClientSettings.Timeout)
}
