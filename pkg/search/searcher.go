// Package search composes the rate-limited primary provider, the fallback
// provider, tag extraction, and tag normalization into a single
// "search and tag" operation with an at-most-one-fallback protocol.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/cache"
	"booru-tagger/pkg/config"
	"booru-tagger/pkg/models"
	"booru-tagger/pkg/provider"
	"booru-tagger/pkg/ratelimit"
	"booru-tagger/pkg/tags"
)

// Searcher runs the fallback-aware search-and-tag protocol. The primary
// provider carries the shared cache and rate limiter internally; the
// fallback is consulted at most once, and its result replaces the primary's
// verbatim.
type Searcher struct {
	primary      provider.Searcher
	fallback     provider.Searcher // nil when disabled
	extractor    provider.TagExtractor
	cache        *cache.ResultCache
	limiterStats func() models.LimiterStats // nil when the primary carries no limiter
	log          *logrus.Entry
}

// New wires the full search stack from configuration: result cache, rate
// limiter, SauceNAO primary, optional IQDB fallback, and Danbooru tag
// extraction.
func New(cfg *config.AppConfig, logger *logrus.Entry) (*Searcher, error) {
	ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
	resultCache, err := cache.New(cfg.Cache.Dir, ttl, logger.WithField("component", "cache"))
	if err != nil {
		return nil, fmt.Errorf("initializing result cache: %w", err)
	}

	httpClient := provider.NewHTTPClient(cfg.HTTPClientSettings, logger)
	limiter := ratelimit.New(cfg.API.SauceNAO.RateLimit, logger.WithField("component", "ratelimit"))

	primary := provider.NewSauceNAO(
		cfg.API.SauceNAO.APIKey,
		cfg.API.SauceNAO.MinSimilarity,
		httpClient,
		resultCache,
		limiter,
		logger.WithField("component", "saucenao"),
	)

	var fallback provider.Searcher
	if cfg.IQDBEnabled() {
		fallback = provider.NewIQDB(cfg.API.IQDB.MinSimilarity, httpClient, logger.WithField("component", "iqdb"))
	}

	extractor := provider.NewDanbooru(
		cfg.API.Danbooru.Username,
		cfg.API.Danbooru.APIKey,
		httpClient,
		logger.WithField("component", "danbooru"),
	)

	logger.Info("Searcher initialized")
	return &Searcher{
		primary:      primary,
		fallback:     fallback,
		extractor:    extractor,
		cache:        resultCache,
		limiterStats: primary.LimiterStats,
		log:          logger,
	}, nil
}

// NewWithProviders builds a Searcher from explicit collaborators. The cache
// may be nil; used by the workflow tests and anywhere the stack is assembled
// by hand.
func NewWithProviders(primary, fallback provider.Searcher, extractor provider.TagExtractor,
	resultCache *cache.ResultCache, log *logrus.Entry) *Searcher {
	return &Searcher{
		primary:   primary,
		fallback:  fallback,
		extractor: extractor,
		cache:     resultCache,
		log:       log,
	}
}

// SearchAndTag performs a reverse search and extracts normalized tags for
// one image. It never returns a Go error: every failure mode resolves to a
// tagged result.
//
// Protocol: primary first; on no_match or error consult the fallback once,
// whose result fully replaces the primary's. On success with a source URL,
// attempt tag extraction; extraction failure degrades the status to
// success_no_tags but keeps the match.
func (s *Searcher) SearchAndTag(ctx context.Context, imagePath string, maxTags int) models.TaggedResult {
	result := models.TaggedResult{Status: models.SearchStatusNoMatch}

	searchResult := s.primary.SearchImage(ctx, imagePath, 0)

	if s.fallback != nil &&
		(searchResult.Status == models.SearchStatusNoMatch || searchResult.Status == models.SearchStatusError) {
		s.log.Infof("Falling back to %s for %s", s.fallback.Name(), filepath.Base(imagePath))
		searchResult = s.fallback.SearchImage(ctx, imagePath, 0)
	}

	result.Status = searchResult.Status
	result.Similarity = searchResult.Similarity
	result.SourceURL = searchResult.SourceURL
	result.SourceSite = searchResult.SourceSite
	result.ErrorMessage = searchResult.ErrorMessage

	if searchResult.Status != models.SearchStatusSuccess || searchResult.SourceURL == "" {
		return result
	}

	rawTags, err := s.extractor.TagsFromURL(ctx, searchResult.SourceURL, maxTags)
	if err != nil {
		// Keep the match even when tag extraction fails
		s.log.Errorf("Failed to extract tags for %s: %v", filepath.Base(imagePath), err)
		result.Status = models.SearchStatusNoTags
		return result
	}
	if rawTags == nil {
		s.log.Warnf("No tags found for %s at %s", filepath.Base(imagePath), searchResult.SourceURL)
		return result
	}

	normalized := tags.NormalizePostTags(rawTags)
	flat := tags.ToFlatList(normalized, tags.DefaultFlatListOptions())

	result.RawTags = rawTags
	result.Tags = &normalized
	result.FlatTags = flat

	s.log.Infof("Extracted %d tags for %s", len(flat), filepath.Base(imagePath))
	return result
}

// SearchBatch processes images sequentially: the rate limiter is a single
// shared gate and concurrent searches would violate the provider's rate
// contract. A per-image failure lands in that image's own result entry
// without aborting the batch; cancellation is observed between images.
func (s *Searcher) SearchBatch(ctx context.Context, imagePaths []string, maxTags int) map[string]models.TaggedResult {
	results := make(map[string]models.TaggedResult, len(imagePaths))

	for _, imagePath := range imagePaths {
		if err := ctx.Err(); err != nil {
			results[imagePath] = models.TaggedResult{
				Status:       models.SearchStatusError,
				ErrorMessage: err.Error(),
			}
			continue
		}
		results[imagePath] = s.SearchAndTag(ctx, imagePath, maxTags)
	}
	return results
}

// CacheStats reports the result cache's state
func (s *Searcher) CacheStats() (models.CacheStats, error) {
	if s.cache == nil {
		return models.CacheStats{}, nil
	}
	return s.cache.Stats()
}

// CleanupCache removes expired cache entries and returns the count removed
func (s *Searcher) CleanupCache() (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.CleanupExpired()
}

// RunCacheGC runs the cache store's value-log garbage collection until ctx is
// cancelled. Intended to run on its own goroutine alongside a batch.
func (s *Searcher) RunCacheGC(ctx context.Context, interval time.Duration) {
	if s.cache == nil {
		return
	}
	s.cache.RunGC(ctx, interval)
}

// LimiterStats reports the primary provider's rate-limit window state
func (s *Searcher) LimiterStats() models.LimiterStats {
	if s.limiterStats == nil {
		return models.LimiterStats{}
	}
	return s.limiterStats()
}

// Close releases the underlying cache store
func (s *Searcher) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}
