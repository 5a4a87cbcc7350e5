package search

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booru-tagger/pkg/models"
	"booru-tagger/pkg/provider"
)

type fakeSearcher struct {
	name   string
	result models.SearchResult
	calls  int
}

func (f *fakeSearcher) SearchImage(ctx context.Context, imagePath string, minSimilarity float64) models.SearchResult {
	f.calls++
	return f.result
}

func (f *fakeSearcher) Name() string { return f.name }

type fakeExtractor struct {
	tags  *models.PostTags
	err   error
	calls int
}

func (f *fakeExtractor) TagsFromURL(ctx context.Context, sourceURL string, maxTags int) (*models.PostTags, error) {
	f.calls++
	return f.tags, f.err
}

func newTestSearcher(primary, fallback *fakeSearcher, extractor *fakeExtractor) *Searcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var fb provider.Searcher
	if fallback != nil {
		fb = fallback
	}
	return NewWithProviders(primary, fb, extractor, nil, logrus.NewEntry(logger))
}

func successResult(site string) models.SearchResult {
	return models.SearchResult{
		Status:     models.SearchStatusSuccess,
		Similarity: 90.0,
		SourceURL:  "https://danbooru.donmai.us/posts/42",
		SourceSite: site,
	}
}

func TestSearchAndTag_PrimarySuccessSkipsFallback(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: successResult("SauceNAO")}
	fallback := &fakeSearcher{name: "IQDB", result: successResult("IQDB")}
	extractor := &fakeExtractor{tags: &models.PostTags{
		General: []string{"blue_eyes", "smile"},
		Rating:  "s",
	}}

	s := newTestSearcher(primary, fallback, extractor)
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, models.SearchStatusSuccess, result.Status)
	assert.Equal(t, "SauceNAO", result.SourceSite)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when the primary succeeds")
	assert.Equal(t, []string{"Blue Eyes", "Smile"}, result.FlatTags)
}

func TestSearchAndTag_FallbackOnNoMatch(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{Status: models.SearchStatusNoMatch}}
	fallback := &fakeSearcher{name: "IQDB", result: successResult("IQDB")}
	extractor := &fakeExtractor{tags: &models.PostTags{General: []string{"smile"}}}

	s := newTestSearcher(primary, fallback, extractor)
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, models.SearchStatusSuccess, result.Status)
	assert.Equal(t, "IQDB", result.SourceSite, "fallback result must replace the primary's verbatim")
}

func TestSearchAndTag_FallbackOnError(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{
		Status:       models.SearchStatusError,
		ErrorMessage: "rate limited upstream",
	}}
	fallback := &fakeSearcher{name: "IQDB", result: models.SearchResult{Status: models.SearchStatusNoMatch}}

	s := newTestSearcher(primary, fallback, &fakeExtractor{})
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, models.SearchStatusNoMatch, result.Status)
	assert.Empty(t, result.ErrorMessage, "fallback's clean no_match replaces the primary's error")
}

func TestSearchAndTag_FallbackFailureIsFinal(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{Status: models.SearchStatusError, ErrorMessage: "boom"}}
	fallback := &fakeSearcher{name: "IQDB", result: models.SearchResult{Status: models.SearchStatusError, ErrorMessage: "also down"}}

	s := newTestSearcher(primary, fallback, &fakeExtractor{})
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls, "fallback is consulted at most once")
	assert.Equal(t, models.SearchStatusError, result.Status)
	assert.Equal(t, "also down", result.ErrorMessage)
}

func TestSearchAndTag_NoFallbackConfigured(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{Status: models.SearchStatusNoMatch}}

	s := newTestSearcher(primary, nil, &fakeExtractor{})
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, models.SearchStatusNoMatch, result.Status)
}

func TestSearchAndTag_ExtractionErrorDegradesToNoTags(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: successResult("SauceNAO")}
	extractor := &fakeExtractor{err: errors.New("danbooru 500")}

	s := newTestSearcher(primary, nil, extractor)
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, models.SearchStatusNoTags, result.Status)
	assert.Equal(t, "https://danbooru.donmai.us/posts/42", result.SourceURL, "the match survives extraction failure")
	assert.Nil(t, result.Tags)
}

func TestSearchAndTag_NilTagsKeepsSuccess(t *testing.T) {
	// An unrecognized source URL yields no tags and no error
	primary := &fakeSearcher{name: "SauceNAO", result: successResult("SauceNAO")}
	extractor := &fakeExtractor{tags: nil, err: nil}

	s := newTestSearcher(primary, nil, extractor)
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, models.SearchStatusSuccess, result.Status)
	assert.Nil(t, result.Tags)
	assert.Empty(t, result.FlatTags)
}

func TestSearchAndTag_SuccessWithoutSourceURLSkipsExtraction(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{
		Status:     models.SearchStatusSuccess,
		Similarity: 88.0,
	}}
	extractor := &fakeExtractor{}

	s := newTestSearcher(primary, nil, extractor)
	result := s.SearchAndTag(context.Background(), "/img/a.jpg", 10)

	assert.Equal(t, 0, extractor.calls)
	assert.Equal(t, models.SearchStatusSuccess, result.Status)
}

func TestSearchBatch_IsolatesPerImageOutcomes(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: models.SearchResult{Status: models.SearchStatusNoMatch}}

	s := newTestSearcher(primary, nil, &fakeExtractor{})
	paths := []string{"/img/1.jpg", "/img/2.jpg", "/img/3.jpg", "/img/4.jpg", "/img/5.jpg"}
	results := s.SearchBatch(context.Background(), paths, 10)

	require.Len(t, results, 5)
	for _, p := range paths {
		assert.Equal(t, models.SearchStatusNoMatch, results[p].Status)
	}
}

func TestRunCacheGC_ReturnsWithoutCache(t *testing.T) {
	s := newTestSearcher(&fakeSearcher{name: "SauceNAO"}, nil, &fakeExtractor{})

	done := make(chan struct{})
	go func() {
		s.RunCacheGC(context.Background(), time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCacheGC without a cache should return immediately")
	}
}

func TestLimiterStats_ZeroWithoutPrimaryLimiter(t *testing.T) {
	s := newTestSearcher(&fakeSearcher{name: "SauceNAO"}, nil, &fakeExtractor{})
	assert.Equal(t, models.LimiterStats{}, s.LimiterStats())
}

func TestSearchBatch_CancelledContextMarksRemainingAsErrors(t *testing.T) {
	primary := &fakeSearcher{name: "SauceNAO", result: successResult("SauceNAO")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSearcher(primary, nil, &fakeExtractor{})
	results := s.SearchBatch(ctx, []string{"/img/1.jpg", "/img/2.jpg"}, 10)

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.SearchStatusError, r.Status)
	}
	assert.Equal(t, 0, primary.calls)
}
