package workflow

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booru-tagger/pkg/learning"
	"booru-tagger/pkg/models"
)

type fakeBooruSearcher struct {
	results map[string]models.TaggedResult
	calls   int
}

func (f *fakeBooruSearcher) SearchAndTag(ctx context.Context, imagePath string, maxTags int) models.TaggedResult {
	f.calls++
	if r, ok := f.results[imagePath]; ok {
		return r
	}
	return models.TaggedResult{Status: models.SearchStatusNoMatch}
}

func (f *fakeBooruSearcher) CacheStats() (models.CacheStats, error) {
	return models.CacheStats{TotalEntries: 3, ValidEntries: 2, ExpiredEntries: 1}, nil
}

func (f *fakeBooruSearcher) CleanupCache() (int, error) { return 0, nil }

type fakeAnalyzer struct {
	result models.ContentResult
}

func (f *fakeAnalyzer) AnalyzeImage(ctx context.Context, imagePath string) models.ContentResult {
	return f.result
}

type fakeWriter struct {
	written map[string]Metadata
	err     error
}

func (f *fakeWriter) WriteSidecar(ctx context.Context, imagePath string, tagList []string, description string, rating int, sourceURL string) error {
	if f.err != nil {
		return f.err
	}
	if f.written == nil {
		f.written = make(map[string]Metadata)
	}
	f.written[imagePath] = Metadata{
		ImagePath:   imagePath,
		Tags:        tagList,
		Description: description,
		Rating:      rating,
		SourceURL:   sourceURL,
	}
	return nil
}

func (f *fakeWriter) ReadTags(ctx context.Context, imagePath string) ([]string, error) {
	if m, ok := f.written[imagePath]; ok {
		return m.Tags, nil
	}
	return nil, nil
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func matchedResult() models.TaggedResult {
	return models.TaggedResult{
		Status:     models.SearchStatusSuccess,
		Similarity: 91.0,
		SourceURL:  "https://danbooru.donmai.us/posts/42",
		SourceSite: "Danbooru",
		Tags: &models.TagSet{
			General: []string{"Blue Eyes", "Smile"},
			Rating:  "safe",
		},
		FlatTags: []string{"Blue Eyes", "Smile"},
	}
}

func TestProcessImage_BooruMatchWritesSidecar(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{imagePath: matchedResult()}}
	writer := &fakeWriter{}

	o := New(searcher, nil, writer, nil, Options{MaxTags: 10, IncludeRating: true}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusSuccess, result.Status)
	assert.True(t, result.BooruMatch)
	assert.True(t, result.SidecarWritten)
	require.Contains(t, writer.written, imagePath)
	assert.Equal(t, []string{"Blue Eyes", "Smile"}, writer.written[imagePath].Tags)
	assert.Equal(t, 5, writer.written[imagePath].Rating)
}

func TestProcessImage_MergesBooruAndContentTags(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{imagePath: matchedResult()}}
	analyzer := &fakeAnalyzer{result: models.ContentResult{
		Status:          models.ContentStatusSuccess,
		Style:           "anime",
		StyleConfidence: 0.9,
		PersonsDetected: 1,
	}}
	writer := &fakeWriter{}

	o := New(searcher, analyzer, writer, nil, Options{MaxTags: 10}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusSuccess, result.Status)
	assert.True(t, result.ContentAnalyzed)
	assert.Equal(t, "anime", result.Style)

	written := writer.written[imagePath].Tags
	assert.Contains(t, written, "Blue Eyes")
	assert.Contains(t, written, "Style/Anime")
	assert.Contains(t, written, "Persons/1")
}

func TestProcessImage_NoMatchNoAnalysisIsNoTags(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{}
	writer := &fakeWriter{}

	o := New(searcher, nil, writer, nil, Options{}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusNoTags, result.Status)
	assert.False(t, result.SidecarWritten)
}

func TestProcessImage_SearchErrorWithoutOtherSourcesIsError(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{imagePath: {
		Status:       models.SearchStatusError,
		ErrorMessage: "provider down",
	}}}

	o := New(searcher, nil, &fakeWriter{}, nil, Options{}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusError, result.Status)
	assert.Equal(t, "provider down", result.ErrorMessage)
}

func TestProcessImage_ContentTagsSurviveSearchError(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{imagePath: {
		Status:       models.SearchStatusError,
		ErrorMessage: "provider down",
	}}}
	analyzer := &fakeAnalyzer{result: models.ContentResult{
		Status:          models.ContentStatusSuccess,
		Style:           "photo",
		StyleConfidence: 0.8,
	}}
	writer := &fakeWriter{}

	o := New(searcher, analyzer, writer, nil, Options{}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusSuccess, result.Status, "content analysis alone still produces a sidecar")
	assert.Contains(t, writer.written[imagePath].Tags, "Style/Photo")
}

func TestProcessImage_SkipExisting(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(SidecarPath(imagePath), []byte("<xmp/>"), 0644))

	searcher := &fakeBooruSearcher{}
	o := New(searcher, nil, &fakeWriter{}, nil, Options{SkipExisting: true}, testLogger())

	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusSkipped, result.Status)
	assert.Equal(t, 0, searcher.calls, "skipped images must not be searched")
}

func TestProcessImage_WriteFailureIsError(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "a.jpg")
	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{imagePath: matchedResult()}}
	writer := &fakeWriter{err: errors.New("exiftool exploded")}

	o := New(searcher, nil, writer, nil, Options{}, testLogger())
	result := o.ProcessImage(context.Background(), imagePath)

	assert.Equal(t, models.ProcessStatusError, result.Status)
	assert.Contains(t, result.ErrorMessage, "exiftool exploded")
}

func TestProcessBatch_SummaryCounts(t *testing.T) {
	dir := t.TempDir()
	matched := filepath.Join(dir, "matched.jpg")
	unmatched := filepath.Join(dir, "unmatched.jpg")
	skipped := filepath.Join(dir, "skipped.jpg")
	failed := filepath.Join(dir, "failed.jpg")
	require.NoError(t, os.WriteFile(SidecarPath(skipped), []byte("<xmp/>"), 0644))

	searcher := &fakeBooruSearcher{results: map[string]models.TaggedResult{
		matched: matchedResult(),
		failed:  {Status: models.SearchStatusError, ErrorMessage: "boom"},
	}}

	o := New(searcher, nil, &fakeWriter{}, nil, Options{SkipExisting: true}, testLogger())
	summary := o.ProcessBatch(context.Background(), []string{matched, unmatched, skipped, failed}, nil)

	assert.NotEmpty(t, summary.BatchID)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Success)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.NoTags)
	assert.Equal(t, 1, summary.Errors)
	assert.Len(t, summary.Results, 4)
}

func TestProcessBatch_ProgressCallback(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "1.jpg"), filepath.Join(dir, "2.jpg")}

	var seen []int
	o := New(&fakeBooruSearcher{}, nil, &fakeWriter{}, nil, Options{}, testLogger())
	o.ProcessBatch(context.Background(), paths, func(current, total int) {
		assert.Equal(t, 2, total)
		seen = append(seen, current)
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestProcessBatch_CancellationMarksRemainingAsErrors(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "1.jpg"), filepath.Join(dir, "2.jpg")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	searcher := &fakeBooruSearcher{}
	o := New(searcher, nil, &fakeWriter{}, nil, Options{}, testLogger())
	summary := o.ProcessBatch(ctx, paths, nil)

	assert.Equal(t, 2, summary.Errors)
	assert.Equal(t, 0, searcher.calls)
}

func TestConfirmCategory_FeedsPreferenceStore(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("fake image bytes"), 0644))

	prefs, err := learning.Open(filepath.Join(dir, "prefs.db"), testLogger())
	require.NoError(t, err)
	defer prefs.Close()

	o := New(&fakeBooruSearcher{}, nil, &fakeWriter{}, prefs, Options{MinConfidence: 0.7}, testLogger())

	result := models.ImageResult{
		ImagePath:       imagePath,
		Status:          models.ProcessStatusSuccess,
		ContentAnalyzed: true,
		Style:           "anime",
		PersonsDetected: 2,
		Tags:            []string{"Blue Eyes", "Smile"},
	}

	require.NoError(t, o.ConfirmCategory(context.Background(), result, "Anime Art", "Wallpapers"))

	ctx := context.Background()
	stats, err := prefs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalMovements)
	// style + persons + two tags
	assert.Equal(t, 4, stats.TotalPreferences)

	pref, ok, err := prefs.GetPreference(ctx, "style", "anime")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Anime Art", pref.Category)

	corrections, err := prefs.Corrections(ctx)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, "Wallpapers", corrections[0].FromCategory)
}

func TestSuggest_UsesLearnedPreferences(t *testing.T) {
	dir := t.TempDir()
	prefs, err := learning.Open(filepath.Join(dir, "prefs.db"), testLogger())
	require.NoError(t, err)
	defer prefs.Close()

	ctx := context.Background()
	for i := 0; i < 7; i++ { // 0.80 confidence
		require.NoError(t, prefs.LearnPreference(ctx, "style", "anime", "Anime Art"))
	}

	o := New(&fakeBooruSearcher{}, nil, &fakeWriter{}, prefs, Options{MinConfidence: 0.7}, testLogger())

	suggestion, ok, err := o.Suggest(ctx, models.ImageResult{
		ContentAnalyzed: true,
		Style:           "anime",
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Anime Art", suggestion.Category)
}

func TestStats_AggregatesCacheCounters(t *testing.T) {
	o := New(&fakeBooruSearcher{}, nil, &fakeWriter{}, nil, Options{}, testLogger())

	cacheStats, learningStats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cacheStats.TotalEntries)
	assert.Equal(t, models.LearningStats{}, learningStats)
}
