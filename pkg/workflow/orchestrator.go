// Package workflow runs the top-level per-image and per-batch tagging
// pipeline: reverse search, content analysis, metadata merge, sidecar write,
// and the preference-learning feedback loop.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"booru-tagger/pkg/learning"
	"booru-tagger/pkg/models"
	"booru-tagger/pkg/utils"
)

// BooruSearcher is the search orchestrator's surface consumed here
type BooruSearcher interface {
	SearchAndTag(ctx context.Context, imagePath string, maxTags int) models.TaggedResult
	CacheStats() (models.CacheStats, error)
	CleanupCache() (int, error)
}

// ContentAnalyzer is the external content-analysis collaborator. A disabled
// status means "no content signal available," not an error.
type ContentAnalyzer interface {
	AnalyzeImage(ctx context.Context, imagePath string) models.ContentResult
}

// SidecarWriter is the external metadata-sidecar collaborator
type SidecarWriter interface {
	WriteSidecar(ctx context.Context, imagePath string, tagList []string, description string, rating int, sourceURL string) error
	ReadTags(ctx context.Context, imagePath string) ([]string, error)
}

// Options carries the workflow's tunable settings
type Options struct {
	MaxTags       int  // Cap on general tags per post
	SkipExisting  bool // Skip images that already have a sidecar
	IncludeRating bool // Map the booru rating onto the star scale
	MinConfidence float64
}

// Orchestrator composes the search orchestrator, the external collaborators,
// and the preference store into the complete tagging workflow.
type Orchestrator struct {
	searcher BooruSearcher
	analyzer ContentAnalyzer
	writer   SidecarWriter
	prefs    *learning.Store
	opts     Options
	log      *logrus.Entry
}

// New creates a workflow orchestrator. analyzer may be nil (treated as
// disabled); writer and searcher must not be nil. prefs may be nil when
// learning is not wanted.
func New(searcher BooruSearcher, analyzer ContentAnalyzer, writer SidecarWriter,
	prefs *learning.Store, opts Options, log *logrus.Entry) *Orchestrator {
	if opts.MaxTags <= 0 {
		opts.MaxTags = 10
	}
	return &Orchestrator{
		searcher: searcher,
		analyzer: analyzer,
		writer:   writer,
		prefs:    prefs,
		opts:     opts,
		log:      log,
	}
}

// SidecarPath returns the sidecar file path for an image
func SidecarPath(imagePath string) string {
	return imagePath + ".xmp"
}

// ProcessImage runs one image through the complete pipeline. It never
// returns a Go error; every failure mode lands in the result's status.
func (o *Orchestrator) ProcessImage(ctx context.Context, imagePath string) models.ImageResult {
	result := models.ImageResult{
		ImagePath: imagePath,
		Status:    models.ProcessStatusPending,
	}

	if o.opts.SkipExisting {
		if _, err := os.Stat(SidecarPath(imagePath)); err == nil {
			o.log.Debugf("Skipping %s - sidecar exists", filepath.Base(imagePath))
			result.Status = models.ProcessStatusSkipped
			return result
		}
	}

	o.log.Infof("Processing: %s", filepath.Base(imagePath))

	// The booru search and the content analysis are data-independent, so
	// they run concurrently for one image. The batch itself stays
	// sequential to respect the shared rate limiter.
	var booruResult models.TaggedResult
	contentResult := models.ContentResult{Status: models.ContentStatusDisabled}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		booruResult = o.searcher.SearchAndTag(gctx, imagePath, o.opts.MaxTags)
		return nil
	})
	if o.analyzer != nil {
		g.Go(func() error {
			contentResult = o.analyzer.AnalyzeImage(gctx, imagePath)
			return nil
		})
	}
	g.Wait() // Collaborators report failures in their results, not as errors

	if booruResult.Status == models.SearchStatusSuccess || booruResult.Status == models.SearchStatusNoTags {
		result.BooruMatch = true
		result.Similarity = booruResult.Similarity
	}
	if contentResult.Status == models.ContentStatusSuccess {
		result.ContentAnalyzed = true
		result.Style = contentResult.Style
		result.PersonsDetected = contentResult.PersonsDetected
	}

	var sources []Metadata
	if booruResult.Status == models.SearchStatusSuccess && len(booruResult.FlatTags) > 0 {
		sources = append(sources, BuildFromBooru(imagePath, booruResult, o.opts.IncludeRating))
	}
	if contentResult.Status == models.ContentStatusSuccess {
		sources = append(sources, BuildFromContentAnalysis(imagePath, contentResult))
	}

	if len(sources) == 0 {
		result.Status = models.ProcessStatusNoTags
		result.ErrorMessage = "no tags found to write"
		if booruResult.Status == models.SearchStatusError {
			result.Status = models.ProcessStatusError
			result.ErrorMessage = booruResult.ErrorMessage
		}
		return result
	}

	meta := MergeMetadata(sources...)
	if len(meta.Tags) == 0 {
		result.Status = models.ProcessStatusNoTags
		result.ErrorMessage = "no tags found to write"
		return result
	}

	err := o.writer.WriteSidecar(ctx, meta.ImagePath, meta.Tags, meta.Description, meta.Rating, meta.SourceURL)
	if err != nil {
		o.log.Errorf("Failed to write sidecar for %s: %v (%s)",
			filepath.Base(imagePath), err, utils.CategorizeError(err))
		result.Status = models.ProcessStatusError
		result.ErrorMessage = err.Error()
		return result
	}

	result.SidecarWritten = true
	result.Tags = meta.Tags
	result.Status = models.ProcessStatusSuccess
	return result
}

// ProcessBatch processes images sequentially and reports summary counts so
// a caller can assess partial completion without inspecting every item.
// Cancellation is observed between images; remaining items are reported as
// errors without being attempted.
func (o *Orchestrator) ProcessBatch(ctx context.Context, imagePaths []string, progress func(current, total int)) models.BatchSummary {
	start := time.Now()
	summary := models.BatchSummary{
		BatchID: uuid.NewString(),
		Total:   len(imagePaths),
		Results: make([]models.ImageResult, 0, len(imagePaths)),
	}

	o.log.WithField("batch_id", summary.BatchID).Infof("Processing batch of %d images...", len(imagePaths))

	for idx, imagePath := range imagePaths {
		var result models.ImageResult
		if err := ctx.Err(); err != nil {
			result = models.ImageResult{
				ImagePath:    imagePath,
				Status:       models.ProcessStatusError,
				ErrorMessage: err.Error(),
			}
		} else {
			result = o.ProcessImage(ctx, imagePath)
		}
		summary.Results = append(summary.Results, result)

		switch result.Status {
		case models.ProcessStatusSuccess:
			summary.Success++
		case models.ProcessStatusSkipped:
			summary.Skipped++
		case models.ProcessStatusNoTags:
			summary.NoTags++
		default:
			summary.Errors++
		}

		if progress != nil {
			progress(idx+1, len(imagePaths))
		}
		if (idx+1)%10 == 0 {
			o.log.Infof("Progress: %d/%d (%.1f%%)", idx+1, len(imagePaths),
				float64(idx+1)/float64(len(imagePaths))*100)
		}
	}

	summary.Duration = time.Since(start)
	o.log.WithField("batch_id", summary.BatchID).Infof(
		"Batch complete: %d success, %d skipped, %d no tags, %d errors",
		summary.Success, summary.Skipped, summary.NoTags, summary.Errors)
	return summary
}

// Suggest queries the preference store with the signals gathered while
// processing an image.
func (o *Orchestrator) Suggest(ctx context.Context, result models.ImageResult) (models.Suggestion, bool, error) {
	if o.prefs == nil {
		return models.Suggestion{}, false, nil
	}
	signals := learning.SuggestionSignals{
		Style:     result.Style,
		BooruTags: result.Tags,
	}
	if result.ContentAnalyzed {
		persons := result.PersonsDetected
		signals.PersonsDetected = &persons
	}
	return o.prefs.SuggestCategory(ctx, signals, o.opts.MinConfidence)
}

// ConfirmCategory records where the user actually filed an image and feeds
// the observed signals back into the preference store. This is the learning
// edge of the pipeline: it runs only on confirmed user action.
func (o *Orchestrator) ConfirmCategory(ctx context.Context, result models.ImageResult, actualCategory, suggestedCategory string) error {
	if o.prefs == nil {
		return nil
	}

	fileHash, err := utils.FileFingerprint(result.ImagePath)
	if err != nil {
		return fmt.Errorf("fingerprinting %s: %w", result.ImagePath, err)
	}

	movement := models.Movement{
		FileHash:          fileHash,
		FileName:          filepath.Base(result.ImagePath),
		ActualCategory:    actualCategory,
		SuggestedCategory: suggestedCategory,
		Style:             result.Style,
		BooruTags:         result.Tags,
	}
	if result.ContentAnalyzed {
		persons := result.PersonsDetected
		movement.PersonsDetected = &persons
	}

	if err := o.prefs.RecordMovement(ctx, movement); err != nil {
		return err
	}

	if result.Style != "" {
		if err := o.prefs.LearnPreference(ctx, "style", result.Style, actualCategory); err != nil {
			return err
		}
	}
	if movement.PersonsDetected != nil {
		value := fmt.Sprintf("%d", *movement.PersonsDetected)
		if err := o.prefs.LearnPreference(ctx, "persons", value, actualCategory); err != nil {
			return err
		}
	}
	for i, tag := range result.Tags {
		if i >= 5 {
			break
		}
		if err := o.prefs.LearnPreference(ctx, "tag", tag, actualCategory); err != nil {
			return err
		}
	}
	return nil
}

// Stats aggregates cache and learning statistics
func (o *Orchestrator) Stats(ctx context.Context) (models.CacheStats, models.LearningStats, error) {
	cacheStats, err := o.searcher.CacheStats()
	if err != nil {
		return cacheStats, models.LearningStats{}, err
	}
	var learningStats models.LearningStats
	if o.prefs != nil {
		learningStats, err = o.prefs.Stats(ctx)
		if err != nil {
			return cacheStats, learningStats, err
		}
	}
	return cacheStats, learningStats, nil
}
