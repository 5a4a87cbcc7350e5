package models

import "time"

// SearchResult is the normalized outcome of one reverse-image-search attempt.
// Adapters populate this shape at their boundary regardless of how the
// backend reports matches. SourceURL is non-empty iff Status is success.
type SearchResult struct {
	Status       SearchStatus `json:"status"`
	Similarity   float64      `json:"similarity"` // 0-100
	SourceURL    string       `json:"source_url,omitempty"`
	SourceSite   string       `json:"source_site,omitempty"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"` // Present iff Status is error
}

// PostTags holds raw categorized tags fetched from the originating booru post.
// General tags arrive ranked most-relevant-first and are truncated, not
// re-ranked, by the adapter.
type PostTags struct {
	General    []string `json:"general"`
	Characters []string `json:"characters"`
	Series     []string `json:"series"`
	Artists    []string `json:"artists"`
	Rating     string   `json:"rating"`
}

// CharacterTag is a parsed character tag: name plus optional originating series
type CharacterTag struct {
	Name   string `json:"name"`
	Series string `json:"series,omitempty"`
}

// TagSet is the normalized, human-readable tag bundle for one matched post
type TagSet struct {
	General    []string       `json:"general"`
	Characters []CharacterTag `json:"characters"`
	Series     []string       `json:"series"`
	Artists    []string       `json:"artists"`
	Rating     string         `json:"rating"`
}

// TaggedResult is the full outcome of a search-and-tag operation
type TaggedResult struct {
	Status       SearchStatus `json:"status"`
	Similarity   float64      `json:"similarity"`
	SourceURL    string       `json:"source_url,omitempty"`
	SourceSite   string       `json:"source_site,omitempty"`
	Tags         *TagSet      `json:"tags,omitempty"`
	RawTags      *PostTags    `json:"raw_tags,omitempty"`
	FlatTags     []string     `json:"flat_tags,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// DetectedObject is one object-detector hit from the content-analysis collaborator
type DetectedObject struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// ContentResult is the opaque output of the content-analysis collaborator
type ContentResult struct {
	Status          ContentStatus    `json:"status"`
	Style           string           `json:"style,omitempty"`
	StyleConfidence float64          `json:"style_confidence,omitempty"`
	PersonsDetected int              `json:"persons_detected"`
	Objects         []DetectedObject `json:"objects,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
}

// CacheStats reports the result cache's current state
type CacheStats struct {
	TotalEntries   int           `json:"total_entries"`
	ValidEntries   int           `json:"valid_entries"`
	ExpiredEntries int           `json:"expired_entries"`
	TTL            time.Duration `json:"ttl"`
}

// LimiterStats is a non-mutating snapshot of the rate limiter's window
type LimiterStats struct {
	CurrentRequests int           `json:"current_requests"` // Count after eviction
	MaxRequests     int           `json:"max_requests"`
	Window          time.Duration `json:"window"`
	CanMakeRequest  bool          `json:"can_make_request"`
}

// Preference is a learned (pattern -> category) association
type Preference struct {
	PatternKey   string    `json:"pattern_key"`
	PatternValue string    `json:"pattern_value"`
	Category     string    `json:"category"`
	Confidence   float64   `json:"confidence"`
	SampleCount  int       `json:"sample_count"`
	LastUpdated  time.Time `json:"last_updated,omitempty"`
}

// Suggestion is a category suggestion derived from learned preferences
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"` // e.g. "style:anime" or "tag:Blue Eyes"
}

// Movement describes one file's final categorization outcome for the
// append-only audit log
type Movement struct {
	FileHash          string   `json:"file_hash"`
	FileName          string   `json:"file_name"`
	ActualCategory    string   `json:"actual_category"`
	SuggestedCategory string   `json:"suggested_category,omitempty"`
	Style             string   `json:"style,omitempty"`
	PersonsDetected   *int     `json:"persons_detected,omitempty"`
	BooruTags         []string `json:"booru_tags,omitempty"`
}

// Correction aggregates how often a suggested category was corrected to another
type Correction struct {
	FromCategory string `json:"from_category"`
	ToCategory   string `json:"to_category"`
	Count        int    `json:"count"`
}

// LearningStats reports preference-store counters
type LearningStats struct {
	TotalMovements            int `json:"total_movements"`
	TotalPreferences          int `json:"total_preferences"`
	HighConfidencePreferences int `json:"high_confidence_preferences"`
}

// ImageResult is the outcome of processing a single image through the workflow
type ImageResult struct {
	ImagePath       string        `json:"image_path"`
	Status          ProcessStatus `json:"status"`
	BooruMatch      bool          `json:"booru_match"`
	Similarity      float64       `json:"similarity,omitempty"`
	ContentAnalyzed bool          `json:"content_analyzed"`
	Style           string        `json:"style,omitempty"`
	PersonsDetected int           `json:"persons_detected,omitempty"`
	SidecarWritten  bool          `json:"sidecar_written"`
	Tags            []string      `json:"tags,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
}

// BatchSummary reports the outcome of one batch run so a caller can assess
// partial completion without inspecting every item
type BatchSummary struct {
	BatchID  string        `json:"batch_id"`
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Skipped  int           `json:"skipped"`
	NoTags   int           `json:"no_tags"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
	Results  []ImageResult `json:"results"`
}
