package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"booru-tagger/pkg/models"
)

func taggedResult() models.TaggedResult {
	return models.TaggedResult{
		Status:     models.SearchStatusSuccess,
		Similarity: 92.5,
		SourceURL:  "https://danbooru.donmai.us/posts/42",
		SourceSite: "Danbooru",
		Tags: &models.TagSet{
			General:    []string{"Blue Eyes", "Smile"},
			Characters: []models.CharacterTag{{Name: "Hinata Hyuga", Series: "Naruto"}, {Name: "Solo Character"}},
			Series:     []string{"Naruto"},
			Artists:    []string{"Some Artist"},
			Rating:     "safe",
		},
		FlatTags: []string{"Blue Eyes", "Smile", "Hinata Hyuga", "Naruto"},
	}
}

func TestBuildFromBooru(t *testing.T) {
	meta := BuildFromBooru("/img/a.jpg", taggedResult(), true)

	assert.Equal(t, "/img/a.jpg", meta.ImagePath)
	assert.Contains(t, meta.Tags, "Blue Eyes")
	assert.Contains(t, meta.Tags, "Naruto/Hinata Hyuga", "character with series becomes hierarchical")
	assert.Contains(t, meta.Tags, "Solo Character", "character without series stays flat")
	assert.Contains(t, meta.Tags, "Series/Naruto")
	assert.Contains(t, meta.Tags, "Artist/Some Artist")
	assert.Equal(t, 5, meta.Rating, "safe maps to five stars")
	assert.Equal(t, "Matched via Danbooru (92.5% similarity)", meta.Description)
	assert.Equal(t, "https://danbooru.donmai.us/posts/42", meta.SourceURL)
}

func TestBuildFromBooru_RatingExcluded(t *testing.T) {
	meta := BuildFromBooru("/img/a.jpg", taggedResult(), false)
	assert.Equal(t, 0, meta.Rating)
}

func TestBuildFromBooru_ExplicitRating(t *testing.T) {
	result := taggedResult()
	result.Tags.Rating = "explicit"
	meta := BuildFromBooru("/img/a.jpg", result, true)
	assert.Equal(t, 1, meta.Rating)
}

func TestBuildFromBooru_UnknownRatingStaysUnset(t *testing.T) {
	result := taggedResult()
	result.Tags.Rating = "unknown"
	meta := BuildFromBooru("/img/a.jpg", result, true)
	assert.Equal(t, 0, meta.Rating)
}

func TestBuildFromContentAnalysis(t *testing.T) {
	result := models.ContentResult{
		Status:          models.ContentStatusSuccess,
		Style:           "anime",
		StyleConfidence: 0.9,
		PersonsDetected: 2,
		Objects: []models.DetectedObject{
			{Class: "cat", Confidence: 0.8},
			{Class: "tree", Confidence: 0.3}, // Below the floor
		},
	}

	meta := BuildFromContentAnalysis("/img/a.jpg", result)

	assert.Contains(t, meta.Tags, "Style/Anime")
	assert.Contains(t, meta.Tags, "Contains/Cat")
	assert.NotContains(t, meta.Tags, "Contains/Tree")
	assert.Contains(t, meta.Tags, "Persons/2")
	assert.Contains(t, meta.Description, "AI Analysis")
}

func TestBuildFromContentAnalysis_LowStyleConfidence(t *testing.T) {
	result := models.ContentResult{
		Status:          models.ContentStatusSuccess,
		Style:           "photo",
		StyleConfidence: 0.4,
	}

	meta := BuildFromContentAnalysis("/img/a.jpg", result)
	assert.Empty(t, meta.Tags)
}

func TestMergeMetadata(t *testing.T) {
	booru := Metadata{
		ImagePath:   "/img/a.jpg",
		Tags:        []string{"Blue Eyes", "Smile"},
		Description: "Matched via Danbooru (92.5% similarity)",
		Rating:      5,
		SourceURL:   "https://danbooru.donmai.us/posts/42",
	}
	content := Metadata{
		ImagePath:   "/img/a.jpg",
		Tags:        []string{"Smile", "Style/Anime"},
		Description: "AI Analysis - Style: anime",
	}

	merged := MergeMetadata(booru, content)

	assert.Equal(t, []string{"Blue Eyes", "Smile", "Style/Anime"}, merged.Tags, "overlapping tags deduplicate, first-seen order")
	assert.Equal(t, booru.Description, merged.Description, "first non-empty description wins")
	assert.Equal(t, 5, merged.Rating)
	assert.Equal(t, booru.SourceURL, merged.SourceURL)
}

func TestMergeMetadata_LaterFillsBlanks(t *testing.T) {
	first := Metadata{ImagePath: "/img/a.jpg", Tags: []string{"A"}}
	second := Metadata{ImagePath: "/img/a.jpg", Tags: []string{"B"}, Description: "from content", Rating: 4}

	merged := MergeMetadata(first, second)

	assert.Equal(t, "from content", merged.Description)
	assert.Equal(t, 4, merged.Rating)
}

func TestMergeMetadata_Empty(t *testing.T) {
	assert.Equal(t, Metadata{}, MergeMetadata())
}

func TestFilterMetadataTags(t *testing.T) {
	tagList := []string{"Blue Eyes", "Artist/Some Artist", "Smile", "Style/Anime"}

	filtered := FilterMetadataTags(tagList, 0, []string{"Artist/"})
	assert.Equal(t, []string{"Blue Eyes", "Smile", "Style/Anime"}, filtered)

	capped := FilterMetadataTags(tagList, 2, nil)
	assert.Equal(t, []string{"Blue Eyes", "Artist/Some Artist"}, capped)
}
