package workflow

import (
	"fmt"
	"strings"

	"booru-tagger/pkg/models"
	"booru-tagger/pkg/tags"
)

// contentTagFloor is the minimum classifier confidence for a content-derived tag
const contentTagFloor = 0.6

// Metadata is the merged tag/description bundle handed to the sidecar
// writer. Rating 0 means unset; 1-5 is a star scale.
type Metadata struct {
	ImagePath   string
	Tags        []string
	Description string
	Rating      int
	SourceURL   string
}

// booruRatingStars maps booru content ratings to the 1-5 star scale
var booruRatingStars = map[string]int{
	"safe":         5,
	"general":      5,
	"sensitive":    4,
	"questionable": 3,
	"explicit":     1,
}

// BuildFromBooru derives metadata from a search-and-tag result. Character
// and series tags become hierarchical (`Naruto/Hinata Hyuga`, `Series/Naruto`)
// so sidecar-aware viewers group them.
func BuildFromBooru(imagePath string, result models.TaggedResult, includeRating bool) Metadata {
	meta := Metadata{ImagePath: imagePath, SourceURL: result.SourceURL}

	if result.Tags != nil {
		all := make([]string, 0, len(result.FlatTags))
		all = append(all, result.Tags.General...)

		for _, ch := range result.Tags.Characters {
			if ch.Name == "" {
				continue
			}
			if ch.Series != "" {
				all = append(all, ch.Series+"/"+ch.Name)
			} else {
				all = append(all, ch.Name)
			}
		}
		for _, s := range result.Tags.Series {
			if s != "" {
				all = append(all, "Series/"+s)
			}
		}
		for _, a := range result.Tags.Artists {
			if a != "" {
				all = append(all, "Artist/"+a)
			}
		}
		meta.Tags = tags.Dedupe(all)

		if includeRating {
			if stars, ok := booruRatingStars[result.Tags.Rating]; ok {
				meta.Rating = stars
			}
		}
	}

	if result.Status == models.SearchStatusSuccess && result.Similarity > 0 && result.SourceSite != "" {
		meta.Description = fmt.Sprintf("Matched via %s (%.1f%% similarity)", result.SourceSite, result.Similarity)
	}

	return meta
}

// BuildFromContentAnalysis derives hierarchical tags from the content
// collaborator's output: Style/<Label>, Contains/<Class>, Persons/<N>.
// Classifications below the confidence floor are dropped.
func BuildFromContentAnalysis(imagePath string, result models.ContentResult) Metadata {
	meta := Metadata{ImagePath: imagePath}

	var built []string
	if result.Style != "" && result.StyleConfidence >= contentTagFloor {
		built = append(built, "Style/"+titleWord(result.Style))
	}
	for _, obj := range result.Objects {
		if obj.Class != "" && obj.Confidence >= contentTagFloor {
			built = append(built, "Contains/"+titleWord(obj.Class))
		}
	}
	if result.PersonsDetected > 0 {
		built = append(built, fmt.Sprintf("Persons/%d", result.PersonsDetected))
	}
	meta.Tags = tags.Dedupe(built)

	var parts []string
	if result.Style != "" {
		parts = append(parts, "Style: "+result.Style)
	}
	if len(result.Objects) > 0 {
		names := make([]string, 0, 3)
		for i, obj := range result.Objects {
			if i >= 3 {
				break
			}
			names = append(names, obj.Class)
		}
		parts = append(parts, "Objects: "+strings.Join(names, ", "))
	}
	if len(parts) > 0 {
		meta.Description = "AI Analysis - " + strings.Join(parts, "; ")
	}

	return meta
}

// MergeMetadata combines metadata from multiple sources: tags are
// concatenated with first-seen-order dedup, scalar fields keep the first
// non-empty value, and a later source may override the image path.
func MergeMetadata(metas ...Metadata) Metadata {
	if len(metas) == 0 {
		return Metadata{}
	}

	merged := metas[0]
	merged.Tags = tags.Dedupe(merged.Tags)

	for _, additional := range metas[1:] {
		merged.Tags = tags.Dedupe(append(merged.Tags, additional.Tags...))

		if merged.Description == "" {
			merged.Description = additional.Description
		}
		if merged.Rating == 0 {
			merged.Rating = additional.Rating
		}
		if merged.SourceURL == "" {
			merged.SourceURL = additional.SourceURL
		}
		if additional.ImagePath != "" {
			merged.ImagePath = additional.ImagePath
		}
	}
	return merged
}

// FilterMetadataTags drops tags with any of the given prefixes and caps the
// count. maxTags <= 0 means no limit.
func FilterMetadataTags(tagList []string, maxTags int, excludePrefixes []string) []string {
	filtered := make([]string, 0, len(tagList))
	for _, tag := range tagList {
		excluded := false
		for _, prefix := range excludePrefixes {
			if strings.HasPrefix(tag, prefix) {
				excluded = true
				break
			}
		}
		if !excluded {
			filtered = append(filtered, tag)
		}
	}
	if maxTags > 0 && len(filtered) > maxTags {
		filtered = filtered[:maxTags]
	}
	return filtered
}

// titleWord uppercases the first rune of a single label
func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
