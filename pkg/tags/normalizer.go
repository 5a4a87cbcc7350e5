// Package tags converts raw booru tag vocabulary into structured,
// human-readable, deduplicated tag sets. All transformations are pure and
// stateless.
package tags

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"booru-tagger/pkg/models"
)

// filterTags are meta tags that never describe image content
var filterTags = map[string]struct{}{
	"translation_request":  {},
	"commentary":           {},
	"commentary_request":   {},
	"bad_id":               {},
	"bad_link":             {},
	"md5_mismatch":         {},
	"annotated":            {},
	"check_translation":    {},
	"partially_translated": {},
	"translated":           {},
	"tagme":                {},
	"artist_request":       {},
	"character_request":    {},
	"source_request":       {},
}

// ratingTags are content-rating labels carried separately from content tags
var ratingTags = map[string]struct{}{
	"safe":         {},
	"questionable": {},
	"explicit":     {},
	"sensitive":    {},
}

// characterPattern matches name_(series) style character tags
var characterPattern = regexp.MustCompile(`^(.+?)_?\((.+?)\)`)

// NormalizeGeneralTag converts booru format to readable: blue_eyes -> Blue Eyes.
func NormalizeGeneralTag(tag string) string {
	// cases.Caser carries internal state, so build one per call rather than
	// sharing across goroutines
	return cases.Title(language.English).String(strings.ReplaceAll(tag, "_", " "))
}

// NormalizeCharacterTag parses a character tag of the form name_(series).
// Without a trailing parenthetical the whole tag becomes the name and the
// series stays empty.
func NormalizeCharacterTag(tag string) models.CharacterTag {
	if m := characterPattern.FindStringSubmatch(tag); m != nil {
		return models.CharacterTag{
			Name:   NormalizeGeneralTag(m[1]),
			Series: NormalizeGeneralTag(m[2]),
		}
	}
	return models.CharacterTag{Name: NormalizeGeneralTag(tag)}
}

// FilterTags drops tags that are empty, meta markers, rating labels, shorter
// than 3 characters, purely numeric, or at least 70% numeric by character count.
func FilterTags(tags []string) []string {
	filtered := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		if _, ok := filterTags[tag]; ok {
			continue
		}
		if _, ok := ratingTags[tag]; ok {
			continue
		}
		if len(tag) < 3 {
			continue
		}
		if isNumeric(tag) || digitRatio(tag) > 0.7 {
			continue
		}
		filtered = append(filtered, tag)
	}
	return filtered
}

// NormalizePostTags applies filtering and normalization per category,
// preserving the four-category shape and the rating string. It never fails;
// an empty raw set yields an all-empty result with rating "unknown".
func NormalizePostTags(raw *models.PostTags) models.TagSet {
	if raw == nil {
		return models.TagSet{
			General:    []string{},
			Characters: []models.CharacterTag{},
			Series:     []string{},
			Artists:    []string{},
			Rating:     "unknown",
		}
	}

	general := make([]string, 0, len(raw.General))
	for _, t := range FilterTags(raw.General) {
		general = append(general, NormalizeGeneralTag(t))
	}

	characters := make([]models.CharacterTag, 0, len(raw.Characters))
	for _, t := range raw.Characters {
		characters = append(characters, NormalizeCharacterTag(t))
	}

	series := make([]string, 0, len(raw.Series))
	for _, t := range raw.Series {
		series = append(series, NormalizeGeneralTag(t))
	}

	artists := make([]string, 0, len(raw.Artists))
	for _, t := range raw.Artists {
		artists = append(artists, NormalizeGeneralTag(t))
	}

	rating := raw.Rating
	if rating == "" {
		rating = "unknown"
	}

	return models.TagSet{
		General:    general,
		Characters: characters,
		Series:     series,
		Artists:    artists,
		Rating:     rating,
	}
}

// FlatListOptions selects which sub-collections join the flat tag list
type FlatListOptions struct {
	IncludeCharacters bool
	IncludeSeries     bool
	IncludeArtists    bool
}

// DefaultFlatListOptions includes characters and series but not artists,
// matching what a sidecar tag list usually carries.
func DefaultFlatListOptions() FlatListOptions {
	return FlatListOptions{IncludeCharacters: true, IncludeSeries: true}
}

// ToFlatList concatenates general tags, then optionally character names,
// series names, and artist names, deduplicating while preserving first-seen
// order.
func ToFlatList(ts models.TagSet, opts FlatListOptions) []string {
	out := make([]string, 0, len(ts.General)+len(ts.Characters)+len(ts.Series)+len(ts.Artists))
	out = append(out, ts.General...)

	if opts.IncludeCharacters {
		for _, ch := range ts.Characters {
			out = append(out, ch.Name)
		}
	}
	if opts.IncludeSeries {
		out = append(out, ts.Series...)
	}
	if opts.IncludeArtists {
		out = append(out, ts.Artists...)
	}

	return Dedupe(out)
}

// Dedupe removes duplicates and empty strings while preserving first-seen order.
func Dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	unique := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		unique = append(unique, tag)
	}
	return unique
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func digitRatio(s string) float64 {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return float64(digits) / float64(len(s))
}
