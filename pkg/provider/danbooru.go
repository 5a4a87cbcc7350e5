package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/models"
	"booru-tagger/pkg/utils"
)

const danbooruBaseURL = "https://danbooru.donmai.us"

// postIDPatterns covers the URL shapes reverse-search providers hand back
// for booru posts, most specific first
var postIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`danbooru\.donmai\.us/posts/(\d+)`),
	regexp.MustCompile(`danbooru\.donmai\.us/post/show/(\d+)`),
	regexp.MustCompile(`/posts/(\d+)`),
	regexp.MustCompile(`id=(\d+)`),
}

// ratingNames maps Danbooru's single-letter rating codes to full names
var ratingNames = map[string]string{
	"s": "safe",
	"q": "questionable",
	"e": "explicit",
	"g": "general",
}

// DanbooruClient fetches categorized tags for a matched post. Credentials
// are optional; anonymous access is throttled server-side.
type DanbooruClient struct {
	username   string
	apiKey     string
	httpClient *http.Client
	baseURL    string
	log        *logrus.Entry
}

// NewDanbooru creates the tag-extraction client.
func NewDanbooru(username, apiKey string, httpClient *http.Client, log *logrus.Entry) *DanbooruClient {
	if username != "" && apiKey != "" {
		log.Info("Danbooru client initialized with authentication")
	} else {
		log.Info("Danbooru client initialized without authentication (limited access)")
	}
	return &DanbooruClient{
		username:   username,
		apiKey:     apiKey,
		httpClient: httpClient,
		baseURL:    danbooruBaseURL,
		log:        log,
	}
}

// ExtractPostID pulls the post identifier out of a booru-style URL.
// Returns (0, false) when no pattern matches.
func (d *DanbooruClient) ExtractPostID(sourceURL string) (int64, bool) {
	if sourceURL == "" {
		return 0, false
	}
	for _, pattern := range postIDPatterns {
		if m := pattern.FindStringSubmatch(sourceURL); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			d.log.Debugf("Extracted post ID %d from URL: %s", id, sourceURL)
			return id, true
		}
	}
	d.log.Warnf("Could not extract post ID from URL: %s", sourceURL)
	return 0, false
}

// danbooruPost is the relevant slice of the posts/{id}.json payload.
// Tag strings are space-separated, general tags ranked most relevant first.
type danbooruPost struct {
	TagStringGeneral   string `json:"tag_string_general"`
	TagStringCharacter string `json:"tag_string_character"`
	TagStringCopyright string `json:"tag_string_copyright"`
	TagStringArtist    string `json:"tag_string_artist"`
	Rating             string `json:"rating"`
}

// GetTags retrieves categorized tags for a post, capping general tags at
// maxTags. The source ranks general tags by relevance already, so the list
// is truncated, never re-ranked.
func (d *DanbooruClient) GetTags(ctx context.Context, postID int64, maxTags int) (*models.PostTags, error) {
	endpoint := fmt.Sprintf("%s/posts/%d.json", d.baseURL, postID)
	if d.username != "" && d.apiKey != "" {
		endpoint += "?" + url.Values{"login": {d.username}, "api_key": {d.apiKey}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: post %d: status %d", utils.ErrProviderHTTP, postID, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}

	var post danbooruPost
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("%w: JSON: %w", utils.ErrParsing, err)
	}

	general := strings.Fields(post.TagStringGeneral)
	if maxTags > 0 && len(general) > maxTags {
		general = general[:maxTags]
	}

	rating := post.Rating
	if full, ok := ratingNames[rating]; ok {
		rating = full
	}
	if rating == "" {
		rating = "unknown"
	}

	tags := &models.PostTags{
		General:    general,
		Characters: strings.Fields(post.TagStringCharacter),
		Series:     strings.Fields(post.TagStringCopyright),
		Artists:    strings.Fields(post.TagStringArtist),
		Rating:     rating,
	}

	d.log.Infof("Retrieved tags for post %d: %d general, %d characters, %d series",
		postID, len(tags.General), len(tags.Characters), len(tags.Series))
	return tags, nil
}

// TagsFromURL implements TagExtractor. An unparseable URL yields (nil, nil):
// no tags, not a failure.
func (d *DanbooruClient) TagsFromURL(ctx context.Context, sourceURL string, maxTags int) (*models.PostTags, error) {
	postID, ok := d.ExtractPostID(sourceURL)
	if !ok {
		return nil, nil
	}
	tags, err := d.GetTags(ctx, postID, maxTags)
	if err != nil {
		return nil, fmt.Errorf("fetching tags for post %d: %w", postID, err)
	}
	return tags, nil
}

// IsAuthenticated reports whether credentials were supplied
func (d *DanbooruClient) IsAuthenticated() bool {
	return d.username != "" && d.apiKey != ""
}
