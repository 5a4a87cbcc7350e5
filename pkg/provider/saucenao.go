package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/cache"
	"booru-tagger/pkg/models"
	"booru-tagger/pkg/ratelimit"
	"booru-tagger/pkg/utils"
)

const saucenaoEndpoint = "https://saucenao.com/search.php"

// SauceNAOClient is the primary reverse-search adapter. The result cache and
// the rate limiter live inside this client: a cache hit short-circuits both
// rate limiting and network I/O, and only live network calls count against
// the window.
type SauceNAOClient struct {
	apiKey        string
	minSimilarity float64
	httpClient    *http.Client
	cache         *cache.ResultCache
	limiter       *ratelimit.Limiter
	endpoint      string
	log           *logrus.Entry
}

// NewSauceNAO creates the primary search adapter. cache may be nil to
// disable caching (used by tests); limiter must not be nil.
func NewSauceNAO(apiKey string, minSimilarity float64, httpClient *http.Client,
	resultCache *cache.ResultCache, limiter *ratelimit.Limiter, log *logrus.Entry) *SauceNAOClient {

	if apiKey == "" {
		log.Warn("SauceNAO client initialized without API key; anonymous quota is small")
	} else {
		log.Info("SauceNAO client initialized with API key")
	}
	return &SauceNAOClient{
		apiKey:        apiKey,
		minSimilarity: minSimilarity,
		httpClient:    httpClient,
		cache:         resultCache,
		limiter:       limiter,
		endpoint:      saucenaoEndpoint,
		log:           log,
	}
}

// Name implements Searcher
func (s *SauceNAOClient) Name() string { return "SauceNAO" }

// saucenaoResponse mirrors the relevant slice of the output_type=2 JSON shape
type saucenaoResponse struct {
	Header struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"header"`
	Results []struct {
		Header struct {
			Similarity string `json:"similarity"`
			Thumbnail  string `json:"thumbnail"`
			IndexName  string `json:"index_name"`
		} `json:"header"`
		Data struct {
			ExtURLs []string `json:"ext_urls"`
		} `json:"data"`
	} `json:"results"`
}

// SearchImage implements Searcher. The flow is: fingerprint, cache check,
// rate-limit acquire, network call, floor check, cache write. Errors are
// never cached.
func (s *SauceNAOClient) SearchImage(ctx context.Context, imagePath string, minSimilarity float64) models.SearchResult {
	if minSimilarity <= 0 {
		minSimilarity = s.minSimilarity
	}

	// Cache check before any network activity. A fingerprint failure only
	// disables caching for this image, it does not fail the search.
	fingerprint := ""
	if s.cache != nil {
		fp, err := utils.FileFingerprint(imagePath)
		if err != nil {
			s.log.Warnf("Fingerprint failed for %s: %v", imagePath, err)
		} else {
			fingerprint = fp
			if cached, ok := s.cache.Get(fingerprint); ok {
				s.log.Debugf("Cache hit for %s", filepath.Base(imagePath))
				return cached
			}
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return errorResult(s.Name(), fmt.Sprintf("rate limit wait interrupted: %v", err))
	}

	s.log.Infof("Searching SauceNAO for: %s", filepath.Base(imagePath))
	result := s.doSearch(ctx, imagePath, minSimilarity)

	// Errors are never cached; success and no_match are
	if fingerprint != "" && result.Status != models.SearchStatusError {
		s.cache.Set(fingerprint, result)
	}
	return result
}

func (s *SauceNAOClient) doSearch(ctx context.Context, imagePath string, minSimilarity float64) models.SearchResult {
	body, contentType, err := s.buildUpload(imagePath)
	if err != nil {
		return errorResult(s.Name(), err.Error())
	}

	url := s.endpoint + "?output_type=2&numres=5"
	if s.apiKey != "" {
		url += "&api_key=" + s.apiKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return errorResult(s.Name(), fmt.Sprintf("%v: %v", utils.ErrRequestCreation, err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errorResult(s.Name(), err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorResult(s.Name(), fmt.Sprintf("%v: status %d", utils.ErrProviderHTTP, resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errorResult(s.Name(), fmt.Sprintf("%v: %v", utils.ErrResponseBodyRead, err))
	}

	var parsed saucenaoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return errorResult(s.Name(), fmt.Sprintf("%v: JSON: %v", utils.ErrParsing, err))
	}
	if parsed.Header.Status != 0 {
		return errorResult(s.Name(), fmt.Sprintf("%v: api status %d: %s",
			utils.ErrProviderResponse, parsed.Header.Status, parsed.Header.Message))
	}

	if len(parsed.Results) == 0 {
		s.log.Infof("No match found for %s", filepath.Base(imagePath))
		return models.SearchResult{Status: models.SearchStatusNoMatch}
	}

	// Results arrive sorted by similarity, best first
	best := parsed.Results[0]
	similarity, err := strconv.ParseFloat(best.Header.Similarity, 64)
	if err != nil {
		s.log.Warnf("Could not parse similarity %q for %s", best.Header.Similarity, filepath.Base(imagePath))
		similarity = 0
	}

	if similarity < minSimilarity {
		s.log.Infof("Match below threshold for %s: %.1f%% < %.1f%%",
			filepath.Base(imagePath), similarity, minSimilarity)
		return models.SearchResult{Status: models.SearchStatusNoMatch, Similarity: similarity}
	}

	sourceURL := ""
	if len(best.Data.ExtURLs) > 0 {
		sourceURL = best.Data.ExtURLs[0]
	}
	if sourceURL == "" {
		// A "match" we cannot point at is useless downstream; status success
		// requires a source URL
		return models.SearchResult{Status: models.SearchStatusNoMatch, Similarity: similarity}
	}

	s.log.Infof("Match found for %s: %.1f%% on %s",
		filepath.Base(imagePath), similarity, best.Header.IndexName)

	return models.SearchResult{
		Status:       models.SearchStatusSuccess,
		Similarity:   similarity,
		SourceURL:    sourceURL,
		SourceSite:   best.Header.IndexName,
		ThumbnailURL: best.Header.Thumbnail,
	}
}

// buildUpload assembles the multipart body with the image file
func (s *SauceNAOClient) buildUpload(imagePath string) (io.Reader, string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("%w: open %s: %w", utils.ErrFilesystem, imagePath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, "", fmt.Errorf("%w: multipart: %w", utils.ErrRequestCreation, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %w", utils.ErrFilesystem, imagePath, err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("%w: multipart: %w", utils.ErrRequestCreation, err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// LimiterStats exposes the rate limiter's snapshot for diagnostics
func (s *SauceNAOClient) LimiterStats() models.LimiterStats {
	return s.limiter.Stats()
}
