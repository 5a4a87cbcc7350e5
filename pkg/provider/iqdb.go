package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/models"
	"booru-tagger/pkg/utils"
)

const iqdbEndpoint = "https://iqdb.org/"

var similarityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)%\s+similarity`)

// IQDBClient is the fallback reverse-search adapter. IQDB has no JSON API;
// results are scraped from the returned HTML page. The fallback's own
// backend rate limits are not modeled here.
type IQDBClient struct {
	minSimilarity float64
	httpClient    *http.Client
	endpoint      string
	log           *logrus.Entry
}

// NewIQDB creates the fallback search adapter.
func NewIQDB(minSimilarity float64, httpClient *http.Client, log *logrus.Entry) *IQDBClient {
	log.Infof("IQDB client initialized (min similarity: %.0f%%)", minSimilarity)
	return &IQDBClient{
		minSimilarity: minSimilarity,
		httpClient:    httpClient,
		endpoint:      iqdbEndpoint,
		log:           log,
	}
}

// Name implements Searcher
func (c *IQDBClient) Name() string { return "IQDB" }

// SearchImage implements Searcher
func (c *IQDBClient) SearchImage(ctx context.Context, imagePath string, minSimilarity float64) models.SearchResult {
	if minSimilarity <= 0 {
		minSimilarity = c.minSimilarity
	}

	c.log.Infof("Searching IQDB for: %s", filepath.Base(imagePath))

	doc, errMsg := c.fetchResultPage(ctx, imagePath)
	if errMsg != "" {
		return errorResult(c.Name(), errMsg)
	}

	return c.parseBestMatch(doc, imagePath, minSimilarity)
}

func (c *IQDBClient) fetchResultPage(ctx context.Context, imagePath string) (*goquery.Document, string) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Sprintf("%v: open %s: %v", utils.ErrFilesystem, imagePath, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, fmt.Sprintf("%v: multipart: %v", utils.ErrRequestCreation, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Sprintf("%v: read %s: %v", utils.ErrFilesystem, imagePath, err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Sprintf("%v: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("%v: status %d", utils.ErrProviderHTTP, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Sprintf("%v: HTML: %v", utils.ErrParsing, err)
	}
	return doc, ""
}

// parseBestMatch extracts the "Best match" block from the results page
func (c *IQDBClient) parseBestMatch(doc *goquery.Document, imagePath string, minSimilarity float64) models.SearchResult {
	if strings.Contains(doc.Text(), "No relevant matches") {
		c.log.Infof("No match found on IQDB for %s", filepath.Base(imagePath))
		return models.SearchResult{Status: models.SearchStatusNoMatch, SourceSite: c.Name()}
	}

	var table *goquery.Selection
	doc.Find("th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if strings.TrimSpace(th.Text()) == "Best match" {
			table = th.Closest("table")
			return false
		}
		return true
	})
	if table == nil {
		c.log.Infof("No best-match block on IQDB for %s", filepath.Base(imagePath))
		return models.SearchResult{Status: models.SearchStatusNoMatch, SourceSite: c.Name()}
	}

	similarity := 0.0
	if m := similarityPattern.FindStringSubmatch(table.Text()); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			similarity = v
		}
	} else {
		c.log.Warnf("Could not parse similarity for %s", filepath.Base(imagePath))
	}

	if similarity < minSimilarity {
		c.log.Infof("Match below threshold for %s: %.1f%% < %.1f%%",
			filepath.Base(imagePath), similarity, minSimilarity)
		return models.SearchResult{
			Status:     models.SearchStatusNoMatch,
			Similarity: similarity,
			SourceSite: c.Name(),
		}
	}

	link := table.Find("td.image a")
	href, _ := link.Attr("href")
	href = absoluteURL(href)
	if href == "" {
		return models.SearchResult{
			Status:     models.SearchStatusNoMatch,
			Similarity: similarity,
			SourceSite: c.Name(),
		}
	}

	thumbnail := ""
	if src, ok := link.Find("img").Attr("src"); ok {
		thumbnail = absoluteURL(src)
	}

	c.log.Infof("Match found on IQDB for %s: %.1f%%", filepath.Base(imagePath), similarity)
	return models.SearchResult{
		Status:       models.SearchStatusSuccess,
		Similarity:   similarity,
		SourceURL:    href,
		SourceSite:   c.Name(),
		ThumbnailURL: thumbnail,
	}
}

// absoluteURL resolves IQDB's protocol-relative links
func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
