package unsplash

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"scene-sync/internal/models"

	cache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.unsplash.com"
	perPage        = 20

	// the demo tier allows 50 requests per hour
	requestsPerSecond = 50.0 / 3600
	requestBurst      = 10

	resultTTL = 10 * time.Minute
)

// Client searches photos for the image browser. It never fails: every
// problem is logged and reported as no results.
type Client struct {
	AccessKey string
	BaseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	results   *cache.Cache
}

// NewClient creates a search client. An empty key is allowed and makes
// every search return nothing.
func NewClient(accessKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		AccessKey: accessKey,
		BaseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(requestsPerSecond, requestBurst),
		results:   cache.New(resultTTL, 2*resultTTL),
	}
}

type searchResponse struct {
	Results []struct {
		ID             string `json:"id"`
		AltDescription string `json:"alt_description"`
		URLs           struct {
			Regular string `json:"regular"`
			Small   string `json:"small"`
		} `json:"urls"`
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Links struct {
			HTML string `json:"html"`
		} `json:"links"`
	} `json:"results"`
}

// Search returns one page of photos matching query
func (c *Client) Search(ctx context.Context, query string, page int) []models.ImageResult {
	if c.AccessKey == "" {
		log.Printf("⚠️  Unsplash access key is missing, image search disabled")
		return []models.ImageResult{}
	}
	if page < 1 {
		page = 1
	}

	cacheKey := query + "\x00" + strconv.Itoa(page)
	if hit, ok := c.results.Get(cacheKey); ok {
		return hit.([]models.ImageResult)
	}

	if !c.limiter.Allow() {
		log.Printf("⚠️  Unsplash search rate limited (query=%q)", query)
		return []models.ImageResult{}
	}

	results, err := c.search(ctx, query, page)
	if err != nil {
		log.Printf("⚠️  Unsplash search failed: %v", err)
		return []models.ImageResult{}
	}

	c.results.SetDefault(cacheKey, results)
	return results
}

func (c *Client) search(ctx context.Context, query string, page int) ([]models.ImageResult, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("client_id", c.AccessKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/search/photos?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept-Version", "v1")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]models.ImageResult, 0, len(searchResp.Results))
	for _, img := range searchResp.Results {
		results = append(results, models.ImageResult{
			ID:    img.ID,
			URL:   img.URLs.Regular,
			Thumb: img.URLs.Small,
			Alt:   img.AltDescription,
			User:  img.User.Name,
			Link:  img.Links.HTML,
		})
	}
	return results, nil
}
