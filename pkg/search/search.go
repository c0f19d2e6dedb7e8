// Package search provides web search for the agent's search tool. Two
// providers are supported: the Bing Web Search API and Google Programmable
// Search; config selects one at startup.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

const (
	bingEndpoint   = "https://api.bing.microsoft.com/v7.0/search"
	googleEndpoint = "https://www.googleapis.com/customsearch/v1"

	defaultMaxResults = 10
	requestTimeout    = 15 * time.Second
)

// Options tune one search request. The zero value means provider defaults.
type Options struct {
	// MaxResults caps returned hits; <= 0 uses the provider default.
	MaxResults int
	// Recency restricts hit age: one of "day", "week", "month", "year" or
	// empty for no restriction.
	Recency string
}

// Provider runs one web search and returns ranked hits.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]*models.SearchResult, error)
}

// NewProvider builds the configured search provider. Missing credentials
// are an error at startup rather than per query.
func NewProvider(settings *config.Settings) (Provider, error) {
	switch settings.SearchProvider {
	case "bing":
		if settings.BingSearchAPIKey == "" {
			return nil, fmt.Errorf("search provider bing requires BING_SEARCH_API_KEY")
		}
		return &bingProvider{apiKey: settings.BingSearchAPIKey, http: newHTTPClient()}, nil
	case "google":
		if settings.GoogleSearchAPIKey == "" || settings.GoogleSearchEngineID == "" {
			return nil, fmt.Errorf("search provider google requires GOOGLE_SEARCH_API_KEY and GOOGLE_SEARCH_ENGINE_ID")
		}
		return &googleProvider{
			apiKey:   settings.GoogleSearchAPIKey,
			engineID: settings.GoogleSearchEngineID,
			http:     newHTTPClient(),
		}, nil
	case "":
		return nil, fmt.Errorf("no search provider configured")
	default:
		return nil, fmt.Errorf("unknown search provider %q", settings.SearchProvider)
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

type bingProvider struct {
	apiKey string
	http   *http.Client
}

// bingFreshness maps recency options to the Bing freshness parameter. Bing
// has no year-scoped freshness; "year" searches unrestricted.
var bingFreshness = map[string]string{
	"day":   "Day",
	"week":  "Week",
	"month": "Month",
}

func (p *bingProvider) Search(ctx context.Context, query string, opts Options) ([]*models.SearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))
	params.Set("textDecorations", "false")
	if freshness, ok := bingFreshness[opts.Recency]; ok {
		params.Set("freshness", freshness)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bingEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.apiKey)

	body, err := doJSON(p.http, req)
	if err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}

	var payload struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("bing search: decode response: %w", err)
	}

	results := make([]*models.SearchResult, 0, len(payload.WebPages.Value))
	for _, v := range payload.WebPages.Value {
		results = append(results, &models.SearchResult{
			Title:   v.Name,
			URL:     v.URL,
			Snippet: v.Snippet,
		})
	}
	return results, nil
}

type googleProvider struct {
	apiKey   string
	engineID string
	http     *http.Client
}

// googleDateRestrict maps recency options to the customsearch dateRestrict
// parameter.
var googleDateRestrict = map[string]string{
	"day":   "d1",
	"week":  "w1",
	"month": "m1",
	"year":  "y1",
}

func (p *googleProvider) Search(ctx context.Context, query string, opts Options) ([]*models.SearchResult, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	// The customsearch API caps num at 10 per request.
	if maxResults > 10 {
		maxResults = 10
	}
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("cx", p.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))
	if restrict, ok := googleDateRestrict[opts.Recency]; ok {
		params.Set("dateRestrict", restrict)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}

	body, err := doJSON(p.http, req)
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}

	var payload struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("google search: decode response: %w", err)
	}

	results := make([]*models.SearchResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, &models.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}

func doJSON(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
