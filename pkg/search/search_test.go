package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/config"
)

// testTransport redirects the provider's fixed endpoint to the test server.
type testTransport struct {
	server *httptest.Server
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	parsed, _ := url.Parse(t.server.URL)
	req.URL.Scheme = parsed.Scheme
	req.URL.Host = parsed.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testHTTPClient(server *httptest.Server) *http.Client {
	return &http.Client{Transport: &testTransport{server: server}}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		settings config.Settings
		wantErr  string
	}{
		{
			name:     "bing",
			settings: config.Settings{SearchProvider: "bing", BingSearchAPIKey: "k"},
		},
		{
			name:     "bing without a key",
			settings: config.Settings{SearchProvider: "bing"},
			wantErr:  "BING_SEARCH_API_KEY",
		},
		{
			name: "google",
			settings: config.Settings{
				SearchProvider: "google", GoogleSearchAPIKey: "k", GoogleSearchEngineID: "cx",
			},
		},
		{
			name:     "google without an engine id",
			settings: config.Settings{SearchProvider: "google", GoogleSearchAPIKey: "k"},
			wantErr:  "GOOGLE_SEARCH_ENGINE_ID",
		},
		{
			name:     "unset",
			settings: config.Settings{},
			wantErr:  "no search provider configured",
		},
		{
			name:     "unknown",
			settings: config.Settings{SearchProvider: "duckduckgo"},
			wantErr:  "unknown search provider",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(&tt.settings)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, provider)
		})
	}
}

func TestBingProvider_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("maps hits and sends the subscription key", func(t *testing.T) {
		var gotQuery url.Values
		var gotKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
			_, _ = w.Write([]byte(`{"webPages":{"value":[
				{"name":"Nginx docs","url":"https://nginx.org","snippet":"Official docs"},
				{"name":"Tuning guide","url":"https://example.com/tuning","snippet":"Worker processes"}
			]}}`))
		}))
		defer server.Close()

		provider := &bingProvider{apiKey: "bing-key", http: testHTTPClient(server)}
		results, err := provider.Search(ctx, "nginx tuning", Options{MaxResults: 3, Recency: "week"})
		require.NoError(t, err)

		assert.Equal(t, "bing-key", gotKey)
		assert.Equal(t, "nginx tuning", gotQuery.Get("q"))
		assert.Equal(t, "3", gotQuery.Get("count"))
		assert.Equal(t, "Week", gotQuery.Get("freshness"))

		require.Len(t, results, 2)
		assert.Equal(t, "Nginx docs", results[0].Title)
		assert.Equal(t, "https://nginx.org", results[0].URL)
		assert.Equal(t, "Worker processes", results[1].Snippet)
	})

	t.Run("year recency searches unrestricted", func(t *testing.T) {
		var gotQuery url.Values
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		provider := &bingProvider{apiKey: "k", http: testHTTPClient(server)}
		results, err := provider.Search(ctx, "anything", Options{Recency: "year"})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.False(t, gotQuery.Has("freshness"))
		assert.Equal(t, "10", gotQuery.Get("count")) // provider default
	})

	t.Run("non-200 responses become errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("quota exceeded"))
		}))
		defer server.Close()

		provider := &bingProvider{apiKey: "k", http: testHTTPClient(server)}
		_, err := provider.Search(ctx, "anything", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 403")
		assert.Contains(t, err.Error(), "quota exceeded")
	})

	t.Run("garbage body is a decode error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>nope</html>"))
		}))
		defer server.Close()

		provider := &bingProvider{apiKey: "k", http: testHTTPClient(server)}
		_, err := provider.Search(ctx, "anything", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode response")
	})
}

func TestGoogleProvider_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("maps items and caps num at 10", func(t *testing.T) {
		var gotQuery url.Values
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			_, _ = w.Write([]byte(`{"items":[
				{"title":"Postgres VACUUM","link":"https://postgresql.org/vacuum","snippet":"autovacuum"}
			]}`))
		}))
		defer server.Close()

		provider := &googleProvider{apiKey: "g-key", engineID: "cx-1", http: testHTTPClient(server)}
		results, err := provider.Search(ctx, "postgres vacuum", Options{MaxResults: 25, Recency: "month"})
		require.NoError(t, err)

		assert.Equal(t, "g-key", gotQuery.Get("key"))
		assert.Equal(t, "cx-1", gotQuery.Get("cx"))
		assert.Equal(t, "postgres vacuum", gotQuery.Get("q"))
		assert.Equal(t, "10", gotQuery.Get("num"))
		assert.Equal(t, "m1", gotQuery.Get("dateRestrict"))

		require.Len(t, results, 1)
		assert.Equal(t, "Postgres VACUUM", results[0].Title)
		assert.Equal(t, "https://postgresql.org/vacuum", results[0].URL)
		assert.Equal(t, "autovacuum", results[0].Snippet)
	})

	t.Run("no items yields an empty slice", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer server.Close()

		provider := &googleProvider{apiKey: "k", engineID: "cx", http: testHTTPClient(server)}
		results, err := provider.Search(ctx, "anything", Options{})
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
}