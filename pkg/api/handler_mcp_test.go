package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/config"
)

func testMCPServer(t *testing.T) *Server {
	t.Helper()
	return &Server{
		settings: &config.Settings{MCPConfigPath: filepath.Join(t.TempDir(), "mcp.json")},
		logger:   slog.Default(),
	}
}

func TestGetMCPConfigHandler_Empty(t *testing.T) {
	s := testMCPServer(t)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/mcp/config", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.getMCPConfigHandler(c))

	var resp MCPSettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Empty(t, resp.APIKeys.SearchAPIKey)
	require.Len(t, resp.Servers, 4)

	search := resp.Servers[config.BigModelSearch]
	require.NotNil(t, search)
	assert.Equal(t, "BigModel Search", search.Title)
	assert.False(t, search.Enabled)
	assert.False(t, search.Configured)

	// Vision ships disabled until the user opts in, key or not.
	vision := resp.Servers[config.BigModelVision]
	require.NotNil(t, vision)
	assert.Equal(t, "stdio", vision.Transport)
	assert.False(t, vision.Enabled)
}

func TestUpdateMCPConfigHandler(t *testing.T) {
	s := testMCPServer(t)

	doPut := func(body string) MCPSettingsResponse {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPut, "/api/v1/mcp/config", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		require.NoError(t, s.updateMCPConfigHandler(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp MCPSettingsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	resp := doPut(`{"search_api_key":"sk-search"}`)
	assert.Equal(t, "sk-search", resp.APIKeys.SearchAPIKey)
	assert.True(t, resp.Servers[config.BigModelSearch].Enabled)
	assert.True(t, resp.Servers[config.BigModelSearch].Configured)

	// The key survives a round trip through the config file.
	data, err := os.ReadFile(s.settings.MCPConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bearer sk-search")

	// Absent keys keep their current values; present keys replace them.
	resp = doPut(`{"reader_api_key":"sk-reader"}`)
	assert.Equal(t, "sk-search", resp.APIKeys.SearchAPIKey)
	assert.Equal(t, "sk-reader", resp.APIKeys.ReaderAPIKey)

	// An explicit empty string clears the key and disables the server.
	resp = doPut(`{"search_api_key":""}`)
	assert.Empty(t, resp.APIKeys.SearchAPIKey)
	assert.False(t, resp.Servers[config.BigModelSearch].Enabled)
	assert.Equal(t, "sk-reader", resp.APIKeys.ReaderAPIKey)
}
