package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

// emptySchema is a minimal valid JSON Schema for test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer creates an in-memory MCP server with the given tools and
// runs it in the background.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

// newTestManager builds a Manager with pre-connected in-memory sessions,
// bypassing createTransport.
func newTestManager(t *testing.T, servers map[string]map[string]mcpsdk.ToolHandler) *Manager {
	t.Helper()

	manager := NewManager(&models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{}})
	for serverName, tools := range servers {
		transport := startTestServer(t, serverName, tools)

		client := mcpsdk.NewClient(&mcpsdk.Implementation{
			Name: "steward-test", Version: "test",
		}, nil)
		session, err := client.Connect(context.Background(), transport, nil)
		require.NoError(t, err)

		listed, err := session.ListTools(context.Background(), nil)
		require.NoError(t, err)

		manager.InjectSession(serverName, session, listed.Tools)
	}
	t.Cleanup(manager.Close)
	return manager
}

func echoHandler(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var parsed map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &parsed); err != nil {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "parse error: " + err.Error()}},
			IsError: true,
		}, nil
	}
	raw, _ := json.Marshal(parsed)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil
}

func staticHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func TestManagerTools(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {
			"forecast": staticHandler("sunny"),
			"alerts":   staticHandler("none"),
		},
	})

	tools := manager.Tools()
	require.Len(t, tools, 2)

	// Sorted by exposed name.
	assert.Equal(t, "mcp_weather_alerts", tools[0].Name)
	assert.Equal(t, "mcp_weather_forecast", tools[1].Name)
	assert.Equal(t, "[weather] test tool: alerts", tools[0].Description)
	assert.Equal(t, "object", tools[0].Schema["type"])
}

func TestManagerToolsPrefixedServer(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"mcp_everything": {"echo": staticHandler("ok")},
	})

	tools := manager.Tools()
	require.Len(t, tools, 1)
	// A server already named mcp_* is not double-prefixed.
	assert.Equal(t, "mcp_everything_echo", tools[0].Name)
}

func TestManagerCallTool(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {"forecast": staticHandler("sunny with a chance of packets")},
	})

	result := manager.CallTool(context.Background(), "mcp_weather_forecast", map[string]any{"city": "Brno"})
	require.True(t, result.Success)
	assert.Equal(t, "sunny with a chance of packets", result.Message)
	assert.Equal(t, "sunny with a chance of packets", result.Data["result"])
}

func TestManagerCallToolDecodesNestedJSON(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {"forecast": staticHandler(`{"temp": 21, "sky": "clear"}`)},
	})

	result := manager.CallTool(context.Background(), "mcp_weather_forecast", nil)
	require.True(t, result.Success)

	decoded, ok := result.Data["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(21), decoded["temp"])
	assert.Equal(t, "clear", decoded["sky"])
}

func TestManagerCallToolUnresolvableName(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {"forecast": staticHandler("sunny")},
	})

	result := manager.CallTool(context.Background(), "mcp_unknown_server_tool", nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "cannot resolve MCP tool name")
}

func TestManagerCallToolServerNotConnected(t *testing.T) {
	manager := NewManager(&models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{
		"weather": {Transport: models.MCPTransportStdio, Command: "true"},
	}})

	result := manager.CallTool(context.Background(), "mcp_weather_forecast", nil)
	require.False(t, result.Success)
	assert.Contains(t, result.Message, "not connected")
}

func TestManagerCallToolEmptySearchResults(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		config.BigModelSearch: {"webSearchPrime": staticHandler("[]")},
	})

	result := manager.CallTool(context.Background(), "mcp_bigmodel_search_webSearchPrime",
		map[string]any{"query": "anything"})

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "returned empty results")
	assert.Contains(t, result.Message, "Fallback to built-in search tool")
	assert.Equal(t, "[]", result.Data["result"])
}

func TestManagerCallToolNormalizesSearchArguments(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		config.BigModelSearch: {"webSearchPrime": echoHandler},
	})

	result := manager.CallTool(context.Background(), "mcp_bigmodel_search_webSearchPrime",
		map[string]any{"query": "etcd compaction", "num_results": 5})
	require.True(t, result.Success)

	echoed, ok := result.Data["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "etcd compaction", echoed["search_query"])
	assert.Equal(t, "high", echoed["content_size"])
	assert.NotContains(t, echoed, "query")
	assert.NotContains(t, echoed, "num_results")
}

func TestManagerEmptyContentDefaultsToSuccessText(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"quiet": {
			"noop": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
				return &mcpsdk.CallToolResult{}, nil
			},
		},
	})

	result := manager.CallTool(context.Background(), "mcp_quiet_noop", nil)
	require.True(t, result.Success)
	assert.Equal(t, "tool executed successfully", result.Message)
}

func TestManagerHasTool(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {"forecast": staticHandler("sunny")},
	})

	assert.True(t, manager.HasTool("mcp_weather_forecast"))
	assert.False(t, manager.HasTool("mcp_weather_radar"))
	assert.False(t, manager.HasTool("shell_exec"))
}

func TestResolveToolName(t *testing.T) {
	manager := NewManager(&models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{
		"weather":        {},
		"mcp_everything": {},
		"weather_plus":   {},
	}})

	tests := []struct {
		name       string
		toolName   string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{"simple", "mcp_weather_forecast", "weather", "forecast", true},
		{"pre-prefixed server", "mcp_everything_echo", "mcp_everything", "echo", true},
		{"longest prefix wins", "mcp_weather_plus_forecast", "weather_plus", "forecast", true},
		{"underscore in tool name", "mcp_weather_get_forecast_hourly", "weather", "get_forecast_hourly", true},
		{"unknown server", "mcp_nope_tool", "", "", false},
		{"empty tool part", "mcp_weather_", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := manager.resolveToolName(tt.toolName)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantServer, server)
				assert.Equal(t, tt.wantTool, tool)
			}
		})
	}
}

func TestManagerInitializeSkipsUnconnectable(t *testing.T) {
	manager := NewManager(&models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{
		// BigModel HTTP server without a bearer token must be skipped, not
		// attempted.
		config.BigModelSearch: {Transport: models.MCPTransportStreamableHTTP},
		// Disabled servers are skipped regardless of transport.
		"disabled": {Transport: models.MCPTransportStdio, Command: "true", Enabled: boolPtr(false)},
	}})

	manager.Initialize(context.Background())

	assert.True(t, manager.Initialized())
	assert.Empty(t, manager.Tools())
}

func TestManagerInitializeBestEffort(t *testing.T) {
	manager := NewManager(&models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{
		"broken": {Transport: models.MCPTransportStdio, Command: "/nonexistent/steward-test-binary"},
	}})

	// A server that fails to start must not abort initialization.
	manager.Initialize(context.Background())

	assert.True(t, manager.Initialized())
	assert.Empty(t, manager.Tools())

	result := manager.CallTool(context.Background(), "mcp_broken_tool", nil)
	assert.False(t, result.Success)
}

func TestManagerClose(t *testing.T) {
	manager := newTestManager(t, map[string]map[string]mcpsdk.ToolHandler{
		"weather": {"forecast": staticHandler("sunny")},
	})
	require.NotEmpty(t, manager.Tools())

	manager.Close()

	assert.Empty(t, manager.Tools())
	assert.False(t, manager.Initialized())
}

func boolPtr(b bool) *bool { return &b }
