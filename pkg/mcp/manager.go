// Package mcp fans external Model Context Protocol servers into the
// agent's tool surface. One Manager exists per task runner; it connects the
// configured servers best-effort at task start, exposes their tools under
// prefixed names, and routes calls back to the owning server.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/version"
)

const (
	// initTimeout is the per-server deadline for transport + handshake +
	// tool listing.
	initTimeout = 30 * time.Second

	// callTimeout is the per-call deadline for CallTool. Set conservatively:
	// some hosted tools are legitimately slow.
	callTimeout = 90 * time.Second

	// Jittered backoff bounds for the single retry after a transient
	// transport failure.
	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond
)

// searchEmptyGuidance steers the executor to the built-in search when the
// hosted search returns nothing, instead of looping on the same call.
const searchEmptyGuidance = "BigModel Search MCP returned empty results. " +
	"Fallback to built-in search tool, then use MCP Reader for URL extraction."

// ExposedTool is one MCP tool surfaced to the executor under its prefixed
// name.
type ExposedTool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Manager holds the per-task MCP sessions. Initialization is best-effort:
// a server that fails to connect is logged and skipped, never aborting the
// task.
type Manager struct {
	cfg *models.MCPConfig

	mu        sync.RWMutex
	sessions  map[string]*mcpsdk.ClientSession
	toolCache map[string][]*mcpsdk.Tool

	initialized bool
	logger      *slog.Logger
}

// NewManager creates a Manager over the given server config. Nothing
// connects until Initialize.
func NewManager(cfg *models.MCPConfig) *Manager {
	if cfg == nil {
		cfg = &models.MCPConfig{MCPServers: map[string]models.MCPServerConfig{}}
	}
	return &Manager{
		cfg:       cfg,
		sessions:  make(map[string]*mcpsdk.ClientSession),
		toolCache: make(map[string][]*mcpsdk.Tool),
		logger:    slog.With("component", "mcp"),
	}
}

// Initialize connects every enabled server. Per-server failures are logged
// and skipped; the manager always ends up initialized so missing tools
// degrade the task instead of killing it.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	for name, serverCfg := range m.cfg.MCPServers {
		normalizeBigModelServer(name, &serverCfg)
		serverCfg.Headers = sanitizeHeaders(serverCfg.Headers)
		if !serverCfg.IsEnabled() {
			continue
		}
		if !connectable(name, serverCfg) {
			m.logger.Warn("skipping MCP server: missing valid Authorization bearer token", "server", name)
			continue
		}
		if err := m.connectServer(ctx, name, serverCfg); err != nil {
			m.logger.Error("failed to connect MCP server", "server", name, "error", err)
			continue
		}
	}

	m.mu.Lock()
	m.initialized = true
	connected := len(m.sessions)
	m.mu.Unlock()
	m.logger.Info("MCP manager initialized", "configured", len(m.cfg.MCPServers), "connected", connected)
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// ConnectedServers returns the names of servers with a live session, sorted.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) connectServer(ctx context.Context, name string, cfg models.MCPServerConfig) error {
	transport, err := createTransport(name, cfg)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it implements io.Closer so a failed stdio
		// connect does not leak the child process.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect: %w", err)
	}

	tools := m.listTools(initCtx, name, session)

	m.mu.Lock()
	m.sessions[name] = session
	m.toolCache[name] = tools
	m.mu.Unlock()

	m.logger.Info("MCP server connected", "server", name, "transport", cfg.Transport, "tools", len(tools))
	return nil
}

// listTools fetches the server's tool list. A failure leaves the server
// connected with zero tools.
func (m *Manager) listTools(ctx context.Context, name string, session *mcpsdk.ClientSession) []*mcpsdk.Tool {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		m.logger.Error("failed to list MCP tools", "server", name, "error", err)
		return []*mcpsdk.Tool{}
	}
	if result == nil || result.Tools == nil {
		return []*mcpsdk.Tool{}
	}
	return result.Tools
}

// Tools returns all cached tools under their exposed names, sorted for
// deterministic prompt order.
func (m *Manager) Tools() []ExposedTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ExposedTool
	for server, tools := range m.toolCache {
		for _, t := range tools {
			desc := t.Description
			if desc == "" {
				desc = t.Name
			}
			out = append(out, ExposedTool{
				Name:        exposedName(server, t.Name),
				Description: fmt.Sprintf("[%s] %s", server, desc),
				Schema:      schemaMap(t.InputSchema),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasTool reports whether the exposed name belongs to a cached MCP tool.
func (m *Manager) HasTool(name string) bool {
	for _, t := range m.Tools() {
		if t.Name == name {
			return true
		}
	}
	return false
}

// CallTool invokes the MCP tool behind an exposed name. Failures come back
// as unsuccessful ToolResults; this never returns a Go error to the flow.
func (m *Manager) CallTool(ctx context.Context, toolName string, arguments map[string]any) *models.ToolResult {
	server, tool, ok := m.resolveToolName(toolName)
	if !ok {
		return models.Fail(fmt.Sprintf("cannot resolve MCP tool name: %s", toolName))
	}

	m.mu.RLock()
	session := m.sessions[server]
	m.mu.RUnlock()
	if session == nil {
		return models.Fail(fmt.Sprintf("MCP server %s is not connected", server))
	}

	args := normalizeBigModelArguments(server, tool, arguments)

	result, err := m.callOnce(ctx, session, tool, args)
	if err != nil && transientError(err) {
		backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
		m.logger.Info("MCP call failed, retrying", "server", server, "tool", tool, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return models.Fail(fmt.Sprintf("MCP tool call failed: %s", ctx.Err()))
		}
		result, err = m.callOnce(ctx, session, tool, args)
	}
	if err != nil {
		m.logger.Error("MCP tool call failed", "server", server, "tool", tool, "error", err)
		return models.Fail(fmt.Sprintf("MCP tool call failed: %s", err))
	}

	merged := flattenContent(result)
	if merged == "" {
		merged = "tool executed successfully"
	}
	normalized := parseDeepJSON(merged)

	// Hosted search returning a JSON empty list is an empty retrieval, not
	// a success: fail it with guidance so the executor switches tools.
	if server == config.BigModelSearch {
		if list, ok := normalized.([]any); ok && len(list) == 0 {
			return &models.ToolResult{
				Success: false,
				Message: searchEmptyGuidance,
				Data:    map[string]any{"result": merged},
			}
		}
	}

	return &models.ToolResult{
		Success: true,
		Message: merged,
		Data:    map[string]any{"result": normalized},
	}
}

func (m *Manager) callOnce(ctx context.Context, session *mcpsdk.ClientSession, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
}

// resolveToolName parses an exposed name back into (server, tool). Servers
// whose own name already starts with mcp_ are not double-prefixed, so the
// longest matching configured server wins.
func (m *Manager) resolveToolName(toolName string) (server, tool string, ok bool) {
	bestLen := -1
	for name := range m.cfg.MCPServers {
		prefix := name
		if !strings.HasPrefix(name, "mcp_") {
			prefix = "mcp_" + name
		}
		prefix += "_"
		if strings.HasPrefix(toolName, prefix) && len(prefix) > bestLen {
			server = name
			tool = toolName[len(prefix):]
			bestLen = len(prefix)
		}
	}
	return server, tool, bestLen >= 0 && tool != ""
}

// Close shuts down all sessions and clears the caches.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, session := range m.sessions {
		if err := session.Close(); err != nil {
			m.logger.Warn("failed to close MCP session", "server", name, "error", err)
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.toolCache = make(map[string][]*mcpsdk.Tool)
	m.initialized = false
}

// InjectSession installs a pre-connected session, bypassing transport
// setup. Test hook for in-memory MCP servers.
func (m *Manager) InjectSession(server string, session *mcpsdk.ClientSession, tools []*mcpsdk.Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MCPServers == nil {
		m.cfg.MCPServers = map[string]models.MCPServerConfig{}
	}
	if _, ok := m.cfg.MCPServers[server]; !ok {
		m.cfg.MCPServers[server] = models.MCPServerConfig{Transport: models.MCPTransportStdio, Command: "injected"}
	}
	m.sessions[server] = session
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	m.toolCache[server] = tools
	m.initialized = true
}

func exposedName(server, tool string) string {
	if strings.HasPrefix(server, "mcp_") {
		return server + "_" + tool
	}
	return "mcp_" + server + "_" + tool
}

// flattenContent merges text items into one string. Non-text content is
// JSON-encoded so nothing silently disappears.
func flattenContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n")
}

// schemaMap renders a tool's input schema as a generic JSON object for the
// chat-completions function format.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}

// transientError reports whether a call failure is worth one retry on the
// same session. Context errors and protocol errors are not.
func transientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded") {
		return false
	}
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
