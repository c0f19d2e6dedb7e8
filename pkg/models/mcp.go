package models

// MCPTransport selects how to reach an MCP server
type MCPTransport string

const (
	MCPTransportStdio          MCPTransport = "stdio"
	MCPTransportHTTP           MCPTransport = "http"
	MCPTransportSSE            MCPTransport = "sse"
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// MCPServerConfig describes one configured MCP server.
type MCPServerConfig struct {
	Transport   MCPTransport      `json:"transport,omitempty"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"` // nil means enabled
	Description string            `json:"description,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (c MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MCPConfig is the on-disk MCP configuration document.
type MCPConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}
