package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steadyops/steward/pkg/models"
)

// createTransport builds an MCP SDK transport from a server config. The
// http transport is served by the SSE client; streamable-http is the newer
// single-endpoint protocol.
func createTransport(name string, cfg models.MCPServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case models.MCPTransportStdio:
		return createStdioTransport(name, cfg)
	case models.MCPTransportHTTP, models.MCPTransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: sse transport requires url", name)
		}
		transport := &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			transport.HTTPClient = buildHTTPClient(cfg.Headers)
		}
		return transport, nil
	case models.MCPTransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: streamable-http transport requires url", name)
		}
		transport := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			transport.HTTPClient = buildHTTPClient(cfg.Headers)
		}
		return transport, nil
	default:
		return nil, fmt.Errorf("server %s: unsupported transport type %q", name, cfg.Transport)
	}
}

func createStdioTransport(name string, cfg models.MCPServerConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s: stdio transport requires command", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)

	// Inherit parent environment + config overrides.
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// buildHTTPClient wraps the default transport to stamp the configured
// headers onto every request.
func buildHTTPClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{
			base:    http.DefaultTransport,
			headers: headers,
		},
	}
}

// headerTransport adds static headers to outgoing requests.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// sanitizeHeaders drops empty values and Authorization headers carrying a
// bare "Bearer" without a token; those cause protocol errors downstream.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	cleaned := make(map[string]string, len(headers))
	for key, value := range headers {
		text := strings.TrimSpace(value)
		if text == "" {
			continue
		}
		if strings.EqualFold(key, "authorization") {
			lower := strings.ToLower(text)
			if lower == "bearer" || lower == "bearer:" {
				continue
			}
			if strings.HasPrefix(lower, "bearer ") && strings.TrimSpace(text[7:]) == "" {
				continue
			}
		}
		cleaned[key] = text
	}
	return cleaned
}

// connectable is the pre-connection guard: headers must already be
// sanitized. BigModel HTTP servers without a valid bearer token are
// skipped instead of producing auth errors on every call.
func connectable(name string, cfg models.MCPServerConfig) bool {
	if cfg.Transport != models.MCPTransportSSE && cfg.Transport != models.MCPTransportStreamableHTTP {
		return true
	}
	if !strings.HasPrefix(name, "bigmodel_") {
		return true
	}
	auth := cfg.Headers["Authorization"]
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return false
	}
	return strings.TrimSpace(auth[7:]) != ""
}
