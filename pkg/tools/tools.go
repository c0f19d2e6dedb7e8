// Package tools defines the uniform tool-invocation contract between the
// execution agent and everything it can act on: the sandbox shell and
// filesystem, the browser, web search, user messaging, SSH nodes, tickets,
// and external MCP servers.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/mcp"
	"github.com/steadyops/steward/pkg/models"
)

// Call is one tool invocation requested by the model.
type Call struct {
	// ID is the model-assigned tool call id, carried through to events and
	// approval records.
	ID        string
	Name      string
	Arguments map[string]any
}

// Handler executes one tool function. Domain failures should come back as
// unsuccessful ToolResults; a Go error means the invocation itself broke
// and is converted to a failed result by the registry.
type Handler func(ctx context.Context, call Call) (*models.ToolResult, error)

// Function is one callable function exposed to the model.
type Function struct {
	// Tool is the owning tool family (shell, file, browser, search,
	// message, ssh, ticket); events carry it so clients can render the
	// right view.
	Tool        string
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters map[string]any
	Handler    Handler
}

// Toolset is a group of related functions sharing one backend.
type Toolset interface {
	Functions() []*Function
}

// Registry is the dispatch table for one task runner. Built-in functions
// are registered up front; MCP tools route through the manager.
type Registry struct {
	functions []*Function
	index     map[string]*Function
	mcpTools  *mcp.Manager
	logger    *slog.Logger
}

// NewRegistry builds a registry over the given toolsets. mcpTools may be
// nil when the task has no MCP servers configured.
func NewRegistry(mcpTools *mcp.Manager, toolsets ...Toolset) *Registry {
	r := &Registry{
		index:    make(map[string]*Function),
		mcpTools: mcpTools,
		logger:   slog.With("component", "tools"),
	}
	for _, ts := range toolsets {
		for _, fn := range ts.Functions() {
			if _, dup := r.index[fn.Name]; dup {
				r.logger.Warn("duplicate tool function registration", "function", fn.Name)
				continue
			}
			r.functions = append(r.functions, fn)
			r.index[fn.Name] = fn
		}
	}
	return r
}

// Definitions returns the LLM-facing declarations of every registered
// function plus all cached MCP tools.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.functions))
	for _, fn := range r.functions {
		defs = append(defs, llm.ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	if r.mcpTools != nil {
		for _, t := range r.mcpTools.Tools() {
			defs = append(defs, llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			})
		}
	}
	return defs
}

// Family returns the tool family owning a function name; MCP tools report
// "mcp". Unknown names return false.
func (r *Registry) Family(name string) (string, bool) {
	if fn, ok := r.index[name]; ok {
		return fn.Tool, true
	}
	if strings.HasPrefix(name, "mcp_") && r.mcpTools != nil {
		return "mcp", true
	}
	return "", false
}

// Invoke dispatches a tool call. Handler errors and unknown names come
// back as failed results so the model can correct itself; a Go error is
// never surfaced to the flow.
func (r *Registry) Invoke(ctx context.Context, call Call) *models.ToolResult {
	if fn, ok := r.index[call.Name]; ok {
		result, err := fn.Handler(ctx, call)
		if err != nil {
			r.logger.Error("tool invocation failed", "function", call.Name, "error", err)
			return models.Fail(fmt.Sprintf("%s failed: %s", call.Name, err))
		}
		if result == nil {
			return models.Fail(fmt.Sprintf("%s returned no result", call.Name))
		}
		return result
	}
	if strings.HasPrefix(call.Name, "mcp_") && r.mcpTools != nil {
		return r.mcpTools.CallTool(ctx, call.Name, call.Arguments)
	}
	return models.Fail(fmt.Sprintf("unknown tool function: %s", call.Name))
}
