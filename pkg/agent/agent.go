// Package agent implements the two LLM roles behind a task session: the
// planner, which turns a user message into a step plan and keeps it current,
// and the executor, which works through the steps with tools. Both roles
// share one persisted Agent entity and each owns a named memory slot on it,
// so an interrupted task resumes from the stored conversation state.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/tools"
)

const (
	// maxIterations bounds the tool loop of a single execute call. A step
	// that genuinely needs more calls has outgrown its plan.
	maxIterations = 50

	// compactKeepRecent is how many trailing messages survive compaction
	// verbatim.
	compactKeepRecent = 8

	// defaultMemoryBudget is the serialized-size ceiling (in bytes, standing
	// in for tokens) above which CompactMemory folds older turns.
	defaultMemoryBudget = 30000

	// digestLimit caps each transcript line in the compaction digest.
	digestLimit = 200
)

// Message is one unit of user input a task run consumes: the text plus the
// sandbox paths of any uploaded attachments.
type Message struct {
	Text        string
	Attachments []string
}

// LLM is the completion surface the agents require. *llm.Client satisfies it.
type LLM interface {
	Ask(ctx context.Context, messages []*models.ChatMessage, tools []llm.ToolDefinition, format string) (*models.ChatMessage, error)
}

// ToolRunner dispatches the model's function calls. *tools.Registry
// satisfies it.
type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	Family(name string) (string, bool)
	Invoke(ctx context.Context, call tools.Call) *models.ToolResult
}

// Store persists agents between turns. *services.AgentService satisfies it.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Agent, error)
	Save(ctx context.Context, agent *models.Agent) error
}

// BaseAgent is the reasoning loop shared by the planner and executor roles.
// It is configured with a role name (which doubles as the memory slot), a
// system prompt, and an output format, and persists every exchange through
// the store as it happens.
type BaseAgent struct {
	name         string
	systemPrompt string
	format       string
	agentID      string
	store        Store
	llm          LLM
	tools        ToolRunner
	memoryBudget int
	logger       *slog.Logger
}

func newBaseAgent(name, systemPrompt, format, agentID string, store Store, client LLM, registry ToolRunner) *BaseAgent {
	return &BaseAgent{
		name:         name,
		systemPrompt: systemPrompt,
		format:       format,
		agentID:      agentID,
		store:        store,
		llm:          client,
		tools:        registry,
		memoryBudget: defaultMemoryBudget,
		logger:       slog.With("component", "agent", "role", name, "agent_id", agentID),
	}
}

// execute runs the reasoning loop over one rendered prompt. The sequence
// yields a calling/called event pair per tool call and ends with a message
// event carrying the model's final reply. A model failure ends the sequence
// with an in-band error event; store failures and context cancellation end
// it with a non-nil error instead, so the caller can tell a model that gave
// up from a task that must abort.
func (a *BaseAgent) execute(ctx context.Context, prompt string) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		entity, err := a.store.FindByID(ctx, a.agentID)
		if err != nil {
			yield(nil, fmt.Errorf("load agent %s: %w", a.agentID, err))
			return
		}
		mem := entity.Memory(a.name)
		if len(mem.Messages) == 0 {
			mem.Add(&models.ChatMessage{Role: models.ChatRoleSystem, Content: a.systemPrompt})
		}
		mem.Add(&models.ChatMessage{Role: models.ChatRoleUser, Content: prompt})
		if err := a.store.Save(ctx, entity); err != nil {
			yield(nil, fmt.Errorf("save agent %s: %w", a.agentID, err))
			return
		}

		for iteration := 0; iteration < maxIterations; iteration++ {
			reply, err := a.llm.Ask(ctx, mem.Messages, a.tools.Definitions(), a.format)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					yield(nil, err)
					return
				}
				a.logger.Error("model call failed", "iteration", iteration, "error", err)
				yield(models.NewErrorEvent(err.Error()), nil)
				return
			}
			mem.Add(reply)
			if err := a.store.Save(ctx, entity); err != nil {
				yield(nil, fmt.Errorf("save agent %s: %w", a.agentID, err))
				return
			}

			if len(reply.ToolCalls) == 0 {
				yield(models.NewMessageEvent(models.RoleAssistant, reply.Content), nil)
				return
			}

			for _, tc := range reply.ToolCalls {
				args, argErr := parseToolArgs(tc.Arguments)
				family, _ := a.tools.Family(tc.Name)
				if !yield(models.NewToolEvent(models.ToolCalling, tc.ID, family, tc.Name, args), nil) {
					return
				}

				var result *models.ToolResult
				if argErr != nil {
					result = models.Fail(fmt.Sprintf("invalid arguments for %s: %s", tc.Name, argErr))
				} else {
					result = a.tools.Invoke(ctx, tools.Call{ID: tc.ID, Name: tc.Name, Arguments: args})
				}

				called := models.NewToolEvent(models.ToolCalled, tc.ID, family, tc.Name, args)
				called.FunctionResult = result
				if !yield(called, nil) {
					return
				}
				mem.Add(&models.ChatMessage{
					Role:       models.ChatRoleTool,
					Content:    toolReply(result),
					ToolCallID: tc.ID,
				})
			}
			if err := a.store.Save(ctx, entity); err != nil {
				yield(nil, fmt.Errorf("save agent %s: %w", a.agentID, err))
				return
			}
		}
		a.logger.Warn("iteration budget exhausted", "max_iterations", maxIterations)
		yield(models.NewErrorEvent(fmt.Sprintf("%s agent stopped after %d iterations without a final answer", a.name, maxIterations)), nil)
	}
}

// RollBack removes the last user exchange from the role's memory so the same
// message can be consumed again. Resuming an interrupted task replays the
// message that was in flight; without the rollback the memory would carry
// that exchange twice.
func (a *BaseAgent) RollBack(ctx context.Context) error {
	entity, err := a.store.FindByID(ctx, a.agentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", a.agentID, err)
	}
	mem := entity.Memory(a.name)

	last := -1
	for i, m := range mem.Messages {
		if m.Role == models.ChatRoleUser {
			last = i
		}
	}
	if last < 0 {
		return nil
	}
	mem.Messages = mem.Messages[:last]

	if err := a.store.Save(ctx, entity); err != nil {
		return fmt.Errorf("save agent %s: %w", a.agentID, err)
	}
	a.logger.Debug("memory rolled back", "messages", len(mem.Messages))
	return nil
}

// CompactMemory bounds the role's memory once its serialized size passes the
// budget: the system prompt and the most recent turns stay verbatim and
// everything between is folded into one synthetic exchange carrying a
// transcript digest. Tool exchanges are never split; when the verbatim
// window would open on a tool reply it widens to include the assistant
// message that issued the calls.
func (a *BaseAgent) CompactMemory(ctx context.Context) error {
	entity, err := a.store.FindByID(ctx, a.agentID)
	if err != nil {
		return fmt.Errorf("load agent %s: %w", a.agentID, err)
	}
	mem := entity.Memory(a.name)
	if memorySize(mem) <= a.memoryBudget {
		return nil
	}

	head := 0
	if len(mem.Messages) > 0 && mem.Messages[0].Role == models.ChatRoleSystem {
		head = 1
	}
	start := len(mem.Messages) - compactKeepRecent
	for start > head && mem.Messages[start].Role == models.ChatRoleTool {
		start--
	}
	if start <= head {
		return nil
	}

	folded := mem.Messages[head:start]
	compacted := make([]*models.ChatMessage, 0, len(mem.Messages)-len(folded)+2)
	compacted = append(compacted, mem.Messages[:head]...)
	compacted = append(compacted,
		&models.ChatMessage{Role: models.ChatRoleUser, Content: digestMessages(folded)},
		&models.ChatMessage{Role: models.ChatRoleAssistant, Content: "Understood. I will continue the task with that context."},
	)
	compacted = append(compacted, mem.Messages[start:]...)
	mem.Messages = compacted

	if err := a.store.Save(ctx, entity); err != nil {
		return fmt.Errorf("save agent %s: %w", a.agentID, err)
	}
	a.logger.Info("memory compacted", "folded", len(folded), "kept", len(mem.Messages))
	return nil
}

// parseToolArgs decodes the model's raw argument JSON. An empty argument
// string means a zero-argument call, not an error.
func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toolReply renders a tool result as the tool-role message content the model
// reads back.
func toolReply(result *models.ToolResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"message":%q}`, err.Error())
	}
	return string(raw)
}

// memorySize approximates prompt weight as serialized content bytes.
func memorySize(mem *models.Memory) int {
	size := 0
	for _, m := range mem.Messages {
		size += len(m.Content)
		for _, tc := range m.ToolCalls {
			size += len(tc.Name) + len(tc.Arguments)
		}
	}
	return size
}

// digestMessages renders dropped turns as a role-tagged transcript the model
// can skim.
func digestMessages(messages []*models.ChatMessage) string {
	var sb strings.Builder
	sb.WriteString("The earlier part of this conversation was condensed to stay within the context budget. Transcript digest:\n\n")
	for _, m := range messages {
		sb.WriteString(fmt.Sprintf("[%s]: %s", m.Role, snippet(m.Content, digestLimit)))
		for _, tc := range m.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [called tool: %s]", tc.Name))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// snippet truncates s to limit runes.
func snippet(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
