package models

import "time"

// Memory slot names used by the plan-act flow.
const (
	MemoryPlanner   = "planner"
	MemoryExecution = "execution"
)

// ChatRole is the role of a chat message inside an agent memory
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleTool      ChatRole = "tool"
)

// ToolCall is a model-issued function call recorded in memory.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON as produced by the model
}

// ChatMessage is a single turn in an agent memory slot.
type ChatMessage struct {
	Role       ChatRole    `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"` // set on tool-role messages
}

// Memory is one named rolling conversation history.
type Memory struct {
	Messages []*ChatMessage `json:"messages"`
}

// Add appends a message to the memory.
func (m *Memory) Add(msg *ChatMessage) {
	m.Messages = append(m.Messages, msg)
}

// Agent holds the model parameters and per-role memories for one session.
type Agent struct {
	ID          string             `json:"id"`
	ModelName   string             `json:"model_name"`
	Temperature float32            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Memories    map[string]*Memory `json:"memories"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// NewAgent creates an agent with empty memories.
func NewAgent(modelName string, temperature float32, maxTokens int) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:          NewID(),
		ModelName:   modelName,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Memories:    map[string]*Memory{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Memory returns the named memory slot, creating it on first use.
func (a *Agent) Memory(name string) *Memory {
	if a.Memories == nil {
		a.Memories = map[string]*Memory{}
	}
	mem, ok := a.Memories[name]
	if !ok {
		mem = &Memory{}
		a.Memories[name] = mem
	}
	return mem
}
