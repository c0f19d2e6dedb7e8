package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the variant carried by an Event
type EventType string

const (
	EventTypeMessage EventType = "message"
	EventTypeTitle   EventType = "title"
	EventTypePlan    EventType = "plan"
	EventTypeStep    EventType = "step"
	EventTypeTool    EventType = "tool"
	EventTypeError   EventType = "error"
	EventTypeDone    EventType = "done"
	EventTypeWait    EventType = "wait"
)

// MessageRole is the author role of a message event
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// EventStatus qualifies plan, step, and tool events. Each event type uses
// its own subset; all three share the status wire field.
type EventStatus string

const (
	// plan events
	PlanCreated   EventStatus = "created"
	PlanUpdated   EventStatus = "updated"
	PlanCompleted EventStatus = "completed"

	// step events
	StepStarted   EventStatus = "started"
	StepFailed    EventStatus = "failed"
	StepCompleted EventStatus = "completed"

	// tool events
	ToolCalling EventStatus = "calling"
	ToolCalled  EventStatus = "called"
)

// Event is the tagged variant flowing through task streams, the session
// store, and the SSE surface. Type selects which of the optional field
// groups is populated; everything else stays empty. One flat struct keeps
// the wire format identical in all three places.
type Event struct {
	ID        string    `json:"id,omitempty"` // assigned by the output stream
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// message
	Role        MessageRole `json:"role,omitempty"`
	Message     string      `json:"message,omitempty"`
	Attachments []*FileInfo `json:"attachments,omitempty"`

	// title
	Title string `json:"title,omitempty"`

	// plan / step
	Plan *Plan `json:"plan,omitempty"`
	Step *Step `json:"step,omitempty"`

	// plan / step / tool qualifier
	Status EventStatus `json:"status,omitempty"`

	// tool
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	FunctionName   string         `json:"function_name,omitempty"`
	FunctionArgs   map[string]any `json:"function_args,omitempty"`
	FunctionResult *ToolResult    `json:"function_result,omitempty"`
	ToolContent    *ToolContent   `json:"tool_content,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// NewMessageEvent creates a message event. Role defaults to assistant when
// empty.
func NewMessageEvent(role MessageRole, message string, attachments ...*FileInfo) *Event {
	if role == "" {
		role = RoleAssistant
	}
	return &Event{
		Type:        EventTypeMessage,
		Timestamp:   time.Now().UTC(),
		Role:        role,
		Message:     message,
		Attachments: attachments,
	}
}

// NewTitleEvent creates a title event.
func NewTitleEvent(title string) *Event {
	return &Event{Type: EventTypeTitle, Timestamp: time.Now().UTC(), Title: title}
}

// NewPlanEvent creates a plan lifecycle event carrying the plan snapshot.
func NewPlanEvent(status EventStatus, plan *Plan) *Event {
	return &Event{Type: EventTypePlan, Timestamp: time.Now().UTC(), Status: status, Plan: plan}
}

// NewStepEvent creates a step lifecycle event carrying the step snapshot.
func NewStepEvent(status EventStatus, step *Step) *Event {
	return &Event{Type: EventTypeStep, Timestamp: time.Now().UTC(), Status: status, Step: step}
}

// NewToolEvent creates a tool event for one side of a tool invocation.
func NewToolEvent(status EventStatus, toolCallID, toolName, functionName string, args map[string]any) *Event {
	return &Event{
		Type:         EventTypeTool,
		Timestamp:    time.Now().UTC(),
		Status:       status,
		ToolCallID:   toolCallID,
		ToolName:     toolName,
		FunctionName: functionName,
		FunctionArgs: args,
	}
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(message string) *Event {
	return &Event{Type: EventTypeError, Timestamp: time.Now().UTC(), Error: message}
}

// NewDoneEvent creates the terminal event of a task run.
func NewDoneEvent() *Event {
	return &Event{Type: EventTypeDone, Timestamp: time.Now().UTC()}
}

// NewWaitEvent creates the event that suspends a flow iteration until more
// user input arrives.
func NewWaitEvent() *Event {
	return &Event{Type: EventTypeWait, Timestamp: time.Now().UTC()}
}

// IsTerminal reports whether the event ends a chat stream iteration.
func (e *Event) IsTerminal() bool {
	switch e.Type {
	case EventTypeDone, EventTypeError, EventTypeWait:
		return true
	}
	return false
}

// ParseEvent decodes a stream payload into an Event.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("parse event: missing type")
	}
	return &ev, nil
}

// ToolContent is tool-specific enrichment attached to a called tool event.
// Like Event it is a flat union; the consumer selects fields by tool name.
type ToolContent struct {
	Screenshot string          `json:"screenshot,omitempty"` // browser, stored file id
	Results    []*SearchResult `json:"results,omitempty"`    // search
	Console    []*ShellRecord  `json:"console,omitempty"`    // shell
	Content    string          `json:"content,omitempty"`    // file
	File       *FileInfo       `json:"file,omitempty"`       // file
	Result     any             `json:"result,omitempty"`     // mcp / ticket
	SSH        *SSHToolContent `json:"ssh,omitempty"`        // ssh
}

// ShellRecord is one console exchange captured from the sandbox shell.
type ShellRecord struct {
	PS1     string `json:"ps1,omitempty"`
	Command string `json:"command"`
	Output  string `json:"output"`
}

// SSHToolContent mirrors an SSH command run for the event stream.
type SSHToolContent struct {
	NodeID           string `json:"node_id"`
	NodeName         string `json:"node_name,omitempty"`
	Command          string `json:"command"`
	Output           string `json:"output,omitempty"`
	Success          bool   `json:"success"`
	ApprovalRequired bool   `json:"approval_required,omitempty"`
	ApprovalID       string `json:"approval_id,omitempty"`
}
