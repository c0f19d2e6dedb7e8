package tools

import (
	"context"

	"github.com/steadyops/steward/pkg/models"
)

// MessageTool carries user-directed communication. The functions themselves
// only validate and echo; the execution agent intercepts the calls to emit
// Message and Wait events.
type MessageTool struct{}

// NewMessageTool returns the message functions.
func NewMessageTool() *MessageTool {
	return &MessageTool{}
}

type messageParams struct {
	Text        string   `json:"text" jsonschema:"description=Message text shown to the user; use the plan's working language"`
	Attachments []string `json:"attachments,omitempty" jsonschema:"description=Absolute sandbox paths of files to attach"`
}

func (t *MessageTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "message",
			Name:        "message_notify_user",
			Description: "Send the user a progress update that needs no reply. Use for milestones and notable findings.",
			Parameters:  schemaFor(&messageParams{}),
			Handler:     t.notify,
		},
		{
			Tool:        "message",
			Name:        "message_ask_user",
			Description: "Ask the user a question and pause until they answer. Use only when progress is blocked on their input.",
			Parameters:  schemaFor(&messageParams{}),
			Handler:     t.ask,
		},
	}
}

func (t *MessageTool) notify(_ context.Context, call Call) (*models.ToolResult, error) {
	var p messageParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return models.Fail("text must not be empty"), nil
	}
	return models.Ok(p.Text), nil
}

func (t *MessageTool) ask(_ context.Context, call Call) (*models.ToolResult, error) {
	var p messageParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return models.Fail("text must not be empty"), nil
	}
	return models.Ok(p.Text), nil
}
