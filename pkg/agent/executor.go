package agent

import (
	"context"
	"fmt"
	"iter"

	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/models"
)

// sshApprovalNotice is shown to the user when a remote command parks on the
// approval dialog.
const sshApprovalNotice = "SSH command is waiting for user approval in the approval dialog. " +
	"I will continue after approval result is provided."

// Executor works through plan steps with tools and reports each step's
// conclusion. It owns the "execution" memory slot.
type Executor struct {
	*BaseAgent
}

// NewExecutor creates the executor role over a persisted agent.
func NewExecutor(agentID string, store Store, client LLM, registry ToolRunner) *Executor {
	return &Executor{
		BaseAgent: newBaseAgent(models.MemoryExecution, systemPrompt+executionSystemPrompt, "json_object", agentID, store, client, registry),
	}
}

// conclusion is the executor's structured verdict on one step.
type conclusion struct {
	Success     bool     `json:"success"`
	Result      string   `json:"result"`
	Attachments []string `json:"attachments"`
}

// ExecuteStep runs one plan step. The step is marked running, every tool
// exchange is forwarded, and the model's final reply is decoded into the
// step's success/result/attachments before a completed-step event goes out.
//
// Two tool calls are translated instead of forwarded:
//   - message_ask_user surfaces its text as an assistant message while the
//     call is in flight, then yields a wait event and ends the step, parking
//     the task until the user answers.
//   - ssh_node_exec coming back with "approval_required" yields a notice
//     message and a wait event, parking the task on the approval dialog.
//
// In both park cases the step stays running so a resumed task picks it up
// again.
func (e *Executor) ExecuteStep(ctx context.Context, plan *models.Plan, step *models.Step, msg *Message) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		step.Status = models.ExecutionRunning
		if !yield(models.NewStepEvent(models.StepStarted, step), nil) {
			return
		}

		for ev, err := range e.execute(ctx, renderExecution(plan, step, msg)) {
			if err != nil {
				yield(nil, err)
				return
			}

			switch {
			case ev.Type == models.EventTypeError:
				step.Status = models.ExecutionFailed
				step.Error = ev.Error
				if !yield(models.NewStepEvent(models.StepFailed, step), nil) {
					return
				}

			case ev.Type == models.EventTypeMessage:
				step.Status = models.ExecutionCompleted
				var verdict conclusion
				if perr := llm.ExtractIntoSchema(ev.Message, conclusionSchema, &verdict); perr != nil {
					yield(nil, fmt.Errorf("step conclusion: %w", perr))
					return
				}
				step.Success = &verdict.Success
				step.Result = verdict.Result
				step.Attachments = verdict.Attachments
				if !yield(models.NewStepEvent(models.StepCompleted, step), nil) {
					return
				}
				if step.Result != "" {
					if !yield(models.NewMessageEvent(models.RoleAssistant, step.Result), nil) {
						return
					}
				}
				continue

			case ev.Type == models.EventTypeTool && ev.FunctionName == "message_ask_user":
				if ev.Status == models.ToolCalling {
					text, _ := ev.FunctionArgs["text"].(string)
					if !yield(models.NewMessageEvent(models.RoleAssistant, text), nil) {
						return
					}
				} else if ev.Status == models.ToolCalled {
					yield(models.NewWaitEvent(), nil)
					return
				}
				continue

			case ev.Type == models.EventTypeTool && ev.FunctionName == "ssh_node_exec" &&
				ev.Status == models.ToolCalled && ev.FunctionResult != nil &&
				ev.FunctionResult.Message == "approval_required":
				if !yield(models.NewMessageEvent(models.RoleAssistant, sshApprovalNotice), nil) {
					return
				}
				yield(models.NewWaitEvent(), nil)
				return
			}

			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Summarize closes out the task: the model composes the final deliverable
// and names the sandbox files to hand over. Its reply is re-emitted as one
// assistant message with file-path attachments.
func (e *Executor) Summarize(ctx context.Context) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		for ev, err := range e.execute(ctx, summarizePrompt) {
			if err != nil {
				yield(nil, err)
				return
			}
			if ev.Type == models.EventTypeMessage {
				var payload struct {
					Message     string   `json:"message"`
					Attachments []string `json:"attachments"`
				}
				if perr := llm.ExtractIntoSchema(ev.Message, summarySchema, &payload); perr != nil {
					yield(nil, fmt.Errorf("summary: %w", perr))
					return
				}
				e.logger.Debug("task summary ready", "attachments", len(payload.Attachments))
				files := make([]*models.FileInfo, 0, len(payload.Attachments))
				for _, path := range payload.Attachments {
					files = append(files, &models.FileInfo{FilePath: path})
				}
				if !yield(models.NewMessageEvent(models.RoleAssistant, payload.Message, files...), nil) {
					return
				}
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
