package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/steadyops/steward/pkg/agent"
	"github.com/steadyops/steward/pkg/browser"
	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/flow"
	"github.com/steadyops/steward/pkg/mcp"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/streams"
	"github.com/steadyops/steward/pkg/taskrunner"
	"github.com/steadyops/steward/pkg/tools"
)

// tailBlock bounds each blocking read on the output stream so a finished
// task is noticed promptly even when no further events arrive.
const tailBlock = time.Second

// ChatInput is one user turn against a session.
type ChatInput struct {
	SessionID string
	UserID    string

	// Message is the user's text. Empty means reconnect-only: tail the
	// stream from the cursor without queueing new work.
	Message string

	// Timestamp is the client-side send time; zero means now.
	Timestamp time.Time

	// LastEventID resumes the stream after the given event, following the
	// SSE Last-Event-ID convention. Empty or garbage replays from the
	// beginning.
	LastEventID string

	// Attachments were uploaded ahead of the message and ride along on the
	// user's message event.
	Attachments []*models.FileInfo
}

// Chat queues the user's message (when present) and returns the session's
// event stream from the caller's cursor onward.
//
// Setup failures (unknown session, sandbox provisioning, queue writes)
// are returned synchronously so the transport can map them to a status
// code. Once the stream has started, failures surface as in-band Error
// events. The stream ends after a terminal event (Done, Error, Wait), when
// the task finishes, or when ctx is cancelled.
func (c *Coordinator) Chat(ctx context.Context, in ChatInput) (iter.Seq[*models.Event], error) {
	session, err := c.ownedSession(ctx, in.SessionID, in.UserID)
	if err != nil {
		return nil, err
	}
	task := c.taskOf(session)

	if in.Message != "" {
		// A session whose status says Running but whose task is gone
		// (process restart) gets a fresh task rather than an error.
		if session.Status != models.SessionStatusRunning || task == nil {
			task, err = c.createTask(ctx, session)
			if err != nil {
				return nil, err
			}
		}

		at := in.Timestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if err := c.sessions.UpdateLatestMessage(ctx, session.ID, in.Message, at); err != nil {
			return nil, err
		}

		ev := models.NewMessageEvent(models.RoleUser, in.Message, in.Attachments...)
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal message event: %w", err)
		}
		id, err := task.Input().Put(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("queue message: %w", err)
		}
		ev.ID = id
		if err := c.sessions.AddEvent(ctx, session.ID, ev); err != nil {
			return nil, err
		}

		task.Run()
	}

	return c.tail(ctx, session.ID, task, streams.NormalizeID(in.LastEventID)), nil
}

// Dispatch pushes a ticket message through the session's agent and drains
// the response. Failures after setup are already recorded on the session as
// Error events, so only setup failures are returned. It completes the
// services.Dispatcher implementation.
func (c *Coordinator) Dispatch(ctx context.Context, sessionID, userID, message string) error {
	events, err := c.Chat(ctx, ChatInput{SessionID: sessionID, UserID: userID, Message: message})
	if err != nil {
		return err
	}
	for range events {
	}
	return nil
}

// createTask provisions the session's sandbox and assembles the tool
// registry, agents, flow, and runner for a fresh task.
func (c *Coordinator) createTask(ctx context.Context, session *models.Session) (Task, error) {
	sb, created, err := c.sandboxes.Ensure(ctx, session.SandboxID)
	if err != nil {
		return nil, fmt.Errorf("ensure sandbox: %w", err)
	}
	if created {
		c.logger.Info("Sandbox created", "session_id", session.ID, "sandbox_id", sb.ID())
	}
	if sb.ID() != session.SandboxID {
		if err := c.sessions.UpdateSandboxID(ctx, session.ID, sb.ID()); err != nil {
			return nil, fmt.Errorf("persist sandbox id: %w", err)
		}
		session.SandboxID = sb.ID()
	}

	b := browser.New(sb.CDPURL())
	mcpTools := mcp.NewManager(config.LoadMCPConfig(c.settings.MCPConfigPath))

	toolsets := []tools.Toolset{
		tools.NewShellTool(sb),
		tools.NewBrowserTool(b),
		tools.NewFileTool(sb),
		tools.NewMessageTool(),
		tools.NewSSHNodeTool(c.nodes, session.UserID, session.ID),
		tools.NewTicketTool(c.tickets, session.ID),
	}
	if c.search != nil {
		toolsets = append(toolsets, tools.NewSearchTool(c.search))
	}
	registry := tools.NewRegistry(mcpTools, toolsets...)

	planner := agent.NewPlanner(session.AgentID, c.agents, c.llm, registry)
	executor := agent.NewExecutor(session.AgentID, c.agents, c.llm, registry)

	runner := taskrunner.NewAgentRunner(taskrunner.Config{
		SessionID: session.ID,
		AgentID:   session.AgentID,
		UserID:    session.UserID,
		Sessions:  c.sessions,
		Files:     c.files,
		Sandbox:   sb,
		Sandboxes: c.sandboxes,
		Browser:   b,
		MCP:       mcpTools,
		Flow:      flow.NewPlanAct(session.ID, c.sessions, planner, executor),
	})

	task := c.tasks.Create(runner)
	if err := c.sessions.UpdateTaskID(ctx, session.ID, task.ID()); err != nil {
		return nil, fmt.Errorf("persist task id: %w", err)
	}
	session.TaskID = task.ID()
	c.logger.Info("Task created",
		"session_id", session.ID, "task_id", task.ID(), "sandbox_id", sb.ID())
	return task, nil
}

// tail streams events from the task's output queue starting after cursor.
// The unread counter is zeroed before every delivery and once more when the
// stream ends: everything up to the last yield has been seen.
func (c *Coordinator) tail(ctx context.Context, sessionID string, task Task, cursor string) iter.Seq[*models.Event] {
	logger := c.logger.With("session_id", sessionID)
	return func(yield func(*models.Event) bool) {
		defer func() {
			reset := context.WithoutCancel(ctx)
			if err := c.sessions.UpdateUnreadMessageCount(reset, sessionID, 0); err != nil {
				logger.Warn("Failed to reset unread count", "error", err)
			}
		}()

		if task == nil {
			return
		}
		for ctx.Err() == nil {
			finished := task.Done()
			id, payload := task.Output().Get(ctx, cursor, tailBlock)
			if payload == nil {
				if finished {
					// Nothing buffered and the worker was already gone
					// before the read: the stream is drained.
					return
				}
				continue
			}
			cursor = id

			ev, err := models.ParseEvent(payload)
			if err != nil {
				logger.Error("Malformed event on output stream", "event_id", id, "error", err)
				ev = models.NewErrorEvent(err.Error())
				if storeErr := c.sessions.AddEvent(ctx, sessionID, ev); storeErr != nil {
					logger.Error("Failed to store error event", "error", storeErr)
				}
				yield(ev)
				return
			}
			ev.ID = id

			if err := c.sessions.UpdateUnreadMessageCount(ctx, sessionID, 0); err != nil {
				logger.Warn("Failed to reset unread count", "error", err)
			}
			if !yield(ev) {
				return
			}
			if ev.IsTerminal() {
				return
			}
		}
	}
}
