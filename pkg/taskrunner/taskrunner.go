// Package taskrunner executes the agent loop behind one session: it drains
// the task's durable input queue, runs each user message through the
// plan-act flow, and persists every produced event before handing it to the
// output queue consumers. A process-local registry tracks the live tasks so
// the coordinator can cancel them and shutdown can reclaim their resources.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/steadyops/steward/pkg/agent"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sandbox"
	"github.com/steadyops/steward/pkg/storage"
)

// Queue is the durable stream surface a task reads and writes.
type Queue interface {
	Put(ctx context.Context, payload []byte) (string, error)
	Get(ctx context.Context, startID string, block time.Duration) (string, []byte)
	Pop(ctx context.Context) (string, []byte)
	IsEmpty(ctx context.Context) bool
}

// SessionStore is the slice of the session service the runner writes through.
type SessionStore interface {
	AddEvent(ctx context.Context, id string, event *models.Event) error
	AddFile(ctx context.Context, id string, file *models.FileInfo) error
	RemoveFile(ctx context.Context, id, fileID string) error
	GetFileByPath(ctx context.Context, id, path string) (*models.FileInfo, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateLatestMessage(ctx context.Context, id, message string, at time.Time) error
	IncrementUnreadMessageCount(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
}

// Sandbox is the slice of the sandbox API the runner itself touches for
// attachment sync and tool-event enrichment; the tool registry holds the
// full client.
type Sandbox interface {
	ID() string
	ViewShell(ctx context.Context, shellID string) (*sandbox.ShellResult, error)
	FileRead(ctx context.Context, filePath string, startLine, endLine int) (string, error)
	FileDownload(ctx context.Context, filePath string) ([]byte, error)
	FileUpload(ctx context.Context, data []byte, filePath string) error
}

// SandboxDestroyer tears down sandbox containers.
type SandboxDestroyer interface {
	Destroy(ctx context.Context, sandboxID string) error
}

// Browser is the screenshot surface used for tool-event enrichment.
type Browser interface {
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// MCPTools is the MCP manager lifecycle the runner drives.
type MCPTools interface {
	Initialized() bool
	Initialize(ctx context.Context)
	Close()
}

// Flow produces the event stream for one user message.
type Flow interface {
	Run(ctx context.Context, msg *agent.Message) iter.Seq2[*models.Event, error]
}

// Config wires one AgentRunner to its session-scoped resources. The
// coordinator resolves the sandbox and builds the flow before the task
// starts; the runner owns them from then on.
type Config struct {
	SessionID string
	AgentID   string
	UserID    string

	Sessions  SessionStore
	Files     storage.FileStorage
	Sandbox   Sandbox
	Sandboxes SandboxDestroyer
	Browser   Browser
	MCP       MCPTools
	Flow      Flow
}

// AgentRunner processes one session's message queue through its agent flow.
// Exactly one runner exists per session in an active state; it owns the
// sandbox, the browser handle, and the MCP manager for that session.
type AgentRunner struct {
	sessionID string
	agentID   string
	userID    string

	sessions  SessionStore
	files     storage.FileStorage
	sandbox   Sandbox
	sandboxes SandboxDestroyer
	browser   Browser
	mcpTools  MCPTools
	flow      Flow
	logger    *slog.Logger
}

// NewAgentRunner creates the runner for one session task.
func NewAgentRunner(cfg Config) *AgentRunner {
	return &AgentRunner{
		sessionID: cfg.SessionID,
		agentID:   cfg.AgentID,
		userID:    cfg.UserID,
		sessions:  cfg.Sessions,
		files:     cfg.Files,
		sandbox:   cfg.Sandbox,
		sandboxes: cfg.Sandboxes,
		browser:   cfg.Browser,
		mcpTools:  cfg.MCP,
		flow:      cfg.Flow,
		logger: slog.With("component", "taskrunner",
			"session_id", cfg.SessionID, "agent_id", cfg.AgentID),
	}
}

// Run drains the task's input queue, one message at a time, until the queue
// is empty, the flow parks on user input, or the context is cancelled. All
// outcomes are handled here; Run never reports an error to the task.
func (r *AgentRunner) Run(ctx context.Context, task *Task) {
	r.logger.Info("Agent message processing task started")
	parked, err := r.process(ctx, task)
	switch {
	case err == nil && parked:
		// Waiting is already persisted; the next user message re-wakes
		// the session through a fresh task.
		return
	case err == nil:
		if uerr := r.sessions.UpdateStatus(ctx, r.sessionID, models.SessionStatusCompleted); uerr != nil {
			r.logger.Error("Failed to mark session completed", "error", uerr)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Finalization must outlive the cancelled context: clients still
		// need a terminal event and the session must not stay running.
		r.logger.Info("Agent task cancelled")
		clean := context.WithoutCancel(ctx)
		if eerr := r.emit(clean, task, models.NewDoneEvent()); eerr != nil {
			r.logger.Error("Failed to emit done event on cancel", "error", eerr)
		}
		if uerr := r.sessions.UpdateStatus(clean, r.sessionID, models.SessionStatusCompleted); uerr != nil {
			r.logger.Error("Failed to update status on cancel", "error", uerr)
		}
	default:
		r.logger.Error("Agent task failed", "error", err)
		if eerr := r.emit(ctx, task, models.NewErrorEvent("Task error: "+err.Error())); eerr != nil {
			r.logger.Error("Failed to emit error event", "error", eerr)
		}
		if uerr := r.sessions.UpdateStatus(ctx, r.sessionID, models.SessionStatusCompleted); uerr != nil {
			r.logger.Error("Failed to mark session completed", "error", uerr)
		}
	}
}

// process is the main message loop. It reports parked=true when a Wait
// event suspended the run with the session in Waiting state.
func (r *AgentRunner) process(ctx context.Context, task *Task) (parked bool, err error) {
	if !r.mcpTools.Initialized() {
		r.mcpTools.Initialize(ctx)
	}

	for !task.Input().IsEmpty(ctx) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		id, payload := task.Input().Pop(ctx)
		if payload == nil {
			r.logger.Warn("Input queue produced no payload")
			continue
		}
		ev, perr := models.ParseEvent(payload)
		if perr != nil {
			r.logger.Warn("Discarding undecodable input event", "error", perr)
			continue
		}
		ev.ID = id

		msg := &agent.Message{}
		if ev.Type == models.EventTypeMessage {
			msg.Text = ev.Message
			r.syncAttachmentsToSandbox(ctx, ev)
		}
		for _, att := range ev.Attachments {
			if att.FilePath != "" {
				msg.Attachments = append(msg.Attachments, att.FilePath)
			}
		}
		r.logger.Info("Processing input message", "preview", preview(msg.Text))

		if msg.Text == "" {
			if err := r.emit(ctx, task, models.NewErrorEvent("No message")); err != nil {
				return false, err
			}
			continue
		}

		parked, err := r.consume(ctx, task, msg)
		if err != nil || parked {
			return parked, err
		}
	}
	return false, nil
}

// consume runs the flow over one message and persists its events in order.
// Each event is appended to the output queue first (the queue assigns the
// event id), then to the session store, then its session side effects run.
func (r *AgentRunner) consume(ctx context.Context, task *Task, msg *agent.Message) (bool, error) {
	for ev, err := range r.flow.Run(ctx, msg) {
		if err != nil {
			return false, err
		}
		r.decorate(ctx, ev)
		if err := r.emit(ctx, task, ev); err != nil {
			return false, err
		}
		switch ev.Type {
		case models.EventTypeTitle:
			if err := r.sessions.UpdateTitle(ctx, r.sessionID, ev.Title); err != nil {
				return false, err
			}
		case models.EventTypeMessage:
			if err := r.sessions.UpdateLatestMessage(ctx, r.sessionID, ev.Message, ev.Timestamp); err != nil {
				return false, err
			}
			if err := r.sessions.IncrementUnreadMessageCount(ctx, r.sessionID); err != nil {
				return false, err
			}
		case models.EventTypeWait:
			if err := r.sessions.UpdateStatus(ctx, r.sessionID, models.SessionStatusWaiting); err != nil {
				return false, err
			}
			return true, nil
		}
		if !task.Input().IsEmpty(ctx) {
			r.logger.Info("New input arrived, switching to the newer message")
			break
		}
	}
	return false, nil
}

// decorate enriches an event in place before it is persisted: tool events
// get their tool-specific content, assistant messages get their sandbox
// attachments mirrored into storage.
func (r *AgentRunner) decorate(ctx context.Context, ev *models.Event) {
	switch ev.Type {
	case models.EventTypeTool:
		r.enrichToolEvent(ctx, ev)
	case models.EventTypeMessage:
		r.syncAttachmentsToStorage(ctx, ev)
	}
}

// emit appends the event to the output queue, adopts the assigned stream ID
// as the event id, and records the event in the session store.
func (r *AgentRunner) emit(ctx context.Context, task *Task, ev *models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	id, err := task.Output().Put(ctx, payload)
	if err != nil {
		return err
	}
	ev.ID = id
	return r.sessions.AddEvent(ctx, r.sessionID, ev)
}

// OnDone is called by the task after the run goroutine exits.
func (r *AgentRunner) OnDone(task *Task) {
	r.logger.Info("Agent task done", "task_id", task.ID())
}

// Destroy releases the session's sandbox, browser, and MCP connections.
// Called on process shutdown; a stopped session keeps its sandbox until the
// reaper collects it.
func (r *AgentRunner) Destroy(ctx context.Context) {
	r.logger.Info("Destroying agent task resources")
	if r.sandbox != nil {
		if err := r.sandboxes.Destroy(ctx, r.sandbox.ID()); err != nil {
			r.logger.Error("Failed to destroy sandbox", "sandbox_id", r.sandbox.ID(), "error", err)
		}
	}
	if r.browser != nil {
		r.browser.Close()
	}
	if r.mcpTools != nil {
		r.mcpTools.Close()
	}
}

// preview shortens a message for log lines.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= 50 {
		return s
	}
	return string(runes[:50]) + "..."
}
