// Package orchestrator coordinates sessions, agents, sandboxes, and live
// tasks behind the API surface. The Coordinator owns the session lifecycle,
// assembles the per-task tool stack, and streams chat events back to the
// caller with a durable cursor.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sandbox"
	"github.com/steadyops/steward/pkg/search"
	"github.com/steadyops/steward/pkg/services"
	"github.com/steadyops/steward/pkg/storage"
	"github.com/steadyops/steward/pkg/taskrunner"
	"github.com/steadyops/steward/pkg/tools"
)

// SessionStore is the session persistence surface the coordinator and the
// components it assembles write through. *services.SessionService satisfies
// it.
type SessionStore interface {
	Save(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByIDAndUserID(ctx context.Context, id, userID string) (*models.Session, error)
	FindByUserID(ctx context.Context, userID string, sessionType models.SessionType) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	AddEvent(ctx context.Context, id string, event *models.Event) error
	AddFile(ctx context.Context, id string, file *models.FileInfo) error
	RemoveFile(ctx context.Context, id, fileID string) error
	GetFileByPath(ctx context.Context, id, path string) (*models.FileInfo, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateLatestMessage(ctx context.Context, id, message string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
	UpdateTaskID(ctx context.Context, id, taskID string) error
	UpdateSandboxID(ctx context.Context, id, sandboxID string) error
	UpdateUnreadMessageCount(ctx context.Context, id string, count int) error
	IncrementUnreadMessageCount(ctx context.Context, id string) error
	UpdateSharedStatus(ctx context.Context, id string, shared bool) error
}

// AgentStore persists agent personas. *services.AgentService satisfies it.
type AgentStore interface {
	FindByID(ctx context.Context, id string) (*models.Agent, error)
	Save(ctx context.Context, agent *models.Agent) error
}

// LLM is the model client surface the coordinator needs: completions for
// the agents plus the configuration echoed into new agent personas.
// *llm.Client satisfies it.
type LLM interface {
	Ask(ctx context.Context, messages []*models.ChatMessage, tools []llm.ToolDefinition, format string) (*models.ChatMessage, error)
	Model() string
	Temperature() float32
	MaxTokens() int
}

// Sandbox is the control surface of one running sandbox environment.
// *sandbox.Sandbox satisfies it; the coordinator hands slices of it to the
// tool registry and the task runner.
type Sandbox interface {
	ID() string
	Host() string
	CDPURL() string
	VNCURL() string

	ExecShell(ctx context.Context, shellID, workDir, command string) (*sandbox.ShellResult, error)
	ViewShell(ctx context.Context, shellID string) (*sandbox.ShellResult, error)
	WaitShell(ctx context.Context, shellID string, seconds int) (*sandbox.ShellResult, error)
	WriteShell(ctx context.Context, shellID, input string, pressEnter bool) (*sandbox.ShellResult, error)
	KillShell(ctx context.Context, shellID string) (*sandbox.ShellResult, error)

	FileRead(ctx context.Context, filePath string, startLine, endLine int) (string, error)
	FileWrite(ctx context.Context, filePath, content string, appendMode bool) error
	FileExists(ctx context.Context, filePath string) (bool, error)
	FileFind(ctx context.Context, dir, glob string) ([]string, error)
	FileUpload(ctx context.Context, data []byte, filePath string) error
	FileDownload(ctx context.Context, filePath string) ([]byte, error)
}

// Sandboxes provisions and resolves sandbox environments. *sandbox.Manager
// satisfies it through the managerSandboxes adapter.
type Sandboxes interface {
	Ensure(ctx context.Context, sandboxID string) (Sandbox, bool, error)
	Get(ctx context.Context, sandboxID string) (Sandbox, error)
	Destroy(ctx context.Context, sandboxID string) error
}

// Task is one live agent worker. *taskrunner.Task satisfies it.
type Task interface {
	ID() string
	Input() taskrunner.Queue
	Output() taskrunner.Queue
	Run()
	Cancel() bool
	Done() bool
}

// Tasks is the live-task registry. *taskrunner.Registry satisfies it
// through the registryTasks adapter.
type Tasks interface {
	Create(runner taskrunner.Runner) Task
	Get(id string) Task
	Shutdown(ctx context.Context)
}

// Coordinator is the application service behind the session API.
type Coordinator struct {
	settings  *config.Settings
	llm       LLM
	agents    AgentStore
	sessions  SessionStore
	files     storage.FileStorage
	sandboxes Sandboxes
	nodes     tools.NodeOps
	tickets   tools.TicketOps
	search    search.Provider
	tasks     Tasks
	logger    *slog.Logger
}

// Deps carries the coordinator's collaborators. Search is optional; every
// other field is required.
type Deps struct {
	Settings  *config.Settings
	LLM       LLM
	Agents    AgentStore
	Sessions  SessionStore
	Files     storage.FileStorage
	Sandboxes *sandbox.Manager
	Nodes     tools.NodeOps
	Tickets   tools.TicketOps
	Search    search.Provider
	Registry  *taskrunner.Registry
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(deps Deps) *Coordinator {
	return &Coordinator{
		settings:  deps.Settings,
		llm:       deps.LLM,
		agents:    deps.Agents,
		sessions:  deps.Sessions,
		files:     deps.Files,
		sandboxes: managerSandboxes{m: deps.Sandboxes},
		nodes:     deps.Nodes,
		tickets:   deps.Tickets,
		search:    deps.Search,
		tasks:     registryTasks{r: deps.Registry},
		logger:    slog.With("component", "coordinator"),
	}
}

// CreateSession provisions an agent persona and a new chat session for the
// user.
func (c *Coordinator) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	return c.createSession(ctx, userID, models.SessionTypeChat)
}

// CreateTicketSession provisions the backend session a new ticket binds to.
// It is part of the services.Dispatcher implementation.
func (c *Coordinator) CreateTicketSession(ctx context.Context, userID string) (*models.Session, error) {
	return c.createSession(ctx, userID, models.SessionTypeTicket)
}

func (c *Coordinator) createSession(ctx context.Context, userID string, sessionType models.SessionType) (*models.Session, error) {
	agent := models.NewAgent(c.llm.Model(), c.llm.Temperature(), c.llm.MaxTokens())
	if err := c.agents.Save(ctx, agent); err != nil {
		return nil, fmt.Errorf("save agent: %w", err)
	}

	session := models.NewSession(userID)
	session.AgentID = agent.ID
	session.SessionType = sessionType
	if err := c.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	c.logger.Info("Session created",
		"session_id", session.ID, "user_id", userID, "session_type", sessionType)
	return session, nil
}

// GetSession returns the session, enforcing ownership when userID is
// non-empty. Signed-URL callers pass an empty userID.
func (c *Coordinator) GetSession(ctx context.Context, id, userID string) (*models.Session, error) {
	if userID == "" {
		return c.foundSession(ctx, id)
	}
	return c.ownedSession(ctx, id, userID)
}

// GetAllSessions lists the user's sessions of every type, newest activity
// first.
func (c *Coordinator) GetAllSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return c.sessions.FindByUserID(ctx, userID, "")
}

// DeleteSession removes the session after cancelling any live task still
// attached to it.
func (c *Coordinator) DeleteSession(ctx context.Context, id, userID string) error {
	session, err := c.ownedSession(ctx, id, userID)
	if err != nil {
		return err
	}
	if task := c.taskOf(session); task != nil {
		task.Cancel()
	}
	if err := c.sessions.Delete(ctx, id); err != nil {
		return err
	}
	c.logger.Info("Session deleted", "session_id", id, "user_id", userID)
	return nil
}

// StopSession cancels the session's live task and marks the session
// completed. The runner emits the final Done event on its way out.
func (c *Coordinator) StopSession(ctx context.Context, id, userID string) error {
	session, err := c.ownedSession(ctx, id, userID)
	if err != nil {
		return err
	}
	if task := c.taskOf(session); task != nil && task.Cancel() {
		c.logger.Info("Task cancelled", "session_id", id, "task_id", task.ID())
	}
	if err := c.sessions.UpdateStatus(ctx, id, models.SessionStatusCompleted); err != nil {
		return err
	}
	c.logger.Info("Session stopped", "session_id", id, "user_id", userID)
	return nil
}

// ClearUnreadMessageCount zeroes the session's unread counter.
func (c *Coordinator) ClearUnreadMessageCount(ctx context.Context, id, userID string) error {
	if _, err := c.ownedSession(ctx, id, userID); err != nil {
		return err
	}
	return c.sessions.UpdateUnreadMessageCount(ctx, id, 0)
}

// ShellView returns the console buffer of one shell inside the session's
// sandbox.
func (c *Coordinator) ShellView(ctx context.Context, id, userID, shellID string) (*sandbox.ShellResult, error) {
	sb, err := c.sessionSandbox(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return sb.ViewShell(ctx, shellID)
}

// FileView reads a file from the session's sandbox.
func (c *Coordinator) FileView(ctx context.Context, id, userID, filePath string) (string, error) {
	sb, err := c.sessionSandbox(ctx, id, userID)
	if err != nil {
		return "", err
	}
	return sb.FileRead(ctx, filePath, 0, 0)
}

// VNCURL returns the websocket URL of the sandbox's VNC endpoint. Callers
// are authenticated by signed URL rather than ownership, so there is no
// user check.
func (c *Coordinator) VNCURL(ctx context.Context, id string) (string, error) {
	session, err := c.foundSession(ctx, id)
	if err != nil {
		return "", err
	}
	sb, err := c.sandboxOf(ctx, session)
	if err != nil {
		return "", err
	}
	return sb.VNCURL(), nil
}

// IsSessionShared reports whether the session is published read-only.
func (c *Coordinator) IsSessionShared(ctx context.Context, id string) (bool, error) {
	session, err := c.foundSession(ctx, id)
	if err != nil {
		return false, err
	}
	return session.IsShared, nil
}

// GetSessionFiles lists the files recorded on the session.
func (c *Coordinator) GetSessionFiles(ctx context.Context, id, userID string) ([]*models.FileInfo, error) {
	session, err := c.GetSession(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return session.Files, nil
}

// ShareSession publishes the session read-only.
func (c *Coordinator) ShareSession(ctx context.Context, id, userID string) error {
	if _, err := c.ownedSession(ctx, id, userID); err != nil {
		return err
	}
	return c.sessions.UpdateSharedStatus(ctx, id, true)
}

// UnshareSession withdraws the shared view.
func (c *Coordinator) UnshareSession(ctx context.Context, id, userID string) error {
	if _, err := c.ownedSession(ctx, id, userID); err != nil {
		return err
	}
	return c.sessions.UpdateSharedStatus(ctx, id, false)
}

// GetSharedSession returns the session only when it is shared; anything
// else presents as not found.
func (c *Coordinator) GetSharedSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := c.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || !session.IsShared {
		return nil, fmt.Errorf("shared session %s: %w", id, services.ErrNotFound)
	}
	return session, nil
}

// GetSharedSessionFiles lists the files of a shared session.
func (c *Coordinator) GetSharedSessionFiles(ctx context.Context, id string) ([]*models.FileInfo, error) {
	session, err := c.GetSharedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Files, nil
}

// Shutdown cancels every live task and releases the resources they hold.
// ctx bounds the wait.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down live tasks")
	c.tasks.Shutdown(ctx)
}

// ownedSession loads the session and enforces ownership; a foreign session
// is indistinguishable from a missing one.
func (c *Coordinator) ownedSession(ctx context.Context, id, userID string) (*models.Session, error) {
	session, err := c.sessions.FindByIDAndUserID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		c.logger.Warn("Session not found for user", "session_id", id, "user_id", userID)
		return nil, fmt.Errorf("session %s: %w", id, services.ErrNotFound)
	}
	return session, nil
}

func (c *Coordinator) foundSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := c.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, services.ErrNotFound)
	}
	return session, nil
}

// sessionSandbox resolves the sandbox behind an owned session.
func (c *Coordinator) sessionSandbox(ctx context.Context, id, userID string) (Sandbox, error) {
	session, err := c.ownedSession(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return c.sandboxOf(ctx, session)
}

func (c *Coordinator) sandboxOf(ctx context.Context, session *models.Session) (Sandbox, error) {
	if session.SandboxID == "" {
		return nil, fmt.Errorf("session %s has no sandbox: %w", session.ID, services.ErrNotFound)
	}
	return c.sandboxes.Get(ctx, session.SandboxID)
}

// taskOf returns the session's live task, if the registry still has one.
func (c *Coordinator) taskOf(session *models.Session) Task {
	if session.TaskID == "" {
		return nil
	}
	return c.tasks.Get(session.TaskID)
}

// managerSandboxes lifts *sandbox.Manager's concrete returns into the
// Sandbox interface.
type managerSandboxes struct {
	m *sandbox.Manager
}

func (a managerSandboxes) Ensure(ctx context.Context, sandboxID string) (Sandbox, bool, error) {
	sb, created, err := a.m.Ensure(ctx, sandboxID)
	if err != nil {
		return nil, false, err
	}
	return sb, created, nil
}

func (a managerSandboxes) Get(ctx context.Context, sandboxID string) (Sandbox, error) {
	sb, err := a.m.Get(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func (a managerSandboxes) Destroy(ctx context.Context, sandboxID string) error {
	return a.m.Destroy(ctx, sandboxID)
}

// registryTasks lifts *taskrunner.Registry's concrete returns into the Task
// interface.
type registryTasks struct {
	r *taskrunner.Registry
}

func (a registryTasks) Create(runner taskrunner.Runner) Task {
	return a.r.Create(runner)
}

func (a registryTasks) Get(id string) Task {
	if t := a.r.Get(id); t != nil {
		return t
	}
	return nil
}

func (a registryTasks) Shutdown(ctx context.Context) {
	a.r.Shutdown(ctx)
}
