package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/steadyops/steward/pkg/models"
)

// Dispatcher drives the agent behind a session. The orchestrator implements
// it; declaring it here keeps the ticket workflow free of that dependency.
type Dispatcher interface {
	// CreateTicketSession provisions the backend session a new ticket binds to.
	CreateTicketSession(ctx context.Context, userID string) (*models.Session, error)

	// Dispatch sends a message into the session and drains the agent's
	// response to completion.
	Dispatch(ctx context.Context, sessionID, userID, message string) error
}

// CreateTicketInput is the caller-supplied part of a new ticket.
type CreateTicketInput struct {
	Title            string
	Description      string
	NodeIDs          []string
	PluginIDs        []string
	Tags             []string
	Priority         models.TicketPriority
	Urgency          models.TicketUrgency
	EstimatedMinutes *int
	SLAHours         *int
}

// TicketUpdate carries the mutable ticket fields; nil pointers leave the
// current value untouched.
type TicketUpdate struct {
	Status           *models.TicketStatus
	Priority         *models.TicketPriority
	Urgency          *models.TicketUrgency
	Tags             *[]string
	EstimatedMinutes *int
	SpentMinutes     *int
	SLADueAt         *time.Time
}

// TicketService owns the ticket lifecycle and hands new work to the agent
// through the Dispatcher.
type TicketService struct {
	db         *sql.DB
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewTicketService creates a new TicketService. The dispatcher is attached
// later because the orchestrator is constructed after the services it uses.
func NewTicketService(db *sql.DB) *TicketService {
	return &TicketService{
		db:     db,
		logger: slog.With("component", "ticket_service"),
	}
}

// SetDispatcher attaches the agent dispatcher.
func (s *TicketService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Create validates the input, provisions the backing session, persists the
// ticket, and dispatches it to the agent asynchronously.
func (s *TicketService) Create(ctx context.Context, user *models.User, input CreateTicketInput) (*models.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" {
		return nil, NewValidationError("title", "ticket title is required")
	}
	if description == "" {
		return nil, NewValidationError("description", "ticket description is required")
	}
	if s.dispatcher == nil {
		return nil, fmt.Errorf("ticket dispatcher is not configured")
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityP2
	}
	urgency := input.Urgency
	if urgency == "" {
		urgency = models.UrgencyMedium
	}

	session, err := s.dispatcher.CreateTicketSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("create ticket session: %w", err)
	}

	now := time.Now().UTC()
	ticket := &models.Ticket{
		ID:               models.NewShortID(),
		UserID:           user.ID,
		Title:            title,
		Description:      description,
		Status:           models.TicketOpen,
		Priority:         priority,
		Urgency:          urgency,
		Tags:             cleanTags(input.Tags),
		NodeIDs:          orEmpty(input.NodeIDs),
		PluginIDs:        orEmpty(input.PluginIDs),
		SessionID:        session.ID,
		Comments:         []*models.TicketComment{},
		Events:           []*models.TicketEvent{},
		EstimatedMinutes: input.EstimatedMinutes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if input.SLAHours != nil && *input.SLAHours > 0 {
		due := now.Add(time.Duration(*input.SLAHours) * time.Hour)
		ticket.SLADueAt = &due
	}
	ticket.AddComment(models.CommentSystem, "Ticket created and assigned to AI")
	ticket.AddEvent(models.TicketCreated, "Ticket created")
	ticket.AddEvent(models.TicketLinkedSession, fmt.Sprintf("Linked to backend session %s", session.ID))

	if err := s.save(ctx, ticket); err != nil {
		return nil, err
	}

	go s.dispatchToAI(ticket.ID, user.ID, buildDispatchPrompt(ticket))

	s.logger.Info("Ticket created", "ticket_id", ticket.ID, "session_id", session.ID, "user_id", user.ID)
	return ticket, nil
}

// List returns the user's tickets, most recently updated first.
func (s *TicketService) List(ctx context.Context, userID string) ([]*models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// Get returns a ticket owned by the user, or ErrNotFound.
func (s *TicketService) Get(ctx context.Context, ticketID, userID string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ? AND user_id = ?`, ticketID, userID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return t, err
}

// GetForTool returns a ticket without user scoping. The ticket tool runs
// inside the session already bound to the ticket.
func (s *TicketService) GetForTool(ctx context.Context, ticketID string) (*models.Ticket, error) {
	t, err := s.findByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ErrNotFound)
	}
	return t, nil
}

// GetBySession returns the ticket bound to a session, or nil.
func (s *TicketService) GetBySession(ctx context.Context, sessionID string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE session_id = ?`, sessionID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// Reply records a user comment and re-dispatches the ticket to the agent.
func (s *TicketService) Reply(ctx context.Context, ticketID string, user *models.User, message string) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID, user.ID)
	if err != nil {
		return nil, err
	}
	clean := strings.TrimSpace(message)
	if clean == "" {
		return nil, NewValidationError("message", "reply message is required")
	}
	if s.dispatcher == nil {
		return nil, fmt.Errorf("ticket dispatcher is not configured")
	}

	ticket.AddComment(models.CommentUser, clean)
	ticket.AddEvent(models.TicketUserReplied, "User added a reply")
	ticket.Status = models.TicketProcessing
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, ticket); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(
		"Ticket %s has an update from user. Please check and continue processing.\n\nUser reply:\n%s",
		ticket.ID, clean)
	go s.dispatchToAI(ticket.ID, user.ID, prompt)

	return ticket, nil
}

// AIReply records an agent comment. The first one stamps first_response_at;
// waitingUser moves the ticket into the user's court.
func (s *TicketService) AIReply(ctx context.Context, ticketID, message string, waitingUser bool) (*models.Ticket, error) {
	ticket, err := s.GetForTool(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	clean := strings.TrimSpace(message)
	if clean == "" {
		return nil, NewValidationError("message", "reply message is required")
	}

	ticket.AddComment(models.CommentAI, clean)
	ticket.AddEvent(models.TicketAIResponded, "AI posted an update")
	if ticket.FirstResponseAt == nil {
		now := time.Now().UTC()
		ticket.FirstResponseAt = &now
	}
	if waitingUser {
		ticket.Status = models.TicketWaitingUser
	} else {
		ticket.Status = models.TicketProcessing
	}
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Update applies field patches. Leaving resolved counts as a reopen;
// entering resolved stamps resolved_at.
func (s *TicketService) Update(ctx context.Context, ticketID, userID string, patch TicketUpdate) (*models.Ticket, error) {
	ticket, err := s.Get(ctx, ticketID, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if patch.Status != nil && *patch.Status != ticket.Status {
		if !validTicketStatus(*patch.Status) {
			return nil, NewValidationError("status", fmt.Sprintf("invalid status %q", *patch.Status))
		}
		applyStatusChange(ticket, *patch.Status, now)
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.Urgency != nil {
		ticket.Urgency = *patch.Urgency
	}
	if patch.Tags != nil {
		ticket.Tags = cleanTags(*patch.Tags)
	}
	if patch.EstimatedMinutes != nil {
		v := max(0, *patch.EstimatedMinutes)
		ticket.EstimatedMinutes = &v
	}
	if patch.SpentMinutes != nil {
		ticket.SpentMinutes = max(0, *patch.SpentMinutes)
	}
	if patch.SLADueAt != nil {
		ticket.SLADueAt = patch.SLADueAt
	}

	ticket.UpdatedAt = now
	if err := s.save(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// UpdateStatus moves the ticket to a new status without user scoping,
// for the ticket tool.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus) (*models.Ticket, error) {
	if !validTicketStatus(status) {
		return nil, NewValidationError("status", fmt.Sprintf("invalid status %q", status))
	}
	ticket, err := s.GetForTool(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	applyStatusChange(ticket, status, now)
	ticket.UpdatedAt = now
	if err := s.save(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// dispatchToAI marks the ticket dispatched and drives the agent. Runs on
// its own goroutine; a dispatch failure parks the ticket with the user so
// it is never silently stuck in processing.
func (s *TicketService) dispatchToAI(ticketID, userID, message string) {
	ctx := context.Background()

	ticket, err := s.findByID(ctx, ticketID)
	if err != nil || ticket == nil {
		s.logger.Error("Dispatch skipped, ticket unavailable", "ticket_id", ticketID, "error", err)
		return
	}
	ticket.Status = models.TicketProcessing
	ticket.AddEvent(models.TicketAutoDispatched, "Dispatched to AI")
	ticket.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, ticket); err != nil {
		s.logger.Error("Failed to mark ticket dispatched", "ticket_id", ticketID, "error", err)
		return
	}

	if err := s.dispatcher.Dispatch(ctx, ticket.SessionID, userID, message); err != nil {
		s.logger.Error("Ticket dispatch failed", "ticket_id", ticketID, "error", err)
		latest, ferr := s.findByID(ctx, ticketID)
		if ferr != nil || latest == nil {
			return
		}
		latest.Status = models.TicketWaitingUser
		latest.AddComment(models.CommentSystem, fmt.Sprintf("AI dispatch failed: %v", err))
		latest.AddEvent(models.TicketAIResponded, "AI dispatch failed")
		latest.UpdatedAt = time.Now().UTC()
		if serr := s.save(ctx, latest); serr != nil {
			s.logger.Error("Failed to record dispatch failure", "ticket_id", ticketID, "error", serr)
		}
	}
}

func buildDispatchPrompt(ticket *models.Ticket) string {
	return fmt.Sprintf(
		"Please check ticket [%s] and solve it.\n\n"+
			"Title: %s\n"+
			"Description: %s\n"+
			"Priority: %s\n"+
			"Urgency: %s\n"+
			"Tags: %s\n"+
			"Related nodes: %s\n"+
			"Related plugins: %s\n\n"+
			"You can use ticket tools to read/update/reply this ticket.",
		ticket.ID, ticket.Title, ticket.Description, ticket.Priority, ticket.Urgency,
		joinOrNone(ticket.Tags), joinOrNone(ticket.NodeIDs), joinOrNone(ticket.PluginIDs))
}

func applyStatusChange(ticket *models.Ticket, status models.TicketStatus, now time.Time) {
	if ticket.Status == models.TicketResolved && status != models.TicketResolved {
		ticket.ReopenCount++
	}
	ticket.Status = status
	ticket.AddEvent(models.TicketStatusChanged, fmt.Sprintf("Status changed to %s", status))
	if status == models.TicketResolved {
		ticket.ResolvedAt = &now
	}
}

func (s *TicketService) findByID(ctx context.Context, ticketID string) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, ticketID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

const ticketColumns = `id, user_id, title, description, status, priority, urgency, tags, node_ids,
	plugin_ids, session_id, comments, events, estimated_minutes, spent_minutes, sla_due_at,
	first_response_at, resolved_at, reopen_count, created_at, updated_at`

// save upserts the whole row; tickets are small and mutated as a unit.
func (s *TicketService) save(ctx context.Context, ticket *models.Ticket) error {
	tagsJSON, err := json.Marshal(orEmpty(ticket.Tags))
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	nodeIDsJSON, err := json.Marshal(orEmpty(ticket.NodeIDs))
	if err != nil {
		return fmt.Errorf("marshal node_ids: %w", err)
	}
	pluginIDsJSON, err := json.Marshal(orEmpty(ticket.PluginIDs))
	if err != nil {
		return fmt.Errorf("marshal plugin_ids: %w", err)
	}
	commentsJSON, err := json.Marshal(ticket.Comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	eventsJSON, err := json.Marshal(ticket.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (`+ticketColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id,
		   title = excluded.title,
		   description = excluded.description,
		   status = excluded.status,
		   priority = excluded.priority,
		   urgency = excluded.urgency,
		   tags = excluded.tags,
		   node_ids = excluded.node_ids,
		   plugin_ids = excluded.plugin_ids,
		   session_id = excluded.session_id,
		   comments = excluded.comments,
		   events = excluded.events,
		   estimated_minutes = excluded.estimated_minutes,
		   spent_minutes = excluded.spent_minutes,
		   sla_due_at = excluded.sla_due_at,
		   first_response_at = excluded.first_response_at,
		   resolved_at = excluded.resolved_at,
		   reopen_count = excluded.reopen_count,
		   created_at = excluded.created_at,
		   updated_at = excluded.updated_at`,
		ticket.ID, ticket.UserID, ticket.Title, ticket.Description, string(ticket.Status),
		string(ticket.Priority), string(ticket.Urgency), string(tagsJSON), string(nodeIDsJSON),
		string(pluginIDsJSON), ticket.SessionID, string(commentsJSON), string(eventsJSON),
		nullableInt(ticket.EstimatedMinutes), ticket.SpentMinutes, nullTime(ticket.SLADueAt),
		nullTime(ticket.FirstResponseAt), nullTime(ticket.ResolvedAt), ticket.ReopenCount,
		ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save ticket: %w", err)
	}
	return nil
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t               models.Ticket
		status          string
		priority        string
		urgency         string
		tagsJSON        string
		nodeIDsJSON     string
		pluginIDsJSON   string
		commentsJSON    string
		eventsJSON      string
		estimated       sql.NullInt64
		slaDueAt        sql.NullTime
		firstResponseAt sql.NullTime
		resolvedAt      sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &status, &priority, &urgency,
		&tagsJSON, &nodeIDsJSON, &pluginIDsJSON, &t.SessionID, &commentsJSON, &eventsJSON,
		&estimated, &t.SpentMinutes, &slaDueAt, &firstResponseAt, &resolvedAt, &t.ReopenCount,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TicketStatus(status)
	t.Priority = models.TicketPriority(priority)
	t.Urgency = models.TicketUrgency(urgency)
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(nodeIDsJSON), &t.NodeIDs); err != nil {
		return nil, fmt.Errorf("unmarshal node_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(pluginIDsJSON), &t.PluginIDs); err != nil {
		return nil, fmt.Errorf("unmarshal plugin_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(commentsJSON), &t.Comments); err != nil {
		return nil, fmt.Errorf("unmarshal comments: %w", err)
	}
	if err := json.Unmarshal([]byte(eventsJSON), &t.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedMinutes = &v
	}
	if slaDueAt.Valid {
		v := slaDueAt.Time
		t.SLADueAt = &v
	}
	if firstResponseAt.Valid {
		v := firstResponseAt.Time
		t.FirstResponseAt = &v
	}
	if resolvedAt.Valid {
		v := resolvedAt.Time
		t.ResolvedAt = &v
	}
	return &t, nil
}

func validTicketStatus(status models.TicketStatus) bool {
	switch status {
	case models.TicketOpen, models.TicketProcessing, models.TicketWaitingUser, models.TicketResolved:
		return true
	}
	return false
}

func cleanTags(tags []string) []string {
	out := []string{}
	for _, tag := range tags {
		if t := strings.TrimSpace(tag); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
