package models

import "time"

// TicketStatus is the workflow state of a ticket
type TicketStatus string

const (
	TicketOpen        TicketStatus = "open"
	TicketProcessing  TicketStatus = "processing"
	TicketWaitingUser TicketStatus = "waiting_user"
	TicketResolved    TicketStatus = "resolved"
)

// TicketPriority p0 is the most urgent
type TicketPriority string

const (
	PriorityP0 TicketPriority = "p0"
	PriorityP1 TicketPriority = "p1"
	PriorityP2 TicketPriority = "p2"
	PriorityP3 TicketPriority = "p3"
)

// TicketUrgency is the reporter's own severity estimate
type TicketUrgency string

const (
	UrgencyLow      TicketUrgency = "low"
	UrgencyMedium   TicketUrgency = "medium"
	UrgencyHigh     TicketUrgency = "high"
	UrgencyCritical TicketUrgency = "critical"
)

// CommentRole identifies the author of a ticket comment
type CommentRole string

const (
	CommentUser   CommentRole = "user"
	CommentAI     CommentRole = "ai"
	CommentSystem CommentRole = "system"
)

// TicketEventType tags entries on a ticket's audit trail
type TicketEventType string

const (
	TicketCreated        TicketEventType = "created"
	TicketStatusChanged  TicketEventType = "status_changed"
	TicketCommentAdded   TicketEventType = "comment_added"
	TicketAutoDispatched TicketEventType = "auto_dispatched"
	TicketAIResponded    TicketEventType = "ai_responded"
	TicketUserReplied    TicketEventType = "user_replied"
	TicketLinkedSession  TicketEventType = "linked_session"
)

// TicketComment is a single conversation entry on a ticket.
type TicketComment struct {
	ID        string      `json:"id"`
	Role      CommentRole `json:"role"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// TicketEvent is one audit-trail entry on a ticket.
type TicketEvent struct {
	ID        string          `json:"id"`
	EventType TicketEventType `json:"event_type"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
}

// Ticket is an operations request bound one-to-one to a backend session.
type Ticket struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Status           TicketStatus     `json:"status"`
	Priority         TicketPriority   `json:"priority"`
	Urgency          TicketUrgency    `json:"urgency"`
	Tags             []string         `json:"tags"`
	NodeIDs          []string         `json:"node_ids"`
	PluginIDs        []string         `json:"plugin_ids"`
	SessionID        string           `json:"session_id"`
	Comments         []*TicketComment `json:"comments"`
	Events           []*TicketEvent   `json:"events"`
	EstimatedMinutes *int             `json:"estimated_minutes,omitempty"`
	SpentMinutes     int              `json:"spent_minutes"`
	SLADueAt         *time.Time       `json:"sla_due_at,omitempty"`
	FirstResponseAt  *time.Time       `json:"first_response_at,omitempty"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ReopenCount      int              `json:"reopen_count"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// AddComment appends a comment and returns it.
func (t *Ticket) AddComment(role CommentRole, message string) *TicketComment {
	c := &TicketComment{
		ID:        NewShortID(),
		Role:      role,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	t.Comments = append(t.Comments, c)
	return c
}

// AddEvent appends an audit-trail entry and returns it.
func (t *Ticket) AddEvent(eventType TicketEventType, message string) *TicketEvent {
	e := &TicketEvent{
		ID:        NewShortID(),
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	t.Events = append(t.Events, e)
	return e
}
