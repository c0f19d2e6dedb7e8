package tools

import (
	"context"
	"fmt"

	"github.com/steadyops/steward/pkg/models"
)

// ticketTailLimit bounds how many comments and audit events ticket_get
// surfaces to the model.
const ticketTailLimit = 20

// TicketOps is the ticket-service surface the ticket tool needs.
type TicketOps interface {
	GetForTool(ctx context.Context, ticketID string) (*models.Ticket, error)
	GetBySession(ctx context.Context, sessionID string) (*models.Ticket, error)
	AIReply(ctx context.Context, ticketID, message string, waitingUser bool) (*models.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID string, status models.TicketStatus) (*models.Ticket, error)
}

// TicketTool lets the agent work the ticket bound to its session: read it,
// move its status, and post replies.
type TicketTool struct {
	tickets   TicketOps
	sessionID string
}

// NewTicketTool wires the ticket functions to the ticket service for one
// session.
func NewTicketTool(tickets TicketOps, sessionID string) *TicketTool {
	return &TicketTool{tickets: tickets, sessionID: sessionID}
}

type ticketGetParams struct {
	TicketID string `json:"ticket_id,omitempty" jsonschema:"description=Ticket id; defaults to the ticket bound to the current session"`
}

type ticketUpdateStatusParams struct {
	Status   string `json:"status" jsonschema:"enum=open,enum=processing,enum=waiting_user,enum=resolved,description=New ticket status"`
	TicketID string `json:"ticket_id,omitempty" jsonschema:"description=Ticket id; defaults to the ticket bound to the current session"`
}

type ticketReplyParams struct {
	Message     string `json:"message" jsonschema:"description=Reply content to post into the ticket"`
	WaitingUser bool   `json:"waiting_user,omitempty" jsonschema:"description=Set true if the user must provide more information"`
	TicketID    string `json:"ticket_id,omitempty" jsonschema:"description=Ticket id; defaults to the ticket bound to the current session"`
}

func (t *TicketTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "ticket",
			Name:        "ticket_get",
			Description: "Get ticket details by ticket_id, or the ticket bound to the current session.",
			Parameters:  schemaFor(&ticketGetParams{}),
			Handler:     t.get,
		},
		{
			Tool:        "ticket",
			Name:        "ticket_update_status",
			Description: "Update the ticket status when progress changes.",
			Parameters:  schemaFor(&ticketUpdateStatusParams{}),
			Handler:     t.updateStatus,
		},
		{
			Tool:        "ticket",
			Name:        "ticket_reply",
			Description: "Reply to the ticket with progress, a result, or a request for user input.",
			Parameters:  schemaFor(&ticketReplyParams{}),
			Handler:     t.reply,
		},
	}
}

// resolveTicketID falls back to the session's bound ticket when the model
// did not pass an explicit id.
func (t *TicketTool) resolveTicketID(ctx context.Context, ticketID string) (string, error) {
	if ticketID != "" {
		return ticketID, nil
	}
	ticket, err := t.tickets.GetBySession(ctx, t.sessionID)
	if err != nil {
		return "", fmt.Errorf("no ticket bound to current session: %w", err)
	}
	if ticket == nil {
		return "", fmt.Errorf("no ticket bound to current session")
	}
	return ticket.ID, nil
}

func (t *TicketTool) get(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p ticketGetParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	ticketID, err := t.resolveTicketID(ctx, p.TicketID)
	if err != nil {
		return nil, err
	}
	ticket, err := t.tickets.GetForTool(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	comments := ticket.Comments
	if len(comments) > ticketTailLimit {
		comments = comments[len(comments)-ticketTailLimit:]
	}
	events := ticket.Events
	if len(events) > ticketTailLimit {
		events = events[len(events)-ticketTailLimit:]
	}

	return models.OkData("", map[string]any{
		"ticket_id":   ticket.ID,
		"title":       ticket.Title,
		"description": ticket.Description,
		"status":      string(ticket.Status),
		"priority":    string(ticket.Priority),
		"urgency":     string(ticket.Urgency),
		"tags":        ticket.Tags,
		"node_ids":    ticket.NodeIDs,
		"plugin_ids":  ticket.PluginIDs,
		"session_id":  ticket.SessionID,
		"comments":    comments,
		"events":      events,
	}), nil
}

func (t *TicketTool) updateStatus(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p ticketUpdateStatusParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	ticketID, err := t.resolveTicketID(ctx, p.TicketID)
	if err != nil {
		return nil, err
	}
	ticket, err := t.tickets.UpdateStatus(ctx, ticketID, models.TicketStatus(p.Status))
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("ticket %s is now %s", ticket.ID, ticket.Status),
		map[string]any{"ticket_id": ticket.ID, "status": string(ticket.Status)}), nil
}

func (t *TicketTool) reply(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p ticketReplyParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if p.Message == "" {
		return models.Fail("message must not be empty"), nil
	}
	ticketID, err := t.resolveTicketID(ctx, p.TicketID)
	if err != nil {
		return nil, err
	}
	ticket, err := t.tickets.AIReply(ctx, ticketID, p.Message, p.WaitingUser)
	if err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("reply posted to ticket %s", ticket.ID),
		map[string]any{"ticket_id": ticket.ID, "status": string(ticket.Status)}), nil
}
