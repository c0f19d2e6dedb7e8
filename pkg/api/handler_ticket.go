package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/services"
)

const (
	maxTicketTitleLength   = 120
	maxTicketMessageLength = 5000
	maxTicketMinutes       = 60 * 24 * 30
	maxTicketSLAHours      = 24 * 90
)

// CreateTicketRequest is the HTTP request body for POST /tickets.
type CreateTicketRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	NodeIDs          []string `json:"node_ids"`
	PluginIDs        []string `json:"plugin_ids"`
	Tags             []string `json:"tags"`
	Priority         string   `json:"priority"`
	Urgency          string   `json:"urgency"`
	EstimatedMinutes *int     `json:"estimated_minutes"`
	SLAHours         *int     `json:"sla_hours"`
}

// TicketReplyRequest is the HTTP request body for POST /tickets/:ticket_id/reply.
type TicketReplyRequest struct {
	Message string `json:"message"`
}

// UpdateTicketRequest is the HTTP request body for PUT /tickets/:ticket_id.
// Absent fields keep their current values.
type UpdateTicketRequest struct {
	Status           *string    `json:"status"`
	Priority         *string    `json:"priority"`
	Urgency          *string    `json:"urgency"`
	Tags             *[]string  `json:"tags"`
	EstimatedMinutes *int       `json:"estimated_minutes"`
	SpentMinutes     *int       `json:"spent_minutes"`
	SLADueAt         *time.Time `json:"sla_due_at"`
}

// ListTicketsResponse is the HTTP response for GET /tickets.
type ListTicketsResponse struct {
	Tickets []*models.Ticket `json:"tickets"`
}

// listTicketsHandler handles GET /api/v1/tickets.
func (s *Server) listTicketsHandler(c *echo.Context) error {
	tickets, err := s.tickets.List(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ListTicketsResponse{Tickets: tickets})
}

// createTicketHandler handles POST /api/v1/tickets.
func (s *Server) createTicketHandler(c *echo.Context) error {
	var req CreateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	if len(req.Title) > maxTicketTitleLength {
		return echo.NewHTTPError(http.StatusBadRequest, "title must be at most 120 characters")
	}
	if strings.TrimSpace(req.Description) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}
	if len(req.Description) > maxTicketMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "description must be at most 5000 characters")
	}
	priority, err := ticketPriority(req.Priority)
	if err != nil {
		return err
	}
	urgency, err := ticketUrgency(req.Urgency)
	if err != nil {
		return err
	}
	if req.EstimatedMinutes != nil && (*req.EstimatedMinutes < 0 || *req.EstimatedMinutes > maxTicketMinutes) {
		return echo.NewHTTPError(http.StatusBadRequest, "estimated_minutes is out of range")
	}
	if req.SLAHours != nil && (*req.SLAHours < 1 || *req.SLAHours > maxTicketSLAHours) {
		return echo.NewHTTPError(http.StatusBadRequest, "sla_hours is out of range")
	}

	ticket, err := s.tickets.Create(c.Request().Context(), currentUser(c), services.CreateTicketInput{
		Title:            req.Title,
		Description:      req.Description,
		NodeIDs:          req.NodeIDs,
		PluginIDs:        req.PluginIDs,
		Tags:             req.Tags,
		Priority:         priority,
		Urgency:          urgency,
		EstimatedMinutes: req.EstimatedMinutes,
		SLAHours:         req.SLAHours,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}

// getTicketHandler handles GET /api/v1/tickets/:ticket_id.
func (s *Server) getTicketHandler(c *echo.Context) error {
	ticketID := c.Param("ticket_id")
	if ticketID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticket id is required")
	}

	ticket, err := s.tickets.Get(c.Request().Context(), ticketID, currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}

// replyTicketHandler handles POST /api/v1/tickets/:ticket_id/reply.
func (s *Server) replyTicketHandler(c *echo.Context) error {
	ticketID := c.Param("ticket_id")
	if ticketID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticket id is required")
	}

	var req TicketReplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len(req.Message) > maxTicketMessageLength {
		return echo.NewHTTPError(http.StatusBadRequest, "message must be at most 5000 characters")
	}

	ticket, err := s.tickets.Reply(c.Request().Context(), ticketID, currentUser(c), req.Message)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}

// updateTicketHandler handles PUT /api/v1/tickets/:ticket_id.
func (s *Server) updateTicketHandler(c *echo.Context) error {
	ticketID := c.Param("ticket_id")
	if ticketID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "ticket id is required")
	}

	var req UpdateTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patch := services.TicketUpdate{
		Tags:             req.Tags,
		EstimatedMinutes: req.EstimatedMinutes,
		SpentMinutes:     req.SpentMinutes,
		SLADueAt:         req.SLADueAt,
	}
	if req.Status != nil {
		status := models.TicketStatus(*req.Status)
		switch status {
		case models.TicketOpen, models.TicketProcessing, models.TicketWaitingUser, models.TicketResolved:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "status must be one of open, processing, waiting_user, resolved")
		}
		patch.Status = &status
	}
	if req.Priority != nil {
		priority, err := ticketPriority(*req.Priority)
		if err != nil {
			return err
		}
		patch.Priority = &priority
	}
	if req.Urgency != nil {
		urgency, err := ticketUrgency(*req.Urgency)
		if err != nil {
			return err
		}
		patch.Urgency = &urgency
	}
	if req.EstimatedMinutes != nil && (*req.EstimatedMinutes < 0 || *req.EstimatedMinutes > maxTicketMinutes) {
		return echo.NewHTTPError(http.StatusBadRequest, "estimated_minutes is out of range")
	}
	if req.SpentMinutes != nil && (*req.SpentMinutes < 0 || *req.SpentMinutes > maxTicketMinutes) {
		return echo.NewHTTPError(http.StatusBadRequest, "spent_minutes is out of range")
	}

	ticket, err := s.tickets.Update(c.Request().Context(), ticketID, currentUser(c).ID, patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ticket)
}

func ticketPriority(v string) (models.TicketPriority, error) {
	switch p := models.TicketPriority(v); p {
	case "", models.PriorityP0, models.PriorityP1, models.PriorityP2, models.PriorityP3:
		return p, nil
	default:
		return "", echo.NewHTTPError(http.StatusBadRequest, "priority must be one of p0, p1, p2, p3")
	}
}

func ticketUrgency(v string) (models.TicketUrgency, error) {
	switch u := models.TicketUrgency(v); u {
	case "", models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh, models.UrgencyCritical:
		return u, nil
	default:
		return "", echo.NewHTTPError(http.StatusBadRequest, "urgency must be one of low, medium, high, critical")
	}
}
