package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/orchestrator"
)

// sessionPollInterval paces the SSE session-list stream.
const sessionPollInterval = 5 * time.Second

// maxSignedURLMinutes caps requested signed-URL lifetimes.
const maxSignedURLMinutes = 15

// CreateSessionResponse is the HTTP response for PUT /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// GetSessionResponse is the HTTP response for GET /sessions/:id and the
// public shared-session view.
type GetSessionResponse struct {
	SessionID string               `json:"session_id"`
	Title     string               `json:"title"`
	Status    models.SessionStatus `json:"status"`
	Events    []*models.Event      `json:"events"`
	IsShared  bool                 `json:"is_shared"`
}

// ListSessionItem is one entry of the session list.
type ListSessionItem struct {
	SessionID          string               `json:"session_id"`
	Title              string               `json:"title"`
	Status             models.SessionStatus `json:"status"`
	UnreadMessageCount int                  `json:"unread_message_count"`
	LatestMessage      string               `json:"latest_message"`
	LatestMessageAt    *int64               `json:"latest_message_at"`
	IsShared           bool                 `json:"is_shared"`
}

// ListSessionResponse is the HTTP response for GET /sessions and the payload
// of each SSE "sessions" event.
type ListSessionResponse struct {
	Sessions []*ListSessionItem `json:"sessions"`
}

// ChatRequest is the HTTP request body for POST /sessions/:id/chat. An empty
// message tails the live event stream without queueing new work; EventID
// resumes the replay after the given event.
type ChatRequest struct {
	Message     string             `json:"message"`
	Timestamp   int64              `json:"timestamp"`
	EventID     string             `json:"event_id"`
	Attachments []*models.FileInfo `json:"attachments"`
}

// ShellViewRequest is the HTTP request body for POST /sessions/:id/shell.
// SessionID names the sandbox shell to read, not the chat session.
type ShellViewRequest struct {
	SessionID string `json:"session_id"`
}

// FileViewRequest is the HTTP request body for POST /sessions/:id/file.
type FileViewRequest struct {
	File string `json:"file"`
}

// FileViewResponse is the HTTP response for POST /sessions/:id/file.
type FileViewResponse struct {
	Content string `json:"content"`
	File    string `json:"file"`
}

// AccessTokenRequest is the HTTP request body for POST /sessions/:id/vnc/signed-url.
type AccessTokenRequest struct {
	ExpireMinutes int `json:"expire_minutes"`
}

// SignedURLResponse is the HTTP response for POST /sessions/:id/vnc/signed-url.
type SignedURLResponse struct {
	SignedURL string `json:"signed_url"`
	ExpiresIn int    `json:"expires_in"`
}

// ShareSessionResponse is the HTTP response for the share and unshare calls.
type ShareSessionResponse struct {
	SessionID string `json:"session_id"`
	IsShared  bool   `json:"is_shared"`
}

// createSessionHandler handles PUT /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	session, err := s.agent.CreateSession(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CreateSessionResponse{SessionID: session.ID})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.agent.GetSession(c.Request().Context(), sessionID, currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessionDetail(session))
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.agent.DeleteSession(c.Request().Context(), sessionID, currentUser(c).ID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "session deleted"})
}

// stopSessionHandler handles POST /api/v1/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.agent.StopSession(c.Request().Context(), sessionID, currentUser(c).ID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "session stopped"})
}

// clearUnreadHandler handles POST /api/v1/sessions/:id/clear_unread_message_count.
func (s *Server) clearUnreadHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.agent.ClearUnreadMessageCount(c.Request().Context(), sessionID, currentUser(c).ID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "unread count cleared"})
}

// listSessionsHandler handles GET /api/v1/sessions. The session_type query
// parameter is accepted for compatibility; the listing covers all of the
// user's sessions regardless.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.agent.GetAllSessions(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessionList(sessions))
}

// watchSessionsHandler handles POST /api/v1/sessions: an SSE stream that
// re-sends the session list every five seconds until the client goes away.
func (s *Server) watchSessionsHandler(c *echo.Context) error {
	userID := currentUser(c).ID
	ctx := c.Request().Context()

	stream := newSSEStream(c.Response())
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	for {
		sessions, err := s.agent.GetAllSessions(ctx, userID)
		if err != nil {
			s.logger.Warn("Session list poll failed", "user_id", userID, "error", err)
			return nil
		}
		if err := stream.send("sessions", sessionList(sessions)); err != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// chatHandler handles POST /api/v1/sessions/:id/chat. The agent's response
// is streamed back as server-sent events, one per agent event, named by the
// event type.
func (s *Server) chatHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	input := orchestrator.ChatInput{
		SessionID:   sessionID,
		UserID:      currentUser(c).ID,
		Message:     req.Message,
		LastEventID: req.EventID,
		Attachments: req.Attachments,
	}
	if req.Timestamp > 0 {
		input.Timestamp = time.Unix(req.Timestamp, 0)
	}

	events, err := s.agent.Chat(c.Request().Context(), input)
	if err != nil {
		return mapServiceError(err)
	}

	stream := newSSEStream(c.Response())
	for event := range events {
		if err := stream.send(string(event.Type), event); err != nil {
			// Client went away; the iterator unwinds via request context.
			return nil
		}
	}
	return nil
}

// shellViewHandler handles POST /api/v1/sessions/:id/shell.
func (s *Server) shellViewHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req ShellViewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "shell session id is required")
	}

	result, err := s.agent.ShellView(c.Request().Context(), sessionID, currentUser(c).ID, req.SessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// fileViewHandler handles POST /api/v1/sessions/:id/file.
func (s *Server) fileViewHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req FileViewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.File == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file path is required")
	}

	content, err := s.agent.FileView(c.Request().Context(), sessionID, currentUser(c).ID, req.File)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &FileViewResponse{Content: content, File: req.File})
}

// sessionFilesHandler handles GET /api/v1/sessions/:id/files. The route runs
// with optional auth: anonymous callers are allowed only on shared sessions.
func (s *Server) sessionFilesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	user := currentUser(c)
	if user == nil {
		shared, err := s.agent.IsSessionShared(c.Request().Context(), sessionID)
		if err != nil {
			return mapServiceError(err)
		}
		if !shared {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}
	files, err := s.agent.GetSessionFiles(c.Request().Context(), sessionID, userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, files)
}

// createVNCSignedURLHandler handles POST /api/v1/sessions/:id/vnc/signed-url.
// The returned URL grants temporary access to the VNC websocket without an
// Authorization header.
func (s *Server) createVNCSignedURLHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req AccessTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	minutes := req.ExpireMinutes
	if minutes <= 0 || minutes > maxSignedURLMinutes {
		minutes = maxSignedURLMinutes
	}

	// Ownership check before handing out access.
	if _, err := s.agent.GetSession(c.Request().Context(), sessionID, currentUser(c).ID); err != nil {
		return mapServiceError(err)
	}

	signedURL := s.tokens.SignURL("/api/v1/sessions/"+sessionID+"/vnc", time.Duration(minutes)*time.Minute)
	s.logger.Info("Created signed VNC URL", "session_id", sessionID, "user_id", currentUser(c).ID)
	return c.JSON(http.StatusOK, &SignedURLResponse{
		SignedURL: signedURL,
		ExpiresIn: minutes * 60,
	})
}

// shareSessionHandler handles POST /api/v1/sessions/:id/share.
func (s *Server) shareSessionHandler(c *echo.Context) error {
	return s.setSessionShared(c, true)
}

// unshareSessionHandler handles DELETE /api/v1/sessions/:id/share.
func (s *Server) unshareSessionHandler(c *echo.Context) error {
	return s.setSessionShared(c, false)
}

func (s *Server) setSessionShared(c *echo.Context, shared bool) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var err error
	if shared {
		err = s.agent.ShareSession(c.Request().Context(), sessionID, currentUser(c).ID)
	} else {
		err = s.agent.UnshareSession(c.Request().Context(), sessionID, currentUser(c).ID)
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ShareSessionResponse{SessionID: sessionID, IsShared: shared})
}

// sharedSessionHandler handles GET /api/v1/sessions/shared/:id. Public: the
// session must be explicitly shared; everything else presents as not found.
func (s *Server) sharedSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	session, err := s.agent.GetSharedSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, sessionDetail(session))
}

// sharedSessionFilesHandler handles GET /api/v1/sessions/:id/share/files.
// Public; file entries carry signed download URLs.
func (s *Server) sharedSessionFilesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	files, err := s.agent.GetSharedSessionFiles(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, s.files.WithSignedURLs(files))
}

func sessionDetail(session *models.Session) *GetSessionResponse {
	return &GetSessionResponse{
		SessionID: session.ID,
		Title:     session.Title,
		Status:    session.Status,
		Events:    session.Events,
		IsShared:  session.IsShared,
	}
}

func sessionList(sessions []*models.Session) *ListSessionResponse {
	items := make([]*ListSessionItem, 0, len(sessions))
	for _, session := range sessions {
		item := &ListSessionItem{
			SessionID:          session.ID,
			Title:              session.Title,
			Status:             session.Status,
			UnreadMessageCount: session.UnreadMessageCount,
			LatestMessage:      session.LatestMessage,
			IsShared:           session.IsShared,
		}
		if session.LatestMessageAt != nil {
			ts := session.LatestMessageAt.Unix()
			item.LatestMessageAt = &ts
		}
		items = append(items, item)
	}
	return &ListSessionResponse{Sessions: items}
}
