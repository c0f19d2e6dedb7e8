package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// vncReadLimit sizes the per-message read limit. VNC framebuffer updates
// can run to many megabytes.
const vncReadLimit = 32 << 20

// vncProxyHandler handles GET /api/v1/sessions/:id/vnc. The route is
// authenticated by its signed URL; once accepted, the handler forwards
// binary frames between the browser and the sandbox's VNC websocket until
// either side closes.
func (s *Server) vncProxyHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	vncURL, err := s.agent.VNCURL(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	client, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		Subprotocols:       []string{"binary"},
		InsecureSkipVerify: true,
	})
	if err != nil {
		return fmt.Errorf("accept vnc websocket: %w", err)
	}
	defer client.CloseNow()
	s.logger.Info("Accepted VNC websocket", "session_id", sessionID)

	ctx := c.Request().Context()
	sandboxConn, _, err := websocket.Dial(ctx, vncURL, nil)
	if err != nil {
		s.logger.Error("Unable to connect to sandbox VNC", "session_id", sessionID, "error", err)
		_ = client.Close(websocket.StatusInternalError, "unable to connect to sandbox environment")
		return nil
	}
	defer sandboxConn.CloseNow()

	client.SetReadLimit(vncReadLimit)
	sandboxConn.SetReadLimit(vncReadLimit)

	// First pump to stop tears down the proxy; CloseNow on both ends
	// unblocks the other pump.
	errc := make(chan error, 2)
	go func() { errc <- pumpFrames(ctx, client, sandboxConn) }()
	go func() { errc <- pumpFrames(ctx, sandboxConn, client) }()

	err = <-errc
	switch {
	case websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled):
		s.logger.Info("VNC websocket closed", "session_id", sessionID)
		_ = client.Close(websocket.StatusNormalClosure, "")
	default:
		s.logger.Error("VNC proxy error", "session_id", sessionID, "error", err)
		_ = client.Close(websocket.StatusInternalError, "vnc proxy error")
	}
	return nil
}

// pumpFrames copies messages from src to dst until a read or write fails.
func pumpFrames(ctx context.Context, src, dst *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}
