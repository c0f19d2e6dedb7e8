package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/services"
)

// maxExecCommandLength bounds one takeover command.
const maxExecCommandLength = 8000

// CreateNodeRequest is the HTTP request body for POST /nodes.
type CreateNodeRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	SSHEnabled         bool   `json:"ssh_enabled"`
	SSHHost            string `json:"ssh_host"`
	SSHPort            int    `json:"ssh_port"`
	SSHUsername        string `json:"ssh_username"`
	SSHAuthType        string `json:"ssh_auth_type"`
	SSHPassword        string `json:"ssh_password"`
	SSHPrivateKey      string `json:"ssh_private_key"`
	SSHPassphrase      string `json:"ssh_passphrase"`
	SSHRequireApproval bool   `json:"ssh_require_approval"`
}

// UpdateNodeRequest is the HTTP request body for PUT /nodes/:node_id. Absent
// fields keep their current values.
type UpdateNodeRequest struct {
	Name               *string `json:"name"`
	Description        *string `json:"description"`
	SSHEnabled         *bool   `json:"ssh_enabled"`
	SSHHost            *string `json:"ssh_host"`
	SSHPort            *int    `json:"ssh_port"`
	SSHUsername        *string `json:"ssh_username"`
	SSHAuthType        *string `json:"ssh_auth_type"`
	SSHPassword        *string `json:"ssh_password"`
	SSHPrivateKey      *string `json:"ssh_private_key"`
	SSHPassphrase      *string `json:"ssh_passphrase"`
	SSHRequireApproval *bool   `json:"ssh_require_approval"`
}

// ListNodesResponse is the HTTP response for GET /nodes.
type ListNodesResponse struct {
	Nodes []*models.SSHNode `json:"nodes"`
}

// SSHExecRequest is the HTTP request body for POST /nodes/:node_id/ssh/exec.
type SSHExecRequest struct {
	Command   string `json:"command"`
	ExecDir   string `json:"exec_dir"`
	SyncToAI  bool   `json:"sync_to_ai"`
	SessionID string `json:"session_id"`
}

// SSHExecResponse is the HTTP response for POST /nodes/:node_id/ssh/exec.
type SSHExecResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Command  string `json:"command"`
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
}

// SSHMonitorResponse is the HTTP response for GET /nodes/:node_id/monitor.
type SSHMonitorResponse struct {
	NodeID     string `json:"node_id"`
	NodeName   string `json:"node_name"`
	SystemInfo string `json:"system_info"`
}

// SSHLogsResponse is the HTTP response for GET /nodes/:node_id/logs.
type SSHLogsResponse struct {
	Logs []*models.SSHOperationLog `json:"logs"`
}

// PendingApprovalsResponse is the HTTP response for
// GET /nodes/sessions/:session_id/approvals.
type PendingApprovalsResponse struct {
	Approvals []*models.SSHCommandApproval `json:"approvals"`
}

// DecideApprovalRequest is the HTTP request body for
// POST /nodes/approvals/:approval_id/decision.
type DecideApprovalRequest struct {
	Approve      bool   `json:"approve"`
	RejectReason string `json:"reject_reason"`
}

// DecideApprovalResponse is the HTTP response for
// POST /nodes/approvals/:approval_id/decision.
type DecideApprovalResponse struct {
	ApprovalID string `json:"approval_id"`
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
}

// listNodesHandler handles GET /api/v1/nodes.
func (s *Server) listNodesHandler(c *echo.Context) error {
	nodes, err := s.nodes.List(c.Request().Context(), currentUser(c).ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ListNodesResponse{Nodes: nodes})
}

// createNodeHandler handles POST /api/v1/nodes.
func (s *Server) createNodeHandler(c *echo.Context) error {
	var req CreateNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validateNodeBasics(req.Name, req.SSHPort, req.SSHAuthType); err != nil {
		return err
	}

	authType := models.SSHAuthType(req.SSHAuthType)
	if req.SSHAuthType == "" {
		authType = models.SSHAuthPassword
	}
	port := req.SSHPort
	if port == 0 {
		port = 22
	}

	node, err := s.nodes.Create(c.Request().Context(), currentUser(c).ID, &models.SSHNode{
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		SSHEnabled:         req.SSHEnabled,
		SSHHost:            req.SSHHost,
		SSHPort:            port,
		SSHUsername:        req.SSHUsername,
		SSHAuthType:        authType,
		SSHPassword:        req.SSHPassword,
		SSHPrivateKey:      req.SSHPrivateKey,
		SSHPassphrase:      req.SSHPassphrase,
		SSHRequireApproval: req.SSHRequireApproval,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, node)
}

// getNodeHandler handles GET /api/v1/nodes/:node_id.
func (s *Server) getNodeHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	node, err := s.nodes.Get(c.Request().Context(), currentUser(c).ID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, node)
}

// updateNodeHandler handles PUT /api/v1/nodes/:node_id.
func (s *Server) updateNodeHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	var req UpdateNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	patch := services.NodeUpdate{
		Name:               req.Name,
		Description:        req.Description,
		SSHEnabled:         req.SSHEnabled,
		SSHHost:            req.SSHHost,
		SSHPort:            req.SSHPort,
		SSHUsername:        req.SSHUsername,
		SSHPassword:        req.SSHPassword,
		SSHPrivateKey:      req.SSHPrivateKey,
		SSHPassphrase:      req.SSHPassphrase,
		SSHRequireApproval: req.SSHRequireApproval,
	}
	if req.SSHPort != nil && (*req.SSHPort < 1 || *req.SSHPort > 65535) {
		return echo.NewHTTPError(http.StatusBadRequest, "ssh_port must be between 1 and 65535")
	}
	if req.SSHAuthType != nil {
		authType := models.SSHAuthType(*req.SSHAuthType)
		if authType != models.SSHAuthPassword && authType != models.SSHAuthPrivateKey {
			return echo.NewHTTPError(http.StatusBadRequest, "ssh_auth_type must be password or private_key")
		}
		patch.SSHAuthType = &authType
	}

	node, err := s.nodes.Update(c.Request().Context(), currentUser(c).ID, nodeID, patch)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, node)
}

// deleteNodeHandler handles DELETE /api/v1/nodes/:node_id.
func (s *Server) deleteNodeHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	if err := s.nodes.Delete(c.Request().Context(), currentUser(c).ID, nodeID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "node deleted"})
}

// execNodeCommandHandler handles POST /api/v1/nodes/:node_id/ssh/exec: a
// user-driven command, optionally mirrored into the session transcript so
// the agent sees the takeover on its next turn.
func (s *Server) execNodeCommandHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	var req SSHExecRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Command) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "command is required")
	}
	if len(req.Command) > maxExecCommandLength {
		return echo.NewHTTPError(http.StatusBadRequest, "command is too long")
	}

	source := "manual"
	if req.SyncToAI {
		source = "takeover"
	}
	result, err := s.nodes.RunCommand(c.Request().Context(), services.RunCommandInput{
		UserID:    currentUser(c).ID,
		NodeID:    nodeID,
		Command:   req.Command,
		ExecDir:   req.ExecDir,
		ActorType: "user",
		Source:    source,
		SessionID: req.SessionID,
	})
	if err != nil {
		return mapServiceError(err)
	}

	command := dataString(result.Data, "command", req.Command)
	output := dataString(result.Data, "output", "")
	if req.SyncToAI && req.SessionID != "" {
		s.nodes.AppendTakeoverMessage(c.Request().Context(), req.SessionID, nodeID, command, output)
	}

	return c.JSON(http.StatusOK, &SSHExecResponse{
		Success:  result.Success,
		Output:   output,
		Command:  command,
		NodeID:   dataString(result.Data, "node_id", nodeID),
		NodeName: dataString(result.Data, "node_name", ""),
	})
}

// monitorNodeHandler handles GET /api/v1/nodes/:node_id/monitor.
func (s *Server) monitorNodeHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	node, err := s.nodes.Get(c.Request().Context(), currentUser(c).ID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}
	info, err := s.nodes.Monitor(c.Request().Context(), currentUser(c).ID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SSHMonitorResponse{
		NodeID:     node.ID,
		NodeName:   node.Name,
		SystemInfo: info,
	})
}

// nodeOverviewHandler handles GET /api/v1/nodes/:node_id/overview.
func (s *Server) nodeOverviewHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	overview, err := s.nodes.Overview(c.Request().Context(), currentUser(c).ID, nodeID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, overview)
}

// nodeLogsHandler handles GET /api/v1/nodes/:node_id/logs.
func (s *Server) nodeLogsHandler(c *echo.Context) error {
	nodeID := c.Param("node_id")
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be an integer")
		}
		limit = n
	}

	logs, err := s.nodes.Logs(c.Request().Context(), currentUser(c).ID, nodeID, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SSHLogsResponse{Logs: logs})
}

// pendingApprovalsHandler handles GET /api/v1/nodes/sessions/:session_id/approvals.
func (s *Server) pendingApprovalsHandler(c *echo.Context) error {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	approvals, err := s.nodes.PendingApprovals(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &PendingApprovalsResponse{Approvals: approvals})
}

// decideApprovalHandler handles POST /api/v1/nodes/approvals/:approval_id/decision.
func (s *Server) decideApprovalHandler(c *echo.Context) error {
	approvalID := c.Param("approval_id")
	if approvalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approval id is required")
	}

	var req DecideApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.nodes.DecideApproval(c.Request().Context(), currentUser(c).ID, approvalID, req.Approve, req.RejectReason)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DecideApprovalResponse{
		ApprovalID: dataString(result.Data, "approval_id", approvalID),
		Status:     dataString(result.Data, "status", result.Message),
		Output:     dataString(result.Data, "output", ""),
	})
}

func validateNodeBasics(name string, port int, authType string) error {
	if strings.TrimSpace(name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if len(name) > 64 {
		return echo.NewHTTPError(http.StatusBadRequest, "name must be at most 64 characters")
	}
	if port != 0 && (port < 1 || port > 65535) {
		return echo.NewHTTPError(http.StatusBadRequest, "ssh_port must be between 1 and 65535")
	}
	switch models.SSHAuthType(authType) {
	case "", models.SSHAuthPassword, models.SSHAuthPrivateKey:
		return nil
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "ssh_auth_type must be password or private_key")
	}
}

// dataString pulls a string out of a tool-result data map, falling back when
// the key is absent or not a string.
func dataString(data map[string]any, key, fallback string) string {
	if data == nil {
		return fallback
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return fallback
}
