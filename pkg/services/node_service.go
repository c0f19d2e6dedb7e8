package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sshexec"
)

// MaxNodesPerUser caps how many server nodes one user may register.
const MaxNodesPerUser = 8

// takeoverOutputLimit bounds how much command output is mirrored into the
// session transcript.
const takeoverOutputLimit = 4000

// overviewCommand probes the node in one round trip and prints key=value
// lines the parser below understands.
const overviewCommand = `echo "hostname=$(hostname)"; ` +
	`echo "os_name=$(grep -s PRETTY_NAME /etc/os-release | cut -d= -f2- | tr -d '\"')"; ` +
	`echo "kernel=$(uname -r)"; ` +
	`echo "uptime=$(uptime -p 2>/dev/null || uptime)"; ` +
	`echo "load_average=$(cut -d' ' -f1-3 /proc/loadavg)"; ` +
	`echo "mem_total_kb=$(awk '/MemTotal/ {print $2}' /proc/meminfo)"; ` +
	`echo "mem_available_kb=$(awk '/MemAvailable/ {print $2}' /proc/meminfo)"; ` +
	`echo "disk_root=$(df -P -k / | awk 'NR==2 {print $2" "$3" "$5}')"`

// monitorCommand is the raw system snapshot shown in the node monitor view.
const monitorCommand = "uname -a && echo '---' && uptime && echo '---' && free -h && echo '---' && df -h"

// RunCommandInput describes one command execution against a node.
type RunCommandInput struct {
	UserID    string
	NodeID    string
	Command   string
	ExecDir   string
	ActorType string // "user", "assistant", "system"
	Source    string // "manual", "takeover", "ai", "approval", "monitor", "overview"
	SessionID string
}

// NodeUpdate carries the mutable node fields; nil pointers leave the
// current value untouched.
type NodeUpdate struct {
	Name               *string
	Description        *string
	SSHEnabled         *bool
	SSHHost            *string
	SSHPort            *int
	SSHUsername        *string
	SSHAuthType        *models.SSHAuthType
	SSHPassword        *string
	SSHPrivateKey      *string
	SSHPassphrase      *string
	SSHRequireApproval *bool
}

// NodeService manages server nodes, remote command execution, and the
// approval workflow for AI-issued commands.
type NodeService struct {
	db       *sql.DB
	sessions *SessionService
	ssh      *sshexec.Executor
	logger   *slog.Logger
}

// NewNodeService creates a new NodeService.
func NewNodeService(db *sql.DB, sessions *SessionService, ssh *sshexec.Executor) *NodeService {
	return &NodeService{
		db:       db,
		sessions: sessions,
		ssh:      ssh,
		logger:   slog.With("component", "node_service"),
	}
}

// List returns all nodes owned by the user.
func (s *NodeService) List(ctx context.Context, userID string) ([]*models.SSHNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM server_nodes WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.SSHNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// Create registers a new node for the user.
func (s *NodeService) Create(ctx context.Context, userID string, node *models.SSHNode) (*models.SSHNode, error) {
	if strings.TrimSpace(node.Name) == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if node.SSHEnabled && node.SSHHost == "" {
		return nil, NewValidationError("ssh_host", "ssh_host is required when SSH is enabled")
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_nodes WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}
	if count >= MaxNodesPerUser {
		return nil, NewValidationError("nodes", fmt.Sprintf("you can add at most %d server nodes", MaxNodesPerUser))
	}

	now := time.Now().UTC()
	node.ID = models.NewID()
	node.UserID = userID
	if node.SSHPort == 0 {
		node.SSHPort = 22
	}
	node.CreatedAt = now
	node.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_nodes (id, user_id, name, description, ssh_enabled, ssh_host, ssh_port,
		 ssh_username, ssh_auth_type, ssh_password, ssh_private_key, ssh_passphrase,
		 ssh_require_approval, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.UserID, node.Name, node.Description, node.SSHEnabled, node.SSHHost, node.SSHPort,
		node.SSHUsername, string(node.SSHAuthType), node.SSHPassword, node.SSHPrivateKey, node.SSHPassphrase,
		node.SSHRequireApproval, node.CreatedAt, node.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}

	s.logger.Info("Node created", "node_id", node.ID, "user_id", userID, "name", node.Name)
	return node, nil
}

// Update applies the patch to an existing node.
func (s *NodeService) Update(ctx context.Context, userID, nodeID string, patch NodeUpdate) (*models.SSHNode, error) {
	node, err := s.Get(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return nil, NewValidationError("name", "name is required")
		}
		node.Name = *patch.Name
	}
	if patch.Description != nil {
		node.Description = *patch.Description
	}
	if patch.SSHEnabled != nil {
		node.SSHEnabled = *patch.SSHEnabled
	}
	if patch.SSHHost != nil {
		node.SSHHost = *patch.SSHHost
	}
	if patch.SSHPort != nil {
		node.SSHPort = *patch.SSHPort
	}
	if patch.SSHUsername != nil {
		node.SSHUsername = *patch.SSHUsername
	}
	if patch.SSHAuthType != nil {
		node.SSHAuthType = *patch.SSHAuthType
	}
	if patch.SSHPassword != nil {
		node.SSHPassword = *patch.SSHPassword
	}
	if patch.SSHPrivateKey != nil {
		node.SSHPrivateKey = *patch.SSHPrivateKey
	}
	if patch.SSHPassphrase != nil {
		node.SSHPassphrase = *patch.SSHPassphrase
	}
	if patch.SSHRequireApproval != nil {
		node.SSHRequireApproval = *patch.SSHRequireApproval
	}
	node.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE server_nodes SET name = ?, description = ?, ssh_enabled = ?, ssh_host = ?, ssh_port = ?,
		 ssh_username = ?, ssh_auth_type = ?, ssh_password = ?, ssh_private_key = ?, ssh_passphrase = ?,
		 ssh_require_approval = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		node.Name, node.Description, node.SSHEnabled, node.SSHHost, node.SSHPort,
		node.SSHUsername, string(node.SSHAuthType), node.SSHPassword, node.SSHPrivateKey, node.SSHPassphrase,
		node.SSHRequireApproval, node.UpdatedAt, nodeID, userID)
	if err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	return node, nil
}

// Delete removes a node owned by the user.
func (s *NodeService) Delete(ctx context.Context, userID, nodeID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM server_nodes WHERE id = ? AND user_id = ?`, nodeID, userID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return requireAffected(res, "node", nodeID)
}

// Get returns a node owned by the user, or ErrNotFound.
func (s *NodeService) Get(ctx context.Context, userID, nodeID string) (*models.SSHNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM server_nodes WHERE id = ? AND user_id = ?`, nodeID, userID)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return node, err
}

// RunCommand executes a shell command on the node and records an operation
// log whatever the outcome.
func (s *NodeService) RunCommand(ctx context.Context, input RunCommandInput) (*models.ToolResult, error) {
	node, err := s.Get(ctx, input.UserID, input.NodeID)
	if err != nil {
		return nil, err
	}
	if !node.SSHEnabled {
		return nil, NewValidationError("node", "SSH is not enabled for this node")
	}

	command := strings.TrimSpace(input.Command)
	if command == "" {
		return nil, NewValidationError("command", "command is required")
	}
	if input.ExecDir != "" {
		command = fmt.Sprintf("cd %s && %s", input.ExecDir, command)
	}

	res, err := s.ssh.Run(ctx, node, command)
	if err != nil {
		res = &sshexec.Result{Success: false, Output: err.Error()}
	}

	if err := s.addLog(ctx, &models.SSHOperationLog{
		ID:        models.NewID(),
		NodeID:    node.ID,
		UserID:    input.UserID,
		SessionID: input.SessionID,
		ActorType: input.ActorType,
		Source:    input.Source,
		Command:   command,
		Output:    res.Output,
		Success:   res.Success,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to record SSH operation log", "node_id", node.ID, "error", err)
	}

	message := "success"
	if !res.Success {
		message = "command failed"
	}
	return &models.ToolResult{
		Success: res.Success,
		Message: message,
		Data: map[string]any{
			"command":   command,
			"output":    res.Output,
			"node_id":   node.ID,
			"node_name": node.Name,
			"success":   res.Success,
		},
	}, nil
}

// ExecuteAICommand runs a command on behalf of the agent. Nodes flagged
// require_approval park the command as a pending approval instead of
// executing it.
func (s *NodeService) ExecuteAICommand(ctx context.Context, userID, sessionID, nodeID, command, toolCallID string) (*models.ToolResult, error) {
	node, err := s.Get(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}

	if node.SSHRequireApproval {
		approval, err := s.CreateApproval(ctx, userID, sessionID, nodeID, command, toolCallID)
		if err != nil {
			return nil, err
		}
		return &models.ToolResult{
			Success: false,
			Message: "approval_required",
			Data: map[string]any{
				"approval_required": true,
				"approval_id":       approval.ID,
				"node_id":           node.ID,
				"node_name":         node.Name,
				"command":           command,
			},
		}, nil
	}

	return s.RunCommand(ctx, RunCommandInput{
		UserID:    userID,
		NodeID:    nodeID,
		Command:   command,
		ActorType: "assistant",
		Source:    "ai",
		SessionID: sessionID,
	})
}

// CreateApproval parks an AI command until the user decides on it.
func (s *NodeService) CreateApproval(ctx context.Context, userID, sessionID, nodeID, command, toolCallID string) (*models.SSHCommandApproval, error) {
	node, err := s.Get(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}

	approval := &models.SSHCommandApproval{
		ID:                    models.NewID(),
		NodeID:                node.ID,
		UserID:                userID,
		SessionID:             sessionID,
		Command:               command,
		Status:                models.ApprovalPending,
		RequestedByToolCallID: toolCallID,
		CreatedAt:             time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ssh_command_approvals (id, node_id, user_id, session_id, command, status,
		 requested_by_tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		approval.ID, approval.NodeID, approval.UserID, approval.SessionID, approval.Command,
		string(approval.Status), approval.RequestedByToolCallID, approval.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert approval: %w", err)
	}

	s.logger.Info("SSH command approval created",
		"approval_id", approval.ID, "node_id", nodeID, "session_id", sessionID)
	return approval, nil
}

// PendingApprovals lists undecided approvals for a session.
func (s *NodeService) PendingApprovals(ctx context.Context, sessionID string) ([]*models.SSHCommandApproval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, user_id, session_id, command, status, reason,
		 requested_by_tool_call_id, decided_at, created_at
		 FROM ssh_command_approvals WHERE session_id = ? AND status = ? ORDER BY created_at`,
		sessionID, string(models.ApprovalPending))
	if err != nil {
		return nil, fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*models.SSHCommandApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// DecideApproval resolves a pending approval. Rejection records the reason
// and tells the agent; approval executes the command immediately and mirrors
// the output into the session transcript.
func (s *NodeService) DecideApproval(ctx context.Context, userID, approvalID string, approve bool, rejectReason string) (*models.ToolResult, error) {
	approval, err := s.getApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	node, err := s.Get(ctx, userID, approval.NodeID)
	if err != nil {
		return nil, err
	}

	if approval.Status != models.ApprovalPending {
		return &models.ToolResult{
			Success: false,
			Message: fmt.Sprintf("already_%s", approval.Status),
			Data:    map[string]any{"approval_id": approvalID, "status": string(approval.Status)},
		}, nil
	}

	if !approve {
		if err := s.updateApproval(ctx, approvalID, models.ApprovalRejected, rejectReason); err != nil {
			return nil, err
		}
		reason := rejectReason
		if reason == "" {
			reason = "No reason provided"
		}
		s.appendSessionMessage(ctx, approval.SessionID, fmt.Sprintf(
			"SSH command approval rejected for node [%s]. Command: %s. Reason: %s",
			node.Name, approval.Command, reason))
		return &models.ToolResult{
			Success: true,
			Message: "rejected",
			Data:    map[string]any{"approval_id": approvalID, "status": string(models.ApprovalRejected)},
		}, nil
	}

	if err := s.updateApproval(ctx, approvalID, models.ApprovalApproved, ""); err != nil {
		return nil, err
	}
	run, err := s.RunCommand(ctx, RunCommandInput{
		UserID:    userID,
		NodeID:    approval.NodeID,
		Command:   approval.Command,
		ActorType: "assistant",
		Source:    "approval",
		SessionID: approval.SessionID,
	})
	if err != nil {
		return nil, err
	}

	output, _ := run.Data["output"].(string)
	s.appendSessionMessage(ctx, approval.SessionID, fmt.Sprintf(
		"SSH command approved and executed on node [%s]. Command: %s. Output:\n%s",
		node.Name, approval.Command, truncateRunes(output, takeoverOutputLimit)))

	return &models.ToolResult{
		Success: run.Success,
		Message: "approved",
		Data: map[string]any{
			"approval_id": approvalID,
			"status":      string(models.ApprovalApproved),
			"output":      output,
		},
	}, nil
}

// AppendTakeoverMessage mirrors a user-run command into the session so the
// agent sees what happened on its next turn.
func (s *NodeService) AppendTakeoverMessage(ctx context.Context, sessionID, nodeID, command, output string) {
	nodeName := nodeID
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM server_nodes WHERE id = ?`, nodeID).Scan(&name)
	if err == nil {
		nodeName = name
	}
	s.appendSessionMessage(ctx, sessionID, fmt.Sprintf(
		"User takeover executed command on node [%s]. Command: %s. Output:\n%s",
		nodeName, command, truncateRunes(output, takeoverOutputLimit)))
}

// Monitor returns the raw system snapshot for the node.
func (s *NodeService) Monitor(ctx context.Context, userID, nodeID string) (string, error) {
	result, err := s.RunCommand(ctx, RunCommandInput{
		UserID:    userID,
		NodeID:    nodeID,
		Command:   monitorCommand,
		ActorType: "system",
		Source:    "monitor",
	})
	if err != nil {
		return "", err
	}
	output, _ := result.Data["output"].(string)
	return output, nil
}

// Overview probes the node and derives per-metric health ratings.
func (s *NodeService) Overview(ctx context.Context, userID, nodeID string) (*models.NodeOverview, error) {
	node, err := s.Get(ctx, userID, nodeID)
	if err != nil {
		return nil, err
	}

	result, err := s.RunCommand(ctx, RunCommandInput{
		UserID:    userID,
		NodeID:    nodeID,
		Command:   overviewCommand,
		ActorType: "system",
		Source:    "overview",
	})
	if err != nil {
		return nil, err
	}

	output, _ := result.Data["output"].(string)
	overview := parseOverview(output)
	overview.NodeID = node.ID
	overview.NodeName = node.Name
	overview.CheckedAt = time.Now().UTC()
	if !result.Success {
		overview.Status = models.NodeCritical
		overview.Summary = "Probe command failed"
	}
	return overview, nil
}

// Logs returns the most recent operation logs for a node, newest first.
func (s *NodeService) Logs(ctx context.Context, userID, nodeID string, limit int) ([]*models.SSHOperationLog, error) {
	if _, err := s.Get(ctx, userID, nodeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 300 {
		limit = 300
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, node_id, user_id, session_id, actor_type, source, command, output, success, created_at
		 FROM ssh_operation_logs WHERE node_id = ? ORDER BY created_at DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SSHOperationLog
	for rows.Next() {
		var (
			log       models.SSHOperationLog
			sessionID sql.NullString
			output    sql.NullString
		)
		if err := rows.Scan(&log.ID, &log.NodeID, &log.UserID, &sessionID, &log.ActorType,
			&log.Source, &log.Command, &output, &log.Success, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		log.SessionID = sessionID.String
		log.Output = output.String
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

func (s *NodeService) addLog(ctx context.Context, log *models.SSHOperationLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ssh_operation_logs (id, node_id, user_id, session_id, actor_type, source,
		 command, output, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.NodeID, log.UserID, log.SessionID, log.ActorType, log.Source,
		log.Command, log.Output, log.Success, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (s *NodeService) getApproval(ctx context.Context, approvalID string) (*models.SSHCommandApproval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, node_id, user_id, session_id, command, status, reason,
		 requested_by_tool_call_id, decided_at, created_at
		 FROM ssh_command_approvals WHERE id = ?`, approvalID)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}
	return a, err
}

func (s *NodeService) updateApproval(ctx context.Context, approvalID string, status models.ApprovalStatus, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ssh_command_approvals SET status = ?, reason = ?, decided_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), approvalID)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	return nil
}

// appendSessionMessage writes a user-role message into the session
// transcript. Failures are logged, not surfaced; the decision itself
// already happened.
func (s *NodeService) appendSessionMessage(ctx context.Context, sessionID, message string) {
	if sessionID == "" {
		return
	}
	if err := s.sessions.AddEvent(ctx, sessionID, models.NewMessageEvent(models.RoleUser, message)); err != nil {
		s.logger.Error("Failed to append session message", "session_id", sessionID, "error", err)
	}
}

const nodeColumns = `id, user_id, name, description, ssh_enabled, ssh_host, ssh_port, ssh_username,
	ssh_auth_type, ssh_password, ssh_private_key, ssh_passphrase, ssh_require_approval, created_at, updated_at`

func scanNode(row rowScanner) (*models.SSHNode, error) {
	var (
		node     models.SSHNode
		desc     sql.NullString
		host     sql.NullString
		username sql.NullString
		authType sql.NullString
		password sql.NullString
		key      sql.NullString
		pass     sql.NullString
	)
	err := row.Scan(&node.ID, &node.UserID, &node.Name, &desc, &node.SSHEnabled, &host, &node.SSHPort,
		&username, &authType, &password, &key, &pass, &node.SSHRequireApproval,
		&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		return nil, err
	}
	node.Description = desc.String
	node.SSHHost = host.String
	node.SSHUsername = username.String
	node.SSHAuthType = models.SSHAuthType(authType.String)
	node.SSHPassword = password.String
	node.SSHPrivateKey = key.String
	node.SSHPassphrase = pass.String
	return &node, nil
}

func scanApproval(row rowScanner) (*models.SSHCommandApproval, error) {
	var (
		a          models.SSHCommandApproval
		status     string
		reason     sql.NullString
		toolCallID sql.NullString
		decidedAt  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.NodeID, &a.UserID, &a.SessionID, &a.Command, &status, &reason,
		&toolCallID, &decidedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.ApprovalStatus(status)
	a.Reason = reason.String
	a.RequestedByToolCallID = toolCallID.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	return &a, nil
}

// parseOverview turns the probe's key=value output into derived metrics.
func parseOverview(output string) *models.NodeOverview {
	kv := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || key == "" {
			continue
		}
		kv[key] = strings.TrimSpace(value)
	}

	overview := &models.NodeOverview{
		Hostname:    kv["hostname"],
		OSName:      kv["os_name"],
		Kernel:      kv["kernel"],
		Uptime:      kv["uptime"],
		LoadAverage: kv["load_average"],
		Metrics:     []*models.OverviewMetric{},
		RawOutput:   output,
	}

	if load1, ok := firstFloat(kv["load_average"]); ok {
		status := rateMetric(load1, 2, 4)
		overview.Metrics = append(overview.Metrics, &models.OverviewMetric{
			Name:   "load",
			Value:  kv["load_average"],
			Status: status,
		})
	}

	totalKB, okTotal := parseInt64(kv["mem_total_kb"])
	availKB, okAvail := parseInt64(kv["mem_available_kb"])
	if okTotal && totalKB > 0 {
		overview.MemoryTotal = formatKiB(totalKB)
		if okAvail {
			usedKB := totalKB - availKB
			overview.MemoryUsed = formatKiB(usedKB)
			overview.MemoryFree = formatKiB(availKB)
			usedPct := float64(usedKB) / float64(totalKB) * 100
			overview.Metrics = append(overview.Metrics, &models.OverviewMetric{
				Name:   "memory",
				Value:  fmt.Sprintf("%.1f%% used", usedPct),
				Status: rateMetric(usedPct, 75, 90),
			})
		}
	}

	// disk_root is "<total_kb> <used_kb> <use%>" from df -P -k.
	if fields := strings.Fields(kv["disk_root"]); len(fields) == 3 {
		if totalKB, ok := parseInt64(fields[0]); ok {
			overview.DiskTotal = formatKiB(totalKB)
		}
		if usedKB, ok := parseInt64(fields[1]); ok {
			overview.DiskUsed = formatKiB(usedKB)
		}
		overview.DiskUsePercent = fields[2]
		if pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "%"), 64); err == nil {
			overview.Metrics = append(overview.Metrics, &models.OverviewMetric{
				Name:   "disk",
				Value:  fields[2] + " used",
				Status: rateMetric(pct, 75, 90),
			})
		}
	}

	overview.Status, overview.Summary = overallHealth(overview.Metrics)
	return overview
}

// rateMetric maps a value onto the shared warn/critical ladder.
func rateMetric(value, warnAt, criticalAt float64) models.NodeHealth {
	switch {
	case value >= criticalAt:
		return models.NodeCritical
	case value >= warnAt:
		return models.NodeWarning
	default:
		return models.NodeHealthy
	}
}

func overallHealth(metrics []*models.OverviewMetric) (models.NodeHealth, string) {
	var critical, warning []string
	for _, m := range metrics {
		switch m.Status {
		case models.NodeCritical:
			critical = append(critical, m.Name)
		case models.NodeWarning:
			warning = append(warning, m.Name)
		}
	}
	switch {
	case len(critical) > 0:
		return models.NodeCritical, "Critical: " + strings.Join(critical, ", ")
	case len(warning) > 0:
		return models.NodeWarning, "Warning: " + strings.Join(warning, ", ")
	default:
		return models.NodeHealthy, "All systems normal"
	}
}

func firstFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt64(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatKiB(kb int64) string {
	switch {
	case kb >= 1024*1024:
		return fmt.Sprintf("%.1f GiB", float64(kb)/(1024*1024))
	case kb >= 1024:
		return fmt.Sprintf("%.1f MiB", float64(kb)/1024)
	default:
		return fmt.Sprintf("%d KiB", kb)
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
