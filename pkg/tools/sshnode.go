package tools

import (
	"context"

	"github.com/steadyops/steward/pkg/models"
)

// NodeOps is the node-service surface the SSH tool needs.
type NodeOps interface {
	List(ctx context.Context, userID string) ([]*models.SSHNode, error)
	ExecuteAICommand(ctx context.Context, userID, sessionID, nodeID, command, toolCallID string) (*models.ToolResult, error)
	Monitor(ctx context.Context, userID, nodeID string) (string, error)
}

// SSHNodeTool runs commands on the user's registered server nodes. Nodes
// flagged ssh_require_approval park commands as pending approvals; the
// service returns message="approval_required" and the agent waits.
type SSHNodeTool struct {
	nodes     NodeOps
	userID    string
	sessionID string
}

// NewSSHNodeTool wires the SSH functions to the node service for one
// session.
func NewSSHNodeTool(nodes NodeOps, userID, sessionID string) *SSHNodeTool {
	return &SSHNodeTool{nodes: nodes, userID: userID, sessionID: sessionID}
}

type sshNodeExecParams struct {
	NodeID  string `json:"node_id" jsonschema:"description=Target server node id"`
	Command string `json:"command" jsonschema:"description=SSH command to execute"`
}

type sshNodeMonitorParams struct {
	NodeID string `json:"node_id" jsonschema:"description=Target server node id"`
}

type sshNodeListParams struct{}

func (t *SSHNodeTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "ssh",
			Name:        "ssh_node_list",
			Description: "List configured server nodes available for remote SSH operations.",
			Parameters:  schemaFor(&sshNodeListParams{}),
			Handler:     t.list,
		},
		{
			Tool:        "ssh",
			Name:        "ssh_node_exec",
			Description: "Execute one command on a remote server node over SSH. Use this only for remote node operations, not for local sandbox commands.",
			Parameters:  schemaFor(&sshNodeExecParams{}),
			Handler:     t.exec,
		},
		{
			Tool:        "ssh",
			Name:        "ssh_node_monitor",
			Description: "Read remote node runtime information: uname, uptime, memory and disk.",
			Parameters:  schemaFor(&sshNodeMonitorParams{}),
			Handler:     t.monitor,
		},
	}
}

func (t *SSHNodeTool) list(ctx context.Context, _ Call) (*models.ToolResult, error) {
	nodes, err := t.nodes.List(ctx, t.userID)
	if err != nil {
		return nil, err
	}
	entries := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		entries = append(entries, map[string]any{
			"node_id":              node.ID,
			"name":                 node.Name,
			"description":          node.Description,
			"ssh_enabled":          node.SSHEnabled,
			"ssh_require_approval": node.SSHRequireApproval,
		})
	}
	return models.OkData("", map[string]any{"nodes": entries}), nil
}

func (t *SSHNodeTool) exec(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p sshNodeExecParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	return t.nodes.ExecuteAICommand(ctx, t.userID, t.sessionID, p.NodeID, p.Command, call.ID)
}

func (t *SSHNodeTool) monitor(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p sshNodeMonitorParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	info, err := t.nodes.Monitor(ctx, t.userID, p.NodeID)
	if err != nil {
		return nil, err
	}
	return models.OkData(info, map[string]any{"node_id": p.NodeID, "monitor": info}), nil
}
