package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

type fakeNodeOps struct {
	nodes      []*models.SSHNode
	execResult *models.ToolResult

	gotUser, gotSession, gotNode, gotCommand, gotCallID string
}

func (f *fakeNodeOps) List(_ context.Context, userID string) ([]*models.SSHNode, error) {
	f.gotUser = userID
	return f.nodes, nil
}

func (f *fakeNodeOps) ExecuteAICommand(_ context.Context, userID, sessionID, nodeID, command, toolCallID string) (*models.ToolResult, error) {
	f.gotUser, f.gotSession, f.gotNode, f.gotCommand, f.gotCallID = userID, sessionID, nodeID, command, toolCallID
	return f.execResult, nil
}

func (f *fakeNodeOps) Monitor(_ context.Context, userID, nodeID string) (string, error) {
	return "Linux web-1 6.8.0 / up 12 days / mem 38% / disk 61%", nil
}

func TestSSHNodeList(t *testing.T) {
	ops := &fakeNodeOps{nodes: []*models.SSHNode{
		{ID: "n1", Name: "web-1", SSHEnabled: true, SSHRequireApproval: true},
		{ID: "n2", Name: "db-1", SSHEnabled: true},
	}}
	tool := NewSSHNodeTool(ops, "u1", "s1")

	result, err := tool.list(context.Background(), Call{})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "u1", ops.gotUser)

	nodes, ok := result.Data["nodes"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, nodes, 2)
	assert.Equal(t, "n1", nodes[0]["node_id"])
	assert.Equal(t, true, nodes[0]["ssh_require_approval"])
}

func TestSSHNodeExecPassesCallID(t *testing.T) {
	ops := &fakeNodeOps{execResult: &models.ToolResult{
		Success: false,
		Message: "approval_required",
		Data:    map[string]any{"approval_id": "a1"},
	}}
	tool := NewSSHNodeTool(ops, "u1", "s1")
	reg := NewRegistry(nil, tool)

	result := reg.Invoke(context.Background(), Call{
		ID:   "call-42",
		Name: "ssh_node_exec",
		Arguments: map[string]any{
			"node_id": "n1",
			"command": "systemctl status nginx",
		},
	})

	assert.Equal(t, "u1", ops.gotUser)
	assert.Equal(t, "s1", ops.gotSession)
	assert.Equal(t, "n1", ops.gotNode)
	assert.Equal(t, "systemctl status nginx", ops.gotCommand)
	assert.Equal(t, "call-42", ops.gotCallID)

	// The approval result flows through untouched for the agent to branch on.
	require.False(t, result.Success)
	assert.Equal(t, "approval_required", result.Message)
	assert.Equal(t, "a1", result.Data["approval_id"])
}

func TestSSHNodeMonitor(t *testing.T) {
	tool := NewSSHNodeTool(&fakeNodeOps{}, "u1", "s1")

	result, err := tool.monitor(context.Background(), Call{Arguments: map[string]any{"node_id": "n1"}})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.Message, "up 12 days")
	assert.Equal(t, "n1", result.Data["node_id"])
}
