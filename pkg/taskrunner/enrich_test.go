package taskrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/storage"
)

func toolEvent(tool string, args map[string]any) *models.Event {
	return models.NewToolEvent(models.ToolCalled, "call-1", tool, tool+"_op", args)
}

func TestEnrichBrowserToolAttachesScreenshot(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.browser.shot = []byte{0x89, 'P', 'N', 'G'}
	ev := toolEvent("browser", map[string]any{"url": "https://grafana.internal"})

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	require.NotEmpty(t, ev.ToolContent.Screenshot)

	data, info, err := env.files.Download(context.Background(), ev.ToolContent.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, env.browser.shot, data)
	assert.Equal(t, "screenshot.png", info.Filename)
	assert.Equal(t, "image/png", info.ContentType)
}

func TestEnrichBrowserScreenshotFailureLeavesEvent(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.browser.err = errors.New("page gone")
	ev := toolEvent("browser", nil)

	env.runner.enrichToolEvent(context.Background(), ev)

	assert.Nil(t, ev.ToolContent)
	assert.Zero(t, env.files.count())
}

func TestEnrichSkipsToolCallingEvents(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.browser.shot = []byte("png")
	ev := models.NewToolEvent(models.ToolCalling, "call-1", "browser", "browser_op", nil)

	env.runner.enrichToolEvent(context.Background(), ev)

	assert.Nil(t, ev.ToolContent)
	assert.Zero(t, env.files.count())
}

func TestEnrichShellToolCopiesConsole(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.sandbox.console = []*models.ShellRecord{
		{PS1: "ubuntu@sandbox:~$", Command: "df -h", Output: "/dev/sda1  40G  12G  28G  30% /"},
	}
	ev := toolEvent("shell", map[string]any{"id": "shell-1"})

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	assert.Equal(t, env.sandbox.console, ev.ToolContent.Console)
}

func TestEnrichShellToolWithoutIDLeavesEvent(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("shell", map[string]any{"command": "ls"})

	env.runner.enrichToolEvent(context.Background(), ev)

	assert.Nil(t, ev.ToolContent)
}

func TestEnrichFileToolReadsAndStoresFile(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.sandbox.files["/home/ubuntu/report.md"] = "# Incident Report"
	ev := toolEvent("file", map[string]any{"file": "/home/ubuntu/report.md"})

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	assert.Equal(t, "# Incident Report", ev.ToolContent.Content)
	require.NotNil(t, ev.ToolContent.File)
	assert.Equal(t, "report.md", ev.ToolContent.File.Filename)
	assert.Equal(t, "/home/ubuntu/report.md", ev.ToolContent.File.FilePath)

	require.Len(t, env.sessions.files, 1)
	assert.Equal(t, ev.ToolContent.File.FileID, env.sessions.files[0].FileID)
}

func TestEnrichFileToolReplacesPriorStoredCopy(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	old, err := env.files.Upload(context.Background(), []byte("draft"), storage.UploadInput{
		Filename: "report.md",
		FilePath: "/home/ubuntu/report.md",
	})
	require.NoError(t, err)
	env.sessions.byPath["/home/ubuntu/report.md"] = old
	env.sandbox.files["/home/ubuntu/report.md"] = "final"
	ev := toolEvent("file", map[string]any{"file": "/home/ubuntu/report.md"})

	env.runner.enrichToolEvent(context.Background(), ev)

	assert.Equal(t, []string{old.FileID}, env.files.deleted)
	assert.Equal(t, []string{old.FileID}, env.sessions.removed)

	require.NotNil(t, ev.ToolContent)
	require.NotNil(t, ev.ToolContent.File)
	assert.NotEqual(t, old.FileID, ev.ToolContent.File.FileID)
	data, _, err := env.files.Download(context.Background(), ev.ToolContent.File.FileID)
	require.NoError(t, err)
	assert.Equal(t, []byte("final"), data)
}

func TestEnrichSearchToolCopiesResults(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	results := []*models.SearchResult{{Title: "Redis latency", URL: "https://kb.internal/redis"}}
	ev := toolEvent("search", map[string]any{"query": "redis latency"})
	ev.FunctionResult = &models.ToolResult{Success: true, Data: map[string]any{"results": results}}

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	assert.Equal(t, results, ev.ToolContent.Results)
}

func TestEnrichSSHToolBuildsContent(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("ssh", map[string]any{"command": "systemctl restart nginx"})
	ev.FunctionResult = &models.ToolResult{
		Success: false,
		Message: "approval_required",
		Data: map[string]any{
			"approval_required": true,
			"approval_id":       "appr-1",
			"node_id":           "node-1",
			"node_name":         "web-1",
			"command":           "systemctl restart nginx",
		},
	}

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	ssh := ev.ToolContent.SSH
	require.NotNil(t, ssh)
	assert.Equal(t, "node-1", ssh.NodeID)
	assert.Equal(t, "web-1", ssh.NodeName)
	assert.Equal(t, "systemctl restart nginx", ssh.Command)
	assert.False(t, ssh.Success)
	assert.True(t, ssh.ApprovalRequired)
	assert.Equal(t, "appr-1", ssh.ApprovalID)
}

func TestEnrichSSHToolFallsBackToArgsCommand(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("ssh", map[string]any{"command": "uptime"})
	ev.FunctionResult = &models.ToolResult{
		Success: true,
		Data: map[string]any{
			"node_id": "node-2",
			"output":  "up 12 days",
			"success": true,
		},
	}

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	require.NotNil(t, ev.ToolContent.SSH)
	assert.Equal(t, "uptime", ev.ToolContent.SSH.Command)
	assert.Equal(t, "up 12 days", ev.ToolContent.SSH.Output)
	assert.True(t, ev.ToolContent.SSH.Success)
}

func TestMCPResult(t *testing.T) {
	okResult := &models.ToolResult{Success: true}
	tests := []struct {
		name   string
		result *models.ToolResult
		want   any
	}{
		{
			name:   "nil result",
			result: nil,
			want:   "No result available",
		},
		{
			name:   "result key preferred",
			result: &models.ToolResult{Success: true, Data: map[string]any{"result": "42"}},
			want:   "42",
		},
		{
			name:   "whole data map without result key",
			result: &models.ToolResult{Success: true, Data: map[string]any{"rows": 3.0}},
			want:   map[string]any{"rows": 3.0},
		},
		{
			name:   "failure message",
			result: &models.ToolResult{Success: false, Message: "connection refused"},
			want:   "[MCP_ERROR] connection refused",
		},
		{
			name:   "failure without message",
			result: &models.ToolResult{Success: false},
			want:   "[MCP_ERROR] MCP tool failed",
		},
		{
			name:   "bare success",
			result: okResult,
			want:   okResult,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mcpResult(tt.result))
		})
	}
}

func TestEnrichMCPToolSetsResult(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("mcp", map[string]any{"server": "grafana"})
	ev.FunctionResult = &models.ToolResult{Success: true, Data: map[string]any{"result": "3 dashboards"}}

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	assert.Equal(t, "3 dashboards", ev.ToolContent.Result)
}

func TestEnrichTicketToolMirrorsData(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("ticket", nil)
	ev.FunctionResult = &models.ToolResult{Success: true, Data: map[string]any{"ticket_id": "TCK-7"}}

	env.runner.enrichToolEvent(context.Background(), ev)

	require.NotNil(t, ev.ToolContent)
	assert.Equal(t, map[string]any{"ticket_id": "TCK-7"}, ev.ToolContent.Result)
}

func TestEnrichMessageToolLeavesEvent(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	ev := toolEvent("message", map[string]any{"text": "progress update"})

	env.runner.enrichToolEvent(context.Background(), ev)

	assert.Nil(t, ev.ToolContent)
}

func TestSyncAttachmentsToStorageReplacesList(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	env.sandbox.files["/home/ubuntu/out.txt"] = "hello"
	ev := models.NewMessageEvent(models.RoleAssistant, "Wrote the summary.",
		&models.FileInfo{Filename: "out.txt", FilePath: "/home/ubuntu/out.txt"},
		&models.FileInfo{Filename: "no-path.txt"},
	)

	env.runner.syncAttachmentsToStorage(context.Background(), ev)

	require.Len(t, ev.Attachments, 1, "attachments without a sandbox path are dropped")
	att := ev.Attachments[0]
	assert.NotEmpty(t, att.FileID)
	assert.Equal(t, "out.txt", att.Filename)

	data, _, err := env.files.Download(context.Background(), att.FileID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.Len(t, env.sessions.files, 1)
	assert.Equal(t, att.FileID, env.sessions.files[0].FileID)
}

func TestSyncAttachmentsToSandboxSkipsMissingFiles(t *testing.T) {
	env := newRunnerEnv(&scriptedFlow{})
	stored, err := env.files.Upload(context.Background(), []byte("data"), storage.UploadInput{Filename: "a.txt"})
	require.NoError(t, err)
	ev := models.NewMessageEvent(models.RoleUser, "here",
		stored,
		&models.FileInfo{FileID: "missing"},
	)

	env.runner.syncAttachmentsToSandbox(context.Background(), ev)

	require.Len(t, ev.Attachments, 1)
	assert.Equal(t, stored.FileID, ev.Attachments[0].FileID)
	assert.Equal(t, "/home/ubuntu/upload/a.txt", ev.Attachments[0].FilePath)
}
