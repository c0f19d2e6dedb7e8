package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sandbox"
)

// fakeShellSandbox records calls and replays canned console state.
type fakeShellSandbox struct {
	lastCommand string
	lastDir     string
	lastInput   string
	killed      []string
	result      *sandbox.ShellResult
}

func (f *fakeShellSandbox) ExecShell(_ context.Context, shellID, workDir, command string) (*sandbox.ShellResult, error) {
	f.lastDir, f.lastCommand = workDir, command
	return f.result, nil
}

func (f *fakeShellSandbox) ViewShell(_ context.Context, shellID string) (*sandbox.ShellResult, error) {
	return f.result, nil
}

func (f *fakeShellSandbox) WaitShell(_ context.Context, shellID string, seconds int) (*sandbox.ShellResult, error) {
	return f.result, nil
}

func (f *fakeShellSandbox) WriteShell(_ context.Context, shellID, input string, pressEnter bool) (*sandbox.ShellResult, error) {
	f.lastInput = input
	return f.result, nil
}

func (f *fakeShellSandbox) KillShell(_ context.Context, shellID string) (*sandbox.ShellResult, error) {
	f.killed = append(f.killed, shellID)
	return f.result, nil
}

func shellFixture() *sandbox.ShellResult {
	return &sandbox.ShellResult{
		SessionID:  "main",
		Status:     "idle",
		ReturnCode: 0,
		Console: []*models.ShellRecord{
			{PS1: "ubuntu@sandbox:~$", Command: "uptime", Output: "up 3 days\n"},
		},
	}
}

func TestShellExec(t *testing.T) {
	sb := &fakeShellSandbox{result: shellFixture()}
	tool := NewShellTool(sb)
	reg := NewRegistry(nil, tool)

	result := reg.Invoke(context.Background(), Call{
		Name: "shell_exec",
		Arguments: map[string]any{
			"id":       "main",
			"exec_dir": "/home/ubuntu",
			"command":  "uptime",
		},
	})

	require.True(t, result.Success)
	assert.Equal(t, "uptime", sb.lastCommand)
	assert.Equal(t, "/home/ubuntu", sb.lastDir)
	assert.Contains(t, result.Message, "uptime")
	assert.Contains(t, result.Message, "up 3 days")
	assert.Equal(t, "main", result.Data["session_id"])

	console, ok := result.Data["console"].([]*models.ShellRecord)
	require.True(t, ok)
	assert.Len(t, console, 1)
}

func TestShellKill(t *testing.T) {
	sb := &fakeShellSandbox{result: shellFixture()}
	tool := NewShellTool(sb)

	result, err := tool.kill(context.Background(), Call{Arguments: map[string]any{"id": "job-7"}})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"job-7"}, sb.killed)
}

func TestShellFunctionsRegistered(t *testing.T) {
	reg := NewRegistry(nil, NewShellTool(&fakeShellSandbox{result: shellFixture()}))

	names := make([]string, 0)
	for _, d := range reg.Definitions() {
		names = append(names, d.Name)
	}
	assert.ElementsMatch(t, []string{
		"shell_exec", "shell_view", "shell_wait", "shell_write_to_process", "shell_kill_process",
	}, names)

	family, ok := reg.Family("shell_write_to_process")
	require.True(t, ok)
	assert.Equal(t, "shell", family)
}
