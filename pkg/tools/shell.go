package tools

import (
	"context"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sandbox"
)

// ShellSandbox is the sandbox surface the shell tool needs.
type ShellSandbox interface {
	ExecShell(ctx context.Context, shellID, workDir, command string) (*sandbox.ShellResult, error)
	ViewShell(ctx context.Context, shellID string) (*sandbox.ShellResult, error)
	WaitShell(ctx context.Context, shellID string, seconds int) (*sandbox.ShellResult, error)
	WriteShell(ctx context.Context, shellID, input string, pressEnter bool) (*sandbox.ShellResult, error)
	KillShell(ctx context.Context, shellID string) (*sandbox.ShellResult, error)
}

// ShellTool runs commands in shell sessions inside the task's sandbox.
type ShellTool struct {
	sandbox ShellSandbox
}

// NewShellTool wires the shell functions to a sandbox.
func NewShellTool(sb ShellSandbox) *ShellTool {
	return &ShellTool{sandbox: sb}
}

type shellExecParams struct {
	ID      string `json:"id" jsonschema:"description=Unique identifier of the target shell session; use one session per long-lived task"`
	ExecDir string `json:"exec_dir,omitempty" jsonschema:"description=Absolute path of the working directory for the command"`
	Command string `json:"command" jsonschema:"description=Shell command to execute"`
}

type shellIDParams struct {
	ID string `json:"id" jsonschema:"description=Identifier of the target shell session"`
}

type shellWaitParams struct {
	ID      string `json:"id" jsonschema:"description=Identifier of the target shell session"`
	Seconds int    `json:"seconds,omitempty" jsonschema:"description=Maximum seconds to wait for the running process to exit"`
}

type shellWriteParams struct {
	ID         string `json:"id" jsonschema:"description=Identifier of the target shell session"`
	Input      string `json:"input" jsonschema:"description=Text to write to the running process's stdin"`
	PressEnter bool   `json:"press_enter,omitempty" jsonschema:"description=Whether to append a newline after the input"`
}

func (t *ShellTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "shell",
			Name:        "shell_exec",
			Description: "Execute a command in a sandbox shell session. Use for local operations inside the task workspace, never for remote nodes.",
			Parameters:  schemaFor(&shellExecParams{}),
			Handler:     t.exec,
		},
		{
			Tool:        "shell",
			Name:        "shell_view",
			Description: "View the full console buffer of a shell session, including output produced since the last call.",
			Parameters:  schemaFor(&shellIDParams{}),
			Handler:     t.view,
		},
		{
			Tool:        "shell",
			Name:        "shell_wait",
			Description: "Wait for the running process in a shell session to finish, then return the console.",
			Parameters:  schemaFor(&shellWaitParams{}),
			Handler:     t.wait,
		},
		{
			Tool:        "shell",
			Name:        "shell_write_to_process",
			Description: "Write input to the stdin of the process running in a shell session, for interactive prompts.",
			Parameters:  schemaFor(&shellWriteParams{}),
			Handler:     t.write,
		},
		{
			Tool:        "shell",
			Name:        "shell_kill_process",
			Description: "Terminate the process running in a shell session.",
			Parameters:  schemaFor(&shellIDParams{}),
			Handler:     t.kill,
		},
	}
}

func (t *ShellTool) exec(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p shellExecParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.sandbox.ExecShell(ctx, p.ID, p.ExecDir, p.Command)
	if err != nil {
		return nil, err
	}
	return shellToolResult(result), nil
}

func (t *ShellTool) view(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p shellIDParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.sandbox.ViewShell(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return shellToolResult(result), nil
}

func (t *ShellTool) wait(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p shellWaitParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.sandbox.WaitShell(ctx, p.ID, p.Seconds)
	if err != nil {
		return nil, err
	}
	return shellToolResult(result), nil
}

func (t *ShellTool) write(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p shellWriteParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.sandbox.WriteShell(ctx, p.ID, p.Input, p.PressEnter)
	if err != nil {
		return nil, err
	}
	return shellToolResult(result), nil
}

func (t *ShellTool) kill(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p shellIDParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	result, err := t.sandbox.KillShell(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return shellToolResult(result), nil
}

// shellToolResult flattens a console snapshot for the model while keeping
// the structured records for event enrichment.
func shellToolResult(r *sandbox.ShellResult) *models.ToolResult {
	return models.OkData(r.Output(), map[string]any{
		"session_id": r.SessionID,
		"status":     r.Status,
		"returncode": r.ReturnCode,
		"console":    r.Console,
	})
}
