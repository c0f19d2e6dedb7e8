package taskrunner

import (
	"context"
	"path"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/sandbox"
	"github.com/steadyops/steward/pkg/storage"
)

// enrichToolEvent attaches tool-specific content to a completed tool event
// so clients can render it without replaying the call. Enrichment is
// best-effort: any failure is logged and the event goes out without the
// extra content.
func (r *AgentRunner) enrichToolEvent(ctx context.Context, ev *models.Event) {
	if ev.Status != models.ToolCalled {
		return
	}
	switch ev.ToolName {
	case "browser":
		if fileID := r.captureScreenshot(ctx); fileID != "" {
			ev.ToolContent = &models.ToolContent{Screenshot: fileID}
		}
	case "search":
		if ev.FunctionResult == nil {
			return
		}
		results, _ := ev.FunctionResult.Data["results"].([]*models.SearchResult)
		ev.ToolContent = &models.ToolContent{Results: results}
	case "shell":
		shellID, _ := ev.FunctionArgs["id"].(string)
		if shellID == "" {
			return
		}
		res, err := r.sandbox.ViewShell(ctx, shellID)
		if err != nil {
			r.logger.Warn("Failed to read shell console for tool event", "shell_id", shellID, "error", err)
			return
		}
		ev.ToolContent = &models.ToolContent{Console: res.Console}
	case "file":
		filePath, _ := ev.FunctionArgs["file"].(string)
		if filePath == "" {
			return
		}
		content, err := r.sandbox.FileRead(ctx, filePath, 0, 0)
		if err != nil {
			r.logger.Warn("Failed to read file for tool event", "path", filePath, "error", err)
			return
		}
		ev.ToolContent = &models.ToolContent{Content: content}
		if info := r.syncFileToStorage(ctx, filePath); info != nil {
			ev.ToolContent.File = info
		}
	case "mcp":
		ev.ToolContent = &models.ToolContent{Result: mcpResult(ev.FunctionResult)}
	case "ticket":
		var data map[string]any
		if ev.FunctionResult != nil {
			data = ev.FunctionResult.Data
		}
		ev.ToolContent = &models.ToolContent{Result: data}
	case "ssh":
		ev.ToolContent = &models.ToolContent{SSH: sshContent(ev)}
	case "message":
		// Message tool calls carry their payload in the arguments already.
	default:
		r.logger.Warn("No content enrichment for tool", "tool", ev.ToolName)
	}
}

// mcpResult normalizes an MCP tool result for the event stream.
func mcpResult(res *models.ToolResult) any {
	switch {
	case res == nil:
		return "No result available"
	case len(res.Data) > 0:
		if v, ok := res.Data["result"]; ok {
			return v
		}
		return res.Data
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = "MCP tool failed"
		}
		return "[MCP_ERROR] " + msg
	default:
		return res
	}
}

// sshContent mirrors an SSH command run into the event stream, including
// the approval hand-off fields the client dialog needs.
func sshContent(ev *models.Event) *models.SSHToolContent {
	data := map[string]any{}
	if ev.FunctionResult != nil && ev.FunctionResult.Data != nil {
		data = ev.FunctionResult.Data
	}
	command, _ := data["command"].(string)
	if command == "" {
		command, _ = ev.FunctionArgs["command"].(string)
	}
	success, _ := data["success"].(bool)
	approvalRequired, _ := data["approval_required"].(bool)
	nodeID, _ := data["node_id"].(string)
	nodeName, _ := data["node_name"].(string)
	output, _ := data["output"].(string)
	approvalID, _ := data["approval_id"].(string)
	return &models.SSHToolContent{
		NodeID:           nodeID,
		NodeName:         nodeName,
		Command:          command,
		Output:           output,
		Success:          success,
		ApprovalRequired: approvalRequired,
		ApprovalID:       approvalID,
	}
}

// captureScreenshot grabs the current browser viewport and stores it,
// returning the stored file id or "" on failure.
func (r *AgentRunner) captureScreenshot(ctx context.Context) string {
	shot, err := r.browser.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Browser screenshot failed", "error", err)
		return ""
	}
	info, err := r.files.Upload(ctx, shot, storage.UploadInput{
		Filename:    "screenshot.png",
		ContentType: "image/png",
		UserID:      r.userID,
	})
	if err != nil {
		r.logger.Warn("Failed to store browser screenshot", "error", err)
		return ""
	}
	return info.FileID
}

// syncFileToStorage copies a sandbox file into file storage under a fresh
// file id, replacing any record previously stored for the same path. Best
// effort: returns nil on failure.
func (r *AgentRunner) syncFileToStorage(ctx context.Context, filePath string) *models.FileInfo {
	existing, err := r.sessions.GetFileByPath(ctx, r.sessionID, filePath)
	if err != nil {
		r.logger.Warn("Failed to look up session file", "path", filePath, "error", err)
		return nil
	}
	data, err := r.sandbox.FileDownload(ctx, filePath)
	if err != nil {
		r.logger.Warn("Failed to download file from sandbox", "path", filePath, "error", err)
		return nil
	}
	if existing != nil {
		if err := r.files.Delete(ctx, existing.FileID); err != nil {
			r.logger.Warn("Failed to delete prior stored copy", "file_id", existing.FileID, "error", err)
		}
		if err := r.sessions.RemoveFile(ctx, r.sessionID, existing.FileID); err != nil {
			r.logger.Warn("Failed to remove prior session file", "file_id", existing.FileID, "error", err)
		}
	}
	info, err := r.files.Upload(ctx, data, storage.UploadInput{
		Filename: path.Base(filePath),
		FilePath: filePath,
		UserID:   r.userID,
	})
	if err != nil {
		r.logger.Warn("Failed to upload file to storage", "path", filePath, "error", err)
		return nil
	}
	if err := r.sessions.AddFile(ctx, r.sessionID, info); err != nil {
		r.logger.Warn("Failed to record session file", "file_id", info.FileID, "error", err)
	}
	return info
}

// syncFileToSandbox copies a stored file into the sandbox upload directory
// and returns its record with the sandbox path set. Best effort: returns
// nil on failure.
func (r *AgentRunner) syncFileToSandbox(ctx context.Context, fileID string) *models.FileInfo {
	data, info, err := r.files.Download(ctx, fileID)
	if err != nil {
		r.logger.Warn("Failed to download stored file", "file_id", fileID, "error", err)
		return nil
	}
	filePath := sandbox.UploadPath(info.Filename)
	if err := r.sandbox.FileUpload(ctx, data, filePath); err != nil {
		r.logger.Warn("Failed to upload file to sandbox", "file_id", fileID, "path", filePath, "error", err)
		return nil
	}
	info.FilePath = filePath
	return info
}

// syncAttachmentsToSandbox reconciles an incoming user message's stored
// attachments into the sandbox. The event's attachment list is replaced by
// the synced records so downstream consumers see sandbox paths.
func (r *AgentRunner) syncAttachmentsToSandbox(ctx context.Context, ev *models.Event) {
	if len(ev.Attachments) == 0 {
		return
	}
	synced := make([]*models.FileInfo, 0, len(ev.Attachments))
	for _, att := range ev.Attachments {
		info := r.syncFileToSandbox(ctx, att.FileID)
		if info == nil {
			continue
		}
		synced = append(synced, info)
		if err := r.sessions.AddFile(ctx, r.sessionID, info); err != nil {
			r.logger.Warn("Failed to record synced attachment", "file_id", info.FileID, "error", err)
		}
	}
	ev.Attachments = synced
}

// syncAttachmentsToStorage mirrors an assistant message's sandbox
// attachments into file storage. The event's attachment list is replaced
// by the stored records so clients get downloadable file ids.
func (r *AgentRunner) syncAttachmentsToStorage(ctx context.Context, ev *models.Event) {
	if len(ev.Attachments) == 0 {
		return
	}
	synced := make([]*models.FileInfo, 0, len(ev.Attachments))
	for _, att := range ev.Attachments {
		if att.FilePath == "" {
			continue
		}
		if info := r.syncFileToStorage(ctx, att.FilePath); info != nil {
			synced = append(synced, info)
		}
	}
	ev.Attachments = synced
}
