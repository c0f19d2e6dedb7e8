// Package sandbox manages the isolated execution environments agent tasks
// run in: docker containers built from the sandbox image, each exposing a
// small HTTP control API plus Chrome DevTools and VNC endpoints.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/steadyops/steward/pkg/models"
)

// Ports the sandbox image listens on.
const (
	apiPort = 8080
	cdpPort = 9222
	vncPort = 5901
)

// UploadDir is where attachments land inside the sandbox.
const UploadDir = "/home/ubuntu/upload"

// UploadPath returns the in-sandbox path an attachment with the given
// filename is written to.
func UploadPath(filename string) string {
	return path.Join(UploadDir, path.Base(filename))
}

// Sandbox is a handle to one running sandbox environment. Methods talk to
// the HTTP control API inside the container; they do not manage the
// container itself (see Manager).
type Sandbox struct {
	id   string
	host string
	http *http.Client
}

func newSandbox(id, host string) *Sandbox {
	return &Sandbox{
		id:   id,
		host: host,
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// ID returns the sandbox identifier persisted on the session.
func (s *Sandbox) ID() string { return s.id }

// Host returns the address the sandbox API is reachable at.
func (s *Sandbox) Host() string { return s.host }

// CDPURL returns the Chrome DevTools endpoint the browser tool attaches to.
func (s *Sandbox) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", s.host, cdpPort)
}

// VNCURL returns the websocket URL of the sandbox's VNC server.
func (s *Sandbox) VNCURL() string {
	return fmt.Sprintf("ws://%s:%d", s.host, vncPort)
}

func (s *Sandbox) apiURL(p string) string {
	return fmt.Sprintf("http://%s:%d/api/v1%s", s.host, apiPort, p)
}

// ShellResult is the console state of one shell session in the sandbox.
type ShellResult struct {
	SessionID  string                `json:"session_id"`
	Status     string                `json:"status"`
	ReturnCode int                   `json:"returncode"`
	Console    []*models.ShellRecord `json:"console"`
}

// Output flattens the console buffer into one text blob for LLM
// consumption.
func (r *ShellResult) Output() string {
	var buf bytes.Buffer
	for _, rec := range r.Console {
		if rec.PS1 != "" {
			buf.WriteString(rec.PS1)
			buf.WriteByte(' ')
		}
		buf.WriteString(rec.Command)
		buf.WriteByte('\n')
		buf.WriteString(rec.Output)
		if rec.Output != "" && rec.Output[len(rec.Output)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// ExecShell runs command in the named shell session, creating the session
// on first use. workDir may be empty for the session's current directory.
func (s *Sandbox) ExecShell(ctx context.Context, shellID, workDir, command string) (*ShellResult, error) {
	payload := map[string]any{
		"id":      shellID,
		"command": command,
	}
	if workDir != "" {
		payload["exec_dir"] = workDir
	}
	var result ShellResult
	if err := s.post(ctx, "/shell/exec", payload, &result); err != nil {
		return nil, fmt.Errorf("shell exec: %w", err)
	}
	return &result, nil
}

// ViewShell returns the full console buffer of a shell session.
func (s *Sandbox) ViewShell(ctx context.Context, shellID string) (*ShellResult, error) {
	var result ShellResult
	if err := s.post(ctx, "/shell/view", map[string]any{"id": shellID}, &result); err != nil {
		return nil, fmt.Errorf("shell view: %w", err)
	}
	return &result, nil
}

// WaitShell blocks until the running process in the shell session exits, up
// to seconds (sandbox-side default when <= 0), then returns the console.
func (s *Sandbox) WaitShell(ctx context.Context, shellID string, seconds int) (*ShellResult, error) {
	payload := map[string]any{"id": shellID}
	if seconds > 0 {
		payload["seconds"] = seconds
	}
	var result ShellResult
	if err := s.post(ctx, "/shell/wait", payload, &result); err != nil {
		return nil, fmt.Errorf("shell wait: %w", err)
	}
	return &result, nil
}

// WriteShell sends input to the stdin of the process running in the shell
// session.
func (s *Sandbox) WriteShell(ctx context.Context, shellID, input string, pressEnter bool) (*ShellResult, error) {
	payload := map[string]any{
		"id":          shellID,
		"input":       input,
		"press_enter": pressEnter,
	}
	var result ShellResult
	if err := s.post(ctx, "/shell/write", payload, &result); err != nil {
		return nil, fmt.Errorf("shell write: %w", err)
	}
	return &result, nil
}

// KillShell terminates the process running in the shell session. The
// session itself stays usable for further commands.
func (s *Sandbox) KillShell(ctx context.Context, shellID string) (*ShellResult, error) {
	var result ShellResult
	if err := s.post(ctx, "/shell/kill", map[string]any{"id": shellID}, &result); err != nil {
		return nil, fmt.Errorf("shell kill: %w", err)
	}
	return &result, nil
}

// FileRead returns the content of a file inside the sandbox. startLine and
// endLine bound the read when positive (1-based, endLine inclusive).
func (s *Sandbox) FileRead(ctx context.Context, filePath string, startLine, endLine int) (string, error) {
	payload := map[string]any{"file": filePath}
	if startLine > 0 {
		payload["start_line"] = startLine
	}
	if endLine > 0 {
		payload["end_line"] = endLine
	}
	var result struct {
		Content string `json:"content"`
	}
	if err := s.post(ctx, "/file/read", payload, &result); err != nil {
		return "", fmt.Errorf("file read %s: %w", filePath, err)
	}
	return result.Content, nil
}

// FileWrite writes content to a file inside the sandbox, creating parent
// directories as needed.
func (s *Sandbox) FileWrite(ctx context.Context, filePath, content string, appendMode bool) error {
	payload := map[string]any{
		"file":    filePath,
		"content": content,
		"append":  appendMode,
	}
	if err := s.post(ctx, "/file/write", payload, nil); err != nil {
		return fmt.Errorf("file write %s: %w", filePath, err)
	}
	return nil
}

// FileExists reports whether a path exists inside the sandbox.
func (s *Sandbox) FileExists(ctx context.Context, filePath string) (bool, error) {
	var result struct {
		Exists bool `json:"exists"`
	}
	if err := s.post(ctx, "/file/exists", map[string]any{"file": filePath}, &result); err != nil {
		return false, fmt.Errorf("file exists %s: %w", filePath, err)
	}
	return result.Exists, nil
}

// FileFind returns paths under dir whose names match the glob pattern.
func (s *Sandbox) FileFind(ctx context.Context, dir, glob string) ([]string, error) {
	var result struct {
		Files []string `json:"files"`
	}
	payload := map[string]any{"path": dir, "glob": glob}
	if err := s.post(ctx, "/file/find", payload, &result); err != nil {
		return nil, fmt.Errorf("file find %s: %w", dir, err)
	}
	return result.Files, nil
}

// FileUpload writes raw bytes to a path inside the sandbox via multipart
// upload. Attachments from storage arrive here.
func (s *Sandbox) FileUpload(ctx context.Context, data []byte, filePath string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", path.Base(filePath))
	if err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	if err := writer.WriteField("path", filePath); err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL("/file/upload"), &body)
	if err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	defer resp.Body.Close()
	if err := decodeEnvelope(resp, nil); err != nil {
		return fmt.Errorf("file upload %s: %w", filePath, err)
	}
	return nil
}

// FileDownload fetches raw bytes of a file from the sandbox. Agent outputs
// travel to storage through here.
func (s *Sandbox) FileDownload(ctx context.Context, filePath string) ([]byte, error) {
	u := s.apiURL("/file/download") + "?path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("file download %s: %w", filePath, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file download %s: %w", filePath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("file download %s: status %d: %s", filePath, resp.StatusCode, msg)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("file download %s: %w", filePath, err)
	}
	return data, nil
}

// Ping probes the sandbox control API.
func (s *Sandbox) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL("/healthz"), nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sandbox health: status %d", resp.StatusCode)
	}
	return nil
}

// envelope is the response wrapper every control API endpoint uses.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (s *Sandbox) post(ctx context.Context, p string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL(p), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("sandbox error %d: %s", env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
