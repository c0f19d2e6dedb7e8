package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/models"
)

// SessionService is the session/event store. It is the only component that
// mutates session state; everything else goes through it.
type SessionService struct {
	db *database.Client
}

// NewSessionService creates a new SessionService
func NewSessionService(db *database.Client) *SessionService {
	return &SessionService{db: db}
}

const sessionColumns = `id, user_id, agent_id, task_id, sandbox_id, title, status, session_type,
	is_shared, unread_message_count, latest_message, latest_message_at, events, files,
	created_at, updated_at`

// Save upserts the whole session row, serializing events and files as JSON
// arrays.
func (s *SessionService) Save(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		return NewValidationError("id", "required")
	}
	if session.UserID == "" {
		return NewValidationError("user_id", "required")
	}
	eventsJSON, err := json.Marshal(session.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	filesJSON, err := json.Marshal(session.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	session.UpdatedAt = time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}

	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			agent_id = excluded.agent_id,
			task_id = excluded.task_id,
			sandbox_id = excluded.sandbox_id,
			title = excluded.title,
			status = excluded.status,
			session_type = excluded.session_type,
			is_shared = excluded.is_shared,
			unread_message_count = excluded.unread_message_count,
			latest_message = excluded.latest_message,
			latest_message_at = excluded.latest_message_at,
			events = excluded.events,
			files = excluded.files,
			updated_at = excluded.updated_at`,
		session.ID, session.UserID, nullable(session.AgentID), nullable(session.TaskID),
		nullable(session.SandboxID), nullable(session.Title), string(session.Status),
		string(session.SessionType), session.IsShared, session.UnreadMessageCount,
		nullable(session.LatestMessage), nullTime(session.LatestMessageAt),
		string(eventsJSON), string(filesJSON), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// FindByID returns the session or (nil, nil) when it does not exist.
func (s *SessionService) FindByID(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// FindByIDAndUserID returns the session only when it belongs to the user;
// (nil, nil) otherwise. Authorization decisions live in the caller.
func (s *SessionService) FindByIDAndUserID(ctx context.Context, id, userID string) (*models.Session, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND user_id = ?`, id, userID)
	return scanSession(row)
}

// FindByUserID lists a user's sessions, newest activity first. sessionType
// filters when non-empty.
func (s *SessionService) FindByUserID(ctx context.Context, userID string, sessionType models.SessionType) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if sessionType != "" {
		query += ` AND session_type = ?`
		args = append(args, string(sessionType))
	}
	query += ` ORDER BY latest_message_at IS NULL, latest_message_at DESC, created_at DESC`
	return s.querySessions(ctx, query, args...)
}

// GetAll lists every session, optionally filtered by type. Used by the
// sandbox reaper and admin surfaces.
func (s *SessionService) GetAll(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if sessionType != "" {
		query += ` WHERE session_type = ?`
		args = append(args, string(sessionType))
	}
	query += ` ORDER BY created_at DESC`
	return s.querySessions(ctx, query, args...)
}

// Delete removes the session row.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// UpdateTitle sets the session title.
func (s *SessionService) UpdateTitle(ctx context.Context, id, title string) error {
	return s.updateField(ctx, id, `title = ?`, title)
}

// UpdateLatestMessage records the newest message text and its time.
func (s *SessionService) UpdateLatestMessage(ctx context.Context, id, message string, at time.Time) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET latest_message = ?, latest_message_at = ?, updated_at = ? WHERE id = ?`,
		message, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// AddEvent appends one event to the session's event log. The append is a
// single JSON-path update so it is durable and atomic before the event is
// handed to any client.
func (s *SessionService) AddEvent(ctx context.Context, id string, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET events = json_insert(events, '$[#]', json(?)), updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("append event to session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// AddFile appends a file record to the session.
func (s *SessionService) AddFile(ctx context.Context, id string, file *models.FileInfo) error {
	payload, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshal file info: %w", err)
	}
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET files = json_insert(files, '$[#]', json(?)), updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("add file to session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// RemoveFile drops the file with fileID from the session's file list.
func (s *SessionService) RemoveFile(ctx context.Context, id, fileID string) error {
	session, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	kept := make([]*models.FileInfo, 0, len(session.Files))
	for _, f := range session.Files {
		if f.FileID != fileID {
			kept = append(kept, f)
		}
	}
	payload, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET files = ?, updated_at = ? WHERE id = ?`,
		string(payload), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("remove file from session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// GetFileByPath scans the session's files for a matching sandbox path.
// Returns (nil, nil) when no file has that path.
func (s *SessionService) GetFileByPath(ctx context.Context, id, path string) (*models.FileInfo, error) {
	session, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	for _, f := range session.Files {
		if f.FilePath == path {
			return f, nil
		}
	}
	return nil, nil
}

// UpdateStatus sets the lifecycle status.
func (s *SessionService) UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error {
	return s.updateField(ctx, id, `status = ?`, string(status))
}

// UpdateTaskID records the task currently bound to the session.
func (s *SessionService) UpdateTaskID(ctx context.Context, id, taskID string) error {
	return s.updateField(ctx, id, `task_id = ?`, taskID)
}

// UpdateSandboxID records the sandbox bound to the session.
func (s *SessionService) UpdateSandboxID(ctx context.Context, id, sandboxID string) error {
	return s.updateField(ctx, id, `sandbox_id = ?`, sandboxID)
}

// UpdateUnreadMessageCount sets the unread counter to an absolute value.
func (s *SessionService) UpdateUnreadMessageCount(ctx context.Context, id string, count int) error {
	if count < 0 {
		count = 0
	}
	return s.updateField(ctx, id, `unread_message_count = ?`, count)
}

// IncrementUnreadMessageCount bumps the unread counter by one. The counter
// arithmetic happens inside the UPDATE so concurrent calls never lose
// increments.
func (s *SessionService) IncrementUnreadMessageCount(ctx context.Context, id string) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET unread_message_count = unread_message_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// DecrementUnreadMessageCount lowers the unread counter, clamping at zero.
func (s *SessionService) DecrementUnreadMessageCount(ctx context.Context, id string) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET unread_message_count = MAX(0, unread_message_count - 1), updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

// UpdateSharedStatus toggles public sharing.
func (s *SessionService) UpdateSharedStatus(ctx context.Context, id string, shared bool) error {
	return s.updateField(ctx, id, `is_shared = ?`, shared)
}

func (s *SessionService) updateField(ctx context.Context, id, set string, value any) error {
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE sessions SET `+set+`, updated_at = ? WHERE id = ?`, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return requireAffected(res, "session", id)
}

func (s *SessionService) querySessions(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*models.Session, error) {
	session, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

func scanSessionRow(row rowScanner) (*models.Session, error) {
	var (
		session         models.Session
		agentID         sql.NullString
		taskID          sql.NullString
		sandboxID       sql.NullString
		title           sql.NullString
		latestMessage   sql.NullString
		latestMessageAt sql.NullTime
		eventsJSON      string
		filesJSON       string
	)
	err := row.Scan(&session.ID, &session.UserID, &agentID, &taskID, &sandboxID, &title,
		&session.Status, &session.SessionType, &session.IsShared, &session.UnreadMessageCount,
		&latestMessage, &latestMessageAt, &eventsJSON, &filesJSON,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.AgentID = agentID.String
	session.TaskID = taskID.String
	session.SandboxID = sandboxID.String
	session.Title = title.String
	session.LatestMessage = latestMessage.String
	if latestMessageAt.Valid {
		t := latestMessageAt.Time
		session.LatestMessageAt = &t
	}
	if err := json.Unmarshal([]byte(eventsJSON), &session.Events); err != nil {
		return nil, fmt.Errorf("unmarshal session events: %w", err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &session.Files); err != nil {
		return nil, fmt.Errorf("unmarshal session files: %w", err)
	}
	if session.Events == nil {
		session.Events = []*models.Event{}
	}
	if session.Files == nil {
		session.Files = []*models.FileInfo{}
	}
	return &session, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
