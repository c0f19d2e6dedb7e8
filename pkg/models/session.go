// Package models defines the domain entities shared across services,
// the task runner, and the HTTP layer.
package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// SessionType distinguishes interactive chat sessions from ticket-bound ones
type SessionType string

const (
	SessionTypeChat   SessionType = "chat"
	SessionTypeTicket SessionType = "ticket"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusCompleted SessionStatus = "completed"
)

// Session is the aggregate a task runner works against. Events are
// append-only; files are keyed by file_id with file_path unique per session.
type Session struct {
	ID                 string        `json:"id"`
	UserID             string        `json:"user_id"`
	AgentID            string        `json:"agent_id,omitempty"`
	TaskID             string        `json:"task_id,omitempty"` // meaningful only while running or waiting
	SandboxID          string        `json:"sandbox_id,omitempty"`
	Title              string        `json:"title,omitempty"`
	Status             SessionStatus `json:"status"`
	SessionType        SessionType   `json:"session_type"`
	IsShared           bool          `json:"is_shared"`
	UnreadMessageCount int           `json:"unread_message_count"`
	LatestMessage      string        `json:"latest_message,omitempty"`
	LatestMessageAt    *time.Time    `json:"latest_message_at,omitempty"`
	Events             []*Event      `json:"events"`
	Files              []*FileInfo   `json:"files"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewSession creates a pending chat session for a user.
func NewSession(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:          NewID(),
		UserID:      userID,
		Status:      SessionStatusPending,
		SessionType: SessionTypeChat,
		Events:      []*Event{},
		Files:       []*FileInfo{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LastPlan returns the plan carried by the most recent plan event, or nil
// when the session has never been planned.
func (s *Session) LastPlan() *Plan {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].Type == EventTypePlan && s.Events[i].Plan != nil {
			return s.Events[i].Plan
		}
	}
	return nil
}

// FileInfo describes a stored file. The sandbox addresses it by FilePath,
// the storage backend by FileID; a session may hold both keys.
type FileInfo struct {
	FileID      string         `json:"file_id"`
	Filename    string         `json:"filename"`
	FilePath    string         `json:"file_path,omitempty"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type,omitempty"`
	UploadDate  time.Time      `json:"upload_date"`
	UserID      string         `json:"user_id,omitempty"`
	URL         string         `json:"url,omitempty"` // signed download URL, set only on shared listings
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewID returns a 16-char hex identifier used for sessions, agents, nodes,
// and approvals.
func NewID() string {
	return compactUUID()[:16]
}

// NewShortID returns a 12-char hex identifier used for tickets and comments.
func NewShortID() string {
	return compactUUID()[:12]
}

// NewFileID returns the full 32-char hex identifier used for stored files.
func NewFileID() string {
	return compactUUID()
}

func compactUUID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
