package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

func postSessionJSON(t *testing.T, handler echo.HandlerFunc, register, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.POST(register, handler)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestShellViewHandler_Validation(t *testing.T) {
	s := &Server{}

	rec := postSessionJSON(t, s.shellViewHandler, "/api/v1/sessions/:id/shell", "/api/v1/sessions/sess-1/shell", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "shell session id is required")
}

func TestFileViewHandler_Validation(t *testing.T) {
	s := &Server{}

	rec := postSessionJSON(t, s.fileViewHandler, "/api/v1/sessions/:id/file", "/api/v1/sessions/sess-1/file", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file path is required")
}

func TestSessionList(t *testing.T) {
	latest := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	sessions := []*models.Session{
		{
			ID:                 "sess-1",
			Title:              "Investigate disk alert",
			Status:             models.SessionStatusRunning,
			UnreadMessageCount: 3,
			LatestMessage:      "Checking /var/log growth",
			LatestMessageAt:    &latest,
			IsShared:           true,
		},
		{
			ID:     "sess-2",
			Status: models.SessionStatusPending,
		},
	}

	resp := sessionList(sessions)
	require.Len(t, resp.Sessions, 2)

	first := resp.Sessions[0]
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "Investigate disk alert", first.Title)
	assert.Equal(t, models.SessionStatusRunning, first.Status)
	assert.Equal(t, 3, first.UnreadMessageCount)
	assert.Equal(t, "Checking /var/log growth", first.LatestMessage)
	require.NotNil(t, first.LatestMessageAt)
	assert.Equal(t, latest.Unix(), *first.LatestMessageAt)
	assert.True(t, first.IsShared)

	second := resp.Sessions[1]
	assert.Equal(t, "sess-2", second.SessionID)
	assert.Nil(t, second.LatestMessageAt, "sessions without messages carry a null timestamp")
	assert.False(t, second.IsShared)
}

func TestSessionList_Empty(t *testing.T) {
	resp := sessionList(nil)
	assert.NotNil(t, resp.Sessions, "should be empty array, not nil")
	assert.Len(t, resp.Sessions, 0)
}

func TestSessionDetail(t *testing.T) {
	session := &models.Session{
		ID:       "sess-9",
		Title:    "Rotate TLS certs",
		Status:   models.SessionStatusCompleted,
		IsShared: true,
		Events: []*models.Event{
			{ID: "evt-1", Type: models.EventTypeMessage},
		},
	}

	detail := sessionDetail(session)
	assert.Equal(t, "sess-9", detail.SessionID)
	assert.Equal(t, "Rotate TLS certs", detail.Title)
	assert.Equal(t, models.SessionStatusCompleted, detail.Status)
	assert.True(t, detail.IsShared)
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "evt-1", detail.Events[0].ID)
}
