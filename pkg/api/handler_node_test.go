package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestCreateNodeHandler_Validation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{
			name:   "missing name",
			body:   `{"ssh_host":"10.0.0.1"}`,
			errMsg: "name is required",
		},
		{
			name:   "name too long",
			body:   `{"name":"` + strings.Repeat("x", 65) + `"}`,
			errMsg: "at most 64 characters",
		},
		{
			name:   "port out of range",
			body:   `{"name":"db-1","ssh_port":70000}`,
			errMsg: "ssh_port must be between 1 and 65535",
		},
		{
			name:   "unknown auth type",
			body:   `{"name":"db-1","ssh_auth_type":"kerberos"}`,
			errMsg: "ssh_auth_type must be password or private_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := postJSON(t, tt.body)
			assertHTTPError(t, s.createNodeHandler(c), http.StatusBadRequest, tt.errMsg)
		})
	}
}

func TestExecNodeCommandHandler_Validation(t *testing.T) {
	s := &Server{}

	newExec := func(body string) *httptest.ResponseRecorder {
		e := echo.New()
		e.POST("/api/v1/nodes/:node_id/ssh/exec", s.execNodeCommandHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes/node-1/ssh/exec", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	t.Run("empty command returns 400", func(t *testing.T) {
		rec := newExec(`{"command":"   "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "command is required")
	})

	t.Run("oversized command returns 400", func(t *testing.T) {
		rec := newExec(`{"command":"` + strings.Repeat("a", maxExecCommandLength+1) + `"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "command is too long")
	})
}

func TestNodeLogsHandler_Validation(t *testing.T) {
	s := &Server{}

	e := echo.New()
	e.GET("/api/v1/nodes/:node_id/logs", s.nodeLogsHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nodes/node-1/logs?limit=plenty", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit must be an integer")
}

func TestDataString(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		key      string
		fallback string
		expected string
	}{
		{name: "nil map uses fallback", data: nil, key: "output", fallback: "fb", expected: "fb"},
		{name: "missing key uses fallback", data: map[string]any{"other": "x"}, key: "output", fallback: "fb", expected: "fb"},
		{name: "non-string value uses fallback", data: map[string]any{"output": 42}, key: "output", fallback: "fb", expected: "fb"},
		{name: "string value wins", data: map[string]any{"output": "hello"}, key: "output", fallback: "fb", expected: "hello"},
		{name: "empty string value wins over fallback", data: map[string]any{"output": ""}, key: "output", fallback: "fb", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, dataString(tt.data, tt.key, tt.fallback))
		})
	}
}
