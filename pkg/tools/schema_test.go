package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaFor(t *testing.T) {
	schema := schemaFor(&shellExecParams{})

	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")
	assert.NotContains(t, schema, "$ref")

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "exec_dir")
	assert.Contains(t, props, "command")

	cmd, ok := props["command"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", cmd["type"])
	assert.Equal(t, "Shell command to execute", cmd["description"])

	// omitempty fields are optional; the rest are required.
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "id")
	assert.Contains(t, required, "command")
	assert.NotContains(t, required, "exec_dir")
}

func TestSchemaForEnums(t *testing.T) {
	schema := schemaFor(&ticketUpdateStatusParams{})

	props := schema["properties"].(map[string]any)
	status := props["status"].(map[string]any)

	enum, ok := status["enum"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"open", "processing", "waiting_user", "resolved"}, enum)
}

func TestDecodeArgs(t *testing.T) {
	t.Run("maps loose arguments onto the struct", func(t *testing.T) {
		var p fileReadParams
		err := decodeArgs(map[string]any{
			"file":       "/tmp/x.log",
			"start_line": float64(3),
		}, &p)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/x.log", p.File)
		assert.Equal(t, 3, p.StartLine)
		assert.Zero(t, p.EndLine)
	})

	t.Run("nil arguments leave zero values", func(t *testing.T) {
		var p shellIDParams
		require.NoError(t, decodeArgs(nil, &p))
		assert.Empty(t, p.ID)
	})

	t.Run("type mismatch errors", func(t *testing.T) {
		var p fileReadParams
		err := decodeArgs(map[string]any{"file": "/x", "start_line": "three"}, &p)
		assert.Error(t, err)
	})
}
