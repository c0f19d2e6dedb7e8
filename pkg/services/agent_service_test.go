package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

func TestAgentService_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	svc := NewAgentService(testDB(t))

	t.Run("rejects missing id", func(t *testing.T) {
		err := svc.Save(ctx, &models.Agent{ModelName: "glm-4.7"})
		assert.True(t, IsValidationError(err))
	})

	t.Run("missing agent returns nil without error", func(t *testing.T) {
		found, err := svc.FindByID(ctx, "no-such-agent")
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("roundtrips memories", func(t *testing.T) {
		agent := models.NewAgent("glm-4.7", 0.7, 4096)
		agent.Memory(models.MemoryPlanner).Add(&models.ChatMessage{
			Role:    models.ChatRoleUser,
			Content: "restart the nginx service",
		})
		agent.Memory(models.MemoryExecution).Add(&models.ChatMessage{
			Role:    models.ChatRoleAssistant,
			Content: "",
			ToolCalls: []*models.ToolCall{
				{ID: "call-1", Name: "node", Arguments: `{"command":"systemctl restart nginx"}`},
			},
		})
		require.NoError(t, svc.Save(ctx, agent))

		found, err := svc.FindByID(ctx, agent.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "glm-4.7", found.ModelName)
		assert.InDelta(t, 0.7, found.Temperature, 0.001)
		assert.Equal(t, 4096, found.MaxTokens)

		planner := found.Memories[models.MemoryPlanner]
		require.NotNil(t, planner)
		require.Len(t, planner.Messages, 1)
		assert.Equal(t, models.ChatRoleUser, planner.Messages[0].Role)
		assert.Equal(t, "restart the nginx service", planner.Messages[0].Content)

		execution := found.Memories[models.MemoryExecution]
		require.NotNil(t, execution)
		require.Len(t, execution.Messages, 1)
		require.Len(t, execution.Messages[0].ToolCalls, 1)
		assert.Equal(t, "call-1", execution.Messages[0].ToolCalls[0].ID)
	})

	t.Run("empty memories deserialize to a usable map", func(t *testing.T) {
		agent := models.NewAgent("glm-4.7", 0.5, 1024)
		require.NoError(t, svc.Save(ctx, agent))

		found, err := svc.FindByID(ctx, agent.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		require.NotNil(t, found.Memories)
		found.Memory(models.MemoryPlanner).Add(&models.ChatMessage{Role: models.ChatRoleUser, Content: "hi"})
	})

	t.Run("upsert replaces memories", func(t *testing.T) {
		agent := models.NewAgent("glm-4.7", 0.7, 4096)
		require.NoError(t, svc.Save(ctx, agent))

		agent.ModelName = "glm-4.7-air"
		agent.Memory(models.MemoryPlanner).Add(&models.ChatMessage{Role: models.ChatRoleUser, Content: "second"})
		require.NoError(t, svc.Save(ctx, agent))

		found, err := svc.FindByID(ctx, agent.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "glm-4.7-air", found.ModelName)
		require.Len(t, found.Memories[models.MemoryPlanner].Messages, 1)
	})
}

func TestAgentService_Delete(t *testing.T) {
	ctx := context.Background()
	svc := NewAgentService(testDB(t))

	agent := models.NewAgent("glm-4.7", 0.7, 4096)
	require.NoError(t, svc.Save(ctx, agent))
	require.NoError(t, svc.Delete(ctx, agent.ID))

	found, err := svc.FindByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	// Deleting an absent agent is a no-op.
	require.NoError(t, svc.Delete(ctx, agent.ID))
}
