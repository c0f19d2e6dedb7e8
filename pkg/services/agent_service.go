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

// AgentService persists agent entities and their serialized memories.
type AgentService struct {
	db *database.Client
}

// NewAgentService creates a new AgentService
func NewAgentService(db *database.Client) *AgentService {
	return &AgentService{db: db}
}

// Save upserts the agent, serializing memory slots as a JSON object.
func (s *AgentService) Save(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		return NewValidationError("id", "required")
	}
	memories, err := json.Marshal(agent.Memories)
	if err != nil {
		return fmt.Errorf("marshal memories: %w", err)
	}
	agent.UpdatedAt = time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = agent.UpdatedAt
	}
	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO agents (id, model_name, temperature, max_tokens, memories, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model_name = excluded.model_name,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			memories = excluded.memories,
			updated_at = excluded.updated_at`,
		agent.ID, agent.ModelName, agent.Temperature, agent.MaxTokens,
		string(memories), agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", agent.ID, err)
	}
	return nil
}

// FindByID returns the agent or (nil, nil) when it does not exist.
func (s *AgentService) FindByID(ctx context.Context, id string) (*models.Agent, error) {
	var (
		agent    models.Agent
		memories string
	)
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT id, model_name, temperature, max_tokens, memories, created_at, updated_at
		FROM agents WHERE id = ?`, id).
		Scan(&agent.ID, &agent.ModelName, &agent.Temperature, &agent.MaxTokens,
			&memories, &agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(memories), &agent.Memories); err != nil {
		return nil, fmt.Errorf("unmarshal agent memories: %w", err)
	}
	if agent.Memories == nil {
		agent.Memories = map[string]*models.Memory{}
	}
	return &agent, nil
}

// Delete removes the agent row.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}
