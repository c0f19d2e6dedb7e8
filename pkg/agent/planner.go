package agent

import (
	"context"
	"fmt"
	"iter"

	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/models"
)

// Planner turns a user message into a step plan and keeps the plan current
// between steps. It owns the "planner" memory slot and always answers in
// JSON.
type Planner struct {
	*BaseAgent
}

// NewPlanner creates the planner role over a persisted agent.
func NewPlanner(agentID string, store Store, client LLM, registry ToolRunner) *Planner {
	return &Planner{
		BaseAgent: newBaseAgent(models.MemoryPlanner, plannerSystemPrompt, "json_object", agentID, store, client, registry),
	}
}

// CreatePlan asks the model for a plan over the user message. Inner events
// are forwarded as they happen; the model's final reply is decoded and
// yielded as a created-plan event. A plan with no steps means the model
// judged the task unfeasible or trivially done.
func (p *Planner) CreatePlan(ctx context.Context, msg *Message) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		for ev, err := range p.execute(ctx, renderCreatePlan(msg)) {
			if err != nil {
				yield(nil, err)
				return
			}
			if ev.Type == models.EventTypeMessage {
				plan, perr := parsePlan(ev.Message)
				if perr != nil {
					yield(nil, fmt.Errorf("create plan: %w", perr))
					return
				}
				p.logger.Info("plan created", "title", plan.Title, "steps", len(plan.Steps))
				if !yield(models.NewPlanEvent(models.PlanCreated, plan), nil) {
					return
				}
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// UpdatePlan re-plans the uncompleted tail of the plan after a step ran and
// yields an updated-plan event. Steps before the first uncompleted one are
// never touched; steps the model echoes back without a description keep
// their current one.
func (p *Planner) UpdatePlan(ctx context.Context, plan *models.Plan, lastStep *models.Step) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		for ev, err := range p.execute(ctx, renderUpdatePlan(plan, lastStep)) {
			if err != nil {
				yield(nil, err)
				return
			}
			if ev.Type == models.EventTypeMessage {
				if perr := mergePlanUpdate(plan, ev.Message); perr != nil {
					yield(nil, fmt.Errorf("update plan: %w", perr))
					return
				}
				p.logger.Info("plan updated", "steps", len(plan.Steps))
				if !yield(models.NewPlanEvent(models.PlanUpdated, plan), nil) {
					return
				}
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

type stepPayload struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type planPayload struct {
	Message  string        `json:"message"`
	Goal     string        `json:"goal"`
	Title    string        `json:"title"`
	Language string        `json:"language"`
	Steps    []stepPayload `json:"steps"`
}

// parsePlan decodes a CreatePlanResponse reply into a fresh pending plan.
func parsePlan(content string) (*models.Plan, error) {
	var payload planPayload
	if err := llm.ExtractIntoSchema(content, createPlanSchema, &payload); err != nil {
		return nil, err
	}
	plan := &models.Plan{
		Title:    payload.Title,
		Goal:     payload.Goal,
		Language: payload.Language,
		Message:  payload.Message,
		Status:   models.ExecutionPending,
		Steps:    make([]*models.Step, 0, len(payload.Steps)),
	}
	for _, s := range payload.Steps {
		plan.Steps = append(plan.Steps, &models.Step{
			ID:          s.ID,
			Description: s.Description,
			Status:      models.ExecutionPending,
		})
	}
	return plan, nil
}

// mergePlanUpdate replaces the plan's uncompleted tail with the steps from
// an UpdatePlanResponse reply. Already-executed steps keep their snapshots
// untouched.
func mergePlanUpdate(plan *models.Plan, content string) error {
	var payload struct {
		Steps []stepPayload `json:"steps"`
	}
	if err := llm.ExtractIntoSchema(content, updatePlanSchema, &payload); err != nil {
		return err
	}

	cut := len(plan.Steps)
	for i, s := range plan.Steps {
		if s.Status == models.ExecutionPending || s.Status == models.ExecutionRunning {
			cut = i
			break
		}
	}

	current := make(map[string]*models.Step, len(plan.Steps)-cut)
	for _, s := range plan.Steps[cut:] {
		current[s.ID] = s
	}
	tail := make([]*models.Step, 0, len(payload.Steps))
	for _, s := range payload.Steps {
		desc := s.Description
		if desc == "" {
			if prev, ok := current[s.ID]; ok {
				desc = prev.Description
			}
		}
		tail = append(tail, &models.Step{
			ID:          s.ID,
			Description: desc,
			Status:      models.ExecutionPending,
		})
	}
	plan.Steps = append(plan.Steps[:cut], tail...)
	return nil
}
