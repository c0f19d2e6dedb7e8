package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

const planReply = `{
	"message": "I will check the disk usage on both nodes.",
	"goal": "Report disk usage",
	"title": "Disk usage check",
	"language": "en",
	"steps": [
		{"id": "1", "description": "List configured nodes"},
		{"id": "2", "description": "Run df -h on each node"}
	]
}`

func newTestPlanner(client LLM, store Store) *Planner {
	return NewPlanner("agent-1", store, client, &fakeTools{})
}

func TestCreatePlan(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(planReply)}}
	store := newFakeStore(seedAgent())
	planner := newTestPlanner(client, store)

	var plan *models.Plan
	var count int
	planner.CreatePlan(context.Background(), &Message{Text: "check disk usage", Attachments: []string{"/home/ubuntu/upload/nodes.txt"}})(
		func(ev *models.Event, err error) bool {
			require.NoError(t, err)
			count++
			require.Equal(t, models.EventTypePlan, ev.Type)
			require.Equal(t, models.PlanCreated, ev.Status)
			plan = ev.Plan
			return true
		})

	require.Equal(t, 1, count)
	require.NotNil(t, plan)
	assert.Equal(t, "Disk usage check", plan.Title)
	assert.Equal(t, "Report disk usage", plan.Goal)
	assert.Equal(t, "en", plan.Language)
	assert.Equal(t, "I will check the disk usage on both nodes.", plan.Message)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.ExecutionPending, plan.Steps[0].Status)
	assert.Equal(t, "List configured nodes", plan.Steps[0].Description)

	// The rendered prompt carries the message and the attachment paths.
	require.Len(t, client.asks, 1)
	prompt := client.asks[0][len(client.asks[0])-1]
	assert.Equal(t, models.ChatRoleUser, prompt.Role)
	assert.Contains(t, prompt.Content, "check disk usage")
	assert.Contains(t, prompt.Content, "/home/ubuntu/upload/nodes.txt")
	assert.Contains(t, prompt.Content, "CreatePlanResponse")

	mem := store.agents["agent-1"].Memory(models.MemoryPlanner)
	require.Len(t, mem.Messages, 3)
	assert.Equal(t, models.ChatRoleSystem, mem.Messages[0].Role)
}

func TestCreatePlanForwardsToolEvents(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		toolCallReply("call-1", "ssh_node_list", "{}"),
		assistantReply(planReply),
	}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))

	events, err := collect(t, planner.CreatePlan(context.Background(), &Message{Text: "check disks"}))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventTypeTool, events[0].Type)
	assert.Equal(t, models.EventTypeTool, events[1].Type)
	assert.Equal(t, models.EventTypePlan, events[2].Type)
}

func TestCreatePlanRejectsUnparsableReply(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply("no json here at all")}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))

	_, err := collect(t, planner.CreatePlan(context.Background(), &Message{Text: "hi"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create plan")
}

func TestCreatePlanRejectsWrongShape(t *testing.T) {
	// Parseable JSON that violates the CreatePlanResponse schema must not
	// become a plan.
	for name, reply := range map[string]string{
		"missing title":      `{"message": "m", "goal": "g", "language": "en", "steps": []}`,
		"steps not an array": `{"message": "m", "goal": "g", "title": "t", "language": "en", "steps": "one step"}`,
		"step without id":    `{"message": "m", "goal": "g", "title": "t", "language": "en", "steps": [{"description": "d"}]}`,
		"numeric step id":    `{"message": "m", "goal": "g", "title": "t", "language": "en", "steps": [{"id": 1, "description": "d"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(reply)}}
			planner := newTestPlanner(client, newFakeStore(seedAgent()))

			_, err := collect(t, planner.CreatePlan(context.Background(), &Message{Text: "hi"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation")
		})
	}
}

func TestCreatePlanUnfeasibleTaskHasNoSteps(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(
		`{"message": "I cannot do this.", "goal": "", "title": "Unfeasible", "language": "en", "steps": []}`,
	)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))

	events, err := collect(t, planner.CreatePlan(context.Background(), &Message{Text: "?"}))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypePlan, events[0].Type)
}

func existingPlan() *models.Plan {
	ok := true
	return &models.Plan{
		Title:    "Disk usage check",
		Goal:     "Report disk usage",
		Language: "en",
		Status:   models.ExecutionRunning,
		Steps: []*models.Step{
			{ID: "1", Description: "List configured nodes", Status: models.ExecutionCompleted, Success: &ok, Result: "two nodes"},
			{ID: "2", Description: "Run df -h on each node", Status: models.ExecutionPending},
			{ID: "3", Description: "Summarize usage", Status: models.ExecutionPending},
		},
	}
}

func TestUpdatePlanReplacesUncompletedTail(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(
		`{"steps": [
			{"id": "2", "description": "Run df -h via ssh_node_exec on node-a"},
			{"id": "4", "description": "Check inode usage as well"}
		]}`,
	)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))
	plan := existingPlan()

	events, err := collect(t, planner.UpdatePlan(context.Background(), plan, plan.Steps[0]))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.PlanUpdated, events[0].Status)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "List configured nodes", plan.Steps[0].Description)
	assert.Equal(t, models.ExecutionCompleted, plan.Steps[0].Status)
	assert.Equal(t, "Run df -h via ssh_node_exec on node-a", plan.Steps[1].Description)
	assert.Equal(t, models.ExecutionPending, plan.Steps[1].Status)
	assert.Equal(t, "4", plan.Steps[2].ID)
	assert.Equal(t, "Report disk usage", plan.Goal)
}

func TestUpdatePlanKeepsDescriptionWhenEchoedEmpty(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(
		`{"steps": [{"id": "2", "description": ""}, {"id": "3", "description": ""}]}`,
	)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))
	plan := existingPlan()

	_, err := collect(t, planner.UpdatePlan(context.Background(), plan, plan.Steps[0]))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "Run df -h on each node", plan.Steps[1].Description)
	assert.Equal(t, "Summarize usage", plan.Steps[2].Description)
}

func TestUpdatePlanLeavesFailedStepsAlone(t *testing.T) {
	failed := false
	plan := &models.Plan{
		Language: "en",
		Status:   models.ExecutionRunning,
		Steps: []*models.Step{
			{ID: "1", Description: "Try the fast path", Status: models.ExecutionFailed, Success: &failed, Error: "timeout"},
			{ID: "2", Description: "Fall back to the slow path", Status: models.ExecutionPending},
		},
	}
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(
		`{"steps": [{"id": "2", "description": "Use the slow path with retries"}]}`,
	)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))

	_, err := collect(t, planner.UpdatePlan(context.Background(), plan, plan.Steps[0]))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, models.ExecutionFailed, plan.Steps[0].Status)
	assert.Equal(t, "timeout", plan.Steps[0].Error)
	assert.Equal(t, "Use the slow path with retries", plan.Steps[1].Description)
}

func TestUpdatePlanRejectsStepWithoutID(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(
		`{"steps": [{"description": "missing id"}]}`,
	)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))
	plan := existingPlan()

	_, err := collect(t, planner.UpdatePlan(context.Background(), plan, plan.Steps[0]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestUpdatePlanPromptCarriesStepAndPlan(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(`{"steps": []}`)}}
	planner := newTestPlanner(client, newFakeStore(seedAgent()))
	plan := existingPlan()

	_, err := collect(t, planner.UpdatePlan(context.Background(), plan, plan.Steps[0]))
	require.NoError(t, err)

	prompt := client.asks[0][len(client.asks[0])-1].Content
	assert.Contains(t, prompt, "two nodes")
	assert.Contains(t, prompt, "Summarize usage")
	assert.Contains(t, prompt, "UpdatePlanResponse")
}
