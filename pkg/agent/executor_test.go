package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

func newTestExecutor(client LLM, store Store, runner ToolRunner) *Executor {
	return NewExecutor("agent-1", store, client, runner)
}

func runningPlan() (*models.Plan, *models.Step) {
	plan := &models.Plan{
		Title:    "Disk usage check",
		Language: "en",
		Status:   models.ExecutionRunning,
		Steps: []*models.Step{
			{ID: "1", Description: "Run df -h on node-a", Status: models.ExecutionPending},
		},
	}
	return plan, plan.Steps[0]
}

func TestExecuteStepHappyPath(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		toolCallReply("call-1", "message_notify_user", `{"text":"Checking disk usage now"}`),
		assistantReply(`{"success": true, "result": "node-a is at 42% disk usage", "attachments": ["/home/ubuntu/df.txt"]}`),
	}}
	store := newFakeStore(seedAgent())
	runner := &fakeTools{}
	executor := newTestExecutor(client, store, runner)
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "check disks"}))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, models.EventTypeStep, events[0].Type)
	assert.Equal(t, models.StepStarted, events[0].Status)
	assert.Equal(t, models.ExecutionRunning, events[0].StepStatus)

	// message_notify_user is an ordinary tool: both sides are forwarded.
	assert.Equal(t, models.EventTypeTool, events[1].Type)
	assert.Equal(t, "message_notify_user", events[1].Function)
	assert.Equal(t, models.EventTypeTool, events[2].Type)
	assert.Equal(t, models.ToolCalled, events[2].Status)

	assert.Equal(t, models.EventTypeStep, events[3].Type)
	assert.Equal(t, models.StepCompleted, events[3].Status)
	assert.Equal(t, models.ExecutionCompleted, events[3].StepStatus)

	assert.Equal(t, models.EventTypeMessage, events[4].Type)
	assert.Equal(t, "node-a is at 42% disk usage", events[4].Message)

	require.NotNil(t, step.Success)
	assert.True(t, *step.Success)
	assert.Equal(t, "node-a is at 42% disk usage", step.Result)
	assert.Equal(t, []string{"/home/ubuntu/df.txt"}, step.Attachments)
	assert.Equal(t, models.ExecutionCompleted, step.Status)
}

func TestExecuteStepEmptyResultEmitsNoMessage(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		assistantReply(`{"success": true, "result": "", "attachments": []}`),
	}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "go"}))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.StepStarted, events[0].Status)
	assert.Equal(t, models.StepCompleted, events[1].Status)
}

func TestExecuteStepAskUserParksTheTask(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		toolCallReply("call-1", "message_ask_user", `{"text":"Which node should I restart?"}`),
	}}
	store := newFakeStore(seedAgent())
	runner := &fakeTools{}
	executor := newTestExecutor(client, store, runner)
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "restart"}))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.StepStarted, events[0].Status)
	assert.Equal(t, models.EventTypeMessage, events[1].Type)
	assert.Equal(t, "Which node should I restart?", events[1].Message)
	assert.Equal(t, models.EventTypeWait, events[2].Type)

	// The step stays running so a resumed task picks it up again.
	assert.Equal(t, models.ExecutionRunning, step.Status)
	// Only one model turn happened; the question is answered by new input.
	assert.Len(t, client.asks, 1)
}

func TestExecuteStepSSHApprovalParksTheTask(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		toolCallReply("call-1", "ssh_node_exec", `{"node_id":"n1","command":"systemctl restart nginx"}`),
	}}
	runner := &fakeTools{results: map[string]*models.ToolResult{
		"ssh_node_exec": {Success: true, Message: "approval_required", Data: map[string]any{"approval_id": "ap-1"}},
	}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), runner)
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "restart nginx"}))
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, models.StepStarted, events[0].Status)
	assert.Equal(t, models.ToolCalling, events[1].Status)
	assert.Equal(t, "ssh_node_exec", events[1].Function)
	assert.Equal(t, models.EventTypeMessage, events[2].Type)
	assert.Contains(t, events[2].Message, "waiting for user approval")
	assert.Equal(t, models.EventTypeWait, events[3].Type)

	assert.Equal(t, models.ExecutionRunning, step.Status)
}

func TestExecuteStepForwardsCompletedSSHCalls(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		toolCallReply("call-1", "ssh_node_exec", `{"node_id":"n1","command":"uptime"}`),
		assistantReply(`{"success": true, "result": "uptime captured", "attachments": []}`),
	}}
	runner := &fakeTools{results: map[string]*models.ToolResult{
		"ssh_node_exec": models.Ok("up 12 days"),
	}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), runner)
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "uptime"}))
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, models.ToolCalled, events[2].Status)
	require.NotNil(t, events[2].Result)
	assert.Equal(t, "up 12 days", events[2].Result.Message)
}

func TestExecuteStepModelFailureMarksStepFailed(t *testing.T) {
	client := &fakeLLM{err: errors.New("model down")}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})
	plan, step := runningPlan()

	events, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "go"}))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, models.StepStarted, events[0].Status)
	assert.Equal(t, models.StepFailed, events[1].Status)
	assert.Equal(t, models.ExecutionFailed, events[1].StepStatus)
	assert.Equal(t, "model down", events[1].StepError)
	assert.Equal(t, models.EventTypeError, events[2].Type)
	assert.Equal(t, "model down", events[2].Error)
	assert.Equal(t, "model down", step.Error)
}

func TestExecuteStepUnparsableConclusion(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply("plain prose, no json")}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})
	plan, step := runningPlan()

	_, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "go"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step conclusion")
}

func TestExecuteStepRejectsMalformedConclusion(t *testing.T) {
	// Valid JSON that is not a conclusion is rejected rather than coerced
	// into a zero-valued verdict.
	for name, reply := range map[string]string{
		"missing success":    `{"result": "done", "attachments": []}`,
		"success not a bool": `{"success": "yes", "result": "done"}`,
		"attachments mixed":  `{"success": true, "result": "done", "attachments": [42]}`,
	} {
		t.Run(name, func(t *testing.T) {
			client := &fakeLLM{replies: []*models.ChatMessage{assistantReply(reply)}}
			executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})
			plan, step := runningPlan()

			_, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, &Message{Text: "go"}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema validation")
		})
	}
}

func TestExecuteStepPromptCarriesContext(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		assistantReply(`{"success": true, "result": "done", "attachments": []}`),
	}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})
	plan, step := runningPlan()
	msg := &Message{Text: "check disks", Attachments: []string{"/home/ubuntu/upload/a.txt", "/home/ubuntu/upload/b.txt"}}

	_, err := collect(t, executor.ExecuteStep(context.Background(), plan, step, msg))
	require.NoError(t, err)

	prompt := client.asks[0][len(client.asks[0])-1].Content
	assert.Contains(t, prompt, "Run df -h on node-a")
	assert.Contains(t, prompt, "check disks")
	assert.Contains(t, prompt, "/home/ubuntu/upload/a.txt\n/home/ubuntu/upload/b.txt")
	assert.Contains(t, prompt, "Working Language:\nen")
}

func TestSummarize(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{
		assistantReply(`{"message": "Both nodes are healthy. Full report attached.", "attachments": ["/home/ubuntu/report.md"]}`),
	}}
	store := newFakeStore(seedAgent())
	executor := newTestExecutor(client, store, &fakeTools{})

	var got *models.Event
	var count int
	executor.Summarize(context.Background())(func(ev *models.Event, err error) bool {
		require.NoError(t, err)
		count++
		got = ev
		return true
	})

	require.Equal(t, 1, count)
	require.Equal(t, models.EventTypeMessage, got.Type)
	assert.Equal(t, "Both nodes are healthy. Full report attached.", got.Message)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "/home/ubuntu/report.md", got.Attachments[0].FilePath)

	// The closing prompt itself is in the execution memory.
	mem := store.agents["agent-1"].Memory(models.MemoryExecution)
	require.Len(t, mem.Messages, 3)
	assert.Contains(t, mem.Messages[1].Content, "deliver the final result")
}

func TestSummarizeUnparsableReply(t *testing.T) {
	client := &fakeLLM{replies: []*models.ChatMessage{assistantReply("no structure")}}
	executor := newTestExecutor(client, newFakeStore(seedAgent()), &fakeTools{})

	_, err := collect(t, executor.Summarize(context.Background()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary")
}
