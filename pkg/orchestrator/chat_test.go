package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/services"
)

func seedOutput(t *testing.T, q *memQueue, events ...*models.Event) {
	t.Helper()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		_, err = q.Put(context.Background(), payload)
		require.NoError(t, err)
	}
}

func collect(t *testing.T, events iter.Seq[*models.Event]) []*models.Event {
	t.Helper()
	var out []*models.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestChatUnknownSessionReturnsNotFound(t *testing.T) {
	env := newCoordEnv(testSession("sess-1", "user-1"))
	ctx := context.Background()

	_, err := env.coord.Chat(ctx, ChatInput{SessionID: "missing", UserID: "user-1", Message: "hi"})
	assert.True(t, services.IsNotFound(err))

	_, err = env.coord.Chat(ctx, ChatInput{SessionID: "sess-1", UserID: "user-2", Message: "hi"})
	assert.True(t, services.IsNotFound(err), "foreign session should present as not found")
}

func TestChatCreatesTaskAndQueuesMessage(t *testing.T) {
	session := testSession("sess-1", "user-1")
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.doneOnRun = true
	env.tasks.next = task
	seedOutput(t, task.output,
		models.NewMessageEvent(models.RoleAssistant, "Disk usage is at 42%."),
		models.NewDoneEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID: "sess-1",
		UserID:    "user-1",
		Message:   "check disk usage on web-1",
	})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventTypeMessage, got[0].Type)
	assert.Equal(t, models.EventTypeDone, got[1].Type)

	require.Len(t, env.tasks.created, 1)
	assert.NotNil(t, env.tasks.created[0])
	assert.Equal(t, "task-1", session.TaskID)
	assert.NotEmpty(t, session.SandboxID)
	assert.Equal(t, []string{session.SandboxID}, env.sandboxes.created)
	assert.Equal(t, []string{"check disk usage on web-1"}, env.sessions.latest)
	assert.Equal(t, 1, task.runCount())

	// The user's message was queued for the runner and recorded on the
	// session under its stream id.
	id, payload := task.input.Pop(context.Background())
	require.NotNil(t, payload)
	queued, err := models.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, queued.Role)
	assert.Equal(t, "check disk usage on web-1", queued.Message)

	stored := env.sessions.storedEvents("sess-1")
	require.Len(t, stored, 1)
	assert.Equal(t, id, stored[0].ID)
}

func TestChatReusesRunningTask(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.Status = models.SessionStatusRunning
	session.TaskID = "task-7"
	env := newCoordEnv(session)
	task := newFakeTask("task-7")
	env.tasks.add(task)
	seedOutput(t, task.output, models.NewWaitEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID: "sess-1",
		UserID:    "user-1",
		Message:   "proceed",
	})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTypeWait, got[0].Type)

	assert.Empty(t, env.tasks.created, "a running session keeps its task")
	assert.Equal(t, 1, task.runCount())
	_, payload := task.input.Pop(context.Background())
	assert.NotNil(t, payload)
}

func TestChatRecreatesTaskLostFromRegistry(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.Status = models.SessionStatusRunning
	session.TaskID = "task-gone"
	env := newCoordEnv(session)
	task := newFakeTask("task-new")
	task.doneOnRun = true
	env.tasks.next = task
	seedOutput(t, task.output, models.NewDoneEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID: "sess-1",
		UserID:    "user-1",
		Message:   "hello again",
	})
	require.NoError(t, err)
	collect(t, events)

	require.Len(t, env.tasks.created, 1, "a running session whose task vanished gets a fresh one")
	assert.Equal(t, "task-new", session.TaskID)
}

func TestChatEmptyMessageTailsExistingStream(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.TaskID = "task-1"
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.done = true
	env.tasks.add(task)
	seedOutput(t, task.output,
		models.NewMessageEvent(models.RoleAssistant, "first"),
		models.NewMessageEvent(models.RoleAssistant, "second"),
		models.NewDoneEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID: "sess-1",
		UserID:    "user-1",
	})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, []string{got[0].ID, got[1].ID, got[2].ID})

	assert.Zero(t, task.runCount(), "reconnect must not restart the task")
	assert.Empty(t, env.tasks.created)
	assert.Empty(t, env.sessions.latest)
	assert.True(t, task.input.IsEmpty(context.Background()))
}

func TestChatResumesFromCursor(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.TaskID = "task-1"
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.done = true
	env.tasks.add(task)
	seedOutput(t, task.output,
		models.NewMessageEvent(models.RoleAssistant, "first"),
		models.NewMessageEvent(models.RoleAssistant, "second"),
		models.NewDoneEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID:   "sess-1",
		UserID:      "user-1",
		LastEventID: "1-0",
	})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, "2-0", got[0].ID)
	assert.Equal(t, "3-0", got[1].ID)
}

func TestChatStopsAtTerminalEvent(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.TaskID = "task-1"
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.done = true
	env.tasks.add(task)
	seedOutput(t, task.output,
		models.NewDoneEvent(),
		models.NewMessageEvent(models.RoleAssistant, "late"))

	events, err := env.coord.Chat(context.Background(), ChatInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTypeDone, got[0].Type)
}

func TestChatWithoutTaskYieldsNothing(t *testing.T) {
	env := newCoordEnv(testSession("sess-1", "user-1"))

	events, err := env.coord.Chat(context.Background(), ChatInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	assert.Empty(t, collect(t, events))
	assert.Equal(t, 1, env.sessions.resets(), "the unread counter is reset even when there is nothing to stream")
}

func TestChatMalformedEventYieldsErrorEvent(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.TaskID = "task-1"
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.done = true
	env.tasks.add(task)
	_, err := task.output.Put(context.Background(), []byte("not an event"))
	require.NoError(t, err)

	events, err := env.coord.Chat(context.Background(), ChatInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventTypeError, got[0].Type)
	assert.Contains(t, got[0].Error, "parse event")

	stored := env.sessions.storedEvents("sess-1")
	require.Len(t, stored, 1)
	assert.Equal(t, models.EventTypeError, stored[0].Type)
}

func TestChatBreakMidStreamStillResetsUnread(t *testing.T) {
	session := testSession("sess-1", "user-1")
	session.TaskID = "task-1"
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.done = true
	env.tasks.add(task)
	seedOutput(t, task.output,
		models.NewMessageEvent(models.RoleAssistant, "first"),
		models.NewMessageEvent(models.RoleAssistant, "second"),
		models.NewDoneEvent())

	events, err := env.coord.Chat(context.Background(), ChatInput{SessionID: "sess-1", UserID: "user-1"})
	require.NoError(t, err)

	for range events {
		break
	}
	// One reset before the delivered event, one deferred when the client
	// walked away.
	assert.Equal(t, 2, env.sessions.resets())
}

func TestChatSandboxFailureReturnsError(t *testing.T) {
	env := newCoordEnv(testSession("sess-1", "user-1"))
	env.sandboxes.ensureErr = errors.New("docker daemon unreachable")

	_, err := env.coord.Chat(context.Background(), ChatInput{
		SessionID: "sess-1",
		UserID:    "user-1",
		Message:   "check disk usage",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure sandbox")
	assert.Empty(t, env.tasks.created)
	assert.Empty(t, env.sessions.latest, "the message is not recorded when setup fails")
}

func TestDispatchDrainsStream(t *testing.T) {
	session := testSession("sess-1", "user-1")
	env := newCoordEnv(session)
	task := newFakeTask("task-1")
	task.doneOnRun = true
	env.tasks.next = task
	seedOutput(t, task.output, models.NewDoneEvent())
	ctx := context.Background()

	require.NoError(t, env.coord.Dispatch(ctx, "sess-1", "user-1", "triage ticket T-12"))

	_, payload := task.input.Pop(ctx)
	assert.NotNil(t, payload)

	err := env.coord.Dispatch(ctx, "missing", "user-1", "triage")
	assert.True(t, services.IsNotFound(err))
}
