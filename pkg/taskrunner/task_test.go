package taskrunner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner blocks in Run until released or cancelled.
type stubRunner struct {
	started  chan struct{}
	release  chan struct{}
	runs     atomic.Int32
	dones    atomic.Int32
	destroys atomic.Int32
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (r *stubRunner) Run(ctx context.Context, _ *Task) {
	r.runs.Add(1)
	select {
	case r.started <- struct{}{}:
	default:
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
}

func (r *stubRunner) OnDone(_ *Task)            { r.dones.Add(1) }
func (r *stubRunner) Destroy(_ context.Context) { r.destroys.Add(1) }

func (r *stubRunner) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(time.Second):
		t.Fatal("runner never started")
	}
}

func testRegistry() *Registry {
	// The client never dials: these tests exercise only the task
	// lifecycle, not the stream queues.
	return NewRegistry(redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"}))
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := testRegistry()
	stub := newStubRunner()

	task := reg.Create(stub)

	require.NotEmpty(t, task.ID())
	assert.Same(t, task, reg.Get(task.ID()))
	assert.Nil(t, reg.Get("unknown"))
	assert.NotNil(t, task.Input())
	assert.NotNil(t, task.Output())
	assert.True(t, task.Done(), "a task is idle until Run")
}

func TestTaskRunLifecycle(t *testing.T) {
	reg := testRegistry()
	stub := newStubRunner()
	task := reg.Create(stub)

	task.Run()
	stub.waitStarted(t)
	assert.False(t, task.Done())

	task.Run() // no-op while a run is in flight
	assert.Equal(t, int32(1), stub.runs.Load())

	close(stub.release)
	require.Eventually(t, task.Done, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return reg.Get(task.ID()) == nil }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return stub.dones.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTaskRunRestartsAfterCompletion(t *testing.T) {
	reg := testRegistry()
	stub := newStubRunner()
	close(stub.release) // every run returns immediately
	task := reg.Create(stub)

	task.Run()
	require.Eventually(t, task.Done, time.Second, 10*time.Millisecond)

	task.Run()
	require.Eventually(t, func() bool { return stub.runs.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestTaskCancelStopsRun(t *testing.T) {
	reg := testRegistry()
	stub := newStubRunner()
	task := reg.Create(stub)

	task.Run()
	stub.waitStarted(t)

	assert.True(t, task.Cancel())
	require.Eventually(t, task.Done, time.Second, 10*time.Millisecond)
	assert.Nil(t, reg.Get(task.ID()))
	assert.False(t, task.Cancel(), "second cancel finds nothing running")
}

func TestTaskCancelBeforeRunDeregisters(t *testing.T) {
	reg := testRegistry()
	task := reg.Create(newStubRunner())

	assert.False(t, task.Cancel())
	assert.Nil(t, reg.Get(task.ID()))
}

func TestRegistryShutdownCancelsAndDestroys(t *testing.T) {
	reg := testRegistry()
	running := newStubRunner()
	idle := newStubRunner()
	runningTask := reg.Create(running)
	idleTask := reg.Create(idle)

	runningTask.Run()
	running.waitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reg.Shutdown(ctx)

	assert.True(t, runningTask.Done())
	assert.Equal(t, int32(1), running.destroys.Load())
	assert.Equal(t, int32(1), idle.destroys.Load())
	assert.Nil(t, reg.Get(runningTask.ID()))
	assert.Nil(t, reg.Get(idleTask.ID()))
}
