package taskrunner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/pkg/streams"
)

// Runner is the work a Task executes.
type Runner interface {
	// Run processes the task's input queue until it drains or the context
	// is cancelled. Implementations handle their own errors.
	Run(ctx context.Context, task *Task)

	// OnDone is invoked after Run returns and the task is deregistered.
	OnDone(task *Task)

	// Destroy releases the resources owned by the runner.
	Destroy(ctx context.Context)
}

// Task is one agent execution bound to a session, with durable input and
// output queues on Redis streams. A task may run many times over its life:
// each Run call starts the runner again if the previous run has finished.
type Task struct {
	id       string
	runner   Runner
	input    Queue
	output   Queue
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ID returns the task identifier; the stream names derive from it.
func (t *Task) ID() string { return t.id }

// Input returns the task's input queue.
func (t *Task) Input() Queue { return t.input }

// Output returns the task's output queue.
func (t *Task) Output() Queue { return t.output }

// Done reports whether no run is in flight.
func (t *Task) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doneLocked()
}

func (t *Task) doneLocked() bool {
	if t.done == nil {
		return true
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Run starts the runner when the task is idle. Calling it while a run is in
// flight is a no-op; the live run picks up queued input itself.
func (t *Task) Run() {
	t.mu.Lock()
	if !t.doneLocked() {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.logger.Info("Task execution started")
	go func() {
		defer close(done)
		defer cancel()
		t.runner.Run(ctx, t)
		t.registry.remove(t.id)
		t.runner.OnDone(t)
	}()
}

// Cancel stops the in-flight run and reports whether one was actually
// cancelled. The task leaves the registry either way.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	running := !t.doneLocked()
	cancel := t.cancel
	t.mu.Unlock()

	t.registry.remove(t.id)
	if running && cancel != nil {
		t.logger.Info("Task cancelled")
		cancel()
		return true
	}
	return false
}

// wait blocks until the current run finishes or ctx expires.
func (t *Task) wait(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Registry tracks the live tasks of this process, keyed by task id. It
// mutates only on task create, cancel, and completion.
type Registry struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewRegistry creates an empty task registry backed by the Redis client
// used for the per-task stream queues.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{
		rdb:    rdb,
		logger: slog.With("component", "taskrunner"),
		tasks:  make(map[string]*Task),
	}
}

// Create allocates a task with fresh input/output streams and registers it.
func (g *Registry) Create(runner Runner) *Task {
	id := models.NewID()
	t := &Task{
		id:       id,
		runner:   runner,
		input:    streams.New(g.rdb, streams.InputStream(id)),
		output:   streams.New(g.rdb, streams.OutputStream(id)),
		registry: g,
		logger:   g.logger.With("task_id", id),
	}
	g.mu.Lock()
	g.tasks[id] = t
	g.mu.Unlock()
	g.logger.Info("Task registered", "task_id", id)
	return t
}

// Get returns the registered task, or nil when it has finished or never
// existed.
func (g *Registry) Get(id string) *Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tasks[id]
}

func (g *Registry) remove(id string) {
	g.mu.Lock()
	_, ok := g.tasks[id]
	delete(g.tasks, id)
	g.mu.Unlock()
	if ok {
		g.logger.Info("Task removed from registry", "task_id", id)
	}
}

// Shutdown cancels every registered task, waits for the runners to unwind,
// and releases their resources. ctx bounds the whole operation; work still
// pending when it expires is abandoned with durable state preserved.
func (g *Registry) Shutdown(ctx context.Context) {
	g.mu.Lock()
	tasks := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		tasks = append(tasks, t)
	}
	g.tasks = make(map[string]*Task)
	g.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, t := range tasks {
		t.wait(ctx)
		t.runner.Destroy(ctx)
	}
	g.logger.Info("All tasks closed", "count", len(tasks))
}
