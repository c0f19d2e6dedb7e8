// Package cleanup reclaims sandbox containers left behind by idle sessions.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/steadyops/steward/pkg/models"
)

// Sandboxes is the slice of the sandbox manager the reaper drives.
// *sandbox.Manager satisfies it.
type Sandboxes interface {
	Expired(ctx context.Context, cutoff time.Time) ([]string, error)
	Destroy(ctx context.Context, sandboxID string) error
}

// Sessions supplies the sessions whose sandboxes must stay alive.
// *services.SessionService satisfies it.
type Sessions interface {
	GetAll(ctx context.Context, sessionType models.SessionType) ([]*models.Session, error)
}

// Reaper periodically destroys sandbox containers older than the TTL unless
// a running session still owns them. Destroys are idempotent, so overlap
// with a concurrent stop or delete is harmless.
type Reaper struct {
	ttl       time.Duration
	interval  time.Duration
	sandboxes Sandboxes
	sessions  Sessions
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a new Reaper.
func NewReaper(ttl, interval time.Duration, sandboxes Sandboxes, sessions Sessions) *Reaper {
	return &Reaper{
		ttl:       ttl,
		interval:  interval,
		sandboxes: sandboxes,
		sessions:  sessions,
		logger:    slog.With("component", "cleanup"),
	}
}

// Start launches the background reap loop.
func (r *Reaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	r.logger.Info("Sandbox reaper started", "ttl", r.ttl, "interval", r.interval)
}

// Stop signals the reap loop to exit and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Sandbox reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.ReapOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce destroys every expired sandbox not owned by a running session and
// returns the number destroyed.
func (r *Reaper) ReapOnce(ctx context.Context) int {
	expired, err := r.sandboxes.Expired(ctx, time.Now().Add(-r.ttl))
	if err != nil {
		r.logger.Error("Failed to list expired sandboxes", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	busy, err := r.busySandboxes(ctx)
	if err != nil {
		r.logger.Error("Failed to list sessions", "error", err)
		return 0
	}

	destroyed := 0
	for _, id := range expired {
		if busy[id] {
			continue
		}
		if err := r.sandboxes.Destroy(ctx, id); err != nil {
			r.logger.Error("Failed to destroy sandbox", "sandbox_id", id, "error", err)
			continue
		}
		r.logger.Info("Expired sandbox destroyed", "sandbox_id", id)
		destroyed++
	}
	return destroyed
}

// busySandboxes returns the sandbox ids owned by sessions still running.
func (r *Reaper) busySandboxes(ctx context.Context) (map[string]bool, error) {
	sessions, err := r.sessions.GetAll(ctx, "")
	if err != nil {
		return nil, err
	}
	busy := make(map[string]bool)
	for _, session := range sessions {
		if session.SandboxID != "" && session.Status == models.SessionStatusRunning {
			busy[session.SandboxID] = true
		}
	}
	return busy, nil
}
