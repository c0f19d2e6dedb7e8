// Package flow drives one user message through the plan-act loop: plan the
// work, execute it step by step with a re-plan between steps, then summarize
// the outcome. The flow owns no resources; it orchestrates the planner and
// executor roles it is given and forwards their events untouched.
package flow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/steadyops/steward/pkg/agent"
	"github.com/steadyops/steward/pkg/models"
)

// Status is the flow's position in the plan-act loop.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusPlanning    Status = "planning"
	StatusExecuting   Status = "executing"
	StatusUpdating    Status = "updating"
	StatusSummarizing Status = "summarizing"
	StatusCompleted   Status = "completed"
)

// Planner is the planning role. *agent.Planner satisfies it.
type Planner interface {
	CreatePlan(ctx context.Context, msg *agent.Message) iter.Seq2[*models.Event, error]
	UpdatePlan(ctx context.Context, plan *models.Plan, lastStep *models.Step) iter.Seq2[*models.Event, error]
	RollBack(ctx context.Context) error
}

// Executor is the step-running role. *agent.Executor satisfies it.
type Executor interface {
	ExecuteStep(ctx context.Context, plan *models.Plan, step *models.Step, msg *agent.Message) iter.Seq2[*models.Event, error]
	Summarize(ctx context.Context) iter.Seq2[*models.Event, error]
	RollBack(ctx context.Context) error
	CompactMemory(ctx context.Context) error
}

// SessionStore is the slice of session state the flow reads and advances.
// *services.SessionService satisfies it.
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus) error
}

// PlanAct is the state machine consumed once per user message.
//
// A wait event emitted by a step passes through unintercepted: when the
// consumer stops iterating on it, the whole run unwinds without touching
// the plan, so the parked step is still next when the task resumes.
type PlanAct struct {
	sessionID string
	sessions  SessionStore
	planner   Planner
	executor  Executor

	status Status
	plan   *models.Plan
	logger *slog.Logger
}

// NewPlanAct creates an idle flow for one session.
func NewPlanAct(sessionID string, sessions SessionStore, planner Planner, executor Executor) *PlanAct {
	return &PlanAct{
		sessionID: sessionID,
		sessions:  sessions,
		planner:   planner,
		executor:  executor,
		status:    StatusIdle,
		logger:    slog.With("component", "flow", "session_id", sessionID),
	}
}

// IsDone reports whether the flow has returned to idle.
func (f *PlanAct) IsDone() bool {
	return f.status == StatusIdle
}

// Run consumes one user message and yields the resulting event stream,
// ending with a done event.
//
// A session that is not pending is a resume: both roles roll back their last
// memory exchange so the message is consumed fresh. A session interrupted
// while running re-enters at planning; one parked waiting for user input
// re-enters at executing, picking up the step that parked it.
func (f *PlanAct) Run(ctx context.Context, msg *agent.Message) iter.Seq2[*models.Event, error] {
	return func(yield func(*models.Event, error) bool) {
		session, err := f.sessions.FindByID(ctx, f.sessionID)
		if err != nil {
			yield(nil, fmt.Errorf("load session %s: %w", f.sessionID, err))
			return
		}
		if session == nil {
			yield(nil, fmt.Errorf("session %s not found", f.sessionID))
			return
		}

		if session.Status != models.SessionStatusPending {
			f.logger.Debug("resuming session", "status", session.Status)
			if err := f.executor.RollBack(ctx); err != nil {
				yield(nil, fmt.Errorf("roll back executor: %w", err))
				return
			}
			if err := f.planner.RollBack(ctx); err != nil {
				yield(nil, fmt.Errorf("roll back planner: %w", err))
				return
			}
		}
		switch session.Status {
		case models.SessionStatusRunning:
			f.status = StatusPlanning
		case models.SessionStatusWaiting:
			f.status = StatusExecuting
		}

		if err := f.sessions.UpdateStatus(ctx, f.sessionID, models.SessionStatusRunning); err != nil {
			yield(nil, fmt.Errorf("mark session running: %w", err))
			return
		}
		f.plan = session.LastPlan()

		f.logger.Info("processing message", "status", f.status, "length", len(msg.Text))
		var step *models.Step
		for {
			switch f.status {
			case StatusIdle:
				f.status = StatusPlanning

			case StatusPlanning:
				for ev, err := range f.planner.CreatePlan(ctx, msg) {
					if err != nil {
						yield(nil, err)
						return
					}
					if ev.Type == models.EventTypePlan && ev.Status == models.PlanCreated {
						f.plan = ev.Plan
						if !yield(models.NewTitleEvent(ev.Plan.Title), nil) {
							return
						}
						if !yield(models.NewMessageEvent(models.RoleAssistant, ev.Plan.Message), nil) {
							return
						}
					}
					if !yield(ev, nil) {
						return
					}
				}
				if f.plan == nil {
					yield(nil, errors.New("planning finished without a plan"))
					return
				}
				f.status = StatusExecuting
				if len(f.plan.Steps) == 0 {
					f.logger.Info("plan has no steps, nothing to execute")
					f.status = StatusCompleted
				}

			case StatusExecuting:
				if f.plan == nil {
					yield(nil, errors.New("no plan to execute"))
					return
				}
				f.plan.Status = models.ExecutionRunning
				step = f.plan.NextStep()
				if step == nil {
					f.status = StatusSummarizing
					continue
				}
				f.logger.Info("executing step", "step_id", step.ID)
				for ev, err := range f.executor.ExecuteStep(ctx, f.plan, step, msg) {
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
				if err := f.executor.CompactMemory(ctx); err != nil {
					f.logger.Warn("memory compaction failed", "error", err)
				}
				f.status = StatusUpdating

			case StatusUpdating:
				for ev, err := range f.planner.UpdatePlan(ctx, f.plan, step) {
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
				f.status = StatusExecuting

			case StatusSummarizing:
				for ev, err := range f.executor.Summarize(ctx) {
					if err != nil {
						yield(nil, err)
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
				f.status = StatusCompleted

			case StatusCompleted:
				f.plan.Status = models.ExecutionCompleted
				if !yield(models.NewPlanEvent(models.PlanCompleted, f.plan), nil) {
					return
				}
				f.status = StatusIdle
				f.logger.Info("message processed")
				yield(models.NewDoneEvent(), nil)
				return
			}
		}
	}
}
