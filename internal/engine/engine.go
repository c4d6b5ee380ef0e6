// Package engine ties the seven components together and exposes the
// operator-facing operations named in SPEC_FULL.md §6: one method per named
// operation (create-colony, register-crab, create-mission, start-run,
// complete-run, trigger-scheduler-tick, read-status-snapshot, and so on).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"colony/internal/cascade"
	"colony/internal/eventbus"
	"colony/internal/expander"
	"colony/internal/gate"
	"colony/internal/model"
	"colony/internal/scheduler"
	"colony/internal/store"
	"colony/internal/telemetry"
	"colony/internal/workflow"
)

// Engine is safe for concurrent use by multiple goroutines: operator calls,
// scheduler ticks, and crab reports all happen concurrently in any real
// deployment (SPEC_FULL.md §5).
type Engine struct {
	store     store.Store
	bus       *eventbus.Bus
	workflows *workflow.Registry
	expander  *expander.Expander
	cascade   *cascade.Engine
	scheduler *scheduler.Scheduler
	gate      *gate.Gate
	telemetry *telemetry.Telemetry
	logger    *slog.Logger
}

func New(st store.Store, registry *workflow.Registry, tel *telemetry.Telemetry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	bus := eventbus.New(st, logger)
	return &Engine{
		store:     st,
		bus:       bus,
		workflows: registry,
		expander:  expander.New(st, registry),
		cascade:   cascade.New(st, bus, tel, logger),
		scheduler: scheduler.New(st, bus, tel, logger),
		gate:      gate.New(st, bus, tel, logger),
		telemetry: tel,
		logger:    logger,
	}
}

// Run starts the scheduler's cron/event tick loop and the heartbeat monitor.
// It blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context, tickSpec string, heartbeatTimeout, heartbeatInterval time.Duration) error {
	errCh := make(chan error, 2)
	go func() { errCh <- e.scheduler.Run(ctx, tickSpec) }()
	go func() { errCh <- e.scheduler.MonitorHeartbeats(ctx, heartbeatTimeout, heartbeatInterval, e.cascade) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// CreateColony creates a new tenancy boundary.
func (e *Engine) CreateColony(ctx context.Context, name, description, sourceRepo string) (*model.Colony, error) {
	now := time.Now().UTC()
	c := &model.Colony{ID: uuid.NewString(), Name: name, Description: description, SourceRepo: sourceRepo, CreatedAt: now}
	if err := e.store.CreateColony(ctx, c); err != nil {
		return nil, fmt.Errorf("create colony: %w", err)
	}
	e.publishNow(ctx, model.EventColonyCreated, c.ID, "", c.ID, map[string]string{"name": c.Name})
	return c, nil
}

func (e *Engine) ListColonies(ctx context.Context) ([]*model.Colony, error) {
	return e.store.ListColonies(ctx)
}

// RegisterCrab is an idempotent upsert gated by the Registration Gate.
func (e *Engine) RegisterCrab(ctx context.Context, id, colonyID, name string, role model.Role) (*model.Crab, error) {
	return e.gate.Register(ctx, gate.RegisterInput{ID: id, ColonyID: colonyID, Name: name, Role: role})
}

func (e *Engine) ListCrabs(ctx context.Context, colonyID string) ([]*model.Crab, error) {
	return e.store.ListCrabs(ctx, colonyID)
}

// Heartbeat records crab liveness; the scheduler's heartbeat monitor reads it.
func (e *Engine) Heartbeat(ctx context.Context, crabID string) error {
	return e.store.TouchHeartbeat(ctx, crabID, time.Now().UTC())
}

// CreateMissionInput mirrors expander.ExpandInput at the operator boundary.
type CreateMissionInput struct {
	ColonyID     string
	Prompt       string
	WorkflowName string
	ExternalRef  string
	WorkdirPath  string
	CustomVars   map[string]string
}

func (e *Engine) CreateMission(ctx context.Context, in CreateMissionInput) (*model.Mission, error) {
	workdir := in.WorkdirPath
	if workdir == "" {
		workdir = fmt.Sprintf("/burrows/%s", uuid.NewString())
	}
	mission, err := e.expander.Expand(ctx, expander.ExpandInput{
		ColonyID:     in.ColonyID,
		Prompt:       in.Prompt,
		WorkflowName: in.WorkflowName,
		ExternalRef:  in.ExternalRef,
		WorkdirPath:  workdir,
		CustomVars:   in.CustomVars,
	})
	if err != nil {
		return nil, err
	}
	e.publishNow(ctx, model.EventMissionCreated, in.ColonyID, mission.ID, mission.ID, map[string]string{"workflow": in.WorkflowName})
	e.bus.Notify() // newly queued zero-prerequisite tasks may now be eligible
	return mission, nil
}

func (e *Engine) ListMissions(ctx context.Context, colonyID string) ([]*model.Mission, error) {
	return e.store.ListMissions(ctx, colonyID)
}

func (e *Engine) ListTasks(ctx context.Context, missionID string) ([]*model.Task, error) {
	return e.store.ListTasksByMission(ctx, missionID)
}

func (e *Engine) ListRuns(ctx context.Context, taskID string) ([]*model.Run, error) {
	return e.store.ListRunsByTask(ctx, taskID)
}

// StartRun records that a crab has begun executing its assigned task.
func (e *Engine) StartRun(ctx context.Context, runID, taskID, crabID, missionID, workdirPath string) (*model.Run, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task to start run: %w", err)
	}
	if !model.CanTransition(task.Status, model.TaskRunning) {
		return nil, fmt.Errorf("task %s: cannot start run from status %s", taskID, task.Status)
	}

	now := time.Now().UTC()
	run := &model.Run{
		ID: runID, TaskID: taskID, CrabID: crabID, MissionID: missionID, WorkdirPath: workdirPath,
		Status: model.RunRunning, StartedAt: now, UpdatedAt: now,
	}

	err = e.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		task.Status = model.TaskRunning
		task.UpdatedAt = now
		return tx.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	e.publishNow(ctx, model.EventRunCreated, "", missionID, run.ID, map[string]string{"task_id": taskID, "crab_id": crabID})
	return run, nil
}

// UpdateRun records an in-progress status message from the crab; it does not
// change task status.
func (e *Engine) UpdateRun(ctx context.Context, runID, progress string) (*model.Run, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run to update: %w", err)
	}
	run.Progress = progress
	run.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	e.publishNow(ctx, model.EventRunUpdated, "", run.MissionID, run.ID, map[string]string{"progress": progress})
	return run, nil
}

// CompleteRunInput mirrors spec.md §6's complete-run operation: result is
// the optional short discriminator (e.g. PASS/FAIL) reviewers report;
// summary is free text for human consumption. Replaying the same run
// identity after it has already reached a terminal status is a no-op
// (spec.md §8 property 8).
type CompleteRunInput struct {
	RunID   string
	Failed  bool
	Result  string
	Summary string
	Metrics model.RunMetrics
}

func (e *Engine) CompleteRun(ctx context.Context, in CompleteRunInput) (*model.Run, error) {
	run, err := e.store.GetRun(ctx, in.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run to complete: %w", err)
	}
	if run.Status != model.RunRunning {
		return run, nil // idempotent replay: already terminal, no-op
	}

	now := time.Now().UTC()
	run.Status = model.RunCompleted
	if in.Failed {
		run.Status = model.RunFailed
	}
	run.Result = in.Result
	run.Summary = in.Summary
	run.Metrics = in.Metrics
	run.UpdatedAt = now
	run.CompletedAt = &now

	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("update completed run: %w", err)
	}

	e.publishNow(ctx, model.EventRunCompleted, "", run.MissionID, run.ID, map[string]string{"status": string(run.Status), "result": run.Result})

	if err := e.cascade.OnRunCompleted(ctx, run); err != nil {
		return nil, fmt.Errorf("cascade run completion: %w", err)
	}
	return run, nil
}

// TriggerSchedulerTick runs one scheduler tick immediately and returns the
// number of tasks assigned.
func (e *Engine) TriggerSchedulerTick(ctx context.Context) (int, error) {
	return e.scheduler.Tick(ctx)
}

// StatusSnapshot is the full current state the read-status-snapshot
// operation returns for a colony.
type StatusSnapshot struct {
	Colony   *model.Colony
	Crabs    []*model.Crab
	Missions []*model.Mission
}

func (e *Engine) ReadStatusSnapshot(ctx context.Context, colonyID string) (*StatusSnapshot, error) {
	colony, err := e.store.GetColony(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("load colony: %w", err)
	}
	crabs, err := e.store.ListCrabs(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list crabs: %w", err)
	}
	missions, err := e.store.ListMissions(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return &StatusSnapshot{Colony: colony, Crabs: crabs, Missions: missions}, nil
}

func (e *Engine) ListWorkflowNames() []string {
	return e.workflows.Names()
}

// Subscribe exposes the Event Bus's observer sink to the operator-facing
// dashboard collaborator (out of scope, but this is the seam it attaches to).
func (e *Engine) Subscribe(ctx context.Context, colonyID string) <-chan model.Event {
	return e.bus.Subscribe(ctx, colonyID)
}

// Inbox exposes a crab's per-identity inbound assignment channel.
func (e *Engine) Inbox(crabID string) chan eventbus.Assignment {
	return e.bus.Inbox(crabID)
}

func (e *Engine) publishNow(ctx context.Context, typ model.EventType, colonyID, missionID, subject string, data map[string]string) {
	evt := &model.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		ColonyID:  colonyID,
		MissionID: missionID,
		Subject:   subject,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn("failed to publish event", "type", typ, "subject", subject, "error", err)
	}
}
