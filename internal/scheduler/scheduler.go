// Package scheduler implements the Scheduler (SPEC_FULL.md §4.5): it matches
// Queued tasks to idle crabs using two-pass role matching while enforcing the
// one-running-task-per-mission working-directory invariant, on a timer and on
// every event that could make a match possible.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"colony/internal/eventbus"
	"colony/internal/model"
	"colony/internal/store"
	"colony/internal/telemetry"
)

// Scheduler ties a store, an event bus, and a cron-driven periodic tick
// together. Its Tick method is also called directly by the Engine component
// for the operator-facing trigger-scheduler-tick operation (spec.md §6).
type Scheduler struct {
	store     store.Store
	bus       *eventbus.Bus
	telemetry *telemetry.Telemetry
	logger    *slog.Logger

	cron *cron.Cron
}

func New(st store.Store, bus *eventbus.Bus, tel *telemetry.Telemetry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: st, bus: bus, telemetry: tel, logger: logger}
}

// Run starts the cron-driven tick (default every second, per SPEC_FULL.md
// §4.5) and the event-triggered tick loop. It blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, tickSpec string) error {
	if tickSpec == "" {
		tickSpec = "@every 1s"
	}

	c := cron.New()
	if _, err := c.AddFunc(tickSpec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Warn("scheduled tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule tick %q: %w", tickSpec, err)
	}
	s.cron = c
	c.Start()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.bus.Ticks():
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Warn("event-triggered tick failed", "error", err)
			}
		}
	}
}

// Tick implements spec.md §4.5's tick procedure and returns the number of
// tasks it assigned this pass.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	queued, err := s.store.ListQueuedTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued tasks: %w", err)
	}
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})

	assigned := 0
	for _, task := range queued {
		ok, err := s.tryAssign(ctx, task)
		if err != nil {
			s.logger.Warn("assignment attempt failed", "task_id", task.ID, "error", err)
			continue
		}
		if ok {
			assigned++
		}
	}
	return assigned, nil
}

func (s *Scheduler) tryAssign(ctx context.Context, task *model.Task) (bool, error) {
	mission, err := s.store.GetMission(ctx, task.MissionID)
	if err != nil {
		return false, fmt.Errorf("load mission: %w", err)
	}

	busy, err := s.missionHasInFlightTask(ctx, mission.ID)
	if err != nil {
		return false, err
	}
	if busy {
		return false, nil // working-directory safety: serial execution within a mission
	}

	crab, err := s.matchCrab(ctx, mission.ColonyID, task.Role)
	if err != nil {
		return false, err
	}
	if crab == nil {
		return false, nil
	}

	return true, s.assign(ctx, mission, task, crab)
}

// missionHasInFlightTask implements the working-directory safety rule: at
// most one task per mission may be Assigned or Running at any instant.
func (s *Scheduler) missionHasInFlightTask(ctx context.Context, missionID string) (bool, error) {
	tasks, err := s.store.ListTasksByMission(ctx, missionID)
	if err != nil {
		return false, fmt.Errorf("list mission tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Status == model.TaskAssigned || t.Status == model.TaskRunning {
			return true, nil
		}
	}
	return false, nil
}

// matchCrab implements the two-pass role matching rule: an exact-role match
// always wins over a wildcard match, in either direction, so a wildcard crab
// never pre-empts work reserved for a specialist.
func (s *Scheduler) matchCrab(ctx context.Context, colonyID string, wantRole model.Role) (*model.Crab, error) {
	idle, err := s.store.ListIdleCrabs(ctx, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list idle crabs: %w", err)
	}

	for _, c := range idle {
		if c.Role == wantRole {
			return c, nil
		}
	}
	for _, c := range idle {
		if c.Role == model.RoleAny || wantRole == model.RoleAny {
			return c, nil
		}
	}
	return nil, nil
}

func (s *Scheduler) assign(ctx context.Context, mission *model.Mission, task *model.Task, crab *model.Crab) error {
	now := time.Now().UTC()
	runID := uuid.NewString()

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		task.Status = model.TaskAssigned
		task.AssignedCrabID = crab.ID
		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("assign task: %w", err)
		}

		if err := tx.SetCrabState(ctx, crab.ID, model.CrabBusy, task.ID, runID); err != nil {
			return fmt.Errorf("mark crab busy: %w", err)
		}

		if mission.Status == model.MissionPending {
			if err := tx.UpdateMissionStatus(ctx, mission.ID, model.MissionRunning); err != nil {
				return fmt.Errorf("start mission: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.telemetry.SchedulerMatch(ctx, string(task.Role))
	s.bus.Deliver(crab.ID, eventbus.Assignment{
		TaskID:      task.ID,
		MissionID:   mission.ID,
		Role:        task.Role,
		Prompt:      task.Prompt,
		Context:     task.Context,
		WorkdirPath: mission.WorkdirPath,
	})

	evt := &model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventTaskUpdated,
		MissionID: mission.ID,
		Subject:   task.ID,
		Data:      map[string]string{"status": string(model.TaskAssigned), "crab_id": crab.ID},
		CreatedAt: now,
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish assignment event", "task_id", task.ID, "error", err)
	}

	s.logger.Info("task assigned", "task_id", task.ID, "mission_id", mission.ID, "crab_id", crab.ID, "role", task.Role)
	return nil
}
