package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"colony/internal/apperr"
	"colony/internal/model"
	"colony/internal/store"
)

// RunCompletionHandler is how the liveness monitor hands a synthesized
// failed run to the Cascade Engine, mirroring the path a crab's own failure
// report takes (spec.md §5 "Cancellation & timeouts").
type RunCompletionHandler interface {
	OnRunCompleted(ctx context.Context, run *model.Run) error
}

// MonitorHeartbeats sweeps for crabs whose last heartbeat exceeds timeout,
// moves them offline, and fails their in-flight task (if any) by synthesizing
// a failed run and routing it through the same cascade path as any other run
// failure. It blocks until ctx is canceled.
func (s *Scheduler) MonitorHeartbeats(ctx context.Context, timeout, interval time.Duration, cascade RunCompletionHandler) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweepStaleCrabs(ctx, timeout, cascade); err != nil {
				s.logger.Warn("heartbeat sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) sweepStaleCrabs(ctx context.Context, timeout time.Duration, cascade RunCompletionHandler) error {
	cutoff := time.Now().UTC().Add(-timeout)
	stale, err := s.store.ListStaleCrabs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale crabs: %w", err)
	}

	for _, crab := range stale {
		if err := s.failStaleCrab(ctx, crab, cascade); err != nil {
			s.logger.Warn("failed to process stale crab", "crab_id", crab.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) failStaleCrab(ctx context.Context, crab *model.Crab, cascade RunCompletionHandler) error {
	taskID, runID := crab.CurrentTaskID, crab.CurrentRunID

	if err := s.store.SetCrabState(ctx, crab.ID, model.CrabOffline, "", ""); err != nil {
		return fmt.Errorf("mark crab offline: %w", err)
	}
	s.telemetry.HeartbeatTimeout(ctx, crab.ID)
	s.logger.Warn("crab heartbeat timeout, marked offline", "crab_id", crab.ID, "task_id", taskID)

	if taskID == "" {
		return nil // crab was idle; nothing in flight to fail
	}

	timeoutErr := apperr.HeartbeatTimeout("crab %s missed heartbeat while running task %s", crab.ID, taskID)

	now := time.Now().UTC()
	run := &model.Run{
		ID:        runID,
		TaskID:    taskID,
		CrabID:    crab.ID,
		Status:    model.RunFailed,
		Summary:   timeoutErr.Error(),
		UpdatedAt: now,
		CompletedAt: &now,
	}

	if runID == "" {
		run.ID = uuid.NewString()
	} else if existing, err := s.store.GetRun(ctx, runID); err == nil {
		run.MissionID = existing.MissionID
		run.WorkdirPath = existing.WorkdirPath
		run.StartedAt = existing.StartedAt
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("update run on heartbeat timeout: %w", err)
		}
		return cascade.OnRunCompleted(ctx, run)
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load in-flight task: %w", err)
	}
	run.MissionID = task.MissionID
	run.StartedAt = now
	if err := createOrphanRun(ctx, s.store, run); err != nil {
		return err
	}
	return cascade.OnRunCompleted(ctx, run)
}

func createOrphanRun(ctx context.Context, st store.Store, run *model.Run) error {
	if err := st.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create synthesized failed run: %w", err)
	}
	return nil
}
