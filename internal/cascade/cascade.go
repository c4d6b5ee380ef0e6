// Package cascade implements the Cascade Engine (SPEC_FULL.md §4.4): on every
// run completion, it re-evaluates downstream tasks, gates on dependencies,
// evaluates conditions, accumulates context, handles the fix→review retry
// loop, and resolves terminal mission status.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"colony/internal/apperr"
	"colony/internal/model"
	"colony/internal/store"
	"colony/internal/telemetry"
	"colony/internal/workflow"
)

// Publisher is the subset of eventbus.Bus the cascade engine needs: fanning
// out already-persisted events to observers and waking the scheduler when a
// task becomes eligible.
type Publisher interface {
	Broadcast(e model.Event)
	Notify()
}

// Engine applies spec.md §4.4's seven-step procedure under per-mission
// serialization (spec.md §5): two concurrent run completions within the same
// mission never interleave, but missions proceed fully in parallel.
type Engine struct {
	store     store.Store
	bus       Publisher
	telemetry *telemetry.Telemetry
	logger    *slog.Logger

	missionLocks sync.Map // mission ID -> *sync.Mutex
}

func New(st store.Store, bus Publisher, tel *telemetry.Telemetry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, bus: bus, telemetry: tel, logger: logger}
}

func (e *Engine) lockFor(missionID string) *sync.Mutex {
	v, _ := e.missionLocks.LoadOrStore(missionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// run carries per-invocation state — the transaction-bound store and the
// events recorded so far — through the cascade's recursive helpers without
// widening every method signature by hand each time a new step needs to
// record one.
type run struct {
	tx      store.Store
	pending []model.Event
}

// OnRunCompleted runs the full cascade procedure for the task that
// completedRun belongs to. It is the entry point called by the Engine (component) when a
// crab reports a run as completed or failed.
func (e *Engine) OnRunCompleted(ctx context.Context, completedRun *model.Run) error {
	task, err := e.store.GetTask(ctx, completedRun.TaskID)
	if err != nil {
		return fmt.Errorf("load completed task: %w", err)
	}

	mu := e.lockFor(task.MissionID)
	mu.Lock()
	defer mu.Unlock()

	var pending []model.Event
	var missionResolved model.MissionStatus
	err = e.store.WithTx(ctx, func(tx store.Store) error {
		r := &run{tx: tx}
		resolved, err := e.applyCascade(ctx, r, completedRun, task.MissionID)
		pending = r.pending
		missionResolved = resolved
		return err
	})
	if err != nil {
		return err
	}

	for _, evt := range pending {
		e.bus.Broadcast(evt)
	}
	e.bus.Notify()
	if missionResolved != "" {
		e.logger.Info("mission resolved", "mission_id", task.MissionID, "status", missionResolved)
	}
	return nil
}

func (e *Engine) applyCascade(ctx context.Context, r *run, completedRun *model.Run, missionID string) (model.MissionStatus, error) {
	task, err := r.tx.GetTask(ctx, completedRun.TaskID)
	if err != nil {
		return "", fmt.Errorf("reload task: %w", err)
	}

	newStatus := model.TaskCompleted
	if completedRun.Status == model.RunFailed {
		newStatus = model.TaskFailed
	}
	if !model.CanTransition(task.Status, newStatus) {
		return "", apperr.IllegalTransition("task %s: cannot go %s -> %s", task.ID, task.Status, newStatus)
	}
	task.Status = newStatus
	if task.AssignedCrabID != "" {
		if crab, err := r.tx.GetCrab(ctx, task.AssignedCrabID); err == nil && crab.State == model.CrabBusy && crab.CurrentTaskID == task.ID {
			if err := r.tx.SetCrabState(ctx, crab.ID, model.CrabIdle, "", ""); err != nil {
				return "", fmt.Errorf("release crab %s: %w", crab.ID, err)
			}
		}
	}
	task.AssignedCrabID = ""
	if err := r.tx.UpdateTask(ctx, task); err != nil {
		return "", fmt.Errorf("update completed task: %w", err)
	}
	e.telemetry.TaskTransition(ctx, string(model.TaskRunning), string(newStatus))
	e.recordTaskUpdated(ctx, r, task)

	mission, err := r.tx.GetMission(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("load mission for template vars: %w", err)
	}

	ctxMap, err := materializeContext(ctx, r.tx, missionID)
	if err != nil {
		return "", err
	}

	if err := e.cascadeDownstream(ctx, r, task.ID, ctxMap, mission); err != nil {
		return "", err
	}

	if task.Status == model.TaskCompleted {
		if err := e.applyRetryEdge(ctx, r, mission, task, ctxMap); err != nil {
			return "", err
		}
	}

	return e.resolveMission(ctx, r, missionID)
}

// cascadeDownstream implements steps 2-5: enumerate every task dependent on
// triggerTaskID, gate on prerequisites, evaluate its condition, and apply the
// resulting transition, recursing into its own downstream when it becomes
// terminal (a BFS worklist rather than true recursion, to process each task
// at most once per cascade).
func (e *Engine) cascadeDownstream(ctx context.Context, r *run, triggerTaskID string, ctxMap map[string]workflow.StepContext, mission *model.Mission) error {
	queue := []string{triggerTaskID}
	visited := map[string]bool{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true

		dependents, err := r.tx.ListDependents(ctx, cur)
		if err != nil {
			return fmt.Errorf("list dependents of %s: %w", cur, err)
		}

		for _, candidateID := range dependents {
			becameTerminal, err := e.processCandidate(ctx, r, candidateID, ctxMap, mission)
			if err != nil {
				return err
			}
			if becameTerminal {
				queue = append(queue, candidateID)
			}
		}
	}
	return nil
}

// processCandidate implements steps 3-5 for one candidate task. It returns
// true when the candidate left Blocked (either to Failed or Skipped — both
// terminal for cascade purposes and so re-triggers for their own downstream)
// so the caller knows to continue the worklist; a transition to Queued is not
// itself terminal and does not re-trigger (the scheduler takes it from there).
func (e *Engine) processCandidate(ctx context.Context, r *run, candidateID string, ctxMap map[string]workflow.StepContext, mission *model.Mission) (bool, error) {
	candidate, err := r.tx.GetTask(ctx, candidateID)
	if err != nil {
		return false, fmt.Errorf("load candidate %s: %w", candidateID, err)
	}
	if candidate.Status != model.TaskBlocked {
		return false, nil // already progressed by an earlier completion or a different path
	}

	prereqIDs, err := r.tx.ListPrerequisites(ctx, candidateID)
	if err != nil {
		return false, fmt.Errorf("list prerequisites of %s: %w", candidateID, err)
	}

	allTerminal := true
	anyFailed := false
	for _, prereqID := range prereqIDs {
		prereq, err := r.tx.GetTask(ctx, prereqID)
		if err != nil {
			return false, fmt.Errorf("load prerequisite %s: %w", prereqID, err)
		}
		if !prereq.Status.Terminal() {
			allTerminal = false
			break
		}
		if prereq.Status.TerminalFailure() {
			anyFailed = true
		}
	}
	if !allTerminal {
		return false, nil // stays Blocked
	}

	if anyFailed {
		candidate.Status = model.TaskFailed
		if err := r.tx.UpdateTask(ctx, candidate); err != nil {
			return false, fmt.Errorf("fail cascaded candidate %s: %w", candidateID, err)
		}
		e.telemetry.TaskTransition(ctx, string(model.TaskBlocked), string(model.TaskFailed))
		e.recordTaskUpdated(ctx, r, candidate)
		return true, nil
	}

	ok, evalErr := workflow.Evaluate(candidate.Condition, ctxMap)
	if evalErr != nil {
		e.logger.Warn("condition evaluation failed, treating as false", "task_id", candidate.ID, "condition", candidate.Condition, "error", evalErr)
	}

	if ok {
		accumulated, err := buildAccumulatedContext(ctx, r.tx, candidateID, ctxMap)
		if err != nil {
			return false, err
		}
		candidate.Status = model.TaskQueued
		candidate.Context = accumulated
		candidate.Prompt = workflow.Render(candidate.PromptTemplate, workflow.TemplateVars{
			MissionPrompt: mission.Prompt,
			WorktreePath:  mission.WorkdirPath,
			Context:       accumulated,
		})
		if err := r.tx.UpdateTask(ctx, candidate); err != nil {
			return false, fmt.Errorf("queue candidate %s: %w", candidateID, err)
		}
		e.telemetry.TaskTransition(ctx, string(model.TaskBlocked), string(model.TaskQueued))
		e.telemetry.CascadeEvaluation(ctx, "queued")
		e.recordTaskUpdated(ctx, r, candidate)
		return false, nil // Queued is not terminal; the scheduler, not cascade, drives it further
	}

	candidate.Status = model.TaskSkipped
	if err := r.tx.UpdateTask(ctx, candidate); err != nil {
		return false, fmt.Errorf("skip candidate %s: %w", candidateID, err)
	}
	e.telemetry.TaskTransition(ctx, string(model.TaskBlocked), string(model.TaskSkipped))
	e.telemetry.CascadeEvaluation(ctx, "skipped")
	e.recordTaskUpdated(ctx, r, candidate)
	return true, nil
}

func (e *Engine) recordTaskUpdated(ctx context.Context, r *run, t *model.Task) {
	e.recordEvent(ctx, r, model.EventTaskUpdated, t.MissionID, t.ID, map[string]string{
		"step_id": t.StepID,
		"status":  string(t.Status),
	})
}

func (e *Engine) recordEvent(ctx context.Context, r *run, typ model.EventType, missionID, subject string, data map[string]string) {
	evt := &model.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		MissionID: missionID,
		Subject:   subject,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.tx.CreateEvent(ctx, evt); err != nil {
		e.logger.Warn("failed to record event", "type", typ, "subject", subject, "error", err)
		return
	}
	r.pending = append(r.pending, *evt)
}
