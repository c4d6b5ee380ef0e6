package cascade

import (
	"context"
	"fmt"

	"colony/internal/model"
	"colony/internal/workflow"
)

// applyRetryEdge implements spec.md §4.4 step 6. The just-completed task is
// checked for being the designated retry step (the "fix" step in the
// canonical example): if its RetryTarget names a terminal task whose retry
// count is still below the retry step's own MaxRetries budget, that target is
// reset to Queued with its retry count incremented, and every task that
// conditionally depends on the target's prior
// result is rewound to Blocked so the cascade can re-evaluate it once the
// target completes again.
func (e *Engine) applyRetryEdge(ctx context.Context, r *run, mission *model.Mission, completedTask *model.Task, ctxMap map[string]workflow.StepContext) error {
	if completedTask.RetryTarget == "" {
		return nil
	}

	missionID := mission.ID
	tasks, err := r.tx.ListTasksByMission(ctx, missionID)
	if err != nil {
		return fmt.Errorf("list tasks for retry edge: %w", err)
	}

	var target *model.Task
	for _, t := range tasks {
		if t.StepID == completedTask.RetryTarget {
			target = t
			break
		}
	}
	if target == nil {
		return nil // retry target not present in this mission's DAG; nothing to do
	}
	if !target.Status.Terminal() {
		return nil // target hasn't run yet or is mid-flight; not a retry situation
	}
	if target.RetryCount >= completedTask.MaxRetries {
		e.recordEvent(ctx, r, model.EventTaskUpdated, missionID, target.ID, map[string]string{
			"retry_exhausted": "true",
		})
		return nil // apperr.RetryExhausted is logged via the event above; target stays in its terminal status
	}

	accumulated, err := buildAccumulatedContext(ctx, r.tx, target.ID, ctxMap)
	if err != nil {
		return err
	}

	target.Status = model.TaskQueued
	target.RetryCount++
	target.Context = accumulated
	target.Prompt = workflow.Render(target.PromptTemplate, workflow.TemplateVars{
		MissionPrompt: mission.Prompt,
		WorktreePath:  mission.WorkdirPath,
		Context:       accumulated,
	})
	if err := r.tx.UpdateTask(ctx, target); err != nil {
		return fmt.Errorf("requeue retry target %s: %w", target.ID, err)
	}
	e.telemetry.TaskTransition(ctx, string(model.TaskCompleted), string(model.TaskQueued))
	e.recordTaskUpdated(ctx, r, target)

	return e.rewindDependents(ctx, r, target.ID)
}

// rewindDependents clears every task that conditionally depends on target's
// prior result back to Blocked, so the next cascade re-gates and re-evaluates
// them against the target's fresh run. This is the one transition not in
// model.TaskTransitions: the retry edge is a synthesized effect of step 6,
// not a normal forward move through the state machine.
func (e *Engine) rewindDependents(ctx context.Context, r *run, targetID string) error {
	dependents, err := r.tx.ListDependents(ctx, targetID)
	if err != nil {
		return fmt.Errorf("list dependents of retry target: %w", err)
	}

	for _, depID := range dependents {
		dep, err := r.tx.GetTask(ctx, depID)
		if err != nil {
			return fmt.Errorf("load dependent %s: %w", depID, err)
		}
		if dep.Condition != "" && dep.Status.Terminal() && dep.Status != model.TaskFailed {
			dep.Status = model.TaskBlocked
			dep.Context = ""
			if err := r.tx.UpdateTask(ctx, dep); err != nil {
				return fmt.Errorf("rewind dependent %s: %w", depID, err)
			}
			e.recordTaskUpdated(ctx, r, dep)
		}
	}
	return nil
}
