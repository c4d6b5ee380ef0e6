package cascade

import (
	"context"
	"fmt"
	"strings"

	"colony/internal/model"
	"colony/internal/store"
	"colony/internal/workflow"
)

// materializeContext implements spec.md §4.4 step 1: collect the latest
// completed run per task in the mission and index its result/summary fields
// by step identifier, so `plan.summary`, `review.result`, etc. resolve.
func materializeContext(ctx context.Context, tx store.Store, missionID string) (map[string]workflow.StepContext, error) {
	tasks, err := tx.ListTasksByMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for context: %w", err)
	}

	out := make(map[string]workflow.StepContext, len(tasks))
	for _, t := range tasks {
		if t.Status != model.TaskCompleted {
			continue
		}
		run, err := tx.GetLatestRunForTask(ctx, t.ID)
		if err != nil {
			continue // no recorded run yet; leave this step out of the context map
		}
		out[t.StepID] = workflow.StepContext{
			Result:    run.Result,
			HasResult: run.Result != "",
			Summary:   run.Summary,
		}
	}
	return out, nil
}

// buildAccumulatedContext implements spec.md §4.4 step 5: the concatenation,
// in manifest order (here: the order tx.ListPrerequisites returns, which is
// edge insertion order from the Mission Expander), of each direct
// prerequisite's latest completed run summary, delimited by a short header
// bearing the step identifier.
func buildAccumulatedContext(ctx context.Context, tx store.Store, taskID string, ctxMap map[string]workflow.StepContext) (string, error) {
	prereqIDs, err := tx.ListPrerequisites(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("list prerequisites: %w", err)
	}

	var b strings.Builder
	for _, prereqID := range prereqIDs {
		prereq, err := tx.GetTask(ctx, prereqID)
		if err != nil {
			return "", fmt.Errorf("get prerequisite task: %w", err)
		}
		entry, ok := ctxMap[prereq.StepID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n", prereq.StepID, entry.Summary)
	}
	return b.String(), nil
}
