package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"colony/internal/engine"
	"colony/internal/model"
	"colony/internal/store/sqlite"
	"colony/internal/workflow"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func emptyRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	reg, errs := workflow.Load(t.TempDir(), nil)
	require.Empty(t, errs)
	return reg
}

func TestEndToEndAdHocMissionLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	eng := engine.New(st, emptyRegistry(t), nil, nil)

	colony, err := eng.CreateColony(ctx, "acme", "", "github.com/acme/repo")
	require.NoError(t, err)

	crab, err := eng.RegisterCrab(ctx, "crab-1", colony.ID, "generalist", model.RoleAny)
	require.NoError(t, err)

	mission, err := eng.CreateMission(ctx, engine.CreateMissionInput{ColonyID: colony.ID, Prompt: "fix the flaky test"})
	require.NoError(t, err)
	require.Equal(t, model.MissionPending, mission.Status)

	n, err := eng.TriggerSchedulerTick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tasks, err := eng.ListTasks(ctx, mission.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	require.Equal(t, model.TaskAssigned, task.Status)
	require.Equal(t, crab.ID, task.AssignedCrabID)

	run, err := eng.StartRun(ctx, "run-1", task.ID, crab.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	require.Equal(t, model.RunRunning, run.Status)

	completed, err := eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Summary: "fixed it"})
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, completed.Status)

	gotMission, err := st.GetMission(ctx, mission.ID)
	require.NoError(t, err)
	require.Equal(t, model.MissionCompleted, gotMission.Status)

	// Replaying the same completion is a no-op (spec.md §8 property 8).
	again, err := eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Summary: "fixed it"})
	require.NoError(t, err)
	require.Equal(t, completed.Status, again.Status)
}

const reviewWorkflowManifest = `
[workflow]
name = "review_cycle"

[[steps]]
id = "implement"
role = "worker"
prompt_file = "implement.txt"

[[steps]]
id = "review"
role = "reviewer"
prompt_file = "review.txt"
depends_on = ["implement"]

[[steps]]
id = "fix"
role = "worker"
prompt_file = "fix.txt"
depends_on = ["review"]
condition = "review.result == 'FAIL'"
max_retries = 2
retry_target = "review"

[[steps]]
id = "pr"
role = "worker"
prompt_file = "pr.txt"
depends_on = ["review"]
condition = "review.result == 'PASS'"
`

func registryWithReviewCycle(t *testing.T) *workflow.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"implement.txt", "review.txt", "fix.txt", "pr.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("do {{mission_prompt}}: {{context}}"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf.toml"), []byte(reviewWorkflowManifest), 0o644))
	reg, errs := workflow.Load(dir, nil)
	require.Empty(t, errs)
	return reg
}

// driveOneAssignment runs one scheduler tick, requires that it assigned
// exactly one task, and returns the mission's task that is now Assigned.
func driveOneAssignment(t *testing.T, ctx context.Context, eng *engine.Engine, missionID string) *model.Task {
	t.Helper()
	n, err := eng.TriggerSchedulerTick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "expected exactly one task to be assignable")

	tasks, err := eng.ListTasks(ctx, missionID)
	require.NoError(t, err)
	for _, tk := range tasks {
		if tk.Status == model.TaskAssigned {
			return tk
		}
	}
	t.Fatal("no task was assigned")
	return nil
}

func TestEndToEndWorkflowMissionRetryLoopThenPR(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	eng := engine.New(st, registryWithReviewCycle(t), nil, nil)

	colony, err := eng.CreateColony(ctx, "acme", "", "")
	require.NoError(t, err)
	worker, err := eng.RegisterCrab(ctx, "worker-1", colony.ID, "worker-bot", model.RoleWorker)
	require.NoError(t, err)
	reviewer, err := eng.RegisterCrab(ctx, "reviewer-1", colony.ID, "reviewer-bot", model.RoleReviewer)
	require.NoError(t, err)

	mission, err := eng.CreateMission(ctx, engine.CreateMissionInput{ColonyID: colony.ID, Prompt: "add feature", WorkflowName: "review_cycle"})
	require.NoError(t, err)

	// implement
	implementTask := driveOneAssignment(t, ctx, eng, mission.ID)
	require.Equal(t, "implement", implementTask.StepID)
	run, err := eng.StartRun(ctx, "run-implement", implementTask.ID, worker.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	_, err = eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Summary: "implemented"})
	require.NoError(t, err)

	// review #1: FAIL
	reviewTask := driveOneAssignment(t, ctx, eng, mission.ID)
	require.Equal(t, "review", reviewTask.StepID)
	run, err = eng.StartRun(ctx, "run-review-1", reviewTask.ID, reviewer.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	_, err = eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Result: "FAIL", Summary: "needs work"})
	require.NoError(t, err)

	// fix, triggered by review.result == 'FAIL'
	fixTask := driveOneAssignment(t, ctx, eng, mission.ID)
	require.Equal(t, "fix", fixTask.StepID)
	run, err = eng.StartRun(ctx, "run-fix", fixTask.ID, worker.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	_, err = eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Summary: "addressed feedback"})
	require.NoError(t, err)

	// fix's completion requeues review; review's dependents (fix and pr) are rewound.
	gotReview, err := st.GetTask(ctx, reviewTask.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskQueued, gotReview.Status)
	require.Equal(t, 1, gotReview.RetryCount)

	// review #2: PASS
	reviewTask2 := driveOneAssignment(t, ctx, eng, mission.ID)
	require.Equal(t, reviewTask.ID, reviewTask2.ID, "the retried review is the same task row, requeued")
	run, err = eng.StartRun(ctx, "run-review-2", reviewTask2.ID, reviewer.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	_, err = eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Result: "PASS", Summary: "looks good"})
	require.NoError(t, err)

	// pr, triggered by review.result == 'PASS'
	prTask := driveOneAssignment(t, ctx, eng, mission.ID)
	require.Equal(t, "pr", prTask.StepID)
	run, err = eng.StartRun(ctx, "run-pr", prTask.ID, worker.ID, mission.ID, mission.WorkdirPath)
	require.NoError(t, err)
	_, err = eng.CompleteRun(ctx, engine.CompleteRunInput{RunID: run.ID, Summary: "opened PR"})
	require.NoError(t, err)

	gotMission, err := st.GetMission(ctx, mission.ID)
	require.NoError(t, err)
	require.Equal(t, model.MissionCompleted, gotMission.Status)

	gotFix, err := st.GetTask(ctx, fixTask.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskSkipped, gotFix.Status, "the second review passed, so fix's condition is now false")
}

func TestReadStatusSnapshot(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	eng := engine.New(st, emptyRegistry(t), nil, nil)

	colony, err := eng.CreateColony(ctx, "acme", "desc", "")
	require.NoError(t, err)
	_, err = eng.RegisterCrab(ctx, "crab-1", colony.ID, "a", model.RoleAny)
	require.NoError(t, err)
	_, err = eng.CreateMission(ctx, engine.CreateMissionInput{ColonyID: colony.ID, Prompt: "x"})
	require.NoError(t, err)

	snap, err := eng.ReadStatusSnapshot(ctx, colony.ID)
	require.NoError(t, err)
	require.Equal(t, colony.ID, snap.Colony.ID)
	require.Len(t, snap.Crabs, 1)
	require.Len(t, snap.Missions, 1)
}
