package cascade

import (
	"context"
	"fmt"

	"colony/internal/model"
)

// resolveMission implements spec.md §4.4 step 7: once every task is
// terminal, the mission becomes completed if none failed, else failed. A
// mission with any non-terminal task stays as it is.
func (e *Engine) resolveMission(ctx context.Context, r *run, missionID string) (model.MissionStatus, error) {
	tasks, err := r.tx.ListTasksByMission(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("list tasks to resolve mission: %w", err)
	}

	anyFailed := false
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return "", nil // still in flight
		}
		if t.Status.TerminalFailure() {
			anyFailed = true
		}
	}

	resolved := model.MissionCompleted
	if anyFailed {
		resolved = model.MissionFailed
	}

	mission, err := r.tx.GetMission(ctx, missionID)
	if err != nil {
		return "", fmt.Errorf("load mission to resolve: %w", err)
	}
	if mission.Status == resolved {
		return resolved, nil // already resolved; avoid a redundant update + event
	}

	if err := r.tx.UpdateMissionStatus(ctx, missionID, resolved); err != nil {
		return "", fmt.Errorf("resolve mission %s: %w", missionID, err)
	}
	e.recordEvent(ctx, r, model.EventMissionUpdated, missionID, missionID, map[string]string{"status": string(resolved)})
	return resolved, nil
}
