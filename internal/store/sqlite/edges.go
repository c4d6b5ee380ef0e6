package sqlite

import (
	"context"
	"fmt"

	"colony/internal/model"
)

func (o ops) CreateEdge(ctx context.Context, e *model.DependencyEdge) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO task_dependencies (task_id, prerequisite_id) VALUES (?, ?)`,
		e.TaskID, e.PrerequisiteID)
	if err != nil {
		return fmt.Errorf("insert dependency edge: %w", err)
	}
	return nil
}

// ListPrerequisites returns the task IDs that must be terminal-non-failed
// before taskID can leave TaskBlocked (SPEC_FULL.md §4.4 gating step), in the
// order their edges were inserted.
func (o ops) ListPrerequisites(ctx context.Context, taskID string) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT prerequisite_id FROM task_dependencies WHERE task_id = ? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// ListDependents returns the task IDs that list prerequisiteTaskID as a
// prerequisite — the Cascade Engine's fan-out set when a task completes.
func (o ops) ListDependents(ctx context.Context, prerequisiteTaskID string) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT task_id FROM task_dependencies WHERE prerequisite_id = ?`, prerequisiteTaskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
