package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"colony/internal/apperr"
	"colony/internal/model"
)

const taskColumns = `id, mission_id, step_id, role, status, assigned_crab_id, prompt_template, prompt, context, condition, retry_target, max_retries, retry_count, created_at, updated_at`

func (o ops) CreateTask(ctx context.Context, t *model.Task) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MissionID, t.StepID, t.Role, t.Status, t.AssignedCrabID, t.PromptTemplate, t.Prompt, t.Context,
		t.Condition, t.RetryTarget, t.MaxRetries, t.RetryCount, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	err := row.Scan(&t.ID, &t.MissionID, &t.StepID, &t.Role, &t.Status, &t.AssignedCrabID, &t.PromptTemplate, &t.Prompt,
		&t.Context, &t.Condition, &t.RetryTarget, &t.MaxRetries, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (o ops) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("task %q not found", id)
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func (o ops) ListTasksByMission(ctx context.Context, missionID string) ([]*model.Task, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE mission_id = ? ORDER BY created_at`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by mission: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListQueuedTasks returns every task across every mission currently sitting
// in TaskQueued — the Scheduler's candidate pool (SPEC_FULL.md §4.5).
func (o ops) ListQueuedTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at`, model.TaskQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]*model.Task, error) {
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (o ops) UpdateTask(ctx context.Context, t *model.Task) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE tasks SET status = ?, assigned_crab_id = ?, prompt_template = ?, prompt = ?, context = ?,
			condition = ?, retry_target = ?, max_retries = ?, retry_count = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, t.AssignedCrabID, t.PromptTemplate, t.Prompt, t.Context, t.Condition, t.RetryTarget,
		t.MaxRetries, t.RetryCount, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return checkRowsAffected(res, "task", t.ID)
}
