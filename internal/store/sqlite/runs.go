package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"colony/internal/apperr"
	"colony/internal/model"
)

const runColumns = `id, task_id, crab_id, mission_id, workdir_path, status, progress, result, summary, prompt_tokens, completion_tokens, latency_ms, started_at, updated_at, completed_at`

func (o ops) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.CrabID, r.MissionID, r.WorkdirPath, r.Status, r.Progress, r.Result, r.Summary,
		r.Metrics.PromptTokens, r.Metrics.CompletionTokens, r.Metrics.LatencyMs, r.StartedAt, r.UpdatedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanRun(row interface{ Scan(...any) error }) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.TaskID, &r.CrabID, &r.MissionID, &r.WorkdirPath, &r.Status, &r.Progress,
		&r.Result, &r.Summary, &r.Metrics.PromptTokens, &r.Metrics.CompletionTokens, &r.Metrics.LatencyMs,
		&r.StartedAt, &r.UpdatedAt, &r.CompletedAt)
	return &r, err
}

func (o ops) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("run %q not found", id)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

func (o ops) GetLatestRunForTask(ctx context.Context, taskID string) (*model.Run, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at DESC LIMIT 1`, taskID)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("no runs for task %q", taskID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

func (o ops) ListRunsByTask(ctx context.Context, taskID string) ([]*model.Run, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE task_id = ? ORDER BY started_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list runs by task: %w", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o ops) UpdateRun(ctx context.Context, r *model.Run) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE runs SET status = ?, progress = ?, result = ?, summary = ?,
			prompt_tokens = ?, completion_tokens = ?, latency_ms = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		r.Status, r.Progress, r.Result, r.Summary, r.Metrics.PromptTokens,
		r.Metrics.CompletionTokens, r.Metrics.LatencyMs, r.UpdatedAt, r.CompletedAt, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkRowsAffected(res, "run", r.ID)
}
