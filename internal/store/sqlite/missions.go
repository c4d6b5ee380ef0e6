package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"colony/internal/apperr"
	"colony/internal/model"
)

const missionColumns = `id, colony_id, prompt, workflow_name, external_ref, status, workdir_path, created_at, updated_at`

func (o ops) CreateMission(ctx context.Context, m *model.Mission) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO missions (`+missionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ColonyID, m.Prompt, m.WorkflowName, m.ExternalRef, m.Status, m.WorkdirPath, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

func scanMission(row interface{ Scan(...any) error }) (*model.Mission, error) {
	var m model.Mission
	err := row.Scan(&m.ID, &m.ColonyID, &m.Prompt, &m.WorkflowName, &m.ExternalRef, &m.Status, &m.WorkdirPath, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (o ops) GetMission(ctx context.Context, id string) (*model.Mission, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("mission %q not found", id)
		}
		return nil, fmt.Errorf("scan mission: %w", err)
	}
	return m, nil
}

func (o ops) ListMissions(ctx context.Context, colonyID string) ([]*model.Mission, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE colony_id = ? ORDER BY created_at`, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*model.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (o ops) UpdateMissionStatus(ctx context.Context, id string, status model.MissionStatus) error {
	res, err := o.q.ExecContext(ctx, `UPDATE missions SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update mission status: %w", err)
	}
	return checkRowsAffected(res, "mission", id)
}
