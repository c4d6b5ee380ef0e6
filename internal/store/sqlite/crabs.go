package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"colony/internal/apperr"
	"colony/internal/model"
)

func (o ops) UpsertCrab(ctx context.Context, c *model.Crab) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO crabs (id, colony_id, name, role, state, current_task_id, current_run_id, last_heartbeat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			state = excluded.state,
			current_task_id = excluded.current_task_id,
			current_run_id = excluded.current_run_id,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at`,
		c.ID, c.ColonyID, c.Name, c.Role, c.State, c.CurrentTaskID, c.CurrentRunID, c.LastHeartbeat, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert crab: %w", err)
	}
	return nil
}

func scanCrab(row interface{ Scan(...any) error }) (*model.Crab, error) {
	var c model.Crab
	err := row.Scan(&c.ID, &c.ColonyID, &c.Name, &c.Role, &c.State,
		&c.CurrentTaskID, &c.CurrentRunID, &c.LastHeartbeat, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

const crabColumns = `id, colony_id, name, role, state, current_task_id, current_run_id, last_heartbeat, created_at, updated_at`

func (o ops) GetCrab(ctx context.Context, id string) (*model.Crab, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+crabColumns+` FROM crabs WHERE id = ?`, id)
	c, err := scanCrab(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("crab %q not found", id)
		}
		return nil, fmt.Errorf("scan crab: %w", err)
	}
	return c, nil
}

// FindCrabByRole returns the single crab registered for an exact role within
// a colony. It never matches RoleAny — the Registration Gate (component G) is
// the only writer that needs exact-role lookup, to enforce the
// one-crab-per-role invariant (SPEC_FULL.md §3).
func (o ops) FindCrabByRole(ctx context.Context, colonyID string, role model.Role) (*model.Crab, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+crabColumns+` FROM crabs WHERE colony_id = ? AND role = ?`, colonyID, role)
	c, err := scanCrab(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("no crab with role %q in colony %q", role, colonyID)
		}
		return nil, fmt.Errorf("scan crab: %w", err)
	}
	return c, nil
}

func (o ops) ListCrabs(ctx context.Context, colonyID string) ([]*model.Crab, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+crabColumns+` FROM crabs WHERE colony_id = ? ORDER BY created_at`, colonyID)
	if err != nil {
		return nil, fmt.Errorf("list crabs: %w", err)
	}
	defer rows.Close()

	var out []*model.Crab
	for rows.Next() {
		c, err := scanCrab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crab: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (o ops) ListIdleCrabs(ctx context.Context, colonyID string) ([]*model.Crab, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT `+crabColumns+` FROM crabs WHERE colony_id = ? AND state = ? ORDER BY created_at`, colonyID, model.CrabIdle)
	if err != nil {
		return nil, fmt.Errorf("list idle crabs: %w", err)
	}
	defer rows.Close()

	var out []*model.Crab
	for rows.Next() {
		c, err := scanCrab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crab: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (o ops) SetCrabState(ctx context.Context, crabID string, state model.CrabState, currentTaskID, currentRunID string) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE crabs SET state = ?, current_task_id = ?, current_run_id = ?, updated_at = ?
		WHERE id = ?`, state, currentTaskID, currentRunID, time.Now().UTC(), crabID)
	if err != nil {
		return fmt.Errorf("set crab state: %w", err)
	}
	return checkRowsAffected(res, "crab", crabID)
}

func (o ops) TouchHeartbeat(ctx context.Context, crabID string, at time.Time) error {
	res, err := o.q.ExecContext(ctx, `UPDATE crabs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`, at, at, crabID)
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return checkRowsAffected(res, "crab", crabID)
}

func (o ops) ListStaleCrabs(ctx context.Context, cutoff time.Time) ([]*model.Crab, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+crabColumns+` FROM crabs WHERE last_heartbeat < ? AND state != ? ORDER BY last_heartbeat`,
		cutoff, model.CrabOffline)
	if err != nil {
		return nil, fmt.Errorf("list stale crabs: %w", err)
	}
	defer rows.Close()

	var out []*model.Crab
	for rows.Next() {
		c, err := scanCrab(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crab: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("%s %q not found", kind, id)
	}
	return nil
}
