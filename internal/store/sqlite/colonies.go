package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"colony/internal/apperr"
	"colony/internal/model"
)

func (o ops) CreateColony(ctx context.Context, c *model.Colony) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO colonies (id, name, description, source_repo, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, c.SourceRepo, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert colony: %w", err)
	}
	return nil
}

func (o ops) GetColony(ctx context.Context, id string) (*model.Colony, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT id, name, description, source_repo, created_at
		FROM colonies WHERE id = ?`, id)

	var c model.Colony
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.SourceRepo, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("colony %q not found", id)
		}
		return nil, fmt.Errorf("scan colony: %w", err)
	}
	return &c, nil
}

func (o ops) ListColonies(ctx context.Context) ([]*model.Colony, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, name, description, source_repo, created_at
		FROM colonies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list colonies: %w", err)
	}
	defer rows.Close()

	var out []*model.Colony
	for rows.Next() {
		var c model.Colony
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.SourceRepo, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan colony: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
