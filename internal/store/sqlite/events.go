package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"colony/internal/model"
)

func (o ops) CreateEvent(ctx context.Context, e *model.Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	_, err = o.q.ExecContext(ctx, `
		INSERT INTO events (id, type, colony_id, mission_id, subject, data_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.ColonyID, e.MissionID, e.Subject, string(data), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent limit events for a colony, oldest first.
func (o ops) ListEvents(ctx context.Context, colonyID string, limit int) ([]*model.Event, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, type, colony_id, mission_id, subject, data_json, created_at
		FROM events WHERE colony_id = ? ORDER BY created_at DESC LIMIT ?`, colonyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*model.Event
	for rows.Next() {
		var e model.Event
		var data string
		if err := rows.Scan(&e.ID, &e.Type, &e.ColonyID, &e.MissionID, &e.Subject, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		out = append(out, &e)
	}
	// rows were fetched newest-first for LIMIT; reverse to oldest-first for replay order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
