package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/bytedance/sonic"
)

// AppendStatusChange records one transition. Rows are never updated.
func (t *pgTx) AppendStatusChange(ctx context.Context, c *model.StatusChange) error {
	meta := []byte("{}")
	if len(c.Metadata) > 0 {
		b, err := sonic.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode status metadata: %w", err)
		}
		meta = b
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO status_changes (entity_type, entity_id, old_status, new_status, reason, actor_type, actor_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		 RETURNING id, created_at`,
		c.EntityType, c.EntityID, c.OldStatus, c.NewStatus, c.Reason, c.ActorType, c.ActorID, string(meta),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

// ListStatusChanges returns the history of one entity, oldest first.
func (t *pgTx) ListStatusChanges(ctx context.Context, entityType model.EntityType, entityID string) ([]model.StatusChange, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, entity_type, entity_id, old_status, new_status, reason, actor_type, actor_id, metadata::text, created_at
		 FROM status_changes
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY id ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	defer rows.Close()

	var out []model.StatusChange
	for rows.Next() {
		var (
			c    model.StatusChange
			meta string
		)
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.OldStatus, &c.NewStatus,
			&c.Reason, &c.ActorType, &c.ActorID, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		if meta != "" && meta != "{}" {
			if err := sonic.UnmarshalString(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decode status metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
