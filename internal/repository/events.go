package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, name, capacity, occupied, status, event_date,
	registration_opens_at, registration_closes_at,
	allow_multiple_categories, size_stock_per_category`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Capacity, &e.Occupied, &e.Status, &e.EventDate,
		&e.RegistrationOpensAt, &e.RegistrationClosesAt,
		&e.AllowMultiCategory, &e.SizeStockPerCategory)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (t *pgTx) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, err
}

// LockEvent acquires the event row lock. Every path that touches capacity
// counters goes through here first, which serialises concurrent admissions
// for one event while leaving other events untouched.
func (t *pgTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	return e, err
}

func (t *pgTx) SetEventStatus(ctx context.Context, id string, status model.EventStatus) error {
	return execOne(ctx, t.tx, "update event status",
		`UPDATE events SET status = $2 WHERE id = $1`, id, status)
}

// AddEventOccupied moves the occupied counter by delta. Decrements clamp at
// zero; increments past capacity are rejected by the table's CHECK.
func (t *pgTx) AddEventOccupied(ctx context.Context, id string, delta int) error {
	return execOne(ctx, t.tx, "update event occupied",
		`UPDATE events SET occupied = GREATEST(occupied + $2, 0) WHERE id = $1`, id, delta)
}

func (t *pgTx) ListEventIDs(ctx context.Context, statuses ...model.EventStatus) ([]string, error) {
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM events WHERE status = ANY($1::text[]) ORDER BY id`, ss)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan event id: %w", err)
	}
	return ids, nil
}

const categoryColumns = `id, event_id, name, capacity, occupied, access_type, min_age`

func scanCategory(row pgx.Row) (*model.Category, error) {
	var c model.Category
	if err := row.Scan(&c.ID, &c.EventID, &c.Name, &c.Capacity, &c.Occupied, &c.AccessType, &c.MinAge); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (t *pgTx) LockCategory(ctx context.Context, id string) (*model.Category, error) {
	c, err := scanCategory(t.tx.QueryRow(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = $1 FOR UPDATE`, id))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("lock category row: %w", err)
	}
	return c, err
}

func (t *pgTx) ListCategories(ctx context.Context, eventID string) ([]model.Category, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE event_id = $1 ORDER BY name, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (t *pgTx) AddCategoryOccupied(ctx context.Context, id string, delta int) error {
	return execOne(ctx, t.tx, "update category occupied",
		`UPDATE categories SET occupied = GREATEST(occupied + $2, 0) WHERE id = $1`, id, delta)
}

const batchColumns = `id, event_id, name, position, starts_at, ends_at, max_uses, used, status, visible`

func scanBatch(row pgx.Row) (*model.Batch, error) {
	var b model.Batch
	err := row.Scan(&b.ID, &b.EventID, &b.Name, &b.Position, &b.StartsAt, &b.EndsAt,
		&b.MaxUses, &b.Used, &b.Status, &b.Visible)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (t *pgTx) LockBatches(ctx context.Context, eventID string, status model.BatchStatus) ([]model.Batch, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+batchColumns+` FROM batches
		 WHERE event_id = $1 AND status = $2
		 ORDER BY position ASC
		 FOR UPDATE`, eventID, status)
	if err != nil {
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	defer rows.Close()

	var out []model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (t *pgTx) LockBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(t.tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1 FOR UPDATE`, id))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("lock batch row: %w", err)
	}
	return b, err
}

func (t *pgTx) SetBatchStatus(ctx context.Context, id string, status model.BatchStatus) error {
	return execOne(ctx, t.tx, "update batch status",
		`UPDATE batches SET status = $2 WHERE id = $1`, id, status)
}

func (t *pgTx) AddBatchUsed(ctx context.Context, id string, delta int) error {
	return execOne(ctx, t.tx, "update batch used",
		`UPDATE batches SET used = GREATEST(used + $2, 0) WHERE id = $1`, id, delta)
}

func (t *pgTx) Price(ctx context.Context, categoryID, batchID string) (int64, bool, error) {
	var amount int64
	err := t.tx.QueryRow(ctx,
		`SELECT amount FROM prices WHERE category_id = $1 AND batch_id = $2`,
		categoryID, batchID,
	).Scan(&amount)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get price: %w", err)
	}
	return amount, true, nil
}

func (t *pgTx) BatchPrices(ctx context.Context, batchID string) (map[string]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT category_id, amount FROM prices WHERE batch_id = $1`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			categoryID string
			amount     int64
		)
		if err := rows.Scan(&categoryID, &amount); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		out[categoryID] = amount
	}
	return out, rows.Err()
}

func (t *pgTx) LockSizeStock(ctx context.Context, eventID string, categoryID *string, size string) (*model.SizeStock, error) {
	var s model.SizeStock
	err := t.tx.QueryRow(ctx,
		`SELECT id, event_id, category_id, size, total, available
		 FROM size_stocks
		 WHERE event_id = $1 AND category_id IS NOT DISTINCT FROM $2::text AND size = $3
		 FOR UPDATE`,
		eventID, categoryID, size,
	).Scan(&s.ID, &s.EventID, &s.CategoryID, &s.Size, &s.Total, &s.Available)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("lock size stock: %w", err)
	}
	return &s, nil
}

// AddSizeAvailable moves available stock by delta, clamped to [0, total].
func (t *pgTx) AddSizeAvailable(ctx context.Context, id string, delta int) error {
	return execOne(ctx, t.tx, "update size stock",
		`UPDATE size_stocks
		 SET available = LEAST(GREATEST(available + $2, 0), total)
		 WHERE id = $1`, id, delta)
}
