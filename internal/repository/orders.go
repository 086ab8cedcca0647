package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, number, event_id, buyer_id, total, discount, status, payment_method,
	expires_at, payment_id, alt_payment_id, alt_payment_method, alt_payment_expires_at, paid_at, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.Number, &o.EventID, &o.BuyerID, &o.Total, &o.Discount, &o.Status,
		&o.PaymentMethod, &o.ExpiresAt, &o.PaymentID, &o.AltPaymentID, &o.AltPaymentMethod, &o.AltPaymentExpiresAt,
		&o.PaidAt, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (id, event_id, buyer_id, total, discount, status, payment_method, expires_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING number, created_at`,
		o.ID, o.EventID, o.BuyerID, o.Total, o.Discount, o.Status, o.PaymentMethod, o.ExpiresAt, o.PaidAt,
	).Scan(&o.Number, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// InsertRegistration returns ErrDuplicate when the participant already holds
// a live registration for the same category.
func (t *pgTx) InsertRegistration(ctx context.Context, r *model.Registration) error {
	p := r.Participant
	err := t.tx.QueryRow(ctx,
		`INSERT INTO registrations (id, order_id, event_id, category_id, batch_id,
			participant_id, participant_name, participant_cpf, participant_birth_date, participant_sex,
			size, size_reserved, unit_price, fee, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING number, created_at`,
		r.ID, r.OrderID, r.EventID, r.CategoryID, r.BatchID,
		p.ID, p.Name, p.CPF, p.BirthDate, p.Sex,
		r.Size, r.SizeReserved, r.UnitPrice, r.Fee, r.Status,
	).Scan(&r.Number, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (t *pgTx) HasActiveRegistration(ctx context.Context, eventID, participantID, categoryID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE event_id = $1 AND participant_id = $2 AND status <> 'cancelled'
			  AND ($3::text = '' OR category_id = $3)
		 )`,
		eventID, participantID, categoryID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return exists, nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("lock order row: %w", err)
	}
	return o, err
}

// ClaimOrder uses SKIP LOCKED so overlapping sweep runs never wait on, or
// double-process, an order another run is already handling.
func (t *pgTx) ClaimOrder(ctx context.Context, id string) (*model.Order, bool, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE SKIP LOCKED`, id))
	if err != nil {
		if err == ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim order: %w", err)
	}
	return o, true, nil
}

func (t *pgTx) GetOrderByPayment(ctx context.Context, paymentID string) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_id = $1 OR alt_payment_id = $1
		 ORDER BY created_at DESC LIMIT 1`, paymentID))
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("get order by payment: %w", err)
	}
	return o, err
}

func (t *pgTx) ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM orders
		 WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
		 ORDER BY expires_at ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan order id: %w", err)
	}
	return ids, nil
}

func (t *pgTx) ListRegistrations(ctx context.Context, orderID string) ([]model.Registration, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, number, order_id, event_id, category_id, batch_id,
			participant_id, participant_name, participant_cpf, participant_birth_date, participant_sex,
			size, size_reserved, unit_price, fee, status, created_at
		 FROM registrations
		 WHERE order_id = $1
		 ORDER BY number ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var r model.Registration
		p := &r.Participant
		if err := rows.Scan(&r.ID, &r.Number, &r.OrderID, &r.EventID, &r.CategoryID, &r.BatchID,
			&p.ID, &p.Name, &p.CPF, &p.BirthDate, &p.Sex,
			&r.Size, &r.SizeReserved, &r.UnitPrice, &r.Fee, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (t *pgTx) UpdateRegistration(ctx context.Context, id string, status model.RegistrationStatus, sizeReserved bool) error {
	return execOne(ctx, t.tx, "update registration",
		`UPDATE registrations SET status = $2, size_reserved = $3 WHERE id = $1`, id, status, sizeReserved)
}

func (t *pgTx) MarkOrderPaid(ctx context.Context, id string, method model.PaymentMethod, paidAt time.Time) error {
	return execOne(ctx, t.tx, "mark order paid",
		`UPDATE orders SET status = 'paid', payment_method = $2, paid_at = $3 WHERE id = $1`,
		id, method, paidAt)
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return execOne(ctx, t.tx, "update order status",
		`UPDATE orders SET status = $2 WHERE id = $1`, id, status)
}

func (t *pgTx) ExtendOrder(ctx context.Context, id string, expiresAt time.Time) error {
	return execOne(ctx, t.tx, "extend order",
		`UPDATE orders SET expires_at = $2 WHERE id = $1`, id, expiresAt)
}

func (t *pgTx) SetOrderPayment(ctx context.Context, id, paymentID string, method model.PaymentMethod) error {
	return execOne(ctx, t.tx, "set order payment",
		`UPDATE orders SET payment_id = $2, payment_method = $3 WHERE id = $1`, id, paymentID, method)
}

func (t *pgTx) SetOrderAltPayment(ctx context.Context, id, paymentID string, method model.PaymentMethod, expiresAt time.Time) error {
	return execOne(ctx, t.tx, "set order alternate payment",
		`UPDATE orders SET alt_payment_id = $2, alt_payment_method = $3, alt_payment_expires_at = $4 WHERE id = $1`,
		id, paymentID, method, expiresAt)
}
