// Package repository implements all database queries for the admission engine.
// It uses pgx directly (no ORM); every capacity mutation happens inside a
// transaction obtained from Store.InTx.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate row")

// Store hands out transactions.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations available inside a transaction. Methods
// named Lock* take a row lock (SELECT … FOR UPDATE) held until the end of the
// transaction. Callers acquire locks in the order
// order → event → category → batch → size stock.
type Tx interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	LockEvent(ctx context.Context, id string) (*model.Event, error)
	SetEventStatus(ctx context.Context, id string, status model.EventStatus) error
	AddEventOccupied(ctx context.Context, id string, delta int) error
	ListEventIDs(ctx context.Context, statuses ...model.EventStatus) ([]string, error)

	LockCategory(ctx context.Context, id string) (*model.Category, error)
	ListCategories(ctx context.Context, eventID string) ([]model.Category, error)
	AddCategoryOccupied(ctx context.Context, id string, delta int) error

	// LockBatches returns the event's batches in the given status ordered by
	// ascending position.
	LockBatches(ctx context.Context, eventID string, status model.BatchStatus) ([]model.Batch, error)
	LockBatch(ctx context.Context, id string) (*model.Batch, error)
	SetBatchStatus(ctx context.Context, id string, status model.BatchStatus) error
	AddBatchUsed(ctx context.Context, id string, delta int) error
	// Price returns the amount configured for (category, batch); ok is false
	// when no row exists.
	Price(ctx context.Context, categoryID, batchID string) (amount int64, ok bool, err error)
	// BatchPrices returns category id → amount for one batch.
	BatchPrices(ctx context.Context, batchID string) (map[string]int64, error)

	// LockSizeStock locks the stock row for size in the given scope; a nil
	// categoryID selects the event-wide row.
	LockSizeStock(ctx context.Context, eventID string, categoryID *string, size string) (*model.SizeStock, error)
	AddSizeAvailable(ctx context.Context, id string, delta int) error

	InsertOrder(ctx context.Context, o *model.Order) error
	InsertRegistration(ctx context.Context, r *model.Registration) error
	// HasActiveRegistration reports whether the participant holds a
	// non-cancelled registration for the event; an empty categoryID matches
	// any category.
	HasActiveRegistration(ctx context.Context, eventID, participantID, categoryID string) (bool, error)
	LockOrder(ctx context.Context, id string) (*model.Order, error)
	// ClaimOrder locks the order without waiting; ok is false when another
	// transaction holds it or it no longer exists.
	ClaimOrder(ctx context.Context, id string) (o *model.Order, ok bool, err error)
	GetOrderByPayment(ctx context.Context, paymentID string) (*model.Order, error)
	ListExpiredOrderIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListRegistrations(ctx context.Context, orderID string) ([]model.Registration, error)
	UpdateRegistration(ctx context.Context, id string, status model.RegistrationStatus, sizeReserved bool) error
	MarkOrderPaid(ctx context.Context, id string, method model.PaymentMethod, paidAt time.Time) error
	SetOrderStatus(ctx context.Context, id string, status model.OrderStatus) error
	ExtendOrder(ctx context.Context, id string, expiresAt time.Time) error
	SetOrderPayment(ctx context.Context, id, paymentID string, method model.PaymentMethod) error
	SetOrderAltPayment(ctx context.Context, id, paymentID string, method model.PaymentMethod, expiresAt time.Time) error

	AppendStatusChange(ctx context.Context, c *model.StatusChange) error
	ListStatusChanges(ctx context.Context, entityType model.EntityType, entityID string) ([]model.StatusChange, error)
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore constructs a PgStore.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// InTx begins a read-committed transaction, runs fn and commits.
//
// Concurrency safety comes from row locks, not from the isolation level: two
// admissions for the same event both block on SELECT … FOR UPDATE of the
// event row, so the second one re-reads the counters the first committed.
func (s *PgStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func execOne(ctx context.Context, tx pgx.Tx, what, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
