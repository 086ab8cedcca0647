package service

import (
	"context"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
)

// OrderView is an order with its registrations.
type OrderView struct {
	Order         *model.Order         `json:"order"`
	Registrations []model.Registration `json:"registrations"`
}

// Queries serves read-only lookups.
type Queries struct {
	store repository.Store
}

// NewQueries constructs a Queries.
func NewQueries(store repository.Store) *Queries {
	return &Queries{store: store}
}

func (q *Queries) Order(ctx context.Context, orderID string) (*OrderView, error) {
	var view *OrderView
	err := q.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundAs(err, model.ErrOrderNotFound)
		}
		regs, err := tx.ListRegistrations(ctx, orderID)
		if err != nil {
			return err
		}
		view = &OrderView{Order: o, Registrations: regs}
		return nil
	})
	if err != nil {
		return nil, engineError(err, "get order")
	}
	return view, nil
}

// History returns the audit trail of one entity, oldest first.
func (q *Queries) History(ctx context.Context, entity model.EntityType, id string) ([]model.StatusChange, error) {
	switch entity {
	case model.EntityEvent, model.EntityBatch, model.EntityOrder, model.EntityRegistration:
	default:
		return nil, model.NewError(model.KindInvalidInput, "unknown entity type %q", entity)
	}
	var out []model.StatusChange
	err := q.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListStatusChanges(ctx, entity, id)
		return err
	})
	if err != nil {
		return nil, engineError(err, "status history")
	}
	return out, nil
}
