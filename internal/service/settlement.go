package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/sirupsen/logrus"
)

// SettlementResult reports the order after ConfirmPayment.
type SettlementResult struct {
	Order         *model.Order         `json:"order"`
	Registrations []model.Registration `json:"registrations"`
	AlreadyPaid   bool                 `json:"already_paid"`
}

// SettlementService moves pending orders to paid exactly once.
type SettlementService struct {
	store repository.Store
	now   Clock
	log   *logrus.Entry
}

// NewSettlementService constructs a SettlementService.
func NewSettlementService(store repository.Store, now Clock, log *logrus.Entry) *SettlementService {
	if now == nil {
		now = time.Now
	}
	return &SettlementService{store: store, now: now, log: log}
}

type stockKey struct {
	category string // empty for the event-wide pool
	size     string
}

func (k stockKey) scope() *string {
	if k.category == "" {
		return nil
	}
	return &k.category
}

// sortedStockKeys orders stock rows so every path locks them the same way.
func sortedStockKeys(m map[stockKey]int) []stockKey {
	keys := make([]stockKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].size < keys[j].size
	})
	return keys
}

// ConfirmPayment settles a verified payment. Paying a paid order again is a
// no-op. All size stock the order still needs is checked before anything is
// written, so a shortage confirms nothing.
func (s *SettlementService) ConfirmPayment(ctx context.Context, orderID string, method model.PaymentMethod, actor Actor) (*SettlementResult, error) {
	if orderID == "" {
		return nil, model.NewError(model.KindInvalidInput, "order id is required")
	}
	if actor.Type == "" {
		actor = systemActor
	}

	var res *SettlementResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.settle(ctx, tx, orderID, method, actor)
		return err
	})
	if err != nil {
		return nil, engineError(err, "confirm payment")
	}
	if !res.AlreadyPaid {
		s.log.WithFields(logrus.Fields{
			"order_id": orderID,
			"method":   method,
			"total":    res.Order.Total,
		}).Info("order settled")
	}
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, tx repository.Tx, orderID string, method model.PaymentMethod, actor Actor) (*SettlementResult, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, notFoundAs(err, model.ErrOrderNotFound)
	}
	regs, err := tx.ListRegistrations(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderPaid:
		return &SettlementResult{Order: order, Registrations: regs, AlreadyPaid: true}, nil
	case model.OrderCancelled:
		return nil, model.NewError(model.KindOrderCancelled, "order %s was cancelled", orderID)
	case model.OrderExpired:
		return nil, model.NewError(model.KindOrderExpired, "order %s expired", orderID)
	}

	ev, err := tx.GetEvent(ctx, order.EventID)
	if err != nil {
		return nil, notFoundAs(err, model.ErrEventNotFound)
	}

	// Group what still needs a unit so two registrations asking for the same
	// size are checked against the same row together.
	need := map[stockKey]int{}
	for _, r := range regs {
		if r.Status != model.RegistrationPending || r.Size == "" || r.SizeReserved {
			continue
		}
		k := stockKey{size: r.Size}
		if ev.SizeStockPerCategory {
			k.category = r.CategoryID
		}
		need[k]++
	}
	keys := sortedStockKeys(need)

	rows := make([]*model.SizeStock, len(keys))
	var short []string
	for i, k := range keys {
		st, err := tx.LockSizeStock(ctx, ev.ID, k.scope(), k.size)
		if errors.Is(err, repository.ErrNotFound) {
			short = append(short, k.size)
			continue
		}
		if err != nil {
			return nil, err
		}
		if st.Available < need[k] {
			short = append(short, k.size)
			continue
		}
		rows[i] = st
	}
	if len(short) > 0 {
		return nil, model.NewError(model.KindSizeSoldOut, "sizes sold out: %v", short)
	}

	for i, k := range keys {
		if err := tx.AddSizeAvailable(ctx, rows[i].ID, -need[k]); err != nil {
			return nil, err
		}
	}

	for i := range regs {
		r := &regs[i]
		if r.Status != model.RegistrationPending {
			continue
		}
		reserved := r.SizeReserved || r.Size != ""
		if err := tx.UpdateRegistration(ctx, r.ID, model.RegistrationConfirmed, reserved); err != nil {
			return nil, err
		}
		if err := recordTransition(ctx, tx, model.EntityRegistration, r.ID,
			string(r.Status), string(model.RegistrationConfirmed), "payment_confirmed", actor, nil); err != nil {
			return nil, err
		}
		r.Status = model.RegistrationConfirmed
		r.SizeReserved = reserved
	}

	paidAt := s.now()
	if err := tx.MarkOrderPaid(ctx, order.ID, method, paidAt); err != nil {
		return nil, err
	}
	if err := recordTransition(ctx, tx, model.EntityOrder, order.ID,
		string(order.Status), string(model.OrderPaid), "payment_confirmed", actor,
		map[string]any{"method": string(method), "total": order.Total}); err != nil {
		return nil, err
	}
	order.Status = model.OrderPaid
	order.PaymentMethod = method
	order.PaidAt = &paidAt

	return &SettlementResult{Order: order, Registrations: regs}, nil
}
