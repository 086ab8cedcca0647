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

// ExpireSummary is the outcome of one sweep run.
type ExpireSummary struct {
	Processed int `json:"processed"`
	Released  int `json:"released"`
	Extended  int `json:"extended"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

type sweepOutcome int

const (
	outcomeSkipped sweepOutcome = iota
	outcomeReleased
	outcomeExtended
)

// ReleaseService gives capacity back from orders that will never be paid.
type ReleaseService struct {
	store     repository.Store
	batches   *BatchEngine
	batchSize int
	now       Clock
	log       *logrus.Entry
}

// NewReleaseService constructs a ReleaseService. batchSize caps the orders
// claimed per sweep run.
func NewReleaseService(store repository.Store, batches *BatchEngine, batchSize int, now Clock, log *logrus.Entry) *ReleaseService {
	if batchSize <= 0 {
		batchSize = 200
	}
	if now == nil {
		now = time.Now
	}
	return &ReleaseService{store: store, batches: batches, batchSize: batchSize, now: now, log: log}
}

// ExpireOrders releases pending orders past their deadline, one transaction
// per order. An order whose alternate payment is still valid gets its
// deadline extended instead. A failing order is counted and skipped.
func (s *ReleaseService) ExpireOrders(ctx context.Context) (*ExpireSummary, error) {
	now := s.now()

	var ids []string
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		ids, err = tx.ListExpiredOrderIDs(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return nil, engineError(err, "list expired orders")
	}

	sum := &ExpireSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, engineError(err, "expire orders")
		}
		sum.Processed++
		var outcome sweepOutcome
		err := s.store.InTx(ctx, func(tx repository.Tx) error {
			var err error
			outcome, err = s.expireOne(ctx, tx, id, now)
			return err
		})
		if err != nil {
			sum.Errors++
			s.log.WithError(err).WithField("order_id", id).Warn("expire order failed")
			continue
		}
		switch outcome {
		case outcomeReleased:
			sum.Released++
		case outcomeExtended:
			sum.Extended++
		default:
			sum.Skipped++
		}
	}

	if sum.Processed > 0 {
		s.log.WithFields(logrus.Fields{
			"processed": sum.Processed,
			"released":  sum.Released,
			"extended":  sum.Extended,
			"skipped":   sum.Skipped,
			"errors":    sum.Errors,
		}).Info("expired orders swept")
	}
	return sum, nil
}

func (s *ReleaseService) expireOne(ctx context.Context, tx repository.Tx, orderID string, now time.Time) (sweepOutcome, error) {
	order, ok, err := tx.ClaimOrder(ctx, orderID)
	if err != nil || !ok {
		return outcomeSkipped, err
	}
	// Re-check under the lock: a payment may have landed since the listing.
	if order.Status != model.OrderPending || order.ExpiresAt == nil || !order.ExpiresAt.Before(now) {
		return outcomeSkipped, nil
	}

	if alt := order.AltPaymentExpiresAt; alt != nil && alt.After(now) {
		if err := tx.ExtendOrder(ctx, order.ID, *alt); err != nil {
			return outcomeSkipped, err
		}
		return outcomeExtended, recordTransition(ctx, tx, model.EntityOrder, order.ID,
			string(order.Status), string(order.Status), "deadline_extended", systemActor,
			map[string]any{"from": order.ExpiresAt.Format(time.RFC3339), "to": alt.Format(time.RFC3339)})
	}

	if err := s.release(ctx, tx, order, model.OrderExpired, "payment_deadline_passed", systemActor); err != nil {
		return outcomeSkipped, err
	}
	return outcomeReleased, nil
}

// CancelOrder cancels an order administratively and gives back everything
// it holds, including confirmed registrations of a paid order.
func (s *ReleaseService) CancelOrder(ctx context.Context, orderID string, actor Actor, reason string) (*model.Order, error) {
	if orderID == "" {
		return nil, model.NewError(model.KindInvalidInput, "order id is required")
	}
	if actor.Type == "" {
		actor = Actor{Type: model.ActorAdmin}
	}
	if reason == "" {
		reason = "cancelled"
	}

	var out *model.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundAs(err, model.ErrOrderNotFound)
		}
		switch order.Status {
		case model.OrderCancelled:
			out = order
			return nil
		case model.OrderExpired:
			return model.NewError(model.KindOrderExpired, "order %s already expired", orderID)
		}
		if err := s.release(ctx, tx, order, model.OrderCancelled, reason, actor); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, engineError(err, "cancel order")
	}
	s.log.WithFields(logrus.Fields{"order_id": orderID, "actor": actor.Type, "reason": reason}).Info("order cancelled")
	return out, nil
}

// release is the inverse of admission for every live registration of the
// order. The order row is already locked; the rest follows event, category,
// batch, size stock.
func (s *ReleaseService) release(ctx context.Context, tx repository.Tx, order *model.Order, final model.OrderStatus, reason string, actor Actor) error {
	if !order.Status.CanTransition(final) {
		return model.NewError(model.KindPaymentInvalid, "order %s cannot move from %s to %s", order.ID, order.Status, final)
	}
	regs, err := tx.ListRegistrations(ctx, order.ID)
	if err != nil {
		return err
	}
	var live []model.Registration
	for _, r := range regs {
		if r.Status == model.RegistrationPending ||
			(final == model.OrderCancelled && r.Status == model.RegistrationConfirmed) {
			live = append(live, r)
		}
	}

	ev, err := tx.LockEvent(ctx, order.EventID)
	if err != nil {
		return notFoundAs(err, model.ErrEventNotFound)
	}

	perCategory := map[string]int{}
	perBatch := map[string]int{}
	stock := map[stockKey]int{}
	for _, r := range live {
		perCategory[r.CategoryID]++
		perBatch[r.BatchID]++
		if r.SizeReserved && r.Size != "" {
			k := stockKey{size: r.Size}
			if ev.SizeStockPerCategory {
				k.category = r.CategoryID
			}
			stock[k]++
		}
	}

	if len(live) > 0 {
		if err := tx.AddEventOccupied(ctx, ev.ID, -len(live)); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(perCategory) {
		if _, err := tx.LockCategory(ctx, id); err != nil {
			return err
		}
		if err := tx.AddCategoryOccupied(ctx, id, -perCategory[id]); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(perBatch) {
		if _, err := tx.LockBatch(ctx, id); err != nil {
			return err
		}
		if err := tx.AddBatchUsed(ctx, id, -perBatch[id]); err != nil {
			return err
		}
	}

	// Capacity came back; let the lifecycle reopen a sold-out event before
	// the size stock locks are taken.
	if len(live) > 0 {
		if _, err := s.batches.recalculate(ctx, tx, ev.ID); err != nil {
			return err
		}
	}

	for _, k := range sortedStockKeys(stock) {
		st, err := tx.LockSizeStock(ctx, ev.ID, k.scope(), k.size)
		if errors.Is(err, repository.ErrNotFound) {
			s.log.WithFields(logrus.Fields{"order_id": order.ID, "size": k.size}).Warn("size stock row gone, nothing to give back")
			continue
		}
		if err != nil {
			return err
		}
		if err := tx.AddSizeAvailable(ctx, st.ID, stock[k]); err != nil {
			return err
		}
	}

	for _, r := range live {
		if err := tx.UpdateRegistration(ctx, r.ID, model.RegistrationCancelled, false); err != nil {
			return err
		}
		if err := recordTransition(ctx, tx, model.EntityRegistration, r.ID,
			string(r.Status), string(model.RegistrationCancelled), reason, actor, nil); err != nil {
			return err
		}
	}

	from := order.Status
	if err := tx.SetOrderStatus(ctx, order.ID, final); err != nil {
		return err
	}
	order.Status = final
	return recordTransition(ctx, tx, model.EntityOrder, order.ID, string(from), string(final), reason, actor,
		map[string]any{"released": len(live)})
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
