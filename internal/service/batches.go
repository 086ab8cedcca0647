package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/sirupsen/logrus"
)

// Batch close reasons recorded in the status log.
const (
	reasonBatchExpired    = "expired"
	reasonBatchFull       = "full"
	reasonBatchSuperseded = "superseded"
	reasonBatchActivated  = "previous_batch_exhausted"
)

// RecalcSummary describes what one recalculation changed.
type RecalcSummary struct {
	EventID   string   `json:"event_id"`
	Closed    []string `json:"closed,omitempty"`
	Activated string   `json:"activated,omitempty"`
	SoldOut   bool     `json:"sold_out"`
	Reopened  bool     `json:"reopened,omitempty"`
}

// CategoryAvailability is one row of the availability read-model.
type CategoryAvailability struct {
	CategoryID string           `json:"category_id"`
	Name       string           `json:"name"`
	AccessType model.AccessType `json:"access_type"`
	Price      *int64           `json:"price,omitempty"`
	Remaining  *int             `json:"remaining,omitempty"` // nil when uncapped
	SoldOut    bool             `json:"sold_out"`
}

// AvailabilityView is what registration screens render.
type AvailabilityView struct {
	EventID       string                 `json:"event_id"`
	EventStatus   model.EventStatus      `json:"event_status"`
	EventSoldOut  bool                   `json:"event_sold_out"`
	Remaining     int                    `json:"remaining"`
	ActiveBatchID string                 `json:"active_batch_id,omitempty"`
	Categories    []CategoryAvailability `json:"categories"`
}

// BatchEngine keeps batch and event status consistent with time and
// capacity. Batch windows are compared as wall-clock times in loc.
type BatchEngine struct {
	store repository.Store
	loc   *time.Location
	now   Clock
	log   *logrus.Entry
}

// NewBatchEngine constructs a BatchEngine that compares batch windows in loc.
func NewBatchEngine(store repository.Store, loc *time.Location, now Clock, log *logrus.Entry) *BatchEngine {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &BatchEngine{store: store, loc: loc, now: now, log: log}
}

// civilNow is the current wall-clock time in the business timezone, carried
// in a UTC time.Time so it compares directly with timestamp-without-zone
// columns.
func (e *BatchEngine) civilNow() time.Time {
	n := e.now().In(e.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), n.Hour(), n.Minute(), n.Second(), n.Nanosecond(), time.UTC)
}

// Recalculate closes exhausted batches, activates the next eligible one and
// marks the event sold out when nothing can admit more. Running it twice with
// no writes in between changes nothing the second time.
func (e *BatchEngine) Recalculate(ctx context.Context, eventID string) (*RecalcSummary, error) {
	var sum *RecalcSummary
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		sum, err = e.recalculate(ctx, tx, eventID)
		return err
	})
	if err != nil {
		return nil, engineError(err, "recalculate batches")
	}
	if len(sum.Closed) > 0 || sum.Activated != "" || sum.Reopened {
		e.log.WithFields(logrus.Fields{
			"event_id":  eventID,
			"closed":    sum.Closed,
			"activated": sum.Activated,
			"sold_out":  sum.SoldOut,
			"reopened":  sum.Reopened,
		}).Info("batches recalculated")
	}
	return sum, nil
}

func (e *BatchEngine) recalculate(ctx context.Context, tx repository.Tx, eventID string) (*RecalcSummary, error) {
	ev, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return nil, notFoundAs(err, model.ErrEventNotFound)
	}
	sum := &RecalcSummary{EventID: eventID}

	if ev.IsFull() {
		sum.SoldOut = true
		return sum, e.markSoldOut(ctx, tx, ev, "capacity_reached")
	}

	now := e.civilNow()
	active, err := tx.LockBatches(ctx, eventID, model.BatchActive)
	if err != nil {
		return nil, err
	}

	var current *model.Batch
	for i := range active {
		b := &active[i]
		reason := closeReason(b, now)
		if reason == "" && current != nil {
			reason = reasonBatchSuperseded
		}
		if reason != "" {
			if err := closeBatch(ctx, tx, b, reason); err != nil {
				return nil, err
			}
			sum.Closed = append(sum.Closed, b.ID)
			continue
		}
		current = b
	}

	pending := false
	if current == nil {
		current, pending, err = e.activateNext(ctx, tx, eventID, now, sum)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case current == nil && !pending:
		sum.SoldOut = true
		return sum, e.markSoldOut(ctx, tx, ev, "no_batch_left")
	case current != nil && ev.Status == model.EventSoldOut:
		if err := tx.SetEventStatus(ctx, ev.ID, model.EventPublished); err != nil {
			return nil, err
		}
		sum.Reopened = true
		return sum, recordTransition(ctx, tx, model.EntityEvent, ev.ID,
			string(model.EventSoldOut), string(model.EventPublished), "capacity_released", systemActor,
			map[string]any{"occupied": ev.Occupied, "capacity": ev.Capacity, "batch_id": current.ID})
	}
	sum.SoldOut = ev.Status == model.EventSoldOut
	return sum, nil
}

// activateNext walks future batches in position order. Expired or full
// candidates are closed on the way; the walk stops without activating at the
// first batch whose window has not opened yet, reporting pending=true. At
// most one batch is activated.
func (e *BatchEngine) activateNext(ctx context.Context, tx repository.Tx, eventID string, now time.Time, sum *RecalcSummary) (*model.Batch, bool, error) {
	future, err := tx.LockBatches(ctx, eventID, model.BatchFuture)
	if err != nil {
		return nil, false, err
	}
	for i := range future {
		b := &future[i]
		if reason := closeReason(b, now); reason != "" {
			if err := closeBatch(ctx, tx, b, reason); err != nil {
				return nil, false, err
			}
			if sum != nil {
				sum.Closed = append(sum.Closed, b.ID)
			}
			continue
		}
		if !b.HasStarted(now) {
			return nil, true, nil
		}
		if err := tx.SetBatchStatus(ctx, b.ID, model.BatchActive); err != nil {
			return nil, false, err
		}
		if err := recordTransition(ctx, tx, model.EntityBatch, b.ID,
			string(model.BatchFuture), string(model.BatchActive), reasonBatchActivated, systemActor,
			map[string]any{"position": b.Position}); err != nil {
			return nil, false, err
		}
		b.Status = model.BatchActive
		if sum != nil {
			sum.Activated = b.ID
		}
		return b, false, nil
	}
	return nil, false, nil
}

// resolveActive returns the batch a new registration is sold under,
// cascading past exhausted batches at most attempts times.
func (e *BatchEngine) resolveActive(ctx context.Context, tx repository.Tx, eventID string, attempts int) (*model.Batch, error) {
	now := e.civilNow()
	for range attempts {
		active, err := tx.LockBatches(ctx, eventID, model.BatchActive)
		if err != nil {
			return nil, err
		}
		if len(active) == 0 {
			next, _, err := e.activateNext(ctx, tx, eventID, now, nil)
			if err != nil {
				return nil, err
			}
			if next == nil {
				break
			}
			return next, nil
		}
		b := &active[0]
		if reason := closeReason(b, now); reason != "" {
			if err := closeBatch(ctx, tx, b, reason); err != nil {
				return nil, err
			}
			if len(active) > 1 {
				continue
			}
			next, _, err := e.activateNext(ctx, tx, eventID, now, nil)
			if err != nil {
				return nil, err
			}
			if next == nil {
				break
			}
			return next, nil
		}
		return b, nil
	}
	return nil, model.NewError(model.KindNoActiveBatch, "no batch is currently on sale for event %s", eventID)
}

// cascadeIfFull closes b when it just reached its cap and activates the next
// batch in the same transaction.
func (e *BatchEngine) cascadeIfFull(ctx context.Context, tx repository.Tx, b *model.Batch) (string, error) {
	if !b.IsFull() {
		return "", nil
	}
	if err := closeBatch(ctx, tx, b, reasonBatchFull); err != nil {
		return "", err
	}
	next, _, err := e.activateNext(ctx, tx, b.EventID, e.civilNow(), nil)
	if err != nil || next == nil {
		return "", err
	}
	return next.ID, nil
}

// Availability recalculates and then reads the per-category view in the same
// transaction, so the answer is never staler than the call.
func (e *BatchEngine) Availability(ctx context.Context, eventID string) (*AvailabilityView, error) {
	var view *AvailabilityView
	err := e.store.InTx(ctx, func(tx repository.Tx) error {
		if _, err := e.recalculate(ctx, tx, eventID); err != nil {
			return err
		}
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return notFoundAs(err, model.ErrEventNotFound)
		}
		active, err := tx.LockBatches(ctx, eventID, model.BatchActive)
		if err != nil {
			return err
		}
		categories, err := tx.ListCategories(ctx, eventID)
		if err != nil {
			return err
		}

		view = &AvailabilityView{
			EventID:      ev.ID,
			EventStatus:  ev.Status,
			EventSoldOut: ev.Status == model.EventSoldOut || ev.IsFull(),
			Remaining:    max(ev.Remaining(), 0),
			Categories:   make([]CategoryAvailability, 0, len(categories)),
		}
		var prices map[string]int64
		if len(active) > 0 {
			view.ActiveBatchID = active[0].ID
			if prices, err = tx.BatchPrices(ctx, active[0].ID); err != nil {
				return err
			}
		}
		for _, c := range categories {
			row := CategoryAvailability{CategoryID: c.ID, Name: c.Name, AccessType: c.AccessType}
			if c.Capacity != nil {
				left := max(*c.Capacity-c.Occupied, 0)
				row.Remaining = &left
			}
			amount, priced := prices[c.ID]
			if priced {
				row.Price = &amount
			}
			row.SoldOut = view.EventSoldOut || c.IsFull() || len(active) == 0 || !validPrice(c.AccessType, amount, priced)
			view.Categories = append(view.Categories, row)
		}
		return nil
	})
	if err != nil {
		return nil, engineError(err, "availability")
	}
	return view, nil
}

// validPrice reports whether a category can be sold at (amount, ok). Paid
// categories need a positive price row; others fall back to free when no row
// exists, so a voucher category is payable exactly when a price is set.
func validPrice(access model.AccessType, amount int64, ok bool) bool {
	if access.RequiresPrice() {
		return ok && amount > 0
	}
	return !ok || amount >= 0
}

func closeReason(b *model.Batch, now time.Time) string {
	switch {
	case b.IsExpired(now):
		return reasonBatchExpired
	case b.IsFull():
		return reasonBatchFull
	}
	return ""
}

func closeBatch(ctx context.Context, tx repository.Tx, b *model.Batch, reason string) error {
	from := b.Status
	if err := tx.SetBatchStatus(ctx, b.ID, model.BatchClosed); err != nil {
		return err
	}
	b.Status = model.BatchClosed
	return recordTransition(ctx, tx, model.EntityBatch, b.ID, string(from), string(model.BatchClosed), reason, systemActor,
		map[string]any{"used": b.Used, "position": b.Position})
}

// markSoldOut flips a published event to sold_out. Events in other states
// keep their status.
func (e *BatchEngine) markSoldOut(ctx context.Context, tx repository.Tx, ev *model.Event, reason string) error {
	if ev.Status != model.EventPublished {
		return nil
	}
	if err := tx.SetEventStatus(ctx, ev.ID, model.EventSoldOut); err != nil {
		return err
	}
	ev.Status = model.EventSoldOut
	return recordTransition(ctx, tx, model.EntityEvent, ev.ID,
		string(model.EventPublished), string(model.EventSoldOut), reason, systemActor,
		map[string]any{"occupied": ev.Occupied, "capacity": ev.Capacity})
}
