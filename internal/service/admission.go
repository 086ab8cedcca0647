package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProfileStore is the read-only participant directory.
type ProfileStore interface {
	// Participant returns the current profile; repository.ErrNotFound when
	// the id is unknown.
	Participant(ctx context.Context, id string) (*model.Participant, error)
}

// Discount is a voucher or coupon resolved by the caller. Commit consumes one
// use and runs inside the admission transaction.
type Discount interface {
	Amount() int64
	Commit(ctx context.Context, orderID string) error
}

// RegisterRequest is the input of Register. UnitPrice and Free are the
// caller's own pricing; the engine re-derives both and only records them.
type RegisterRequest struct {
	EventID       string
	CategoryID    string
	ParticipantID string
	BuyerID       string
	Size          string
	UnitPrice     int64
	Fee           int64
	Free          bool
	PaymentMethod model.PaymentMethod
	Discount      Discount
	Actor         Actor
}

// RegisterResult is what a successful admission created.
type RegisterResult struct {
	Order          *model.Order        `json:"order"`
	Registration   *model.Registration `json:"registration"`
	BatchID        string              `json:"batch_id"`
	Confirmed      bool                `json:"confirmed"`
	ActivatedBatch string              `json:"activated_batch,omitempty"`
	EventSoldOut   bool                `json:"event_sold_out"`
}

// AdmissionService is the only path that creates orders and registrations.
type AdmissionService struct {
	store         repository.Store
	batches       *BatchEngine
	profiles      ProfileStore
	maxAttempts   int
	paymentWindow time.Duration
	now           Clock
	log           *logrus.Entry
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(store repository.Store, batches *BatchEngine, profiles ProfileStore, maxAttempts int, paymentWindow time.Duration, now Clock, log *logrus.Entry) *AdmissionService {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if now == nil {
		now = time.Now
	}
	return &AdmissionService{
		store:         store,
		batches:       batches,
		profiles:      profiles,
		maxAttempts:   maxAttempts,
		paymentWindow: paymentWindow,
		now:           now,
		log:           log,
	}
}

// Register admits one participant into one category. Locks are taken in the
// order event, category, batch, size stock; any failure rolls back every
// counter.
func (s *AdmissionService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.EventID == "" || req.CategoryID == "" || req.ParticipantID == "" {
		return nil, model.NewError(model.KindInvalidInput, "event, category and participant are required")
	}
	if req.Fee < 0 {
		return nil, model.NewError(model.KindInvalidInput, "fee must not be negative")
	}
	if req.Actor.Type == "" {
		req.Actor = Actor{Type: model.ActorParticipant, ID: req.ParticipantID}
	}

	participant, err := s.profiles.Participant(ctx, req.ParticipantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewError(model.KindParticipantNotFound, "participant %s not found", req.ParticipantID)
		}
		return nil, model.Internal(err, "load participant")
	}

	var res *RegisterResult
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.admit(ctx, tx, req, participant)
		return err
	})
	if err != nil {
		err = engineError(err, "register")
		s.afterRejection(ctx, req.EventID, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":  res.Order.ID,
		"event_id":  req.EventID,
		"batch_id":  res.BatchID,
		"confirmed": res.Confirmed,
		"total":     res.Order.Total,
	}).Info("registration admitted")
	if req.Free && !res.Confirmed {
		s.log.WithField("order_id", res.Order.ID).Warn("caller marked registration free but price is positive")
	}
	return res, nil
}

// afterRejection persists lifecycle changes a rejected admission discovered
// but had to roll back: a full event that must read sold_out, or batches the
// cascade closed before a later check failed.
func (s *AdmissionService) afterRejection(ctx context.Context, eventID string, err error) {
	switch model.ClassOf(err) {
	case model.ClassCapacity, model.ClassConfiguration, model.ClassDuplicate:
	default:
		return
	}
	if _, rerr := s.batches.Recalculate(ctx, eventID); rerr != nil {
		s.log.WithError(rerr).WithField("event_id", eventID).Warn("follow-up recalculation failed")
	}
}

func (s *AdmissionService) admit(ctx context.Context, tx repository.Tx, req RegisterRequest, participant *model.Participant) (*RegisterResult, error) {
	now := s.now()

	// event
	ev, err := tx.LockEvent(ctx, req.EventID)
	if err != nil {
		return nil, notFoundAs(err, model.ErrEventNotFound)
	}
	switch {
	case ev.Status == model.EventSoldOut:
		return nil, model.NewError(model.KindEventSoldOut, "event %s is sold out", ev.ID)
	case ev.IsFull():
		return nil, model.NewError(model.KindEventFull, "event %s reached its capacity of %d", ev.ID, ev.Capacity)
	case ev.Status != model.EventPublished:
		return nil, model.NewError(model.KindEventNotOpen, "event %s is %s", ev.ID, ev.Status)
	case !ev.RegistrationOpen(now):
		return nil, model.NewError(model.KindRegistrationClosed, "registration for event %s is closed", ev.ID)
	}

	// category
	cat, err := tx.LockCategory(ctx, req.CategoryID)
	if err != nil {
		return nil, notFoundAs(err, model.ErrCategoryNotFound)
	}
	if cat.EventID != ev.ID {
		return nil, model.ErrCategoryNotFound
	}
	if cat.IsFull() {
		return nil, model.NewError(model.KindCategoryFull, "modality %s is full", cat.Name)
	}
	if cat.MinAge != nil {
		ref := now
		if ev.EventDate != nil {
			ref = *ev.EventDate
		}
		if age := participant.AgeOn(ref); age < *cat.MinAge {
			return nil, model.NewError(model.KindAgeRestricted, "modality %s requires age %d", cat.Name, *cat.MinAge)
		}
	}

	// batch
	batch, err := s.batches.resolveActive(ctx, tx, ev.ID, s.maxAttempts)
	if err != nil {
		return nil, err
	}

	// price
	price, priced, err := tx.Price(ctx, cat.ID, batch.ID)
	if err != nil {
		return nil, err
	}
	if !validPrice(cat.AccessType, price, priced) {
		return nil, model.NewError(model.KindNoValidPrice, "no valid price for modality %s in batch %s", cat.Name, batch.Name)
	}
	if !priced {
		price = 0
	}

	// duplicate
	scope := cat.ID
	if !ev.AllowMultiCategory {
		scope = ""
	}
	dup, err := tx.HasActiveRegistration(ctx, ev.ID, participant.ID, scope)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, model.ErrAlreadyRegistered
	}

	// order + registration
	gross := price + req.Fee
	var discount int64
	if req.Discount != nil {
		discount = min(max(req.Discount.Amount(), 0), gross)
	}
	total := gross - discount
	confirmed := total == 0

	order := &model.Order{
		ID:       uuid.NewString(),
		EventID:  ev.ID,
		BuyerID:  req.BuyerID,
		Total:    total,
		Discount: discount,
		Status:   model.OrderPending,
	}
	if order.BuyerID == "" {
		order.BuyerID = participant.ID
	}
	reg := &model.Registration{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		EventID:     ev.ID,
		CategoryID:  cat.ID,
		BatchID:     batch.ID,
		Participant: *participant,
		Size:        req.Size,
		UnitPrice:   price,
		Fee:         req.Fee,
		Status:      model.RegistrationPending,
	}
	if confirmed {
		order.Status = model.OrderPaid
		order.PaymentMethod = model.PaymentFree
		order.PaidAt = &now
		reg.Status = model.RegistrationConfirmed
	} else {
		order.PaymentMethod = req.PaymentMethod
		deadline := now.Add(s.paymentWindow)
		order.ExpiresAt = &deadline
	}

	// size stock, only for immediately confirmed registrations
	if confirmed && req.Size != "" {
		if err := reserveSize(ctx, tx, ev, cat.ID, req.Size, 1); err != nil {
			return nil, err
		}
		reg.SizeReserved = true
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := tx.InsertRegistration(ctx, reg); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.ErrAlreadyRegistered
		}
		return nil, err
	}

	// counters
	if err := tx.AddEventOccupied(ctx, ev.ID, 1); err != nil {
		return nil, err
	}
	if err := tx.AddCategoryOccupied(ctx, cat.ID, 1); err != nil {
		return nil, err
	}
	if err := tx.AddBatchUsed(ctx, batch.ID, 1); err != nil {
		return nil, err
	}
	ev.Occupied++
	batch.Used++

	res := &RegisterResult{Order: order, Registration: reg, BatchID: batch.ID, Confirmed: confirmed}

	// cascade and sold-out
	if res.ActivatedBatch, err = s.batches.cascadeIfFull(ctx, tx, batch); err != nil {
		return nil, err
	}
	if ev.IsFull() {
		if err := s.batches.markSoldOut(ctx, tx, ev, "capacity_reached"); err != nil {
			return nil, err
		}
		res.EventSoldOut = true
	}

	if req.Discount != nil && discount > 0 {
		if err := req.Discount.Commit(ctx, order.ID); err != nil {
			return nil, model.Internal(err, "commit discount")
		}
	}

	meta := map[string]any{"batch_id": batch.ID, "total": total, "discount": discount}
	if err := recordTransition(ctx, tx, model.EntityOrder, order.ID, "", string(order.Status), "created", req.Actor, meta); err != nil {
		return nil, err
	}
	if err := recordTransition(ctx, tx, model.EntityRegistration, reg.ID, "", string(reg.Status), "created", req.Actor,
		map[string]any{"category_id": cat.ID, "size": req.Size}); err != nil {
		return nil, err
	}
	return res, nil
}

// stockScope returns the category id stock is drawn from, nil for the
// event-wide pool.
func stockScope(ev *model.Event, categoryID string) *string {
	if ev.SizeStockPerCategory {
		return &categoryID
	}
	return nil
}

// reserveSize debits n units of size, failing with SIZE_SOLD_OUT when the row
// is missing or short.
func reserveSize(ctx context.Context, tx repository.Tx, ev *model.Event, categoryID, size string, n int) error {
	st, err := tx.LockSizeStock(ctx, ev.ID, stockScope(ev, categoryID), size)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewError(model.KindSizeSoldOut, "size %s is not offered", size)
	}
	if err != nil {
		return err
	}
	if st.Available < n {
		return model.NewError(model.KindSizeSoldOut, "size %s is sold out", size)
	}
	return tx.AddSizeAvailable(ctx, st.ID, -n)
}
