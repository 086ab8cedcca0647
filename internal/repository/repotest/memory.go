// Package repotest provides an in-memory repository.Store for tests.
//
// Transactions are serialised by a single mutex and rolled back by restoring
// a snapshot, so concurrent callers observe the same all-or-nothing behaviour
// as the PostgreSQL store with its row locks. CHECK constraints and the
// partial unique index on registrations are enforced the same way.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
)

// ErrCheckViolation mimics a failed CHECK constraint.
var ErrCheckViolation = errors.New("check constraint violated")

type priceKey struct{ category, batch string }

type state struct {
	events        map[string]model.Event
	categories    map[string]model.Category
	batches       map[string]model.Batch
	prices        map[priceKey]int64
	stocks        map[string]model.SizeStock
	orders        map[string]model.Order
	registrations map[string]model.Registration
	changes       []model.StatusChange
	orderSeq      int64
	regSeq        int64
	changeSeq     int64
}

func (s state) clone() state {
	c := s
	c.events = maps.Clone(s.events)
	c.categories = maps.Clone(s.categories)
	c.batches = maps.Clone(s.batches)
	c.prices = maps.Clone(s.prices)
	c.stocks = maps.Clone(s.stocks)
	c.orders = maps.Clone(s.orders)
	c.registrations = maps.Clone(s.registrations)
	c.changes = slices.Clone(s.changes)
	return c
}

// Store is an in-memory repository.Store.
type Store struct {
	mu sync.Mutex
	st state

	// held marks order ids that ClaimOrder treats as locked by another
	// transaction.
	held map[string]bool
	// faults maps "Method:id" to an error returned by that call.
	faults map[string]error
	// Now stamps created_at columns.
	Now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st: state{
			events:        map[string]model.Event{},
			categories:    map[string]model.Category{},
			batches:       map[string]model.Batch{},
			prices:        map[priceKey]int64{},
			stocks:        map[string]model.SizeStock{},
			orders:        map[string]model.Order{},
			registrations: map[string]model.Registration{},
		},
		held:   map[string]bool{},
		faults: map[string]error{},
		Now:    time.Now,
	}
}

// InTx implements repository.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&memTx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// ---- seeding and inspection -------------------------------------------------

func (s *Store) PutEvent(e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events[e.ID] = e
}

func (s *Store) PutCategory(c model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.categories[c.ID] = c
}

func (s *Store) PutBatch(b model.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.batches[b.ID] = b
}

func (s *Store) PutPrice(categoryID, batchID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.prices[priceKey{categoryID, batchID}] = amount
}

func (s *Store) PutStock(st model.SizeStock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.stocks[st.ID] = st
}

// PutOrder stores an order and its registrations as-is.
func (s *Store) PutOrder(o model.Order, regs ...model.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orderSeq++
	o.Number = s.st.orderSeq
	s.st.orders[o.ID] = o
	for _, r := range regs {
		s.st.regSeq++
		r.Number = s.st.regSeq
		s.st.registrations[r.ID] = r
	}
}

// Hold makes ClaimOrder skip the order, as if another sweep had it locked.
func (s *Store) Hold(orderID string, held bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[orderID] = held
}

// FailOn makes the named Tx method fail with err when called for id.
func (s *Store) FailOn(method, id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+":"+id] = err
}

func (s *Store) Event(id string) model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.events[id]
}

func (s *Store) Category(id string) model.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.categories[id]
}

func (s *Store) Batch(id string) model.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.batches[id]
}

func (s *Store) Stock(id string) model.SizeStock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stocks[id]
}

func (s *Store) Order(id string) model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.orders[id]
}

// Registrations returns every registration of an order, oldest first.
func (s *Store) Registrations(orderID string) []model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrationsOf(orderID)
}

// Orders returns every order, oldest first.
func (s *Store) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.orders))
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ActiveBatches returns the ids of the event's active batches.
func (s *Store) ActiveBatches(eventID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, b := range s.st.batches {
		if b.EventID == eventID && b.Status == model.BatchActive {
			ids = append(ids, b.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Changes returns the audit log, oldest first.
func (s *Store) Changes() []model.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.changes)
}

func (s *Store) registrationsOf(orderID string) []model.Registration {
	var out []model.Registration
	for _, r := range s.st.registrations {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// ---- repository.Tx ----------------------------------------------------------

type memTx struct {
	s *Store
}

var _ repository.Tx = (*memTx)(nil)

func (t *memTx) fault(method, id string) error {
	return t.s.faults[method+":"+id]
}

func (t *memTx) GetEvent(_ context.Context, id string) (*model.Event, error) {
	e, ok := t.s.st.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (t *memTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	if err := t.fault("LockEvent", id); err != nil {
		return nil, err
	}
	return t.GetEvent(ctx, id)
}

func (t *memTx) SetEventStatus(_ context.Context, id string, status model.EventStatus) error {
	e, ok := t.s.st.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = status
	t.s.st.events[id] = e
	return nil
}

func (t *memTx) AddEventOccupied(_ context.Context, id string, delta int) error {
	e, ok := t.s.st.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Occupied = max(e.Occupied+delta, 0)
	if e.Occupied > e.Capacity {
		return fmt.Errorf("update event occupied: %w", ErrCheckViolation)
	}
	t.s.st.events[id] = e
	return nil
}

func (t *memTx) ListEventIDs(_ context.Context, statuses ...model.EventStatus) ([]string, error) {
	var ids []string
	for id, e := range t.s.st.events {
		if slices.Contains(statuses, e.Status) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) LockCategory(_ context.Context, id string) (*model.Category, error) {
	c, ok := t.s.st.categories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) ListCategories(_ context.Context, eventID string) ([]model.Category, error) {
	var out []model.Category
	for _, c := range t.s.st.categories {
		if c.EventID == eventID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) AddCategoryOccupied(_ context.Context, id string, delta int) error {
	c, ok := t.s.st.categories[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Occupied = max(c.Occupied+delta, 0)
	if c.Capacity != nil && c.Occupied > *c.Capacity {
		return fmt.Errorf("update category occupied: %w", ErrCheckViolation)
	}
	t.s.st.categories[id] = c
	return nil
}

func (t *memTx) LockBatches(_ context.Context, eventID string, status model.BatchStatus) ([]model.Batch, error) {
	var out []model.Batch
	for _, b := range t.s.st.batches {
		if b.EventID == eventID && b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (t *memTx) LockBatch(_ context.Context, id string) (*model.Batch, error) {
	b, ok := t.s.st.batches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) SetBatchStatus(_ context.Context, id string, status model.BatchStatus) error {
	b, ok := t.s.st.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	if status == model.BatchActive {
		for _, other := range t.s.st.batches {
			if other.ID != id && other.EventID == b.EventID && other.Status == model.BatchActive {
				return fmt.Errorf("activate batch: %w", repository.ErrDuplicate)
			}
		}
	}
	b.Status = status
	t.s.st.batches[id] = b
	return nil
}

func (t *memTx) AddBatchUsed(_ context.Context, id string, delta int) error {
	b, ok := t.s.st.batches[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Used = max(b.Used+delta, 0)
	if b.MaxUses != nil && b.Used > *b.MaxUses {
		return fmt.Errorf("update batch used: %w", ErrCheckViolation)
	}
	t.s.st.batches[id] = b
	return nil
}

func (t *memTx) Price(_ context.Context, categoryID, batchID string) (int64, bool, error) {
	amount, ok := t.s.st.prices[priceKey{categoryID, batchID}]
	return amount, ok, nil
}

func (t *memTx) BatchPrices(_ context.Context, batchID string) (map[string]int64, error) {
	out := map[string]int64{}
	for k, v := range t.s.st.prices {
		if k.batch == batchID {
			out[k.category] = v
		}
	}
	return out, nil
}

func (t *memTx) LockSizeStock(_ context.Context, eventID string, categoryID *string, size string) (*model.SizeStock, error) {
	for _, st := range t.s.st.stocks {
		if st.EventID != eventID || st.Size != size {
			continue
		}
		if (st.CategoryID == nil) != (categoryID == nil) {
			continue
		}
		if categoryID != nil && *st.CategoryID != *categoryID {
			continue
		}
		return &st, nil
	}
	return nil, repository.ErrNotFound
}

func (t *memTx) AddSizeAvailable(_ context.Context, id string, delta int) error {
	st, ok := t.s.st.stocks[id]
	if !ok {
		return repository.ErrNotFound
	}
	st.Available = min(max(st.Available+delta, 0), st.Total)
	t.s.st.stocks[id] = st
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	if err := t.fault("InsertOrder", o.EventID); err != nil {
		return err
	}
	t.s.st.orderSeq++
	o.Number = t.s.st.orderSeq
	o.CreatedAt = t.s.Now()
	t.s.st.orders[o.ID] = *o
	return nil
}

func (t *memTx) InsertRegistration(_ context.Context, r *model.Registration) error {
	for _, other := range t.s.st.registrations {
		if other.EventID == r.EventID && other.Participant.ID == r.Participant.ID &&
			other.CategoryID == r.CategoryID && other.Status != model.RegistrationCancelled {
			return repository.ErrDuplicate
		}
	}
	t.s.st.regSeq++
	r.Number = t.s.st.regSeq
	r.CreatedAt = t.s.Now()
	t.s.st.registrations[r.ID] = *r
	return nil
}

func (t *memTx) HasActiveRegistration(_ context.Context, eventID, participantID, categoryID string) (bool, error) {
	for _, r := range t.s.st.registrations {
		if r.EventID == eventID && r.Participant.ID == participantID &&
			r.Status != model.RegistrationCancelled &&
			(categoryID == "" || r.CategoryID == categoryID) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*model.Order, error) {
	o, ok := t.s.st.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) ClaimOrder(ctx context.Context, id string) (*model.Order, bool, error) {
	if t.s.held[id] {
		return nil, false, nil
	}
	o, err := t.LockOrder(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	return o, err == nil, err
}

func (t *memTx) GetOrderByPayment(_ context.Context, paymentID string) (*model.Order, error) {
	for _, o := range t.s.st.orders {
		if (o.PaymentID != nil && *o.PaymentID == paymentID) ||
			(o.AltPaymentID != nil && *o.AltPaymentID == paymentID) {
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *memTx) ListExpiredOrderIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	var due []model.Order
	for _, o := range t.s.st.orders {
		if o.Status == model.OrderPending && o.ExpiresAt != nil && o.ExpiresAt.Before(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(*due[j].ExpiresAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, o := range due {
		ids[i] = o.ID
	}
	return ids, nil
}

func (t *memTx) ListRegistrations(_ context.Context, orderID string) ([]model.Registration, error) {
	return t.s.registrationsOf(orderID), nil
}

func (t *memTx) UpdateRegistration(_ context.Context, id string, status model.RegistrationStatus, sizeReserved bool) error {
	r, ok := t.s.st.registrations[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = status
	r.SizeReserved = sizeReserved
	t.s.st.registrations[id] = r
	return nil
}

func (t *memTx) updateOrder(id string, fn func(o *model.Order)) error {
	o, ok := t.s.st.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&o)
	t.s.st.orders[id] = o
	return nil
}

func (t *memTx) MarkOrderPaid(_ context.Context, id string, method model.PaymentMethod, paidAt time.Time) error {
	return t.updateOrder(id, func(o *model.Order) {
		o.Status = model.OrderPaid
		o.PaymentMethod = method
		o.PaidAt = &paidAt
	})
}

func (t *memTx) SetOrderStatus(_ context.Context, id string, status model.OrderStatus) error {
	if err := t.fault("SetOrderStatus", id); err != nil {
		return err
	}
	return t.updateOrder(id, func(o *model.Order) { o.Status = status })
}

func (t *memTx) ExtendOrder(_ context.Context, id string, expiresAt time.Time) error {
	return t.updateOrder(id, func(o *model.Order) { o.ExpiresAt = &expiresAt })
}

func (t *memTx) SetOrderPayment(_ context.Context, id, paymentID string, method model.PaymentMethod) error {
	return t.updateOrder(id, func(o *model.Order) {
		o.PaymentID = &paymentID
		o.PaymentMethod = method
	})
}

func (t *memTx) SetOrderAltPayment(_ context.Context, id, paymentID string, method model.PaymentMethod, expiresAt time.Time) error {
	return t.updateOrder(id, func(o *model.Order) {
		o.AltPaymentID = &paymentID
		o.AltPaymentMethod = method
		o.AltPaymentExpiresAt = &expiresAt
	})
}

func (t *memTx) AppendStatusChange(_ context.Context, c *model.StatusChange) error {
	t.s.st.changeSeq++
	c.ID = t.s.st.changeSeq
	c.CreatedAt = t.s.Now()
	t.s.st.changes = append(t.s.st.changes, *c)
	return nil
}

func (t *memTx) ListStatusChanges(_ context.Context, entityType model.EntityType, entityID string) ([]model.StatusChange, error) {
	var out []model.StatusChange
	for _, c := range t.s.st.changes {
		if c.EntityType == entityType && c.EntityID == entityID {
			out = append(out, c)
		}
	}
	return out, nil
}
