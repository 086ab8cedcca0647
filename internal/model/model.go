// Package model defines the core domain types for the event admission engine.
package model

import "time"

// Event is a sporting event with a hard participant cap.
type Event struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Capacity             int         `json:"capacity"`
	Occupied             int         `json:"occupied"`
	Status               EventStatus `json:"status"`
	EventDate            *time.Time  `json:"event_date,omitempty"`
	RegistrationOpensAt  *time.Time  `json:"registration_opens_at,omitempty"`
	RegistrationClosesAt *time.Time  `json:"registration_closes_at,omitempty"`
	AllowMultiCategory   bool        `json:"allow_multiple_categories"`
	SizeStockPerCategory bool        `json:"size_stock_per_category"`
}

// Remaining returns the number of free places.
func (e *Event) Remaining() int {
	return e.Capacity - e.Occupied
}

// IsFull returns true when no places remain.
func (e *Event) IsFull() bool {
	return e.Occupied >= e.Capacity
}

// RegistrationOpen reports whether t falls inside the registration window.
// A missing bound is treated as unbounded.
func (e *Event) RegistrationOpen(t time.Time) bool {
	if e.RegistrationOpensAt != nil && t.Before(*e.RegistrationOpensAt) {
		return false
	}
	if e.RegistrationClosesAt != nil && t.After(*e.RegistrationClosesAt) {
		return false
	}
	return true
}

// Category is a race distance or class inside an event ("modality").
type Category struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	Name       string     `json:"name"`
	Capacity   *int       `json:"capacity,omitempty"` // nil = limited only by the event
	Occupied   int        `json:"occupied"`
	AccessType AccessType `json:"access_type"`
	MinAge     *int       `json:"min_age,omitempty"`
}

// IsFull returns true when the category has its own cap and reached it.
func (c *Category) IsFull() bool {
	return c.Capacity != nil && c.Occupied >= *c.Capacity
}

// Batch is a time-boxed pricing tier. StartsAt/EndsAt are civil times in the
// business timezone.
type Batch struct {
	ID       string      `json:"id"`
	EventID  string      `json:"event_id"`
	Name     string      `json:"name"`
	Position int         `json:"position"`
	StartsAt time.Time   `json:"starts_at"`
	EndsAt   *time.Time  `json:"ends_at,omitempty"`
	MaxUses  *int        `json:"max_uses,omitempty"`
	Used     int         `json:"used"`
	Status   BatchStatus `json:"status"`
	Visible  bool        `json:"visible"`
}

// IsFull returns true when the batch has a use cap and reached it.
func (b *Batch) IsFull() bool {
	return b.MaxUses != nil && b.Used >= *b.MaxUses
}

// IsExpired reports whether the batch window ended before now.
func (b *Batch) IsExpired(now time.Time) bool {
	return b.EndsAt != nil && now.After(*b.EndsAt)
}

// HasStarted reports whether the batch window opened at or before now.
func (b *Batch) HasStarted(now time.Time) bool {
	return !b.StartsAt.After(now)
}

// SizeStock is the garment inventory of one size, either event-wide
// (CategoryID nil) or scoped to a category.
type SizeStock struct {
	ID         string  `json:"id"`
	EventID    string  `json:"event_id"`
	CategoryID *string `json:"category_id,omitempty"`
	Size       string  `json:"size"`
	Total      int     `json:"total"`
	Available  int     `json:"available"`
}

// Order groups the registrations bought in one checkout.
type Order struct {
	ID                  string        `json:"id"`
	Number              int64         `json:"number"`
	EventID             string        `json:"event_id"`
	BuyerID             string        `json:"buyer_id"`
	Total               int64         `json:"total"`
	Discount            int64         `json:"discount"`
	Status              OrderStatus   `json:"status"`
	PaymentMethod       PaymentMethod `json:"payment_method,omitempty"`
	ExpiresAt           *time.Time    `json:"expires_at,omitempty"`
	PaymentID           *string       `json:"payment_id,omitempty"`
	AltPaymentID        *string       `json:"alt_payment_id,omitempty"`
	AltPaymentMethod    PaymentMethod `json:"alt_payment_method,omitempty"`
	AltPaymentExpiresAt *time.Time    `json:"alt_payment_expires_at,omitempty"`
	PaidAt              *time.Time    `json:"paid_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Participant is the profile snapshot copied into a registration.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CPF       string     `json:"cpf"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Sex       string     `json:"sex"`
}

// AgeOn returns the participant's age in whole years on day t, or -1 when
// the birth date is unknown.
func (p *Participant) AgeOn(t time.Time) int {
	if p.BirthDate == nil {
		return -1
	}
	b := *p.BirthDate
	age := t.Year() - b.Year()
	if t.Month() < b.Month() || (t.Month() == b.Month() && t.Day() < b.Day()) {
		age--
	}
	return age
}

// Registration is one participant's seat in one category.
type Registration struct {
	ID           string             `json:"id"`
	Number       int64              `json:"number"`
	OrderID      string             `json:"order_id"`
	EventID      string             `json:"event_id"`
	CategoryID   string             `json:"category_id"`
	BatchID      string             `json:"batch_id"`
	Participant  Participant        `json:"participant"`
	Size         string             `json:"size,omitempty"`
	SizeReserved bool               `json:"size_reserved"`
	UnitPrice    int64              `json:"unit_price"`
	Fee          int64              `json:"fee"`
	Status       RegistrationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

// StatusChange is an immutable audit fact about one entity transition.
type StatusChange struct {
	ID         int64          `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	OldStatus  string         `json:"old_status"`
	NewStatus  string         `json:"new_status"`
	Reason     string         `json:"reason"`
	ActorType  ActorType      `json:"actor_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      Kind   `json:"kind"`
	Retryable bool   `json:"retryable,omitempty"`
}
