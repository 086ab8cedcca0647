package model

type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventCancelled EventStatus = "cancelled"
	EventFinished  EventStatus = "finished"
	EventSoldOut   EventStatus = "sold_out"
)

type BatchStatus string

const (
	BatchFuture BatchStatus = "future"
	BatchActive BatchStatus = "active"
	BatchClosed BatchStatus = "closed"
)

type AccessType string

const (
	AccessFree          AccessType = "free"
	AccessPaid          AccessType = "paid"
	AccessVoucher       AccessType = "voucher"
	AccessAccessibility AccessType = "accessibility"
	AccessApproval      AccessType = "approval"
)

// RequiresPrice reports whether registrations in this access type must carry
// a positive price. Other types are charged only when a price row exists.
func (a AccessType) RequiresPrice() bool {
	return a == AccessPaid
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type PaymentMethod string

const (
	PaymentNone   PaymentMethod = ""
	PaymentFree   PaymentMethod = "free"
	PaymentPix    PaymentMethod = "pix"
	PaymentCard   PaymentMethod = "card"
	PaymentManual PaymentMethod = "manual"
)

type EntityType string

const (
	EntityEvent        EntityType = "event"
	EntityBatch        EntityType = "batch"
	EntityOrder        EntityType = "order"
	EntityRegistration EntityType = "registration"
)

type ActorType string

const (
	ActorSystem      ActorType = "system"
	ActorParticipant ActorType = "participant"
	ActorAdmin       ActorType = "admin"
	ActorGateway     ActorType = "gateway"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPending:   {OrderPaid: true, OrderCancelled: true, OrderExpired: true},
	OrderPaid:      {OrderCancelled: true},
	OrderCancelled: {},
	OrderExpired:   {},
}

// CanTransition reports whether an order may move from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return orderNext[s][to]
}
