package model

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable reason an engine operation failed.
type Kind string

const (
	KindEventNotFound       Kind = "EVENT_NOT_FOUND"
	KindCategoryNotFound    Kind = "MODALITY_NOT_FOUND"
	KindOrderNotFound       Kind = "ORDER_NOT_FOUND"
	KindParticipantNotFound Kind = "PARTICIPANT_NOT_FOUND"

	KindEventFull          Kind = "EVENT_FULL"
	KindEventSoldOut       Kind = "EVENT_SOLD_OUT"
	KindEventNotOpen       Kind = "EVENT_NOT_OPEN"
	KindRegistrationClosed Kind = "REGISTRATION_CLOSED"
	KindCategoryFull       Kind = "MODALITY_FULL"
	KindNoActiveBatch      Kind = "NO_ACTIVE_BATCH_AVAILABLE"
	KindSizeSoldOut        Kind = "SIZE_SOLD_OUT"

	KindNoValidPrice  Kind = "NO_VALID_PRICE"
	KindAgeRestricted Kind = "AGE_RESTRICTED"

	KindAlreadyRegistered Kind = "ALREADY_REGISTERED"

	KindOrderCancelled Kind = "ORDER_CANCELLED"
	KindOrderExpired   Kind = "ORDER_EXPIRED"
	KindPaymentInvalid Kind = "PAYMENT_NOT_APPROVED"

	KindInvalidInput Kind = "INVALID_INPUT"
	KindInternal     Kind = "INTERNAL_ERROR"
)

// Class groups kinds by how a caller should react to them.
type Class string

const (
	ClassCapacity      Class = "capacity"
	ClassConfiguration Class = "configuration"
	ClassDuplicate     Class = "duplicate"
	ClassNotFound      Class = "not_found"
	ClassState         Class = "state"
	ClassInvalid       Class = "invalid"
	ClassInternal      Class = "internal"
)

var kindClass = map[Kind]Class{
	KindEventNotFound:       ClassNotFound,
	KindCategoryNotFound:    ClassNotFound,
	KindOrderNotFound:       ClassNotFound,
	KindParticipantNotFound: ClassNotFound,
	KindEventFull:           ClassCapacity,
	KindEventSoldOut:        ClassCapacity,
	KindEventNotOpen:        ClassCapacity,
	KindRegistrationClosed:  ClassCapacity,
	KindCategoryFull:        ClassCapacity,
	KindNoActiveBatch:       ClassCapacity,
	KindSizeSoldOut:         ClassCapacity,
	KindNoValidPrice:        ClassConfiguration,
	KindAgeRestricted:       ClassConfiguration,
	KindAlreadyRegistered:   ClassDuplicate,
	KindOrderCancelled:      ClassState,
	KindOrderExpired:        ClassState,
	KindPaymentInvalid:      ClassState,
	KindInvalidInput:        ClassInvalid,
	KindInternal:            ClassInternal,
}

// Error is the failure type returned across the engine boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds an Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.
func Internal(err error, msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two engine errors by kind, so errors.Is(err, ErrNotFound)-style
// checks work against the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Class returns the taxonomy class of the error's kind.
func (e *Error) Class() Class {
	if c, ok := kindClass[e.Kind]; ok {
		return c
	}
	return ClassInternal
}

// Retryable reports whether the same request may succeed later without an
// administrative fix.
func (e *Error) Retryable() bool {
	switch e.Class() {
	case ClassCapacity, ClassInternal:
		return true
	}
	return false
}

// KindOf extracts the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ClassOf extracts the taxonomy class of err, defaulting to ClassInternal.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class()
	}
	return ClassInternal
}

// Sentinels for errors.Is checks.
var (
	ErrEventNotFound     = &Error{Kind: KindEventNotFound, Message: "event not found"}
	ErrCategoryNotFound  = &Error{Kind: KindCategoryNotFound, Message: "modality not found"}
	ErrOrderNotFound     = &Error{Kind: KindOrderNotFound, Message: "order not found"}
	ErrAlreadyRegistered = &Error{Kind: KindAlreadyRegistered, Message: "participant already registered"}
	ErrSizeSoldOut       = &Error{Kind: KindSizeSoldOut, Message: "garment size sold out"}
)
