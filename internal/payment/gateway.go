// Package payment defines the payment gateway contract the engine consumes
// and a Midtrans-backed implementation.
package payment

import (
	"context"
	"time"
)

// Status is the gateway-neutral state of a charge.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusRefunded  Status = "refunded"
	StatusUnknown   Status = "unknown"
)

// Charge is a payment instrument created at the gateway.
type Charge struct {
	ID        string     `json:"id"`
	Reference string     `json:"reference,omitempty"`
	Status    Status     `json:"status"`
	Amount    int64      `json:"amount"`
	QRCode    string     `json:"qr_code,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// PaymentStatus is what the gateway reports for an existing charge.
type PaymentStatus struct {
	Status Status `json:"status"`
	Amount int64  `json:"amount"`
}

// PixRequest asks for an instant QR charge.
type PixRequest struct {
	OrderID   string
	Amount    int64
	ExpiresIn time.Duration
}

// CardRequest charges a tokenised card.
type CardRequest struct {
	OrderID string
	Amount  int64
	TokenID string
}

// Gateway is the payment provider client.
type Gateway interface {
	CreatePixCharge(ctx context.Context, req PixRequest) (*Charge, error)
	CreateCardCharge(ctx context.Context, req CardRequest) (*Charge, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error)
}
