package model

// RegisterRequest is the JSON body for POST /events/{id}/registrations.
type RegisterRequest struct {
	CategoryID    string        `json:"category_id" validate:"required"`
	ParticipantID string        `json:"participant_id" validate:"required"`
	BuyerID       string        `json:"buyer_id"`
	Size          string        `json:"size" validate:"omitempty,max=8"`
	UnitPrice     int64         `json:"unit_price" validate:"gte=0"`
	Fee           int64         `json:"fee" validate:"gte=0"`
	Free          bool          `json:"free"`
	PaymentMethod PaymentMethod `json:"payment_method" validate:"omitempty,oneof=pix card manual"`
}

// ConfirmRequest is the JSON body for POST /orders/{id}/confirm.
type ConfirmRequest struct {
	Method PaymentMethod `json:"method" validate:"omitempty,oneof=pix card manual"`
}

// CancelRequest is the JSON body for POST /orders/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// CardChargeRequest is the JSON body for POST /orders/{id}/charges/card.
type CardChargeRequest struct {
	TokenID string `json:"token_id" validate:"required"`
}

// PaymentCallback is the gateway notification body. Only the transaction id
// is trusted; its status is re-queried from the gateway.
type PaymentCallback struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	OrderID       string `json:"order_id"`
	Status        string `json:"transaction_status"`
}
