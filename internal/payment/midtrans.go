package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// Midtrans implements Gateway on the Midtrans Core API. QRIS is the instant
// QR rail used for PIX-style charges.
type Midtrans struct {
	client coreapi.Client
	now    func() time.Time
}

// chargeReference is the Midtrans order_id for one charge. Midtrans refuses a
// second charge under an order_id it has already seen, so every charge of an
// order gets its own suffix. Orders are resolved by transaction id, never by
// this reference.
func chargeReference(orderID string) string {
	return orderID + "-" + uuid.NewString()[:8]
}

// NewMidtrans builds a client for the sandbox or production environment.
func NewMidtrans(serverKey string, production bool) *Midtrans {
	m := &Midtrans{now: time.Now}
	if production {
		m.client.New(serverKey, midtrans.Production)
	} else {
		m.client.New(serverKey, midtrans.Sandbox)
	}
	return m
}

func (m *Midtrans) CreatePixCharge(ctx context.Context, req PixRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	charge := pixChargeReq(req)
	resp, merr := m.client.ChargeTransaction(charge)
	if merr != nil {
		return nil, fmt.Errorf("midtrans qris charge: %s", merr.Message)
	}

	c := &Charge{
		ID:        resp.TransactionID,
		Reference: charge.TransactionDetails.OrderID,
		Status:    StatusFromMidtrans(resp.TransactionStatus, resp.FraudStatus),
		Amount:    parseAmount(resp.GrossAmount, req.Amount),
		QRCode:    resp.QRString,
	}
	if req.ExpiresIn > 0 {
		exp := m.now().Add(req.ExpiresIn)
		c.ExpiresAt = &exp
	}
	return c, nil
}

func (m *Midtrans) CreateCardCharge(ctx context.Context, req CardRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	charge := cardChargeReq(req)
	resp, merr := m.client.ChargeTransaction(charge)
	if merr != nil {
		return nil, fmt.Errorf("midtrans card charge: %s", merr.Message)
	}
	return &Charge{
		ID:        resp.TransactionID,
		Reference: charge.TransactionDetails.OrderID,
		Status:    StatusFromMidtrans(resp.TransactionStatus, resp.FraudStatus),
		Amount:    parseAmount(resp.GrossAmount, req.Amount),
	}, nil
}

func pixChargeReq(req PixRequest) *coreapi.ChargeReq {
	return &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeQris,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  chargeReference(req.OrderID),
			GrossAmt: req.Amount,
		},
		Qris: &coreapi.QrisDetails{Acquirer: "gopay"},
	}
}

func cardChargeReq(req CardRequest) *coreapi.ChargeReq {
	return &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  chargeReference(req.OrderID),
			GrossAmt: req.Amount,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID:        req.TokenID,
			Authentication: true,
		},
	}
}

// GetPaymentStatus re-queries the gateway. Callback bodies are never trusted
// for the amount or the status.
func (m *Midtrans) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, merr := m.client.CheckTransaction(paymentID)
	if merr != nil {
		return nil, fmt.Errorf("midtrans status %s: %s", paymentID, merr.Message)
	}
	return &PaymentStatus{
		Status: StatusFromMidtrans(resp.TransactionStatus, resp.FraudStatus),
		Amount: parseAmount(resp.GrossAmount, 0),
	}, nil
}

// StatusFromMidtrans maps Midtrans transaction_status/fraud_status onto Status.
func StatusFromMidtrans(transactionStatus, fraudStatus string) Status {
	switch strings.ToLower(transactionStatus) {
	case "capture":
		if strings.EqualFold(fraudStatus, "challenge") {
			return StatusPending
		}
		return StatusApproved
	case "settlement":
		return StatusApproved
	case "pending", "authorize":
		return StatusPending
	case "deny", "failure":
		return StatusRejected
	case "cancel":
		return StatusCancelled
	case "expire":
		return StatusExpired
	case "refund", "partial_refund", "chargeback", "partial_chargeback":
		return StatusRefunded
	}
	return StatusUnknown
}

// parseAmount reads Midtrans' decimal gross_amount ("150000.00") into minor
// units of a zero-decimal currency.
func parseAmount(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return int64(f)
}
