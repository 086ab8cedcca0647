package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/payment"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/sirupsen/logrus"
)

// CallbackDedup remembers payments a callback has already settled.
type CallbackDedup interface {
	Seen(ctx context.Context, paymentID string) (bool, error)
	MarkSeen(ctx context.Context, paymentID string) error
}

// CallbackResult reports what a gateway callback did.
type CallbackResult struct {
	PaymentID string         `json:"payment_id"`
	OrderID   string         `json:"order_id,omitempty"`
	Status    payment.Status `json:"status"`
	Settled   bool           `json:"settled"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// PaymentService attaches gateway charges to pending orders and turns
// approved payments into settlements.
type PaymentService struct {
	store   repository.Store
	gateway payment.Gateway
	settle  *SettlementService
	dedup   CallbackDedup
	pixTTL  time.Duration
	now     Clock
	log     *logrus.Entry
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(store repository.Store, gateway payment.Gateway, settle *SettlementService, dedup CallbackDedup, pixTTL time.Duration, now Clock, log *logrus.Entry) *PaymentService {
	if now == nil {
		now = time.Now
	}
	return &PaymentService{store: store, gateway: gateway, settle: settle, dedup: dedup, pixTTL: pixTTL, now: now, log: log}
}

// pendingOrder reads an order that can still take a payment.
func (s *PaymentService) pendingOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order *model.Order
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundAs(err, model.ErrOrderNotFound)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case model.OrderPending:
		return order, nil
	case model.OrderCancelled:
		return nil, model.NewError(model.KindOrderCancelled, "order %s was cancelled", orderID)
	case model.OrderExpired:
		return nil, model.NewError(model.KindOrderExpired, "order %s expired", orderID)
	}
	return nil, model.NewError(model.KindPaymentInvalid, "order %s is already %s", orderID, order.Status)
}

// attach records the charge on the order: the first charge is the primary
// instrument, any later one the alternate whose deadline the sweep honours.
func (s *PaymentService) attach(ctx context.Context, orderID string, c *payment.Charge, method model.PaymentMethod) error {
	return s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundAs(err, model.ErrOrderNotFound)
		}
		if o.PaymentID == nil {
			return tx.SetOrderPayment(ctx, orderID, c.ID, method)
		}
		exp := s.now().Add(s.pixTTL)
		if c.ExpiresAt != nil {
			exp = *c.ExpiresAt
		}
		return tx.SetOrderAltPayment(ctx, orderID, c.ID, method, exp)
	})
}

// CreatePixCharge opens an instant QR charge for a pending order.
func (s *PaymentService) CreatePixCharge(ctx context.Context, orderID string) (*payment.Charge, error) {
	order, err := s.pendingOrder(ctx, orderID)
	if err != nil {
		return nil, engineError(err, "create pix charge")
	}
	c, err := s.gateway.CreatePixCharge(ctx, payment.PixRequest{OrderID: order.ID, Amount: order.Total, ExpiresIn: s.pixTTL})
	if err != nil {
		return nil, model.Internal(err, "gateway pix charge")
	}
	if err := s.attach(ctx, order.ID, c, model.PaymentPix); err != nil {
		return nil, engineError(err, "attach pix charge")
	}
	s.log.WithFields(logrus.Fields{"order_id": order.ID, "payment_id": c.ID}).Info("pix charge created")
	return c, nil
}

// CreateCardCharge charges a tokenised card. Card charges usually resolve
// synchronously, in which case the order is settled straight away.
func (s *PaymentService) CreateCardCharge(ctx context.Context, orderID, tokenID string) (*payment.Charge, *SettlementResult, error) {
	if tokenID == "" {
		return nil, nil, model.NewError(model.KindInvalidInput, "card token is required")
	}
	order, err := s.pendingOrder(ctx, orderID)
	if err != nil {
		return nil, nil, engineError(err, "create card charge")
	}
	c, err := s.gateway.CreateCardCharge(ctx, payment.CardRequest{OrderID: order.ID, Amount: order.Total, TokenID: tokenID})
	if err != nil {
		return nil, nil, model.Internal(err, "gateway card charge")
	}
	if err := s.attach(ctx, order.ID, c, model.PaymentCard); err != nil {
		return nil, nil, engineError(err, "attach card charge")
	}
	if c.Status != payment.StatusApproved || c.Amount < order.Total {
		return c, nil, nil
	}
	res, err := s.settle.ConfirmPayment(ctx, order.ID, model.PaymentCard, Actor{Type: model.ActorGateway, ID: c.ID})
	if err != nil {
		return c, nil, err
	}
	return c, res, nil
}

// HandleCallback re-queries the gateway for paymentID and settles the order
// only when the gateway itself reports an approved payment covering the total.
func (s *PaymentService) HandleCallback(ctx context.Context, paymentID string) (*CallbackResult, error) {
	if paymentID == "" {
		return nil, model.NewError(model.KindInvalidInput, "payment id is required")
	}
	res := &CallbackResult{PaymentID: paymentID}

	if seen, err := s.dedup.Seen(ctx, paymentID); err != nil {
		s.log.WithError(err).Warn("callback dedup lookup failed")
	} else if seen {
		res.Duplicate = true
		return res, nil
	}

	st, err := s.gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, model.Internal(err, "gateway status")
	}
	res.Status = st.Status

	var order *model.Order
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		o, err := tx.GetOrderByPayment(ctx, paymentID)
		if err != nil {
			return notFoundAs(err, model.ErrOrderNotFound)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, engineError(err, "find order by payment")
	}
	res.OrderID = order.ID

	if st.Status != payment.StatusApproved {
		return res, nil
	}
	if st.Amount < order.Total {
		return nil, model.NewError(model.KindPaymentInvalid, "payment %s covers %d of %d", paymentID, st.Amount, order.Total)
	}

	method := order.PaymentMethod
	if order.AltPaymentID != nil && *order.AltPaymentID == paymentID {
		method = order.AltPaymentMethod
	}
	if method == model.PaymentNone {
		method = model.PaymentPix
	}
	if _, err := s.settle.ConfirmPayment(ctx, order.ID, method, Actor{Type: model.ActorGateway, ID: paymentID}); err != nil {
		return nil, err
	}
	res.Settled = true

	if err := s.dedup.MarkSeen(ctx, paymentID); err != nil {
		s.log.WithError(err).Warn("callback dedup store failed")
	}
	return res, nil
}
