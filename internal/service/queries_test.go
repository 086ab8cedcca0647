package service

import (
	"testing"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueriesOrder(t *testing.T) {
	f := newFixture(t)
	f.paidEvent("ev", 10)
	res := f.mustRegister("ev", "5k", "p1")

	view, err := f.queries.Order(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, view.Order.ID)
	require.Len(t, view.Registrations, 1)
	assert.Equal(t, res.Registration.ID, view.Registrations[0].ID)

	_, err = f.queries.Order(f.ctx, "missing")
	requireKind(t, err, model.KindOrderNotFound)
}

func TestQueriesHistory(t *testing.T) {
	f := newFixture(t)
	f.paidEvent("ev", 10)
	res := f.mustRegister("ev", "5k", "p1")
	_, err := f.settlement.ConfirmPayment(f.ctx, res.Order.ID, model.PaymentPix, Actor{})
	require.NoError(t, err)

	history, err := f.queries.History(f.ctx, model.EntityOrder, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "pending", history[0].NewStatus)
	assert.Equal(t, "paid", history[1].NewStatus)
	assert.Less(t, history[0].ID, history[1].ID)

	_, err = f.queries.History(f.ctx, "ticket", "x")
	requireKind(t, err, model.KindInvalidInput)
}
