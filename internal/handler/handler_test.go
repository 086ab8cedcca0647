package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-admission/internal/logging"
	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/payment"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository"
	"github.com/Shivanand-hulikatti/event-admission/internal/repository/repotest"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type profiles map[string]model.Participant

func (p profiles) Participant(_ context.Context, id string) (*model.Participant, error) {
	v, ok := p[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

type memIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdem) LookupRegistration(_ context.Context, eventID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[eventID+"/"+key]
	return v, ok, nil
}

func (m *memIdem) RememberRegistration(_ context.Context, eventID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[eventID+"/"+key]; !ok {
		m.keys[eventID+"/"+key] = orderID
	}
	return nil
}

type stubGateway struct {
	status payment.PaymentStatus
}

func (g *stubGateway) CreatePixCharge(_ context.Context, req payment.PixRequest) (*payment.Charge, error) {
	return &payment.Charge{ID: "pix-" + req.OrderID, Status: payment.StatusPending, Amount: req.Amount, QRCode: "qr"}, nil
}

func (g *stubGateway) CreateCardCharge(_ context.Context, req payment.CardRequest) (*payment.Charge, error) {
	return &payment.Charge{ID: "card-" + req.OrderID, Status: payment.StatusApproved, Amount: req.Amount}, nil
}

func (g *stubGateway) GetPaymentStatus(context.Context, string) (*payment.PaymentStatus, error) {
	st := g.status
	return &st, nil
}

type noDedup struct{}

func (noDedup) Seen(context.Context, string) (bool, error) { return false, nil }

func (noDedup) MarkSeen(context.Context, string) error { return nil }

type testServer struct {
	store   *repotest.Store
	gateway *stubGateway
	router  chi.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repotest.New()
	clock := func() time.Time { return now }
	store.Now = clock

	store.PutEvent(model.Event{ID: "ev", Name: "City Run", Capacity: 10, Status: model.EventPublished})
	store.PutCategory(model.Category{ID: "5k", EventID: "ev", Name: "5K", AccessType: model.AccessPaid})
	store.PutCategory(model.Category{ID: "10k", EventID: "ev", Name: "10K", AccessType: model.AccessPaid})
	store.PutBatch(model.Batch{ID: "b1", EventID: "ev", Name: "First", Position: 1, StartsAt: now.AddDate(0, 0, -7), Status: model.BatchActive})
	store.PutPrice("5k", "b1", 100)

	people := profiles{
		"p1": {ID: "p1", Name: "Ana"},
		"p2": {ID: "p2", Name: "Bia"},
	}
	log := logging.Discard()
	batches := service.NewBatchEngine(store, time.UTC, clock, log)
	settlement := service.NewSettlementService(store, clock, log)
	release := service.NewReleaseService(store, batches, 50, clock, log)
	gw := &stubGateway{}

	h := NewAdmissionHandler(Services{
		Admission:  service.NewAdmissionService(store, batches, people, 5, 30*time.Minute, clock, log),
		Batches:    batches,
		Settlement: settlement,
		Release:    release,
		Payments:   service.NewPaymentService(store, gw, settlement, noDedup{}, time.Hour, clock, log),
		Queries:    service.NewQueries(store),
	}, &memIdem{keys: map[string]string{}}, log)

	r := chi.NewRouter()
	h.Mount(r)
	return &testServer{store: store, gateway: gw, router: r}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type registerResponse struct {
	Order        model.Order        `json:"order"`
	Registration model.Registration `json:"registration"`
	BatchID      string             `json:"batch_id"`
	Confirmed    bool               `json:"confirmed"`
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRegisterEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1","payment_method":"pix"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[registerResponse](t, rec)
	assert.Equal(t, "b1", res.BatchID)
	assert.Equal(t, int64(100), res.Order.Total)
	assert.Equal(t, model.OrderPending, res.Order.Status)
	assert.Equal(t, "Ana", res.Registration.Participant.Name)
	assert.Equal(t, 1, s.store.Event("ev").Occupied)
}

func TestRegisterEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		kind   model.Kind
	}{
		{"missing participant", "/events/ev/registrations", `{"category_id":"5k"}`, http.StatusBadRequest, model.KindInvalidInput},
		{"unknown field", "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1","coupon":"X"}`, http.StatusBadRequest, model.KindInvalidInput},
		{"bad payment method", "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1","payment_method":"cash"}`, http.StatusBadRequest, model.KindInvalidInput},
		{"unknown event", "/events/nope/registrations", `{"category_id":"5k","participant_id":"p1"}`, http.StatusNotFound, model.KindEventNotFound},
		{"unknown participant", "/events/ev/registrations", `{"category_id":"5k","participant_id":"ghost"}`, http.StatusNotFound, model.KindParticipantNotFound},
		{"no price", "/events/ev/registrations", `{"category_id":"10k","participant_id":"p1"}`, http.StatusUnprocessableEntity, model.KindNoValidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[model.ErrorResponse](t, rec).Kind)
			assert.Empty(t, s.store.Orders())
		})
	}
}

func TestRegisterEndpointDuplicate(t *testing.T) {
	s := newTestServer(t)
	body := `{"category_id":"5k","participant_id":"p1"}`

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/events/ev/registrations", body).Code)

	rec := s.do(t, http.MethodPost, "/events/ev/registrations", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.KindAlreadyRegistered, decode[model.ErrorResponse](t, rec).Kind)
}

func TestRegisterEndpointReplaysIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	body := `{"category_id":"5k","participant_id":"p1"}`

	first := s.do(t, http.MethodPost, "/events/ev/registrations", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	created := decode[registerResponse](t, first)

	again := s.do(t, http.MethodPost, "/events/ev/registrations", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	replayed := decode[service.OrderView](t, again)

	assert.Equal(t, created.Order.ID, replayed.Order.ID)
	assert.Len(t, s.store.Orders(), 1)
}

func TestAvailabilityEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/events/ev/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[service.AvailabilityView](t, rec)
	assert.Equal(t, "b1", view.ActiveBatchID)
	assert.Equal(t, 10, view.Remaining)
	assert.Len(t, view.Categories, 2)
}

func TestRecalculateEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/events/ev/batches/recalculate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ev", decode[service.RecalcSummary](t, rec).EventID)

	rec = s.do(t, http.MethodPost, "/events/nope/batches/recalculate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmCancelAndAuditEndpoints(t *testing.T) {
	s := newTestServer(t)
	created := decode[registerResponse](t, s.do(t, http.MethodPost, "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1"}`))
	orderPath := "/orders/" + created.Order.ID

	rec := s.do(t, http.MethodPost, orderPath+"/confirm", "", "X-Actor-ID", "ops-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decode[service.SettlementResult](t, rec)
	assert.Equal(t, model.OrderPaid, settled.Order.Status)
	assert.Equal(t, model.PaymentManual, settled.Order.PaymentMethod)

	rec = s.do(t, http.MethodPost, orderPath+"/cancel", `{"reason":"refund"}`, "X-Actor-ID", "ops-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, s.store.Event("ev").Occupied)

	rec = s.do(t, http.MethodPost, orderPath+"/confirm", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.KindOrderCancelled, decode[model.ErrorResponse](t, rec).Kind)

	rec = s.do(t, http.MethodGet, "/audit/order/"+created.Order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]model.StatusChange](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, []string{"pending", "paid", "cancelled"},
		[]string{history[0].NewStatus, history[1].NewStatus, history[2].NewStatus})
	assert.Equal(t, "ops-1", history[2].ActorID)

	rec = s.do(t, http.MethodGet, "/audit/ticket/x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/audit/event/nothing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetOrderEndpoint(t *testing.T) {
	s := newTestServer(t)
	created := decode[registerResponse](t, s.do(t, http.MethodPost, "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1"}`))

	rec := s.do(t, http.MethodGet, "/orders/"+created.Order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[service.OrderView](t, rec)
	assert.Len(t, view.Registrations, 1)

	rec = s.do(t, http.MethodGet, "/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentEndpoints(t *testing.T) {
	s := newTestServer(t)
	created := decode[registerResponse](t, s.do(t, http.MethodPost, "/events/ev/registrations", `{"category_id":"5k","participant_id":"p1"}`))
	orderPath := "/orders/" + created.Order.ID

	rec := s.do(t, http.MethodPost, orderPath+"/charges/pix", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	charge := decode[payment.Charge](t, rec)
	assert.Equal(t, "qr", charge.QRCode)

	s.gateway.status = payment.PaymentStatus{Status: payment.StatusApproved, Amount: 100}
	rec = s.do(t, http.MethodPost, "/payments/callback", `{"transaction_id":"`+charge.ID+`","transaction_status":"settlement"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[service.CallbackResult](t, rec)
	assert.True(t, out.Settled)
	assert.Equal(t, model.OrderPaid, s.store.Order(created.Order.ID).Status)

	rec = s.do(t, http.MethodPost, "/payments/callback", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, orderPath+"/charges/card", `{"token_id":"tok"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "paid orders take no new charges")
}

func TestExpireOrdersEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.store.PutOrder(model.Order{ID: "late", EventID: "ev", Total: 100, Status: model.OrderPending, ExpiresAt: ptr(now.Add(-time.Minute))})

	rec := s.do(t, http.MethodPost, "/jobs/expire-orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[service.ExpireSummary](t, rec)
	assert.Equal(t, 1, sum.Released)
	assert.Equal(t, model.OrderExpired, s.store.Order("late").Status)
}

func ptr[T any](v T) *T { return &v }
