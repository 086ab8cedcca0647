// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/Shivanand-hulikatti/event-admission/internal/service"
	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Idempotency remembers which order a registration request key produced.
type Idempotency interface {
	LookupRegistration(ctx context.Context, eventID, key string) (string, bool, error)
	RememberRegistration(ctx context.Context, eventID, key, orderID string) error
}

// Services are the engine entry points the API exposes.
type Services struct {
	Admission  *service.AdmissionService
	Batches    *service.BatchEngine
	Settlement *service.SettlementService
	Release    *service.ReleaseService
	Payments   *service.PaymentService
	Queries    *service.Queries
}

// AdmissionHandler holds all HTTP handlers for the admission API.
type AdmissionHandler struct {
	svc      Services
	idem     Idempotency
	validate *validator.Validate
	log      *logrus.Entry
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(svc Services, idem Idempotency, log *logrus.Entry) *AdmissionHandler {
	return &AdmissionHandler{svc: svc, idem: idem, validate: validator.New(), log: log}
}

// Mount registers every route on r.
func (h *AdmissionHandler) Mount(r chi.Router) {
	r.Get("/health", HealthCheck)

	r.Route("/events/{id}", func(r chi.Router) {
		r.Post("/registrations", h.Register)
		r.Get("/availability", h.Availability)
		r.Post("/batches/recalculate", h.Recalculate)
	})
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.GetOrder)
		r.Post("/confirm", h.ConfirmPayment)
		r.Post("/cancel", h.CancelOrder)
		r.Post("/charges/pix", h.CreatePixCharge)
		r.Post("/charges/card", h.CreateCardCharge)
	})
	r.Post("/payments/callback", h.PaymentCallback)
	r.Post("/jobs/expire-orders", h.ExpireOrders)
	r.Get("/audit/{entity}/{id}", h.History)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

// strictJSON rejects unknown fields in request bodies.
var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, kind model.Kind, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Kind: kind})
}

// statusFor maps an engine error class to an HTTP status.
func statusFor(class model.Class) int {
	switch class {
	case model.ClassCapacity, model.ClassDuplicate, model.ClassState:
		return http.StatusConflict
	case model.ClassConfiguration:
		return http.StatusUnprocessableEntity
	case model.ClassNotFound:
		return http.StatusNotFound
	case model.ClassInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *AdmissionHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		e = model.Internal(err, "unexpected error")
	}
	status := statusFor(e.Class())
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, status, e.Kind, "internal error")
		return
	}
	writeJSON(w, status, model.ErrorResponse{Error: e.Message, Kind: e.Kind, Retryable: e.Retryable()})
}

// decodeJSON reads and validates a request body. An empty body decodes to
// the zero value, which is still validated.
func (h *AdmissionHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return err
	}
	if len(body) > 0 {
		if err := strictJSON.Unmarshal(body, dst); err != nil {
			return err
		}
	}
	return h.validate.Struct(dst)
}

func (h *AdmissionHandler) badRequest(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		writeError(w, http.StatusBadRequest, model.KindInvalidInput, "invalid field "+ve[0].Field()+": "+ve[0].Tag())
		return
	}
	writeError(w, http.StatusBadRequest, model.KindInvalidInput, "invalid request body: "+err.Error())
}

// adminActor reads the operator identity set by the gateway in front of the
// admin routes.
func adminActor(r *http.Request) service.Actor {
	return service.Actor{Type: model.ActorAdmin, ID: r.Header.Get("X-Actor-ID")}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Register handles POST /events/{id}/registrations
// Runs one atomic admission. With an Idempotency-Key header a retried
// request returns the order the first attempt created.
func (h *AdmissionHandler) Register(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")

	var req model.RegisterRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		orderID, ok, err := h.idem.LookupRegistration(r.Context(), eventID, key)
		if err != nil {
			h.log.WithError(err).Warn("idempotency lookup failed")
		}
		if ok {
			view, err := h.svc.Queries.Order(r.Context(), orderID)
			if err == nil {
				writeJSON(w, http.StatusOK, view)
				return
			}
			h.log.WithError(err).WithField("order_id", orderID).Warn("idempotent replay failed")
		}
	}

	res, err := h.svc.Admission.Register(r.Context(), service.RegisterRequest{
		EventID:       eventID,
		CategoryID:    req.CategoryID,
		ParticipantID: req.ParticipantID,
		BuyerID:       req.BuyerID,
		Size:          req.Size,
		UnitPrice:     req.UnitPrice,
		Fee:           req.Fee,
		Free:          req.Free,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	if key != "" {
		if err := h.idem.RememberRegistration(r.Context(), eventID, key, res.Order.ID); err != nil {
			h.log.WithError(err).Warn("idempotency store failed")
		}
	}
	writeJSON(w, http.StatusCreated, res)
}

// Availability handles GET /events/{id}/availability
func (h *AdmissionHandler) Availability(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Batches.Availability(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Recalculate handles POST /events/{id}/batches/recalculate
func (h *AdmissionHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Batches.Recalculate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetOrder handles GET /orders/{id}
func (h *AdmissionHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Queries.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ConfirmPayment handles POST /orders/{id}/confirm
// Settles an order paid outside the gateway. Confirming a paid order again
// returns it unchanged.
func (h *AdmissionHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req model.ConfirmRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	if req.Method == model.PaymentNone {
		req.Method = model.PaymentManual
	}

	res, err := h.svc.Settlement.ConfirmPayment(r.Context(), chi.URLParam(r, "id"), req.Method, adminActor(r))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelOrder handles POST /orders/{id}/cancel
func (h *AdmissionHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req model.CancelRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	order, err := h.svc.Release.CancelOrder(r.Context(), chi.URLParam(r, "id"), adminActor(r), req.Reason)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CreatePixCharge handles POST /orders/{id}/charges/pix
func (h *AdmissionHandler) CreatePixCharge(w http.ResponseWriter, r *http.Request) {
	charge, err := h.svc.Payments.CreatePixCharge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, charge)
}

// CreateCardCharge handles POST /orders/{id}/charges/card
func (h *AdmissionHandler) CreateCardCharge(w http.ResponseWriter, r *http.Request) {
	var req model.CardChargeRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	charge, settled, err := h.svc.Payments.CreateCardCharge(r.Context(), chi.URLParam(r, "id"), req.TokenID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"charge": charge, "settlement": settled})
}

// PaymentCallback handles POST /payments/callback
// Always answers 200 for unapproved payments so the gateway stops retrying;
// settlement failures are reported with their engine status.
func (h *AdmissionHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentCallback
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	res, err := h.svc.Payments.HandleCallback(r.Context(), req.TransactionID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ExpireOrders handles POST /jobs/expire-orders
// Runs one expiration sweep on demand.
func (h *AdmissionHandler) ExpireOrders(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Release.ExpireOrders(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// History handles GET /audit/{entity}/{id}
func (h *AdmissionHandler) History(w http.ResponseWriter, r *http.Request) {
	entity := model.EntityType(chi.URLParam(r, "entity"))

	changes, err := h.svc.Queries.History(r.Context(), entity, chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if changes == nil {
		changes = []model.StatusChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
