package checkout

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
)

// Service is the checkout surface the handlers drive.
type Service interface {
	EnterCheckout(ctx context.Context) (View, error)
	SubmitCheckout(ctx context.Context, addr commerce.ShippingAddress, method commerce.PaymentMethod) (commerce.OrderResult, error)
	CheckoutView(ctx context.Context) View
	LeaveCheckout(ctx context.Context)
}

// Handler wires checkout to HTTP.
type Handler struct {
	Svc Service
	// SubmitMiddleware wraps the submit route, e.g. with a rate limiter.
	SubmitMiddleware []func(http.Handler) http.Handler
}

// Routes mounts the checkout endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Enter)
	r.Get("/", h.Get)
	r.Delete("/", h.Leave)
	r.With(h.SubmitMiddleware...).Post("/submit", h.Submit)
}

// Enter starts a checkout session by loading the remote cart.
func (h *Handler) Enter(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	view, err := h.Svc.EnterCheckout(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Get returns the current checkout session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	common.Data(w, http.StatusOK, h.Svc.CheckoutView(r.Context()))
}

// Leave abandons the checkout session.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	h.Svc.LeaveCheckout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	ShippingAddress commerce.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   commerce.PaymentMethod   `json:"paymentMethod"`
}

// Submit places the order. Card orders answer with the hosted payment URL
// the client must navigate to; cash orders answer with the order id.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload submitRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Svc.SubmitCheckout(r.Context(), payload.ShippingAddress, payload.PaymentMethod)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Method == commerce.PaymentCard {
		status = http.StatusOK
	}
	common.Data(w, status, map[string]any{
		"order":    result,
		"checkout": h.Svc.CheckoutView(r.Context()),
	})
}
