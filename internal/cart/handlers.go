package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/pricing"
)

// Service is the cart surface the handlers drive.
type Service interface {
	GetCart(ctx context.Context) (Cart, error)
	AddItem(ctx context.Context, item LineItem, qty int) (Cart, error)
	UpdateQuantity(ctx context.Context, key Key, delta int) (Cart, error)
	RemoveItem(ctx context.Context, key Key) (Cart, error)
	GetSummary(ctx context.Context, rule pricing.Rule) (pricing.Summary, error)
}

// Handler wires the cart service to HTTP.
type Handler struct {
	Svc         Service
	Rules       map[string]pricing.Rule
	DefaultRule string
}

// Routes mounts the cart endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Get("/summary", h.Summary)
	r.Post("/items", h.AddItem)
	r.Patch("/items/{productId}", h.UpdateItem)
	r.Delete("/items/{productId}", h.RemoveItem)
}

// Get returns the active cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	c, err := h.Svc.GetCart(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

type addItemRequest struct {
	ProductID          string           `json:"productId"`
	Title              string           `json:"title"`
	Price              decimal.Decimal  `json:"price"`
	PriceAfterDiscount *decimal.Decimal `json:"priceAfterDiscount"`
	Quantity           int              `json:"quantity"`
	Color              string           `json:"color"`
	Size               string           `json:"size"`
	Brand              string           `json:"brand"`
	ImageCover         string           `json:"imageCover"`
}

// AddItem adds or increments a cart line item.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(payload.ProductID) == "" {
		fields["productId"] = "productId is required"
	}
	if payload.Price.IsNegative() {
		fields["price"] = "price must not be negative"
	}
	if len(fields) > 0 {
		common.WriteError(w, common.Validation("invalid cart item", fields))
		return
	}
	item := LineItem{
		ProductID:          strings.TrimSpace(payload.ProductID),
		Title:              payload.Title,
		Price:              payload.Price,
		PriceAfterDiscount: payload.PriceAfterDiscount,
		Color:              payload.Color,
		Size:               payload.Size,
		Brand:              payload.Brand,
		ImageCover:         payload.ImageCover,
	}
	c, err := h.Svc.AddItem(r.Context(), item, payload.Quantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// UpdateItem applies a quantity delta to a cart line item.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	var payload struct {
		Delta int    `json:"delta"`
		Color string `json:"color"`
		Size  string `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	key := Key{ProductID: strings.TrimSpace(chi.URLParam(r, "productId")), Color: payload.Color, Size: payload.Size}
	c, err := h.Svc.UpdateQuantity(r.Context(), key, payload.Delta)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// RemoveItem deletes a cart line item. Variant attributes come from the query string.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	q := r.URL.Query()
	key := Key{ProductID: strings.TrimSpace(chi.URLParam(r, "productId")), Color: q.Get("color"), Size: q.Get("size")}
	c, err := h.Svc.RemoveItem(r.Context(), key)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// Summary prices the active cart under the named shipping rule.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return
	}
	name := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("rule")))
	if name == "" {
		name = h.DefaultRule
	}
	rule, ok := h.Rules[name]
	if !ok {
		common.WriteError(w, common.Validation("unknown pricing rule", map[string]string{"rule": "must be one of cart, checkout"}))
		return
	}
	summary, err := h.Svc.GetSummary(r.Context(), rule)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{
		"rule":    name,
		"summary": summary,
	})
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, c Cart) {
	if c.Items == nil {
		c.Items = []LineItem{}
	}
	common.Data(w, status, map[string]any{
		"items":     c.Items,
		"itemCount": Count(c),
	})
}
