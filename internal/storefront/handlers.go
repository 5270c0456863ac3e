package storefront

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/common"
)

// SessionHandler exposes sign-in and sign-out.
type SessionHandler struct {
	Svc *Service
}

// Routes mounts the session endpoints.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Post("/", h.SignIn)
	r.Delete("/", h.SignOut)
}

// Get reports the active cart mode.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session service not configured", nil)
		return
	}
	mode := h.Svc.Mode()
	common.Data(w, http.StatusOK, map[string]any{
		"authenticated": mode == ModeRemote,
		"mode":          mode,
	})
}

type signInRequest struct {
	Token string `json:"token"`
}

// SignIn stores the credential from the body or the Authorization header
// and merges the guest cart into the remote cart.
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session service not configured", nil)
		return
	}
	var payload signInRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
			return
		}
	}
	if payload.Token == "" {
		payload.Token = common.BearerToken(r)
	}
	c, err := h.Svc.SignIn(r.Context(), payload.Token)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if c.Items == nil {
		c.Items = []cart.LineItem{}
	}
	common.Data(w, http.StatusOK, map[string]any{
		"mode":      h.Svc.Mode(),
		"items":     c.Items,
		"itemCount": cart.Count(c),
	})
}

// SignOut drops the credential.
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "session service not configured", nil)
		return
	}
	h.Svc.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
