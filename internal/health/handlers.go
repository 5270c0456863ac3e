package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-storefront/internal/common"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady toggles readiness. The server flips it off when shutdown starts
// so load balancers stop routing before connections drain.
func SetReady(v bool) {
	ready.Store(v)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingStorage(ctx context.Context, timeout time.Duration) error
	RemoteState() string
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	StorageTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. An open breaker on
// the commerce API is reported but does not fail readiness: the device
// cart keeps working while the remote side recovers.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	storageStatus := "ok"
	if err := h.Checker.PingStorage(r.Context(), h.storageTimeout()); err != nil {
		storageStatus = err.Error()
	}
	status := map[string]string{
		"storage":  storageStatus,
		"commerce": h.Checker.RemoteState(),
	}
	code := http.StatusOK
	if storageStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) storageTimeout() time.Duration {
	if h.StorageTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.StorageTimeout
}
