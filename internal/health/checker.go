package health

import (
	"context"
	"time"

	"github.com/noah-isme/toko-storefront/internal/resilience"
	"github.com/noah-isme/toko-storefront/internal/storage"
)

// Deps probes the storefront's own dependencies.
type Deps struct {
	Storage storage.KV
	Breaker *resilience.Breaker
}

// PingStorage checks the cart storage backend.
func (d Deps) PingStorage(ctx context.Context, timeout time.Duration) error {
	if d.Storage == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Storage.Ping(ctx)
}

// RemoteState returns the commerce API breaker state.
func (d Deps) RemoteState() string {
	if d.Breaker == nil {
		return resilience.Closed.String()
	}
	return d.Breaker.State().String()
}
