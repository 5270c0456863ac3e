package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/app"
	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/config"
	"github.com/noah-isme/toko-storefront/internal/storage"
	"github.com/noah-isme/toko-storefront/internal/storefront"
)

func TestBuildWithMemoryStorage(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{"CART_STORAGE": "memory"})
	require.NoError(t, err)

	deps, err := app.Build(context.Background(), cfg, app.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.Nil(t, deps.Redis)
	require.IsType(t, &storage.MemoryKV{}, deps.KV)
	require.Nil(t, deps.Local.Locker)
	require.NotNil(t, deps.Limiter)
	require.Equal(t, "500", deps.Rules[app.RuleCart].Threshold.String())
	require.Equal(t, "1000", deps.Rules[app.RuleCheckout].Threshold.String())
	require.False(t, deps.Rules[app.RuleCart].WaiveWhenEmpty)
	require.True(t, deps.Rules[app.RuleCheckout].WaiveWhenEmpty)
	require.Equal(t, storefront.ModeLocal, deps.Storefront.Mode())

	c, err := deps.Storefront.AddItem(context.Background(), cart.LineItem{ProductID: "p1", Price: decimal.NewFromInt(10)}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, cart.Count(c))
}

func TestBuildWithRedisStorage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	var (
		hits int
		auth string
	)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"_id":"c1","cartItems":[]}}`))
	}))
	t.Cleanup(api.Close)

	cfg, err := config.LoadForTests(map[string]string{
		"CART_STORAGE":          "redis",
		"REDIS_URL":             "redis://" + mr.Addr(),
		"COMMERCE_API_BASE_URL": api.URL,
	})
	require.NoError(t, err)

	deps, err := app.Build(context.Background(), cfg, app.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.Local.Locker)
	require.Equal(t, "storefront:cart:lock", deps.Local.LockKey)
	require.NotNil(t, deps.Bus.Store)

	_, err = deps.Storefront.AddItem(context.Background(), cart.LineItem{ProductID: "p1", Price: decimal.NewFromInt(10)}, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists("storefront:cart"))

	_, err = deps.Storefront.SignIn(context.Background(), "tok")
	require.NoError(t, err)
	require.True(t, mr.Exists("storefront:token"))
	require.True(t, mr.Exists("storefront:events"))
	require.Positive(t, hits)
	require.Equal(t, "Bearer tok", auth)
}

func TestBuildRejectsUnreachableRedis(t *testing.T) {
	cfg := &config.Config{CartStorage: config.StorageRedis, RedisURL: "redis://127.0.0.1:1"}
	_, err := app.Build(context.Background(), cfg, app.Options{})
	require.Error(t, err)
}
