package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/events"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CART_STORAGE", "file")
	t.Setenv("CART_STORAGE_DIR", t.TempDir())
	t.Setenv("REDIS_URL", "")
	t.Setenv("CARTCTL_LOG_LEVEL", "disabled")
}

func exec(t *testing.T, args ...string) (int, map[string]any, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	var out map[string]any
	if stdout.Len() > 0 && code == 0 {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	}
	return code, out, stderr.String()
}

func TestUsage(t *testing.T) {
	code, _, stderr := exec(t)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "usage: cartctl")

	setupEnv(t)
	code, _, stderr = exec(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = exec(t, "qty", "-delta", "1")
	require.Equal(t, 2, code)
}

func TestGuestCartPersistsAcrossRuns(t *testing.T) {
	setupEnv(t)

	code, out, _ := exec(t, "add", "-product", "p1", "-title", "Jacket", "-price", "120.50", "-qty", "2")
	require.Equal(t, 0, code)
	require.EqualValues(t, 2, out["itemCount"])

	code, out, _ = exec(t, "qty", "-product", "p1", "-delta", "1")
	require.Equal(t, 0, code)
	require.EqualValues(t, 3, out["itemCount"])

	code, out, _ = exec(t, "summary")
	require.Equal(t, 0, code)
	require.Equal(t, "361.5", out["subtotal"])
	require.Equal(t, "50", out["shippingFee"])

	code, out, _ = exec(t, "rm", "-product", "p1")
	require.Equal(t, 0, code)
	require.EqualValues(t, 0, out["itemCount"])

	code, out, _ = exec(t, "show")
	require.Equal(t, 0, code)
	require.Empty(t, out["items"])
}

func TestCheckoutRequiresSignIn(t *testing.T) {
	setupEnv(t)
	code, _, stderr := exec(t, "checkout", "-details", "5 Tahrir Sq", "-city", "Cairo", "-phone", "01012345678")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "AUTH")
}

func TestBadPrice(t *testing.T) {
	setupEnv(t)
	code, _, stderr := exec(t, "add", "-product", "p1", "-price", "-3")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "-price")
}

func TestEventsNeedsRedis(t *testing.T) {
	setupEnv(t)
	code, _, stderr := exec(t, "events")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "REDIS_URL")
}

func TestEventsListsJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	setupEnv(t)
	t.Setenv("CART_STORAGE", "redis")
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	journal := events.RedisJournal{Client: client, Key: "storefront:events"}
	require.NoError(t, journal.Append(context.Background(), events.Event{ID: uuid.New(), Topic: events.TopicOrderPlaced, Payload: []byte(`{}`)}))

	code, out, _ := exec(t, "events", "-n", "5")
	require.Equal(t, 0, code)
	list := out["events"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, events.TopicOrderPlaced, list[0].(map[string]any)["topic"])
}
