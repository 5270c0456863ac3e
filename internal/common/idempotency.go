package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-storefront/internal/obs"
)

// IdempotencyHeader carries a client generated key for one logical write.
const IdempotencyHeader = "Idempotency-Key"

// Idem rejects a replayed Idempotency-Key while the first request holding it
// is in flight or succeeded. It guards order submission against double
// clicks that reach different server processes. A key whose request failed
// is released so the client can retry with it.
type Idem struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (i Idem) key(header string) string {
	sum := sha256.Sum256([]byte(header))
	prefix := i.Prefix
	if prefix == "" {
		prefix = "idem:"
	}
	return prefix + hex.EncodeToString(sum[:])
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 10 * time.Minute
	}
	return i.TTL
}

// Middleware enforces idempotency semantics for write endpoints. Requests
// without the header pass through untouched.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := i.key(header)
		ok, err := i.R.SetNX(r.Context(), key, "locked", i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusServiceUnavailable, CodeServer, MsgServer, nil)
			return
		}
		if !ok {
			JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
			return
		}
		recorder := obs.NewStatusRecorder(w)
		defer func() {
			ctx := context.WithoutCancel(r.Context())
			if p := recover(); p != nil {
				_ = i.R.Del(ctx, key).Err()
				panic(p)
			}
			if recorder.Status() < 200 || recorder.Status() >= 300 {
				_ = i.R.Del(ctx, key).Err()
			}
		}()
		next.ServeHTTP(recorder, r)
	})
}
