package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/storage"
)

// DefaultKey is the storage slot holding the device cart.
const DefaultKey = "cart"

// ErrNotLoaded is returned by Save when the store has not completed a Load.
var ErrNotLoaded = errors.New("cart: save before load")

// Locker serialises load-modify-save cycles across processes.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// LocalStore persists the device cart in a key-value slot.
type LocalStore struct {
	KV      storage.KV
	Key     string
	Locker  Locker
	LockKey string
	LockTTL time.Duration
	Logger  zerolog.Logger

	mu     sync.Mutex
	loaded bool
}

func (s *LocalStore) key() string {
	if s.Key == "" {
		return DefaultKey
	}
	return s.Key
}

// Load reads the persisted cart. A missing, unreadable or corrupt value
// yields an empty cart; failures are logged and never returned.
func (s *LocalStore) Load(ctx context.Context) Cart {
	c := s.read(ctx)
	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()
	return c
}

func (s *LocalStore) read(ctx context.Context) Cart {
	if s.KV == nil {
		return Empty()
	}
	raw, err := s.KV.Get(ctx, s.key())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.persistenceFailure("load", err)
		}
		return Empty()
	}
	c, err := Decode(raw)
	if err != nil {
		s.persistenceFailure("decode", err)
		return Empty()
	}
	return c
}

// Save writes the full cart. It refuses to run before Load so an unread
// prior state is never overwritten with an empty one.
func (s *LocalStore) Save(ctx context.Context, c Cart) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}
	return s.write(ctx, c)
}

func (s *LocalStore) write(ctx context.Context, c Cart) error {
	if s.KV == nil {
		return common.Persistence(errors.New("cart: storage not configured"))
	}
	data, err := Encode(c)
	if err != nil {
		s.persistenceFailure("encode", err)
		return common.Persistence(err)
	}
	if err := s.KV.Set(ctx, s.key(), data); err != nil {
		s.persistenceFailure("save", err)
		return common.Persistence(fmt.Errorf("cart: save: %w", err))
	}
	return nil
}

// Mutate loads the current cart, applies fn and saves the result. Calls are
// serialised within the process, and across processes when a Locker is set,
// so every write observes the most recent load. The new cart is returned
// even when saving fails.
func (s *LocalStore) Mutate(ctx context.Context, fn func(Cart) Cart) (Cart, error) {
	var (
		result  Cart
		saveErr error
	)
	run := func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		current := s.read(ctx)
		s.loaded = true
		result = fn(current)
		saveErr = s.write(ctx, result)
		return nil
	}
	if s.Locker == nil {
		_ = run(ctx)
		return result, saveErr
	}
	lockKey := s.LockKey
	if lockKey == "" {
		lockKey = s.key() + ":lock"
	}
	if err := s.Locker.WithLock(ctx, lockKey, s.LockTTL, run); err != nil {
		s.persistenceFailure("lock", err)
		return s.Load(ctx), common.Persistence(fmt.Errorf("cart: lock: %w", err))
	}
	return result, saveErr
}

// Add folds item into the stored cart.
func (s *LocalStore) Add(ctx context.Context, item LineItem, qty int) (Cart, error) {
	return s.Mutate(ctx, func(c Cart) Cart { return Add(c, item, qty) })
}

// UpdateQuantity applies delta to the stored item, clamped at 1.
func (s *LocalStore) UpdateQuantity(ctx context.Context, key Key, delta int) (Cart, error) {
	return s.Mutate(ctx, func(c Cart) Cart { return SetQuantity(c, key, delta) })
}

// Remove drops the stored item.
func (s *LocalStore) Remove(ctx context.Context, key Key) (Cart, error) {
	return s.Mutate(ctx, func(c Cart) Cart { return Remove(c, key) })
}

// Clear empties the stored cart.
func (s *LocalStore) Clear(ctx context.Context) error {
	_, err := s.Mutate(ctx, func(Cart) Cart { return Empty() })
	return err
}

func (s *LocalStore) persistenceFailure(op string, err error) {
	obs.ObservePersistenceFailure(op)
	s.Logger.Warn().Err(err).Str("op", op).Str("key", s.key()).Msg("cart_persistence_failed")
}
