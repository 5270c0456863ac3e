package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/storage"
)

// DefaultKey is the storage slot holding the bearer credential.
const DefaultKey = "token"

// Reasons attached to change notifications.
const (
	ReasonSignIn  = "sign_in"
	ReasonSignOut = "sign_out"
	ReasonExpired = "expired"
	ReasonLoaded  = "loaded"
)

// Change describes a credential transition.
type Change struct {
	Authenticated bool
	Reason        string
}

// Listener is called synchronously after every credential change.
type Listener func(Change)

// State owns the bearer credential. Components that need the login status
// read it here or subscribe to changes instead of polling storage.
type State struct {
	KV        storage.KV
	Key       string
	ClockSkew time.Duration
	Logger    zerolog.Logger
	Bus       *events.Bus
	Now       func() time.Time

	mu     sync.RWMutex
	token  string
	subs   map[int]Listener
	nextID int
}

func (s *State) key() string {
	if s.Key == "" {
		return DefaultKey
	}
	return s.Key
}

func (s *State) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Load reads the persisted credential. A storage failure is logged and
// leaves the session signed out.
func (s *State) Load(ctx context.Context) {
	var token string
	if s.KV != nil {
		raw, err := s.KV.Get(ctx, s.key())
		switch {
		case err == nil:
			token = strings.TrimSpace(string(raw))
		case !errors.Is(err, storage.ErrNotFound):
			obs.ObservePersistenceFailure("session_load")
			s.Logger.Warn().Err(err).Msg("session_load_failed")
		}
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.notify(ctx, Change{Authenticated: token != "", Reason: ReasonLoaded}, false)
}

// Token returns the current credential, or an empty string.
func (s *State) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Authenticated reports whether a credential is held and, when it is a JWT
// carrying an expiry, that the expiry has not passed.
func (s *State) Authenticated(now time.Time) bool {
	token := s.Token()
	return token != "" && !Expired(token, now, s.ClockSkew)
}

// SignIn stores a new credential.
func (s *State) SignIn(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.Validation("token is required", map[string]string{"token": "required"})
	}
	if Expired(token, s.now(), s.ClockSkew) {
		return common.Auth("", errors.New("session: credential already expired"))
	}
	if s.KV != nil {
		if err := s.KV.Set(ctx, s.key(), []byte(token)); err != nil {
			obs.ObservePersistenceFailure("session_save")
			s.Logger.Warn().Err(err).Msg("session_save_failed")
		}
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.notify(ctx, Change{Authenticated: true, Reason: ReasonSignIn}, true)
	return nil
}

// SignOut removes the credential.
func (s *State) SignOut(ctx context.Context) {
	s.clear(ctx, ReasonSignOut)
}

// Discard removes a credential the remote side rejected.
func (s *State) Discard(ctx context.Context, reason string) {
	if reason == "" {
		reason = ReasonExpired
	}
	if s.Token() != "" {
		obs.ObserveSessionExpired()
	}
	s.clear(ctx, reason)
}

func (s *State) clear(ctx context.Context, reason string) {
	if s.KV != nil {
		if err := s.KV.Delete(ctx, s.key()); err != nil {
			obs.ObservePersistenceFailure("session_delete")
			s.Logger.Warn().Err(err).Msg("session_delete_failed")
		}
	}
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	s.notify(ctx, Change{Authenticated: false, Reason: reason}, true)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *State) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *State) notify(ctx context.Context, change Change, emit bool) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
	if !emit {
		return
	}
	topic := events.TopicSessionChanged
	if change.Reason == ReasonExpired {
		topic = events.TopicSessionExpired
	}
	if _, err := s.Bus.Emit(ctx, topic, "", map[string]any{
		"authenticated": change.Authenticated,
		"reason":        change.Reason,
	}); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("session_event_failed")
	}
}
