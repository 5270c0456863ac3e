package storefront

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/checkout"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/pricing"
	"github.com/noah-isme/toko-storefront/internal/session"
)

// Mode names the cart backing the facade currently uses.
type Mode string

const (
	// ModeLocal keeps a guest cart on the device.
	ModeLocal Mode = "local"
	// ModeRemote uses the signed-in user's cart on the commerce API.
	ModeRemote Mode = "remote"
)

// Remote is the commerce API surface used by the facade.
type Remote interface {
	checkout.Remote
	AddItem(ctx context.Context, token, productID string) (cart.Cart, error)
	UpdateItem(ctx context.Context, token, productID string, count int) (cart.Cart, error)
	RemoveItem(ctx context.Context, token, productID string) (cart.Cart, error)
}

var (
	_ Remote           = (*commerce.Client)(nil)
	_ cart.Service     = (*Service)(nil)
	_ checkout.Service = (*Service)(nil)
)

// Config groups the collaborators of a Service.
type Config struct {
	Local    *cart.LocalStore
	Remote   Remote
	Session  *session.State
	Checkout *checkout.Orchestrator
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Service is the single entry point the presentation layer calls. It routes
// cart operations to the device cart for guests and to the remote cart once
// a credential is held.
type Service struct {
	local    *cart.LocalStore
	remote   Remote
	session  *session.State
	checkout *checkout.Orchestrator
	logger   zerolog.Logger
	now      func() time.Time

	unsubscribe func()
}

// NewService constructs a Service. The device cart is loaded once here so
// later writes never overwrite an unread prior state.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Local == nil {
		return nil, errors.New("storefront: local store is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("storefront: remote client is required")
	}
	if cfg.Session == nil {
		return nil, errors.New("storefront: session is required")
	}
	if cfg.Checkout == nil {
		return nil, errors.New("storefront: checkout orchestrator is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Service{
		local:    cfg.Local,
		remote:   cfg.Remote,
		session:  cfg.Session,
		checkout: cfg.Checkout,
		logger:   cfg.Logger,
		now:      now,
	}
	s.local.Load(ctx)
	// An expired credential is handled by the orchestrator itself so its
	// AUTH error stays visible; an explicit sign-out abandons checkout.
	s.unsubscribe = s.session.Subscribe(func(change session.Change) {
		if change.Reason == session.ReasonSignOut {
			s.checkout.Reset()
		}
	})
	return s, nil
}

// Close detaches the service from session notifications.
func (s *Service) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Mode reports which cart backs the next call.
func (s *Service) Mode() Mode {
	if s.session.Token() != "" {
		return ModeRemote
	}
	return ModeLocal
}

// token returns the credential for a remote call. A JWT whose expiry has
// passed is discarded here and reported as AUTH without a network call.
func (s *Service) token(ctx context.Context) (string, error) {
	token := s.session.Token()
	if token == "" {
		obs.AnnotateCartMode(ctx, string(ModeLocal))
		return "", nil
	}
	obs.AnnotateCartMode(ctx, string(ModeRemote))
	if !s.session.Authenticated(s.now()) {
		s.session.Discard(ctx, session.ReasonExpired)
		return "", common.Auth("", errors.New("storefront: credential expired"))
	}
	return token, nil
}

// GetCart returns the active cart.
func (s *Service) GetCart(ctx context.Context) (cart.Cart, error) {
	token, err := s.token(ctx)
	if err != nil {
		return cart.Empty(), err
	}
	if token == "" {
		return s.local.Load(ctx), nil
	}
	c, err := s.remote.FetchCart(ctx, token)
	return s.remoteResult(ctx, "get", c, err)
}

// AddItem adds qty units of item. Quantities below 1 add a single unit.
func (s *Service) AddItem(ctx context.Context, item cart.LineItem, qty int) (cart.Cart, error) {
	if item.ProductID == "" {
		return cart.Empty(), common.Validation("productId is required", map[string]string{"productId": "required"})
	}
	if qty < 1 {
		qty = 1
	}
	token, err := s.token(ctx)
	if err != nil {
		return cart.Empty(), err
	}
	if token == "" {
		c, err := s.local.Add(ctx, item, qty)
		s.observeLocal("add", err)
		return c, s.localErr(err)
	}
	c, err := s.remote.AddItem(ctx, token, item.ProductID)
	if err == nil && qty > 1 {
		// The remote API adds one unit per call; top up to the requested count.
		current := remoteQuantity(c, item.ProductID)
		c, err = s.remote.UpdateItem(ctx, token, item.ProductID, current+qty-1)
	}
	return s.remoteResult(ctx, "add", c, err)
}

// UpdateQuantity applies delta to the matching line, clamped at 1. A key
// with no matching line leaves the cart unchanged.
func (s *Service) UpdateQuantity(ctx context.Context, key cart.Key, delta int) (cart.Cart, error) {
	token, err := s.token(ctx)
	if err != nil {
		return cart.Empty(), err
	}
	if token == "" {
		c, err := s.local.UpdateQuantity(ctx, key, delta)
		s.observeLocal("update", err)
		return c, s.localErr(err)
	}
	current, err := s.remote.FetchCart(ctx, token)
	if err != nil {
		return s.remoteResult(ctx, "update", current, err)
	}
	qty := remoteQuantity(current, key.ProductID)
	if qty == 0 {
		obs.ObserveCartMutation(string(ModeRemote), "update", "noop")
		return current, nil
	}
	target := qty + delta
	if target < 1 {
		target = 1
	}
	if target == qty {
		obs.ObserveCartMutation(string(ModeRemote), "update", "noop")
		return current, nil
	}
	c, err := s.remote.UpdateItem(ctx, token, key.ProductID, target)
	return s.remoteResult(ctx, "update", c, err)
}

// RemoveItem drops the matching line. Removing a missing line is a no-op.
func (s *Service) RemoveItem(ctx context.Context, key cart.Key) (cart.Cart, error) {
	token, err := s.token(ctx)
	if err != nil {
		return cart.Empty(), err
	}
	if token == "" {
		c, err := s.local.Remove(ctx, key)
		s.observeLocal("remove", err)
		return c, s.localErr(err)
	}
	c, err := s.remote.RemoveItem(ctx, token, key.ProductID)
	return s.remoteResult(ctx, "remove", c, err)
}

// GetSummary prices the active cart with rule.
func (s *Service) GetSummary(ctx context.Context, rule pricing.Rule) (pricing.Summary, error) {
	c, err := s.GetCart(ctx)
	return c.Summary(rule), err
}

// EnterCheckout loads the remote cart into the checkout session. It is
// refused while a submission is in flight.
func (s *Service) EnterCheckout(ctx context.Context) (checkout.View, error) {
	if _, err := s.token(ctx); err != nil {
		return s.checkout.View(), err
	}
	return s.checkout.Load(ctx)
}

// SubmitCheckout places the order for the loaded checkout session.
func (s *Service) SubmitCheckout(ctx context.Context, addr commerce.ShippingAddress, method commerce.PaymentMethod) (commerce.OrderResult, error) {
	return s.checkout.Submit(ctx, addr, method)
}

// CheckoutView returns the checkout session snapshot.
func (s *Service) CheckoutView(context.Context) checkout.View {
	return s.checkout.View()
}

// LeaveCheckout abandons the checkout session.
func (s *Service) LeaveCheckout(context.Context) {
	s.checkout.Reset()
}

// SignIn stores the credential and moves the guest cart into the remote
// cart. The device cart is cleared only when every line was pushed; lines
// already present remotely keep the larger quantity.
func (s *Service) SignIn(ctx context.Context, token string) (cart.Cart, error) {
	if err := s.session.SignIn(ctx, token); err != nil {
		return cart.Empty(), err
	}
	guest := s.local.Load(ctx)
	token = s.session.Token()

	remote, err := s.remote.FetchCart(ctx, token)
	if err != nil && !common.IsCode(err, common.CodeNotFound) {
		return s.remoteResult(ctx, "merge", remote, err)
	}
	if guest.IsEmpty() {
		return remote, nil
	}

	var failed int
	for _, qty := range guestQuantities(guest) {
		have := remoteQuantity(remote, qty.productID)
		want := qty.count
		if have >= want {
			continue
		}
		next, pushErr := s.pushLine(ctx, token, qty.productID, have, want)
		if pushErr != nil {
			if common.IsCode(pushErr, common.CodeAuth) {
				return s.remoteResult(ctx, "merge", next, pushErr)
			}
			failed++
			s.logger.Warn().Err(pushErr).Str("product_id", qty.productID).Msg("cart_merge_push_failed")
			continue
		}
		remote = next
	}
	if failed > 0 {
		obs.ObserveCartMutation(string(ModeRemote), "merge", "partial")
		return remote, nil
	}
	if err := s.local.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("cart_merge_clear_failed")
	}
	obs.ObserveCartMutation(string(ModeRemote), "merge", "ok")
	s.logger.Info().Int("lines", guest.Len()).Msg("guest_cart_merged")
	return remote, nil
}

// SignOut drops the credential. The device cart becomes active again.
func (s *Service) SignOut(ctx context.Context) {
	s.session.SignOut(ctx)
}

func (s *Service) pushLine(ctx context.Context, token, productID string, have, want int) (cart.Cart, error) {
	if have == 0 {
		c, err := s.remote.AddItem(ctx, token, productID)
		if err != nil || want <= 1 {
			return c, err
		}
		have = remoteQuantity(c, productID)
		if have >= want {
			return c, nil
		}
	}
	return s.remote.UpdateItem(ctx, token, productID, want)
}

// remoteResult maps a remote outcome onto the facade contract. AUTH
// discards the credential and yields an empty cart; a missing remote cart
// is an empty cart.
func (s *Service) remoteResult(ctx context.Context, op string, c cart.Cart, err error) (cart.Cart, error) {
	if err == nil {
		obs.ObserveCartMutation(string(ModeRemote), op, "ok")
		return c, nil
	}
	code := common.CodeOf(err)
	switch code {
	case common.CodeNotFound:
		obs.ObserveCartMutation(string(ModeRemote), op, "ok")
		return cart.Empty(), nil
	case common.CodeAuth:
		s.session.Discard(ctx, session.ReasonExpired)
	case "":
		err = common.Server("", err)
		code = common.CodeServer
	}
	obs.ObserveCartMutation(string(ModeRemote), op, code)
	s.logger.Warn().Err(err).Str("op", op).Str("code", code).Msg("remote_cart_failed")
	return cart.Empty(), err
}

func (s *Service) observeLocal(op string, err error) {
	result := "ok"
	if err != nil {
		result = common.CodeOf(err)
		if result == "" {
			result = common.CodePersistence
		}
	}
	obs.ObserveCartMutation(string(ModeLocal), op, result)
}

// localErr hides persistence failures from callers. The mutated cart is
// still returned and the failure has already been logged by the store.
func (s *Service) localErr(err error) error {
	if err == nil || common.IsCode(err, common.CodePersistence) {
		return nil
	}
	return err
}

type productQty struct {
	productID string
	count     int
}

// guestQuantities totals guest lines per product. The remote cart has one
// line per product, so variants of the same product are summed.
func guestQuantities(c cart.Cart) []productQty {
	index := map[string]int{}
	var out []productQty
	for _, it := range c.Items {
		if i, ok := index[it.ProductID]; ok {
			out[i].count += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, productQty{productID: it.ProductID, count: it.Quantity})
	}
	return out
}

func remoteQuantity(c cart.Cart, productID string) int {
	total := 0
	for _, it := range c.Items {
		if it.ProductID == productID {
			total += it.Quantity
		}
	}
	return total
}
