package checkout

import (
	"context"
	"net/http"
	"sync"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/pricing"
)

// State is a checkout state machine state.
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateRedirected State = "redirected"
)

// Errors returned synchronously by Submit.
var (
	ErrInFlight  = common.NewAppError(common.CodeInFlight, "an order submission is already in progress", http.StatusConflict, nil)
	ErrEmptyCart = common.NewAppError(common.CodeEmptyCart, "your cart is empty", http.StatusUnprocessableEntity, nil)
	ErrNotReady  = common.NewAppError(common.CodeState, "checkout is not ready for submission", http.StatusConflict, nil)
)

// Remote is the commerce API surface used during checkout.
type Remote interface {
	FetchCart(ctx context.Context, token string) (cart.Cart, error)
	ClearCart(ctx context.Context, token string) error
	CreateCheckoutSession(ctx context.Context, token string, req commerce.OrderRequest, origin, idempotencyKey string) (commerce.OrderResult, error)
}

// Session provides the credential and accepts its disposal.
type Session interface {
	Token() string
	Discard(ctx context.Context, reason string)
}

// ErrorView is the last failure in a form the presentation layer can show.
type ErrorView struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// View is a snapshot of the checkout session.
type View struct {
	State         State                    `json:"state"`
	Items         []cart.LineItem          `json:"items"`
	Summary       pricing.Summary          `json:"summary"`
	InFlight      bool                     `json:"inFlight"`
	PaymentMethod commerce.PaymentMethod   `json:"paymentMethod,omitempty"`
	Address       commerce.ShippingAddress `json:"shippingAddress"`
	OrderID       string                   `json:"orderId,omitempty"`
	RedirectURL   string                   `json:"redirectUrl,omitempty"`
	LastError     *ErrorView               `json:"lastError,omitempty"`
}

// Orchestrator drives one checkout session: load the remote cart, validate
// the shipping address, submit the order and reconcile the cart afterwards.
// At most one submission is in flight at a time.
type Orchestrator struct {
	Remote    Remote
	Session   Session
	Validator *validator.Validate
	Rule      pricing.Rule
	Origin    string
	Bus       *events.Bus
	Logger    zerolog.Logger
	NewKey    func() string

	mu       sync.Mutex
	gen      uint64
	state    State
	cart     cart.Cart
	inFlight bool
	method   commerce.PaymentMethod
	address  commerce.ShippingAddress
	orderID  string
	redirect string
	lastErr  error
}

// Load fetches the remote cart. An AUTH failure discards the credential,
// empties the cart and keeps the session in loading. A missing remote cart
// is an empty cart. Any other failure keeps the session in loading so the
// caller can retry by calling Load again.
func (o *Orchestrator) Load(ctx context.Context) (View, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return o.View(), ErrInFlight
	}
	o.state = StateLoading
	o.lastErr = nil
	o.orderID = ""
	o.redirect = ""
	gen := o.gen
	o.mu.Unlock()

	c, err := o.Remote.FetchCart(ctx, o.token())
	code := common.CodeOf(err)
	if code == common.CodeAuth {
		o.discard(ctx)
	}

	o.mu.Lock()
	if gen == o.gen {
		switch {
		case err == nil:
			o.cart = c
			o.state = StateReady
		case code == common.CodeNotFound:
			o.cart = cart.Empty()
			o.state = StateReady
			err = nil
		case code == common.CodeAuth:
			o.cart = cart.Empty()
			o.lastErr = err
		default:
			if _, ok := common.AsAppError(err); !ok {
				err = common.Server("", err)
			}
			o.lastErr = err
		}
	}
	o.mu.Unlock()
	if err != nil {
		o.Logger.Warn().Err(err).Str("code", common.CodeOf(err)).Msg("checkout_load_failed")
	}
	return o.View(), err
}

// Submit validates addr and places the order. Rejections for an in-flight
// submission, an empty cart, a session that is not ready, or an invalid
// address happen before any network call.
func (o *Orchestrator) Submit(ctx context.Context, addr commerce.ShippingAddress, method commerce.PaymentMethod) (commerce.OrderResult, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.submit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.payment_method", string(method)))

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		obs.ObserveCheckoutRejected("in_flight")
		return commerce.OrderResult{}, ErrInFlight
	}
	if o.state != StateReady && o.state != StateFailed {
		o.mu.Unlock()
		obs.ObserveCheckoutRejected("not_ready")
		return commerce.OrderResult{}, ErrNotReady
	}
	if o.cart.IsEmpty() {
		o.mu.Unlock()
		obs.ObserveCheckoutRejected("empty_cart")
		return commerce.OrderResult{}, ErrEmptyCart
	}

	o.state = StateValidating
	addr = NormalizeAddress(addr)
	o.address = addr
	o.method = method
	fields := ValidateAddress(o.Validator, addr)
	if !method.Valid() {
		if fields == nil {
			fields = map[string]string{}
		}
		fields["paymentMethod"] = "paymentMethod must be card or cash"
	}
	if len(fields) > 0 {
		err := common.Validation("", fields)
		o.state = StateReady
		o.lastErr = err
		o.mu.Unlock()
		obs.ObserveCheckoutRejected("validation")
		return commerce.OrderResult{}, err
	}

	o.inFlight = true
	o.state = StateSubmitting
	o.lastErr = nil
	gen := o.gen
	req := commerce.OrderRequest{
		ShippingAddress: addr,
		PaymentMethod:   method,
		CartItems:       lineIDs(o.cart),
	}
	itemCount := o.cart.Len()
	o.mu.Unlock()

	token := o.token()
	result, err := o.Remote.CreateCheckoutSession(ctx, token, req, o.Origin, o.newKey())
	if err != nil {
		if _, ok := common.AsAppError(err); !ok {
			err = common.Server("", err)
		}
		if common.IsCode(err, common.CodeAuth) {
			o.discard(ctx)
		}
		o.finish(gen, func() {
			o.state = StateFailed
			o.lastErr = err
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, common.CodeOf(err))
		obs.ObserveCheckout(string(method), string(StateFailed))
		o.Logger.Warn().Err(err).Str("payment_method", string(method)).Msg("checkout_submit_failed")
		o.emit(ctx, events.TopicCheckoutFailed, "", map[string]any{
			"paymentMethod": method,
			"code":          common.CodeOf(err),
		})
		return commerce.OrderResult{}, err
	}

	if method == commerce.PaymentCard {
		o.finish(gen, func() {
			o.state = StateRedirected
			o.redirect = result.RedirectURL
		})
		obs.ObserveCheckout(string(method), string(StateRedirected))
		o.Logger.Info().Str("payment_method", string(method)).Msg("checkout_redirected")
		o.emit(ctx, events.TopicCheckoutRedirected, "", map[string]any{"items": itemCount})
		return result, nil
	}

	// The order exists now; a failed clear must not turn it into a failure.
	if clearErr := o.Remote.ClearCart(ctx, token); clearErr != nil {
		o.Logger.Warn().Err(clearErr).Str("order_id", result.OrderID).Msg("remote_cart_clear_failed")
		o.emit(ctx, events.TopicCartClearFailed, result.OrderID, map[string]any{"code": common.CodeOf(clearErr)})
	} else {
		o.emit(ctx, events.TopicCartCleared, result.OrderID, nil)
	}
	o.finish(gen, func() {
		o.state = StateSucceeded
		o.orderID = result.OrderID
		o.cart = cart.Empty()
	})
	obs.ObserveCheckout(string(method), string(StateSucceeded))
	o.Logger.Info().Str("order_id", result.OrderID).Int("items", itemCount).Msg("checkout_submitted")
	o.emit(ctx, events.TopicOrderPlaced, result.OrderID, map[string]any{"items": itemCount})
	return result, nil
}

// Reset abandons the session. A submission still in flight completes
// against the remote API but no longer updates this session.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.state = StateLoading
	o.cart = cart.Empty()
	o.inFlight = false
	o.method = ""
	o.address = commerce.ShippingAddress{}
	o.orderID = ""
	o.redirect = ""
	o.lastErr = nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == "" {
		return StateLoading
	}
	return o.state
}

// Summary prices the checkout cart with the checkout rule.
func (o *Orchestrator) Summary() pricing.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cart.Summary(o.Rule)
}

// View returns a snapshot of the session.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.state
	if state == "" {
		state = StateLoading
	}
	items := make([]cart.LineItem, len(o.cart.Items))
	copy(items, o.cart.Items)
	v := View{
		State:         state,
		Items:         items,
		Summary:       o.cart.Summary(o.Rule),
		InFlight:      o.inFlight,
		PaymentMethod: o.method,
		Address:       o.address,
		OrderID:       o.orderID,
		RedirectURL:   o.redirect,
	}
	if o.lastErr != nil {
		v.LastError = errorView(o.lastErr)
	}
	return v
}

func (o *Orchestrator) finish(gen uint64, apply func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.inFlight = false
	apply()
}

func (o *Orchestrator) token() string {
	if o.Session == nil {
		return ""
	}
	return o.Session.Token()
}

func (o *Orchestrator) discard(ctx context.Context) {
	if o.Session != nil {
		o.Session.Discard(ctx, "")
	}
}

func (o *Orchestrator) newKey() string {
	if o.NewKey != nil {
		return o.NewKey()
	}
	return uuid.NewString()
}

func (o *Orchestrator) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if _, err := o.Bus.Emit(ctx, topic, aggregateID, payload); err != nil {
		o.Logger.Warn().Err(err).Str("topic", topic).Msg("checkout_event_failed")
	}
}

func lineIDs(c cart.Cart) []string {
	out := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		if it.LineID != "" {
			out = append(out, it.LineID)
			continue
		}
		out = append(out, it.ProductID)
	}
	return out
}

func errorView(err error) *ErrorView {
	appErr, ok := common.AsAppError(err)
	if !ok {
		return &ErrorView{Code: common.CodeServer, Message: common.MsgServer}
	}
	view := &ErrorView{Code: appErr.Code, Message: appErr.Message}
	if fields, ok := appErr.Details.(map[string]string); ok {
		view.Fields = fields
	}
	return view
}
