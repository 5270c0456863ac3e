package checkout_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/checkout"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/events"
	"github.com/noah-isme/toko-storefront/internal/pricing"
)

type fakeRemote struct {
	mu          sync.Mutex
	cart        cart.Cart
	fetchErr    error
	submitErr   error
	clearErr    error
	result      commerce.OrderResult
	block       chan struct{}
	started     chan struct{}
	submitCalls int32
	clearCalls  int32
	lastReq     commerce.OrderRequest
	lastKey     string
}

func (f *fakeRemote) FetchCart(context.Context, string) (cart.Cart, error) {
	if f.fetchErr != nil {
		return cart.Empty(), f.fetchErr
	}
	return f.cart, nil
}

func (f *fakeRemote) ClearCart(context.Context, string) error {
	atomic.AddInt32(&f.clearCalls, 1)
	return f.clearErr
}

func (f *fakeRemote) CreateCheckoutSession(_ context.Context, _ string, req commerce.OrderRequest, _ string, key string) (commerce.OrderResult, error) {
	atomic.AddInt32(&f.submitCalls, 1)
	f.mu.Lock()
	f.lastReq = req
	f.lastKey = key
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	if f.submitErr != nil {
		return commerce.OrderResult{}, f.submitErr
	}
	res := f.result
	res.Method = req.PaymentMethod
	return res, nil
}

type fakeSession struct {
	token     string
	discarded int
}

func (s *fakeSession) Token() string { return s.token }

func (s *fakeSession) Discard(context.Context, string) {
	s.discarded++
	s.token = ""
}

func twoItemCart() cart.Cart {
	c := cart.Empty()
	c = cart.Add(c, cart.LineItem{ProductID: "p1", LineID: "line-1", Title: "Shirt", Price: decimal.NewFromInt(400)}, 2)
	c = cart.Add(c, cart.LineItem{ProductID: "p2", LineID: "line-2", Title: "Cap", Price: decimal.NewFromInt(150)}, 1)
	return c
}

var validAddress = commerce.ShippingAddress{Details: "12 Nile St", City: "Cairo", Phone: "+20 101 234 5678"}

type topicCapture struct {
	mu     sync.Mutex
	topics []string
}

func (c *topicCapture) Notify(_ context.Context, e events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, e.Topic)
	return nil
}

func newOrchestrator(remote *fakeRemote, sess *fakeSession) (*checkout.Orchestrator, *topicCapture) {
	capture := &topicCapture{}
	rule := pricing.NewRule(1000, 50)
	rule.WaiveWhenEmpty = true
	return &checkout.Orchestrator{
		Remote:    remote,
		Session:   sess,
		Validator: checkout.NewValidator(),
		Rule:      rule,
		Origin:    "http://shop.test",
		Bus:       &events.Bus{Notifiers: []events.Notifier{capture}},
		NewKey:    func() string { return "idem-key" },
	}, capture
}

func TestLoadReadyWithSummary(t *testing.T) {
	o, _ := newOrchestrator(&fakeRemote{cart: twoItemCart()}, &fakeSession{token: "tok"})
	view, err := o.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, checkout.StateReady, view.State)
	require.Len(t, view.Items, 2)
	require.Equal(t, "950", view.Summary.Subtotal.String())
	require.Equal(t, "50", view.Summary.ShippingFee.String())
	require.Equal(t, "1000", view.Summary.GrandTotal.String())
}

func TestLoadAuthDiscardsCredential(t *testing.T) {
	sess := &fakeSession{token: "expired"}
	o, _ := newOrchestrator(&fakeRemote{fetchErr: common.Auth("", nil)}, sess)

	view, err := o.Load(context.Background())
	require.True(t, common.IsCode(err, common.CodeAuth))
	require.Equal(t, 1, sess.discarded)
	require.Empty(t, sess.token)
	require.Equal(t, checkout.StateLoading, view.State)
	require.Empty(t, view.Items)
	require.Equal(t, common.CodeAuth, view.LastError.Code)
}

func TestLoadNotFoundIsEmptyReadyCart(t *testing.T) {
	o, _ := newOrchestrator(&fakeRemote{fetchErr: common.NotFound("", nil)}, &fakeSession{token: "tok"})
	view, err := o.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, checkout.StateReady, view.State)
	require.Empty(t, view.Items)
	require.Nil(t, view.LastError)

	_, err = o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.ErrorIs(t, err, checkout.ErrEmptyCart)
}

func TestLoadServerErrorStaysLoadingAndRetries(t *testing.T) {
	remote := &fakeRemote{fetchErr: errors.New("connection refused"), cart: twoItemCart()}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})

	view, err := o.Load(context.Background())
	require.True(t, common.IsCode(err, common.CodeServer))
	require.Equal(t, checkout.StateLoading, view.State)

	remote.fetchErr = nil
	view, err = o.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, checkout.StateReady, view.State)
}

func TestSubmitEmptyDetailsMakesNoNetworkCall(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart()}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	addr := validAddress
	addr.Details = "   "
	_, err = o.Submit(context.Background(), addr, commerce.PaymentCash)
	require.True(t, common.IsCode(err, common.CodeValidation))
	require.Zero(t, atomic.LoadInt32(&remote.submitCalls))

	view := o.View()
	require.Equal(t, checkout.StateReady, view.State)
	require.Contains(t, view.LastError.Fields, "details")
	require.Equal(t, "Cairo", view.Address.City, "entered data is kept")
}

func TestSubmitRejectsBadPhoneAndMethod(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart()}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	addr := validAddress
	addr.Phone = "call me"
	_, err = o.Submit(context.Background(), addr, "paypal")
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	fields := appErr.Details.(map[string]string)
	require.Contains(t, fields, "phone")
	require.Contains(t, fields, "paymentMethod")
	require.Zero(t, atomic.LoadInt32(&remote.submitCalls))
}

func TestSubmitBeforeLoadIsRejected(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart()}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.ErrorIs(t, err, checkout.ErrNotReady)
	require.Zero(t, atomic.LoadInt32(&remote.submitCalls))
}

func TestSecondSubmitWhileInFlightIsRejected(t *testing.T) {
	remote := &fakeRemote{
		cart:    twoItemCart(),
		result:  commerce.OrderResult{OrderID: "order-1"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), validAddress, commerce.PaymentCash)
		done <- err
	}()
	<-remote.started
	require.True(t, o.View().InFlight)
	require.Equal(t, checkout.StateSubmitting, o.State())

	_, err = o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.ErrorIs(t, err, checkout.ErrInFlight)
	require.EqualValues(t, 1, atomic.LoadInt32(&remote.submitCalls))

	close(remote.block)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, atomic.LoadInt32(&remote.submitCalls))
}

func TestCashCheckoutClearsCart(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart(), result: commerce.OrderResult{OrderID: "order-42"}}
	o, capture := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.NoError(t, err)
	require.Equal(t, "order-42", res.OrderID)
	require.EqualValues(t, 1, atomic.LoadInt32(&remote.clearCalls))
	require.Equal(t, []string{"line-1", "line-2"}, remote.lastReq.CartItems)
	require.Equal(t, "idem-key", remote.lastKey)

	view := o.View()
	require.Equal(t, checkout.StateSucceeded, view.State)
	require.Equal(t, "order-42", view.OrderID)
	require.Empty(t, view.Items)
	require.Zero(t, view.Summary.ItemCount)
	require.True(t, view.Summary.ShippingFee.IsZero())
	require.True(t, view.Summary.GrandTotal.IsZero())
	require.False(t, view.InFlight)
	require.Equal(t, []string{events.TopicCartCleared, events.TopicOrderPlaced}, capture.topics)
}

func TestCashCheckoutClearFailureStillSucceeds(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart(), result: commerce.OrderResult{OrderID: "order-43"}, clearErr: common.Server("", nil)}
	o, capture := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.NoError(t, err)
	require.Equal(t, "order-43", res.OrderID)
	require.Equal(t, checkout.StateSucceeded, o.State())
	require.Contains(t, capture.topics, events.TopicCartClearFailed)
}

func TestCardCheckoutRedirects(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart(), result: commerce.OrderResult{RedirectURL: "https://pay.test/s/9"}}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	res, err := o.Submit(context.Background(), validAddress, commerce.PaymentCard)
	require.NoError(t, err)
	require.Equal(t, "https://pay.test/s/9", res.RedirectURL)
	require.Zero(t, atomic.LoadInt32(&remote.clearCalls))

	view := o.View()
	require.Equal(t, checkout.StateRedirected, view.State)
	require.Equal(t, "https://pay.test/s/9", view.RedirectURL)
	require.Len(t, view.Items, 2, "remote side owns the cart after redirect")
}

func TestFailedSubmitKeepsCartAndAllowsRetry(t *testing.T) {
	remote := &fakeRemote{cart: twoItemCart(), submitErr: common.Server("", nil), result: commerce.OrderResult{OrderID: "order-2"}}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	require.True(t, common.IsCode(err, common.CodeServer))
	view := o.View()
	require.Equal(t, checkout.StateFailed, view.State)
	require.Len(t, view.Items, 2)
	require.Equal(t, validAddress.Details, view.Address.Details)
	require.False(t, view.InFlight)
	require.Zero(t, atomic.LoadInt32(&remote.clearCalls))

	remote.submitErr = nil
	res, err := o.Submit(context.Background(), view.Address, commerce.PaymentCash)
	require.NoError(t, err)
	require.Equal(t, "order-2", res.OrderID)
}

func TestResetDetachesInFlightSubmission(t *testing.T) {
	remote := &fakeRemote{
		cart:    twoItemCart(),
		result:  commerce.OrderResult{OrderID: "order-late"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	o, _ := newOrchestrator(remote, &fakeSession{token: "tok"})
	_, err := o.Load(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.Submit(context.Background(), validAddress, commerce.PaymentCash)
	}()
	<-remote.started
	o.Reset()
	close(remote.block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submission did not finish")
	}
	view := o.View()
	require.Equal(t, checkout.StateLoading, view.State)
	require.Empty(t, view.OrderID)
}
