package storefront_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/checkout"
	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/pricing"
	"github.com/noah-isme/toko-storefront/internal/session"
	"github.com/noah-isme/toko-storefront/internal/storage"
	"github.com/noah-isme/toko-storefront/internal/storefront"
)

// fakeRemote keeps one line per product, like the hosted API.
type fakeRemote struct {
	lines     map[string]int
	order     []string
	fetchErr  error
	addErr    map[string]error
	calls     []string
	submitted []commerce.OrderRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{lines: map[string]int{}, addErr: map[string]error{}}
}

func (f *fakeRemote) snapshot() cart.Cart {
	c := cart.Empty()
	for _, id := range f.order {
		if qty, ok := f.lines[id]; ok {
			c.Items = append(c.Items, cart.LineItem{ProductID: id, LineID: "line-" + id, Price: decimal.NewFromInt(100), Quantity: qty})
		}
	}
	return c
}

func (f *fakeRemote) FetchCart(_ context.Context, token string) (cart.Cart, error) {
	f.calls = append(f.calls, "fetch")
	if token == "" {
		return cart.Empty(), common.Auth("", nil)
	}
	if f.fetchErr != nil {
		return cart.Empty(), f.fetchErr
	}
	return f.snapshot(), nil
}

func (f *fakeRemote) ClearCart(context.Context, string) error {
	f.calls = append(f.calls, "clear")
	f.lines = map[string]int{}
	f.order = nil
	return nil
}

func (f *fakeRemote) AddItem(_ context.Context, _ string, productID string) (cart.Cart, error) {
	f.calls = append(f.calls, "add:"+productID)
	if err := f.addErr[productID]; err != nil {
		return cart.Empty(), err
	}
	if _, ok := f.lines[productID]; !ok {
		f.order = append(f.order, productID)
	}
	f.lines[productID]++
	return f.snapshot(), nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, _ string, productID string, count int) (cart.Cart, error) {
	f.calls = append(f.calls, "update:"+productID)
	f.lines[productID] = count
	return f.snapshot(), nil
}

func (f *fakeRemote) RemoveItem(_ context.Context, _ string, productID string) (cart.Cart, error) {
	f.calls = append(f.calls, "remove:"+productID)
	delete(f.lines, productID)
	return f.snapshot(), nil
}

func (f *fakeRemote) CreateCheckoutSession(_ context.Context, _ string, req commerce.OrderRequest, _ string, _ string) (commerce.OrderResult, error) {
	f.calls = append(f.calls, "checkout")
	f.submitted = append(f.submitted, req)
	return commerce.OrderResult{Method: req.PaymentMethod, OrderID: "order-1"}, nil
}

type fixture struct {
	svc     *storefront.Service
	remote  *fakeRemote
	session *session.State
	local   *cart.LocalStore
	kv      *storage.MemoryKV
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	kv := storage.NewMemoryKV()
	remote := newFakeRemote()
	sess := &session.State{KV: kv}
	local := &cart.LocalStore{KV: kv}
	orch := &checkout.Orchestrator{
		Remote:    remote,
		Session:   sess,
		Validator: checkout.NewValidator(),
		Rule:      pricing.NewRule(1000, 50),
	}
	svc, err := storefront.NewService(context.Background(), storefront.Config{
		Local:    local,
		Remote:   remote,
		Session:  sess,
		Checkout: orch,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return fixture{svc: svc, remote: remote, session: sess, local: local, kv: kv}
}

func item(id string) cart.LineItem {
	return cart.LineItem{ProductID: id, Title: "Item " + id, Price: decimal.NewFromInt(200)}
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := storefront.NewService(context.Background(), storefront.Config{})
	require.Error(t, err)
}

func TestGuestCartIsLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, storefront.ModeLocal, f.svc.Mode())

	_, err := f.svc.AddItem(ctx, item("p1"), 2)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, item("p2"), 0)
	require.NoError(t, err)
	c, err := f.svc.UpdateQuantity(ctx, cart.ProductKey("p1"), -5)
	require.NoError(t, err)
	require.Equal(t, 1, c.Items[0].Quantity)

	summary, err := f.svc.GetSummary(ctx, pricing.NewRule(500, 50))
	require.NoError(t, err)
	require.Equal(t, "400", summary.Subtotal.String())
	require.Equal(t, "450", summary.GrandTotal.String())

	c, err = f.svc.RemoveItem(ctx, cart.ProductKey("p2"))
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Empty(t, f.remote.calls, "guest operations never reach the remote API")

	reloaded := (&cart.LocalStore{KV: f.kv}).Load(ctx)
	require.Len(t, reloaded.Items, 1)
}

func TestAddItemRequiresProductID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddItem(context.Background(), cart.LineItem{}, 1)
	require.True(t, common.IsCode(err, common.CodeValidation))
}

func TestSignedInCartIsRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	require.Equal(t, storefront.ModeRemote, f.svc.Mode())

	c, err := f.svc.AddItem(ctx, item("p1"), 3)
	require.NoError(t, err)
	require.Equal(t, 3, c.Items[0].Quantity)
	require.Equal(t, []string{"add:p1", "update:p1"}, f.remote.calls)

	c, err = f.svc.UpdateQuantity(ctx, cart.ProductKey("p1"), -10)
	require.NoError(t, err)
	require.Equal(t, 1, c.Items[0].Quantity)

	f.remote.calls = nil
	c, err = f.svc.UpdateQuantity(ctx, cart.ProductKey("missing"), 1)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, []string{"fetch"}, f.remote.calls)

	c, err = f.svc.RemoveItem(ctx, cart.ProductKey("p1"))
	require.NoError(t, err)
	require.Empty(t, c.Items)
	require.True(t, f.local.Load(ctx).IsEmpty(), "remote mode leaves the device cart alone")
}

func TestRemoteAuthDiscardsCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	f.remote.fetchErr = common.Auth("", nil)

	c, err := f.svc.GetCart(ctx)
	require.True(t, common.IsCode(err, common.CodeAuth))
	require.Empty(t, c.Items)
	require.Empty(t, f.session.Token())
	require.Equal(t, storefront.ModeLocal, f.svc.Mode())
}

func TestRemoteNotFoundIsEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	f.remote.fetchErr = common.NotFound("", nil)

	c, err := f.svc.GetCart(ctx)
	require.NoError(t, err)
	require.Empty(t, c.Items)
}

func TestRemoteTransportErrorIsServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	f.remote.fetchErr = errors.New("dial tcp: connection refused")

	_, err := f.svc.GetCart(ctx)
	appErr, ok := common.AsAppError(err)
	require.True(t, ok)
	require.Equal(t, common.CodeServer, appErr.Code)
	require.Equal(t, common.MsgServer, appErr.Message)
	require.Equal(t, "opaque-token", f.session.Token())
}

func TestExpiredJWTShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	built, err := jwt.NewBuilder().Expiration(now.Add(time.Minute)).Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(built, jwt.WithKey(jwa.HS256, []byte("secret")))
	require.NoError(t, err)
	require.NoError(t, f.session.SignIn(ctx, string(signed)))

	f.session.Now = func() time.Time { return now.Add(time.Hour) }
	f.remote.calls = nil
	svc, err := storefront.NewService(ctx, storefront.Config{
		Local:    f.local,
		Remote:   f.remote,
		Session:  f.session,
		Checkout: &checkout.Orchestrator{Remote: f.remote, Session: f.session},
		Now:      func() time.Time { return now.Add(time.Hour) },
	})
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.GetCart(ctx)
	require.True(t, common.IsCode(err, common.CodeAuth))
	require.Empty(t, f.remote.calls)
	require.Empty(t, f.session.Token())
}

func TestSignInMergesGuestCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, item("p1"), 2)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, item("p2"), 1)
	require.NoError(t, err)
	f.remote.order = []string{"p2"}
	f.remote.lines["p2"] = 4

	c, err := f.svc.SignIn(ctx, "opaque-token")
	require.NoError(t, err)
	require.Equal(t, 2, f.remote.lines["p1"])
	require.Equal(t, 4, f.remote.lines["p2"], "larger quantity wins")
	require.Len(t, c.Items, 2)
	require.True(t, f.local.Load(ctx).IsEmpty())
	require.Equal(t, storefront.ModeRemote, f.svc.Mode())
}

func TestSignInKeepsGuestCartOnPartialMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddItem(ctx, item("p1"), 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, item("p2"), 1)
	require.NoError(t, err)
	f.remote.addErr["p2"] = common.Server("", nil)

	c, err := f.svc.SignIn(ctx, "opaque-token")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Len(t, f.local.Load(ctx).Items, 2)
}

func TestSignInRejectsEmptyToken(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SignIn(context.Background(), "")
	require.True(t, common.IsCode(err, common.CodeValidation))
	require.Equal(t, storefront.ModeLocal, f.svc.Mode())
}

func TestCheckoutThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	_, err := f.svc.AddItem(ctx, item("p1"), 1)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, item("p2"), 1)
	require.NoError(t, err)

	view, err := f.svc.EnterCheckout(ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StateReady, view.State)

	res, err := f.svc.SubmitCheckout(ctx, commerce.ShippingAddress{Details: "1 Main St", City: "Giza", Phone: "01012345678"}, commerce.PaymentCash)
	require.NoError(t, err)
	require.Equal(t, "order-1", res.OrderID)
	require.Equal(t, []string{"line-p1", "line-p2"}, f.remote.submitted[0].CartItems)
	require.Contains(t, f.remote.calls, "clear")
	require.Empty(t, f.svc.CheckoutView(ctx).Items)

	f.svc.LeaveCheckout(ctx)
	require.Equal(t, checkout.StateLoading, f.svc.CheckoutView(ctx).State)
}

func TestEnterCheckoutSignedOut(t *testing.T) {
	f := newFixture(t)
	view, err := f.svc.EnterCheckout(context.Background())
	require.True(t, common.IsCode(err, common.CodeAuth))
	require.Equal(t, checkout.StateLoading, view.State)
}

func TestSignOutAbandonsCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.SignIn(ctx, "opaque-token"))
	_, err := f.svc.AddItem(ctx, item("p1"), 1)
	require.NoError(t, err)
	_, err = f.svc.EnterCheckout(ctx)
	require.NoError(t, err)

	f.svc.SignOut(ctx)
	require.Equal(t, checkout.StateLoading, f.svc.CheckoutView(ctx).State)
	require.Equal(t, storefront.ModeLocal, f.svc.Mode())
}

func TestSessionHandler(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/api/v1/session", (&storefront.SessionHandler{Svc: f.svc}).Routes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"token":"opaque-token"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"mode":"remote"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	require.Contains(t, rec.Body.String(), `"authenticated":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, f.session.Token())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "header-token", f.session.Token())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
