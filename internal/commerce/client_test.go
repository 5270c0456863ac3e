package commerce_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-storefront/internal/commerce"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/resilience"
)

const cartBody = `{"status":"success","data":{"_id":"cart-1","cartItems":[
	{"_id":"line-1","quantity":2,"color":"red","product":{"_id":"p1","title":"Shirt","price":150,"priceAfterDiscount":120,"imageCover":"a.png","brand":{"name":"Acme"}}},
	{"_id":"line-2","count":1,"product":{"_id":"p2","title":"Cap","price":"19.99"}}
]}}`

func newClient(t *testing.T, handler http.HandlerFunc) (*commerce.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &commerce.Client{
		BaseURL: srv.URL + "/api/v1/",
		HTTP:    resilience.HTTPClient{Client: srv.Client(), Timeout: time.Second},
		Logger:  zerolog.Nop(),
	}, srv
}

func TestFetchCartDecodesItems(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/cart", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "tok", r.Header.Get("token"))
		_, _ = w.Write([]byte(cartBody))
	})

	c, err := client.FetchCart(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	first := c.Items[0]
	require.Equal(t, "p1", first.ProductID)
	require.Equal(t, "line-1", first.LineID)
	require.Equal(t, 2, first.Quantity)
	require.Equal(t, "red", first.Color)
	require.Equal(t, "Acme", first.Brand)
	require.Equal(t, "150", first.Price.String())
	require.Equal(t, "120", first.PriceAfterDiscount.String())
	require.Equal(t, "19.99", c.Items[1].Price.String())
	require.Equal(t, 1, c.Items[1].Quantity)
}

func TestFetchCartClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status  int
		body    string
		code    string
		message string
	}{
		{http.StatusUnauthorized, `{"message":"Invalid Token. please login again"}`, common.CodeAuth, "Invalid Token. please login again"},
		{http.StatusNotFound, `{"message":"No cart exist for this user"}`, common.CodeNotFound, "No cart exist for this user"},
		{http.StatusNotFound, ``, common.CodeNotFound, common.MsgNotFound},
		{http.StatusInternalServerError, `<html>oops</html>`, common.CodeServer, common.MsgServer},
		{http.StatusBadRequest, `{"error":"bad"}`, common.CodeServer, "bad"},
	}
	for _, tc := range cases {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		})
		c, err := client.FetchCart(context.Background(), "tok")
		require.True(t, c.IsEmpty())
		appErr, ok := common.AsAppError(err)
		require.True(t, ok, "status %d", tc.status)
		require.Equal(t, tc.code, appErr.Code)
		require.Equal(t, tc.message, appErr.Message)
	}
}

func TestFetchCartDecodeFailureIsServerError(t *testing.T) {
	for _, body := range []string{`{"data":{}}`, `{"status":"success"}`, `not json`, `{"data":{"cartItems":[{"_id":"x","product":{"title":"no id","price":1}}]}}`} {
		client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := client.FetchCart(context.Background(), "tok")
		require.True(t, common.IsCode(err, common.CodeServer), body)
	}
}

func TestFetchCartTimeoutIsServerError(t *testing.T) {
	release := make(chan struct{})
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	client.HTTP.Timeout = 20 * time.Millisecond

	_, err := client.FetchCart(context.Background(), "tok")
	require.True(t, common.IsCode(err, common.CodeServer))
	require.ErrorIs(t, err, resilience.ErrTimeout)
}

func TestMissingTokenSkipsNetwork(t *testing.T) {
	var calls int32
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	_, err := client.FetchCart(context.Background(), "  ")
	require.True(t, common.IsCode(err, common.CodeAuth))
	require.Error(t, client.ClearCart(context.Background(), ""))
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestClearCart(t *testing.T) {
	var method string
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		_, _ = w.Write([]byte(`{"message":"success"}`))
	})
	require.NoError(t, client.ClearCart(context.Background(), "tok"))
	require.Equal(t, http.MethodDelete, method)
}

func TestRemoteMutations(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]any
	}
	var got []seen
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				require.NoError(t, json.Unmarshal(data, &body))
			}
		}
		got = append(got, seen{r.Method, r.URL.Path, body})
		_, _ = w.Write([]byte(cartBody))
	})
	ctx := context.Background()

	_, err := client.AddItem(ctx, "tok", "p1")
	require.NoError(t, err)
	_, err = client.UpdateItem(ctx, "tok", "p1", 0)
	require.NoError(t, err)
	_, err = client.RemoveItem(ctx, "tok", "p1")
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, seen{http.MethodPost, "/api/v1/cart", map[string]any{"productId": "p1"}}, got[0])
	require.Equal(t, seen{http.MethodPut, "/api/v1/cart/p1", map[string]any{"count": float64(1)}}, got[1])
	require.Equal(t, http.MethodDelete, got[2].method)
	require.Equal(t, "/api/v1/cart/p1", got[2].path)
}

func TestCreateCheckoutSessionCash(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/orders/checkout-session", r.URL.Path)
		require.Equal(t, "http://shop.test", r.URL.Query().Get("url"))
		require.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "tok", r.Header.Get("token"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req commerce.OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, commerce.PaymentCash, req.PaymentMethod)
		require.Equal(t, []string{"line-1", "line-2"}, req.CartItems)
		require.Equal(t, "Cairo", req.ShippingAddress.City)
		_, _ = w.Write([]byte(`{"status":"success","data":{"order":{"_id":"order-77"}}}`))
	})

	res, err := client.CreateCheckoutSession(context.Background(), "tok", commerce.OrderRequest{
		ShippingAddress: commerce.ShippingAddress{Details: "12 Nile St", City: "Cairo", Phone: "01012345678"},
		PaymentMethod:   commerce.PaymentCash,
		CartItems:       []string{"line-1", "line-2"},
	}, "http://shop.test", "idem-1")
	require.NoError(t, err)
	require.Equal(t, "order-77", res.OrderID)
	require.Empty(t, res.RedirectURL)
}

func TestCreateCheckoutSessionCard(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","session":{"url":"https://pay.test/s/1"}}`))
	})
	res, err := client.CreateCheckoutSession(context.Background(), "tok", commerce.OrderRequest{PaymentMethod: commerce.PaymentCard}, "", "")
	require.NoError(t, err)
	require.Equal(t, "https://pay.test/s/1", res.RedirectURL)
}

func TestCreateCheckoutSessionMissingFields(t *testing.T) {
	client, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{}}`))
	})
	_, err := client.CreateCheckoutSession(context.Background(), "tok", commerce.OrderRequest{PaymentMethod: commerce.PaymentCard}, "", "")
	require.True(t, common.IsCode(err, common.CodeServer))
	_, err = client.CreateCheckoutSession(context.Background(), "tok", commerce.OrderRequest{PaymentMethod: commerce.PaymentCash}, "", "")
	require.True(t, common.IsCode(err, common.CodeServer))
	_, err = client.CreateCheckoutSession(context.Background(), "tok", commerce.OrderRequest{PaymentMethod: "bitcoin"}, "", "")
	require.True(t, common.IsCode(err, common.CodeValidation))
}
