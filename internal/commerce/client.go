package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-storefront/internal/cart"
	"github.com/noah-isme/toko-storefront/internal/common"
	"github.com/noah-isme/toko-storefront/internal/obs"
	"github.com/noah-isme/toko-storefront/internal/resilience"
)

const maxBodyBytes = 1 << 20

// Operation names used in logs and metrics.
const (
	OpFetchCart       = "fetch_cart"
	OpClearCart       = "clear_cart"
	OpAddItem         = "add_item"
	OpUpdateItem      = "update_item"
	OpRemoveItem      = "remove_item"
	OpCheckoutSession = "checkout_session"
)

// Client talks to the remote commerce API. Every response is decoded into
// typed values here; failures are classified as AUTH, NOT_FOUND or SERVER
// application errors and never escape as raw transport errors.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
	Logger  zerolog.Logger
}

// FetchCart reads the authenticated user's cart.
func (c *Client) FetchCart(ctx context.Context, token string) (cart.Cart, error) {
	body, err := c.call(ctx, OpFetchCart, http.MethodGet, "cart", token, nil, nil, "")
	if err != nil {
		return cart.Empty(), err
	}
	return c.decodeCart(OpFetchCart, body)
}

// ClearCart deletes the authenticated user's cart. Only the status matters.
func (c *Client) ClearCart(ctx context.Context, token string) error {
	_, err := c.call(ctx, OpClearCart, http.MethodDelete, "cart", token, nil, nil, "")
	return err
}

// AddItem adds one unit of a product to the remote cart.
func (c *Client) AddItem(ctx context.Context, token, productID string) (cart.Cart, error) {
	payload := map[string]string{"productId": productID}
	body, err := c.call(ctx, OpAddItem, http.MethodPost, "cart", token, nil, payload, "")
	if err != nil {
		return cart.Empty(), err
	}
	return c.decodeCart(OpAddItem, body)
}

// UpdateItem sets the remote quantity of a product. Counts below 1 are
// raised to 1 before the request is issued.
func (c *Client) UpdateItem(ctx context.Context, token, productID string, count int) (cart.Cart, error) {
	if count < 1 {
		count = 1
	}
	payload := map[string]int{"count": count}
	body, err := c.call(ctx, OpUpdateItem, http.MethodPut, "cart/"+url.PathEscape(productID), token, nil, payload, "")
	if err != nil {
		return cart.Empty(), err
	}
	return c.decodeCart(OpUpdateItem, body)
}

// RemoveItem removes a product from the remote cart.
func (c *Client) RemoveItem(ctx context.Context, token, productID string) (cart.Cart, error) {
	body, err := c.call(ctx, OpRemoveItem, http.MethodDelete, "cart/"+url.PathEscape(productID), token, nil, nil, "")
	if err != nil {
		return cart.Empty(), err
	}
	return c.decodeCart(OpRemoveItem, body)
}

// CreateCheckoutSession submits an order. origin is passed as the url
// query parameter the API uses to build the payment return links.
func (c *Client) CreateCheckoutSession(ctx context.Context, token string, req OrderRequest, origin, idempotencyKey string) (OrderResult, error) {
	if !req.PaymentMethod.Valid() {
		return OrderResult{}, common.Validation("", map[string]string{"paymentMethod": "must be card or cash"})
	}
	query := url.Values{}
	if origin != "" {
		query.Set("url", origin)
	}
	body, err := c.call(ctx, OpCheckoutSession, http.MethodPost, "orders/checkout-session", token, query, req, idempotencyKey)
	if err != nil {
		return OrderResult{}, err
	}
	result, err := decodeOrder(body, req.PaymentMethod)
	if err != nil {
		c.Logger.Warn().Err(err).Str("op", OpCheckoutSession).Msg("commerce_decode_failed")
		return OrderResult{}, common.Server("", err)
	}
	return result, nil
}

func (c *Client) decodeCart(op string, body []byte) (cart.Cart, error) {
	out, err := decodeCart(body)
	if err != nil {
		c.Logger.Warn().Err(err).Str("op", op).Msg("commerce_decode_failed")
		return cart.Empty(), common.Server("", err)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, op, method, path, token string, query url.Values, payload any, idempotencyKey string) ([]byte, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ObserveRemote(op, common.CodeAuth, 0)
		return nil, common.Auth("", errors.New("commerce: missing credential"))
	}
	req, err := c.newRequest(ctx, method, path, token, query, payload, idempotencyKey)
	if err != nil {
		return nil, common.Server("", err)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		obs.ObserveRemote(op, common.CodeServer, time.Since(start))
		c.Logger.Warn().Err(err).Str("op", op).Msg("commerce_request_failed")
		return nil, common.Server("", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	took := time.Since(start)
	if readErr != nil {
		obs.ObserveRemote(op, common.CodeServer, took)
		c.Logger.Warn().Err(readErr).Str("op", op).Int("status", resp.StatusCode).Msg("commerce_read_failed")
		return nil, common.Server("", readErr)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		obs.ObserveRemote(op, "OK", took)
		c.Logger.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("took", took).Msg("commerce_request")
		return body, nil
	}

	appErr := classify(resp.StatusCode, apiMessage(body))
	obs.ObserveRemote(op, appErr.Code, took)
	c.Logger.Warn().Str("op", op).Int("status", resp.StatusCode).Str("code", appErr.Code).Msg("commerce_request_rejected")
	return nil, appErr
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, query url.Values, payload any, idempotencyKey string) (*http.Request, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return nil, errors.New("commerce: base url not configured")
	}
	target := base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("commerce: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("token", token)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return req, nil
}

func classify(status int, message string) *common.AppError {
	err := fmt.Errorf("commerce: status %d", status)
	switch status {
	case http.StatusUnauthorized:
		return common.Auth(message, err)
	case http.StatusNotFound:
		return common.NotFound(message, err)
	default:
		return common.Server(message, err)
	}
}
