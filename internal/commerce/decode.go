package commerce

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/cart"
)

// errDecode marks a response body that does not match the expected shape.
var errDecode = errors.New("commerce: unexpected response shape")

type cartEnvelope struct {
	Data *struct {
		ID        string        `json:"_id"`
		CartItems *[]remoteItem `json:"cartItems"`
		Products  *[]remoteItem `json:"products"`
	} `json:"data"`
}

type remoteItem struct {
	ID       string        `json:"_id"`
	Product  remoteProduct `json:"product"`
	Quantity *int          `json:"quantity"`
	Count    *int          `json:"count"`
	Price    *json.Number  `json:"price"`
	Color    string        `json:"color"`
	Size     string        `json:"size"`
}

type remoteProduct struct {
	ID                 string       `json:"_id"`
	Title              string       `json:"title"`
	Price              *json.Number `json:"price"`
	PriceAfterDiscount *json.Number `json:"priceAfterDiscount"`
	ImageCover         string       `json:"imageCover"`
	Brand              *struct {
		Name string `json:"name"`
	} `json:"brand"`
}

// UnmarshalJSON accepts either a product object or a bare product id.
func (p *remoteProduct) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*p = remoteProduct{ID: id}
		return nil
	}
	type plain remoteProduct
	var out plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*p = remoteProduct(out)
	return nil
}

type sessionEnvelope struct {
	Session *struct {
		URL string `json:"url"`
	} `json:"session"`
	Data *struct {
		Order *struct {
			ID string `json:"_id"`
		} `json:"order"`
	} `json:"data"`
}

func decodeCart(body []byte) (cart.Cart, error) {
	var env cartEnvelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return cart.Empty(), fmt.Errorf("%w: %v", errDecode, err)
	}
	if env.Data == nil {
		return cart.Empty(), fmt.Errorf("%w: missing data", errDecode)
	}
	items := env.Data.CartItems
	if items == nil {
		items = env.Data.Products
	}
	if items == nil {
		return cart.Empty(), fmt.Errorf("%w: missing data.cartItems", errDecode)
	}
	out := cart.Empty()
	for i, it := range *items {
		line, err := it.lineItem()
		if err != nil {
			return cart.Empty(), fmt.Errorf("%w: item %d: %v", errDecode, i, err)
		}
		out.Items = append(out.Items, line)
	}
	return cart.Normalize(out), nil
}

func (it remoteItem) lineItem() (cart.LineItem, error) {
	productID := strings.TrimSpace(it.Product.ID)
	if productID == "" {
		return cart.LineItem{}, errors.New("missing product id")
	}
	raw := it.Product.Price
	if raw == nil {
		raw = it.Price
	}
	price, err := parseAmount(raw)
	if err != nil {
		return cart.LineItem{}, fmt.Errorf("price: %w", err)
	}
	qty := 1
	switch {
	case it.Quantity != nil:
		qty = *it.Quantity
	case it.Count != nil:
		qty = *it.Count
	}
	line := cart.LineItem{
		ProductID:  productID,
		LineID:     it.ID,
		Title:      it.Product.Title,
		Price:      price,
		Quantity:   qty,
		Color:      it.Color,
		Size:       it.Size,
		ImageCover: it.Product.ImageCover,
	}
	if it.Product.Brand != nil {
		line.Brand = it.Product.Brand.Name
	}
	if it.Product.PriceAfterDiscount != nil {
		if ref, err := parseAmount(it.Product.PriceAfterDiscount); err == nil {
			line.PriceAfterDiscount = &ref
		}
	}
	return line, nil
}

func parseAmount(n *json.Number) (decimal.Decimal, error) {
	if n == nil || *n == "" {
		return decimal.Zero, errors.New("missing")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", d)
	}
	return d, nil
}

func decodeOrder(body []byte, method PaymentMethod) (OrderResult, error) {
	var env sessionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return OrderResult{}, fmt.Errorf("%w: %v", errDecode, err)
	}
	result := OrderResult{Method: method}
	switch method {
	case PaymentCard:
		if env.Session == nil || strings.TrimSpace(env.Session.URL) == "" {
			return OrderResult{}, fmt.Errorf("%w: missing session.url", errDecode)
		}
		result.RedirectURL = strings.TrimSpace(env.Session.URL)
	default:
		if env.Data == nil || env.Data.Order == nil || strings.TrimSpace(env.Data.Order.ID) == "" {
			return OrderResult{}, fmt.Errorf("%w: missing data.order._id", errDecode)
		}
		result.OrderID = strings.TrimSpace(env.Data.Order.ID)
	}
	return result, nil
}

// apiMessage extracts a human-readable message from an error body.
func apiMessage(body []byte) string {
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error"} {
		if s, ok := env[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
