package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// record is the persisted shape of one line item.
type record struct {
	ProductID          string       `json:"productId"`
	LineID             string       `json:"lineId,omitempty"`
	Title              string       `json:"title"`
	Price              json.Number  `json:"price"`
	Quantity           int          `json:"quantity"`
	ImageCover         string       `json:"imageCover,omitempty"`
	Brand              *brandRecord `json:"brand,omitempty"`
	PriceAfterDiscount *json.Number `json:"priceAfterDiscount,omitempty"`
	Color              string       `json:"color,omitempty"`
	Size               string       `json:"size,omitempty"`
}

type brandRecord struct {
	Name string `json:"name"`
}

// Encode serialises a cart as a JSON array of line item records with
// prices written as JSON numbers.
func Encode(c Cart) ([]byte, error) {
	records := make([]record, 0, len(c.Items))
	for _, it := range c.Items {
		rec := record{
			ProductID:  it.ProductID,
			LineID:     it.LineID,
			Title:      it.Title,
			Price:      json.Number(it.Price.String()),
			Quantity:   it.Quantity,
			ImageCover: it.ImageCover,
			Color:      it.Color,
			Size:       it.Size,
		}
		if it.Brand != "" {
			rec.Brand = &brandRecord{Name: it.Brand}
		}
		if it.PriceAfterDiscount != nil {
			n := json.Number(it.PriceAfterDiscount.String())
			rec.PriceAfterDiscount = &n
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// Decode parses a persisted cart. Entries without a product identifier are
// dropped and quantities below 1 are raised to 1. Duplicate keys fold into
// one entry. A document that is not a JSON array of records is an error.
func Decode(data []byte) (Cart, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Empty(), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var records []record
	if err := dec.Decode(&records); err != nil {
		return Empty(), fmt.Errorf("cart: decode: %w", err)
	}
	out := Empty()
	for _, rec := range records {
		id := strings.TrimSpace(rec.ProductID)
		if id == "" {
			continue
		}
		price, err := parsePrice(rec.Price)
		if err != nil {
			return Empty(), fmt.Errorf("cart: decode price for %s: %w", id, err)
		}
		item := LineItem{
			ProductID:  id,
			LineID:     rec.LineID,
			Title:      rec.Title,
			Price:      price,
			Quantity:   rec.Quantity,
			ImageCover: rec.ImageCover,
			Color:      rec.Color,
			Size:       rec.Size,
		}
		if rec.Brand != nil {
			item.Brand = rec.Brand.Name
		}
		if rec.PriceAfterDiscount != nil && *rec.PriceAfterDiscount != "" {
			ref, err := parsePrice(*rec.PriceAfterDiscount)
			if err == nil {
				item.PriceAfterDiscount = &ref
			}
		}
		out.Items = append(out.Items, item)
	}
	return Normalize(out), nil
}

func parsePrice(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", d)
	}
	return d, nil
}
