package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-storefront/internal/pricing"
)

// Key identifies a line item: one product in one variant.
type Key struct {
	ProductID string
	Color     string
	Size      string
}

// ProductKey is a key without variant attributes.
func ProductKey(productID string) Key {
	return Key{ProductID: strings.TrimSpace(productID)}
}

// LineItem is one product-and-variant entry in a cart.
type LineItem struct {
	ProductID          string           `json:"productId"`
	LineID             string           `json:"lineId,omitempty"`
	Title              string           `json:"title"`
	Price              decimal.Decimal  `json:"price"`
	PriceAfterDiscount *decimal.Decimal `json:"priceAfterDiscount,omitempty"`
	Quantity           int              `json:"quantity"`
	Color              string           `json:"color,omitempty"`
	Size               string           `json:"size,omitempty"`
	Brand              string           `json:"brand,omitempty"`
	ImageCover         string           `json:"imageCover,omitempty"`
}

// Key returns the identity of the line item.
func (l LineItem) Key() Key {
	return Key{ProductID: l.ProductID, Color: l.Color, Size: l.Size}
}

// Cart is an ordered sequence of line items.
type Cart struct {
	Items []LineItem `json:"items"`
}

// Empty returns a cart with no items. Items is non-nil so it renders as [].
func Empty() Cart {
	return Cart{Items: []LineItem{}}
}

// Len returns the number of distinct line items.
func (c Cart) Len() int { return len(c.Items) }

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

// PricingItems converts the cart for the pricing engine.
func (c Cart) PricingItems() []pricing.Item {
	out := make([]pricing.Item, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, pricing.Item{Qty: it.Quantity, UnitPrice: it.Price})
	}
	return out
}

// Summary prices the cart under rule.
func (c Cart) Summary(rule pricing.Rule) pricing.Summary {
	return pricing.Summarize(c.PricingItems(), rule)
}

// ProductIDs lists product identifiers in cart order.
func (c Cart) ProductIDs() []string {
	out := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, it.ProductID)
	}
	return out
}

// Find returns the index of the item with key, or -1.
func Find(c Cart, key Key) int {
	for i, it := range c.Items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}

// Count returns the total quantity across all items.
func Count(c Cart) int {
	total := 0
	for _, it := range c.Items {
		total += it.Quantity
	}
	return total
}

// Add folds item into the cart. An existing entry with the same key has its
// quantity incremented; otherwise the item is appended. qty below 1 is
// treated as 1.
func Add(c Cart, item LineItem, qty int) Cart {
	if qty < 1 {
		qty = 1
	}
	out := clone(c)
	if i := Find(out, item.Key()); i >= 0 {
		out.Items[i].Quantity += qty
		return out
	}
	item.Quantity = qty
	out.Items = append(out.Items, item)
	return out
}

// SetQuantity adds delta to the matching item's quantity, clamped at 1.
// A missing key leaves the cart unchanged.
func SetQuantity(c Cart, key Key, delta int) Cart {
	out := clone(c)
	if i := Find(out, key); i >= 0 {
		out.Items[i].Quantity = clampQty(out.Items[i].Quantity + delta)
	}
	return out
}

// Remove drops the matching item. Removing an absent key is a no-op.
func Remove(c Cart, key Key) Cart {
	out := Cart{Items: make([]LineItem, 0, len(c.Items))}
	for _, it := range c.Items {
		if it.Key() == key {
			continue
		}
		out.Items = append(out.Items, it)
	}
	return out
}

// Merge folds other into base. Items present in both keep the larger
// quantity so merging the same cart twice does not double it.
func Merge(base, other Cart) Cart {
	out := clone(base)
	for _, it := range other.Items {
		if i := Find(out, it.Key()); i >= 0 {
			if it.Quantity > out.Items[i].Quantity {
				out.Items[i].Quantity = it.Quantity
			}
			continue
		}
		it.Quantity = clampQty(it.Quantity)
		out.Items = append(out.Items, it)
	}
	return out
}

// Normalize clamps quantities to at least 1 and folds duplicate keys,
// keeping the first occurrence's position.
func Normalize(c Cart) Cart {
	out := Empty()
	for _, it := range c.Items {
		it.Quantity = clampQty(it.Quantity)
		if i := Find(out, it.Key()); i >= 0 {
			out.Items[i].Quantity += it.Quantity
			continue
		}
		out.Items = append(out.Items, it)
	}
	return out
}

func clampQty(q int) int {
	if q < 1 {
		return 1
	}
	return q
}

func clone(c Cart) Cart {
	items := make([]LineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}
