package pricing

import "github.com/shopspring/decimal"

// Money represents a monetary amount in the store currency.
type Money = decimal.Decimal

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Rule is a free-shipping threshold paired with the flat fee charged below it.
// WaiveWhenEmpty drops the fee for a cart with no items, so an empty
// checkout totals zero.
type Rule struct {
	Threshold      Money
	FlatFee        Money
	WaiveWhenEmpty bool
}

// NewRule builds a Rule from whole currency units.
func NewRule(threshold, flatFee int64) Rule {
	return Rule{Threshold: decimal.NewFromInt(threshold), FlatFee: decimal.NewFromInt(flatFee)}
}

// Summary aggregates computed pricing components. It is derived on demand
// and never stored.
type Summary struct {
	Subtotal     Money `json:"subtotal"`
	ShippingFee  Money `json:"shippingFee"`
	GrandTotal   Money `json:"grandTotal"`
	FreeShipping bool  `json:"freeShipping"`
	ItemCount    int   `json:"itemCount"`
}

// LineTotal returns unit price times quantity.
func LineTotal(it Item) Money {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty)))
}

// Subtotal sums line totals. An empty slice yields zero.
func Subtotal(items []Item) Money {
	subtotal := decimal.Zero
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal = subtotal.Add(LineTotal(it))
	}
	return subtotal
}

// ShippingFee waives the fee only when subtotal is strictly greater than
// the threshold; a subtotal equal to the threshold still pays the fee.
func ShippingFee(subtotal Money, rule Rule) Money {
	if subtotal.GreaterThan(rule.Threshold) {
		return decimal.Zero
	}
	return rule.FlatFee
}

// GrandTotal returns subtotal plus the shipping fee for the rule.
func GrandTotal(items []Item, rule Rule) Money {
	return Summarize(items, rule).GrandTotal
}

// Summarize calculates cart totals for the rule.
func Summarize(items []Item, rule Rule) Summary {
	subtotal := Subtotal(items)
	count := 0
	for _, it := range items {
		if it.Qty > 0 {
			count += it.Qty
		}
	}
	fee := ShippingFee(subtotal, rule)
	free := fee.IsZero()
	if count == 0 && rule.WaiveWhenEmpty {
		fee = decimal.Zero
	}
	return Summary{
		Subtotal:     subtotal,
		ShippingFee:  fee,
		GrandTotal:   subtotal.Add(fee),
		FreeShipping: free,
		ItemCount:    count,
	}
}
