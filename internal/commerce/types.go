package commerce

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	// PaymentCard redirects to a hosted payment session.
	PaymentCard PaymentMethod = "card"
	// PaymentCash places the order for payment on delivery.
	PaymentCash PaymentMethod = "cash"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCard || m == PaymentCash
}

// ShippingAddress is the delivery destination entered at checkout.
type ShippingAddress struct {
	Details string `json:"details" validate:"required"`
	City    string `json:"city" validate:"required"`
	Phone   string `json:"phone" validate:"required,phone"`
}

// OrderRequest is the body of an order submission. CartItems lists remote
// line identifiers.
type OrderRequest struct {
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	CartItems       []string        `json:"cartItems"`
}

// OrderResult is the outcome of a successful submission. Card orders carry
// a RedirectURL; cash orders carry an OrderID.
type OrderResult struct {
	Method      PaymentMethod `json:"paymentMethod"`
	OrderID     string        `json:"orderId,omitempty"`
	RedirectURL string        `json:"redirectUrl,omitempty"`
}
