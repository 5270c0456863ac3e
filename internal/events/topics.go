package events

// Topic constants for events emitted by the storefront.
const (
	TopicOrderPlaced        = "order.placed"
	TopicCheckoutRedirected = "checkout.redirected"
	TopicCheckoutFailed     = "checkout.failed"
	TopicCartCleared        = "cart.cleared"
	TopicCartClearFailed    = "cart.clear_failed"
	TopicSessionChanged     = "session.changed"
	TopicSessionExpired     = "session.expired"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicOrderPlaced,
		TopicCheckoutRedirected,
		TopicCheckoutFailed,
		TopicCartCleared,
		TopicCartClearFailed,
		TopicSessionChanged,
		TopicSessionExpired,
	}
}
