package domain

import "context"

// Notifier delivers pipeline notifications to the configured endpoint.
// Delivery is fire-and-forget with at-least-once semantics; callers never
// block on, or fail because of, dispatch.
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any)
}

const (
	EventFeeCreated       = "fee.created"
	EventFeeTaxError      = "fee.tax_provider_error"
	EventEventError       = "event.error"
	EventSubscriptionless = "event.missing_subscription"
)
