package domain

import (
	"context"
	"errors"
	"time"
)

// IngestRequest is the event ingestion boundary payload.
type IngestRequest struct {
	OrganizationID          string         `json:"organization_id"`
	ExternalSubscriptionID  string         `json:"external_subscription_id"`
	ExternalCustomerID      string         `json:"external_customer_id"`
	Code                    string         `json:"code"`
	TransactionID           string         `json:"transaction_id"`
	Timestamp               time.Time      `json:"timestamp"`
	Properties              map[string]any `json:"properties"`
	PreciseTotalAmountCents string         `json:"precise_total_amount_cents,omitempty"`
}

type Service interface {
	// Ingest validates, stores and post-processes one usage event.
	// Duplicate transaction ids surface ErrDuplicateTransactionID.
	Ingest(ctx context.Context, req IngestRequest) (*Event, error)

	// Prepare validates the request and resolves its subscription without
	// persisting anything. Fee estimation runs on the prepared event.
	Prepare(ctx context.Context, req IngestRequest) (*Event, error)
}

var (
	ErrInvalidOrganization    = errors.New("invalid_organization")
	ErrInvalidCode            = errors.New("invalid_code")
	ErrInvalidTransactionID   = errors.New("invalid_transaction_id")
	ErrInvalidTimestamp       = errors.New("invalid_timestamp")
	ErrMalformedProperties    = errors.New("malformed_properties")
	ErrDuplicateTransactionID = errors.New("value_already_exist")
)
