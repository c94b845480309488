// Package domain contains the tax computation contracts consumed when a
// fee is taxed.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/tally/internal/customer/domain"
	"github.com/shopspring/decimal"
)

// Breakdown is the outcome of taxing one fee amount.
type Breakdown struct {
	// Rate is the applied percentage, e.g. 20 for 20%.
	Rate           decimal.Decimal
	TaxAmountCents int64
}

type ComputeInput struct {
	OrgID       snowflake.ID
	Customer    *customerdomain.Customer
	AmountCents int64
	Currency    string
}

// Computer applies the customer's local tax rate. It never fails on a
// zero rate; zero is a valid rate.
type Computer interface {
	Compute(ctx context.Context, in ComputeInput) (*Breakdown, error)
}

// Provider fetches taxes from an external integration. Any failure it
// returns aborts fee persistence for invoiceable charges.
type Provider interface {
	FetchTaxes(ctx context.Context, in ComputeInput) (*Breakdown, error)
}

var (
	ErrProviderUnavailable = errors.New("tax_provider_unavailable")
	ErrProviderResponse    = errors.New("tax_provider_error")
)
