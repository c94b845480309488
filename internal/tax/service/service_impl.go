package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smallbiznis/tally/internal/config"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config config.Config
}

// localComputer applies the customer's configured tax rate. Amounts round
// half-up to the minor currency unit.
type localComputer struct {
	log *zap.Logger
}

func NewComputer(p Params) taxdomain.Computer {
	return &localComputer{log: p.Log.Named("tax.service")}
}

func (c *localComputer) Compute(ctx context.Context, in taxdomain.ComputeInput) (*taxdomain.Breakdown, error) {
	rate := decimal.Zero
	if in.Customer != nil {
		rate = decimal.NewFromFloat(in.Customer.TaxRate)
	}

	taxCents := decimal.NewFromInt(in.AmountCents).
		Mul(rate).
		Div(decimal.NewFromInt(100)).
		Round(0)

	return &taxdomain.Breakdown{
		Rate:           rate,
		TaxAmountCents: taxCents.IntPart(),
	}, nil
}

// httpProvider fetches taxes from an external integration over HTTP.
type httpProvider struct {
	log      *zap.Logger
	endpoint string
	client   *http.Client
}

func NewProvider(p Params) taxdomain.Provider {
	timeout := time.Duration(p.Config.TaxProviderTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpProvider{
		log:      p.Log.Named("tax.provider"),
		endpoint: p.Config.TaxProviderEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type providerRequest struct {
	OrgID              string `json:"organization_id"`
	ExternalCustomerID string `json:"external_customer_id"`
	AmountCents        int64  `json:"amount_cents"`
	Currency           string `json:"currency"`
}

type providerResponse struct {
	TaxRate        string `json:"tax_rate"`
	TaxAmountCents int64  `json:"tax_amount_cents"`
}

func (p *httpProvider) FetchTaxes(ctx context.Context, in taxdomain.ComputeInput) (*taxdomain.Breakdown, error) {
	if p.endpoint == "" {
		return nil, taxdomain.ErrProviderUnavailable
	}

	payload := providerRequest{
		OrgID:       in.OrgID.String(),
		AmountCents: in.AmountCents,
		Currency:    in.Currency,
	}
	if in.Customer != nil {
		payload.ExternalCustomerID = in.Customer.ExternalID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taxdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", taxdomain.ErrProviderResponse, resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", taxdomain.ErrProviderResponse, err)
	}

	rate := decimal.Zero
	if parsed.TaxRate != "" {
		rate, err = decimal.NewFromString(parsed.TaxRate)
		if err != nil {
			return nil, fmt.Errorf("%w: bad tax_rate", taxdomain.ErrProviderResponse)
		}
	}
	return &taxdomain.Breakdown{
		Rate:           rate,
		TaxAmountCents: parsed.TaxAmountCents,
	}, nil
}
