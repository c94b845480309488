package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
)

type eventPayload struct {
	OrganizationID          string         `json:"organization_id"`
	ExternalSubscriptionID  string         `json:"external_subscription_id"`
	ExternalCustomerID      string         `json:"external_customer_id"`
	Code                    string         `json:"code"`
	TransactionID           string         `json:"transaction_id"`
	Timestamp               any            `json:"timestamp"`
	Properties              map[string]any `json:"properties"`
	PreciseTotalAmountCents string         `json:"precise_total_amount_cents"`
}

type eventRequest struct {
	Event eventPayload `json:"event"`
}

func (p eventPayload) toIngestRequest() (eventdomain.IngestRequest, error) {
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return eventdomain.IngestRequest{}, eventdomain.ErrInvalidTimestamp
	}
	return eventdomain.IngestRequest{
		OrganizationID:          p.OrganizationID,
		ExternalSubscriptionID:  p.ExternalSubscriptionID,
		ExternalCustomerID:      p.ExternalCustomerID,
		Code:                    p.Code,
		TransactionID:           p.TransactionID,
		Timestamp:               ts,
		Properties:              p.Properties,
		PreciseTotalAmountCents: p.PreciseTotalAmountCents,
	}, nil
}

// parseTimestamp accepts unix seconds (with optional fraction) or RFC3339.
func parseTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		if unix, err := strconv.ParseFloat(v, 64); err == nil {
			sec, frac := math.Modf(unix)
			return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, eventdomain.ErrInvalidTimestamp
	}
}

func (s *Server) createEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ingest, err := req.Event.toIngestRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.events.Ingest(c.Request.Context(), ingest)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

type estimatedFee struct {
	AmountCents       int64  `json:"amount_cents"`
	AmountCurrency    string `json:"amount_currency"`
	TaxesAmountCents  int64  `json:"taxes_amount_cents"`
	Units             string `json:"units"`
	PreciseUnitAmount string `json:"precise_unit_amount"`
	EventsCount       int64  `json:"events_count"`
}

func (s *Server) estimateFees(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ingest, err := req.Event.toIngestRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.events.Prepare(c.Request.Context(), ingest)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.fees.EstimateFromEvent(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}
	if result.Failure != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	fees := make([]estimatedFee, 0, len(result.Fees))
	for _, fee := range result.Fees {
		fees = append(fees, estimatedFee{
			AmountCents:       fee.AmountCents,
			AmountCurrency:    fee.AmountCurrency,
			TaxesAmountCents:  fee.TaxesAmountCents,
			Units:             fee.Units.String(),
			PreciseUnitAmount: fee.PreciseUnitAmount.String(),
			EventsCount:       fee.EventsCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"fees": fees})
}
