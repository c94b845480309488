package domain

import (
	"context"

	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
)

// FailureKind closes the set of ways fee materialization ends short of a
// persisted fee.
type FailureKind string

const (
	FailureValidation  FailureKind = "validation_failure"
	FailureAggregation FailureKind = "aggregation_failure"
	FailureChargeModel FailureKind = "charge_model_failure"
	FailureTaxProvider FailureKind = "tax_provider_failure"
	// FailureConflict marks a concurrent duplicate; callers treat it as
	// benign success since the winning fee already exists.
	FailureConflict FailureKind = "conflict_failure"
)

// Failure describes why materialization stopped and at which step of the
// fee lifecycle.
type Failure struct {
	Kind    FailureKind
	Step    FeeStatus
	Code    string
	Message string
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Code + ": " + f.Message
}

// Result is the outcome of materializing fees for one event. Fees and
// Failure are mutually exclusive except on FailureConflict, where the
// already-persisted fees are returned.
type Result struct {
	Fees    []Fee
	Failure *Failure
}

type Service interface {
	// CreateFromEvent materializes pay-in-advance fees for every
	// matching charge of the event's subscription plan. Idempotent per
	// event transaction.
	CreateFromEvent(ctx context.Context, event *eventdomain.Event) (*Result, error)
	// EstimateFromEvent runs the same pipeline without persisting,
	// snapshotting or notifying.
	EstimateFromEvent(ctx context.Context, event *eventdomain.Event) (*Result, error)
}
