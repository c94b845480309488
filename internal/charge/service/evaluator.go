package service

import (
	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	"github.com/shopspring/decimal"
)

// Evaluator maps an aggregated quantity to a monetary amount for every
// charge model. All arithmetic stays in decimals; the fee materializer owns
// the final conversion to minor currency units.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Input carries the aggregation outputs a charge model may read.
type Input struct {
	Aggregation aggregationdomain.Result
	// PreciseAmount is the event-supplied total in currency units,
	// consumed by the dynamic model only.
	PreciseAmount decimal.Decimal
}

// Apply evaluates the model over the full aggregated quantity
// (deferred / in-arrears billing).
func (e *Evaluator) Apply(
	model chargedomain.ChargeModel,
	props chargedomain.Properties,
	in Input,
) (*chargedomain.ApplyResult, error) {
	if !model.Valid() {
		return nil, chargedomain.ErrUnsupportedModel
	}

	units := in.Aggregation.Aggregation
	amount, err := e.amountFor(model, props, units, in)
	if err != nil {
		return nil, err
	}

	return &chargedomain.ApplyResult{
		Units:      units,
		Amount:     amount,
		UnitAmount: safeUnitAmount(amount, units),
		Count:      in.Aggregation.Count,
	}, nil
}

// ApplyPayInAdvance evaluates the share attributable to the triggering
// event: the difference between the amount at the new total and the amount
// at the total before this event.
func (e *Evaluator) ApplyPayInAdvance(
	model chargedomain.ChargeModel,
	props chargedomain.Properties,
	in Input,
) (*chargedomain.ApplyResult, error) {
	if !model.Valid() {
		return nil, chargedomain.ErrUnsupportedModel
	}

	delta := in.Aggregation.PayInAdvanceAggregation
	total := in.Aggregation.Aggregation

	var amount decimal.Decimal
	var err error
	switch model {
	case chargedomain.ModelDynamic:
		amount = in.PreciseAmount
	case chargedomain.ModelPercentage:
		amount, err = e.percentagePerTransaction(props, delta)
	default:
		var after, before decimal.Decimal
		after, err = e.amountFor(model, props, total, in)
		if err == nil {
			before, err = e.amountFor(model, props, total.Sub(delta), in)
		}
		if err == nil {
			amount = after.Sub(before)
			if amount.IsNegative() {
				amount = decimal.Zero
			}
		}
	}
	if err != nil {
		return nil, err
	}

	return &chargedomain.ApplyResult{
		Units:      delta,
		Amount:     amount,
		UnitAmount: safeUnitAmount(amount, delta),
		Count:      1,
	}, nil
}

func (e *Evaluator) amountFor(
	model chargedomain.ChargeModel,
	props chargedomain.Properties,
	units decimal.Decimal,
	in Input,
) (decimal.Decimal, error) {
	switch model {
	case chargedomain.ModelStandard:
		return e.standard(props, units)
	case chargedomain.ModelPackage:
		return e.pkg(props, units)
	case chargedomain.ModelGraduated:
		return e.graduated(props, units)
	case chargedomain.ModelPercentage:
		return e.percentage(props, units, in.Aggregation.Count)
	case chargedomain.ModelVolume:
		return e.volume(props, units)
	case chargedomain.ModelDynamic:
		return in.PreciseAmount, nil
	}
	return decimal.Zero, chargedomain.ErrUnsupportedModel
}

func (e *Evaluator) standard(props chargedomain.Properties, units decimal.Decimal) (decimal.Decimal, error) {
	rate, err := parseAmount(props.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	return units.Mul(rate), nil
}

func (e *Evaluator) pkg(props chargedomain.Properties, units decimal.Decimal) (decimal.Decimal, error) {
	if props.PackageSize <= 0 {
		return decimal.Zero, chargedomain.ErrInvalidPackageSize
	}
	price, err := parseAmount(props.Amount)
	if err != nil {
		return decimal.Zero, err
	}

	billable := units.Sub(decimal.NewFromInt(props.FreeUnits))
	if !billable.IsPositive() {
		return decimal.Zero, nil
	}
	packages := billable.Div(decimal.NewFromInt(props.PackageSize)).Ceil()
	return packages.Mul(price), nil
}

func (e *Evaluator) percentage(props chargedomain.Properties, units decimal.Decimal, count int64) (decimal.Decimal, error) {
	rate, err := parseAmount(props.Rate)
	if err != nil {
		return decimal.Zero, err
	}
	amount := units.Mul(rate).Div(decimal.NewFromInt(100))

	if props.FixedAmount != "" {
		fixed, err := parseAmount(props.FixedAmount)
		if err != nil {
			return decimal.Zero, err
		}
		amount = amount.Add(fixed.Mul(decimal.NewFromInt(count)))
	}
	return amount, nil
}

// percentagePerTransaction applies the rate to one event's value and clamps
// the result to the configured per-transaction bounds.
func (e *Evaluator) percentagePerTransaction(props chargedomain.Properties, value decimal.Decimal) (decimal.Decimal, error) {
	rate, err := parseAmount(props.Rate)
	if err != nil {
		return decimal.Zero, err
	}
	amount := value.Mul(rate).Div(decimal.NewFromInt(100))

	if props.FixedAmount != "" {
		fixed, err := parseAmount(props.FixedAmount)
		if err != nil {
			return decimal.Zero, err
		}
		amount = amount.Add(fixed)
	}

	if props.PerTransactionMinAmount != "" {
		minAmount, err := parseAmount(props.PerTransactionMinAmount)
		if err != nil {
			return decimal.Zero, err
		}
		amount = decimal.Max(amount, minAmount)
	}
	if props.PerTransactionMaxAmount != "" {
		maxAmount, err := parseAmount(props.PerTransactionMaxAmount)
		if err != nil {
			return decimal.Zero, err
		}
		amount = decimal.Min(amount, maxAmount)
	}
	return amount, nil
}

func (e *Evaluator) volume(props chargedomain.Properties, units decimal.Decimal) (decimal.Decimal, error) {
	if len(props.VolumeRanges) == 0 {
		return decimal.Zero, chargedomain.ErrInvalidRanges
	}
	if units.IsZero() || units.IsNegative() {
		return decimal.Zero, nil
	}

	// A single tier, selected by the total quantity, prices the entire
	// quantity.
	for _, r := range props.VolumeRanges {
		from := decimal.NewFromInt(r.FromValue)
		if units.LessThan(from) {
			continue
		}
		if r.ToValue != nil && units.GreaterThan(decimal.NewFromInt(*r.ToValue)) {
			continue
		}

		perUnit, err := parseAmount(r.PerUnitAmount)
		if err != nil {
			return decimal.Zero, err
		}
		flat, err := parseAmount(r.FlatAmount)
		if err != nil {
			return decimal.Zero, err
		}
		return units.Mul(perUnit).Add(flat), nil
	}
	return decimal.Zero, chargedomain.ErrInvalidRanges
}

func safeUnitAmount(amount, units decimal.Decimal) decimal.Decimal {
	if units.IsZero() {
		return decimal.Zero
	}
	// 11 significant digits hold enough precision for displayed unit
	// rates without drifting across many fee lines.
	return amount.DivRound(units, 11)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, chargedomain.ErrInvalidProperties
	}
	return value, nil
}
