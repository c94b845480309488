package service

import (
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

func (e *Evaluator) graduated(props chargedomain.Properties, units decimal.Decimal) (decimal.Decimal, error) {
	if len(props.GraduatedRanges) == 0 {
		return decimal.Zero, chargedomain.ErrInvalidRanges
	}

	total := decimal.Zero
	for _, r := range props.GraduatedRanges {
		rangeUnits := graduatedRangeUnits(units, r)
		if !rangeUnits.IsPositive() {
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

		total = total.Add(rangeUnits.Mul(perUnit))
		if units.IsPositive() {
			total = total.Add(flat)
		}
	}
	return total, nil
}

// graduatedRangeUnits counts the units falling inside one tier. A bounded
// tier [from, to] holds min(total, to) - max(from, 1) + 1 units once the
// total reaches it; the terminal open tier holds total - from + 1.
func graduatedRangeUnits(total decimal.Decimal, r chargedomain.TierRange) decimal.Decimal {
	lower := decimal.NewFromInt(r.FromValue)
	if lower.LessThan(one) {
		lower = one
	}
	if total.LessThan(lower) {
		return decimal.Zero
	}

	if r.ToValue == nil {
		return total.Sub(lower).Add(one)
	}
	upper := decimal.NewFromInt(*r.ToValue)
	return decimal.Min(total, upper).Sub(lower).Add(one)
}
