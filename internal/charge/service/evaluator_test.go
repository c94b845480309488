package service

import (
	"testing"

	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrInt64(v int64) *int64 { return &v }

func aggregated(total string, count int64) Input {
	return Input{
		Aggregation: aggregationdomain.Result{
			Aggregation: decimal.RequireFromString(total),
			Count:       count,
		},
	}
}

func TestApplyStandard(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name   string
		amount string
		units  string
		want   string
	}{
		{name: "whole units", amount: "0.5", units: "10", want: "5"},
		{name: "fractional units", amount: "2", units: "1.25", want: "2.5"},
		{name: "zero units", amount: "3", units: "0", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Apply(
				chargedomain.ModelStandard,
				chargedomain.Properties{Amount: tt.amount},
				aggregated(tt.units, 1),
			)
			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.RequireFromString(tt.want)),
				"amount = %s, want %s", result.Amount, tt.want)
		})
	}
}

func TestApplyPackage(t *testing.T) {
	e := NewEvaluator()
	props := chargedomain.Properties{
		Amount:      "5",
		PackageSize: 100,
		FreeUnits:   50,
	}

	tests := []struct {
		name  string
		units string
		want  string
	}{
		{name: "within free units", units: "50", want: "0"},
		{name: "partial package rounds up", units: "51", want: "5"},
		{name: "exact packages", units: "250", want: "10"},
		{name: "crosses into next package", units: "251", want: "15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Apply(chargedomain.ModelPackage, props, aggregated(tt.units, 1))
			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.RequireFromString(tt.want)),
				"amount = %s, want %s", result.Amount, tt.want)
		})
	}
}

func TestApplyPackageInvalidSize(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Apply(
		chargedomain.ModelPackage,
		chargedomain.Properties{Amount: "5", PackageSize: 0},
		aggregated("10", 1),
	)
	assert.ErrorIs(t, err, chargedomain.ErrInvalidPackageSize)
}

func TestApplyGraduated(t *testing.T) {
	e := NewEvaluator()
	props := chargedomain.Properties{
		GraduatedRanges: []chargedomain.TierRange{
			{FromValue: 1, ToValue: ptrInt64(10), PerUnitAmount: "2", FlatAmount: "0"},
			{FromValue: 11, ToValue: nil, PerUnitAmount: "1", FlatAmount: "5"},
		},
	}

	tests := []struct {
		name  string
		units string
		want  string
	}{
		{name: "zero units", units: "0", want: "0"},
		{name: "inside first tier", units: "4", want: "8"},
		{name: "first tier boundary", units: "10", want: "20"},
		// 10 units at 2 plus 5 units at 1 plus the second tier's flat fee.
		{name: "spans both tiers", units: "15", want: "30"},
		{name: "one unit into second tier", units: "11", want: "26"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Apply(chargedomain.ModelGraduated, props, aggregated(tt.units, 1))
			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.RequireFromString(tt.want)),
				"amount = %s, want %s", result.Amount, tt.want)
		})
	}
}

func TestApplyGraduatedEmptyRanges(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Apply(chargedomain.ModelGraduated, chargedomain.Properties{}, aggregated("5", 1))
	assert.ErrorIs(t, err, chargedomain.ErrInvalidRanges)
}

func TestApplyVolume(t *testing.T) {
	e := NewEvaluator()
	props := chargedomain.Properties{
		VolumeRanges: []chargedomain.TierRange{
			{FromValue: 0, ToValue: ptrInt64(100), PerUnitAmount: "2", FlatAmount: "1"},
			{FromValue: 101, ToValue: nil, PerUnitAmount: "1", FlatAmount: "10"},
		},
	}

	tests := []struct {
		name  string
		units string
		want  string
	}{
		{name: "zero units", units: "0", want: "0"},
		// The selected tier prices the entire quantity.
		{name: "first tier", units: "100", want: "201"},
		{name: "second tier reprices everything", units: "101", want: "111"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Apply(chargedomain.ModelVolume, props, aggregated(tt.units, 1))
			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.RequireFromString(tt.want)),
				"amount = %s, want %s", result.Amount, tt.want)
		})
	}
}

func TestApplyPercentage(t *testing.T) {
	e := NewEvaluator()

	result, err := e.Apply(
		chargedomain.ModelPercentage,
		chargedomain.Properties{Rate: "2.5", FixedAmount: "0.3"},
		aggregated("1000", 4),
	)
	require.NoError(t, err)
	// 1000 * 2.5% plus the fixed fee on each of the 4 transactions.
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("26.2")),
		"amount = %s", result.Amount)
}

func TestApplyDynamic(t *testing.T) {
	e := NewEvaluator()

	result, err := e.Apply(chargedomain.ModelDynamic, chargedomain.Properties{}, Input{
		Aggregation: aggregationdomain.Result{
			Aggregation: decimal.RequireFromString("3"),
			Count:       1,
		},
		PreciseAmount: decimal.RequireFromString("12.345"),
	})
	require.NoError(t, err)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("12.345")))
}

func TestApplyUnsupportedModel(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Apply(chargedomain.ChargeModel("bogus"), chargedomain.Properties{}, aggregated("1", 1))
	assert.ErrorIs(t, err, chargedomain.ErrUnsupportedModel)
}

func TestApplyPayInAdvanceStandardDelta(t *testing.T) {
	e := NewEvaluator()

	result, err := e.ApplyPayInAdvance(
		chargedomain.ModelStandard,
		chargedomain.Properties{Amount: "0.1"},
		Input{Aggregation: aggregationdomain.Result{
			Aggregation:             decimal.RequireFromString("120"),
			PayInAdvanceAggregation: decimal.RequireFromString("20"),
			Count:                   1,
		}},
	)
	require.NoError(t, err)
	assert.True(t, result.Units.Equal(decimal.RequireFromString("20")))
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("2")),
		"amount = %s", result.Amount)
}

func TestApplyPayInAdvanceGraduatedBillsOnlyTheDelta(t *testing.T) {
	e := NewEvaluator()
	props := chargedomain.Properties{
		GraduatedRanges: []chargedomain.TierRange{
			{FromValue: 1, ToValue: ptrInt64(10), PerUnitAmount: "2", FlatAmount: "0"},
			{FromValue: 11, ToValue: nil, PerUnitAmount: "1", FlatAmount: "5"},
		},
	}

	// Total moved from 8 to 15: 2 more units in the first tier, 5 units
	// and the flat fee in the second.
	result, err := e.ApplyPayInAdvance(chargedomain.ModelGraduated, props, Input{
		Aggregation: aggregationdomain.Result{
			Aggregation:             decimal.RequireFromString("15"),
			PayInAdvanceAggregation: decimal.RequireFromString("7"),
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Amount.Equal(decimal.RequireFromString("14")),
		"amount = %s", result.Amount)
}

func TestApplyPayInAdvancePercentageClamp(t *testing.T) {
	e := NewEvaluator()
	props := chargedomain.Properties{
		Rate:                    "1",
		PerTransactionMinAmount: "0.5",
		PerTransactionMaxAmount: "2",
	}

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{name: "below minimum", value: "10", want: "0.5"},
		{name: "within bounds", value: "100", want: "1"},
		{name: "above maximum", value: "1000", want: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.ApplyPayInAdvance(chargedomain.ModelPercentage, props, Input{
				Aggregation: aggregationdomain.Result{
					Aggregation:             decimal.RequireFromString(tt.value),
					PayInAdvanceAggregation: decimal.RequireFromString(tt.value),
				},
			})
			require.NoError(t, err)
			assert.True(t, result.Amount.Equal(decimal.RequireFromString(tt.want)),
				"amount = %s, want %s", result.Amount, tt.want)
		})
	}
}
