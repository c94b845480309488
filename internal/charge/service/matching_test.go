package service

import (
	"testing"

	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestMatchFilterFirstFullMatchWins(t *testing.T) {
	charge := &chargedomain.Charge{
		Filters: []chargedomain.ChargeFilter{
			{
				ID: 1,
				Values: []chargedomain.ChargeFilterValue{
					{Key: "region", Values: datatypes.JSONSlice[string]{"eu"}},
					{Key: "tier", Values: datatypes.JSONSlice[string]{"gold"}},
				},
			},
			{
				ID: 2,
				Values: []chargedomain.ChargeFilterValue{
					{Key: "region", Values: datatypes.JSONSlice[string]{"eu", "us"}},
				},
			},
		},
	}

	tests := []struct {
		name       string
		properties map[string]interface{}
		wantID     int64
	}{
		{
			name:       "full match on first filter",
			properties: map[string]interface{}{"region": "eu", "tier": "gold"},
			wantID:     1,
		},
		{
			name:       "partial match falls through to second",
			properties: map[string]interface{}{"region": "eu", "tier": "silver"},
			wantID:     2,
		},
		{
			name:       "no match",
			properties: map[string]interface{}{"region": "apac"},
			wantID:     0,
		},
		{
			name:       "missing key",
			properties: map[string]interface{}{"tier": "gold"},
			wantID:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &eventdomain.Event{Properties: datatypes.JSONMap(tt.properties)}
			got := MatchFilter(charge, event)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.EqualValues(t, tt.wantID, got.ID)
			}
		})
	}
}

func TestFilterValues(t *testing.T) {
	assert.Nil(t, FilterValues(nil))

	filter := &chargedomain.ChargeFilter{
		Values: []chargedomain.ChargeFilterValue{
			{Key: "region", Values: datatypes.JSONSlice[string]{"eu", "us"}},
		},
	}
	assert.Equal(t, map[string][]string{"region": {"eu", "us"}}, FilterValues(filter))
}
