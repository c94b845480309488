package service

import (
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
)

// MatchFilter returns the first charge filter whose every key matches the
// event's properties, or nil when none match and the charge's default
// properties apply.
func MatchFilter(charge *chargedomain.Charge, event *eventdomain.Event) *chargedomain.ChargeFilter {
	for i := range charge.Filters {
		filter := &charge.Filters[i]
		if filterMatches(filter, event) {
			return filter
		}
	}
	return nil
}

func filterMatches(filter *chargedomain.ChargeFilter, event *eventdomain.Event) bool {
	if len(filter.Values) == 0 {
		return false
	}
	for _, fv := range filter.Values {
		value, ok := event.PropertyString(fv.Key)
		if !ok {
			return false
		}
		if !contains(fv.Values, value) {
			return false
		}
	}
	return true
}

// FilterValues flattens a charge filter into the key to accepted-values
// form the aggregation engine consumes.
func FilterValues(filter *chargedomain.ChargeFilter) map[string][]string {
	if filter == nil {
		return nil
	}
	values := make(map[string][]string, len(filter.Values))
	for _, fv := range filter.Values {
		values[fv.Key] = append([]string(nil), fv.Values...)
	}
	return values
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
