package service

import (
	"time"

	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	plandomain "github.com/smallbiznis/tally/internal/plan/domain"
)

// periodBoundaries computes the anniversary billing window of the
// subscription covering ts.
func periodBoundaries(interval plandomain.PlanInterval, startedAt, ts time.Time) aggregationdomain.Boundaries {
	step := intervalStep(interval)

	n := 0
	for !step(startedAt, n+1).After(ts) {
		n++
	}
	start := step(startedAt, n)
	end := step(startedAt, n+1)

	return aggregationdomain.Boundaries{
		PeriodStart:     start,
		PeriodEnd:       end,
		ChargesDuration: end.Sub(start),
		Timestamp:       ts,
	}
}

func intervalStep(interval plandomain.PlanInterval) func(time.Time, int) time.Time {
	switch interval {
	case plandomain.PlanIntervalWeekly:
		return func(t time.Time, n int) time.Time { return t.AddDate(0, 0, 7*n) }
	case plandomain.PlanIntervalQuarterly:
		return func(t time.Time, n int) time.Time { return t.AddDate(0, 3*n, 0) }
	case plandomain.PlanIntervalYearly:
		return func(t time.Time, n int) time.Time { return t.AddDate(n, 0, 0) }
	default:
		return func(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }
	}
}
