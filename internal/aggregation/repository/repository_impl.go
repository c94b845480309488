package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() aggregationdomain.Repository {
	return &repo{}
}

func (r *repo) FindLatestLocked(
	ctx context.Context,
	tx *gorm.DB,
	key aggregationdomain.BucketKey,
) (*aggregationdomain.CachedAggregation, error) {
	query := tx.WithContext(ctx).
		Where("org_id = ? AND external_subscription_id = ? AND charge_id = ?",
			key.OrgID, key.ExternalSubscriptionID, key.ChargeID).
		Where("grouped_by_hash = ?", aggregationdomain.GroupedByHash(key.GroupedBy)).
		Where("timestamp >= ? AND timestamp < ?",
			key.Boundaries.PeriodStart, key.Boundaries.PeriodEnd)

	if key.ChargeFilterID != nil {
		query = query.Where("charge_filter_id = ?", *key.ChargeFilterID)
	} else {
		query = query.Where("charge_filter_id IS NULL")
	}

	// SQLite has no FOR UPDATE; its writer lock already serializes.
	if strings.EqualFold(tx.Dialector.Name(), "postgres") {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var snapshots []aggregationdomain.CachedAggregation
	err := query.
		Order("timestamp DESC").
		Order("created_at DESC").
		Limit(1).
		Find(&snapshots).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}

func (r *repo) Create(
	ctx context.Context,
	tx *gorm.DB,
	snapshot *aggregationdomain.CachedAggregation,
) error {
	if snapshot.GroupedByHash == "" {
		snapshot.GroupedByHash = aggregationdomain.GroupedByHash(groupedByStrings(snapshot.GroupedBy))
	}
	return tx.WithContext(ctx).Create(snapshot).Error
}

func groupedByStrings(stored datatypes.JSONMap) map[string]string {
	if len(stored) == 0 {
		return nil
	}
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
