package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	aggregationdomain "github.com/smallbiznis/tally/internal/aggregation/domain"
	eventdomain "github.com/smallbiznis/tally/internal/event/domain"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreAggregate folds a non-recurring sum event into its hourly accumulator.
// The read-modify-write runs under a row lock so concurrent events for the
// same bucket never lose updates.
func (s *Service) PreAggregate(
	ctx context.Context,
	event eventdomain.Event,
	metric metricdomain.Metric,
) error {
	if metric.Aggregation != metricdomain.AggregationSum || metric.Recurring {
		return nil
	}

	value, present, err := event.PropertyDecimal(metric.FieldName)
	if err != nil {
		return aggregationdomain.ErrInvalidFieldValue
	}
	if !present {
		return nil
	}

	filters := make(map[string]any, len(event.Properties))
	for k, v := range event.Properties {
		if k == metric.FieldName {
			continue
		}
		filters[k] = v
	}
	bucket := event.Timestamp.UTC().Truncate(time.Hour)
	hash := filtersHash(filters)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.lockPreAggregation(ctx, tx, event, metric, hash, bucket)
		if err != nil {
			return err
		}

		if row == nil {
			now := time.Now().UTC()
			created := &aggregationdomain.PreAggregation{
				ID:                     s.genID.Generate(),
				OrgID:                  event.OrgID,
				ExternalSubscriptionID: event.ExternalSubscriptionID,
				Code:                   metric.Code,
				FiltersHash:            hash,
				BucketStart:            bucket,
				Filters:                datatypes.JSONMap(filters),
				AggregatedValue:        value,
				Units:                  1,
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			result := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "org_id"}, {Name: "external_subscription_id"},
					{Name: "code"}, {Name: "filters_hash"}, {Name: "bucket_start"},
				},
				DoNothing: true,
			}).Create(created)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				return nil
			}
			// Lost the insert race: lock the winner and fall through.
			row, err = s.lockPreAggregation(ctx, tx, event, metric, hash, bucket)
			if err != nil {
				return err
			}
			if row == nil {
				return fmt.Errorf("pre aggregation bucket vanished")
			}
		}

		return tx.Model(&aggregationdomain.PreAggregation{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"aggregated_value": row.AggregatedValue.Add(value),
				"units":            row.Units + 1,
				"updated_at":       time.Now().UTC(),
			}).Error
	})
}

func (s *Service) lockPreAggregation(
	ctx context.Context,
	tx *gorm.DB,
	event eventdomain.Event,
	metric metricdomain.Metric,
	hash string,
	bucket time.Time,
) (*aggregationdomain.PreAggregation, error) {
	query := tx.WithContext(ctx).
		Where("org_id = ? AND external_subscription_id = ? AND code = ? AND filters_hash = ? AND bucket_start = ?",
			event.OrgID, event.ExternalSubscriptionID, metric.Code, hash, bucket)
	if strings.EqualFold(tx.Dialector.Name(), "postgres") {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []aggregationdomain.PreAggregation
	if err := query.Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func filtersHash(filters map[string]any) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, filters[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
