package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/smallbiznis/tally/internal/charge/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() chargedomain.Repository {
	return &repo{}
}

func (r *repo) FindByPlanAndMetric(ctx context.Context, db *gorm.DB, orgID, planID, metricID snowflake.ID) ([]chargedomain.Charge, error) {
	var charges []chargedomain.Charge
	err := db.WithContext(ctx).
		Preload("Filters").
		Preload("Filters.Values").
		Where("org_id = ? AND plan_id = ? AND metric_id = ?", orgID, planID, metricID).
		Order("created_at ASC, id ASC").
		Find(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).
		Preload("Filters").
		Preload("Filters.Values").
		Where("org_id = ? AND id = ?", orgID, id).
		First(&charge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &charge, nil
}
