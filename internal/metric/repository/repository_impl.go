package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	metricdomain "github.com/smallbiznis/tally/internal/metric/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() metricdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*metricdomain.Metric, error) {
	var metric metricdomain.Metric
	err := db.WithContext(ctx).
		Preload("Filters").
		Where("org_id = ? AND id = ?", orgID, id).
		First(&metric).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*metricdomain.Metric, error) {
	var metric metricdomain.Metric
	err := db.WithContext(ctx).
		Preload("Filters").
		Where("org_id = ? AND code = ?", orgID, code).
		First(&metric).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}
