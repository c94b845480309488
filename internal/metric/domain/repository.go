package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Metric, error)
	FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*Metric, error)
}

var (
	ErrInvalidCode    = errors.New("invalid_code")
	ErrMetricNotFound = errors.New("metric_not_found")
)
