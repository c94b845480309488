package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindByPlanAndMetric returns the charges binding one metric to a
	// plan, filters preloaded, in creation order.
	FindByPlanAndMetric(ctx context.Context, db *gorm.DB, orgID, planID, metricID snowflake.ID) ([]Charge, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Charge, error)
}
