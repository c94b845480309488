package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	feedomain "github.com/smallbiznis/tally/internal/fee/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() feedomain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, tx *gorm.DB, fee *feedomain.Fee) error {
	return tx.WithContext(ctx).Create(fee).Error
}

func (r *repo) FindForAdvanceEvent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, transactionID string, chargeID snowflake.ID, chargeFilterID *snowflake.ID) (*feedomain.Fee, error) {
	query := db.WithContext(ctx).
		Where("org_id = ? AND pay_in_advance_event_transaction_id = ? AND charge_id = ?",
			orgID, transactionID, chargeID)
	if chargeFilterID != nil {
		query = query.Where("charge_filter_id = ?", *chargeFilterID)
	} else {
		query = query.Where("charge_filter_id IS NULL")
	}

	var fee feedomain.Fee
	if err := query.First(&fee).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fee, nil
}
