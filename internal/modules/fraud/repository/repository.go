package repository

import (
	"context"
	"fmt"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FlagFilter struct {
	UserID   *uuid.UUID
	Resolved *bool
	Limit    int
	Offset   int
}

type FraudRepository interface {
	// RecordFlag appends a flag and bumps the user's counter in tx.
	RecordFlag(ctx context.Context, tx *gorm.DB, flag *entity.FraudFlag) error
	List(ctx context.Context, filter FlagFilter) ([]entity.FraudFlag, int64, error)
	Resolve(ctx context.Context, id, reviewerID uuid.UUID, note string, at time.Time) (*entity.FraudFlag, error)
}

type fraudRepository struct {
	db *gorm.DB
}

func NewFraudRepository(db *gorm.DB) FraudRepository {
	return &fraudRepository{db: db}
}

func (r *fraudRepository) RecordFlag(ctx context.Context, tx *gorm.DB, flag *entity.FraudFlag) error {
	if err := tx.WithContext(ctx).Create(flag).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", flag.UserID).
		Update("fraud_flag_count", gorm.Expr("fraud_flag_count + 1")).Error
}

func (r *fraudRepository) List(ctx context.Context, filter FlagFilter) ([]entity.FraudFlag, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&entity.FraudFlag{})
		if filter.UserID != nil {
			query = query.Where("user_id = ?", *filter.UserID)
		}
		if filter.Resolved != nil {
			if *filter.Resolved {
				query = query.Where("resolved_at IS NOT NULL")
			} else {
				query = query.Where("resolved_at IS NULL")
			}
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var flags []entity.FraudFlag
	err := scoped().
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&flags).Error
	return flags, total, err
}

func (r *fraudRepository) Resolve(ctx context.Context, id, reviewerID uuid.UUID, note string, at time.Time) (*entity.FraudFlag, error) {
	var flag entity.FraudFlag
	err := database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Model(&entity.FraudFlag{}).
			Where("id = ? AND resolved_at IS NULL", id).
			Updates(map[string]interface{}{
				"resolved_at":     at,
				"resolved_by":     reviewerID,
				"resolution_note": note,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", id).First(&flag).Error; err != nil {
			return database.NotFound(err, "fraud flag")
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("fraud flag already resolved: %w", apperror.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}
