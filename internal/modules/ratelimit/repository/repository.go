package repository

import (
	"context"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RateLimitRepository interface {
	// LockKey takes the row lock for key inside tx, creating the row first
	// if needed. The lock is released when tx commits or rolls back.
	LockKey(ctx context.Context, tx *gorm.DB, key string, now time.Time) error
	LastValidFromIP(ctx context.Context, tx *gorm.DB, ip string, exclude uuid.UUID, since time.Time) (*time.Time, error)
	SumViewEarnings(ctx context.Context, db *gorm.DB, userID uuid.UUID, exclude uuid.UUID, from, to time.Time) (decimal.Decimal, error)
}

type rateLimitRepository struct{}

func NewRateLimitRepository() RateLimitRepository {
	return &rateLimitRepository{}
}

func (r *rateLimitRepository) LockKey(ctx context.Context, tx *gorm.DB, key string, now time.Time) error {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entity.RateLimitKey{Key: key, UpdatedAt: now}).Error
	if err != nil {
		return err
	}

	var row entity.RateLimitKey
	return tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("lock_key = ?", key).
		First(&row).Error
}

func (r *rateLimitRepository) LastValidFromIP(ctx context.Context, tx *gorm.DB, ip string, exclude uuid.UUID, since time.Time) (*time.Time, error) {
	var sessions []entity.ViewSession
	err := tx.WithContext(ctx).
		Select("id", "completed_at").
		Where("ip_address = ? AND status = ? AND completed_at > ? AND id <> ?", ip, entity.ViewValid, since, exclude).
		Order("completed_at DESC").
		Limit(1).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0].CompletedAt, nil
}

func (r *rateLimitRepository) SumViewEarnings(ctx context.Context, db *gorm.DB, userID uuid.UUID, exclude uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).
		Model(&entity.PointsLedgerEntry{}).
		Select("SUM(amount)").
		Where("user_id = ? AND kind = ? AND created_at >= ? AND created_at < ?", userID, entity.KindViewEarn, from, to).
		Where("(session_id IS NULL OR session_id <> ?)", exclude).
		Row().
		Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
