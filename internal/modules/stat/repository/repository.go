package repository

import (
	"context"

	"anoa.com/trafficexchange/internal/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Totals are the ledger projections summed over every user.
type Totals struct {
	Points    decimal.Decimal
	Locked    decimal.Decimal
	Available decimal.Decimal
}

type StatRepository interface {
	SessionsByStatus(ctx context.Context) (map[entity.ViewStatus]int64, error)
	OpenFlags(ctx context.Context) (int64, error)
	Totals(ctx context.Context) (Totals, error)
}

type statRepository struct {
	db *gorm.DB
}

func NewStatRepository(db *gorm.DB) StatRepository {
	return &statRepository{db: db}
}

func (r *statRepository) SessionsByStatus(ctx context.Context) (map[entity.ViewStatus]int64, error) {
	rows, err := r.db.WithContext(ctx).
		Model(&entity.ViewSession{}).
		Select("status, COUNT(*)").
		Group("status").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.ViewStatus]int64)
	for rows.Next() {
		var (
			status entity.ViewStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *statRepository) OpenFlags(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.FraudFlag{}).
		Where("resolved_at IS NULL").
		Count(&count).Error
	return count, err
}

func (r *statRepository) Totals(ctx context.Context) (Totals, error) {
	var points, locked, available decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&entity.User{}).
		Select("SUM(points_balance), SUM(locked_earnings), SUM(available_earnings)").
		Row().
		Scan(&points, &locked, &available)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Points: points.Decimal, Locked: locked.Decimal, Available: available.Decimal}, nil
}
