package repository

import (
	"context"
	"errors"
	"fmt"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PointsRepository writes take the caller's transaction; the balance column
// is only ever moved together with the entry that explains it.
type PointsRepository interface {
	// Append inserts entry and applies its amount to the user's balance.
	// The balance update is conditional, so a debit that would take the
	// balance below zero fails with ErrInsufficientFunds.
	Append(ctx context.Context, tx *gorm.DB, entry *entity.PointsLedgerEntry) error
	LockUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*entity.User, error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	SumEntries(ctx context.Context, db *gorm.DB, userID uuid.UUID) (decimal.Decimal, error)
	History(ctx context.Context, userID uuid.UUID, kind string, limit, offset int) ([]entity.PointsLedgerEntry, int64, error)
	CreateReferralBonus(ctx context.Context, tx *gorm.DB, bonus *entity.ReferralBonus) error
	SetReferrer(ctx context.Context, tx *gorm.DB, userID, referrerID uuid.UUID) error
	SetBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance decimal.Decimal) error
}

type pointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) PointsRepository {
	return &pointsRepository{db: db}
}

func (r *pointsRepository) Append(ctx context.Context, tx *gorm.DB, entry *entity.PointsLedgerEntry) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("ledger entry %s for session: %w", entry.Kind, apperror.ErrConflict)
		}
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return fmt.Errorf("user: %w", apperror.ErrNotFound)
		}
		return err
	}

	res := tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND points_balance + ? >= 0", entry.UserID, entry.Amount).
		Update("points_balance", gorm.Expr("points_balance + ?", entry.Amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&entity.User{}).Where("id = ?", entry.UserID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("user: %w", apperror.ErrNotFound)
	}
	return apperror.ErrInsufficientFunds
}

func (r *pointsRepository) LockUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*entity.User, error) {
	var user entity.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, database.NotFound(err, "user")
	}
	return &user, nil
}

func (r *pointsRepository) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user entity.User
	err := r.db.WithContext(ctx).Select("id", "points_balance").Where("id = ?", userID).First(&user).Error
	if err != nil {
		return decimal.Zero, database.NotFound(err, "user")
	}
	return user.PointsBalance, nil
}

func (r *pointsRepository) SumEntries(ctx context.Context, db *gorm.DB, userID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).
		Model(&entity.PointsLedgerEntry{}).
		Select("SUM(amount)").
		Where("user_id = ?", userID).
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

func (r *pointsRepository) History(ctx context.Context, userID uuid.UUID, kind string, limit, offset int) ([]entity.PointsLedgerEntry, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&entity.PointsLedgerEntry{}).Where("user_id = ?", userID)
		if kind != "" {
			query = query.Where("kind = ?", kind)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []entity.PointsLedgerEntry
	err := scoped().
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, total, err
}

func (r *pointsRepository) CreateReferralBonus(ctx context.Context, tx *gorm.DB, bonus *entity.ReferralBonus) error {
	if err := tx.WithContext(ctx).Create(bonus).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("referral bonus already granted: %w", apperror.ErrConflict)
		}
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return fmt.Errorf("user: %w", apperror.ErrNotFound)
		}
		return err
	}
	return nil
}

func (r *pointsRepository) SetReferrer(ctx context.Context, tx *gorm.DB, userID, referrerID uuid.UUID) error {
	res := tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND (referrer_id IS NULL OR referrer_id = ?)", userID, referrerID).
		Update("referrer_id", referrerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&entity.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("user: %w", apperror.ErrNotFound)
	}
	return fmt.Errorf("referrer already set: %w", apperror.ErrConflict)
}

func (r *pointsRepository) SetBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID, balance decimal.Decimal) error {
	return tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", userID).
		Update("points_balance", balance).Error
}
