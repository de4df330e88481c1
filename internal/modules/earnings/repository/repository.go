package repository

import (
	"context"
	"fmt"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Totals struct {
	Locked    decimal.Decimal
	Available decimal.Decimal
}

type EarningsRepository interface {
	// Create inserts a locked entry and adds it to the user's locked total.
	Create(ctx context.Context, tx *gorm.DB, entry *entity.EarningsLedgerEntry) error
	// ClaimDue marks up to limit due locked entries as claimed by worker
	// until now+ttl and returns their ids. Entries under a live claim held
	// by someone else are skipped.
	ClaimDue(ctx context.Context, worker string, now time.Time, ttl time.Duration, limit int) ([]uuid.UUID, error)
	// Unlock moves one claimed entry to available and shifts its amount on
	// the user. It reports false when the entry no longer qualifies.
	Unlock(ctx context.Context, id uuid.UUID, worker string, now time.Time) (*entity.EarningsLedgerEntry, bool, error)
	LockAvailable(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]entity.EarningsLedgerEntry, error)
	SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to entity.EarningsStatus) error
	CreateChild(ctx context.Context, tx *gorm.DB, entry *entity.EarningsLedgerEntry) error
	DebitUserAvailable(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error
	SumByStatus(ctx context.Context, userID uuid.UUID, status entity.EarningsStatus) (decimal.Decimal, error)
	Totals(ctx context.Context, userID uuid.UUID) (Totals, error)
	NextUnlock(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.EarningsLedgerEntry, int64, error)
}

type earningsRepository struct {
	db *gorm.DB
}

func NewEarningsRepository(db *gorm.DB) EarningsRepository {
	return &earningsRepository{db: db}
}

func (r *earningsRepository) Create(ctx context.Context, tx *gorm.DB, entry *entity.EarningsLedgerEntry) error {
	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	res := tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", entry.UserID).
		Update("locked_earnings", gorm.Expr("locked_earnings + ?", entry.Amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user: %w", apperror.ErrNotFound)
	}
	return nil
}

func dueScope(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("status = ? AND unlock_at <= ?", entity.EarningsLocked, now).
		Where("(claimed_by IS NULL OR claim_expires_at IS NULL OR claim_expires_at < ?)", now)
}

func (r *earningsRepository) ClaimDue(ctx context.Context, worker string, now time.Time, ttl time.Duration, limit int) ([]uuid.UUID, error) {
	db := r.db.WithContext(ctx)

	candidates := dueScope(db.Model(&entity.EarningsLedgerEntry{}).Select("id"), now).
		Order("unlock_at ASC").
		Limit(limit).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

	// The outer filter is repeated so a row claimed by a concurrent sweep
	// between the two reads is left alone.
	err := dueScope(db.Model(&entity.EarningsLedgerEntry{}), now).
		Where("id IN (?)", candidates).
		Updates(map[string]interface{}{
			"claimed_by":       worker,
			"claim_expires_at": now.Add(ttl),
		}).Error
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	err = db.Model(&entity.EarningsLedgerEntry{}).
		Where("claimed_by = ? AND status = ?", worker, entity.EarningsLocked).
		Order("unlock_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func (r *earningsRepository) Unlock(ctx context.Context, id uuid.UUID, worker string, now time.Time) (*entity.EarningsLedgerEntry, bool, error) {
	var (
		entry    entity.EarningsLedgerEntry
		unlocked bool
	)
	err := database.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Model(&entity.EarningsLedgerEntry{}).
			Where("id = ? AND status = ? AND claimed_by = ? AND unlock_at <= ?", id, entity.EarningsLocked, worker, now).
			Updates(map[string]interface{}{
				"status":           entity.EarningsAvailable,
				"available_at":     now,
				"claimed_by":       nil,
				"claim_expires_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Where("id = ?", id).First(&entry).Error; err != nil {
			return err
		}
		err := tx.Model(&entity.User{}).
			Where("id = ?", entry.UserID).
			Updates(map[string]interface{}{
				"locked_earnings":    gorm.Expr("locked_earnings - ?", entry.Amount),
				"available_earnings": gorm.Expr("available_earnings + ?", entry.Amount),
			}).Error
		if err != nil {
			return err
		}
		unlocked = true
		return nil
	})
	if err != nil || !unlocked {
		return nil, false, err
	}
	return &entry, true, nil
}

func (r *earningsRepository) LockAvailable(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]entity.EarningsLedgerEntry, error) {
	var entries []entity.EarningsLedgerEntry
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, entity.EarningsAvailable).
		Order("unlock_at ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *earningsRepository) SetStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from, to entity.EarningsStatus) error {
	res := tx.WithContext(ctx).
		Model(&entity.EarningsLedgerEntry{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("earnings entry %s is not %s: %w", id, from, apperror.ErrConflict)
	}
	return nil
}

func (r *earningsRepository) CreateChild(ctx context.Context, tx *gorm.DB, entry *entity.EarningsLedgerEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *earningsRepository) DebitUserAvailable(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	res := tx.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ? AND available_earnings - ? >= 0", userID, amount).
		Update("available_earnings", gorm.Expr("available_earnings - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrInsufficientFunds
	}
	return nil
}

func (r *earningsRepository) SumByStatus(ctx context.Context, userID uuid.UUID, status entity.EarningsStatus) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&entity.EarningsLedgerEntry{}).
		Select("SUM(amount)").
		Where("user_id = ? AND status = ?", userID, status).
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

func (r *earningsRepository) Totals(ctx context.Context, userID uuid.UUID) (Totals, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Select("id", "locked_earnings", "available_earnings").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return Totals{}, database.NotFound(err, "user")
	}
	return Totals{Locked: user.LockedEarnings, Available: user.AvailableEarnings}, nil
}

func (r *earningsRepository) NextUnlock(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var entries []entity.EarningsLedgerEntry
	err := r.db.WithContext(ctx).
		Select("id", "unlock_at").
		Where("user_id = ? AND status = ?", userID, entity.EarningsLocked).
		Order("unlock_at ASC").
		Limit(1).
		Find(&entries).Error
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0].UnlockAt, nil
}

func (r *earningsRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]entity.EarningsLedgerEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&entity.EarningsLedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []entity.EarningsLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, total, err
}
