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

type ViewRepository interface {
	Create(ctx context.Context, tx *gorm.DB, session *entity.ViewSession) error
	// LockByToken loads the session for token FOR UPDATE, so concurrent
	// completions of one token run one after another.
	LockByToken(ctx context.Context, tx *gorm.DB, token string) (*entity.ViewSession, error)
	LockViewer(ctx context.Context, tx *gorm.DB, viewerID uuid.UUID) error
	HasPending(ctx context.Context, tx *gorm.DB, viewerID uuid.UUID) (bool, error)
	// MarkValid and MarkRejected only move pending sessions; a session that
	// is already terminal yields ErrConflict. MarkValid records the address
	// the credit was admitted from, which is what the ip cooldown counts.
	MarkValid(ctx context.Context, tx *gorm.DB, id uuid.UUID, completedAt time.Time, points decimal.Decimal, ip string) error
	MarkRejected(ctx context.Context, tx *gorm.DB, id uuid.UUID, completedAt time.Time, reason string) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.ViewSession, error)
	GetSite(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*entity.Site, error)
}

type viewRepository struct {
	db *gorm.DB
}

func NewViewRepository(db *gorm.DB) ViewRepository {
	return &viewRepository{db: db}
}

func (r *viewRepository) Create(ctx context.Context, tx *gorm.DB, session *entity.ViewSession) error {
	return tx.WithContext(ctx).Create(session).Error
}

func (r *viewRepository) LockByToken(ctx context.Context, tx *gorm.DB, token string) (*entity.ViewSession, error) {
	var session entity.ViewSession
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", token).
		First(&session).Error
	if err != nil {
		return nil, database.NotFound(err, "view session")
	}
	return &session, nil
}

func (r *viewRepository) LockViewer(ctx context.Context, tx *gorm.DB, viewerID uuid.UUID) error {
	var user entity.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", viewerID).
		First(&user).Error
	return database.NotFound(err, "user")
}

func (r *viewRepository) HasPending(ctx context.Context, tx *gorm.DB, viewerID uuid.UUID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&entity.ViewSession{}).
		Where("viewer_id = ? AND status = ?", viewerID, entity.ViewPending).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *viewRepository) MarkValid(ctx context.Context, tx *gorm.DB, id uuid.UUID, completedAt time.Time, points decimal.Decimal, ip string) error {
	return r.transition(ctx, tx, id, map[string]interface{}{
		"status":         entity.ViewValid,
		"completed_at":   completedAt,
		"points_awarded": points,
		"ip_address":     ip,
	})
}

func (r *viewRepository) MarkRejected(ctx context.Context, tx *gorm.DB, id uuid.UUID, completedAt time.Time, reason string) error {
	return r.transition(ctx, tx, id, map[string]interface{}{
		"status":       entity.ViewRejected,
		"completed_at": completedAt,
		"fraud_reason": reason,
	})
}

func (r *viewRepository) transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	res := tx.WithContext(ctx).
		Model(&entity.ViewSession{}).
		Where("id = ? AND status = ?", id, entity.ViewPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("view session %s is not pending: %w", id, apperror.ErrConflict)
	}
	return nil
}

func (r *viewRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.ViewSession, error) {
	var session entity.ViewSession
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		return nil, database.NotFound(err, "view session")
	}
	return &session, nil
}

// GetSite reads the site inside tx; the payout rate is resolved in the same
// transaction that credits the view.
func (r *viewRepository) GetSite(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*entity.Site, error) {
	var site entity.Site
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&site).Error; err != nil {
		return nil, database.NotFound(err, "site")
	}
	return &site, nil
}
