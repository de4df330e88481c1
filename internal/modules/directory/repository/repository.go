// Package repository is the read side of the identity and site directory.
// Users and sites are owned elsewhere; this service only looks them up.
package repository

import (
	"context"
	"strings"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/apperror"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DirectoryRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error)
	GetSite(ctx context.Context, id uuid.UUID) (*entity.Site, error)
	// ResolveReferralCode returns the owner of code, or ErrNotFound.
	ResolveReferralCode(ctx context.Context, code string) (uuid.UUID, error)
	Count(ctx context.Context) (int64, error)
}

type directoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var user entity.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, database.NotFound(err, "user")
	}
	return &user, nil
}

func (r *directoryRepository) GetSite(ctx context.Context, id uuid.UUID) (*entity.Site, error) {
	var site entity.Site
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&site).Error; err != nil {
		return nil, database.NotFound(err, "site")
	}
	return &site, nil
}

func (r *directoryRepository) ResolveReferralCode(ctx context.Context, code string) (uuid.UUID, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return uuid.Nil, apperror.ErrInvalidInput
	}

	var user entity.User
	if err := r.db.WithContext(ctx).
		Select("id").
		Where("referral_code = ?", code).
		First(&user).Error; err != nil {
		return uuid.Nil, database.NotFound(err, "referral code")
	}
	return user.ID, nil
}

func (r *directoryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entity.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
