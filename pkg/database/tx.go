package database

import (
	"context"
	"errors"
	"fmt"

	"anoa.com/trafficexchange/pkg/apperror"
	"gorm.io/gorm"
)

// WithTx runs fn in one transaction. Domain errors returned by fn pass
// through untouched; anything else means the commit could not happen and is
// reported as ErrStorageFailure. Either way nothing fn wrote survives.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	err := db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", apperror.ErrStorageFailure, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		apperror.ErrValidationRejected,
		apperror.ErrNotFound,
		apperror.ErrConflict,
		apperror.ErrInsufficientFunds,
		apperror.ErrInvalidInput,
		apperror.ErrBadRequest,
		apperror.ErrForbidden,
		apperror.ErrStorageFailure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// NotFound maps gorm's missing-row error onto the app taxonomy.
func NotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperror.ErrNotFound)
	}
	return err
}
