package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Site struct {
	ID         uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    uuid.UUID           `gorm:"type:uuid;not null;index" json:"owner_id"`
	Owner      User                `gorm:"foreignKey:OwnerID" json:"-"`
	URL        string              `gorm:"type:text;not null" json:"url"`
	PayoutRate decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"payout_rate"` // points per view, null means default
	Active     bool                `gorm:"not null" json:"active"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func (s *Site) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == uuid.Nil {
		s.ID, err = uuid.NewV7()
	}
	return
}

// PointsPerView resolves the payout for one credited view.
func (s *Site) PointsPerView(fallback decimal.Decimal) decimal.Decimal {
	if s.PayoutRate.Valid && s.PayoutRate.Decimal.IsPositive() {
		return s.PayoutRate.Decimal
	}
	return fallback
}
