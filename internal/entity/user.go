package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User is owned by the identity directory. Balance and earnings columns are
// projections of the ledgers and are only written by ledger repositories in
// the same transaction as the entry they summarise.
type User struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Username          string          `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Role              string          `gorm:"size:20;not null" json:"role"`
	ReferralCode      string          `gorm:"size:32;uniqueIndex;not null" json:"referral_code"`
	ReferrerID        *uuid.UUID      `gorm:"type:uuid;index" json:"referrer_id,omitempty"`
	PointsBalance     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"points_balance"`
	AvailableEarnings decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"available_earnings"`
	LockedEarnings    decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"locked_earnings"`
	FraudFlagCount    int             `gorm:"not null;default:0" json:"fraud_flag_count"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	return nil
}
