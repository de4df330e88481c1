package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PointsKind string

const (
	KindViewEarn        PointsKind = "view_earn"
	KindReferralBonus   PointsKind = "referral_bonus"
	KindConversion      PointsKind = "conversion"
	KindAdminAdjustment PointsKind = "admin_adjustment"
)

// PointsLedgerEntry is immutable. A user's points balance is the sum of
// their entries; users.points_balance is the cached projection.
//
// idx_points_kind_session is unique on (kind, session_id) so a view session
// can back at most one view_earn entry. Entries without a session have a
// NULL session_id and never collide.
type PointsLedgerEntry struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index:idx_points_user_kind_created,priority:1" json:"user_id"`
	User      User            `gorm:"foreignKey:UserID" json:"-"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Kind      PointsKind      `gorm:"size:30;not null;index:idx_points_user_kind_created,priority:2;uniqueIndex:idx_points_kind_session,priority:1" json:"kind"`
	SessionID *uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_points_kind_session,priority:2" json:"session_id,omitempty"`
	Note      string          `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time       `gorm:"not null;index:idx_points_user_kind_created,priority:3;index:idx_points_created" json:"created_at"`
}

func (p *PointsLedgerEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == uuid.Nil {
		p.ID, err = uuid.NewV7()
	}
	return
}

// ReferralBonus guards bonus issuance: one row per referred user.
type ReferralBonus struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ReferredUserID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"referred_user_id"`
	ReferrerID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"referrer_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (r *ReferralBonus) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID, err = uuid.NewV7()
	}
	return
}
