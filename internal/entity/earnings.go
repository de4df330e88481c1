package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type EarningsStatus string

const (
	EarningsLocked    EarningsStatus = "locked"
	EarningsAvailable EarningsStatus = "available"
	EarningsWithdrawn EarningsStatus = "withdrawn"
	EarningsCancelled EarningsStatus = "cancelled"
)

// EarningsLedgerEntry moves locked -> available -> withdrawn|cancelled and
// never backwards. UnlockAt is fixed when the row is created.
type EarningsLedgerEntry struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount"`
	Status         EarningsStatus  `gorm:"size:20;not null;index:idx_earnings_status_unlock,priority:1" json:"status"`
	SourceKind     string          `gorm:"size:30;not null" json:"source_kind"`
	UnlockAt       time.Time       `gorm:"not null;index:idx_earnings_status_unlock,priority:2" json:"unlock_at"`
	AvailableAt    *time.Time      `json:"available_at,omitempty"`
	ClaimedBy      *string         `gorm:"size:64" json:"-"`
	ClaimExpiresAt *time.Time      `json:"-"`
	SplitFromID    *uuid.UUID      `gorm:"type:uuid;index" json:"split_from_id,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (e *EarningsLedgerEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID, err = uuid.NewV7()
	}
	return
}
