package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// FraudFlag is append-only; only the resolution columns are ever updated,
// and only by a reviewer.
type FraudFlag struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	SessionID      *uuid.UUID `gorm:"type:uuid;index" json:"session_id,omitempty"`
	Reason         string     `gorm:"size:50;not null" json:"reason"`
	Severity       string     `gorm:"size:10;not null" json:"severity"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *uuid.UUID `gorm:"type:uuid" json:"resolved_by,omitempty"`
	ResolutionNote string     `gorm:"type:text" json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
}

func (f *FraudFlag) BeforeCreate(tx *gorm.DB) (err error) {
	if f.ID == uuid.Nil {
		f.ID, err = uuid.NewV7()
	}
	return
}
