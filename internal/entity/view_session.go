package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ViewStatus string

const (
	ViewPending  ViewStatus = "pending"
	ViewValid    ViewStatus = "valid"
	ViewRejected ViewStatus = "rejected"
)

// ViewSession is one claimed viewing of a site. Rows are never deleted; the
// (ip, completed_at) and (viewer, completed_at) indexes back the rate limits.
type ViewSession struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	Token         string              `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ViewerID      uuid.UUID           `gorm:"type:uuid;not null;index:idx_view_sessions_viewer_completed,priority:1" json:"viewer_id"`
	SiteID        uuid.UUID           `gorm:"type:uuid;not null;index" json:"site_id"`
	Site          Site                `gorm:"foreignKey:SiteID" json:"-"`
	IPAddress     string              `gorm:"size:64;not null;index:idx_view_sessions_ip_completed,priority:1" json:"ip_address"`
	UserAgent     string              `gorm:"type:text" json:"user_agent"`
	Status        ViewStatus          `gorm:"size:20;not null;index" json:"status"`
	StartedAt     time.Time           `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time          `gorm:"index:idx_view_sessions_ip_completed,priority:2;index:idx_view_sessions_viewer_completed,priority:2" json:"completed_at,omitempty"`
	PointsAwarded decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"points_awarded"`
	FraudReason   *string             `gorm:"size:50" json:"fraud_reason,omitempty"`
}

func (v *ViewSession) BeforeCreate(tx *gorm.DB) (err error) {
	if v.ID == uuid.Nil {
		v.ID, err = uuid.NewV7()
	}
	return
}

func (v *ViewSession) IsTerminal() bool {
	return v.Status == ViewValid || v.Status == ViewRejected
}
