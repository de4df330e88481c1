package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StartRequest struct {
	SiteID string `json:"site_id" binding:"required,uuid"`
}

type StartResponse struct {
	SessionToken string    `json:"session_token"`
	SessionID    uuid.UUID `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
}

type CompleteRequest struct {
	SessionToken string `json:"session_token" binding:"required,max=64"`
	SiteID       string `json:"site_id" binding:"omitempty,uuid"`
}

type CompleteResponse struct {
	SessionID     uuid.UUID       `json:"session_id"`
	PointsAwarded decimal.Decimal `json:"points_awarded"`
}
