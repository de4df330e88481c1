package dto

import (
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DailyQuery struct {
	Date string `form:"date" binding:"omitempty,datetime=2006-01-02"`
}

type DailyResponse struct {
	Date   string          `json:"date"`
	Points decimal.Decimal `json:"points"`
}

type BalanceResponse struct {
	UserID uuid.UUID       `json:"user_id"`
	Points decimal.Decimal `json:"points"`
}

type HistoryQuery struct {
	dto.PaginationQuery
	Kind string `form:"kind" binding:"omitempty,oneof=view_earn referral_bonus conversion admin_adjustment"`
}

type LedgerEntryResponse struct {
	ID        uuid.UUID         `json:"id"`
	Amount    decimal.Decimal   `json:"amount"`
	Kind      entity.PointsKind `json:"kind"`
	SessionID *uuid.UUID        `json:"session_id,omitempty"`
	Note      string            `json:"note,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type PaginatedHistoryResponse struct {
	Data []LedgerEntryResponse `json:"data"`
	Meta dto.PaginationMeta    `json:"meta"`
}

type ApplyReferralRequest struct {
	ReferralCode string `json:"referral_code" binding:"required,max=32"`
}

type ReferralResponse struct {
	ReferrerID uuid.UUID       `json:"referrer_id"`
	Bonus      decimal.Decimal `json:"bonus"`
}

type AdjustRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Amount string `json:"amount" binding:"required"`
	Note   string `json:"note" binding:"required,max=500"`
}

type ReconcileRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Fix    bool   `json:"fix"`
}

type ReconcileResponse struct {
	UserID    uuid.UUID       `json:"user_id"`
	Projected decimal.Decimal `json:"projected"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Drift     decimal.Decimal `json:"drift"`
	Fixed     bool            `json:"fixed"`
}

func ToLedgerEntryResponse(e *entity.PointsLedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:        e.ID,
		Amount:    e.Amount,
		Kind:      e.Kind,
		SessionID: e.SessionID,
		Note:      e.Note,
		CreatedAt: e.CreatedAt,
	}
}
