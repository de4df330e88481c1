package dto

import (
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EarningsQuery struct {
	dto.PaginationQuery
}

type EntryResponse struct {
	ID          uuid.UUID             `json:"id"`
	Amount      decimal.Decimal       `json:"amount"`
	Status      entity.EarningsStatus `json:"status"`
	SourceKind  string                `json:"source_kind"`
	UnlockAt    time.Time             `json:"unlock_at"`
	AvailableAt *time.Time            `json:"available_at,omitempty"`
	SplitFromID *uuid.UUID            `json:"split_from_id,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

type SummaryResponse struct {
	Locked     decimal.Decimal    `json:"locked"`
	Available  decimal.Decimal    `json:"available"`
	NextUnlock *time.Time         `json:"next_unlock,omitempty"`
	Entries    []EntryResponse    `json:"entries"`
	Meta       dto.PaginationMeta `json:"meta"`
}

type ConvertRequest struct {
	Points string `json:"points" binding:"required"`
}

type ConvertResponse struct {
	PointsDebited decimal.Decimal `json:"points_debited"`
	Entry         EntryResponse   `json:"entry"`
}

type AvailableResponse struct {
	UserID uuid.UUID       `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type DebitRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type DebitResponse struct {
	UserID    uuid.UUID       `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Withdrawn []uuid.UUID     `json:"withdrawn_entries"`
}

type SweepResponse struct {
	Unlocked int `json:"unlocked"`
}

func ToEntryResponse(e *entity.EarningsLedgerEntry) EntryResponse {
	return EntryResponse{
		ID:          e.ID,
		Amount:      e.Amount,
		Status:      e.Status,
		SourceKind:  e.SourceKind,
		UnlockAt:    e.UnlockAt,
		AvailableAt: e.AvailableAt,
		SplitFromID: e.SplitFromID,
		CreatedAt:   e.CreatedAt,
	}
}
