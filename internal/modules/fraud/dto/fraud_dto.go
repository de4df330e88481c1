package dto

import (
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/dto"
	"github.com/google/uuid"
)

type FlagQuery struct {
	dto.PaginationQuery
	UserID string `form:"user_id" binding:"omitempty,uuid"`
	Status string `form:"status" binding:"omitempty,oneof=open resolved"`
}

type ResolveFlagRequest struct {
	Note string `json:"note" binding:"required,max=1000"`
}

type FlagResponse struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
	Reason         string     `json:"reason"`
	Severity       string     `json:"severity"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *uuid.UUID `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type PaginatedFlagResponse struct {
	Data []FlagResponse     `json:"data"`
	Meta dto.PaginationMeta `json:"meta"`
}

func ToFlagResponse(f *entity.FraudFlag) FlagResponse {
	return FlagResponse{
		ID:             f.ID,
		UserID:         f.UserID,
		SessionID:      f.SessionID,
		Reason:         f.Reason,
		Severity:       f.Severity,
		ResolvedAt:     f.ResolvedAt,
		ResolvedBy:     f.ResolvedBy,
		ResolutionNote: f.ResolutionNote,
		CreatedAt:      f.CreatedAt,
	}
}
