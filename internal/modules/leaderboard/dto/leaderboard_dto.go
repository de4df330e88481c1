package dto

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TimeframeAllTime = "all_time"
	TimeframeWeekly  = "weekly"
	TimeframeMonthly = "monthly"
)

type LeaderboardQuery struct {
	Timeframe string `form:"timeframe" binding:"omitempty,oneof=all_time weekly monthly"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=50"`
}

// LeaderboardEntry is one ranked member. Position is 1-based; Tier always
// reflects all-time earnings whatever the timeframe.
type LeaderboardEntry struct {
	UserID       uuid.UUID       `json:"user_id"`
	Username     string          `json:"username"`
	Position     int             `json:"position"`
	Points       decimal.Decimal `json:"points"`
	Tier         string          `json:"tier"`
	NextTier     string          `json:"next_tier"`
	Progress     float64         `json:"progress"`
	WeeklyPoints decimal.Decimal `json:"weekly_points"`
	WeeklyLabel  string          `json:"weekly_label,omitempty"`
}
