package service

import (
	"context"
	"fmt"
	"time"

	leaderboardDto "anoa.com/trafficexchange/internal/modules/leaderboard/dto"
	leaderboardRepo "anoa.com/trafficexchange/internal/modules/leaderboard/repository"
	"anoa.com/trafficexchange/pkg/apperror"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultLimit = 10

type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, query leaderboardDto.LeaderboardQuery) ([]leaderboardDto.LeaderboardEntry, error)
}

type leaderboardService struct {
	repo leaderboardRepo.LeaderboardRepository
	now  func() time.Time
}

func NewLeaderboardService(repo leaderboardRepo.LeaderboardRepository, now func() time.Time) LeaderboardService {
	if now == nil {
		now = time.Now
	}
	return &leaderboardService{repo: repo, now: now}
}

func (s *leaderboardService) GetLeaderboard(ctx context.Context, query leaderboardDto.LeaderboardQuery) ([]leaderboardDto.LeaderboardEntry, error) {
	limit := query.Limit
	if limit < 1 {
		limit = defaultLimit
	}

	now := s.now().UTC()
	weekStart := now.AddDate(0, 0, -7)

	var since *time.Time
	switch query.Timeframe {
	case "", leaderboardDto.TimeframeAllTime:
	case leaderboardDto.TimeframeWeekly:
		since = &weekStart
	case leaderboardDto.TimeframeMonthly:
		monthStart := now.AddDate(0, -1, 0)
		since = &monthStart
	default:
		return nil, fmt.Errorf("unknown timeframe %q: %w", query.Timeframe, apperror.ErrInvalidInput)
	}

	standings, err := s.repo.TopEarners(ctx, since, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(standings))
	for _, st := range standings {
		ids = append(ids, st.UserID)
	}

	weekly, err := s.repo.EarnedSince(ctx, ids, weekStart)
	if err != nil {
		return nil, err
	}

	// Tiers are always all-time; a period board needs the all-time sums too.
	allTime := make(map[uuid.UUID]decimal.Decimal, len(standings))
	if since == nil {
		for _, st := range standings {
			allTime[st.UserID] = st.Total
		}
	} else if allTime, err = s.repo.EarnedSince(ctx, ids, time.Time{}); err != nil {
		return nil, err
	}

	entries := make([]leaderboardDto.LeaderboardEntry, 0, len(standings))
	for i, st := range standings {
		tier := TierFor(allTime[st.UserID])
		entries = append(entries, leaderboardDto.LeaderboardEntry{
			UserID:       st.UserID,
			Username:     st.Username,
			Position:     i + 1,
			Points:       st.Total,
			Tier:         tier.Name,
			NextTier:     tier.Next,
			Progress:     tier.Progress,
			WeeklyPoints: weekly[st.UserID],
			WeeklyLabel:  WeeklyLabel(weekly[st.UserID]),
		})
	}
	return entries, nil
}
