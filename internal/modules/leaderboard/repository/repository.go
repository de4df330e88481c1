package repository

import (
	"context"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EarnedKinds are the ledger kinds that count as earning points. Debits and
// admin corrections do not move a user on the board.
var EarnedKinds = []entity.PointsKind{entity.KindViewEarn, entity.KindReferralBonus}

type Standing struct {
	UserID   uuid.UUID
	Username string
	Total    decimal.Decimal
}

type LeaderboardRepository interface {
	// TopEarners ranks users by points earned since the given instant, or
	// over all time when since is nil. Ties go to the username.
	TopEarners(ctx context.Context, since *time.Time, limit int) ([]Standing, error)
	// EarnedSince sums earned points per user for the given users.
	EarnedSince(ctx context.Context, userIDs []uuid.UUID, since time.Time) (map[uuid.UUID]decimal.Decimal, error)
}

type leaderboardRepository struct {
	db *gorm.DB
}

func NewLeaderboardRepository(db *gorm.DB) LeaderboardRepository {
	return &leaderboardRepository{db: db}
}

func (r *leaderboardRepository) earned(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("points_ledger_entries AS p").
		Where("p.amount > 0 AND p.kind IN ?", EarnedKinds)
}

func (r *leaderboardRepository) TopEarners(ctx context.Context, since *time.Time, limit int) ([]Standing, error) {
	q := r.earned(ctx).
		Select("p.user_id, u.username, SUM(p.amount) AS total").
		Joins("JOIN users AS u ON u.id = p.user_id")
	if since != nil {
		q = q.Where("p.created_at >= ?", *since)
	}

	rows, err := q.
		Group("p.user_id, u.username").
		Order("total DESC").
		Order("u.username ASC").
		Limit(limit).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []Standing
	for rows.Next() {
		var (
			s     Standing
			total decimal.NullDecimal
		)
		if err := rows.Scan(&s.UserID, &s.Username, &total); err != nil {
			return nil, err
		}
		s.Total = total.Decimal
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

func (r *leaderboardRepository) EarnedSince(ctx context.Context, userIDs []uuid.UUID, since time.Time) (map[uuid.UUID]decimal.Decimal, error) {
	totals := make(map[uuid.UUID]decimal.Decimal, len(userIDs))
	if len(userIDs) == 0 {
		return totals, nil
	}

	rows, err := r.earned(ctx).
		Select("p.user_id, SUM(p.amount)").
		Where("p.user_id IN ? AND p.created_at >= ?", userIDs, since).
		Group("p.user_id").
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    uuid.UUID
			total decimal.NullDecimal
		)
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		totals[id] = total.Decimal
	}
	return totals, rows.Err()
}
