package service

import (
	"context"
	"fmt"
	"time"

	rlRepo "anoa.com/trafficexchange/internal/modules/ratelimit/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the key frees up; 0 when unknown.
	RetryAfter time.Duration
}

type Limits struct {
	IPCooldown    time.Duration
	DailyPointCap decimal.Decimal
	DayBoundary   *time.Location
}

// Limiter answers admission for the per-IP cooldown and the per-user daily
// cap. Both Admit calls are check-and-reserve: they lock the key inside tx
// and the slot is consumed by the valid session that same tx commits, so a
// concurrent completion on the same key waits and then sees it.
type Limiter interface {
	AdmitIP(ctx context.Context, tx *gorm.DB, ip string, session uuid.UUID, now time.Time) (Decision, error)
	AdmitUserDaily(ctx context.Context, tx *gorm.DB, userID uuid.UUID, session uuid.UUID, now time.Time) (Decision, error)
	DailyEarned(ctx context.Context, db *gorm.DB, userID uuid.UUID, date time.Time) (decimal.Decimal, error)
	DayBounds(t time.Time) (time.Time, time.Time)
}

type limiter struct {
	repo   rlRepo.RateLimitRepository
	limits Limits
}

func NewLimiter(repo rlRepo.RateLimitRepository, limits Limits) Limiter {
	if limits.DayBoundary == nil {
		limits.DayBoundary = time.UTC
	}
	return &limiter{repo: repo, limits: limits}
}

func IPKey(ip string) string {
	return fmt.Sprintf("ip:%s", ip)
}

func UserDayKey(userID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("user:%s:%s", userID.String(), day.Format("2006-01-02"))
}

func (l *limiter) AdmitIP(ctx context.Context, tx *gorm.DB, ip string, session uuid.UUID, now time.Time) (Decision, error) {
	if err := l.repo.LockKey(ctx, tx, IPKey(ip), now); err != nil {
		return Decision{}, fmt.Errorf("lock ip key: %w", err)
	}

	last, err := l.repo.LastValidFromIP(ctx, tx, ip, session, now.Add(-l.limits.IPCooldown))
	if err != nil {
		return Decision{}, fmt.Errorf("lookup last valid view for ip: %w", err)
	}
	if last == nil {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: last.Add(l.limits.IPCooldown).Sub(now)}, nil
}

func (l *limiter) AdmitUserDaily(ctx context.Context, tx *gorm.DB, userID uuid.UUID, session uuid.UUID, now time.Time) (Decision, error) {
	from, to := l.DayBounds(now)
	if err := l.repo.LockKey(ctx, tx, UserDayKey(userID, from.In(l.limits.DayBoundary)), now); err != nil {
		return Decision{}, fmt.Errorf("lock user day key: %w", err)
	}

	total, err := l.repo.SumViewEarnings(ctx, tx, userID, session, from, to)
	if err != nil {
		return Decision{}, fmt.Errorf("sum daily view earnings: %w", err)
	}
	// Admit while the cap has not been reached yet; the view that crosses it
	// is still credited in full.
	if total.LessThan(l.limits.DailyPointCap) {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: to.Sub(now)}, nil
}

func (l *limiter) DailyEarned(ctx context.Context, db *gorm.DB, userID uuid.UUID, date time.Time) (decimal.Decimal, error) {
	from, to := l.DayBounds(date)
	return l.repo.SumViewEarnings(ctx, db, userID, uuid.Nil, from, to)
}

// DayBounds returns the UTC instants of the calendar day containing t in the
// configured day-boundary zone.
func (l *limiter) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(l.limits.DayBoundary)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.limits.DayBoundary)
	end := start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}
