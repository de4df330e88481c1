package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventPointsCredited  = "points_credited"
	EventPointsDebited   = "points_debited"
	EventEarningsLocked  = "earnings_locked"
	EventEarningsUnlock  = "earnings_unlocked"
	EventEarningsDebited = "earnings_debited"
)

// BalanceEvent is pushed to a user's live stream after a ledger change has
// committed. It is informational; clients re-read balances for truth.
type BalanceEvent struct {
	UserID uuid.UUID       `json:"user_id"`
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Kind   string          `json:"kind,omitempty"`
	At     time.Time       `json:"at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, event BalanceEvent)
}

type eventPublisher struct {
	redisClient *redis.Client
	log         *zap.Logger
}

// NewEventPublisher returns a publisher that is a no-op when redisClient is
// nil, so the service still runs without Redis.
func NewEventPublisher(redisClient *redis.Client, log *zap.Logger) EventPublisher {
	return &eventPublisher{redisClient: redisClient, log: log}
}

func Channel(userID uuid.UUID) string {
	return fmt.Sprintf("user_balance:%s", userID.String())
}

func (p *eventPublisher) Publish(ctx context.Context, event BalanceEvent) {
	if p.redisClient == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("marshal balance event", zap.Error(err))
		return
	}
	if err := p.redisClient.Publish(ctx, Channel(event.UserID), payload).Err(); err != nil {
		p.log.Warn("publish balance event",
			zap.String("user_id", event.UserID.String()),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}
