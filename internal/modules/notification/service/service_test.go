package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	userID := uuid.New()
	sub := client.Subscribe(ctx, Channel(userID))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewEventPublisher(client, zap.NewNop())
	pub.Publish(ctx, BalanceEvent{
		UserID: userID,
		Type:   EventPointsCredited,
		Amount: decimal.RequireFromString("2.5"),
		Kind:   "view_earn",
		At:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	})

	select {
	case msg := <-sub.Channel():
		var got BalanceEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, EventPointsCredited, got.Type)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("2.5")))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishWithoutRedis(t *testing.T) {
	pub := NewEventPublisher(nil, zap.NewNop())
	assert.NotPanics(t, func() {
		pub.Publish(context.Background(), BalanceEvent{UserID: uuid.New(), Type: EventPointsDebited})
	})
}
