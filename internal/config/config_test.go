package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults match the validation policy", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 20*time.Second, cfg.View.MinDwell)
		assert.Equal(t, 10*time.Minute, cfg.View.IPCooldown)
		assert.Equal(t, "100000", cfg.View.DailyPointCap.String())
		assert.Equal(t, "1", cfg.View.PointsPerView.String())
		assert.Equal(t, time.UTC, cfg.View.DayBoundary)
		assert.False(t, cfg.View.SinglePending)
		assert.Zero(t, cfg.View.PendingMaxAge)
		assert.Equal(t, "50", cfg.Points.ReferralBonus.String())
		assert.Equal(t, 15*24*time.Hour, cfg.Earnings.HoldPeriod)
		assert.Equal(t, "@hourly", cfg.Earnings.UnlockSchedule)
		assert.Equal(t, 500, cfg.Earnings.UnlockBatch)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("VIEW_MIN_DWELL", "30s")
		t.Setenv("DAILY_POINT_CAP", "250.5")
		t.Setenv("DAY_BOUNDARY_TZ", "Asia/Jakarta")
		t.Setenv("VIEW_SINGLE_PENDING", "true")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.View.MinDwell)
		assert.Equal(t, "250.5", cfg.View.DailyPointCap.String())
		assert.Equal(t, "Asia/Jakarta", cfg.View.DayBoundary.String())
		assert.True(t, cfg.View.SinglePending)
	})

	t.Run("invalid values fail", func(t *testing.T) {
		cases := map[string]string{
			"IP_COOLDOWN":       "ten minutes",
			"DAILY_POINT_CAP":   "-1",
			"UNLOCK_BATCH_SIZE": "0",
			"DAY_BOUNDARY_TZ":   "Mars/Olympus",
		}
		for key, value := range cases {
			t.Run(key, func(t *testing.T) {
				t.Setenv(key, value)
				_, err := Load()
				assert.Error(t, err)
			})
		}
	})
}
