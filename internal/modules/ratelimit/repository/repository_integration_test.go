//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"anoa.com/trafficexchange/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestLockKeyHoldsUntilCommit(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewPostgresDB(t)
	repo := NewRateLimitRepository()
	now := time.Now().UTC()

	holder := db.Begin()
	require.NoError(t, holder.Error)
	require.NoError(t, repo.LockKey(ctx, holder, "ip:1.2.3.4", now))

	acquired := make(chan error, 1)
	go func() {
		acquired <- db.Transaction(func(tx *gorm.DB) error {
			return repo.LockKey(ctx, tx, "ip:1.2.3.4", now)
		})
	}()

	select {
	case err := <-acquired:
		t.Fatalf("key taken while still held: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	// Other keys are independent of the held one.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.LockKey(ctx, tx, "ip:5.6.7.8", now)
	}))

	require.NoError(t, holder.Commit().Error)
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("key was never handed over after commit")
	}
}
