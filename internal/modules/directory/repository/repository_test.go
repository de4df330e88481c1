package repository

import (
	"context"
	"testing"

	"anoa.com/trafficexchange/internal/testutil"
	"anoa.com/trafficexchange/pkg/apperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryRepository(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	repo := NewDirectoryRepository(db)

	owner := testutil.CreateUser(t, db, "alice")
	site := testutil.CreateSite(t, db, owner, "2.5")

	t.Run("get user and site", func(t *testing.T) {
		u, err := repo.GetUser(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)

		s, err := repo.GetSite(ctx, site.ID)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, s.OwnerID)
		assert.True(t, s.PayoutRate.Valid)
		assert.Equal(t, "2.5", s.PayoutRate.Decimal.String())
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		_, err := repo.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		_, err = repo.GetSite(ctx, uuid.New())
		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})

	t.Run("referral codes", func(t *testing.T) {
		id, err := repo.ResolveReferralCode(ctx, " REF-alice ")
		require.NoError(t, err)
		assert.Equal(t, owner.ID, id)

		_, err = repo.ResolveReferralCode(ctx, "nope")
		assert.ErrorIs(t, err, apperror.ErrNotFound)

		_, err = repo.ResolveReferralCode(ctx, "")
		assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	})

	t.Run("count", func(t *testing.T) {
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
