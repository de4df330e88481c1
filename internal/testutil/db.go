// Package testutil builds throwaway stores for package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"anoa.com/trafficexchange/internal/bootstrap"
	"anoa.com/trafficexchange/internal/entity"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory SQLite database. The pool is pinned to
// one connection, so concurrent transactions queue behind each other the
// way row locks make them queue on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), database.Options())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, bootstrap.Migrate(db))
	return db
}

func CreateUser(t *testing.T, db *gorm.DB, username string) *entity.User {
	t.Helper()
	user := &entity.User{
		Username:     username,
		ReferralCode: "REF-" + username,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func CreateSite(t *testing.T, db *gorm.DB, owner *entity.User, rate string) *entity.Site {
	t.Helper()
	site := &entity.Site{
		OwnerID: owner.ID,
		URL:     "https://" + uuid.NewString() + ".example",
		Active:  true,
	}
	if rate != "" {
		site.PayoutRate = decimal.NewNullDecimal(decimal.RequireFromString(rate))
	}
	require.NoError(t, db.Create(site).Error)
	return site
}

// Reload fetches the current projection columns for a user.
func Reload(t *testing.T, db *gorm.DB, id uuid.UUID) *entity.User {
	t.Helper()
	var user entity.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return &user
}

// AssertDecimal compares by value, so "50" and "50.0000" are equal.
func AssertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
