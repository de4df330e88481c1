//go:build integration

package testutil

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"

	"anoa.com/trafficexchange/internal/bootstrap"
	"anoa.com/trafficexchange/pkg/database"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewPostgresDB returns a migrated postgres database living in its own
// schema, dropped when the test ends. Row locks behave as in production
// here, unlike on SQLite. Tests are skipped unless TEST_POSTGRES_DSN is set.
func NewPostgresDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	admin, err := gorm.Open(postgres.Open(dsn), database.Options())
	require.NoError(t, err)
	adminDB, err := admin.DB()
	require.NoError(t, err)

	schema := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", schema)).Error)

	db, err := gorm.Open(postgres.Open(withSearchPath(t, dsn, schema)), database.Options())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(16)

	t.Cleanup(func() {
		_ = sqlDB.Close()
		_ = admin.Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)).Error
		_ = adminDB.Close()
	})

	require.NoError(t, bootstrap.Migrate(db))
	return db
}

func withSearchPath(t *testing.T, dsn, schema string) string {
	t.Helper()
	if !strings.Contains(dsn, "://") {
		return dsn + " search_path=" + schema
	}
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}
