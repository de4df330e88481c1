package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anoa.com/trafficexchange/internal/entity"
	dirRepo "anoa.com/trafficexchange/internal/modules/directory/repository"
	"anoa.com/trafficexchange/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, subject, key string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	s, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	member := testutil.CreateUser(t, db, "member")
	admin := testutil.CreateUser(t, db, "root")
	require.NoError(t, db.Model(admin).Update("role", entity.RoleAdmin).Error)

	m := NewAuthMiddleware(dirRepo.NewDirectoryRepository(db), secret)
	r := gin.New()
	r.GET("/me", m.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	r.GET("/admin", m.RequireAuth(), m.RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func(path, bearer string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		r.ServeHTTP(w, req)
		return w
	}
	later := time.Now().Add(time.Hour)

	t.Run("valid token sets the user", func(t *testing.T) {
		w := do("/me", sign(t, member.ID.String(), secret, later))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, member.ID.String(), w.Body.String())
	})

	t.Run("query token for websockets", func(t *testing.T) {
		w := do("/me?token="+sign(t, member.ID.String(), secret, later), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejected tokens", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/me", "").Code)
		assert.Equal(t, http.StatusUnauthorized, do("/me", sign(t, member.ID.String(), "other", later)).Code)
		assert.Equal(t, http.StatusUnauthorized, do("/me", sign(t, member.ID.String(), secret, time.Now().Add(-time.Minute))).Code)
		assert.Equal(t, http.StatusUnauthorized, do("/me", sign(t, "not-a-uuid", secret, later)).Code)
	})

	t.Run("admin gate", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do("/admin", sign(t, member.ID.String(), secret, later)).Code)
		assert.Equal(t, http.StatusNoContent, do("/admin", sign(t, admin.ID.String(), secret, later)).Code)
	})
}

func TestRequireInternalToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	route := func(token string) *gin.Engine {
		r := gin.New()
		r.GET("/internal", RequireInternalToken(token), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return r
	}
	do := func(r *gin.Engine, header string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		if header != "" {
			req.Header.Set(InternalTokenHeader, header)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	r := route("s3cret")
	assert.Equal(t, http.StatusNoContent, do(r, "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, do(r, ""))
	assert.Equal(t, http.StatusServiceUnavailable, do(route(""), ""))
}
