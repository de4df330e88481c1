package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	viewDto "anoa.com/trafficexchange/internal/modules/view/dto"
	view "anoa.com/trafficexchange/internal/modules/view/service"
	"anoa.com/trafficexchange/pkg/apperror"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeViewService struct {
	meta    view.RequestMeta
	userID  uuid.UUID
	err     error
	awarded decimal.Decimal
}

func (f *fakeViewService) Start(ctx context.Context, viewerID uuid.UUID, req viewDto.StartRequest, meta view.RequestMeta) (*viewDto.StartResponse, error) {
	f.userID, f.meta = viewerID, meta
	if f.err != nil {
		return nil, f.err
	}
	return &viewDto.StartResponse{SessionToken: "tok"}, nil
}

func (f *fakeViewService) Complete(ctx context.Context, viewerID uuid.UUID, req viewDto.CompleteRequest, meta view.RequestMeta) (*viewDto.CompleteResponse, error) {
	f.userID, f.meta = viewerID, meta
	if f.err != nil {
		return nil, f.err
	}
	return &viewDto.CompleteResponse{PointsAwarded: f.awarded}, nil
}

func newRouter(svc view.ViewService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID.String())
		c.Next()
	})
	h := NewViewHandler(svc)
	r.POST("/api/views/start", h.Start)
	r.POST("/api/views/complete", h.Complete)
	return r
}

func TestCompleteHandler(t *testing.T) {
	userID := uuid.New()

	t.Run("credited", func(t *testing.T) {
		svc := &fakeViewService{awarded: decimal.RequireFromString("2.5")}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/views/complete", strings.NewReader(`{"session_token":"abc"}`))
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		newRouter(svc, userID).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"session_id":"00000000-0000-0000-0000-000000000000","points_awarded":"2.5"}`, w.Body.String())
		assert.Equal(t, userID, svc.userID)
		assert.Equal(t, "Mozilla/5.0", svc.meta.UserAgent)
		assert.Equal(t, "203.0.113.9", svc.meta.Headers.Get("X-Forwarded-For"))
	})

	t.Run("rejection carries its reason code", func(t *testing.T) {
		svc := &fakeViewService{err: apperror.Reject(apperror.ReasonIPCooldownActive)}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/views/complete", strings.NewReader(`{"session_token":"abc"}`))
		newRouter(svc, userID).ServeHTTP(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, apperror.ReasonIPCooldownActive, body["code"])
	})

	t.Run("short dwell is unprocessable", func(t *testing.T) {
		svc := &fakeViewService{err: apperror.Reject(apperror.ReasonDurationTooShort)}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/views/complete", strings.NewReader(`{"session_token":"abc"}`))
		newRouter(svc, userID).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/views/complete", strings.NewReader(`{}`))
		newRouter(&fakeViewService{}, userID).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Session token is required")
	})
}

func TestStartHandler(t *testing.T) {
	userID := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/views/start", strings.NewReader(`{"site_id":"not-a-uuid"}`))
	newRouter(&fakeViewService{}, userID).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/views/start", strings.NewReader(`{"site_id":"`+uuid.NewString()+`"}`))
	newRouter(&fakeViewService{}, userID).ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"session_token":"tok"`)
}
