package handler

import (
	"net/http"
	"time"

	pointsDto "anoa.com/trafficexchange/internal/modules/points/dto"
	points "anoa.com/trafficexchange/internal/modules/points/service"
	"anoa.com/trafficexchange/pkg/response"
	"anoa.com/trafficexchange/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PointsHandler struct {
	service points.PointsService
	now     func() time.Time
}

func NewPointsHandler(service points.PointsService, now func() time.Time) *PointsHandler {
	if now == nil {
		now = time.Now
	}
	return &PointsHandler{service: service, now: now}
}

func (h *PointsHandler) GetDaily(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var query pointsDto.DailyQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	date := h.now().UTC()
	if query.Date != "" {
		// Noon keeps the date inside the same calendar day for any
		// day-boundary zone within +/-12h.
		date, _ = time.Parse("2006-01-02", query.Date)
		date = date.Add(12 * time.Hour)
	}

	total, err := h.service.DailyEarned(c.Request.Context(), userID, date)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, pointsDto.DailyResponse{Date: date.Format("2006-01-02"), Points: total})
}

func (h *PointsHandler) GetBalance(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (h *PointsHandler) GetHistory(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var query pointsDto.HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	history, err := h.service.History(c.Request.Context(), userID, query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

func (h *PointsHandler) ApplyReferral(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req pointsDto.ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	resp, err := h.service.ApplyReferral(c.Request.Context(), userID, req.ReferralCode)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *PointsHandler) AdminAdjust(c *gin.Context) {
	adminID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req pointsDto.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	entry, err := h.service.AdminAdjust(c.Request.Context(), adminID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *PointsHandler) AdminReconcile(c *gin.Context) {
	var req pointsDto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid format"})
		return
	}

	report, err := h.service.Reconcile(c.Request.Context(), userID, req.Fix)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
