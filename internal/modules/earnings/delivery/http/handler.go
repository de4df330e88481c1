package handler

import (
	"net/http"
	"strings"

	earningsDto "anoa.com/trafficexchange/internal/modules/earnings/dto"
	earnings "anoa.com/trafficexchange/internal/modules/earnings/service"
	"anoa.com/trafficexchange/pkg/response"
	"anoa.com/trafficexchange/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EarningsHandler struct {
	service earnings.EarningsService
}

func NewEarningsHandler(service earnings.EarningsService) *EarningsHandler {
	return &EarningsHandler{service: service}
}

func (h *EarningsHandler) GetSummary(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var query earningsDto.EarningsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), userID, query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *EarningsHandler) Convert(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req earningsDto.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	resp, err := h.service.ConvertPoints(c.Request.Context(), userID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Sweep runs the unlock job on demand.
func (h *EarningsHandler) Sweep(c *gin.Context) {
	n, err := h.service.UnlockDue(c.Request.Context())
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, earningsDto.SweepResponse{Unlocked: n})
}

func (h *EarningsHandler) GetAvailable(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	amount, err := h.service.AvailableBalance(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, earningsDto.AvailableResponse{UserID: userID, Amount: amount})
}

func (h *EarningsHandler) Debit(c *gin.Context) {
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	var req earningsDto.DebitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal"})
		return
	}

	resp, err := h.service.DebitAvailable(c.Request.Context(), userID, amount)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func pathUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid format"})
		return uuid.Nil, false
	}
	return id, true
}
