package handler

import (
	"net/http"

	fraudDto "anoa.com/trafficexchange/internal/modules/fraud/dto"
	fraud "anoa.com/trafficexchange/internal/modules/fraud/service"
	"anoa.com/trafficexchange/pkg/response"
	"anoa.com/trafficexchange/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type FraudHandler struct {
	service fraud.FraudService
}

func NewFraudHandler(service fraud.FraudService) *FraudHandler {
	return &FraudHandler{service: service}
}

func (h *FraudHandler) ListFlags(c *gin.Context) {
	var query fraudDto.FlagQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	flags, err := h.service.ListFlags(c.Request.Context(), query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, flags)
}

func (h *FraudHandler) ResolveFlag(c *gin.Context) {
	reviewerID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid format"})
		return
	}

	var req fraudDto.ResolveFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	flag, err := h.service.ResolveFlag(c.Request.Context(), id, reviewerID, req.Note)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, flag)
}
