package handler

import (
	"net/http"

	leaderboardDto "anoa.com/trafficexchange/internal/modules/leaderboard/dto"
	leaderboardService "anoa.com/trafficexchange/internal/modules/leaderboard/service"
	"anoa.com/trafficexchange/pkg/response"
	"anoa.com/trafficexchange/pkg/validator"
	"github.com/gin-gonic/gin"
)

type LeaderboardHandler struct {
	service leaderboardService.LeaderboardService
}

func NewLeaderboardHandler(service leaderboardService.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{service: service}
}

func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	var query leaderboardDto.LeaderboardQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	leaderboard, err := h.service.GetLeaderboard(c.Request.Context(), query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": leaderboard})
}
