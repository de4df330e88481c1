package handler

import (
	"net/http"

	viewDto "anoa.com/trafficexchange/internal/modules/view/dto"
	view "anoa.com/trafficexchange/internal/modules/view/service"
	"anoa.com/trafficexchange/pkg/response"
	"anoa.com/trafficexchange/pkg/validator"
	"github.com/gin-gonic/gin"
)

type ViewHandler struct {
	service view.ViewService
}

func NewViewHandler(service view.ViewService) *ViewHandler {
	return &ViewHandler{service: service}
}

func requestMeta(c *gin.Context) view.RequestMeta {
	return view.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Headers:   c.Request.Header.Clone(),
	}
}

func (h *ViewHandler) Start(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req viewDto.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	resp, err := h.service.Start(c.Request.Context(), userID, req, requestMeta(c))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *ViewHandler) Complete(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req viewDto.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	resp, err := h.service.Complete(c.Request.Context(), userID, req, requestMeta(c))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
