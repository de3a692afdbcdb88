package notify

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"beacon/internal/constants"
	"beacon/internal/logger"
	"beacon/pkg/errors"
)

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", h.ListNotifications)
			notifications.POST("/read", h.MarkRead)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) ListNotifications(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "user_id is required")))
		return
	}

	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	events, err := h.service.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

type markReadRequest struct {
	UserID int64    `json:"user_id" binding:"required"`
	IDs    []string `json:"ids"`
}

// MarkRead acknowledges notifications. With no ids the request
// acknowledges everything unread for the user.
func (h *Handler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	if err := h.service.MarkRead(c.Request.Context(), req.UserID, req.IDs); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
