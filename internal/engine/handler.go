package engine

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"beacon/internal/logger"
	"beacon/internal/rules"
	"beacon/pkg/errors"
)

// Handler exposes the read-only alert surface. Alerts are created by the
// engine only; there is no write API.
type Handler struct {
	alerts AlertRepository
	tasks  TaskRepository
	logger logger.Logger
}

func NewHandler(alerts AlertRepository, tasks TaskRepository, log logger.Logger) *Handler {
	return &Handler{alerts: alerts, tasks: tasks, logger: log}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		alerts := v1.Group("/alerts")
		{
			alerts.GET("", h.ListAlerts)
			alerts.GET("/:id", h.GetAlert)
			alerts.GET("/:id/task", h.GetAlertTask)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) ListAlerts(c *gin.Context) {
	var filter AlertFilter

	if raw := c.Query("client_id"); raw != "" {
		clientID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "client_id must be an integer")))
			return
		}
		filter.ClientID = &clientID
	}

	if raw := c.Query("source_type"); raw != "" {
		sourceType := rules.SourceType(raw)
		if !sourceType.Valid() {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithDetail("message", "unknown source_type")))
			return
		}
		filter.SourceType = &sourceType
	}

	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			filter.Limit = parsed
		}
	}

	alerts, err := h.alerts.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.alerts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, errors.ErrNotFound.WithDetail("id", c.Param("id")))
		return
	}

	c.JSON(http.StatusOK, alert)
}

// GetAlertTask resolves the work item spawned by an alert, if any.
func (h *Handler) GetAlertTask(c *gin.Context) {
	link, err := h.tasks.GetLinkByAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if link == nil {
		c.JSON(http.StatusNotFound, errors.ToErrorResponse(errors.ErrNotFound.WithDetail("alert_id", c.Param("id"))))
		return
	}

	c.JSON(http.StatusOK, link)
}
