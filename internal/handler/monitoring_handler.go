package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
	"notifyqueue/internal/repository"
	"notifyqueue/pkg/logger"
)

type MonitoringHandler struct {
	store  repository.NotificationStore
	logger *zap.Logger
}

func NewMonitoringHandler(store repository.NotificationStore, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{store: store, logger: logger}
}

// Summary handles GET /api/v1/monitoring/summary?from=&to=&recipient_key=
// from/to accept RFC3339 timestamps or YYYY-MM-DD dates; to is exclusive.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	var filter model.SummaryFilter
	var ok bool
	if filter.From, ok = parseBound(c, "from"); !ok {
		return
	}
	if filter.To, ok = parseBound(c, "to"); !ok {
		return
	}
	filter.RecipientKey = c.Query("recipient_key")

	rows, err := h.store.Summary(c.Request.Context(), filter)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load monitoring summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load summary"})
		return
	}
	if rows == nil {
		rows = []model.DailyStatusCount{}
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func parseBound(c *gin.Context, name string) (*time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + " (want RFC3339 or YYYY-MM-DD)"})
	return nil, false
}
