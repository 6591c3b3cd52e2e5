package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
	"notifyqueue/internal/repository"
	"notifyqueue/pkg/logger"
	"notifyqueue/pkg/metrics"
)

type NotificationHandler struct {
	store  repository.NotificationStore
	now    func() time.Time
	logger *zap.Logger
}

func NewNotificationHandler(store repository.NotificationStore, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{store: store, now: time.Now, logger: logger}
}

// Create handles POST /api/v1/notifications
func (h *NotificationHandler) Create(c *gin.Context) {
	var req model.NewNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.IncrementIntake("http", "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	created, err := h.store.Enqueue(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			metrics.IncrementIntake("http", "invalid")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
			return
		}
		metrics.IncrementIntake("http", "error")
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to enqueue notification",
			zap.String("recipient_key", req.RecipientKey),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue notification"})
		return
	}

	metrics.IncrementIntake("http", "ok")
	c.JSON(http.StatusCreated, created)
}

// Get handles GET /api/v1/notifications/:id
func (h *NotificationHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// Cancel handles POST /api/v1/notifications/:id/cancel
func (h *NotificationHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	n, err := h.store.Cancel(c.Request.Context(), id, h.now())
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	logger.WithTrace(c.Request.Context(), h.logger).Info("Notification cancelled",
		zap.Int64("notification_id", id),
		zap.String("by", c.GetString("subject")),
	)
	metrics.AddTransitions(string(model.StatusCancelled), 1)
	c.JSON(http.StatusOK, n)
}

func (h *NotificationHandler) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
	case errors.Is(err, repository.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "notification is not pending"})
	default:
		logger.WithTrace(c.Request.Context(), h.logger).Error("Notification store error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
