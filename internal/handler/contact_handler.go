package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
	"notifyqueue/internal/repository"
	"notifyqueue/pkg/logger"
)

// Invalidator drops a cached contact. Satisfied by *directory.CachedDirectory.
type Invalidator interface {
	Invalidate(ctx context.Context, recipientKey string) error
}

type ContactHandler struct {
	store  repository.ContactStore
	cache  Invalidator
	logger *zap.Logger
}

// NewContactHandler cache 可以为 nil（未启用 Redis）
func NewContactHandler(store repository.ContactStore, cache Invalidator, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{store: store, cache: cache, logger: logger}
}

type upsertContactRequest struct {
	DisplayName string `json:"display_name"`
	Address     string `json:"address" binding:"required"`
}

// Upsert handles PUT /api/v1/contacts/:recipient_key
func (h *ContactHandler) Upsert(c *gin.Context) {
	key := strings.TrimSpace(c.Param("recipient_key"))
	var req upsertContactRequest
	if err := c.ShouldBindJSON(&req); err != nil || key == "" || strings.TrimSpace(req.Address) == "" {
		detail := "recipient_key and address are required"
		if err != nil {
			detail = err.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": detail})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)
	contact := model.Contact{
		RecipientKey: key,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		Address:      strings.TrimSpace(req.Address),
	}
	if err := h.store.UpsertContact(ctx, contact); err != nil {
		log.Error("Failed to upsert contact", zap.String("recipient_key", key), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save contact"})
		return
	}

	if h.cache != nil {
		// 失效失败只告警，旧条目最多保留一个 TTL
		if err := h.cache.Invalidate(ctx, key); err != nil {
			log.Warn("Failed to invalidate cached contact", zap.String("recipient_key", key), zap.Error(err))
		}
	}

	log.Info("Contact updated", zap.String("recipient_key", key), zap.String("by", c.GetString("subject")))
	c.JSON(http.StatusOK, contact)
}
