package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"notifyqueue/internal/consolidation"
	"notifyqueue/pkg/logger"
)

// Runner is satisfied by *consolidation.Engine.
type Runner interface {
	Run(ctx context.Context, now time.Time) (consolidation.RunSummary, error)
}

type ConsolidationHandler struct {
	runner Runner
	now    func() time.Time
	logger *zap.Logger
}

func NewConsolidationHandler(runner Runner, logger *zap.Logger) *ConsolidationHandler {
	return &ConsolidationHandler{runner: runner, now: time.Now, logger: logger}
}

// Run handles POST /api/v1/consolidation/run. Safe alongside the scheduled run.
func (h *ConsolidationHandler) Run(c *gin.Context) {
	log := logger.WithTrace(c.Request.Context(), h.logger)
	log.Info("Manual consolidation run requested", zap.String("by", c.GetString("subject")))

	summary, err := h.runner.Run(c.Request.Context(), h.now())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "consolidation run failed", "run_id": summary.RunID})
		return
	}
	c.JSON(http.StatusOK, summary)
}
