package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	mqcontracts "notifyqueue/contracts/mq"
	"notifyqueue/internal/model"
	"notifyqueue/pkg/logger"
	"notifyqueue/pkg/metrics"
	"notifyqueue/pkg/mq"
	"notifyqueue/pkg/util"
)

const (
	handlerName       = "notification_requested"
	defaultMaxRetries = 5
)

// Enqueuer is satisfied by the notification store.
type Enqueuer interface {
	Enqueue(ctx context.Context, req model.NewNotificationRequest) (*model.NotificationRequest, error)
}

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, key string) bool
	Release(ctx context.Context, handler string, key string) error
}

// RetryCounter is satisfied by *util.RetryCounter.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type NotificationRequestedHandler struct {
	store        Enqueuer
	deduper      Deduper
	retryCounter RetryCounter
	maxRetries   int64
	validate     *validator.Validate
	logger       *zap.Logger
}

// NewNotificationRequestedHandler 创建入队事件处理器；deduper 和 retryCounter 可为 nil（Redis 未启用）
func NewNotificationRequestedHandler(
	store Enqueuer,
	deduper Deduper,
	retryCounter RetryCounter,
	maxRetries int,
	logger *zap.Logger,
) *NotificationRequestedHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &NotificationRequestedHandler{
		store:        store,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   int64(maxRetries),
		validate:     validator.New(),
		logger:       logger,
	}
}

// Handle 处理 notification.requested 事件。
// 返回 nil 表示 ack；包装 mq.ErrDeadLetter 的错误进入 DLQ；其他错误 nack 重新入队。
func (h *NotificationRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.NotificationRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal notification requested payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		metrics.IncrementIntake("mq", "invalid")
		return fmt.Errorf("%w: json_unmarshal_error: %v", mq.ErrDeadLetter, err)
	}

	if err := h.validate.Struct(p); err != nil {
		log.Error("Invalid notification requested payload (non-retryable, sending to DLQ)",
			zap.String("event_id", p.EventID),
			zap.Error(err),
		)
		metrics.IncrementIntake("mq", "invalid")
		return fmt.Errorf("%w: validation_error: %v", mq.ErrDeadLetter, err)
	}

	log = log.With(
		zap.String("event_id", p.EventID),
		zap.String("recipient_key", p.RecipientKey),
	)

	// Redis 去重：同一 event_id 只入队一次
	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, handlerName, p.EventID) {
		metrics.IncrementIntake("mq", "duplicate")
		return nil
	}

	created, err := h.store.Enqueue(ctx, model.NewNotificationRequest{
		RecipientKey:  p.RecipientKey,
		SubjectName:   p.SubjectName,
		ReferenceCode: p.ReferenceCode,
		StatusLabel:   p.StatusLabel,
		MessageBody:   p.MessageBody,
		ScheduledAt:   p.ScheduledAt,
	})
	if err != nil {
		return h.handleFailure(ctx, log, p.EventID, err)
	}

	if h.retryCounter != nil {
		_ = h.retryCounter.Reset(ctx, util.FormatRetryKey(handlerName, p.EventID))
	}
	metrics.IncrementIntake("mq", "ok")
	log.Info("Notification request enqueued", zap.Int64("notification_id", created.ID))
	return nil
}

func (h *NotificationRequestedHandler) handleFailure(ctx context.Context, log *zap.Logger, eventID string, err error) error {
	isRetryable, errType := util.IsRetryableError(err)
	log.Error("Failed to enqueue notification request",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)

	if !isRetryable {
		metrics.IncrementIntake("mq", "rejected")
		return fmt.Errorf("%w: %s: %v", mq.ErrDeadLetter, errType, err)
	}

	// 允许下一次投递重新处理该事件
	if h.deduper != nil {
		if relErr := h.deduper.Release(ctx, handlerName, eventID); relErr != nil {
			log.Warn("Failed to release dedup key", zap.Error(relErr))
		}
	}

	if h.retryCounter != nil {
		count, cntErr := h.retryCounter.IncrementAndGet(ctx, util.FormatRetryKey(handlerName, eventID))
		if cntErr == nil && !util.ShouldRetry(count, h.maxRetries, true) {
			log.Error("Max retries exceeded, sending to DLQ", zap.Int64("retry_count", count))
			metrics.IncrementIntake("mq", "dead_letter")
			return fmt.Errorf("%w: max retries exceeded: %v", mq.ErrDeadLetter, err)
		}
	}

	metrics.IncrementIntake("mq", "retry")
	return fmt.Errorf("%s: %w", errType, err)
}
