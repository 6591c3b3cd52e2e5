// Package consolidation turns eligible pending requests into one delivery
// attempt per recipient and commits the outcome per recipient batch.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"notifyqueue/internal/directory"
	"notifyqueue/internal/model"
	"notifyqueue/internal/repository"
	"notifyqueue/pkg/logger"
	"notifyqueue/pkg/metrics"
	"notifyqueue/pkg/trace"
)

// Compositor renders one recipient batch; *compose.Compositor implements it.
type Compositor interface {
	Compose(displayName string, batch []model.NotificationRequest, now time.Time) string
}

// Sender is the delivery adapter; delivery.Adapter implements it.
type Sender interface {
	Send(ctx context.Context, address, body string) error
}

// RunSummary 一次合并运行的结果。Sent/Failed 按通知行计数，其余按收件人计数
type RunSummary struct {
	RunID               string    `json:"run_id"`
	RecipientsProcessed int       `json:"recipients_processed"`
	Sent                int       `json:"sent"`
	Failed              int       `json:"failed"`
	Conflicts           int       `json:"conflicts"`
	Errors              int       `json:"errors"`
	Skipped             int       `json:"skipped"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

type batchOutcome string

const (
	outcomeSent     batchOutcome = "sent"
	outcomeFailed   batchOutcome = "failed"
	outcomeConflict batchOutcome = "conflict"
	outcomeError    batchOutcome = "error"
	outcomeEmpty    batchOutcome = "empty"
	outcomeSkipped  batchOutcome = "skipped"
)

type Engine struct {
	store      repository.NotificationStore
	directory  directory.Directory
	compositor Compositor
	sender     Sender
	workers    int
	logger     *zap.Logger
}

type Option func(*Engine)

// WithWorkers sets how many recipients are processed concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func NewEngine(
	store repository.NotificationStore,
	dir directory.Directory,
	compositor Compositor,
	sender Sender,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		directory:  dir,
		compositor: compositor,
		sender:     sender,
		workers:    1,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes every recipient with at least one eligible row at now.
// It fails only when the eligible recipients cannot be read; per-recipient
// failures are counted in the summary. Cancelling ctx stops the run before the
// next recipient; a batch already in progress is still committed.
func (e *Engine) Run(ctx context.Context, now time.Time) (RunSummary, error) {
	ctx, runID := trace.Ensure(ctx)
	log := logger.WithTrace(ctx, e.logger)

	summary := RunSummary{RunID: runID, StartedAt: time.Now()}

	keys, err := e.store.EligibleRecipients(ctx, now)
	if err != nil {
		summary.FinishedAt = time.Now()
		metrics.RecordRun("error", summary.FinishedAt.Sub(summary.StartedAt))
		log.Error("Failed to read eligible recipients", zap.Error(err))
		return summary, fmt.Errorf("failed to read eligible recipients: %w", err)
	}

	log.Info("Consolidation run started",
		zap.Time("now", now),
		zap.Int("recipients", len(keys)),
		zap.Int("workers", e.workers),
	)

	// 已开始的批次不随 ctx 取消：发送成功后必须提交，否则下一次运行会重复发送。
	// 取消只在收件人之间检查。
	batchCtx := context.WithoutCancel(ctx)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, key := range keys {
		recipientKey := key
		g.Go(func() error {
			outcome, rows := outcomeSkipped, 0
			if ctx.Err() == nil {
				outcome, rows = e.processRecipient(batchCtx, recipientKey, now, log)
			}
			metrics.IncrementRecipientBatch(string(outcome))

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				summary.RecipientsProcessed++
				summary.Sent += rows
			case outcomeFailed:
				summary.RecipientsProcessed++
				summary.Failed += rows
			case outcomeConflict:
				summary.Conflicts++
			case outcomeError:
				summary.Errors++
			case outcomeSkipped:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = time.Now()
	metrics.RecordRun("ok", summary.FinishedAt.Sub(summary.StartedAt))
	metrics.AddTransitions(string(model.StatusSent), summary.Sent)
	metrics.AddTransitions(string(model.StatusFailed), summary.Failed)

	log.Info("Consolidation run finished",
		zap.Int("recipients_processed", summary.RecipientsProcessed),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("conflicts", summary.Conflicts),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// processRecipient 处理单个收件人的批次；recipientKey 与联系人只在本次调用内可见
func (e *Engine) processRecipient(ctx context.Context, recipientKey string, now time.Time, log *zap.Logger) (batchOutcome, int) {
	log = log.With(zap.String("recipient_key", recipientKey))

	// 联系人在认领批次之前解析，目录查询不占用批次的锁
	contact, resolveErr := e.directory.Resolve(ctx, recipientKey)
	if resolveErr == nil && strings.TrimSpace(contact.Address) == "" {
		resolveErr = directory.ErrNotFound
	}

	res, err := e.store.ProcessBatch(ctx, recipientKey, now, func(ctx context.Context, batch []model.NotificationRequest) model.Outcome {
		if resolveErr != nil {
			log.Warn("Contact address not found",
				zap.Int("rows", len(batch)),
				zap.Error(resolveErr),
			)
			return model.Failed(model.ErrorContactNotFound)
		}

		body := e.compositor.Compose(contact.DisplayName, batch, now)
		if err := e.sender.Send(ctx, contact.Address, body); err != nil {
			log.Warn("Delivery failed",
				zap.Int("rows", len(batch)),
				zap.Error(err),
			)
			return model.Failed(err.Error())
		}
		return model.Sent()
	})

	switch {
	case errors.Is(err, repository.ErrBatchConflict):
		log.Warn("Batch changed concurrently, left pending", zap.Error(err))
		return outcomeConflict, 0
	case err != nil:
		log.Error("Failed to process recipient batch", zap.Error(err))
		return outcomeError, 0
	case res.Empty():
		log.Debug("No rows left for recipient")
		return outcomeEmpty, 0
	case res.Outcome.Status == model.StatusSent:
		log.Info("Recipient batch sent", zap.Int("rows", len(res.IDs)))
		return outcomeSent, len(res.IDs)
	default:
		log.Info("Recipient batch failed",
			zap.Int("rows", len(res.IDs)),
			zap.String("error_detail", res.Outcome.ErrorDetail),
		)
		return outcomeFailed, len(res.IDs)
	}
}
