package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"notifyqueue/internal/model"
)

//go:embed migrations
var migrationsFS embed.FS

var (
	ErrNotFound      = errors.New("notification not found")
	ErrNotPending    = errors.New("notification is not pending")
	ErrBatchConflict = errors.New("batch changed concurrently")
	ErrInvalidInput  = errors.New("invalid notification request")
)

// BatchFunc decides the outcome of one recipient batch. It runs while the
// batch rows are held by the store transaction.
type BatchFunc func(ctx context.Context, batch []model.NotificationRequest) model.Outcome

// BatchResult describes a committed batch.
type BatchResult struct {
	RecipientKey string
	IDs          []int64
	Outcome      model.Outcome
}

// Empty reports whether there was nothing left to process for the recipient.
func (r BatchResult) Empty() bool {
	return len(r.IDs) == 0
}

// NotificationStore is the durable queue of notification requests.
type NotificationStore interface {
	Enqueue(ctx context.Context, req model.NewNotificationRequest) (*model.NotificationRequest, error)
	GetByID(ctx context.Context, id int64) (*model.NotificationRequest, error)
	Cancel(ctx context.Context, id int64, now time.Time) (*model.NotificationRequest, error)
	EligibleRecipients(ctx context.Context, now time.Time) ([]string, error)
	ProcessBatch(ctx context.Context, recipientKey string, now time.Time, fn BatchFunc) (BatchResult, error)
	Summary(ctx context.Context, filter model.SummaryFilter) ([]model.DailyStatusCount, error)
	Ping(ctx context.Context) error
}

// ContactStore backs the store-based channel directory.
type ContactStore interface {
	FindContact(ctx context.Context, recipientKey string) (*model.Contact, error)
	UpsertContact(ctx context.Context, contact model.Contact) error
}

var validate = validator.New()

func validateNew(req model.NewNotificationRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if strings.TrimSpace(req.RecipientKey) == "" || strings.TrimSpace(req.SubjectName) == "" || strings.TrimSpace(req.StatusLabel) == "" {
		return fmt.Errorf("%w: blank required field", ErrInvalidInput)
	}
	return nil
}

func validateOutcome(o model.Outcome) error {
	// CANCELLED 只来自外部取消
	if !o.Status.Terminal() || o.Status == model.StatusCancelled {
		return fmt.Errorf("batch outcome must be SENT or FAILED, got %q", o.Status)
	}
	return nil
}

func nullableDetail(o model.Outcome) *string {
	if o.Status != model.StatusFailed {
		return nil
	}
	d := o.ErrorDetail
	return &d
}

func idsOf(batch []model.NotificationRequest) []int64 {
	ids := make([]int64, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
	}
	return ids
}
