package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "notifyqueue/contracts/mq"
	"notifyqueue/internal/model"
	"notifyqueue/pkg/migration"
	"notifyqueue/pkg/outbox"
	"notifyqueue/pkg/trace"
)

const notificationColumns = `id, recipient_key, subject_name, reference_code, status_label, message_body,
	delivery_status, created_at, scheduled_at, delivered_at, error_detail`

// PostgresNotificationRepository 基于 pgx 的通知队列存储
type PostgresNotificationRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPostgresNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db, logger: logger}
}

// WithOutbox 每个已提交批次在同一事务中写入一条 outbox 事件
func (r *PostgresNotificationRepository) WithOutbox(repo *outbox.Repository) *PostgresNotificationRepository {
	r.outbox = repo
	return r
}

// Migrate 应用内嵌的 PostgreSQL schema
func (r *PostgresNotificationRepository) Migrate(ctx context.Context) error {
	return migration.RunPostgres(ctx, r.db, migrationsFS, "migrations/postgres", r.logger)
}

func (r *PostgresNotificationRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresNotificationRepository) Enqueue(ctx context.Context, req model.NewNotificationRequest) (*model.NotificationRequest, error) {
	if err := validateNew(req); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO notification_requests
			(recipient_key, subject_name, reference_code, status_label, message_body, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + notificationColumns

	n, err := scanPgNotification(r.db.QueryRow(ctx, query,
		req.RecipientKey,
		req.SubjectName,
		req.ReferenceCode,
		req.StatusLabel,
		req.MessageBody,
		req.ScheduledAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification request: %w", err)
	}
	return n, nil
}

func (r *PostgresNotificationRepository) GetByID(ctx context.Context, id int64) (*model.NotificationRequest, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_requests WHERE id = $1`

	n, err := scanPgNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification request: %w", err)
	}
	return n, nil
}

// Cancel 仅允许 PENDING -> CANCELLED
func (r *PostgresNotificationRepository) Cancel(ctx context.Context, id int64, now time.Time) (*model.NotificationRequest, error) {
	query := `
		UPDATE notification_requests
		SET delivery_status = 'CANCELLED', delivered_at = $2
		WHERE id = $1 AND delivery_status = 'PENDING'
		RETURNING ` + notificationColumns

	n, err := scanPgNotification(r.db.QueryRow(ctx, query, id, now))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel notification request: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotPending
}

func (r *PostgresNotificationRepository) EligibleRecipients(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT recipient_key
		FROM notification_requests
		WHERE delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= $1
		ORDER BY recipient_key
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible recipients: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan eligible recipients: %w", err)
	}
	return keys, nil
}

// ProcessBatch 锁定收件人的待发送行（SKIP LOCKED），调用 fn，并以条件更新提交
func (r *PostgresNotificationRepository) ProcessBatch(ctx context.Context, recipientKey string, now time.Time, fn BatchFunc) (BatchResult, error) {
	result := BatchResult{RecipientKey: recipientKey}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		SELECT ` + notificationColumns + `
		FROM notification_requests
		WHERE recipient_key = $1
		AND delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= $2
		ORDER BY created_at ASC, id ASC
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, query, recipientKey, now)
	if err != nil {
		return result, fmt.Errorf("failed to select batch: %w", err)
	}
	batch, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.NotificationRequest, error) {
		n, err := scanPgNotification(row)
		if err != nil {
			return model.NotificationRequest{}, err
		}
		return *n, nil
	})
	if err != nil {
		return result, fmt.Errorf("failed to scan batch: %w", err)
	}
	if len(batch) == 0 {
		return result, nil
	}

	outcome := fn(ctx, batch)
	if err := validateOutcome(outcome); err != nil {
		return result, err
	}
	ids := idsOf(batch)

	update := `
		UPDATE notification_requests
		SET delivery_status = $1, delivered_at = $2, error_detail = $3
		WHERE id = ANY($4)
		AND delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= $2
	`
	tag, err := tx.Exec(ctx, update, string(outcome.Status), now, nullableDetail(outcome), ids)
	if err != nil {
		return result, fmt.Errorf("failed to commit batch status: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return result, fmt.Errorf("%w: updated %d of %d rows", ErrBatchConflict, tag.RowsAffected(), len(ids))
	}

	if r.outbox != nil {
		payload := mqcontracts.NotificationBatchPayload{
			RecipientKey:    recipientKey,
			NotificationIDs: ids,
			Status:          string(outcome.Status),
			ErrorDetail:     outcome.ErrorDetail,
			DeliveredAt:     now,
			TraceID:         trace.FromContext(ctx),
		}
		if err := outbox.InsertEventInTx(ctx, tx, r.outbox, "notification_batch", &ids[0],
			mqcontracts.BatchRoutingKey(payload.Status), payload); err != nil {
			return result, fmt.Errorf("failed to write batch event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	result.IDs = ids
	result.Outcome = outcome
	return result, nil
}

func (r *PostgresNotificationRepository) Summary(ctx context.Context, filter model.SummaryFilter) ([]model.DailyStatusCount, error) {
	query := `
		SELECT day, recipient_key, delivery_status, count, first_created_at, last_created_at
		FROM (
			SELECT date_trunc('day', created_at) AS day,
			       recipient_key,
			       delivery_status,
			       COUNT(*) AS count,
			       MIN(created_at) AS first_created_at,
			       MAX(created_at) AS last_created_at
			FROM notification_requests
			WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
			AND ($3 = '' OR recipient_key = $3)
			GROUP BY 1, 2, 3
		) s
		ORDER BY day DESC, recipient_key, delivery_status
	`

	rows, err := r.db.Query(ctx, query, filter.From, filter.To, filter.RecipientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []model.DailyStatusCount
	for rows.Next() {
		var c model.DailyStatusCount
		var status string
		if err := rows.Scan(&c.Day, &c.RecipientKey, &status, &c.Count, &c.FirstCreatedAt, &c.LastCreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		if c.DeliveryStatus, err = model.ParseDeliveryStatus(status); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresNotificationRepository) FindContact(ctx context.Context, recipientKey string) (*model.Contact, error) {
	query := `
		SELECT recipient_key, display_name, contact_address
		FROM recipient_contacts
		WHERE recipient_key = $1
	`

	var c model.Contact
	err := r.db.QueryRow(ctx, query, recipientKey).Scan(&c.RecipientKey, &c.DisplayName, &c.Address)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &c, nil
}

func (r *PostgresNotificationRepository) UpsertContact(ctx context.Context, contact model.Contact) error {
	query := `
		INSERT INTO recipient_contacts (recipient_key, display_name, contact_address, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (recipient_key) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    contact_address = EXCLUDED.contact_address,
		    updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, contact.RecipientKey, contact.DisplayName, contact.Address); err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func scanPgNotification(row pgx.Row) (*model.NotificationRequest, error) {
	var n model.NotificationRequest
	var status string
	err := row.Scan(
		&n.ID,
		&n.RecipientKey,
		&n.SubjectName,
		&n.ReferenceCode,
		&n.StatusLabel,
		&n.MessageBody,
		&status,
		&n.CreatedAt,
		&n.ScheduledAt,
		&n.DeliveredAt,
		&n.ErrorDetail,
	)
	if err != nil {
		return nil, err
	}
	if n.DeliveryStatus, err = model.ParseDeliveryStatus(status); err != nil {
		return nil, err
	}
	return &n, nil
}
