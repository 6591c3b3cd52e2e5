package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"notifyqueue/internal/model"
	"notifyqueue/pkg/migration"
)

// SQLiteNotificationRepository 基于 modernc.org/sqlite 的嵌入式存储，用于单机部署和测试。
// 时间以 UTC unix 纳秒保存。
type SQLiteNotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	// claimed 正在被某个 ProcessBatch 处理的行（进程内的 SKIP LOCKED）
	mu      sync.Mutex
	claimed map[int64]struct{}
}

// OpenSQLite 打开（或创建）数据库文件；path 为 ":memory:" 时使用内存库
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite 只有一个写者；单连接也保证内存库不会丢失
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteNotificationRepository(db *sql.DB, logger *zap.Logger) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{db: db, logger: logger, now: time.Now, claimed: map[int64]struct{}{}}
}

// WithClock 替换 created_at 使用的时钟
func (r *SQLiteNotificationRepository) WithClock(now func() time.Time) *SQLiteNotificationRepository {
	r.now = now
	return r
}

func (r *SQLiteNotificationRepository) Migrate(ctx context.Context) error {
	return migration.RunSQL(ctx, r.db, migrationsFS, "migrations/sqlite", r.logger)
}

func (r *SQLiteNotificationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteNotificationRepository) Enqueue(ctx context.Context, req model.NewNotificationRequest) (*model.NotificationRequest, error) {
	if err := validateNew(req); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO notification_requests
			(recipient_key, subject_name, reference_code, status_label, message_body, delivery_status, created_at, scheduled_at)
		VALUES (?, ?, ?, ?, ?, 'PENDING', ?, ?)
		RETURNING ` + notificationColumns

	n, err := scanSQLiteNotification(r.db.QueryRowContext(ctx, query,
		req.RecipientKey,
		req.SubjectName,
		req.ReferenceCode,
		req.StatusLabel,
		req.MessageBody,
		toNanos(r.now()),
		nullableNanos(req.ScheduledAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert notification request: %w", err)
	}
	return n, nil
}

func (r *SQLiteNotificationRepository) GetByID(ctx context.Context, id int64) (*model.NotificationRequest, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_requests WHERE id = ?`

	n, err := scanSQLiteNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification request: %w", err)
	}
	return n, nil
}

func (r *SQLiteNotificationRepository) Cancel(ctx context.Context, id int64, now time.Time) (*model.NotificationRequest, error) {
	query := `
		UPDATE notification_requests
		SET delivery_status = 'CANCELLED', delivered_at = ?
		WHERE id = ? AND delivery_status = 'PENDING'
		RETURNING ` + notificationColumns

	n, err := scanSQLiteNotification(r.db.QueryRowContext(ctx, query, toNanos(now), id))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel notification request: %w", err)
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrNotPending
}

func (r *SQLiteNotificationRepository) EligibleRecipients(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT recipient_key
		FROM notification_requests
		WHERE delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= ?
		ORDER BY recipient_key
	`

	rows, err := r.db.QueryContext(ctx, query, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible recipients: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan eligible recipients: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ProcessBatch 先在进程内认领批次，再在不持有连接和写锁的情况下调用 fn，
// 最后用一个短事务做条件更新。嵌入式存储只服务单个进程。
func (r *SQLiteNotificationRepository) ProcessBatch(ctx context.Context, recipientKey string, now time.Time, fn BatchFunc) (BatchResult, error) {
	result := BatchResult{RecipientKey: recipientKey}

	batch, err := r.claimBatch(ctx, recipientKey, now)
	if err != nil {
		return result, err
	}
	if len(batch) == 0 {
		return result, nil
	}
	ids := idsOf(batch)
	defer r.release(ids)

	outcome := fn(ctx, batch)
	if err := validateOutcome(outcome); err != nil {
		return result, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	update := `
		UPDATE notification_requests
		SET delivery_status = ?, delivered_at = ?, error_detail = ?
		WHERE id IN (` + placeholders + `)
		AND delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= ?
	`
	args := make([]any, 0, len(ids)+4)
	args = append(args, string(outcome.Status), toNanos(now), nullableDetail(outcome))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, toNanos(now))

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return result, fmt.Errorf("failed to commit batch status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected != int64(len(ids)) {
		return result, fmt.Errorf("%w: updated %d of %d rows", ErrBatchConflict, affected, len(ids))
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	result.IDs = ids
	result.Outcome = outcome
	return result, nil
}

// claimBatch 读取收件人的合格行，跳过其他批次已认领的行并认领其余行
func (r *SQLiteNotificationRepository) claimBatch(ctx context.Context, recipientKey string, now time.Time) ([]model.NotificationRequest, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notification_requests
		WHERE recipient_key = ?
		AND delivery_status = 'PENDING'
		AND COALESCE(scheduled_at, created_at) <= ?
		ORDER BY created_at ASC, id ASC
	`

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, query, recipientKey, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("failed to select batch: %w", err)
	}
	defer rows.Close()

	var batch []model.NotificationRequest
	for rows.Next() {
		n, err := scanSQLiteNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		if _, taken := r.claimed[n.ID]; taken || !n.EligibleAt(now) {
			continue
		}
		batch = append(batch, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	for _, n := range batch {
		r.claimed[n.ID] = struct{}{}
	}
	return batch, nil
}

func (r *SQLiteNotificationRepository) release(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.claimed, id)
	}
}

func (r *SQLiteNotificationRepository) Summary(ctx context.Context, filter model.SummaryFilter) ([]model.DailyStatusCount, error) {
	query := `
		SELECT date(created_at / 1000000000, 'unixepoch') AS day,
		       recipient_key,
		       delivery_status,
		       COUNT(*),
		       MIN(created_at),
		       MAX(created_at)
		FROM notification_requests
		WHERE (? IS NULL OR created_at >= ?)
		AND (? IS NULL OR created_at < ?)
		AND (? = '' OR recipient_key = ?)
		GROUP BY day, recipient_key, delivery_status
		ORDER BY day DESC, recipient_key, delivery_status
	`
	from, to := nullableNanos(filter.From), nullableNanos(filter.To)

	rows, err := r.db.QueryContext(ctx, query, from, from, to, to, filter.RecipientKey, filter.RecipientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []model.DailyStatusCount
	for rows.Next() {
		var (
			c             model.DailyStatusCount
			day, status   string
			first, latest int64
		)
		if err := rows.Scan(&day, &c.RecipientKey, &status, &c.Count, &first, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		c.Day, err = time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse summary day %q: %w", day, err)
		}
		if c.DeliveryStatus, err = model.ParseDeliveryStatus(status); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		c.FirstCreatedAt = fromNanos(first)
		c.LastCreatedAt = fromNanos(latest)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteNotificationRepository) FindContact(ctx context.Context, recipientKey string) (*model.Contact, error) {
	query := `
		SELECT recipient_key, display_name, contact_address
		FROM recipient_contacts
		WHERE recipient_key = ?
	`

	var c model.Contact
	err := r.db.QueryRowContext(ctx, query, recipientKey).Scan(&c.RecipientKey, &c.DisplayName, &c.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find contact: %w", err)
	}
	return &c, nil
}

func (r *SQLiteNotificationRepository) UpsertContact(ctx context.Context, contact model.Contact) error {
	query := `
		INSERT INTO recipient_contacts (recipient_key, display_name, contact_address, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (recipient_key) DO UPDATE
		SET display_name = excluded.display_name,
		    contact_address = excluded.contact_address,
		    updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, contact.RecipientKey, contact.DisplayName, contact.Address, toNanos(r.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

type sqlRow interface {
	Scan(dest ...any) error
}

func scanSQLiteNotification(row sqlRow) (*model.NotificationRequest, error) {
	var (
		n                                   model.NotificationRequest
		status                              string
		createdAt                           int64
		referenceCode, messageBody, errText sql.NullString
		scheduledAt, deliveredAt            sql.NullInt64
	)
	err := row.Scan(
		&n.ID,
		&n.RecipientKey,
		&n.SubjectName,
		&referenceCode,
		&n.StatusLabel,
		&messageBody,
		&status,
		&createdAt,
		&scheduledAt,
		&deliveredAt,
		&errText,
	)
	if err != nil {
		return nil, err
	}
	if n.DeliveryStatus, err = model.ParseDeliveryStatus(status); err != nil {
		return nil, err
	}
	n.CreatedAt = fromNanos(createdAt)
	n.ReferenceCode = stringPtr(referenceCode)
	n.MessageBody = stringPtr(messageBody)
	n.ErrorDetail = stringPtr(errText)
	n.ScheduledAt = timePtr(scheduledAt)
	n.DeliveredAt = timePtr(deliveredAt)
	return &n, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
