package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRepo(t *testing.T) *SQLiteNotificationRepository {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &stepClock{t: base}
	repo := NewSQLiteNotificationRepository(db, zap.NewNop()).WithClock(clock.now)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func enqueue(t *testing.T, repo *SQLiteNotificationRepository, key, subject string, scheduledAt *time.Time) *model.NotificationRequest {
	t.Helper()
	n, err := repo.Enqueue(context.Background(), model.NewNotificationRequest{
		RecipientKey: key,
		SubjectName:  subject,
		StatusLabel:  "AUTORIZADO",
		ScheduledAt:  scheduledAt,
	})
	require.NoError(t, err)
	return n
}

func ptr[T any](v T) *T { return &v }

func TestEnqueueAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Enqueue(ctx, model.NewNotificationRequest{
		RecipientKey:  "CRM123",
		SubjectName:   "Maria Souza",
		ReferenceCode: ptr("AUT-9"),
		StatusLabel:   "AUTORIZADO",
		MessageBody:   ptr("exame liberado"),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.StatusPending, created.DeliveryStatus)
	assert.Nil(t, created.DeliveredAt)
	assert.Nil(t, created.ScheduledAt)
	assert.True(t, created.CreatedAt.Equal(base.Add(time.Second)))

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, "AUT-9", *got.ReferenceCode)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueValidatesLengths(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Enqueue(context.Background(), model.NewNotificationRequest{
		RecipientKey: "CRM-0000000000000000000",
		SubjectName:  "x",
		StatusLabel:  "OK",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = repo.Enqueue(context.Background(), model.NewNotificationRequest{
		RecipientKey: "CRM1",
		SubjectName:  "   ",
		StatusLabel:  "OK",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEligibleRecipientsRespectsSchedule(t *testing.T) {
	repo := newTestRepo(t)
	now := base.Add(time.Hour)

	enqueue(t, repo, "CRM2", "a", nil)
	enqueue(t, repo, "CRM1", "b", ptr(now.Add(-time.Minute)))
	enqueue(t, repo, "CRM1", "c", nil)
	enqueue(t, repo, "CRM3", "d", ptr(now.Add(time.Hour)))

	keys, err := repo.EligibleRecipients(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"CRM1", "CRM2"}, keys)
}

func TestProcessBatchCommitsInCreationOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := base.Add(time.Hour)

	first := enqueue(t, repo, "CRM1", "first", nil)
	second := enqueue(t, repo, "CRM1", "second", nil)
	future := enqueue(t, repo, "CRM1", "future", ptr(now.Add(time.Hour)))
	other := enqueue(t, repo, "CRM2", "other", nil)

	var seen []string
	res, err := repo.ProcessBatch(ctx, "CRM1", now, func(_ context.Context, batch []model.NotificationRequest) model.Outcome {
		for _, n := range batch {
			seen = append(seen, n.SubjectName)
		}
		return model.Sent()
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, []int64{first.ID, second.ID}, res.IDs)
	assert.Equal(t, model.StatusSent, res.Outcome.Status)

	for _, id := range []int64{first.ID, second.ID} {
		n, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSent, n.DeliveryStatus)
		require.NotNil(t, n.DeliveredAt)
		assert.True(t, n.DeliveredAt.Equal(now))
		assert.Nil(t, n.ErrorDetail)
	}
	for _, id := range []int64{future.ID, other.ID} {
		n, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, n.DeliveryStatus)
		assert.Nil(t, n.DeliveredAt)
	}
}

func TestProcessBatchFailureStoresDetail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n := enqueue(t, repo, "CRM9", "x", nil)

	_, err := repo.ProcessBatch(ctx, "CRM9", base.Add(time.Hour), func(context.Context, []model.NotificationRequest) model.Outcome {
		return model.Failed(model.ErrorContactNotFound)
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.DeliveryStatus)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, model.ErrorContactNotFound, *got.ErrorDetail)
	assert.NotNil(t, got.DeliveredAt)
}

func TestProcessBatchEmptyDoesNotCallFn(t *testing.T) {
	repo := newTestRepo(t)
	called := false
	res, err := repo.ProcessBatch(context.Background(), "NOBODY", base, func(context.Context, []model.NotificationRequest) model.Outcome {
		called = true
		return model.Sent()
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.False(t, called)
}

func TestProcessBatchRejectsNonTerminalOutcome(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n := enqueue(t, repo, "CRM1", "x", nil)

	for _, status := range []model.DeliveryStatus{model.StatusCancelled, model.StatusPending} {
		_, err := repo.ProcessBatch(ctx, "CRM1", base.Add(time.Hour), func(context.Context, []model.NotificationRequest) model.Outcome {
			return model.Outcome{Status: status}
		})
		require.Error(t, err, status)
	}

	got, err := repo.GetByID(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.DeliveryStatus)
}

func TestProcessBatchSecondPassFindsNothing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := base.Add(time.Hour)
	enqueue(t, repo, "CRM1", "a", nil)

	_, err := repo.ProcessBatch(ctx, "CRM1", now, func(context.Context, []model.NotificationRequest) model.Outcome {
		return model.Sent()
	})
	require.NoError(t, err)

	calls := 0
	res, err := repo.ProcessBatch(ctx, "CRM1", now, func(context.Context, []model.NotificationRequest) model.Outcome {
		calls++
		return model.Sent()
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Zero(t, calls)

	keys, err := repo.EligibleRecipients(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestProcessBatchDoesNotBlockReadsDuringFn(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n := enqueue(t, repo, "CRM1", "a", nil)

	_, err := repo.ProcessBatch(ctx, "CRM1", base.Add(time.Hour), func(context.Context, []model.NotificationRequest) model.Outcome {
		readCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		assert.NoError(t, repo.Ping(readCtx))
		got, err := repo.GetByID(readCtx, n.ID)
		if assert.NoError(t, err) {
			assert.Equal(t, model.StatusPending, got.DeliveryStatus)
		}
		_, err = repo.Summary(readCtx, model.SummaryFilter{})
		assert.NoError(t, err)
		return model.Sent()
	})
	require.NoError(t, err)
}

func TestProcessBatchSkipsRowsClaimedByAnotherBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := base.Add(time.Hour)
	enqueue(t, repo, "CRM1", "a", nil)

	var inner BatchResult
	outer, err := repo.ProcessBatch(ctx, "CRM1", now, func(context.Context, []model.NotificationRequest) model.Outcome {
		var err error
		inner, err = repo.ProcessBatch(ctx, "CRM1", now, func(context.Context, []model.NotificationRequest) model.Outcome {
			t.Error("claimed rows must not be handed to a second batch")
			return model.Sent()
		})
		assert.NoError(t, err)
		return model.Sent()
	})
	require.NoError(t, err)
	assert.True(t, inner.Empty())
	assert.Len(t, outer.IDs, 1)
}

func TestProcessBatchConflictRollsBackWholeBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := base.Add(time.Hour)
	a := enqueue(t, repo, "CRM1", "a", nil)
	b := enqueue(t, repo, "CRM1", "b", nil)

	_, err := repo.ProcessBatch(ctx, "CRM1", now, func(context.Context, []model.NotificationRequest) model.Outcome {
		_, err := repo.Cancel(ctx, b.ID, now)
		assert.NoError(t, err)
		return model.Sent()
	})
	require.True(t, errors.Is(err, ErrBatchConflict), err)

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.DeliveryStatus)
	assert.Nil(t, got.DeliveredAt)

	got, err = repo.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.DeliveryStatus)
}

func TestCancelOnlyFromPending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := base.Add(time.Hour)
	n := enqueue(t, repo, "CRM1", "a", nil)

	cancelled, err := repo.Cancel(ctx, n.ID, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.DeliveryStatus)
	require.NotNil(t, cancelled.DeliveredAt)
	assert.True(t, cancelled.DeliveredAt.Equal(now))

	_, err = repo.Cancel(ctx, n.ID, now)
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = repo.Cancel(ctx, 12345, now)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := repo.EligibleRecipients(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStatusConstraintsHoldInSchema(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	n := enqueue(t, repo, "CRM1", "a", nil)

	_, err := repo.db.ExecContext(ctx, `UPDATE notification_requests SET delivery_status = 'SENT' WHERE id = ?`, n.ID)
	assert.Error(t, err, "SENT without delivered_at must be rejected")

	_, err = repo.db.ExecContext(ctx, `UPDATE notification_requests SET delivery_status = 'DONE', delivered_at = 1 WHERE id = ?`, n.ID)
	assert.Error(t, err)

	_, err = repo.db.ExecContext(ctx, `UPDATE notification_requests SET error_detail = 'x' WHERE id = ?`, n.ID)
	assert.Error(t, err, "error_detail only allowed on FAILED")
}

func TestSummaryGroupsByDayRecipientStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day1 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	clock := day1
	repo.WithClock(func() time.Time { clock = clock.Add(time.Minute); return clock })

	enqueue(t, repo, "CRM1", "a", nil)
	enqueue(t, repo, "CRM1", "b", nil)
	enqueue(t, repo, "CRM2", "c", nil)
	_, err := repo.ProcessBatch(ctx, "CRM2", day1.Add(time.Hour), func(context.Context, []model.NotificationRequest) model.Outcome {
		return model.Failed("timeout")
	})
	require.NoError(t, err)

	clock = day2
	enqueue(t, repo, "CRM1", "d", nil)

	rows, err := repo.Summary(ctx, model.SummaryFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.True(t, rows[0].Day.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "CRM1", rows[0].RecipientKey)
	assert.Equal(t, int64(1), rows[0].Count)

	assert.Equal(t, "CRM1", rows[1].RecipientKey)
	assert.Equal(t, model.StatusPending, rows[1].DeliveryStatus)
	assert.Equal(t, int64(2), rows[1].Count)
	assert.True(t, rows[1].FirstCreatedAt.Equal(day1.Add(time.Minute)))
	assert.True(t, rows[1].LastCreatedAt.Equal(day1.Add(2*time.Minute)))

	assert.Equal(t, "CRM2", rows[2].RecipientKey)
	assert.Equal(t, model.StatusFailed, rows[2].DeliveryStatus)

	filtered, err := repo.Summary(ctx, model.SummaryFilter{RecipientKey: "CRM2"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)

	from := day2
	recent, err := repo.Summary(ctx, model.SummaryFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, int64(1), recent[0].Count)
}

func TestContacts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.FindContact(ctx, "CRM123")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.UpsertContact(ctx, model.Contact{RecipientKey: "CRM123", DisplayName: "Dr. Ana", Address: "+5511999990000"}))
	require.NoError(t, repo.UpsertContact(ctx, model.Contact{RecipientKey: "CRM123", DisplayName: "Dra. Ana", Address: "+5511988880000"}))

	c, err := repo.FindContact(ctx, "CRM123")
	require.NoError(t, err)
	assert.Equal(t, "Dra. Ana", c.DisplayName)
	assert.Equal(t, "+5511988880000", c.Address)
}

func TestMigrateTwice(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.Migrate(context.Background()))
}
