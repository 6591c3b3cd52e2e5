package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
	"notifyqueue/pkg/mq"
)

type fakeStore struct {
	calls []model.NewNotificationRequest
	err   error
}

func (f *fakeStore) Enqueue(_ context.Context, req model.NewNotificationRequest) (*model.NotificationRequest, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &model.NotificationRequest{ID: int64(len(f.calls)), RecipientKey: req.RecipientKey}, nil
}

type memDeduper struct {
	seen     map[string]bool
	released []string
}

func (d *memDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, key string) error {
	delete(d.seen, handler+":"+key)
	d.released = append(d.released, key)
	return nil
}

type memCounter struct{ counts map[string]int64 }

func (c *memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

func newHandler(store *fakeStore) (*NotificationRequestedHandler, *memDeduper, *memCounter) {
	d := &memDeduper{seen: map[string]bool{}}
	c := &memCounter{counts: map[string]int64{}}
	return NewNotificationRequestedHandler(store, d, c, 2, zap.NewNop()), d, c
}

func payload(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func validPayload(t *testing.T) json.RawMessage {
	return payload(t, map[string]any{
		"event_id":       "evt-1",
		"recipient_key":  "CRM123",
		"subject_name":   "Ana Silva",
		"status_label":   "Aprovado",
		"reference_code": "AUTH-42",
	})
}

func TestHandleEnqueuesOnce(t *testing.T) {
	store := &fakeStore{}
	h, _, _ := newHandler(store)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, validPayload(t)))
	require.NoError(t, h.Handle(ctx, validPayload(t)))

	require.Len(t, store.calls, 1)
	assert.Equal(t, "CRM123", store.calls[0].RecipientKey)
	assert.Equal(t, "AUTH-42", *store.calls[0].ReferenceCode)
}

func TestHandleSendsMalformedToDLQ(t *testing.T) {
	h, _, _ := newHandler(&fakeStore{})

	err := h.Handle(context.Background(), json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, mq.ErrDeadLetter)

	err = h.Handle(context.Background(), payload(t, map[string]any{"event_id": "e", "recipient_key": "CRM1"}))
	assert.ErrorIs(t, err, mq.ErrDeadLetter)

	err = h.Handle(context.Background(), payload(t, map[string]any{
		"event_id": "e", "recipient_key": "CRM-12345678901234567890", "subject_name": "x", "status_label": "y",
	}))
	assert.ErrorIs(t, err, mq.ErrDeadLetter)
}

func TestHandleRetriesTransientErrorsThenDeadLetters(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("insert: %w", context.DeadlineExceeded)}
	h, dedup, _ := newHandler(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := h.Handle(ctx, validPayload(t))
		require.Error(t, err)
		assert.False(t, errors.Is(err, mq.ErrDeadLetter), "attempt %d should be requeued", i+1)
	}

	err := h.Handle(ctx, validPayload(t))
	assert.ErrorIs(t, err, mq.ErrDeadLetter)
	assert.Len(t, store.calls, 3)
	assert.Len(t, dedup.released, 3)
}

func TestHandleNonRetryableStoreErrorGoesToDLQ(t *testing.T) {
	h, _, _ := newHandler(&fakeStore{err: errors.New("something odd")})
	assert.ErrorIs(t, h.Handle(context.Background(), validPayload(t)), mq.ErrDeadLetter)
}

func TestHandleWithoutRedis(t *testing.T) {
	store := &fakeStore{}
	h := NewNotificationRequestedHandler(store, nil, nil, 0, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), validPayload(t)))
	require.NoError(t, h.Handle(context.Background(), validPayload(t)))
	assert.Len(t, store.calls, 2)
	assert.Equal(t, int64(defaultMaxRetries), h.maxRetries)
}
