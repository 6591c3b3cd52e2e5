package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDaily(t *testing.T, cfg Config, job Job) *Daily {
	t.Helper()
	d, err := NewDaily(cfg, job, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestNextSameDayAndNextDay(t *testing.T) {
	d := newDaily(t, Config{Hour: 18, Timezone: "UTC"}, nil)

	morning := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), d.Next(morning))

	exactly := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC), d.Next(exactly))

	yearEnd := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 18, 0, 0, 0, time.UTC), d.Next(yearEnd))
}

func TestNextHonoursLocation(t *testing.T) {
	d := newDaily(t, Config{Hour: 18, Timezone: "America/Sao_Paulo"}, nil)

	// 20:00 UTC is 17:00 in São Paulo
	got := d.Next(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(time.Date(2026, 3, 10, 21, 0, 0, 0, time.UTC)))
}

func TestNextAcrossDST(t *testing.T) {
	d := newDaily(t, Config{Hour: 18, Timezone: "America/New_York"}, nil)

	// DST starts on 2026-03-08 in New York
	got := d.Next(time.Date(2026, 3, 7, 19, 0, 0, 0, d.location))
	assert.Equal(t, 18, got.Hour())
	assert.Equal(t, 8, got.Day())
}

func TestNewDailyValidates(t *testing.T) {
	_, err := NewDaily(Config{Hour: 24}, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewDaily(Config{Minute: -1}, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = NewDaily(Config{Timezone: "Nowhere/City"}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestStartFiresAtScheduledTimes(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	var fired []time.Time
	var waits []time.Duration

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newDaily(t, Config{Hour: 18, Timezone: "UTC"}, func(_ context.Context, now time.Time) {
		fired = append(fired, now)
		if len(fired) == 2 {
			cancel()
		}
	})
	d.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	d.after = func(w time.Duration) <-chan time.Time {
		mu.Lock()
		waits = append(waits, w)
		clock = clock.Add(w)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- clock
		return ch
	}

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.GreaterOrEqual(t, len(fired), 2)
	assert.Equal(t, time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), fired[0])
	assert.Equal(t, time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC), fired[1])
	assert.Equal(t, time.Hour, waits[0])
	assert.Equal(t, 24*time.Hour, waits[1])
}

func TestRunOnStartAndPanicRecovery(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDaily(t, Config{Hour: 1, RunOnStart: true}, func(context.Context, time.Time) {
		calls++
		panic("boom")
	})
	d.after = func(time.Duration) <-chan time.Time { return make(chan time.Time) }

	d.Start(ctx)
	assert.Equal(t, 1, calls)
}
