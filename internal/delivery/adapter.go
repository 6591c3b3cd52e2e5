// Package delivery transmits a composed message to a contact address.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"notifyqueue/pkg/circuitbreaker"
	"notifyqueue/pkg/metrics"
)

// Adapter sends one message. A nil error means the channel accepted it.
type Adapter interface {
	Send(ctx context.Context, address, body string) error
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, address, body string) error

func (f AdapterFunc) Send(ctx context.Context, address, body string) error {
	return f(ctx, address, body)
}

// ErrSendTimeout is returned when the adapter does not answer within the send timeout.
var ErrSendTimeout = errors.New("delivery timed out")

// WithTimeout bounds every send. The inner call runs in its own goroutine so an
// adapter that ignores ctx still cannot hold the caller past the deadline.
func WithTimeout(next Adapter, timeout time.Duration) Adapter {
	if timeout <= 0 {
		return next
	}
	return AdapterFunc(func(ctx context.Context, address, body string) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- next.Send(ctx, address, body)
		}()

		select {
		case err := <-done:
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrSendTimeout, timeout)
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrSendTimeout, timeout)
			}
			return ctx.Err()
		}
	})
}

// WithBreaker 使用熔断器保护下游通道
func WithBreaker(next Adapter, cb *circuitbreaker.CircuitBreaker) Adapter {
	return AdapterFunc(func(ctx context.Context, address, body string) error {
		return cb.Execute(ctx, func(ctx context.Context) error {
			return next.Send(ctx, address, body)
		})
	})
}

// NewBreaker creates a breaker whose state is exported as a gauge and logged.
func NewBreaker(name string, cfg circuitbreaker.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	metrics.SetCircuitBreakerState(name, int(circuitbreaker.StateClosed))
	return circuitbreaker.NewCircuitBreaker(name, cfg,
		circuitbreaker.WithStateChangeHook(func(name string, from, to circuitbreaker.State) {
			metrics.SetCircuitBreakerState(name, int(to))
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}),
	)
}

// Instrumented 记录每次投递的延迟和结果
func Instrumented(next Adapter, name string) Adapter {
	return AdapterFunc(func(ctx context.Context, address, body string) error {
		start := time.Now()
		err := next.Send(ctx, address, body)
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordDeliveryLatency(name, status, time.Since(start))
		return err
	})
}
