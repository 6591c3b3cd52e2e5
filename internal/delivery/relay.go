package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"notifyqueue/pkg/trace"
)

// RoutingKeyDeliveryRequested is consumed by the channel gateway that owns the transport.
const RoutingKeyDeliveryRequested = "notification.delivery.requested"

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type deliveryRequestedPayload struct {
	Address string `json:"address"`
	Body    string `json:"body"`
	TraceID string `json:"trace_id,omitempty"`
}

// MQRelay hands the message to RabbitMQ; a successful publish counts as sent.
type MQRelay struct {
	publisher Publisher
}

func NewMQRelay(publisher Publisher) *MQRelay {
	return &MQRelay{publisher: publisher}
}

func (r *MQRelay) Send(ctx context.Context, address, body string) error {
	return r.publisher.PublishWithContext(ctx, RoutingKeyDeliveryRequested, deliveryRequestedPayload{
		Address: address,
		Body:    body,
		TraceID: trace.FromContext(ctx),
	})
}

// LogAdapter only logs the message. Used for local runs.
type LogAdapter struct {
	logger *zap.Logger
}

func NewLogAdapter(logger *zap.Logger) *LogAdapter {
	return &LogAdapter{logger: logger}
}

func (a *LogAdapter) Send(ctx context.Context, address, body string) error {
	if address == "" {
		return errors.New("empty address")
	}
	a.logger.Info("Mock delivery",
		zap.String("trace_id", trace.FromContext(ctx)),
		zap.String("address", address),
		zap.Int("body_len", len(body)),
		zap.String("body", body),
	)
	return nil
}
