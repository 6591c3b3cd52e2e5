package mq

import "time"

// Routing keys on the notifications exchange.
const (
	RoutingKeyNotificationRequested = "notification.requested"
	RoutingKeyBatchSent             = "notification.batch.sent"
	RoutingKeyBatchFailed           = "notification.batch.failed"

	QueueNotificationRequested = "notification.requested.q"
)

// NotificationRequestedPayload 生产者投递的入队请求
type NotificationRequestedPayload struct {
	EventID       string     `json:"event_id" validate:"required,max=64"`
	RecipientKey  string     `json:"recipient_key" validate:"required,max=20"`
	SubjectName   string     `json:"subject_name" validate:"required,max=200"`
	ReferenceCode *string    `json:"reference_code,omitempty" validate:"omitempty,max=50"`
	StatusLabel   string     `json:"status_label" validate:"required,max=20"`
	MessageBody   *string    `json:"message_body,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
}

// NotificationBatchPayload 一个收件人批次提交后发布的事件
type NotificationBatchPayload struct {
	RecipientKey    string    `json:"recipient_key"`
	NotificationIDs []int64   `json:"notification_ids"`
	Status          string    `json:"status"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	DeliveredAt     time.Time `json:"delivered_at"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// BatchRoutingKey 根据批次结果选择 routing key
func BatchRoutingKey(status string) string {
	if status == "SENT" {
		return RoutingKeyBatchSent
	}
	return RoutingKeyBatchFailed
}
