package model

import (
	"fmt"
	"time"
)

// DeliveryStatus is the lifecycle state of a notification request.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusSent      DeliveryStatus = "SENT"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusCancelled DeliveryStatus = "CANCELLED"
)

// ErrorContactNotFound is stored in error_detail when the directory has no
// usable address for the recipient.
const ErrorContactNotFound = "contact address not found"

// Valid reports whether s is one of the four known statuses.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// ParseDeliveryStatus validates a status read from storage or a query string.
func ParseDeliveryStatus(v string) (DeliveryStatus, error) {
	s := DeliveryStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("invalid delivery status %q", v)
	}
	return s, nil
}

// NotificationRequest is one row of notification_requests.
type NotificationRequest struct {
	ID             int64          `json:"id"`
	RecipientKey   string         `json:"recipient_key"`
	SubjectName    string         `json:"subject_name"`
	ReferenceCode  *string        `json:"reference_code,omitempty"`
	StatusLabel    string         `json:"status_label"`
	MessageBody    *string        `json:"message_body,omitempty"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	CreatedAt      time.Time      `json:"created_at"`
	ScheduledAt    *time.Time     `json:"scheduled_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	ErrorDetail    *string        `json:"error_detail,omitempty"`
}

// EligibleAt reports whether the request may be picked up by a run at now.
// A request without scheduled_at becomes eligible from its creation time.
func (n *NotificationRequest) EligibleAt(now time.Time) bool {
	if n.DeliveryStatus != StatusPending {
		return false
	}
	at := n.CreatedAt
	if n.ScheduledAt != nil {
		at = *n.ScheduledAt
	}
	return !at.After(now)
}

// NewNotificationRequest is the producer input for Enqueue.
type NewNotificationRequest struct {
	RecipientKey  string     `json:"recipient_key" binding:"required,max=20" validate:"required,max=20"`
	SubjectName   string     `json:"subject_name" binding:"required,max=200" validate:"required,max=200"`
	ReferenceCode *string    `json:"reference_code,omitempty" binding:"omitempty,max=50" validate:"omitempty,max=50"`
	StatusLabel   string     `json:"status_label" binding:"required,max=20" validate:"required,max=20"`
	MessageBody   *string    `json:"message_body,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
}

// Outcome is the status a whole recipient batch transitions to.
type Outcome struct {
	Status      DeliveryStatus
	ErrorDetail string
}

// Sent is the outcome of a successful delivery.
func Sent() Outcome {
	return Outcome{Status: StatusSent}
}

// Failed is the outcome of a failed resolution or delivery.
func Failed(detail string) Outcome {
	if detail == "" {
		detail = "delivery failed"
	}
	return Outcome{Status: StatusFailed, ErrorDetail: detail}
}

// Contact is what the channel directory knows about a recipient.
type Contact struct {
	RecipientKey string `json:"recipient_key"`
	DisplayName  string `json:"display_name"`
	Address      string `json:"address"`
}

// DailyStatusCount is one row of the monitoring view.
type DailyStatusCount struct {
	Day            time.Time      `json:"day"`
	RecipientKey   string         `json:"recipient_key"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Count          int64          `json:"count"`
	FirstCreatedAt time.Time      `json:"first_created_at"`
	LastCreatedAt  time.Time      `json:"last_created_at"`
}

// SummaryFilter narrows the monitoring view; zero values mean unbounded.
type SummaryFilter struct {
	From         *time.Time
	To           *time.Time
	RecipientKey string
}
