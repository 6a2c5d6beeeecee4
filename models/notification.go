package models

import "time"

type NotificationType string

const (
	NotifyBookingCreated   NotificationType = "booking.created"
	NotifyBookingConfirmed NotificationType = "booking.confirmed"
	NotifyBookingRejected  NotificationType = "booking.rejected"
	NotifyBookingCancelled NotificationType = "booking.cancelled"
	NotifyBookingCompleted NotificationType = "booking.completed"
	NotifyBookingReminder  NotificationType = "booking.reminder"
	NotifyPaymentConfirmed NotificationType = "payment.confirmed"
	NotifyPaymentFailed    NotificationType = "payment.failed"
	NotifyRefundRequired   NotificationType = "payment.refund_required"
)

// NotificationEvent is one message addressed to a single user.
type NotificationEvent struct {
	UserID    string            `json:"userId"`
	Type      NotificationType  `json:"type"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"createdAt"`
}
