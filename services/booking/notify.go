package booking

import (
	"context"
	"time"

	"guidebook/models"
	"guidebook/services/notification"

	"go.uber.org/zap"
)

// BookingPayload is the notification payload describing a booking.
func BookingPayload(b *models.Booking) map[string]string {
	return map[string]string{
		"bookingId":    b.ID,
		"experienceId": b.ExperienceID,
		"bookingDate":  b.BookingDate,
		"startTime":    b.StartTime,
		"status":       string(b.Status),
		"amount":       b.TotalAmount.String(),
		"currency":     b.Currency,
	}
}

func withRole(payload map[string]string, role string) map[string]string {
	out := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["role"] = role
	return out
}

// NotifyParties sends typ to the tourist and the guide on b. Failures are logged only.
func NotifyParties(ctx context.Context, d notification.Dispatcher, logger *zap.Logger, b *models.Booking, typ models.NotificationType) {
	payload := BookingPayload(b)
	Notify(ctx, d, logger, b.TouristID, typ, withRole(payload, "tourist"))
	Notify(ctx, d, logger, b.GuideID, typ, withRole(payload, "guide"))
}

// Notify dispatches one notification and logs a failure instead of returning it.
func Notify(ctx context.Context, d notification.Dispatcher, logger *zap.Logger, userID string, typ models.NotificationType, payload map[string]string) {
	if d == nil || userID == "" {
		return
	}
	if err := d.Notify(ctx, userID, typ, payload); err != nil {
		logger.Warn("notification dispatch failed",
			zap.String("type", string(typ)),
			zap.String("userId", userID),
			zap.Error(err),
		)
	}
}

// ScheduleReminders queues a reminder lead before the start of a confirmed
// booking. Reminders whose time has already passed are skipped.
func ScheduleReminders(ctx context.Context, d notification.Dispatcher, logger *zap.Logger, b *models.Booking, policy Policy, now time.Time) {
	if d == nil {
		return
	}
	start, err := b.StartsAt(policy.Location)
	if err != nil {
		logger.Warn("cannot schedule reminder", zap.String("bookingId", b.ID), zap.Error(err))
		return
	}
	at := start.Add(-policy.ReminderLead)
	if !at.After(now) {
		return
	}
	payload := BookingPayload(b)
	for _, uid := range []string{b.TouristID, b.GuideID} {
		if uid == "" {
			continue
		}
		if err := d.NotifyAt(ctx, at, uid, models.NotifyBookingReminder, payload); err != nil {
			logger.Warn("reminder scheduling failed",
				zap.String("bookingId", b.ID),
				zap.String("userId", uid),
				zap.Error(err),
			)
		}
	}
}
