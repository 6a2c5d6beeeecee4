package notification

import (
	"fmt"

	"guidebook/models"
)

// Render builds the human-readable title and body for an event.
func Render(event models.NotificationEvent) (title, body string) {
	p := event.Payload
	when := p["bookingDate"]
	if t := p["startTime"]; t != "" {
		when = fmt.Sprintf("%s at %s", when, t)
	}

	switch event.Type {
	case models.NotifyBookingCreated:
		if p["role"] == "guide" {
			return "New Booking Request", fmt.Sprintf("You have a new booking request for %s.", when)
		}
		return "Booking Received", fmt.Sprintf("Your booking for %s is pending confirmation.", when)
	case models.NotifyBookingConfirmed:
		return "Booking Confirmed!", fmt.Sprintf("Your booking on %s has been confirmed.", when)
	case models.NotifyBookingRejected:
		return "Booking Declined", fmt.Sprintf("Your guide could not accept the booking on %s.", when)
	case models.NotifyBookingCancelled:
		return "Booking Cancelled", fmt.Sprintf("The booking on %s has been cancelled.", when)
	case models.NotifyBookingCompleted:
		return "Thanks for touring with us", "Your experience is complete. We hope you enjoyed it!"
	case models.NotifyBookingReminder:
		return "Upcoming Experience", fmt.Sprintf("Reminder: your experience starts %s.", when)
	case models.NotifyPaymentConfirmed:
		return "Payment Received", fmt.Sprintf("We've received your payment of %s %s.", p["currency"], p["amount"])
	case models.NotifyPaymentFailed:
		return "Payment Failed", "We couldn't process your payment. Please try again to secure your booking."
	case models.NotifyRefundRequired:
		return "Refund In Progress", fmt.Sprintf("Your payment of %s %s will be refunded because the booking is no longer active.", p["currency"], p["amount"])
	default:
		return "Notification", string(event.Type)
	}
}
