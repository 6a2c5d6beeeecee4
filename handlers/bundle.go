package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups all endpoint handlers into one struct.
type HandlerBundle struct {
	// Booking endpoints
	CreateBooking     gin.HandlerFunc
	ListMyBookings    gin.HandlerFunc
	GetBooking        gin.HandlerFunc
	CancelBooking     gin.HandlerFunc
	QuoteExperience   gin.HandlerFunc
	GuideAvailability gin.HandlerFunc

	// Guide endpoints
	ListGuideBookings gin.HandlerFunc
	ConfirmBooking    gin.HandlerFunc
	RejectBooking     gin.HandlerFunc

	// Payment endpoints
	InitiatePayment  gin.HandlerFunc
	GetPaymentStatus gin.HandlerFunc
	CapturePaypal    gin.HandlerFunc

	// Gateway callbacks
	StripeWebhook gin.HandlerFunc
	MpesaWebhook  gin.HandlerFunc

	// Device endpoints
	UpdateFCMTokenHandler gin.HandlerFunc
	Heartbeat             gin.HandlerFunc
	GoOffline             gin.HandlerFunc

	// Admin endpoints
	CompleteBooking gin.HandlerFunc

	Health gin.HandlerFunc
}

// NewHandlerBundle wires the handler structs into a bundle. device may be nil
// when Redis is not configured.
func NewHandlerBundle(bookings *BookingHandler, payments *PaymentHandler, webhooks *WebhookHandler, device *DeviceHandler) *HandlerBundle {
	if device == nil {
		device = &DeviceHandler{}
	}
	return &HandlerBundle{
		CreateBooking:     bookings.CreateBooking,
		ListMyBookings:    bookings.ListMyBookings,
		GetBooking:        bookings.GetBooking,
		CancelBooking:     bookings.CancelBooking,
		QuoteExperience:   bookings.QuoteExperience,
		GuideAvailability: bookings.GuideAvailability,

		ListGuideBookings: bookings.ListGuideBookings,
		ConfirmBooking:    bookings.ConfirmBooking,
		RejectBooking:     bookings.RejectBooking,

		InitiatePayment:  payments.InitiatePayment,
		GetPaymentStatus: payments.GetPaymentStatus,
		CapturePaypal:    payments.CapturePaypal,

		StripeWebhook: webhooks.StripeWebhook,
		MpesaWebhook:  webhooks.MpesaWebhook,

		UpdateFCMTokenHandler: device.UpdateFCMTokenHandler,
		Heartbeat:             device.Heartbeat,
		GoOffline:             device.GoOffline,

		CompleteBooking: bookings.CompleteBooking,

		Health: HealthHandler,
	}
}
