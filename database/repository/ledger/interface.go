package ledgerRepo

import (
	"context"
	"time"

	"guidebook/models"
)

// Transition is a conditional booking status change.
type Transition struct {
	From   models.BookingStatus
	To     models.BookingStatus
	At     time.Time
	Reason string // cancellations only
}

// Settlement moves a pending payment to a terminal status.
type Settlement struct {
	PaymentID     string
	Status        models.PaymentStatus // completed or failed
	FailureReason string
	Metadata      map[string]string
	At            time.Time
}

// SettlementResult reports which writes a settlement applied and the rows afterwards.
type SettlementResult struct {
	PaymentApplied   bool
	BookingConfirmed bool
	Payment          *models.Payment
	Booking          *models.Booking
}

// Ledger is the persistent record of experiences, bookings and payments.
//
// Every status change is a conditional write keyed on the current status, so
// concurrent writers racing on the same row see exactly one winner. Missing
// rows are reported as utils.NotFound and uniqueness violations as
// utils.Conflict; anything else is an infrastructure error.
type Ledger interface {
	Ping(ctx context.Context) error

	GetExperience(ctx context.Context, id string) (*models.Experience, error)

	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindLiveBookings(ctx context.Context, guideID, date string) ([]models.Booking, error)
	CountLiveBookings(ctx context.Context, guideID, date string) (int, error)
	ListBookingsByTourist(ctx context.Context, touristID string) ([]models.Booking, error)
	ListBookingsByGuide(ctx context.Context, guideID string) ([]models.Booking, error)
	// ListDueForCompletion returns confirmed bookings dated on or before date.
	// Callers filter on the exact end time.
	ListDueForCompletion(ctx context.Context, date string) ([]models.Booking, error)

	// CreateBookingWithPayment stores both rows or neither. It fails with
	// Conflict if the guide already has a live booking on that date.
	CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error
	UpdateBookingStatus(ctx context.Context, id string, t Transition) (bool, error)

	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByReference(ctx context.Context, gateway models.Gateway, ref string) (*models.Payment, error)
	GetLivePayment(ctx context.Context, bookingID string) (*models.Payment, error)
	// CreatePayment fails with Conflict if the booking already has a live payment.
	CreatePayment(ctx context.Context, p *models.Payment) error
	// AttachPaymentReference sets the gateway reference on a pending payment that
	// has none yet. A reference already used on the same gateway is a Conflict.
	AttachPaymentReference(ctx context.Context, id, ref string, metadata map[string]string, at time.Time) (bool, error)
	FailPayment(ctx context.Context, id, reason string, metadata map[string]string, at time.Time) (bool, error)
	// SettlePayment applies a settlement as one unit. On completion the booking
	// moves pending->confirmed in the same unit. If the booking was cancelled
	// meanwhile the payment is still completed and flagged refundRequired.
	SettlePayment(ctx context.Context, s Settlement) (SettlementResult, error)
	// FlagRefundRequired marks a failed payment that the gateway later reported
	// as charged. It returns false if the payment is not failed or already flagged.
	FlagRefundRequired(ctx context.Context, id string, metadata map[string]string, at time.Time) (bool, error)
}

func mergeMetadata(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func liveStatusStrings() []string {
	out := make([]string, 0, len(models.LiveBookingStatuses))
	for _, s := range models.LiveBookingStatuses {
		out = append(out, string(s))
	}
	return out
}

func newContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
