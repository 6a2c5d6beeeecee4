package booking

import (
	"context"
	"time"

	"guidebook/config"
	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/models"
	"guidebook/services/notification"
	"guidebook/utils"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AvailabilityChecker answers whether a guide can take a booking.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, guideID, date, startTime string, durationMinutes int) (bool, error)
}

// PricingCalculator quotes the price of a prospective booking.
type PricingCalculator interface {
	CalculatePrice(ctx context.Context, experienceID string, guests int, currency string) (*models.Quote, error)
}

// BookingService manages the booking lifecycle.
type BookingService interface {
	AvailabilityChecker
	PricingCalculator

	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResponse, error)
	CancelBooking(ctx context.Context, bookingID, requesterID, reason string) (*models.Booking, error)
	ConfirmByGuide(ctx context.Context, bookingID, guideID string) (*models.Booking, error)
	RejectByGuide(ctx context.Context, bookingID, guideID, reason string) (*models.Booking, error)
	MarkCompleted(ctx context.Context, bookingID string) (*models.Booking, error)
	CompleteDue(ctx context.Context) ([]string, error)

	GetBooking(ctx context.Context, bookingID string, requester utils.Principal) (*models.Booking, error)
	ListForTourist(ctx context.Context, touristID string) ([]models.Booking, error)
	ListForGuide(ctx context.Context, guideID string) ([]models.Booking, error)
}

// Policy holds the tunable booking rules.
type Policy struct {
	FeeRate            decimal.Decimal
	CancellationWindow time.Duration
	ReminderLead       time.Duration
	Location           *time.Location
}

// DefaultPolicy is a 10% fee, a 24 hour cancellation window and UTC.
func DefaultPolicy() Policy {
	return Policy{
		FeeRate:            decimal.RequireFromString("0.10"),
		CancellationWindow: 24 * time.Hour,
		ReminderLead:       24 * time.Hour,
		Location:           time.UTC,
	}
}

// PolicyFromConfig reads the booking rules from config.AppConfig.
func PolicyFromConfig() (Policy, error) {
	p := DefaultPolicy()
	if raw := config.AppConfig.ServiceFeeRate; raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() {
			return p, utils.Validation("invalid SERVICE_FEE_RATE %q", raw)
		}
		p.FeeRate = rate
	}
	if h := config.AppConfig.CancellationWindowHours; h > 0 {
		p.CancellationWindow = time.Duration(h) * time.Hour
	}
	if h := config.AppConfig.ReminderLeadHours; h > 0 {
		p.ReminderLead = time.Duration(h) * time.Hour
	}
	p.Location = config.Location()
	return p, nil
}

// DefaultBookingService implements BookingService on top of a Ledger.
type DefaultBookingService struct {
	Ledger   ledgerRepo.Ledger
	Notifier notification.Dispatcher
	Policy   Policy
	Logger   *zap.Logger
	Now      func() time.Time

	validate *validator.Validate
}

func NewBookingService(ledger ledgerRepo.Ledger, notifier notification.Dispatcher, policy Policy, logger *zap.Logger) *DefaultBookingService {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	return &DefaultBookingService{
		Ledger:   ledger,
		Notifier: notifier,
		Policy:   policy,
		Logger:   logger,
		Now:      time.Now,
		validate: validator.New(),
	}
}

var _ BookingService = (*DefaultBookingService)(nil)
