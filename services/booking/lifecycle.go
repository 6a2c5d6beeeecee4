package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/models"
	"guidebook/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const rejectedByGuide = "rejected_by_guide"

func (s *DefaultBookingService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *DefaultBookingService) validateStruct(v any) error {
	return utils.ValidateStruct(s.validate, v)
}

// CreateBooking validates and prices the request, then stores a pending
// booking together with its pending payment row.
func (s *DefaultBookingService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	exp, err := s.bookableExperience(ctx, req.ExperienceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start, err := models.ParseStart(req.BookingDate, req.StartTime, s.Policy.Location)
	if err != nil {
		return nil, utils.Validation("invalid booking date or start time")
	}
	if !start.After(now) {
		return nil, utils.Validation("booking must start in the future")
	}
	if exp.MaxGroupSize > 0 && req.Guests > exp.MaxGroupSize {
		return nil, utils.Validation("experience allows at most %d guests", exp.MaxGroupSize)
	}
	gateway, ok := models.GatewayFor(req.PaymentMethod)
	if !ok {
		return nil, utils.Validation("unsupported payment method %q", req.PaymentMethod)
	}

	available, err := s.IsAvailable(ctx, exp.GuideID, req.BookingDate, req.StartTime, exp.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, utils.Conflict("guide is not available on %s", req.BookingDate)
	}

	quote, err := Quote(exp, req.Guests, req.Currency, s.Policy.FeeRate)
	if err != nil {
		return nil, err
	}

	b := &models.Booking{
		ID:              uuid.New().String(),
		GuideID:         exp.GuideID,
		ExperienceID:    exp.ID,
		TouristID:       req.TouristID,
		BookingDate:     req.BookingDate,
		StartTime:       req.StartTime,
		DurationMinutes: exp.DurationMinutes,
		Guests:          req.Guests,
		Currency:        quote.Currency,
		BasePrice:       quote.BasePrice,
		ServiceFee:      quote.ServiceFee,
		TotalAmount:     quote.TotalAmount,
		SpecialRequests: req.SpecialRequests,
		Status:          models.BookingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	p := &models.Payment{
		ID:        uuid.New().String(),
		BookingID: b.ID,
		Amount:    quote.TotalAmount,
		Currency:  quote.Currency,
		Method:    req.PaymentMethod,
		Gateway:   gateway,
		Status:    models.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.Ledger.CreateBookingWithPayment(ctx, b, p); err != nil {
		return nil, utils.AsUpstream(err, "store booking")
	}

	s.Logger.Info("booking created",
		zap.String("bookingId", b.ID),
		zap.String("guideId", b.GuideID),
		zap.String("touristId", b.TouristID),
		zap.String("total", b.TotalAmount.String()),
	)
	NotifyParties(ctx, s.Notifier, s.Logger, b, models.NotifyBookingCreated)
	return &models.BookingResponse{Booking: b, Payment: p}, nil
}

// transition applies from->to conditionally and reloads the booking. A lost
// race surfaces as InvalidState carrying the status the winner left behind.
func (s *DefaultBookingService) transition(ctx context.Context, b *models.Booking, to models.BookingStatus, reason string) (*models.Booking, error) {
	applied, err := s.Ledger.UpdateBookingStatus(ctx, b.ID, ledgerRepo.Transition{
		From:   b.Status,
		To:     to,
		At:     s.now(),
		Reason: reason,
	})
	if err != nil {
		return nil, utils.AsUpstream(err, "update booking status")
	}
	current, err := s.Ledger.GetBooking(ctx, b.ID)
	if err != nil {
		return nil, utils.AsUpstream(err, "reload booking")
	}
	if !applied {
		return nil, utils.InvalidState("booking %s is %s and cannot become %s", b.ID, current.Status, to)
	}
	return current, nil
}

func (s *DefaultBookingService) loadBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.Ledger.GetBooking(ctx, id)
	if err != nil {
		return nil, utils.AsUpstream(err, "load booking")
	}
	return b, nil
}

// CancelBooking lets the tourist cancel. Confirmed bookings need at least the
// cancellation window before start; pending ones only need a future start.
func (s *DefaultBookingService) CancelBooking(ctx context.Context, bookingID, requesterID, reason string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.TouristID != requesterID {
		return nil, utils.Forbidden("only the tourist who booked can cancel")
	}
	if b.Status.IsTerminal() {
		return nil, utils.InvalidState("booking is already %s", b.Status)
	}

	start, err := b.StartsAt(s.Policy.Location)
	if err != nil {
		return nil, utils.Upstream(err, "stored booking has an invalid start")
	}
	untilStart := start.Sub(s.now())
	switch b.Status {
	case models.BookingConfirmed:
		if untilStart < s.Policy.CancellationWindow {
			return nil, utils.InvalidState("confirmed bookings cannot be cancelled less than %.0f hours before start",
				s.Policy.CancellationWindow.Hours())
		}
	case models.BookingPending:
		if untilStart <= 0 {
			return nil, utils.InvalidState("booking has already started")
		}
	}

	updated, err := s.transition(ctx, b, models.BookingCancelled, reason)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("booking cancelled", zap.String("bookingId", b.ID), zap.String("from", string(b.Status)))
	s.releasePayment(ctx, updated)
	NotifyParties(ctx, s.Notifier, s.Logger, updated, models.NotifyBookingCancelled)
	return updated, nil
}

// releasePayment fails the pending payment of a cancelled booking. A payment
// that already completed is flagged for refund instead.
func (s *DefaultBookingService) releasePayment(ctx context.Context, b *models.Booking) {
	p, err := s.Ledger.GetLivePayment(ctx, b.ID)
	if utils.IsKind(err, utils.KindNotFound) {
		return
	}
	if err != nil {
		s.Logger.Error("load live payment for cancelled booking", zap.String("bookingId", b.ID), zap.Error(err))
		return
	}
	switch p.Status {
	case models.PaymentPending:
		if _, err := s.Ledger.FailPayment(ctx, p.ID, models.FailureBookingCancelled, nil, s.now()); err != nil {
			s.Logger.Error("fail payment for cancelled booking",
				zap.String("bookingId", b.ID),
				zap.String("paymentId", p.ID),
				zap.Error(err),
			)
		}
	case models.PaymentCompleted:
		s.Logger.Warn("cancelled booking has a completed payment; refund required",
			zap.String("bookingId", b.ID),
			zap.String("paymentId", p.ID),
		)
		payload := BookingPayload(b)
		payload["paymentId"] = p.ID
		payload["amount"] = p.Amount.String()
		Notify(ctx, s.Notifier, s.Logger, b.TouristID, models.NotifyRefundRequired, payload)
	}
}

func (s *DefaultBookingService) guideBooking(ctx context.Context, bookingID, guideID string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if guideID == "" || b.GuideID != guideID {
		return nil, utils.Forbidden("booking belongs to another guide")
	}
	if b.Status != models.BookingPending {
		return nil, utils.InvalidState("booking is %s, only pending bookings can be answered", b.Status)
	}
	return b, nil
}

func (s *DefaultBookingService) ConfirmByGuide(ctx context.Context, bookingID, guideID string) (*models.Booking, error) {
	b, err := s.guideBooking(ctx, bookingID, guideID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, b, models.BookingConfirmed, "")
	if err != nil {
		return nil, err
	}
	s.Logger.Info("booking confirmed by guide", zap.String("bookingId", b.ID), zap.String("guideId", guideID))
	Notify(ctx, s.Notifier, s.Logger, updated.TouristID, models.NotifyBookingConfirmed, withRole(BookingPayload(updated), "tourist"))
	ScheduleReminders(ctx, s.Notifier, s.Logger, updated, s.Policy, s.now())
	return updated, nil
}

func (s *DefaultBookingService) RejectByGuide(ctx context.Context, bookingID, guideID, reason string) (*models.Booking, error) {
	b, err := s.guideBooking(ctx, bookingID, guideID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = rejectedByGuide
	}
	updated, err := s.transition(ctx, b, models.BookingCancelled, reason)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("booking rejected by guide", zap.String("bookingId", b.ID), zap.String("guideId", guideID))
	s.releasePayment(ctx, updated)
	Notify(ctx, s.Notifier, s.Logger, updated.TouristID, models.NotifyBookingRejected, withRole(BookingPayload(updated), "tourist"))
	return updated, nil
}

// MarkCompleted is an operator action: only confirmed bookings whose end time
// has passed can complete.
func (s *DefaultBookingService) MarkCompleted(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, b)
}

func (s *DefaultBookingService) complete(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.Status != models.BookingConfirmed {
		return nil, utils.InvalidState("booking is %s, only confirmed bookings can complete", b.Status)
	}
	end, err := b.EndsAt(s.Policy.Location)
	if err != nil {
		return nil, utils.Upstream(err, "stored booking has an invalid start")
	}
	if s.now().Before(end) {
		return nil, utils.InvalidState("booking has not finished yet")
	}
	updated, err := s.transition(ctx, b, models.BookingCompleted, "")
	if err != nil {
		return nil, err
	}
	s.Logger.Info("booking completed", zap.String("bookingId", b.ID))
	NotifyParties(ctx, s.Notifier, s.Logger, updated, models.NotifyBookingCompleted)
	return updated, nil
}

// CompleteDue completes every confirmed booking that has ended and returns
// the ids it moved. Bookings that lose a race are skipped.
func (s *DefaultBookingService) CompleteDue(ctx context.Context) ([]string, error) {
	today := s.now().In(s.Policy.Location).Format(models.DateLayout)
	due, err := s.Ledger.ListDueForCompletion(ctx, today)
	if err != nil {
		return nil, utils.AsUpstream(err, "list due bookings")
	}

	var done []string
	var errs []error
	for i := range due {
		b := &due[i]
		end, err := b.EndsAt(s.Policy.Location)
		if err != nil || s.now().Before(end) {
			continue
		}
		if _, err := s.complete(ctx, b); err != nil {
			if utils.IsKind(err, utils.KindInvalidState) {
				continue
			}
			errs = append(errs, fmt.Errorf("complete %s: %w", b.ID, err))
			continue
		}
		done = append(done, b.ID)
	}
	return done, errors.Join(errs...)
}

// GetBooking returns a booking to its tourist, its guide or an admin.
func (s *DefaultBookingService) GetBooking(ctx context.Context, bookingID string, requester utils.Principal) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if requester.Role != utils.RoleAdmin && !b.CanView(requester.UserID, requester.GuideID) {
		return nil, utils.Forbidden("not a party to this booking")
	}
	return b, nil
}

func (s *DefaultBookingService) ListForTourist(ctx context.Context, touristID string) ([]models.Booking, error) {
	list, err := s.Ledger.ListBookingsByTourist(ctx, touristID)
	if err != nil {
		return nil, utils.AsUpstream(err, "list tourist bookings")
	}
	return list, nil
}

func (s *DefaultBookingService) ListForGuide(ctx context.Context, guideID string) ([]models.Booking, error) {
	list, err := s.Ledger.ListBookingsByGuide(ctx, guideID)
	if err != nil {
		return nil, utils.AsUpstream(err, "list guide bookings")
	}
	return list, nil
}
