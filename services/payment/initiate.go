package payment

import (
	"context"

	"guidebook/models"
	"guidebook/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InitiatePayment opens a payment for a pending booking with the gateway that
// serves the requested method. A still-unused pending payment with the same
// method is reused; any other live pending payment is superseded.
func (s *DefaultPaymentService) InitiatePayment(ctx context.Context, requesterID string, req models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error) {
	if err := utils.ValidateStruct(s.validate, req); err != nil {
		return nil, err
	}

	b, err := s.Ledger.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, utils.AsUpstream(err, "load booking")
	}
	if b.TouristID != requesterID {
		return nil, utils.Forbidden("only the tourist who booked can pay")
	}
	if b.Status != models.BookingPending {
		return nil, utils.InvalidState("booking is %s, only pending bookings take payment", b.Status)
	}

	gatewayName, ok := models.GatewayFor(req.Method)
	if !ok {
		return nil, utils.Validation("unsupported payment method %q", req.Method)
	}
	gw, ok := s.Gateways[gatewayName]
	if !ok {
		return nil, utils.Validation("payment method %q is not available", req.Method)
	}

	p, err := s.openPayment(ctx, b, req.Method, gatewayName)
	if err != nil {
		return nil, err
	}

	res, err := gw.Initiate(ctx, InitiateRequest{
		PaymentID:   p.ID,
		BookingID:   b.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		PhoneNumber: req.PhoneNumber,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		Description: "Booking " + b.ID,
	})
	if err != nil {
		// Validation problems found by the gateway (bad phone number) are the caller's.
		if utils.IsKind(err, utils.KindValidation) {
			return nil, err
		}
		s.Logger.Error("gateway initiation failed",
			zap.String("gateway", string(gatewayName)),
			zap.String("paymentId", p.ID),
			zap.String("bookingId", b.ID),
			zap.Error(err),
		)
		if _, ferr := s.Ledger.FailPayment(ctx, p.ID, models.FailureGatewayError,
			map[string]string{"gatewayError": err.Error()}, s.now()); ferr != nil {
			s.Logger.Error("fail payment after gateway error", zap.String("paymentId", p.ID), zap.Error(ferr))
		}
		return nil, utils.Upstream(err, "%s is unavailable, try again", gatewayName)
	}

	applied, err := s.Ledger.AttachPaymentReference(ctx, p.ID, res.ExternalRef, res.Metadata, s.now())
	if err != nil {
		return nil, utils.AsUpstream(err, "record gateway reference")
	}
	current, err := s.Ledger.GetPayment(ctx, p.ID)
	if err != nil {
		return nil, utils.AsUpstream(err, "reload payment")
	}
	if !applied && current.ExternalRef != res.ExternalRef {
		return nil, utils.InvalidState("payment %s is %s and can no longer be initiated", p.ID, current.Status)
	}

	s.Logger.Info("payment initiated",
		zap.String("paymentId", p.ID),
		zap.String("bookingId", b.ID),
		zap.String("gateway", string(gatewayName)),
		zap.String("ref", res.ExternalRef),
	)
	return &models.InitiatePaymentResponse{
		Payment:      current,
		ClientSecret: res.ClientSecret,
		ApprovalURL:  res.ApprovalURL,
		Message:      res.Message,
	}, nil
}

// openPayment returns the pending payment the gateway call will use.
func (s *DefaultPaymentService) openPayment(ctx context.Context, b *models.Booking, method models.PaymentMethod, gatewayName models.Gateway) (*models.Payment, error) {
	live, err := s.Ledger.GetLivePayment(ctx, b.ID)
	switch {
	case utils.IsKind(err, utils.KindNotFound):
		live = nil
	case err != nil:
		return nil, utils.AsUpstream(err, "load live payment")
	}

	if live != nil {
		if live.Status == models.PaymentCompleted {
			return nil, utils.Conflict("booking %s is already paid", b.ID)
		}
		if live.ExternalRef == "" && live.Method == method {
			return live, nil
		}
	}

	now := s.now()
	p := &models.Payment{
		ID:        uuid.New().String(),
		BookingID: b.ID,
		Amount:    b.TotalAmount,
		Currency:  b.Currency,
		Method:    method,
		Gateway:   gatewayName,
		Status:    models.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The old row has to leave the live set before the new one can enter it.
	if live != nil {
		applied, err := s.Ledger.FailPayment(ctx, live.ID, models.FailureSuperseded,
			map[string]string{models.MetaSupersededBy: p.ID}, now)
		if err != nil {
			return nil, utils.AsUpstream(err, "supersede payment")
		}
		if !applied {
			return nil, utils.Conflict("payment %s changed concurrently, try again", live.ID)
		}
		s.Logger.Info("payment superseded",
			zap.String("paymentId", live.ID),
			zap.String("supersededBy", p.ID),
			zap.String("bookingId", b.ID),
		)
	}

	if err := s.Ledger.CreatePayment(ctx, p); err != nil {
		return nil, utils.AsUpstream(err, "store payment")
	}
	return p, nil
}
