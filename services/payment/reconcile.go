package payment

import (
	"context"
	"net/http"

	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/models"
	"guidebook/services/booking"
	"guidebook/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReconcileAction string

const (
	ReconcileApplied   ReconcileAction = "applied"
	ReconcileDiscarded ReconcileAction = "discarded"
	ReconcileUnknown   ReconcileAction = "unknown"
	ReconcileIgnored   ReconcileAction = "ignored"
)

// ReconcileResult describes what a gateway outcome did to the ledger.
type ReconcileResult struct {
	Action           ReconcileAction
	BookingConfirmed bool
	RefundRequired   bool
	Payment          *models.Payment
	Booking          *models.Booking
}

// Reconcile applies a gateway outcome to the payment with that reference.
// Unknown references and already settled payments are discarded without
// writes, so redelivered callbacks are harmless. Notifications go out only
// after the settlement has committed.
func (s *DefaultPaymentService) Reconcile(ctx context.Context, gateway models.Gateway, ref string, out Outcome) (*ReconcileResult, error) {
	logger := s.Logger.With(zap.String("gateway", string(gateway)), zap.String("ref", ref))

	p, err := s.Ledger.GetPaymentByReference(ctx, gateway, ref)
	if utils.IsKind(err, utils.KindNotFound) {
		logger.Warn("outcome for unknown payment reference discarded", zap.Bool("succeeded", out.Succeeded))
		return &ReconcileResult{Action: ReconcileUnknown}, nil
	}
	if err != nil {
		return nil, utils.AsUpstream(err, "look up payment")
	}
	if p.Status.IsTerminal() {
		if out.Succeeded && p.Status == models.PaymentFailed {
			return s.flagChargedFailure(ctx, logger, p, out)
		}
		logger.Info("duplicate outcome discarded", zap.String("paymentId", p.ID), zap.String("status", string(p.Status)))
		return &ReconcileResult{Action: ReconcileDiscarded, Payment: p}, nil
	}

	settlement := ledgerRepo.Settlement{
		PaymentID: p.ID,
		Status:    models.PaymentFailed,
		Metadata:  copyMap(out.Metadata),
		At:        s.now(),
	}
	if out.Succeeded {
		settlement.Status = models.PaymentCompleted
	} else {
		settlement.FailureReason = out.FailureReason
		if settlement.FailureReason == "" {
			settlement.FailureReason = models.FailureDeclined
		}
	}
	if out.Receipt != "" {
		settlement.Metadata[models.MetaReceipt] = out.Receipt
	}
	if out.Amount.Valid && !amountMatches(p, out.Amount.Decimal, out.Currency) {
		logger.Warn("reported amount does not match payment",
			zap.String("paymentId", p.ID),
			zap.String("expected", p.Amount.String()+" "+p.Currency),
			zap.String("reported", out.Amount.Decimal.String()+" "+out.Currency),
		)
		settlement.Metadata[models.MetaAmountMismatch] = "true"
		settlement.Metadata[models.MetaReportedAmount] = out.Amount.Decimal.String()
	}

	res, err := s.Ledger.SettlePayment(ctx, settlement)
	if err != nil {
		return nil, utils.AsUpstream(err, "settle payment")
	}
	if !res.PaymentApplied {
		logger.Info("payment settled concurrently, outcome discarded", zap.String("paymentId", p.ID))
		return &ReconcileResult{Action: ReconcileDiscarded, Payment: res.Payment, Booking: res.Booking}, nil
	}

	result := &ReconcileResult{
		Action:           ReconcileApplied,
		BookingConfirmed: res.BookingConfirmed,
		Payment:          res.Payment,
		Booking:          res.Booking,
	}
	logger.Info("payment settled",
		zap.String("paymentId", p.ID),
		zap.String("status", string(settlement.Status)),
		zap.Bool("bookingConfirmed", res.BookingConfirmed),
	)
	s.afterSettlement(ctx, result)
	return result, nil
}

// flagChargedFailure handles a success reported for a payment that was
// already failed or superseded. The money was taken, so the payment is flagged
// refundRequired and the tourist is told once. The payment stays failed.
func (s *DefaultPaymentService) flagChargedFailure(ctx context.Context, logger *zap.Logger, p *models.Payment, out Outcome) (*ReconcileResult, error) {
	metadata := map[string]string{}
	if out.Receipt != "" {
		metadata[models.MetaReceipt] = out.Receipt
	}
	if out.Amount.Valid {
		metadata[models.MetaReportedAmount] = out.Amount.Decimal.String()
	}
	flagged, err := s.Ledger.FlagRefundRequired(ctx, p.ID, metadata, s.now())
	if err != nil {
		return nil, utils.AsUpstream(err, "flag refund")
	}
	if !flagged {
		logger.Info("duplicate outcome discarded", zap.String("paymentId", p.ID), zap.String("status", string(p.Status)))
		return &ReconcileResult{Action: ReconcileDiscarded, Payment: p}, nil
	}

	logger.Warn("payment charged after it failed; refund required",
		zap.String("paymentId", p.ID),
		zap.String("failureReason", p.FailureReason),
	)
	result := &ReconcileResult{Action: ReconcileDiscarded, RefundRequired: true, Payment: p}
	if fresh, err := s.Ledger.GetPayment(ctx, p.ID); err == nil {
		result.Payment = fresh
	}
	b, err := s.Ledger.GetBooking(ctx, p.BookingID)
	if err != nil {
		logger.Error("load booking for refund notice failed", zap.String("paymentId", p.ID), zap.Error(err))
		return result, nil
	}
	result.Booking = b
	payload := booking.BookingPayload(b)
	payload["paymentId"] = p.ID
	payload["amount"] = p.Amount.String()
	payload["currency"] = p.Currency
	payload["failureReason"] = p.FailureReason
	booking.Notify(ctx, s.Notifier, s.Logger, b.TouristID, models.NotifyRefundRequired, payload)
	return result, nil
}

func (s *DefaultPaymentService) afterSettlement(ctx context.Context, r *ReconcileResult) {
	b := r.Booking
	if b == nil {
		s.Logger.Error("settled payment has no booking", zap.String("paymentId", r.Payment.ID))
		return
	}
	payload := booking.BookingPayload(b)
	payload["paymentId"] = r.Payment.ID
	payload["amount"] = r.Payment.Amount.String()
	payload["currency"] = r.Payment.Currency

	if r.Payment.Status == models.PaymentFailed {
		payload["failureReason"] = r.Payment.FailureReason
		booking.Notify(ctx, s.Notifier, s.Logger, b.TouristID, models.NotifyPaymentFailed, payload)
		return
	}

	booking.Notify(ctx, s.Notifier, s.Logger, b.TouristID, models.NotifyPaymentConfirmed, payload)
	if r.BookingConfirmed {
		booking.NotifyParties(ctx, s.Notifier, s.Logger, b, models.NotifyBookingConfirmed)
		booking.ScheduleReminders(ctx, s.Notifier, s.Logger, b, s.Policy, s.now())
		return
	}

	if b.Status != models.BookingCancelled {
		return
	}
	r.RefundRequired = true
	s.Logger.Warn("payment completed for a cancelled booking; refund required",
		zap.String("paymentId", r.Payment.ID),
		zap.String("bookingId", b.ID),
		zap.String("bookingStatus", string(b.Status)),
	)
	booking.Notify(ctx, s.Notifier, s.Logger, b.TouristID, models.NotifyRefundRequired, payload)
}

// HandleWebhook verifies and parses a gateway callback, then reconciles it.
func (s *DefaultPaymentService) HandleWebhook(ctx context.Context, gateway models.Gateway, payload []byte, header http.Header) (*ReconcileResult, error) {
	gw, ok := s.Gateways[gateway]
	if !ok {
		return nil, utils.NotFound("gateway %s is not configured", gateway)
	}
	parser, ok := gw.(WebhookParser)
	if !ok {
		return nil, utils.NotFound("gateway %s does not accept webhooks", gateway)
	}
	n, err := parser.ParseWebhook(payload, header)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return &ReconcileResult{Action: ReconcileIgnored}, nil
	}
	return s.Reconcile(ctx, gateway, n.Ref, n.Outcome)
}

// CapturePaypal captures an approved PayPal order for the tourist who owns it
// and reconciles the result. Capturing an already settled order just reports it.
func (s *DefaultPaymentService) CapturePaypal(ctx context.Context, requesterID, orderID string) (*models.PaymentStatusView, error) {
	if orderID == "" {
		return nil, utils.Validation("orderId is required")
	}
	p, err := s.Ledger.GetPaymentByReference(ctx, models.GatewayPaypal, orderID)
	if err != nil {
		return nil, utils.AsUpstream(err, "look up paypal order")
	}
	b, err := s.Ledger.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, utils.AsUpstream(err, "load booking")
	}
	if b.TouristID != requesterID {
		return nil, utils.Forbidden("not the payer of this order")
	}

	if !p.Status.IsTerminal() {
		gw, ok := s.Gateways[models.GatewayPaypal].(Capturer)
		if !ok {
			return nil, utils.Validation("paypal is not available")
		}
		out, err := gw.Capture(ctx, orderID)
		if err != nil {
			s.Logger.Error("paypal capture failed", zap.String("orderId", orderID), zap.Error(err))
			return nil, utils.Upstream(err, "paypal capture failed, try again")
		}
		if _, err := s.Reconcile(ctx, models.GatewayPaypal, orderID, out); err != nil {
			return nil, err
		}
	}
	return s.statusView(ctx, p.ID)
}

// GetPaymentStatus shows a payment and its booking to the tourist who owns it.
func (s *DefaultPaymentService) GetPaymentStatus(ctx context.Context, paymentID string, requester utils.Principal) (*models.PaymentStatusView, error) {
	p, err := s.Ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, utils.AsUpstream(err, "load payment")
	}
	b, err := s.Ledger.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, utils.AsUpstream(err, "load booking")
	}
	if requester.Role != utils.RoleAdmin && b.TouristID != requester.UserID {
		return nil, utils.Forbidden("not the payer of this payment")
	}
	return newStatusView(p, b), nil
}

func (s *DefaultPaymentService) statusView(ctx context.Context, paymentID string) (*models.PaymentStatusView, error) {
	p, err := s.Ledger.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, utils.AsUpstream(err, "reload payment")
	}
	b, err := s.Ledger.GetBooking(ctx, p.BookingID)
	if err != nil {
		return nil, utils.AsUpstream(err, "reload booking")
	}
	return newStatusView(p, b), nil
}

func newStatusView(p *models.Payment, b *models.Booking) *models.PaymentStatusView {
	return &models.PaymentStatusView{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		Status:        p.Status,
		BookingStatus: b.Status,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		FailureReason: p.FailureReason,
		SettledAt:     p.SettledAt,
	}
}

// amountMatches compares a reported amount with what the gateway was asked
// to charge. M-Pesa charges whole shillings.
func amountMatches(p *models.Payment, reported decimal.Decimal, currency string) bool {
	if currency != "" && utils.NormalizeCurrency(currency) != utils.NormalizeCurrency(p.Currency) {
		return false
	}
	expected := p.Amount
	if p.Gateway == models.GatewayMpesa {
		expected = decimal.NewFromInt(MpesaAmount(p.Amount))
	}
	return expected.Equal(reported)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+3)
	for k, v := range m {
		out[k] = v
	}
	return out
}
