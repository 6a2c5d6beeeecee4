package payment

import (
	"context"
	"net/http"
	"time"

	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/models"
	"guidebook/services/booking"
	"guidebook/services/notification"
	"guidebook/utils"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// PaymentService opens payments with gateways and applies their outcomes.
type PaymentService interface {
	InitiatePayment(ctx context.Context, requesterID string, req models.InitiatePaymentRequest) (*models.InitiatePaymentResponse, error)
	Reconcile(ctx context.Context, gateway models.Gateway, ref string, out Outcome) (*ReconcileResult, error)
	HandleWebhook(ctx context.Context, gateway models.Gateway, payload []byte, header http.Header) (*ReconcileResult, error)
	CapturePaypal(ctx context.Context, requesterID, orderID string) (*models.PaymentStatusView, error)
	GetPaymentStatus(ctx context.Context, paymentID string, requester utils.Principal) (*models.PaymentStatusView, error)
}

// DefaultPaymentService implements PaymentService on top of a Ledger.
type DefaultPaymentService struct {
	Ledger   ledgerRepo.Ledger
	Notifier notification.Dispatcher
	Gateways map[models.Gateway]Gateway
	Policy   booking.Policy
	Logger   *zap.Logger
	Now      func() time.Time

	validate *validator.Validate
}

func NewPaymentService(ledger ledgerRepo.Ledger, notifier notification.Dispatcher, policy booking.Policy, logger *zap.Logger, gateways ...Gateway) *DefaultPaymentService {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	s := &DefaultPaymentService{
		Ledger:   ledger,
		Notifier: notifier,
		Gateways: make(map[models.Gateway]Gateway, len(gateways)),
		Policy:   policy,
		Logger:   logger,
		Now:      time.Now,
		validate: validator.New(),
	}
	for _, g := range gateways {
		s.Gateways[g.Name()] = g
	}
	return s
}

func (s *DefaultPaymentService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

var _ PaymentService = (*DefaultPaymentService)(nil)
