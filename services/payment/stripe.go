package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"
	stripeSignature      = "Stripe-Signature"
)

// Stripe takes card payments through PaymentIntents. The API key is the
// package-level stripe.Key set at startup.
type Stripe struct {
	WebhookSecret string
	Timeout       time.Duration

	newIntent func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func NewStripe(webhookSecret string, timeout time.Duration) *Stripe {
	return &Stripe{
		WebhookSecret: webhookSecret,
		Timeout:       timeout,
		newIntent:     paymentintent.New,
	}
}

func (s *Stripe) Name() models.Gateway         { return models.GatewayStripe }
func (s *Stripe) Method() models.PaymentMethod { return models.MethodCard }

func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(s.Timeout))
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(utils.ToMinorUnits(req.Amount, req.Currency)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.PaymentID)
	params.AddMetadata("bookingId", req.BookingID)
	params.AddMetadata("paymentId", req.PaymentID)

	pi, err := s.newIntent(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &InitiateResult{
		ExternalRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Metadata:     map[string]string{"stripeStatus": string(pi.Status)},
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps payment intent
// events onto outcomes. Other event types are ignored.
func (s *Stripe) ParseWebhook(payload []byte, header http.Header) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignature), s.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, utils.Validation("invalid stripe signature: %v", err)
	}

	eventType := string(event.Type)
	if eventType != stripeEventSucceeded && eventType != stripeEventFailed {
		return nil, nil
	}
	if event.Data == nil {
		return nil, utils.Validation("stripe event %s has no data", event.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, utils.Validation("malformed payment intent in %s: %v", event.ID, err)
	}
	if pi.ID == "" {
		return nil, utils.Validation("stripe event %s has no payment intent id", event.ID)
	}

	currency := utils.NormalizeCurrency(string(pi.Currency))
	minor := pi.AmountReceived
	if minor == 0 {
		minor = pi.Amount
	}
	out := Outcome{
		Succeeded: eventType == stripeEventSucceeded,
		Amount:    decimal.NewNullDecimal(utils.FromMinorUnits(minor, currency)),
		Currency:  currency,
		Metadata:  map[string]string{"stripeEventId": event.ID},
	}
	if out.Succeeded {
		if pi.LatestCharge != nil {
			out.Receipt = pi.LatestCharge.ID
		}
	} else {
		out.FailureReason = models.FailureDeclined
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			out.FailureReason = pi.LastPaymentError.Msg
		}
	}
	return &Notification{Ref: pi.ID, Outcome: out}, nil
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Second
	}
	return d
}
