package payment

import (
	"context"
	"net/http"

	"guidebook/models"

	"github.com/shopspring/decimal"
)

// Gateway starts payments on one external channel.
type Gateway interface {
	Name() models.Gateway
	Method() models.PaymentMethod
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
}

// WebhookParser is implemented by gateways that report outcomes by calling us back.
// A nil Notification with a nil error means the event is not one we act on.
type WebhookParser interface {
	ParseWebhook(payload []byte, header http.Header) (*Notification, error)
}

// Capturer is implemented by gateways where we pull the outcome ourselves
// once the payer has approved.
type Capturer interface {
	Capture(ctx context.Context, ref string) (Outcome, error)
}

type InitiateRequest struct {
	PaymentID   string
	BookingID   string
	Amount      decimal.Decimal
	Currency    string
	PhoneNumber string
	ReturnURL   string
	CancelURL   string
	Description string
}

// InitiateResult is what the gateway handed back when the payment was opened.
type InitiateResult struct {
	ExternalRef  string
	ClientSecret string
	ApprovalURL  string
	Message      string
	Metadata     map[string]string
}

// Outcome is a gateway's verdict on a payment.
type Outcome struct {
	Succeeded     bool
	Amount        decimal.NullDecimal
	Currency      string
	Receipt       string
	FailureReason string
	Metadata      map[string]string
}

// Notification pairs a parsed outcome with the gateway reference it belongs to.
type Notification struct {
	Ref     string
	Outcome Outcome
}
