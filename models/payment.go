package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// IsLive reports whether the payment still counts against its booking.
func (s PaymentStatus) IsLive() bool {
	return s == PaymentPending || s == PaymentCompleted
}

type PaymentMethod string

const (
	MethodCard        PaymentMethod = "card"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodWallet      PaymentMethod = "wallet"
)

type Gateway string

const (
	GatewayStripe Gateway = "stripe"
	GatewayMpesa  Gateway = "mpesa"
	GatewayPaypal Gateway = "paypal"
)

var methodGateways = map[PaymentMethod]Gateway{
	MethodCard:        GatewayStripe,
	MethodMobileMoney: GatewayMpesa,
	MethodWallet:      GatewayPaypal,
}

// GatewayFor maps a payment method onto the gateway that serves it.
func GatewayFor(m PaymentMethod) (Gateway, bool) {
	g, ok := methodGateways[m]
	return g, ok
}

// Payment metadata keys.
const (
	MetaSupersededBy   = "supersededBy"
	MetaReceipt        = "receipt"
	MetaAmountMismatch = "amountMismatch"
	MetaReportedAmount = "reportedAmount"
	MetaPhone          = "phone"
	MetaRefundRequired = "refundRequired"
)

// Failure reasons recorded on payments.
const (
	FailureBookingCancelled = "booking_cancelled"
	FailureSuperseded       = "superseded"
	FailureGatewayError     = "gateway_error"
	FailureDeclined         = "declined"
)

// Payment is one attempt to pay for a booking through a gateway.
type Payment struct {
	ID            string            `bson:"id" json:"id"`
	BookingID     string            `bson:"bookingId" json:"bookingId"`
	Amount        decimal.Decimal   `bson:"amount" json:"amount"`
	Currency      string            `bson:"currency" json:"currency"`
	Method        PaymentMethod     `bson:"method" json:"method"`
	Gateway       Gateway           `bson:"gateway" json:"gateway"`
	Status        PaymentStatus     `bson:"status" json:"status"`
	ExternalRef   string            `bson:"externalRef,omitempty" json:"externalRef,omitempty"`
	Metadata      map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`
	FailureReason string            `bson:"failureReason,omitempty" json:"failureReason,omitempty"`
	CreatedAt     time.Time         `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time         `bson:"updatedAt" json:"updatedAt"`
	SettledAt     *time.Time        `bson:"settledAt,omitempty" json:"settledAt,omitempty"`
}

// InitiatePaymentRequest starts (or restarts) payment for a booking.
type InitiatePaymentRequest struct {
	BookingID   string        `json:"bookingId" validate:"required"`
	Method      PaymentMethod `json:"paymentMethod" validate:"required,oneof=card mobile_money wallet"`
	PhoneNumber string        `json:"phoneNumber,omitempty" validate:"required_if=Method mobile_money"`
	ReturnURL   string        `json:"returnUrl,omitempty" validate:"omitempty,url"`
	CancelURL   string        `json:"cancelUrl,omitempty" validate:"omitempty,url"`
}

// InitiatePaymentResponse tells the client how to continue with the gateway.
type InitiatePaymentResponse struct {
	Payment      *Payment `json:"payment"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	ApprovalURL  string   `json:"approvalUrl,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// PaymentStatusView is the payer-facing status of a payment and its booking.
type PaymentStatusView struct {
	PaymentID     string          `json:"paymentId"`
	BookingID     string          `json:"bookingId"`
	Status        PaymentStatus   `json:"status"`
	BookingStatus BookingStatus   `json:"bookingStatus"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        PaymentMethod   `json:"method"`
	FailureReason string          `json:"failureReason,omitempty"`
	SettledAt     *time.Time      `json:"settledAt,omitempty"`
}
