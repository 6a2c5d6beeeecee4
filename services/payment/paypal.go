package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"guidebook/models"
	"guidebook/utils"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

const paypalCompleted = "COMPLETED"

type paypalAPI interface {
	CreateOrder(ctx context.Context, intent string, purchaseUnits []paypal.PurchaseUnitRequest, paymentSource *paypal.PaymentSource, appContext *paypal.ApplicationContext) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string, captureOrderRequest paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

// PayPal takes wallet payments as CAPTURE orders. The payer approves the
// order on PayPal and we capture it server-side.
type PayPal struct {
	Timeout time.Duration

	api paypalAPI
}

func NewPayPal(clientID, secret, mode string, timeout time.Duration) (*PayPal, error) {
	base := paypal.APIBaseSandBox
	if strings.EqualFold(mode, "live") {
		base = paypal.APIBaseLive
	}
	client, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	client.Client = &http.Client{Timeout: timeoutOrDefault(timeout)}
	return &PayPal{Timeout: timeout, api: client}, nil
}

func (p *PayPal) Name() models.Gateway         { return models.GatewayPaypal }
func (p *PayPal) Method() models.PaymentMethod { return models.MethodWallet }

func (p *PayPal) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: req.PaymentID,
		CustomID:    req.BookingID,
		Description: req.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: utils.NormalizeCurrency(req.Currency),
			Value:    utils.FormatMoney(req.Amount, req.Currency),
		},
	}}
	var appCtx *paypal.ApplicationContext
	if req.ReturnURL != "" || req.CancelURL != "" {
		appCtx = &paypal.ApplicationContext{ReturnURL: req.ReturnURL, CancelURL: req.CancelURL}
	}

	order, err := p.api.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}
	approval := approvalLink(order.Links)
	if approval == "" {
		return nil, fmt.Errorf("paypal order %s has no approval link", order.ID)
	}
	return &InitiateResult{
		ExternalRef: order.ID,
		ApprovalURL: approval,
		Metadata:    map[string]string{"paypalStatus": order.Status},
	}, nil
}

// Capture captures an approved order and reports the result as an outcome.
// When the capture call fails the order is read back, so an order already
// captured by an earlier attempt still yields its completed outcome.
func (p *PayPal) Capture(ctx context.Context, orderID string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(p.Timeout))
	defer cancel()

	res, err := p.api.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err == nil {
		var captures []paypal.CaptureAmount
		for _, unit := range res.PurchaseUnits {
			if unit.Payments != nil {
				captures = append(captures, unit.Payments.Captures...)
			}
		}
		return captureOutcome(res.Status, captures), nil
	}

	order, getErr := p.api.GetOrder(ctx, orderID)
	if getErr != nil || order.Status != paypalCompleted {
		return Outcome{}, fmt.Errorf("capture paypal order %s: %w", orderID, err)
	}
	var captures []paypal.CaptureAmount
	for _, unit := range order.PurchaseUnits {
		if unit.Payments != nil {
			captures = append(captures, unit.Payments.Captures...)
		}
	}
	if len(captures) == 0 {
		return Outcome{}, fmt.Errorf("capture paypal order %s: %w", orderID, err)
	}
	out := captureOutcome(order.Status, captures)
	out.Metadata["paypalRecovered"] = "true"
	return out, nil
}

func captureOutcome(status string, captures []paypal.CaptureAmount) Outcome {
	out := Outcome{
		Succeeded: status == paypalCompleted,
		Metadata:  map[string]string{"paypalStatus": status},
	}
	for _, c := range captures {
		out.Receipt = c.ID
		if c.Amount != nil {
			if d, err := decimal.NewFromString(c.Amount.Value); err == nil {
				out.Amount = decimal.NewNullDecimal(d)
			}
			out.Currency = c.Amount.Currency
		}
		if c.Status != paypalCompleted {
			out.Succeeded = false
		}
	}
	if !out.Succeeded {
		out.FailureReason = "paypal_" + strings.ToLower(status)
	}
	return out
}

func approvalLink(links []paypal.Link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}
