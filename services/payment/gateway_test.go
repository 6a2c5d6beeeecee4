package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guidebook/models"
	"guidebook/services/booking"
	"guidebook/utils"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

func signStripePayload(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	h := http.Header{}
	h.Set(stripeSignature, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func TestStripeInitiateBuildsIntent(t *testing.T) {
	s := NewStripe("whsec_test", time.Second)
	var got *stripe.PaymentIntentParams
	s.newIntent = func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		got = p
		return &stripe.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: stripe.PaymentIntentStatusRequiresPaymentMethod}, nil
	}

	res, err := s.Initiate(context.Background(), InitiateRequest{
		PaymentID: "p1", BookingID: "b1", Amount: decimal.RequireFromString("110.00"), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.ExternalRef != "pi_1" || res.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected result %+v", res)
	}
	if *got.Amount != 11000 || *got.Currency != "usd" {
		t.Fatalf("amount %d %s, want 11000 usd", *got.Amount, *got.Currency)
	}
	if *got.IdempotencyKey != "p1" || got.Metadata["bookingId"] != "b1" || got.Metadata["paymentId"] != "p1" {
		t.Fatalf("missing idempotency key or metadata: %+v", got.Params)
	}
	if got.Context == nil {
		t.Fatalf("request context not set")
	}
}

func TestStripeInitiateZeroDecimalCurrency(t *testing.T) {
	s := NewStripe("whsec_test", time.Second)
	var amount int64
	s.newIntent = func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		amount = *p.Amount
		return &stripe.PaymentIntent{ID: "pi_2"}, nil
	}
	if _, err := s.Initiate(context.Background(), InitiateRequest{PaymentID: "p2", Amount: decimal.RequireFromString("1101"), Currency: "JPY"}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if amount != 1101 {
		t.Fatalf("JPY amount = %d, want 1101", amount)
	}
}

func TestStripeParseWebhook(t *testing.T) {
	const secret = "whsec_test"
	s := NewStripe(secret, time.Second)

	succeeded := []byte(`{"id":"evt_1","object":"event","api_version":"2023-10-16","type":"payment_intent.succeeded",` +
		`"data":{"object":{"id":"pi_1","object":"payment_intent","amount":11000,"amount_received":11000,"currency":"usd","status":"succeeded"}}}`)
	n, err := s.ParseWebhook(succeeded, signStripePayload(t, secret, succeeded))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n.Ref != "pi_1" || !n.Outcome.Succeeded || n.Outcome.Currency != "USD" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.Outcome.Amount.Valid || !n.Outcome.Amount.Decimal.Equal(decimal.RequireFromString("110")) {
		t.Fatalf("amount = %v, want 110", n.Outcome.Amount)
	}

	failed := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed",` +
		`"data":{"object":{"id":"pi_2","object":"payment_intent","amount":500,"currency":"usd",` +
		`"last_payment_error":{"message":"Your card was declined."}}}}`)
	n, err = s.ParseWebhook(failed, signStripePayload(t, secret, failed))
	if err != nil {
		t.Fatalf("parse failed event: %v", err)
	}
	if n.Outcome.Succeeded || n.Outcome.FailureReason != "Your card was declined." {
		t.Fatalf("unexpected failure outcome %+v", n.Outcome)
	}

	other := []byte(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	n, err = s.ParseWebhook(other, signStripePayload(t, secret, other))
	if err != nil || n != nil {
		t.Fatalf("other event types should be ignored, got %+v %v", n, err)
	}

	_, err = s.ParseWebhook(succeeded, signStripePayload(t, "whsec_wrong", succeeded))
	if !utils.IsKind(err, utils.KindValidation) {
		t.Fatalf("expected validation error for bad signature, got %v", err)
	}
}

func TestMpesaAmountRoundsHalfUp(t *testing.T) {
	cases := map[string]int64{
		"110":    110,
		"110.49": 110,
		"110.50": 111,
		"110.51": 111,
		"0.50":   1,
	}
	for in, want := range cases {
		if got := MpesaAmount(decimal.RequireFromString(in)); got != want {
			t.Errorf("MpesaAmount(%s) = %d, want %d", in, got, want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"0712345678", "254712345678", true},
		{"+254 712 345 678", "254712345678", true},
		{"254712345678", "254712345678", true},
		{"712345678", "254712345678", true},
		{"0110123456", "254110123456", true},
		{"0612345678", "", false},
		{"07123", "", false},
		{"07123x5678", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizePhone(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && !utils.IsKind(err, utils.KindValidation) {
			t.Errorf("NormalizePhone(%q) should fail, got %q %v", tc.in, got, err)
		}
	}
}

func newDarajaServer(t *testing.T, tokenCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		*tokenCalls++
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body stkPushRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		wantPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "pass" + body.Timestamp))
		if body.PhoneNumber != "254712345678" || body.PartyA != body.PhoneNumber || body.Amount != 1500 ||
			body.Password != wantPassword || body.TransactionType != "CustomerPayBillOnline" ||
			!strings.HasPrefix(body.AccountReference, "BK") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorCode":"400.002.02","errorMessage":"Bad Request"}`))
			return
		}
		_, _ = w.Write([]byte(`{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0",` +
			`"ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Check your phone"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMpesaInitiateAndCallback(t *testing.T) {
	tokenCalls := 0
	srv := newDarajaServer(t, &tokenCalls)
	m := NewMpesa(srv.URL, "key", "secret", "174379", "pass", "https://example.test/api/webhooks/mpesa", time.Second)

	req := InitiateRequest{PaymentID: "p1", BookingID: "b1", Amount: decimal.RequireFromString("1499.60"), Currency: "KES", PhoneNumber: "0712 345 678"}
	res, err := m.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.ExternalRef != "ws_CO_1" || res.Message != "Check your phone" || res.Metadata[models.MetaPhone] != "254712345678" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := m.Initiate(context.Background(), req); err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if tokenCalls != 1 {
		t.Fatalf("token fetched %d times, want cached", tokenCalls)
	}

	callback := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,` +
		`"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[` +
		`{"Name":"Amount","Value":1500.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},` +
		`{"Name":"TransactionDate","Value":20261015102115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`)
	n, err := m.ParseWebhook(callback, nil)
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if n.Ref != "ws_CO_1" || !n.Outcome.Succeeded || n.Outcome.Receipt != "NLJ7RT61SV" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.Outcome.Amount.Decimal.Equal(decimal.NewFromInt(1500)) || n.Outcome.Metadata[models.MetaPhone] != "254712345678" {
		t.Fatalf("unexpected outcome %+v", n.Outcome)
	}

	cancelled := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
	n, err = m.ParseWebhook(cancelled, nil)
	if err != nil {
		t.Fatalf("parse cancelled: %v", err)
	}
	if n.Outcome.Succeeded || n.Outcome.FailureReason != "Request cancelled by user" {
		t.Fatalf("unexpected failure outcome %+v", n.Outcome)
	}

	if _, err := m.ParseWebhook([]byte(`{"Body":{}}`), nil); !utils.IsKind(err, utils.KindValidation) {
		t.Fatalf("expected validation error for empty callback, got %v", err)
	}
}

func TestMpesaWebhookSettlesPayment(t *testing.T) {
	tokenCalls := 0
	srv := newDarajaServer(t, &tokenCalls)
	f := newFixture(t)
	f.ledger.PutExperience(models.Experience{
		ID: "e-kes", GuideID: "g2", Title: "Nairobi food tour", PricePerPerson: decimal.RequireFromString("681.64"),
		Currency: "KES", MaxGroupSize: 4, DurationMinutes: 180, Status: models.ExperienceActive,
	})
	mpesa := NewMpesa(srv.URL, "key", "secret", "174379", "pass", "https://example.test/api/webhooks/mpesa", time.Second)
	f.svc = NewPaymentService(f.ledger, f.notifier, booking.DefaultPolicy(), zap.NewNop(), mpesa)
	f.svc.Now = func() time.Time { return baseNow }
	ctx := context.Background()

	created, err := f.bookings.CreateBooking(ctx, models.CreateBookingRequest{
		TouristID: "t1", ExperienceID: "e-kes", BookingDate: "2026-10-21", StartTime: "11:00",
		Guests: 2, PaymentMethod: models.MethodMobileMoney,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	// 681.64 * 2 * 1.10 = 1499.608 -> 1499.61, charged as 1500 shillings.
	if !created.Booking.TotalAmount.Equal(decimal.RequireFromString("1499.61")) {
		t.Fatalf("total = %s", created.Booking.TotalAmount)
	}

	started, err := f.svc.InitiatePayment(ctx, "t1", models.InitiatePaymentRequest{
		BookingID: created.Booking.ID, Method: models.MethodMobileMoney, PhoneNumber: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if started.Payment.ID != created.Payment.ID || started.Payment.ExternalRef != "ws_CO_1" {
		t.Fatalf("unexpected payment %+v", started.Payment)
	}

	callback := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"CallbackMetadata":{"Item":[` +
		`{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`)
	res, err := f.svc.HandleWebhook(ctx, models.GatewayMpesa, callback, http.Header{})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if res.Action != ReconcileApplied || !res.BookingConfirmed {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Payment.Metadata[models.MetaReceipt] != "NLJ7RT61SV" || res.Payment.Metadata[models.MetaAmountMismatch] != "" {
		t.Fatalf("unexpected metadata %v", res.Payment.Metadata)
	}

	res, err = f.svc.HandleWebhook(ctx, models.GatewayMpesa, callback, http.Header{})
	if err != nil || res.Action != ReconcileDiscarded {
		t.Fatalf("redelivery should be discarded, got %+v %v", res, err)
	}
}

// fakePaypal behaves like the orders API: an order captures once, later
// captures are rejected, and GetOrder reflects whatever was captured.
type fakePaypal struct {
	units      []paypal.PurchaseUnitRequest
	capture    *paypal.CaptureOrderResponse
	err        error
	captureErr error
	captured   bool
}

func (f *fakePaypal) CreateOrder(ctx context.Context, intent string, units []paypal.PurchaseUnitRequest, source *paypal.PaymentSource, appCtx *paypal.ApplicationContext) (*paypal.Order, error) {
	f.units = units
	if f.err != nil {
		return nil, f.err
	}
	return &paypal.Order{
		ID:     "ORDER-1",
		Status: "CREATED",
		Links: []paypal.Link{
			{Href: "https://api.sandbox.paypal.com/v2/checkout/orders/ORDER-1", Rel: "self"},
			{Href: "https://www.sandbox.paypal.com/checkoutnow?token=ORDER-1", Rel: "approve"},
		},
	}, nil
}

func (f *fakePaypal) CaptureOrder(ctx context.Context, orderID string, req paypal.CaptureOrderRequest) (*paypal.CaptureOrderResponse, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	if f.captured {
		return nil, errors.New("422 UNPROCESSABLE_ENTITY: ORDER_ALREADY_CAPTURED")
	}
	f.captured = true
	return f.capture, nil
}

func (f *fakePaypal) GetOrder(ctx context.Context, orderID string) (*paypal.Order, error) {
	if !f.captured || f.capture == nil {
		return &paypal.Order{ID: orderID, Status: "APPROVED"}, nil
	}
	order := &paypal.Order{ID: orderID, Status: f.capture.Status}
	for _, unit := range f.capture.PurchaseUnits {
		order.PurchaseUnits = append(order.PurchaseUnits, paypal.PurchaseUnit{ReferenceID: unit.ReferenceID, Payments: unit.Payments})
	}
	return order, nil
}

func completedCapture() *paypal.CaptureOrderResponse {
	return &paypal.CaptureOrderResponse{
		ID:     "ORDER-1",
		Status: "COMPLETED",
		PurchaseUnits: []paypal.CapturedPurchaseUnit{{
			Payments: &paypal.CapturedPayments{Captures: []paypal.CaptureAmount{{
				ID: "CAP-1", Status: "COMPLETED", Amount: &paypal.PurchaseUnitAmount{Currency: "USD", Value: "110.00"},
			}}},
		}},
	}
}

func TestPaypalInitiateAndCapture(t *testing.T) {
	api := &fakePaypal{capture: completedCapture()}
	pp := &PayPal{Timeout: time.Second, api: api}

	f := newFixture(t)
	f.svc = NewPaymentService(f.ledger, f.notifier, booking.DefaultPolicy(), zap.NewNop(), pp)
	f.svc.Now = func() time.Time { return baseNow }
	ctx := context.Background()
	created := f.book(t)

	started, err := f.svc.InitiatePayment(ctx, "t1", models.InitiatePaymentRequest{BookingID: created.Booking.ID, Method: models.MethodWallet})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if started.ApprovalURL != "https://www.sandbox.paypal.com/checkoutnow?token=ORDER-1" || started.Payment.ExternalRef != "ORDER-1" {
		t.Fatalf("unexpected initiation %+v", started)
	}
	if api.units[0].Amount.Value != "110.00" || api.units[0].ReferenceID != started.Payment.ID {
		t.Fatalf("unexpected purchase unit %+v", api.units[0])
	}

	if _, err := f.svc.CapturePaypal(ctx, "t2", "ORDER-1"); !utils.IsKind(err, utils.KindForbidden) {
		t.Fatalf("expected forbidden for another tourist, got %v", err)
	}
	view, err := f.svc.CapturePaypal(ctx, "t1", "ORDER-1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if view.Status != models.PaymentCompleted || view.BookingStatus != models.BookingConfirmed {
		t.Fatalf("unexpected view %+v", view)
	}

	// Capturing again reports the settled payment without calling PayPal.
	api.captureErr = errors.New("unexpected capture")
	if _, err := f.svc.CapturePaypal(ctx, "t1", "ORDER-1"); err != nil {
		t.Fatalf("second capture: %v", err)
	}
}

func TestPaypalCaptureFailureIsUpstream(t *testing.T) {
	api := &fakePaypal{}
	pp := &PayPal{Timeout: time.Second, api: api}
	f := newFixture(t)
	f.svc = NewPaymentService(f.ledger, f.notifier, booking.DefaultPolicy(), zap.NewNop(), pp)
	f.svc.Now = func() time.Time { return baseNow }
	ctx := context.Background()
	created := f.book(t)
	if _, err := f.svc.InitiatePayment(ctx, "t1", models.InitiatePaymentRequest{BookingID: created.Booking.ID, Method: models.MethodWallet}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	api.captureErr = errors.New("timeout")
	if _, err := f.svc.CapturePaypal(ctx, "t1", "ORDER-1"); !utils.IsKind(err, utils.KindUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	p, _ := f.ledger.GetLivePayment(ctx, created.Booking.ID)
	if p.Status != models.PaymentPending {
		t.Fatalf("failed capture must leave the payment pending, got %s", p.Status)
	}
}

func TestPaypalCaptureRetryAfterStoreFailure(t *testing.T) {
	api := &fakePaypal{capture: completedCapture()}
	pp := &PayPal{Timeout: time.Second, api: api}
	f := newFixture(t)
	flaky := &flakyLedger{Ledger: f.ledger}
	f.svc = NewPaymentService(flaky, f.notifier, booking.DefaultPolicy(), zap.NewNop(), pp)
	f.svc.Now = func() time.Time { return baseNow }
	ctx := context.Background()
	created := f.book(t)
	if _, err := f.svc.InitiatePayment(ctx, "t1", models.InitiatePaymentRequest{BookingID: created.Booking.ID, Method: models.MethodWallet}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// PayPal takes the money but the settlement write fails.
	flaky.settleFailures = 1
	if _, err := f.svc.CapturePaypal(ctx, "t1", "ORDER-1"); !utils.IsKind(err, utils.KindUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if !api.captured {
		t.Fatalf("order should be captured at PayPal")
	}
	p, _ := f.ledger.GetLivePayment(ctx, created.Booking.ID)
	if p.Status != models.PaymentPending {
		t.Fatalf("payment should still be pending, got %s", p.Status)
	}

	// The retry is rejected by PayPal as already captured and recovers from the order.
	view, err := f.svc.CapturePaypal(ctx, "t1", "ORDER-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if view.Status != models.PaymentCompleted || view.BookingStatus != models.BookingConfirmed {
		t.Fatalf("unexpected view %+v", view)
	}
	settled, _ := f.ledger.GetPayment(ctx, p.ID)
	if settled.Metadata[models.MetaReceipt] != "CAP-1" || settled.Metadata[models.MetaAmountMismatch] != "" {
		t.Fatalf("unexpected metadata %v", settled.Metadata)
	}
}

func TestPaypalCaptureReadsBackCapturedOrder(t *testing.T) {
	api := &fakePaypal{capture: completedCapture(), captured: true}
	pp := &PayPal{Timeout: time.Second, api: api}

	out, err := pp.Capture(context.Background(), "ORDER-1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !out.Succeeded || out.Receipt != "CAP-1" || !out.Amount.Decimal.Equal(decimal.RequireFromString("110")) {
		t.Fatalf("unexpected outcome %+v", out)
	}

	api.captured = false
	api.captureErr = errors.New("timeout")
	if _, err := pp.Capture(context.Background(), "ORDER-1"); err == nil {
		t.Fatalf("an uncaptured order must surface the capture error")
	}
}
