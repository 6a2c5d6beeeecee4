package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/models"
	"guidebook/services/booking"
	"guidebook/services/notification"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var baseNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

// jsonCardGateway accepts unsigned callbacks of the form {"ref": "...", "ok": true}.
type jsonCardGateway struct{}

func (jsonCardGateway) Name() models.Gateway         { return models.GatewayStripe }
func (jsonCardGateway) Method() models.PaymentMethod { return models.MethodCard }

func (jsonCardGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	return &payment.InitiateResult{ExternalRef: "pi_" + req.PaymentID}, nil
}

func (jsonCardGateway) ParseWebhook(payload []byte, header http.Header) (*payment.Notification, error) {
	var in struct {
		Ref string `json:"ref"`
		OK  bool   `json:"ok"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.Ref == "" {
		return nil, utils.Validation("bad payload")
	}
	return &payment.Notification{Ref: in.Ref, Outcome: payment.Outcome{Succeeded: in.OK}}, nil
}

// flakyLedger fails the next settleFailures settlements.
type flakyLedger struct {
	ledgerRepo.Ledger

	mu             sync.Mutex
	settleFailures int
}

func (l *flakyLedger) SettlePayment(ctx context.Context, st ledgerRepo.Settlement) (ledgerRepo.SettlementResult, error) {
	l.mu.Lock()
	fail := l.settleFailures > 0
	if fail {
		l.settleFailures--
	}
	l.mu.Unlock()
	if fail {
		return ledgerRepo.SettlementResult{}, errors.New("server selection timeout")
	}
	return l.Ledger.SettlePayment(ctx, st)
}

func postWebhook(t *testing.T, router *gin.Engine, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return w.Code, out
}

func TestWebhookStoreFailureAnswers502AndRedeliveryApplies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	ledger := ledgerRepo.NewMemoryLedger()
	ledger.PutExperience(models.Experience{
		ID: "e1", GuideID: "g1", Title: "Old town walk", PricePerPerson: decimal.RequireFromString("50.00"),
		Currency: "USD", MaxGroupSize: 6, DurationMinutes: 120, Status: models.ExperienceActive,
	})
	notifier := &notification.Recorder{}
	clock := func() time.Time { return baseNow }

	bookings := booking.NewBookingService(ledger, notifier, booking.DefaultPolicy(), zap.NewNop())
	bookings.Now = clock
	created, err := bookings.CreateBooking(ctx, models.CreateBookingRequest{
		TouristID: "t1", ExperienceID: "e1", BookingDate: "2026-10-20", StartTime: "09:00",
		Guests: 2, PaymentMethod: models.MethodCard,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	flaky := &flakyLedger{Ledger: ledger}
	payments := payment.NewPaymentService(flaky, notifier, booking.DefaultPolicy(), zap.NewNop(), jsonCardGateway{})
	payments.Now = clock
	started, err := payments.InitiatePayment(ctx, "t1", models.InitiatePaymentRequest{BookingID: created.Booking.ID, Method: models.MethodCard})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	h := NewWebhookHandler(payments)
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("logger", zap.NewNop()) })
	router.POST("/webhooks/stripe", h.StripeWebhook)

	body := `{"ref":"` + started.Payment.ExternalRef + `","ok":true}`
	flaky.settleFailures = 1
	code, out := postWebhook(t, router, body)
	if code != http.StatusBadGateway || out["error"] != string(utils.KindUpstreamFailure) {
		t.Fatalf("expected 502 upstream_failure, got %d %v", code, out)
	}
	p, _ := ledger.GetPayment(ctx, started.Payment.ID)
	b, _ := ledger.GetBooking(ctx, created.Booking.ID)
	if p.Status != models.PaymentPending || b.Status != models.BookingPending {
		t.Fatalf("state changed on failed delivery: payment %s booking %s", p.Status, b.Status)
	}
	if notifier.Count(models.NotifyPaymentConfirmed) != 0 {
		t.Fatalf("confirmation sent before the write committed")
	}

	code, out = postWebhook(t, router, body)
	if code != http.StatusOK || out["action"] != string(payment.ReconcileApplied) {
		t.Fatalf("redelivery: %d %v", code, out)
	}
	b, _ = ledger.GetBooking(ctx, created.Booking.ID)
	if b.Status != models.BookingConfirmed {
		t.Fatalf("booking should be confirmed after redelivery, got %s", b.Status)
	}
}
