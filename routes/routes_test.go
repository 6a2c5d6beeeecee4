package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guidebook/config"
	ledgerRepo "guidebook/database/repository/ledger"
	"guidebook/handlers"
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

// cardGateway hands out sequential references and accepts unsigned JSON
// callbacks of the form {"ref": "...", "ok": true}.
type cardGateway struct{ n int }

func (g *cardGateway) Name() models.Gateway         { return models.GatewayStripe }
func (g *cardGateway) Method() models.PaymentMethod { return models.MethodCard }

func (g *cardGateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	g.n++
	return &payment.InitiateResult{ExternalRef: "pi_" + string(rune('0'+g.n)), ClientSecret: "cs"}, nil
}

func (g *cardGateway) ParseWebhook(payload []byte, header http.Header) (*payment.Notification, error) {
	var in struct {
		Ref string `json:"ref"`
		OK  bool   `json:"ok"`
	}
	if err := json.Unmarshal(payload, &in); err != nil || in.Ref == "" {
		return nil, utils.Validation("bad payload")
	}
	return &payment.Notification{Ref: in.Ref, Outcome: payment.Outcome{Succeeded: in.OK}}, nil
}

type testServer struct {
	router   *gin.Engine
	ledger   *ledgerRepo.MemoryLedger
	notifier *notification.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config.AppConfig.JWTSecret = "test-secret"
	config.AppConfig.AdminToken = "ops-token"

	ledger := ledgerRepo.NewMemoryLedger()
	ledger.PutExperience(models.Experience{
		ID: "e1", GuideID: "g1", Title: "Old town walk", PricePerPerson: decimal.RequireFromString("50.00"),
		Currency: "USD", MaxGroupSize: 6, DurationMinutes: 120, Status: models.ExperienceActive,
	})
	notifier := &notification.Recorder{}
	logger := zap.NewNop()
	clock := func() time.Time { return baseNow }

	bookingSvc := booking.NewBookingService(ledger, notifier, booking.DefaultPolicy(), logger)
	bookingSvc.Now = clock
	paymentSvc := payment.NewPaymentService(ledger, notifier, booking.DefaultPolicy(), logger, &cardGateway{})
	paymentSvc.Now = clock

	hb := handlers.NewHandlerBundle(
		handlers.NewBookingHandler(bookingSvc, logger),
		handlers.NewPaymentHandler(paymentSvc, logger),
		handlers.NewWebhookHandler(paymentSvc),
		nil,
	)
	r := gin.New()
	r.Use(utils.ErrorHandler())
	RegisterRoutes(r, hb)
	utils.CheckHealth(context.Background(), ledger, nil)
	return &testServer{router: r, ledger: ledger, notifier: notifier}
}

func token(t *testing.T, p utils.Principal) string {
	t.Helper()
	tok, err := utils.GenerateToken(p, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w.Code, out
}

func TestBookingAndPaymentFlow(t *testing.T) {
	s := newTestServer(t)
	tourist := token(t, utils.Principal{UserID: "t1", Role: utils.RoleTourist})
	stranger := token(t, utils.Principal{UserID: "t2", Role: utils.RoleTourist})
	guide := token(t, utils.Principal{UserID: "u-g1", Role: utils.RoleGuide, GuideID: "g1"})

	code, body := s.do(t, http.MethodPost, "/api/bookings", tourist, map[string]any{
		"experienceId": "e1", "bookingDate": "2026-10-20", "startTime": "09:00", "guests": 2, "paymentMethod": "card",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, body)
	}
	bookingID := body["booking"].(map[string]any)["id"].(string)
	if total := body["booking"].(map[string]any)["totalAmount"]; total != "110" {
		t.Fatalf("totalAmount = %v", total)
	}

	code, body = s.do(t, http.MethodGet, "/api/bookings/"+bookingID, stranger, nil)
	if code != http.StatusForbidden || body["error"] != "forbidden" {
		t.Fatalf("stranger read: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodPost, "/api/bookings", tourist, map[string]any{
		"experienceId": "e1", "bookingDate": "2026-10-20", "startTime": "15:00", "guests": 1, "paymentMethod": "card",
	})
	if code != http.StatusConflict || body["error"] != "conflict" {
		t.Fatalf("same-day booking: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodPost, "/api/payments/initiate", tourist, map[string]any{
		"bookingId": bookingID, "paymentMethod": "card",
	})
	if code != http.StatusOK {
		t.Fatalf("initiate: %d %v", code, body)
	}
	pay := body["payment"].(map[string]any)
	paymentID, ref := pay["id"].(string), pay["externalRef"].(string)

	code, body = s.do(t, http.MethodPost, "/api/webhooks/stripe", "", map[string]any{"ref": "pi_unknown", "ok": true})
	if code != http.StatusOK || body["action"] != "unknown" {
		t.Fatalf("unknown ref should be acknowledged: %d %v", code, body)
	}
	code, body = s.do(t, http.MethodPost, "/api/webhooks/stripe", "", map[string]any{"ref": ref, "ok": true})
	if code != http.StatusOK || body["action"] != "applied" {
		t.Fatalf("webhook: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodGet, "/api/payments/"+paymentID, tourist, nil)
	if code != http.StatusOK || body["status"] != "completed" || body["bookingStatus"] != "confirmed" {
		t.Fatalf("payment status: %d %v", code, body)
	}

	code, body = s.do(t, http.MethodGet, "/api/guide/bookings", guide, nil)
	if code != http.StatusOK || len(body["bookings"].([]any)) != 1 {
		t.Fatalf("guide list: %d %v", code, body)
	}
	code, body = s.do(t, http.MethodPost, "/api/guide/bookings/"+bookingID+"/reject", guide, nil)
	if code != http.StatusUnprocessableEntity || body["error"] != "invalid_state" {
		t.Fatalf("rejecting a confirmed booking: %d %v", code, body)
	}
}

func TestRouteGuards(t *testing.T) {
	s := newTestServer(t)
	tourist := token(t, utils.Principal{UserID: "t1", Role: utils.RoleTourist})

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		body   any
		want   int
	}{
		{"no token", http.MethodGet, "/api/bookings", "", nil, http.StatusUnauthorized},
		{"tourist on guide route", http.MethodGet, "/api/guide/bookings", tourist, nil, http.StatusForbidden},
		{"admin route without operator token", http.MethodPost, "/api/admin/bookings/b1/complete", tourist, nil, http.StatusUnauthorized},
		{"admin complete unknown booking", http.MethodPost, "/api/admin/bookings/missing/complete", "ops-token", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/bookings", tourist, "not an object", http.StatusBadRequest},
		{"invalid booking", http.MethodPost, "/api/bookings", tourist, map[string]any{"experienceId": "e1", "guests": 0}, http.StatusBadRequest},
		{"bad webhook", http.MethodPost, "/api/webhooks/stripe", "", map[string]any{"nope": 1}, http.StatusBadRequest},
		{"devices without redis", http.MethodPost, "/api/devices/presence", tourist, nil, http.StatusServiceUnavailable},
		{"quote", http.MethodGet, "/api/experiences/e1/quote?guests=3", "", nil, http.StatusOK},
		{"availability", http.MethodGet, "/api/guides/g1/availability?date=2026-10-20&startTime=09:00", "", nil, http.StatusOK},
		{"health", http.MethodGet, "/health", "", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := s.do(t, tc.method, tc.path, tc.bearer, tc.body)
			if code != tc.want {
				t.Fatalf("status = %d, want %d (%v)", code, tc.want, body)
			}
		})
	}
}
