package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func TestMoneyRounding(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		rounded  string
		minor    int64
		format   string
	}{
		{"110.005", "usd", "110.01", 11001, "110.01"},
		{"1499.6", "KES", "1499.6", 149960, "1499.60"},
		{"1234.5", "JPY", "1235", 1235, "1235"},
		{"-2.345", "USD", "-2.35", -235, "-2.35"},
		{"1.0005", "KWD", "1.001", 1001, "1.001"},
	}
	for _, tc := range tests {
		t.Run(tc.currency+" "+tc.amount, func(t *testing.T) {
			d := decimal.RequireFromString(tc.amount)
			if got := RoundMoney(d, tc.currency); !got.Equal(decimal.RequireFromString(tc.rounded)) {
				t.Fatalf("RoundMoney = %s, want %s", got, tc.rounded)
			}
			if got := ToMinorUnits(d, tc.currency); got != tc.minor {
				t.Fatalf("ToMinorUnits = %d, want %d", got, tc.minor)
			}
			if got := FromMinorUnits(tc.minor, tc.currency); !got.Equal(RoundMoney(d, tc.currency)) {
				t.Fatalf("FromMinorUnits = %s", got)
			}
			if got := FormatMoney(RoundMoney(d, tc.currency), tc.currency); got != tc.format {
				t.Fatalf("FormatMoney = %q, want %q", got, tc.format)
			}
		})
	}
}

func TestRespondErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err     error
		status  int
		kind    string
		message string
	}{
		{NotFound("booking %s not found", "b1"), http.StatusNotFound, "not_found", "booking b1 not found"},
		{fmt.Errorf("load: %w", Forbidden("not yours")), http.StatusForbidden, "forbidden", "not yours"},
		{Conflict("taken"), http.StatusConflict, "conflict", "taken"},
		{InvalidState("already cancelled"), http.StatusUnprocessableEntity, "invalid_state", "already cancelled"},
		{Validation("guests must be positive"), http.StatusBadRequest, "validation_error", "guests must be positive"},
		{AsUpstream(errors.New("socket closed"), "settle payment"), http.StatusBadGateway, "upstream_failure", "settle payment"},
		{errors.New("boom"), http.StatusInternalServerError, "internal", "Internal Server Error"},
	}
	for _, tc := range tests {
		t.Run(tc.kind, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			RespondError(c, tc.err)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var body ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tc.kind || body.Message != tc.message {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestAsUpstreamKeepsKinds(t *testing.T) {
	if err := AsUpstream(nil, "x"); err != nil {
		t.Fatalf("nil should stay nil")
	}
	if !IsKind(AsUpstream(NotFound("gone"), "x"), KindNotFound) {
		t.Fatalf("existing kind should be preserved")
	}
	wrapped := AsUpstream(errors.New("dial tcp"), "ping")
	if !IsKind(wrapped, KindUpstreamFailure) {
		t.Fatalf("plain error should become upstream failure: %v", wrapped)
	}
}
