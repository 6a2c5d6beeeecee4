package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"guidebook/config"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"userId": p.UserID, "role": p.Role})
	})
	r.GET("/ping", handlers...)
	return r
}

func doRequest(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	tourist, err := utils.GenerateToken(utils.Principal{UserID: "t1", Role: utils.RoleTourist}, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	guide, _ := utils.GenerateToken(utils.Principal{UserID: "u9", Role: utils.RoleGuide, GuideID: "g1"}, time.Hour)

	r := newTestRouter(JWTAuthMiddleware(), RequireRole(utils.RoleGuide))
	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong role", tourist, http.StatusForbidden},
		{"guide", guide, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := doRequest(r, tc.token); w.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestAdminTokenMiddleware(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	config.AppConfig.AdminToken = "ops-token"
	admin, _ := utils.GenerateToken(utils.Principal{UserID: "a1", Role: utils.RoleAdmin}, time.Hour)
	tourist, _ := utils.GenerateToken(utils.Principal{UserID: "t1", Role: utils.RoleTourist}, time.Hour)

	r := newTestRouter(AdminTokenMiddleware())
	if w := doRequest(r, "ops-token"); w.Code != http.StatusOK {
		t.Fatalf("static token rejected: %d", w.Code)
	}
	if w := doRequest(r, admin); w.Code != http.StatusOK {
		t.Fatalf("admin jwt rejected: %d", w.Code)
	}
	if w := doRequest(r, tourist); w.Code != http.StatusUnauthorized {
		t.Fatalf("tourist jwt accepted: %d", w.Code)
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	store := newRateLimiterStore(2)
	a := store.getLimiter("10.0.0.1")
	if !a.Allow() || !a.Allow() {
		t.Fatalf("burst should allow two requests")
	}
	if a.Allow() {
		t.Fatalf("third request within the burst window should be limited")
	}
	if !store.getLimiter("10.0.0.2").Allow() {
		t.Fatalf("other IPs have their own budget")
	}
}

func TestClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.9:5000", "203.0.113.7"},
		{"forwarded garbage skipped", map[string]string{"X-Forwarded-For": "nonsense, 198.51.100.2"}, "10.0.0.9:5000", "198.51.100.2"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.3 "}, "10.0.0.9:5000", "198.51.100.3"},
		{"bad real ip falls back", map[string]string{"X-Real-IP": "x"}, "10.0.0.9:5000", "10.0.0.9"},
		{"remote without port", nil, "10.0.0.9", "10.0.0.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = req
			if got := clientIP(c); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
