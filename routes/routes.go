package routes

import (
	"time"

	"guidebook/handlers"
	"guidebook/middleware"
	"guidebook/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RegisterBookingRoutes registers tourist booking endpoints and the public
// pricing and availability lookups.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api")
	{
		api.GET("/experiences/:id/quote", hb.QuoteExperience)
		api.GET("/guides/:id/availability", hb.GuideAvailability)
	}

	bookings := r.Group("/api/bookings")
	{
		bookings.Use(middleware.JWTAuthMiddleware())
		bookings.POST("", middleware.RequireRole(utils.RoleTourist), hb.CreateBooking)
		bookings.GET("", middleware.RequireRole(utils.RoleTourist), hb.ListMyBookings)
		bookings.GET("/:id", hb.GetBooking)
		bookings.POST("/:id/cancel", middleware.RequireRole(utils.RoleTourist), hb.CancelBooking)
	}
}

// RegisterGuideRoutes registers the guide's side of the booking lifecycle.
func RegisterGuideRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	guide := r.Group("/api/guide")
	{
		guide.Use(middleware.JWTAuthMiddleware(), middleware.RequireRole(utils.RoleGuide))
		guide.GET("/bookings", hb.ListGuideBookings)
		guide.POST("/bookings/:id/confirm", hb.ConfirmBooking)
		guide.POST("/bookings/:id/reject", hb.RejectBooking)
	}
}

// RegisterPaymentRoutes registers payment endpoints.
func RegisterPaymentRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	payments := r.Group("/api/payments")
	{
		payments.Use(middleware.JWTAuthMiddleware())
		payments.POST("/initiate", middleware.RequireRole(utils.RoleTourist), hb.InitiatePayment)
		payments.POST("/paypal/capture", middleware.RequireRole(utils.RoleTourist), hb.CapturePaypal)
		payments.GET("/:id", hb.GetPaymentStatus)
	}
}

// RegisterWebhookRoutes registers gateway callbacks. They carry no JWT; each
// gateway's signature or payload shape is checked by the payment service.
func RegisterWebhookRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	hooks := r.Group("/api/webhooks")
	{
		hooks.POST("/stripe", hb.StripeWebhook)
		hooks.POST("/mpesa", hb.MpesaWebhook)
	}
}

// RegisterDeviceRoutes registers push token and presence endpoints.
func RegisterDeviceRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	devices := r.Group("/api/devices")
	{
		devices.Use(middleware.JWTAuthMiddleware())
		devices.PUT("/fcm-token", hb.UpdateFCMTokenHandler)
		devices.POST("/presence", hb.Heartbeat)
		devices.DELETE("/presence", hb.GoOffline)
	}
}

// RegisterAdminRoutes sets up endpoints for operator actions.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.AdminTokenMiddleware())
		adminGroup.POST("/bookings/:id/complete", hb.CompleteBooking)
	}
}

// RegisterHealthRoute registers a health-check endpoint.
func RegisterHealthRoute(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.GET("/api/health", hb.Health)
	r.GET("/health", hb.Health)
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterBookingRoutes(r, hb)
	RegisterGuideRoutes(r, hb)
	RegisterPaymentRoutes(r, hb)
	RegisterWebhookRoutes(r, hb)
	RegisterDeviceRoutes(r, hb)
	RegisterAdminRoutes(r, hb)
	RegisterHealthRoute(r, hb)
}
