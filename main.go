// File: guidebook/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guidebook/bootstrap"
	"guidebook/config"
	"guidebook/cron"
	"guidebook/handlers"
	"guidebook/middleware"
	"guidebook/routes"
	"guidebook/services/booking"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
)

func main() {
	config.LoadConfig()
	utils.InitializeLogger()
	logger := utils.GetLogger()
	defer func() { _ = logger.Sync() }()

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	ledger, closeLedger, err := bootstrap.OpenLedger(rootCtx, logger)
	if err != nil {
		logger.Sugar().Fatalf("main: failed to open ledger: %v", err)
	}
	defer closeLedger()

	notifications := bootstrap.NewNotifications(logger)
	defer notifications.Close()

	var worker *cron.NotificationWorker
	if notifications.Queued() {
		worker = cron.NewNotificationWorker(utils.QueueRedisOpt(), notifications.Fanout, logger)
		worker.Start()
	}

	policy, err := booking.PolicyFromConfig()
	if err != nil {
		logger.Sugar().Fatalf("main: invalid booking policy: %v", err)
	}

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware(logger))
	stripe.Key = config.AppConfig.StripeKey

	// services.
	bookingService := booking.NewBookingService(ledger, notifications.Dispatcher, policy, logger)
	paymentService := payment.NewPaymentService(ledger, notifications.Dispatcher, policy, logger, bootstrap.Gateways(logger)...)

	var deviceHandler *handlers.DeviceHandler
	if notifications.Realtime != nil {
		deviceHandler = handlers.NewDeviceHandler(notifications.Realtime, notifications.Push)
	}

	// Assemble the handler bundle.
	handlerBundle := handlers.NewHandlerBundle(
		handlers.NewBookingHandler(bookingService, logger),
		handlers.NewPaymentHandler(paymentService, logger),
		handlers.NewWebhookHandler(paymentService),
		deviceHandler,
	)

	// Register routes with the assembled handler bundle.
	routes.RegisterRoutes(router, handlerBundle)

	utils.StartHealthMonitor(rootCtx, ledger, notifications.Redis)

	// Start the HTTP server.
	port := config.AppConfig.AppPort
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Sugar().Infof("Starting server on %s...", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server failed to start: %v", err)
		}
	}()

	// Wait for an OS signal to gracefully shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar().Info("main: server is shutting down...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("main: server forced to shutdown: %v", err)
	}
	if worker != nil {
		worker.Shutdown()
	}

	logger.Sugar().Info("main: server stopped gracefully")
}
