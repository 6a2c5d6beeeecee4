package handlers

import (
	"net/http"
	"strconv"

	"guidebook/middleware"
	"guidebook/models"
	"guidebook/services/booking"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type BookingHandler struct {
	Service booking.BookingService
	Logger  *zap.Logger
}

func NewBookingHandler(service booking.BookingService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Service: service, Logger: logger}
}

type reasonInput struct {
	Reason string `json:"reason"`
}

// bindOptionalReason reads {"reason": "..."} when a body is present.
func bindOptionalReason(c *gin.Context) (string, bool) {
	if c.Request.ContentLength == 0 {
		return "", true
	}
	var in reasonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.RespondError(c, utils.Validation("invalid request body: %v", err))
		return "", false
	}
	return in.Reason, true
}

func principalOrAbort(c *gin.Context) (utils.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "User ID not found in context"})
	}
	return p, ok
}

func (h *BookingHandler) CreateBooking(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.Validation("invalid request body: %v", err))
		return
	}
	req.TouristID = p.UserID

	res, err := h.Service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *BookingHandler) ListMyBookings(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	list, err := h.Service.ListForTourist(c.Request.Context(), p.UserID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h *BookingHandler) GetBooking(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	b, err := h.Service.GetBooking(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) CancelBooking(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	reason, ok := bindOptionalReason(c)
	if !ok {
		return
	}
	b, err := h.Service.CancelBooking(c.Request.Context(), c.Param("id"), p.UserID, reason)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) ListGuideBookings(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	list, err := h.Service.ListForGuide(c.Request.Context(), p.GuideID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": list})
}

func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	b, err := h.Service.ConfirmByGuide(c.Request.Context(), c.Param("id"), p.GuideID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

func (h *BookingHandler) RejectBooking(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	reason, ok := bindOptionalReason(c)
	if !ok {
		return
	}
	b, err := h.Service.RejectByGuide(c.Request.Context(), c.Param("id"), p.GuideID, reason)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// CompleteBooking is the operator route for marking a finished tour completed.
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	b, err := h.Service.MarkCompleted(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	h.Logger.Info("booking completed by operator", zap.String("bookingId", b.ID))
	c.JSON(http.StatusOK, gin.H{"booking": b})
}

// QuoteExperience prices a prospective booking: GET /experiences/:id/quote?guests=2&currency=USD.
func (h *BookingHandler) QuoteExperience(c *gin.Context) {
	guests, err := strconv.Atoi(c.DefaultQuery("guests", "1"))
	if err != nil {
		utils.RespondError(c, utils.Validation("guests must be a number"))
		return
	}
	q, err := h.Service.CalculatePrice(c.Request.Context(), c.Param("id"), guests, c.Query("currency"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

// GuideAvailability answers GET /guides/:id/availability?date=2026-10-20&startTime=09:00&duration=120.
func (h *BookingHandler) GuideAvailability(c *gin.Context) {
	duration, err := strconv.Atoi(c.DefaultQuery("duration", "60"))
	if err != nil {
		utils.RespondError(c, utils.Validation("duration must be a number of minutes"))
		return
	}
	date := c.Query("date")
	available, err := h.Service.IsAvailable(c.Request.Context(), c.Param("id"), date, c.Query("startTime"), duration)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guideId": c.Param("id"), "date": date, "available": available})
}
