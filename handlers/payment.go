package handlers

import (
	"net/http"

	"guidebook/models"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	Service payment.PaymentService
	Logger  *zap.Logger
}

func NewPaymentHandler(service payment.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{Service: service, Logger: logger}
}

func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, utils.Validation("invalid request body: %v", err))
		return
	}
	res, err := h.Service.InitiatePayment(c.Request.Context(), p.UserID, req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	view, err := h.Service.GetPaymentStatus(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CapturePaypal is called by the client after the payer approved the order.
func (h *PaymentHandler) CapturePaypal(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var in struct {
		OrderID string `json:"orderId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.RespondError(c, utils.Validation("orderId is required"))
		return
	}
	view, err := h.Service.CapturePaypal(c.Request.Context(), p.UserID, in.OrderID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
