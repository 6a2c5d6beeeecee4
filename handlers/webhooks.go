package handlers

import (
	"io"
	"net/http"

	"guidebook/models"
	"guidebook/services/payment"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// WebhookHandler receives gateway callbacks. Nothing is acknowledged until the
// outcome is committed; a store failure answers 5xx so the gateway redelivers.
type WebhookHandler struct {
	Service payment.PaymentService
}

func NewWebhookHandler(service payment.PaymentService) *WebhookHandler {
	return &WebhookHandler{Service: service}
}

func (h *WebhookHandler) handle(c *gin.Context, gateway models.Gateway) (*payment.ReconcileResult, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.RespondError(c, utils.Validation("unreadable webhook body: %v", err))
		return nil, false
	}
	res, err := h.Service.HandleWebhook(c.Request.Context(), gateway, body, c.Request.Header)
	if err != nil {
		getLogger(c).Warn("webhook rejected", zap.String("gateway", string(gateway)), zap.Error(err))
		utils.RespondError(c, err)
		return nil, false
	}
	getLogger(c).Info("webhook processed", zap.String("gateway", string(gateway)), zap.String("action", string(res.Action)))
	return res, true
}

func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	res, ok := h.handle(c, models.GatewayStripe)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "action": res.Action})
}

// MpesaWebhook answers in the shape Daraja expects.
func (h *WebhookHandler) MpesaWebhook(c *gin.Context) {
	if _, ok := h.handle(c, models.GatewayMpesa); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"ResultCode": 0, "ResultDesc": "Accepted"})
}
