package handlers

import (
	"net/http"

	"guidebook/services/notification"
	"guidebook/utils"

	"github.com/gin-gonic/gin"
)

// DeviceHandler lets clients register push tokens and keep their realtime
// presence alive. Both need Redis; without it the routes answer 503.
type DeviceHandler struct {
	Realtime *notification.Realtime
	Push     *notification.Push
}

func NewDeviceHandler(realtime *notification.Realtime, push *notification.Push) *DeviceHandler {
	return &DeviceHandler{Realtime: realtime, Push: push}
}

func unavailable(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, utils.ErrorResponse{Error: "unavailable", Message: what + " is not configured"})
}

func (h *DeviceHandler) UpdateFCMTokenHandler(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if h.Push == nil {
		unavailable(c, "push")
		return
	}
	var in struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.RespondError(c, utils.Validation("token is required"))
		return
	}
	if err := h.Push.RegisterToken(c.Request.Context(), p.UserID, in.Token); err != nil {
		utils.RespondError(c, utils.Upstream(err, "could not store device token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device token updated"})
}

// Heartbeat marks the caller online for utils.PresenceTTL.
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if h.Realtime == nil {
		unavailable(c, "realtime")
		return
	}
	if err := h.Realtime.MarkOnline(c.Request.Context(), p.UserID); err != nil {
		utils.RespondError(c, utils.Upstream(err, "could not record presence"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": true, "ttlSeconds": int(utils.PresenceTTL.Seconds())})
}

func (h *DeviceHandler) GoOffline(c *gin.Context) {
	p, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if h.Realtime == nil {
		unavailable(c, "realtime")
		return
	}
	if err := h.Realtime.MarkOffline(c.Request.Context(), p.UserID); err != nil {
		utils.RespondError(c, utils.Upstream(err, "could not clear presence"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": false})
}
