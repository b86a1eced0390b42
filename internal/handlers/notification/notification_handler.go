// internal/handlers/notification/notification_handler.go
package notification

import (
	"net/http"

	"talktime-service/internal/middleware"
	"talktime-service/internal/pkg/response"
	"talktime-service/internal/repository/postgres"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	tokens *postgres.DeviceTokenRepository
}

func NewNotificationHandler(tokens *postgres.DeviceTokenRepository) *NotificationHandler {
	return &NotificationHandler{tokens: tokens}
}

type registerDeviceRequest struct {
	Token string `json:"token" binding:"required"`
}

// RegisterDevice stores the caller's push token for payment and expiry
// notifications
func (h *NotificationHandler) RegisterDevice(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.tokens.Upsert(c.Request.Context(), userID, req.Token); err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to register device", err)
		return
	}

	response.Success(c, http.StatusOK, "device registered", nil)
}
