// internal/handlers/admin/admin_handler.go
package admin

import (
	"net/http"
	"strconv"

	domainwallet "talktime-service/internal/domain/wallet"
	"talktime-service/internal/pkg/response"
	"talktime-service/internal/service/subscription"
	"talktime-service/internal/service/sweeper"
	walletsvc "talktime-service/internal/service/wallet"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	sweeperService      *sweeper.Service
	subscriptionService *subscription.Service
	walletService       *walletsvc.Service
}

func NewAdminHandler(
	sweeperService *sweeper.Service,
	subscriptionService *subscription.Service,
	walletService *walletsvc.Service,
) *AdminHandler {
	return &AdminHandler{
		sweeperService:      sweeperService,
		subscriptionService: subscriptionService,
		walletService:       walletService,
	}
}

// RunSweep triggers an immediate period-transition sweep
func (h *AdminHandler) RunSweep(c *gin.Context) {
	result, err := h.sweeperService.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "sweep failed", err)
		return
	}

	response.Success(c, http.StatusOK, "sweep completed", result)
}

// GetUserLedger assembles a user's full account view: period history plus
// both wallet statements
func (h *AdminHandler) GetUserLedger(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user ID", err)
		return
	}

	periods, err := h.subscriptionService.LedgerForUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load period history", err)
		return
	}

	userWallet, err := h.walletService.Statement(c.Request.Context(), userID, domainwallet.KindUser)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load user wallet", err)
		return
	}

	earningWallet, err := h.walletService.Statement(c.Request.Context(), userID, domainwallet.KindEarning)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load earning wallet", err)
		return
	}

	response.Success(c, http.StatusOK, "user ledger retrieved", gin.H{
		"periods":        periods,
		"user_wallet":    userWallet,
		"earning_wallet": earningWallet,
	})
}
