// internal/handlers/wallet/wallet_handler.go
package wallet

import (
	"net/http"
	"strconv"

	domain "talktime-service/internal/domain/wallet"
	"talktime-service/internal/middleware"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/response"
	service "talktime-service/internal/service/wallet"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	walletService *service.Service
}

func NewWalletHandler(walletService *service.Service) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

// ========== User Endpoints ==========

// GetStatement retrieves the caller's wallet balance and ledger entries
func (h *WalletHandler) GetStatement(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	kind := domain.KindUser
	if c.Query("kind") == string(domain.KindEarning) {
		kind = domain.KindEarning
	}

	statement, err := h.walletService.Statement(c.Request.Context(), userID, kind)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to load statement", err)
		return
	}

	response.Success(c, http.StatusOK, "statement retrieved", statement)
}

// RequestWithdrawal opens a withdrawal request against the earning wallet
func (h *WalletHandler) RequestWithdrawal(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req domain.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	withdrawal, err := h.walletService.RequestWithdrawal(c.Request.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case xerrors.Is(err, xerrors.ErrInsufficientBalance):
			response.Error(c, http.StatusUnprocessableEntity, "insufficient balance", err)
		case xerrors.Is(err, xerrors.ErrPendingWithdrawal):
			response.Error(c, http.StatusConflict, "a withdrawal is already pending", err)
		default:
			var capErr *xerrors.DailyCapError
			if xerrors.As(err, &capErr) {
				response.Error(c, http.StatusUnprocessableEntity, "daily withdrawal cap exceeded", err, gin.H{
					"remaining": capErr.Remaining,
				})
				return
			}
			response.Error(c, http.StatusInternalServerError, "failed to request withdrawal", err)
		}
		return
	}

	response.Success(c, http.StatusCreated, "withdrawal requested", withdrawal)
}

// ListWithdrawals retrieves the caller's withdrawal history
func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	result, err := h.walletService.ListWithdrawals(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list withdrawals", err)
		return
	}

	response.Success(c, http.StatusOK, "withdrawals retrieved", result)
}

// ========== Admin Endpoints ==========

// ApproveWithdrawal approves a pending withdrawal and debits the earning
// wallet in the same transaction
func (h *WalletHandler) ApproveWithdrawal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid withdrawal ID", err)
		return
	}

	if err := h.walletService.ApproveWithdrawal(c.Request.Context(), id); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "pending withdrawal not found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to approve withdrawal", err)
		return
	}

	response.Success(c, http.StatusOK, "withdrawal approved", nil)
}

// RejectWithdrawal rejects a pending withdrawal
func (h *WalletHandler) RejectWithdrawal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid withdrawal ID", err)
		return
	}

	var req domain.RejectWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.walletService.RejectWithdrawal(c.Request.Context(), id, req.Reason); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "pending withdrawal not found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to reject withdrawal", err)
		return
	}

	response.Success(c, http.StatusOK, "withdrawal rejected", nil)
}
