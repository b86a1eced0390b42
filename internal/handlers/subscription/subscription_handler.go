// internal/handlers/subscription/subscription_handler.go
package subscription

import (
	"net/http"
	"strconv"

	"talktime-service/internal/domain/period"
	"talktime-service/internal/middleware"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/response"
	service "talktime-service/internal/service/subscription"

	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	subscriptionService *service.Service
}

func NewSubscriptionHandler(subscriptionService *service.Service) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptionService: subscriptionService}
}

// ListPlans retrieves the purchasable plan catalog
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	plans, err := h.subscriptionService.ListPlans(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list plans", err)
		return
	}

	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

// GetPlan retrieves a plan by ID
func (h *SubscriptionHandler) GetPlan(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid plan ID", err)
		return
	}

	plan, err := h.subscriptionService.GetPlan(c.Request.Context(), id)
	if err != nil {
		response.Error(c, http.StatusNotFound, "plan not found", err)
		return
	}

	response.Success(c, http.StatusOK, "plan retrieved", plan)
}

// GetActivePeriod retrieves the caller's currently covering period
func (h *SubscriptionHandler) GetActivePeriod(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	result, err := h.subscriptionService.ActivePeriod(c.Request.Context(), userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "no active subscription found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to load subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "active subscription retrieved", result)
}

// ListPeriods retrieves the caller's subscription history with filters
func (h *SubscriptionHandler) ListPeriods(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var filters period.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid filters", err)
		return
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	result, err := h.subscriptionService.ListPeriods(c.Request.Context(), userID, &filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "subscriptions retrieved", result)
}
