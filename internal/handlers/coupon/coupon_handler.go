// internal/handlers/coupon/coupon_handler.go
package coupon

import (
	"net/http"
	"strconv"

	domain "talktime-service/internal/domain/coupon"
	"talktime-service/internal/middleware"
	xerrors "talktime-service/internal/pkg/errors"
	"talktime-service/internal/pkg/response"
	service "talktime-service/internal/service/coupon"

	"github.com/gin-gonic/gin"
)

type CouponHandler struct {
	couponService *service.Service
}

func NewCouponHandler(couponService *service.Service) *CouponHandler {
	return &CouponHandler{couponService: couponService}
}

// ========== User Endpoints ==========

// Preview dry-runs a coupon against a plan without spending it
func (h *CouponHandler) Preview(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req domain.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.couponService.Preview(c.Request.Context(), userID, middleware.IsStaff(c), &req)
	if err != nil {
		if rej, ok := xerrors.AsCouponRejection(err); ok {
			response.Error(c, http.StatusUnprocessableEntity, "coupon rejected", nil, gin.H{
				"code":   rej.Code,
				"reason": rej.Reason,
			})
			return
		}
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "plan not found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to preview coupon", err)
		return
	}

	response.Success(c, http.StatusOK, "coupon preview", result)
}

// ========== Admin Endpoints ==========

// CreateCoupon creates a new coupon
func (h *CouponHandler) CreateCoupon(c *gin.Context) {
	var req domain.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.couponService.CreateCoupon(c.Request.Context(), &req)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrConflict) {
			response.Error(c, http.StatusConflict, "coupon code already exists", err)
			return
		}
		if xerrors.Is(err, xerrors.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, "invalid coupon definition", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to create coupon", err)
		return
	}

	response.Success(c, http.StatusCreated, "coupon created", result)
}

// ListCoupons retrieves coupons with filters
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	var filters domain.ListFilters
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

	result, err := h.couponService.ListCoupons(c.Request.Context(), &filters)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to list coupons", err)
		return
	}

	response.Success(c, http.StatusOK, "coupons retrieved", result)
}

// DisableCoupon soft-retires a coupon by code
func (h *CouponHandler) DisableCoupon(c *gin.Context) {
	code := c.Param("code")

	if err := h.couponService.DisableCoupon(c.Request.Context(), code); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "coupon not found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to disable coupon", err)
		return
	}

	response.Success(c, http.StatusOK, "coupon disabled", nil)
}

// ListUsages retrieves the usage audit trail for a coupon
func (h *CouponHandler) ListUsages(c *gin.Context) {
	code := c.Param("code")
	limit, _ := strconv.Atoi(c.Query("limit"))

	usages, err := h.couponService.ListUsages(c.Request.Context(), code, limit)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.Error(c, http.StatusNotFound, "coupon not found", err)
			return
		}
		response.Error(c, http.StatusInternalServerError, "failed to list usages", err)
		return
	}

	response.Success(c, http.StatusOK, "usages retrieved", usages)
}
