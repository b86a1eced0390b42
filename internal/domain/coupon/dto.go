package coupon

import "time"

type CreateCouponRequest struct {
	Code           string   `json:"code" binding:"required"`
	Kind           string   `json:"kind" binding:"required,oneof=percentage fixed_amount free_days"`
	Value          int64    `json:"value" binding:"required,gt=0"`
	ValidFrom      string   `json:"valid_from"`
	ValidUntil     string   `json:"valid_until" binding:"required"`
	MaxUses        *int32   `json:"max_uses,omitempty"`
	MaxUsesPerUser int      `json:"max_uses_per_user"`
	Reusable       bool     `json:"reusable"`
	StaffOnly      bool     `json:"staff_only"`
	MinAmount      int64    `json:"min_amount"`
	PricingTypes   []string `json:"pricing_types"`
	PricingIDs     []int64  `json:"pricing_ids"`
	PaymentMethods []string `json:"payment_methods"`
}

type PreviewRequest struct {
	Code          string `json:"code" binding:"required"`
	PlanID        int64  `json:"plan_id" binding:"required"`
	PaymentMethod string `json:"payment_method"`
}

type PreviewResponse struct {
	Code           string  `json:"code"`
	DiscountAmount int64   `json:"discount_amount"`
	BonusDays      float64 `json:"bonus_days"`
	BonusMinutes   int64   `json:"bonus_minutes"`
	PayableAmount  int64   `json:"payable_amount"`
}

type ListFilters struct {
	Active   *bool  `form:"active"`
	Kind     string `form:"kind"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

type ListResponse struct {
	Coupons  []Coupon `json:"coupons"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// ParseWindow resolves the optional valid_from / required valid_until strings
// (RFC 3339 or YYYY-MM-DD) into the coupon activity window.
func (r *CreateCouponRequest) ParseWindow(now time.Time) (from, until time.Time, err error) {
	from = now
	if r.ValidFrom != "" {
		from, err = parseDate(r.ValidFrom)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	until, err = parseDate(r.ValidUntil)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, until, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
