package period

import "time"

type ListFilters struct {
	Status   *Status `form:"status"`
	Page     int     `form:"page"`
	PageSize int     `form:"page_size"`
}

type ListResponse struct {
	Periods  []SubscriptionPeriod `json:"periods"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// SweepResult summarizes one expiry sweep run.
type SweepResult struct {
	Activated int64     `json:"activated"`
	Expired   int64     `json:"expired"`
	RanAt     time.Time `json:"ran_at"`
}
