package wallet

type Statement struct {
	Wallet     Wallet      `json:"wallet"`
	Recharges  []Recharge  `json:"recharges"`
	Deductions []Deduction `json:"deductions"`
}

type CreateWithdrawalRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type WithdrawalListResponse struct {
	Withdrawals []WithdrawalRequest `json:"withdrawals"`
	Total       int64               `json:"total"`
}

type RejectWithdrawalRequest struct {
	Reason string `json:"reason" binding:"required"`
}
