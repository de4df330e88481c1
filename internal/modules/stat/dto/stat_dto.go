package dto

import "github.com/shopspring/decimal"

type SessionCounts struct {
	Pending  int64 `json:"pending"`
	Valid    int64 `json:"valid"`
	Rejected int64 `json:"rejected"`
}

type OverviewResponse struct {
	TotalUsers        int64           `json:"total_users"`
	Sessions          SessionCounts   `json:"sessions"`
	OpenFraudFlags    int64           `json:"open_fraud_flags"`
	PointsOutstanding decimal.Decimal `json:"points_outstanding"`
	EarningsLocked    decimal.Decimal `json:"earnings_locked"`
	EarningsAvailable decimal.Decimal `json:"earnings_available"`
}
