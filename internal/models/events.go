package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceChanged is emitted after an adjustment has committed.
type BalanceChanged struct {
	EventID       string          `json:"event_id"`
	UserID        int64           `json:"user_id"`
	TransactionID int64           `json:"transaction_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
