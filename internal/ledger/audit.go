package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// AuditReport compares a stored balance with the replay of its records.
type AuditReport struct {
	UserID         int64           `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
	Replayed       decimal.Decimal `json:"replayed_balance"`
	Records        int             `json:"records"`
	Consistent     bool            `json:"consistent"`
}

// Audit replays the user's records from the initial balance.
func (e *Engine) Audit(ctx context.Context, userID int64) (AuditReport, error) {
	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}
	records, err := e.store.Transactions(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}

	replayed := user.InitialBalance
	for _, rec := range records {
		replayed = replayed.Add(rec.Signed())
	}
	// An adjustment may have committed between the two reads.
	if len(records) > 0 && !replayed.Equal(user.Balance) {
		if latest, err := e.store.FindByID(ctx, userID); err == nil && latest.Balance.Equal(replayed) {
			user = latest
		}
	}

	return AuditReport{
		UserID:         userID,
		InitialBalance: user.InitialBalance,
		StoredBalance:  user.Balance,
		Replayed:       replayed,
		Records:        len(records),
		Consistent:     replayed.Equal(user.Balance),
	}, nil
}
