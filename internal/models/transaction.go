package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a balance-affecting operation.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// ParseKind normalizes a wire value into a known Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDeposit:
		return KindDeposit, true
	case KindWithdraw:
		return KindWithdraw, true
	}
	return "", false
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindDeposit || k == KindWithdraw
}

// Apply returns balance moved by amount in the direction of k.
func (k Kind) Apply(balance, amount decimal.Decimal) decimal.Decimal {
	if k == KindWithdraw {
		return balance.Sub(amount)
	}
	return balance.Add(amount)
}

// Transaction is one immutable entry in a user's balance history.
// Amount is always the unsigned magnitude; Kind carries the direction.
type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Kind         Kind            `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Signed returns the amount with the sign implied by Kind.
func (t Transaction) Signed() decimal.Decimal {
	return t.Kind.Apply(decimal.Zero, t.Amount)
}
