package dto

import "github.com/shopspring/decimal"

// CreditRequest accepts both the snake_case API shape and the admin panel's
// camelCase {userId, amount, type} shape.
type CreditRequest struct {
	UserID      int64           `json:"user_id"`
	UserIDAlt   int64           `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
}

// TargetUser returns whichever user id field was populated.
func (r CreditRequest) TargetUser() int64 {
	if r.UserID != 0 {
		return r.UserID
	}
	return r.UserIDAlt
}

// KindValue returns kind, falling back to type.
func (r CreditRequest) KindValue() string {
	if r.Kind != "" {
		return r.Kind
	}
	return r.Type
}

// CreditResponse carries new_balance as a decimal string ("1250.50") so
// clients never round-trip money through a float.
type CreditResponse struct {
	Success    bool            `json:"success"`
	NewBalance decimal.Decimal `json:"new_balance"`
}
