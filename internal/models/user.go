package models

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// User captures application-facing fields for an authenticated identity.
type User struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	Role           string          `json:"role"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"-"`
	PasswordHash   string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
}

// IsAdmin reports whether the user holds the elevated role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]{5,}$`)

// ValidUsername reports whether name is at least five ASCII letters or digits.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}
