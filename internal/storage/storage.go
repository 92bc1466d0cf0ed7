package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/hongminglow/all-in-floor/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrWrongUser is returned when a ledger transaction is used for a user other
// than the one it locked.
var ErrWrongUser = errors.New("ledger transaction is scoped to a different user")

// UserStore captures persistence operations needed by handlers.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetRole(ctx context.Context, id int64, role string) error
}

// LedgerTx is a unit of work holding exclusive access to one user's balance.
// Writes made through it become visible together when the enclosing
// WithUserLock returns nil and are discarded otherwise.
type LedgerTx interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
	// Append records rec and returns it with ID and CreatedAt assigned.
	Append(ctx context.Context, rec models.Transaction) (models.Transaction, error)
}

// LedgerStore groups balance writes and transaction records under one
// transactional boundary per user.
type LedgerStore interface {
	// WithUserLock runs fn while holding the lock for userID. Calls for the
	// same user serialize; calls for different users do not contend.
	WithUserLock(ctx context.Context, userID int64, fn func(tx LedgerTx) error) error
	// Transactions lists a user's records, oldest first.
	Transactions(ctx context.Context, userID int64) ([]models.Transaction, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	UserStore
	LedgerStore
	Close()
}
