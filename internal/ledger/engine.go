// Package ledger applies credit and debit adjustments to user balances.
//
// Callers are expected to have authorized the request already; the engine
// checks amounts and kinds but not privileges.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/notify"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

const publishTimeout = 3 * time.Second

// Store is the persistence the engine needs.
type Store interface {
	storage.LedgerStore
	FindByID(ctx context.Context, id int64) (models.User, error)
}

// Options tunes engine policy.
type Options struct {
	// AllowOverdraft lets withdrawals take a balance below zero. Defaults to
	// true, which performs no solvency check.
	AllowOverdraft bool
	// Timeout bounds each adjustment; zero means no extra deadline.
	Timeout time.Duration
}

// DefaultOptions matches the floor's historical behavior: unchecked overdraft.
func DefaultOptions() Options {
	return Options{AllowOverdraft: true, Timeout: 5 * time.Second}
}

// Adjustment is a single deposit or withdrawal request.
type Adjustment struct {
	UserID      int64
	Kind        models.Kind
	Amount      decimal.Decimal
	Description string
}

// Money is stored as NUMERIC(24,2): at most 22 integer digits.
const (
	maxIntegerDigits = 22
	maxScale         = 2
)

var maxMagnitude = decimal.New(1, maxIntegerDigits)

// Validate checks the request without touching storage.
func (a Adjustment) Validate() error {
	if !a.Kind.Valid() {
		return ErrInvalidKind
	}
	if !representable(a.Amount) || !a.Amount.IsPositive() || !a.Amount.Equal(a.Amount.Truncate(maxScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// representable reports whether d fits in a NUMERIC(24,2) column. The
// exponent is bounded first so later comparisons never rescale by a huge
// power of ten.
func representable(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxIntegerDigits || exp < -(maxIntegerDigits+maxScale) {
		return false
	}
	return d.Abs().LessThan(maxMagnitude)
}

// Result is what a committed adjustment produced.
type Result struct {
	NewBalance  decimal.Decimal
	Transaction models.Transaction
}

// Engine applies adjustments atomically, one user at a time.
type Engine struct {
	store     Store
	publisher notify.Publisher
	logger    *slog.Logger
	opts      Options
}

// NewEngine wires an engine. A nil publisher discards events and a nil logger
// uses slog.Default.
func NewEngine(store Store, publisher notify.Publisher, logger *slog.Logger, opts Options) *Engine {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, publisher: publisher, logger: logger, opts: opts}
}

// ApplyAdjustment reads the user's balance, moves it by the adjustment, and
// appends the matching transaction record as one unit of work. Either both
// writes are visible afterwards or neither is.
func (e *Engine) ApplyAdjustment(ctx context.Context, adj Adjustment) (Result, error) {
	if err := adj.Validate(); err != nil {
		return Result{}, err
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	var res Result
	err := e.store.WithUserLock(ctx, adj.UserID, func(tx storage.LedgerTx) error {
		current, err := tx.GetBalance(ctx, adj.UserID)
		if err != nil {
			return err
		}
		next := adj.Kind.Apply(current, adj.Amount)
		if !e.opts.AllowOverdraft && next.IsNegative() {
			return ErrInsufficientFunds
		}
		if next.Abs().GreaterThanOrEqual(maxMagnitude) {
			return fmt.Errorf("%w: balance would leave the storable range", ErrInvalidAmount)
		}
		if err := tx.SetBalance(ctx, adj.UserID, next); err != nil {
			return err
		}
		rec, err := tx.Append(ctx, models.Transaction{
			UserID:       adj.UserID,
			Kind:         adj.Kind,
			Amount:       adj.Amount,
			BalanceAfter: next,
			Description:  adj.Description,
		})
		if err != nil {
			return err
		}
		res = Result{NewBalance: next, Transaction: rec}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return Result{}, ErrNotFound
		case errors.Is(err, ErrInsufficientFunds):
			return Result{}, ErrInsufficientFunds
		case errors.Is(err, ErrInvalidAmount):
			return Result{}, err
		}
		e.logger.Warn("adjustment failed",
			"user_id", adj.UserID, "kind", adj.Kind, "amount", adj.Amount.String(), "error", err)
		return Result{}, &OperationFailedError{UserID: adj.UserID, Err: err}
	}

	e.logger.Info("adjustment committed",
		"user_id", adj.UserID, "kind", adj.Kind, "amount", adj.Amount.String(),
		"new_balance", res.NewBalance.String(), "transaction_id", res.Transaction.ID)
	e.publish(ctx, res)
	return res, nil
}

// publish runs after commit, detached from the caller's cancellation.
func (e *Engine) publish(ctx context.Context, res Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := models.BalanceChanged{
		EventID:       uuid.NewString(),
		UserID:        res.Transaction.UserID,
		TransactionID: res.Transaction.ID,
		Kind:          res.Transaction.Kind,
		Amount:        res.Transaction.Amount,
		NewBalance:    res.NewBalance,
		OccurredAt:    res.Transaction.CreatedAt,
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish balance change", "user_id", event.UserID, "error", err)
	}
}

// History returns the user's transaction records, oldest first.
func (e *Engine) History(ctx context.Context, userID int64) ([]models.Transaction, error) {
	return e.store.Transactions(ctx, userID)
}
