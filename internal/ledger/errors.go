package ledger

import (
	"errors"
	"fmt"

	"github.com/hongminglow/all-in-floor/internal/storage"
)

var (
	// ErrNotFound means the user has no ledger record.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidAmount means the amount is not a positive value in whole cents.
	ErrInvalidAmount = errors.New("amount must be a positive value with at most 2 decimal places")
	// ErrInvalidKind means the adjustment kind is neither deposit nor withdraw.
	ErrInvalidKind = errors.New("kind must be deposit or withdraw")
	// ErrInsufficientFunds is only returned when overdrafts are disabled.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOperationFailed matches every *OperationFailedError.
	ErrOperationFailed = errors.New("operation failed")
)

// OperationFailedError reports an adjustment that could not commit. Nothing
// it attempted is visible.
type OperationFailedError struct {
	UserID int64
	Err    error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("adjust balance of user %d: %v", e.UserID, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }

func (e *OperationFailedError) Is(target error) bool { return target == ErrOperationFailed }
