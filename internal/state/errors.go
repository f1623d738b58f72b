package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Error kinds surfaced by the accounting engine. Every failure aborts the
// whole operation; nothing is retried internally.
var (
	ErrInvalidTimestamp              = errors.New("timestamp moved backwards")
	ErrReserveNotFound               = errors.New("reserve not found")
	ErrReserveInactive               = errors.New("reserve inactive")
	ErrReserveFrozen                 = errors.New("reserve frozen")
	ErrInsufficientLiquidity         = errors.New("insufficient liquidity")
	ErrHealthFactorNotBelowThreshold = errors.New("health factor not below liquidation threshold")
	ErrInsufficientCollateral        = errors.New("insufficient collateral")
	ErrInvalidFlashLoanRepayment     = errors.New("invalid flash loan repayment")
	ErrInvalidAmount                 = errors.New("amount must be positive")
)

// OpError wraps an engine error with the reserve, user, and amount the
// failed operation was attempted with, so callers can present an actionable
// message. The engine itself never logs or formats user-facing text.
type OpError struct {
	Op      string
	Reserve string
	User    uuid.UUID
	Amount  *big.Int
	Err     error
}

func (e *OpError) Error() string {
	if e.Amount != nil {
		return fmt.Sprintf("%s reserve=%s user=%s amount=%s: %v", e.Op, e.Reserve, e.User, e.Amount, e.Err)
	}
	return fmt.Sprintf("%s reserve=%s user=%s: %v", e.Op, e.Reserve, e.User, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, reserve string, user uuid.UUID, amount *big.Int, err error) error {
	return &OpError{Op: op, Reserve: reserve, User: user, Amount: amount, Err: err}
}
