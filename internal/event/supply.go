package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// DepositRequested represents a confirmed transfer of underlying into a
// reserve. Idempotency key: request_id (UUID from the gateway).
type DepositRequested struct {
	RequestID uuid.UUID `json:"request_id"` // Idempotency key
	UserID    uuid.UUID `json:"user_id"`
	Reserve   string    `json:"reserve"`
	Amount    *big.Int  `json:"amount"` // Wad
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"` // Versioned input timestamp (NOT wall-clock)
}

func (d *DepositRequested) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *DepositRequested) EventType() EventType {
	return EventTypeDepositRequested
}

func (d *DepositRequested) Asset() *string {
	a := d.Reserve
	return &a
}

func (d *DepositRequested) SourceSequence() int64 {
	return d.Sequence
}

// WithdrawRequested represents a user's request to withdraw supplied funds.
// A nil Amount withdraws the entire balance.
type WithdrawRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reserve   string    `json:"reserve"`
	Amount    *big.Int  `json:"amount,omitempty"` // Wad; nil means the whole balance
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (w *WithdrawRequested) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *WithdrawRequested) EventType() EventType {
	return EventTypeWithdrawRequested
}

func (w *WithdrawRequested) Asset() *string {
	a := w.Reserve
	return &a
}

func (w *WithdrawRequested) SourceSequence() int64 {
	return w.Sequence
}

// CollateralUsageSet toggles whether a user's supply in a reserve counts
// toward their collateral.
type CollateralUsageSet struct {
	RequestID       uuid.UUID `json:"request_id"`
	UserID          uuid.UUID `json:"user_id"`
	Reserve         string    `json:"reserve"`
	UseAsCollateral bool      `json:"use_as_collateral"`
	Sequence        int64     `json:"sequence"`
	Timestamp       time.Time `json:"timestamp"`
}

func (c *CollateralUsageSet) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *CollateralUsageSet) EventType() EventType {
	return EventTypeCollateralUsageSet
}

func (c *CollateralUsageSet) Asset() *string {
	a := c.Reserve
	return &a
}

func (c *CollateralUsageSet) SourceSequence() int64 {
	return c.Sequence
}
