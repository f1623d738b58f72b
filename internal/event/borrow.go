package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// RateMode selects the interest model for a borrow.
type RateMode int32

const (
	RateModeUnknown RateMode = iota
	RateModeVariable
	RateModeStable
)

func (m RateMode) String() string {
	switch m {
	case RateModeVariable:
		return "variable"
	case RateModeStable:
		return "stable"
	default:
		return "unknown"
	}
}

// BorrowRequested represents a draw against a reserve's liquidity.
type BorrowRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reserve   string    `json:"reserve"`
	Amount    *big.Int  `json:"amount"` // Wad
	Mode      RateMode  `json:"rate_mode"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (b *BorrowRequested) IdempotencyKey() string {
	return b.RequestID.String()
}

func (b *BorrowRequested) EventType() EventType {
	return EventTypeBorrowRequested
}

func (b *BorrowRequested) Asset() *string {
	a := b.Reserve
	return &a
}

func (b *BorrowRequested) SourceSequence() int64 {
	return b.Sequence
}

// RepayRequested represents a repayment against outstanding debt. Amounts
// above the debt are clamped at apply time; the applied amount lands in the
// result, not here.
type RepayRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reserve   string    `json:"reserve"`
	Amount    *big.Int  `json:"amount"` // Wad
	Mode      RateMode  `json:"rate_mode"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *RepayRequested) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RepayRequested) EventType() EventType {
	return EventTypeRepayRequested
}

func (r *RepayRequested) Asset() *string {
	a := r.Reserve
	return &a
}

func (r *RepayRequested) SourceSequence() int64 {
	return r.Sequence
}
