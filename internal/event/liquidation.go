package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// LiquidationRequested represents a liquidator's call against an unhealthy
// borrower. The engine re-checks the health factor at apply time; a request
// against a position that recovered is rejected, not queued.
type LiquidationRequested struct {
	RequestID         uuid.UUID `json:"request_id"`
	Liquidator        uuid.UUID `json:"liquidator"`
	Borrower          uuid.UUID `json:"borrower"`
	CollateralReserve string    `json:"collateral_reserve"`
	DebtReserve       string    `json:"debt_reserve"`
	DebtToCover       *big.Int  `json:"debt_to_cover"` // Wad
	ReceiveUnderlying bool      `json:"receive_underlying"`
	Sequence          int64     `json:"sequence"`
	Timestamp         time.Time `json:"timestamp"`
}

func (l *LiquidationRequested) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *LiquidationRequested) EventType() EventType {
	return EventTypeLiquidationRequested
}

func (l *LiquidationRequested) Asset() *string {
	return nil // Touches two reserves
}

func (l *LiquidationRequested) SourceSequence() int64 {
	return l.Sequence
}
