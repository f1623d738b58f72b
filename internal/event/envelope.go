package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositRequested
	EventTypeWithdrawRequested
	EventTypeBorrowRequested
	EventTypeRepayRequested
	EventTypeLiquidationRequested
	EventTypeFlashLoanRequested
	EventTypePriceUpdate
	EventTypeReserveConfigUpdate
	EventTypeCollateralUsageSet
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Reserve context (nullable for multi-asset or global events)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the reserve context (nil for multi-asset events)
	Asset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositRequested:
		return "DepositRequested"
	case EventTypeWithdrawRequested:
		return "WithdrawRequested"
	case EventTypeBorrowRequested:
		return "BorrowRequested"
	case EventTypeRepayRequested:
		return "RepayRequested"
	case EventTypeLiquidationRequested:
		return "LiquidationRequested"
	case EventTypeFlashLoanRequested:
		return "FlashLoanRequested"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeReserveConfigUpdate:
		return "ReserveConfigUpdate"
	case EventTypeCollateralUsageSet:
		return "CollateralUsageSet"
	default:
		return "Unknown"
	}
}
