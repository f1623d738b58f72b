package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// FlashLoanRequested represents an uncollateralized same-event loan. The
// receiver is resolved by name at apply time from the engine's registry;
// the event log stays free of function values.
type FlashLoanRequested struct {
	RequestID uuid.UUID  `json:"request_id"`
	Initiator uuid.UUID  `json:"initiator"`
	Receiver  string     `json:"receiver"`
	Reserves  []string   `json:"reserves"`
	Amounts   []*big.Int `json:"amounts"` // Wad, parallel to Reserves
	Params    []byte     `json:"params,omitempty"`
	Sequence  int64      `json:"sequence"`
	Timestamp time.Time  `json:"timestamp"`
}

func (f *FlashLoanRequested) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *FlashLoanRequested) EventType() EventType {
	return EventTypeFlashLoanRequested
}

func (f *FlashLoanRequested) Asset() *string {
	return nil // May touch several reserves
}

func (f *FlashLoanRequested) SourceSequence() int64 {
	return f.Sequence
}
