package event

import (
	"fmt"
	"math/big"
)

// PriceUpdate represents an oracle price for an asset in the base currency.
type PriceUpdate struct {
	Reserve        string   `json:"reserve"`
	Price          *big.Int `json:"price"` // Wad
	PriceSequence  int64    `json:"price_sequence"`  // Monotonic per asset
	PriceTimestamp int64    `json:"price_timestamp"` // Epoch seconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Reserve, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Asset() *string {
	a := p.Reserve
	return &a
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
