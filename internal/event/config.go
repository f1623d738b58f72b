package event

import (
	"fmt"
	"math/big"
)

// ReserveConfigUpdate represents an admin update to a reserve's risk and
// rate parameters. When received, the core revalidates the full parameter
// set and swaps it in atomically; a new asset is listed by the first update
// naming it.
type ReserveConfigUpdate struct {
	Reserve  string `json:"reserve"`
	Decimals uint8  `json:"decimals"`
	Active   bool   `json:"active"`
	Frozen   bool   `json:"frozen"`

	ReserveFactor        *big.Int `json:"reserve_factor"`        // Ray
	LiquidationThreshold *big.Int `json:"liquidation_threshold"` // Ray
	LiquidationBonus     *big.Int `json:"liquidation_bonus"`     // Ray

	OptimalUtilization *big.Int `json:"optimal_utilization"` // Ray
	BaseVariableRate   *big.Int `json:"base_variable_rate"`  // Ray, annual
	VariableSlope1     *big.Int `json:"variable_slope1"`     // Ray, annual
	VariableSlope2     *big.Int `json:"variable_slope2"`     // Ray, annual
	StableSlope1       *big.Int `json:"stable_slope1"`       // Ray, annual
	StableSlope2       *big.Int `json:"stable_slope2"`       // Ray, annual

	EffectiveSeq int64 `json:"effective_seq"` // Sequence at which params take effect
	Sequence     int64 `json:"sequence"`      // Source sequence
	Timestamp    int64 `json:"timestamp"`     // Epoch seconds (versioned input)
}

func (r *ReserveConfigUpdate) IdempotencyKey() string {
	return fmt.Sprintf("reserve_config:%s:%d", r.Reserve, r.EffectiveSeq)
}

func (r *ReserveConfigUpdate) EventType() EventType {
	return EventTypeReserveConfigUpdate
}

func (r *ReserveConfigUpdate) Asset() *string {
	a := r.Reserve
	return &a
}

func (r *ReserveConfigUpdate) SourceSequence() int64 {
	return r.Sequence
}
