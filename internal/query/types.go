package query

import (
	"time"

	"github.com/google/uuid"
)

// ReserveStateResponse represents the current accounting state of a reserve
// for API queries. Wad and ray values are decimal strings since they exceed
// int64 range.
type ReserveStateResponse struct {
	Asset               string    `json:"asset"`
	LiquidityIndex      string    `json:"liquidity_index"`       // Ray
	VariableBorrowIndex string    `json:"variable_borrow_index"` // Ray
	LiquidityRate       string    `json:"liquidity_rate"`        // Ray, annual
	VariableBorrowRate  string    `json:"variable_borrow_rate"`  // Ray, annual
	StableBorrowRate    string    `json:"stable_borrow_rate"`    // Ray, annual
	AvailableLiquidity  string    `json:"available_liquidity"`   // Wad
	TotalStableDebt     string    `json:"total_stable_debt"`     // Wad
	TreasuryBalance     string    `json:"treasury_balance"`      // Wad (scaled)
	UpdatedAt           time.Time `json:"updated_at"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// RateHistoryResponse represents one point in a reserve's rate series.
type RateHistoryResponse struct {
	Asset              string    `json:"asset"`
	Sequence           int64     `json:"sequence"`
	LiquidityRate      string    `json:"liquidity_rate"`       // Ray, annual
	VariableBorrowRate string    `json:"variable_borrow_rate"` // Ray, annual
	StableBorrowRate   string    `json:"stable_borrow_rate"`   // Ray, annual
	Timestamp          time.Time `json:"timestamp"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// LiquidationHistoryResponse represents an applied liquidation call for API
// queries.
type LiquidationHistoryResponse struct {
	Sequence          int64     `json:"sequence"`
	RequestID         uuid.UUID `json:"request_id"`
	Liquidator        uuid.UUID `json:"liquidator"`
	Borrower          uuid.UUID `json:"borrower"`
	CollateralAsset   string    `json:"collateral_asset"`
	DebtAsset         string    `json:"debt_asset"`
	DebtToCover       string    `json:"debt_to_cover"` // Wad
	ReceiveUnderlying bool      `json:"receive_underlying"`
	Timestamp         time.Time `json:"timestamp"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	IndexRegressions []IndexRegression `json:"index_regressions,omitempty"`
}

// IndexRegression flags a sequence where a reserve's liquidity index moved
// backwards. Indexes are monotonically non-decreasing, so any regression
// means corrupted history.
type IndexRegression struct {
	Asset    string `json:"asset"`
	Sequence int64  `json:"sequence"`
}
