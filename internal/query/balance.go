package query

import (
	"github.com/google/uuid"
)

// AccountDataResponse represents a user's aggregate position across all
// reserves. Values are wad decimal strings in the base currency; the health
// factor is a ray decimal string, with the unsigned maximum standing in for
// "no debt".
type AccountDataResponse struct {
	UserID uuid.UUID `json:"user_id"`

	TotalCollateralValue string `json:"total_collateral_value"` // Wad, threshold-weighted
	TotalDebtValue       string `json:"total_debt_value"`       // Wad
	HealthFactor         string `json:"health_factor"`          // Ray
	Liquidatable         bool   `json:"liquidatable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// UserReserveResponse represents a user's balance and debt in one reserve.
type UserReserveResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	SupplyBalance   string `json:"supply_balance"`    // Wad, interest-accrued
	VariableDebt    string `json:"variable_debt"`     // Wad, interest-accrued
	StableDebt      string `json:"stable_debt"`       // Wad, interest-accrued
	UseAsCollateral bool   `json:"use_as_collateral"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// CoreStateReader serves account-level queries that need the live in-memory
// state: user balances and health factors are not projected to Postgres.
// The orchestrator must route these calls through the core's event loop so
// they never race with event application.
type CoreStateReader interface {
	UserAccountData(userID uuid.UUID) (*AccountDataResponse, error)
	UserReserves(userID uuid.UUID) ([]UserReserveResponse, error)
}
