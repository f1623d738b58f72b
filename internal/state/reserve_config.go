package state

import (
	"fmt"
	"math/big"

	"LendLedger/internal/math"
	"LendLedger/internal/rates"
)

// ReserveConfig holds the per-asset static parameters supplied by the
// configuration source: decimals, policy flags, liquidation parameters, the
// protocol's interest share, and the rate curve. The engine reads these and
// never mutates them outside an explicit config update.
type ReserveConfig struct {
	Asset string

	// Decimals is the token's native precision, carried for ingestion and
	// API clients. All engine amounts are already Wad-normalized by the
	// time they reach the ledgers, so valuation never scales by it.
	Decimals int
	Active               bool
	Frozen               bool
	ReserveFactor        *big.Int // Ray, 0..1: protocol share of interest
	LiquidationThreshold *big.Int // Ray, 0..1: collateral weight in health factor
	LiquidationBonus     *big.Int // Ray premium above 1.0, e.g. 0.05 = 5%
	Curve                rates.CurveParams
}

// ClosePolicy is the collaborator-supplied liquidation sizing policy: at
// most CloseFactor of a borrower's debt may be covered per call, unless the
// health factor has fallen below FullCloseThreshold, in which case the full
// debt is eligible.
type ClosePolicy struct {
	CloseFactor        *big.Int // Ray, 0..1
	FullCloseThreshold *big.Int // Ray health factor, below 1.0
}

// DefaultClosePolicy covers half the debt per call, with full liquidation
// available once the health factor drops under 0.95.
func DefaultClosePolicy() ClosePolicy {
	return ClosePolicy{
		CloseFactor:        math.RayFromFraction(50, 100),
		FullCloseThreshold: math.RayFromFraction(95, 100),
	}
}

// ValidateReserveConfig checks that reserve parameters are within valid
// ranges: decimals in (0, 36], factors in [0, 1], bonus non-negative, and a
// well-formed rate curve.
func ValidateReserveConfig(cfg ReserveConfig) error {
	if cfg.Asset == "" {
		return fmt.Errorf("asset must not be empty")
	}
	if cfg.Decimals <= 0 || cfg.Decimals > 36 {
		return fmt.Errorf("decimals must be in (0, 36], got %d", cfg.Decimals)
	}
	if cfg.ReserveFactor.Sign() < 0 || cfg.ReserveFactor.Cmp(math.Ray) > 0 {
		return fmt.Errorf("reserve factor must be in [0, 1] ray, got %s", cfg.ReserveFactor)
	}
	if cfg.LiquidationThreshold.Sign() < 0 || cfg.LiquidationThreshold.Cmp(math.Ray) > 0 {
		return fmt.Errorf("liquidation threshold must be in [0, 1] ray, got %s", cfg.LiquidationThreshold)
	}
	if cfg.LiquidationBonus.Sign() < 0 {
		return fmt.Errorf("liquidation bonus must be non-negative, got %s", cfg.LiquidationBonus)
	}
	if _, err := rates.NewStrategy(cfg.Curve); err != nil {
		return fmt.Errorf("invalid rate curve: %w", err)
	}
	return nil
}

// ValidateClosePolicy checks the liquidation sizing policy.
func ValidateClosePolicy(p ClosePolicy) error {
	if p.CloseFactor.Sign() <= 0 || p.CloseFactor.Cmp(math.Ray) > 0 {
		return fmt.Errorf("close factor must be in (0, 1] ray, got %s", p.CloseFactor)
	}
	if p.FullCloseThreshold.Sign() < 0 || p.FullCloseThreshold.Cmp(math.Ray) >= 0 {
		return fmt.Errorf("full close threshold must be in [0, 1) ray, got %s", p.FullCloseThreshold)
	}
	return nil
}
