package state

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/ledger"
	"LendLedger/internal/math"
)

// HealthFactorInfinity is the sentinel health factor for a user with no
// debt: always safe, never liquidatable.
var HealthFactorInfinity = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// HealthFactorSnapshot is the computed cross-reserve risk view of one user.
// Values are derived fresh from ledgers and oracle prices, never stored.
type HealthFactorSnapshot struct {
	TotalCollateral   *big.Int // reference units, Wad
	TotalDebt         *big.Int // reference units, Wad
	WeightedThreshold *big.Int // Ray, collateral-weighted average
	HealthFactor      *big.Int // Ray; HealthFactorInfinity when debt is zero
}

// Safe reports whether the position is above the liquidation threshold.
func (h *HealthFactorSnapshot) Safe() bool {
	return h.HealthFactor.Cmp(math.Ray) >= 0
}

// LiquidationResult reports what a liquidation call actually moved.
type LiquidationResult struct {
	DebtCovered        *big.Int
	CollateralSeized   *big.Int
	HealthFactorBefore *big.Int
	Capped             bool
}

// LiquidationManager computes health factors and executes liquidation
// calls across reserves. The close policy is supplied by the caller, not
// hard-coded.
type LiquidationManager struct {
	reserves *ReserveManager
	oracle   PriceOracle
	policy   ClosePolicy
}

func NewLiquidationManager(reserves *ReserveManager, oracle PriceOracle, policy ClosePolicy) (*LiquidationManager, error) {
	if err := ValidateClosePolicy(policy); err != nil {
		return nil, err
	}
	return &LiquidationManager{
		reserves: reserves,
		oracle:   oracle,
		policy:   policy,
	}, nil
}

// ComputeHealthFactor aggregates the user's collateral and debt across all
// reserves at fresh oracle prices:
//
//	healthFactor = sum(collateralValue_i * threshold_i) / totalDebtValue
//
// Balances are read at indexes projected to now, so interest pending in
// reserves the current operation never accrued still counts.
func (lm *LiquidationManager) ComputeHealthFactor(user uuid.UUID, now int64) (*HealthFactorSnapshot, error) {
	totalCollateral := big.NewInt(0)
	weightedCollateral := big.NewInt(0)
	totalDebt := big.NewInt(0)

	for _, asset := range lm.reserves.Assets() {
		r, err := lm.reserves.Reserve(asset)
		if err != nil {
			return nil, err
		}

		supply, err := r.NormalizedSupplyBalanceOf(user, now)
		if err != nil {
			return nil, err
		}
		debt, err := r.totalDebtOf(user, now)
		if err != nil {
			return nil, err
		}
		if supply.Sign() == 0 && debt.Sign() == 0 {
			continue
		}

		price, err := lm.oracle.AssetPrice(asset)
		if err != nil {
			return nil, opError("health_factor", asset, user, nil, err)
		}

		if supply.Sign() > 0 && lm.reserves.UsingAsCollateral(asset, user) {
			value, err := valueInBase(supply, price)
			if err != nil {
				return nil, err
			}
			totalCollateral.Add(totalCollateral, value)
			weighted, err := math.RayMul(value, r.Config().LiquidationThreshold)
			if err != nil {
				return nil, err
			}
			weightedCollateral.Add(weightedCollateral, weighted)
		}

		if debt.Sign() > 0 {
			value, err := valueInBase(debt, price)
			if err != nil {
				return nil, err
			}
			totalDebt.Add(totalDebt, value)
		}
	}

	snapshot := &HealthFactorSnapshot{
		TotalCollateral:   totalCollateral,
		TotalDebt:         totalDebt,
		WeightedThreshold: big.NewInt(0),
		HealthFactor:      new(big.Int).Set(HealthFactorInfinity),
	}
	if totalCollateral.Sign() > 0 {
		avg, err := math.RayDiv(weightedCollateral, totalCollateral)
		if err != nil {
			return nil, err
		}
		snapshot.WeightedThreshold = avg
	}
	if totalDebt.Sign() > 0 {
		hf, err := math.RayDiv(weightedCollateral, totalDebt)
		if err != nil {
			return nil, err
		}
		snapshot.HealthFactor = hf
	}
	return snapshot, nil
}

// LiquidationCall covers part of an unsafe borrower's debt and seizes the
// equivalent collateral plus the liquidation bonus. The covered amount is
// limited by the close policy; a seize amount exceeding the borrower's
// collateral caps the liquidation at the full collateral balance instead of
// reverting. Indexes of both reserves are rolled forward before any reads.
func (lm *LiquidationManager) LiquidationCall(
	collateralAsset, debtAsset string,
	borrower, liquidator uuid.UUID,
	debtToCover *big.Int,
	receiveUnderlying bool,
	now int64,
) (*LiquidationResult, error) {
	if debtToCover == nil || debtToCover.Sign() <= 0 {
		return nil, opError("liquidate", debtAsset, borrower, debtToCover, ErrInvalidAmount)
	}

	collateralReserve, err := lm.reserves.Reserve(collateralAsset)
	if err != nil {
		return nil, err
	}
	debtReserve, err := lm.reserves.Reserve(debtAsset)
	if err != nil {
		return nil, err
	}
	if !collateralReserve.Config().Active {
		return nil, opError("liquidate", collateralAsset, borrower, debtToCover, ErrReserveInactive)
	}
	if !debtReserve.Config().Active {
		return nil, opError("liquidate", debtAsset, borrower, debtToCover, ErrReserveInactive)
	}

	// Roll indexes first so nothing below reads stale state.
	if err := collateralReserve.rollState(now); err != nil {
		return nil, err
	}
	if collateralAsset != debtAsset {
		if err := debtReserve.rollState(now); err != nil {
			return nil, err
		}
	}

	health, err := lm.ComputeHealthFactor(borrower, now)
	if err != nil {
		return nil, err
	}
	if health.Safe() {
		return nil, opError("liquidate", debtAsset, borrower, debtToCover, ErrHealthFactorNotBelowThreshold)
	}

	variableDebt, err := debtReserve.VariableDebtOf(borrower)
	if err != nil {
		return nil, err
	}
	stableDebt, err := debtReserve.StableDebtOf(borrower, now)
	if err != nil {
		return nil, err
	}
	totalDebt := new(big.Int).Add(variableDebt, stableDebt)
	if totalDebt.Sign() == 0 {
		return nil, opError("liquidate", debtAsset, borrower, debtToCover, ledger.ErrInsufficientDebt)
	}

	maxClose := totalDebt
	if health.HealthFactor.Cmp(lm.policy.FullCloseThreshold) >= 0 {
		maxClose, err = math.RayMul(totalDebt, lm.policy.CloseFactor)
		if err != nil {
			return nil, err
		}
	}
	actualDebt := new(big.Int).Set(debtToCover)
	if actualDebt.Cmp(maxClose) > 0 {
		actualDebt.Set(maxClose)
	}

	debtPrice, err := lm.oracle.AssetPrice(debtAsset)
	if err != nil {
		return nil, opError("liquidate", debtAsset, borrower, actualDebt, err)
	}
	collateralPrice, err := lm.oracle.AssetPrice(collateralAsset)
	if err != nil {
		return nil, opError("liquidate", collateralAsset, borrower, actualDebt, err)
	}

	borrowerCollateral, err := collateralReserve.SupplyBalanceOf(borrower)
	if err != nil {
		return nil, err
	}
	if borrowerCollateral.Sign() == 0 {
		return nil, opError("liquidate", collateralAsset, borrower, actualDebt, ErrInsufficientCollateral)
	}

	bonusFactor := new(big.Int).Add(math.Ray, collateralReserve.Config().LiquidationBonus)
	seize, err := collateralEquivalent(actualDebt, debtPrice, collateralPrice, bonusFactor)
	if err != nil {
		return nil, err
	}

	// Cap at the borrower's full collateral and size the covered debt back
	// down from the seized amount.
	capped := false
	if seize.Cmp(borrowerCollateral) > 0 {
		capped = true
		seize = borrowerCollateral
		actualDebt, err = debtEquivalent(seize, debtPrice, collateralPrice, bonusFactor)
		if err != nil {
			return nil, err
		}
		if actualDebt.Cmp(totalDebt) > 0 {
			actualDebt = totalDebt
		}
	}

	if receiveUnderlying && seize.Cmp(collateralReserve.availableLiquidity) > 0 {
		return nil, opError("liquidate", collateralAsset, borrower, seize, ErrInsufficientLiquidity)
	}

	// Burn covered debt, variable mode first.
	if err := lm.burnDebt(debtReserve, borrower, actualDebt, variableDebt, now); err != nil {
		return nil, err
	}
	debtReserve.availableLiquidity.Add(debtReserve.availableLiquidity, actualDebt)

	// Move the seized collateral.
	if receiveUnderlying {
		if capped {
			seize, err = collateralReserve.supply.BurnAll(borrower, collateralReserve.liquidityIndex)
		} else {
			_, err = collateralReserve.supply.Burn(borrower, seize, collateralReserve.liquidityIndex)
		}
		if err != nil {
			return nil, opError("liquidate", collateralAsset, borrower, seize, err)
		}
		collateralReserve.availableLiquidity.Sub(collateralReserve.availableLiquidity, seize)
	} else {
		if capped {
			seize, err = collateralReserve.supply.TransferAll(borrower, liquidator, collateralReserve.liquidityIndex)
		} else {
			err = collateralReserve.supply.Transfer(borrower, liquidator, seize, collateralReserve.liquidityIndex)
		}
		if err != nil {
			return nil, opError("liquidate", collateralAsset, borrower, seize, err)
		}
	}

	if err := debtReserve.refreshRates(); err != nil {
		return nil, err
	}
	if collateralAsset != debtAsset {
		if err := collateralReserve.refreshRates(); err != nil {
			return nil, err
		}
	}

	return &LiquidationResult{
		DebtCovered:        actualDebt,
		CollateralSeized:   seize,
		HealthFactorBefore: health.HealthFactor,
		Capped:             capped,
	}, nil
}

// burnDebt removes the covered amount from the borrower's debt ledgers,
// exhausting variable debt before touching stable debt.
func (lm *LiquidationManager) burnDebt(r *Reserve, borrower uuid.UUID, amount, variableDebt *big.Int, now int64) error {
	remaining := new(big.Int).Set(amount)

	fromVariable := new(big.Int).Set(remaining)
	if fromVariable.Cmp(variableDebt) > 0 {
		fromVariable.Set(variableDebt)
	}
	if fromVariable.Sign() > 0 {
		var err error
		if fromVariable.Cmp(variableDebt) == 0 {
			_, err = r.variableDebt.BurnAll(borrower, r.variableBorrowIndex)
		} else {
			_, err = r.variableDebt.Burn(borrower, fromVariable, r.variableBorrowIndex)
		}
		if err != nil {
			return opError("liquidate", r.asset, borrower, fromVariable, err)
		}
		remaining.Sub(remaining, fromVariable)
	}

	if remaining.Sign() > 0 {
		if _, err := r.stableDebt.Burn(borrower, remaining, now); err != nil {
			return opError("liquidate", r.asset, borrower, remaining, err)
		}
	}
	return nil
}

// collateralEquivalent converts a debt amount to collateral units and adds
// the liquidation bonus.
func collateralEquivalent(debtAmount, debtPrice, collateralPrice, bonusFactor *big.Int) (*big.Int, error) {
	value, err := math.WadMul(debtAmount, debtPrice)
	if err != nil {
		return nil, err
	}
	inCollateral, err := math.WadDiv(value, collateralPrice)
	if err != nil {
		return nil, err
	}
	return math.RayMul(inCollateral, bonusFactor)
}

// debtEquivalent is the inverse: how much debt a seized collateral amount
// pays off once the bonus is deducted.
func debtEquivalent(collateralAmount, debtPrice, collateralPrice, bonusFactor *big.Int) (*big.Int, error) {
	value, err := math.WadMul(collateralAmount, collateralPrice)
	if err != nil {
		return nil, err
	}
	value, err = math.RayDiv(value, bonusFactor)
	if err != nil {
		return nil, err
	}
	return math.WadDiv(value, debtPrice)
}
