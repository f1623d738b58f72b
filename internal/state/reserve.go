package state

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/ledger"
	"LendLedger/internal/math"
	"LendLedger/internal/rates"
)

// RateMode selects which debt ledger a borrow or repay touches.
type RateMode int

const (
	RateModeVariable RateMode = 1
	RateModeStable   RateMode = 2
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

// Reserve is the per-asset aggregate: one scaled supply ledger, one scaled
// variable-debt ledger, one stable-debt ledger, and the rate curve. All
// mutating operations first roll the indexes forward to the caller-supplied
// timestamp, then mutate the ledgers, then recompute rates from the new
// utilization. Timestamps must be non-decreasing per reserve.
type Reserve struct {
	asset    string
	config   ReserveConfig
	strategy *rates.Strategy

	liquidityIndex      *big.Int // Ray
	variableBorrowIndex *big.Int // Ray

	currentLiquidityRate      *big.Int // Ray
	currentVariableBorrowRate *big.Int // Ray
	currentStableBorrowRate   *big.Int // Ray

	lastUpdateTimestamp int64

	availableLiquidity *big.Int // Wad
	treasuryBalance    *big.Int // Wad, protocol's accrued interest share

	supply       *ledger.ScaledBalanceLedger
	variableDebt *ledger.ScaledBalanceLedger
	stableDebt   *ledger.StableDebtLedger
}

func NewReserve(cfg ReserveConfig, now int64) (*Reserve, error) {
	if err := ValidateReserveConfig(cfg); err != nil {
		return nil, err
	}
	strategy, err := rates.NewStrategy(cfg.Curve)
	if err != nil {
		return nil, err
	}
	return &Reserve{
		asset:                     cfg.Asset,
		config:                    cfg,
		strategy:                  strategy,
		liquidityIndex:            new(big.Int).Set(math.Ray),
		variableBorrowIndex:       new(big.Int).Set(math.Ray),
		currentLiquidityRate:      big.NewInt(0),
		currentVariableBorrowRate: big.NewInt(0),
		currentStableBorrowRate:   big.NewInt(0),
		lastUpdateTimestamp:       now,
		availableLiquidity:        big.NewInt(0),
		treasuryBalance:           big.NewInt(0),
		supply:                    ledger.NewScaledBalanceLedger(),
		variableDebt:              ledger.NewScaledBalanceLedger(),
		stableDebt:                ledger.NewStableDebtLedger(),
	}, nil
}

// --- accessors ---

func (r *Reserve) Asset() string          { return r.asset }
func (r *Reserve) Config() ReserveConfig  { return r.config }
func (r *Reserve) LastUpdate() int64      { return r.lastUpdateTimestamp }
func (r *Reserve) LiquidityIndex() *big.Int {
	return new(big.Int).Set(r.liquidityIndex)
}
func (r *Reserve) VariableBorrowIndex() *big.Int {
	return new(big.Int).Set(r.variableBorrowIndex)
}
func (r *Reserve) CurrentLiquidityRate() *big.Int {
	return new(big.Int).Set(r.currentLiquidityRate)
}
func (r *Reserve) CurrentVariableBorrowRate() *big.Int {
	return new(big.Int).Set(r.currentVariableBorrowRate)
}
func (r *Reserve) CurrentStableBorrowRate() *big.Int {
	return new(big.Int).Set(r.currentStableBorrowRate)
}
func (r *Reserve) AvailableLiquidity() *big.Int {
	return new(big.Int).Set(r.availableLiquidity)
}
func (r *Reserve) TreasuryBalance() *big.Int {
	return new(big.Int).Set(r.treasuryBalance)
}
func (r *Reserve) AverageStableRate() *big.Int {
	return r.stableDebt.AverageRate()
}

// SupplyBalanceOf returns the user's real supply balance at the current
// liquidity index.
func (r *Reserve) SupplyBalanceOf(user uuid.UUID) (*big.Int, error) {
	return r.supply.BalanceOf(user, r.liquidityIndex)
}

// ScaledSupplyOf returns the user's scaled supply balance.
func (r *Reserve) ScaledSupplyOf(user uuid.UUID) *big.Int {
	return r.supply.ScaledBalanceOf(user)
}

// VariableDebtOf returns the user's real variable debt at the current index.
func (r *Reserve) VariableDebtOf(user uuid.UUID) (*big.Int, error) {
	return r.variableDebt.BalanceOf(user, r.variableBorrowIndex)
}

// StableDebtOf returns the user's stable debt compounded to now.
func (r *Reserve) StableDebtOf(user uuid.UUID, now int64) (*big.Int, error) {
	return r.stableDebt.BalanceOf(user, now)
}

// NormalizedLiquidityIndex projects the liquidity index forward to now
// without mutating the reserve, applying the same linear factor rollState
// would. For now at or before the last accrual the stored index is returned
// unchanged.
func (r *Reserve) NormalizedLiquidityIndex(now int64) (*big.Int, error) {
	delta := now - r.lastUpdateTimestamp
	if delta <= 0 || r.currentLiquidityRate.Sign() == 0 {
		return new(big.Int).Set(r.liquidityIndex), nil
	}
	factor, err := math.LinearInterest(r.currentLiquidityRate, delta)
	if err != nil {
		return nil, err
	}
	return math.RayMul(r.liquidityIndex, factor)
}

// NormalizedVariableBorrowIndex projects the variable-debt index forward to
// now without mutating the reserve, compounding with the same binomial
// approximation rollState uses.
func (r *Reserve) NormalizedVariableBorrowIndex(now int64) (*big.Int, error) {
	delta := now - r.lastUpdateTimestamp
	if delta <= 0 || r.currentVariableBorrowRate.Sign() == 0 {
		return new(big.Int).Set(r.variableBorrowIndex), nil
	}
	factor, err := math.CompoundedInterest(r.currentVariableBorrowRate, delta)
	if err != nil {
		return nil, err
	}
	return math.RayMul(r.variableBorrowIndex, factor)
}

// NormalizedSupplyBalanceOf returns the user's supply balance at the index
// projected to now. Risk reads use this so reserves the current operation
// never accrued still contribute their pending interest.
func (r *Reserve) NormalizedSupplyBalanceOf(user uuid.UUID, now int64) (*big.Int, error) {
	idx, err := r.NormalizedLiquidityIndex(now)
	if err != nil {
		return nil, err
	}
	return r.supply.BalanceOf(user, idx)
}

// NormalizedVariableDebtOf returns the user's variable debt at the index
// projected to now.
func (r *Reserve) NormalizedVariableDebtOf(user uuid.UUID, now int64) (*big.Int, error) {
	idx, err := r.NormalizedVariableBorrowIndex(now)
	if err != nil {
		return nil, err
	}
	return r.variableDebt.BalanceOf(user, idx)
}

// TotalSupply returns the real supply total at the current index.
func (r *Reserve) TotalSupply() (*big.Int, error) {
	return r.supply.TotalSupply(r.liquidityIndex)
}

// TotalVariableDebt returns the real variable-debt total at the current index.
func (r *Reserve) TotalVariableDebt() (*big.Int, error) {
	return r.variableDebt.TotalSupply(r.variableBorrowIndex)
}

// TotalStableDebt returns the stable-debt aggregate as of the last accrual.
func (r *Reserve) TotalStableDebt() *big.Int {
	return r.stableDebt.TotalPrincipal()
}

// SetConfig replaces the reserve parameters. Indexes and ledgers carry over;
// the rate curve takes effect at the next accrual.
func (r *Reserve) SetConfig(cfg ReserveConfig) error {
	if err := ValidateReserveConfig(cfg); err != nil {
		return err
	}
	strategy, err := rates.NewStrategy(cfg.Curve)
	if err != nil {
		return err
	}
	r.config = cfg
	r.strategy = strategy
	return nil
}

// --- accrual ---

// Accrue rolls both indexes and the stable aggregate forward to now and
// recomputes the current rates. Called before every balance-mutating
// operation; also valid standalone.
func (r *Reserve) Accrue(now int64) error {
	if err := r.rollState(now); err != nil {
		return err
	}
	return r.refreshRates()
}

// rollState advances the indexes to now. The liquidity index grows linearly
// between accrual points while the variable-debt index compounds with the
// binomial approximation; the asymmetry is part of the numeric contract and
// must not be unified.
func (r *Reserve) rollState(now int64) error {
	delta := now - r.lastUpdateTimestamp
	if delta < 0 {
		return opError("accrue", r.asset, uuid.Nil, nil, ErrInvalidTimestamp)
	}
	if delta == 0 {
		return nil
	}

	variableBefore, err := r.variableDebt.TotalSupply(r.variableBorrowIndex)
	if err != nil {
		return err
	}
	stableBefore := r.stableDebt.TotalPrincipal()

	if r.currentLiquidityRate.Sign() > 0 {
		factor, err := math.LinearInterest(r.currentLiquidityRate, delta)
		if err != nil {
			return err
		}
		r.liquidityIndex, err = math.RayMul(r.liquidityIndex, factor)
		if err != nil {
			return err
		}
	}

	if r.variableDebt.TotalScaled().Sign() > 0 {
		factor, err := math.CompoundedInterest(r.currentVariableBorrowRate, delta)
		if err != nil {
			return err
		}
		r.variableBorrowIndex, err = math.RayMul(r.variableBorrowIndex, factor)
		if err != nil {
			return err
		}
	}

	if err := r.stableDebt.CompoundAggregate(delta); err != nil {
		return err
	}

	if err := r.accrueToTreasury(variableBefore, stableBefore); err != nil {
		return err
	}

	r.lastUpdateTimestamp = now
	return nil
}

// accrueToTreasury books the reserve-factor share of the interest the debt
// side just accrued. The share is tracked as a claim, not minted into the
// supply ledger.
func (r *Reserve) accrueToTreasury(variableBefore, stableBefore *big.Int) error {
	if r.config.ReserveFactor.Sign() == 0 {
		return nil
	}
	variableAfter, err := r.variableDebt.TotalSupply(r.variableBorrowIndex)
	if err != nil {
		return err
	}
	accrued := new(big.Int).Sub(variableAfter, variableBefore)
	accrued.Add(accrued, r.stableDebt.TotalPrincipal())
	accrued.Sub(accrued, stableBefore)
	if accrued.Sign() <= 0 {
		return nil
	}
	share, err := math.RayMul(accrued, r.config.ReserveFactor)
	if err != nil {
		return err
	}
	r.treasuryBalance.Add(r.treasuryBalance, share)
	return nil
}

// refreshRates recomputes the current rates from the post-mutation totals.
func (r *Reserve) refreshRates() error {
	totalVariable, err := r.variableDebt.TotalSupply(r.variableBorrowIndex)
	if err != nil {
		return err
	}
	out, err := r.strategy.CalculateRates(rates.RateInput{
		AvailableLiquidity: r.availableLiquidity,
		TotalVariableDebt:  totalVariable,
		TotalStableDebt:    r.stableDebt.TotalPrincipal(),
		AverageStableRate:  r.stableDebt.AverageRate(),
		ReserveFactor:      r.config.ReserveFactor,
	})
	if err != nil {
		return err
	}
	r.currentLiquidityRate = out.LiquidityRate
	r.currentVariableBorrowRate = out.VariableBorrowRate
	r.currentStableBorrowRate = out.StableBorrowRate
	return nil
}

// --- operations ---

// Deposit mints amount/liquidityIndex scaled supply units to the user and
// adds the amount to available liquidity.
func (r *Reserve) Deposit(user uuid.UUID, amount *big.Int, now int64) error {
	if amount == nil || amount.Sign() <= 0 {
		return opError("deposit", r.asset, user, amount, ErrInvalidAmount)
	}
	if !r.config.Active {
		return opError("deposit", r.asset, user, amount, ErrReserveInactive)
	}
	if r.config.Frozen {
		return opError("deposit", r.asset, user, amount, ErrReserveFrozen)
	}
	if err := r.rollState(now); err != nil {
		return err
	}

	if _, err := r.supply.Mint(user, amount, r.liquidityIndex); err != nil {
		return opError("deposit", r.asset, user, amount, err)
	}
	r.availableLiquidity.Add(r.availableLiquidity, amount)
	return r.refreshRates()
}

// Withdraw burns scaled supply units and returns the real amount withdrawn.
// A nil amount withdraws everything: the entire scaled balance is burned
// first and the real amount derived from it, so no dust is left behind.
// Withdrawals remain allowed on a frozen reserve.
func (r *Reserve) Withdraw(user uuid.UUID, amount *big.Int, now int64) (*big.Int, error) {
	if !r.config.Active {
		return nil, opError("withdraw", r.asset, user, amount, ErrReserveInactive)
	}
	if err := r.rollState(now); err != nil {
		return nil, err
	}

	balance, err := r.supply.BalanceOf(user, r.liquidityIndex)
	if err != nil {
		return nil, err
	}

	withdrawAll := amount == nil
	requested := amount
	if withdrawAll {
		requested = balance
	}
	if requested.Sign() <= 0 || requested.Cmp(balance) > 0 {
		return nil, opError("withdraw", r.asset, user, requested, ledger.ErrInsufficientBalance)
	}
	if requested.Cmp(r.availableLiquidity) > 0 {
		return nil, opError("withdraw", r.asset, user, requested, ErrInsufficientLiquidity)
	}

	var withdrawn *big.Int
	if withdrawAll {
		withdrawn, err = r.supply.BurnAll(user, r.liquidityIndex)
	} else {
		_, err = r.supply.Burn(user, requested, r.liquidityIndex)
		withdrawn = new(big.Int).Set(requested)
	}
	if err != nil {
		return nil, opError("withdraw", r.asset, user, requested, err)
	}

	r.availableLiquidity.Sub(r.availableLiquidity, withdrawn)
	if err := r.refreshRates(); err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// Borrow draws amount from available liquidity against the chosen rate mode.
// Collateral adequacy is the caller's concern, validated through the health
// factor before the borrow reaches the ledgers; the reserve only maintains
// the accounting.
func (r *Reserve) Borrow(user uuid.UUID, amount *big.Int, mode RateMode, now int64) error {
	if amount == nil || amount.Sign() <= 0 {
		return opError("borrow", r.asset, user, amount, ErrInvalidAmount)
	}
	if !r.config.Active {
		return opError("borrow", r.asset, user, amount, ErrReserveInactive)
	}
	if r.config.Frozen {
		return opError("borrow", r.asset, user, amount, ErrReserveFrozen)
	}
	if err := r.rollState(now); err != nil {
		return err
	}
	if amount.Cmp(r.availableLiquidity) > 0 {
		return opError("borrow", r.asset, user, amount, ErrInsufficientLiquidity)
	}

	switch mode {
	case RateModeVariable:
		if _, err := r.variableDebt.Mint(user, amount, r.variableBorrowIndex); err != nil {
			return opError("borrow", r.asset, user, amount, err)
		}
	case RateModeStable:
		if err := r.stableDebt.Mint(user, amount, r.currentStableBorrowRate, now); err != nil {
			return opError("borrow", r.asset, user, amount, err)
		}
	default:
		return opError("borrow", r.asset, user, amount, ErrInvalidAmount)
	}

	r.availableLiquidity.Sub(r.availableLiquidity, amount)
	return r.refreshRates()
}

// Repay burns at most the user's outstanding debt in the given mode and
// returns the amount actually applied; the caller refunds any excess.
// Repayments remain allowed on a frozen reserve.
func (r *Reserve) Repay(user uuid.UUID, amount *big.Int, mode RateMode, now int64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, opError("repay", r.asset, user, amount, ErrInvalidAmount)
	}
	if !r.config.Active {
		return nil, opError("repay", r.asset, user, amount, ErrReserveInactive)
	}
	if err := r.rollState(now); err != nil {
		return nil, err
	}

	var paid *big.Int
	switch mode {
	case RateModeVariable:
		debt, err := r.variableDebt.BalanceOf(user, r.variableBorrowIndex)
		if err != nil {
			return nil, err
		}
		if debt.Sign() == 0 {
			return nil, opError("repay", r.asset, user, amount, ledger.ErrInsufficientDebt)
		}
		if amount.Cmp(debt) >= 0 {
			paid, err = r.variableDebt.BurnAll(user, r.variableBorrowIndex)
		} else {
			paid = new(big.Int).Set(amount)
			_, err = r.variableDebt.Burn(user, paid, r.variableBorrowIndex)
		}
		if err != nil {
			return nil, opError("repay", r.asset, user, amount, err)
		}
	case RateModeStable:
		debt, err := r.stableDebt.BalanceOf(user, now)
		if err != nil {
			return nil, err
		}
		if debt.Sign() == 0 {
			return nil, opError("repay", r.asset, user, amount, ledger.ErrInsufficientDebt)
		}
		paid = new(big.Int).Set(amount)
		if paid.Cmp(debt) > 0 {
			paid = debt
		}
		if _, err := r.stableDebt.Burn(user, paid, now); err != nil {
			return nil, opError("repay", r.asset, user, amount, err)
		}
	default:
		return nil, opError("repay", r.asset, user, amount, ErrInvalidAmount)
	}

	r.availableLiquidity.Add(r.availableLiquidity, paid)
	if err := r.refreshRates(); err != nil {
		return nil, err
	}
	return paid, nil
}

// --- snapshot ---

// ReserveSnapshot is the full serializable state of a reserve.
type ReserveSnapshot struct {
	Asset               string                                `json:"asset"`
	LiquidityIndex      *big.Int                              `json:"liquidity_index"`
	VariableBorrowIndex *big.Int                              `json:"variable_borrow_index"`
	LiquidityRate       *big.Int                              `json:"liquidity_rate"`
	VariableBorrowRate  *big.Int                              `json:"variable_borrow_rate"`
	StableBorrowRate    *big.Int                              `json:"stable_borrow_rate"`
	LastUpdateTimestamp int64                                 `json:"last_update_timestamp"`
	AvailableLiquidity  *big.Int                              `json:"available_liquidity"`
	TreasuryBalance     *big.Int                              `json:"treasury_balance"`
	SupplyScaled        map[uuid.UUID]*big.Int                `json:"supply_scaled"`
	VariableDebtScaled  map[uuid.UUID]*big.Int                `json:"variable_debt_scaled"`
	StablePositions     map[uuid.UUID]*ledger.StableDebtPosition `json:"stable_positions"`
	StableTotal         *big.Int                              `json:"stable_total"`
	StableAverageRate   *big.Int                              `json:"stable_average_rate"`
}

// Snapshot captures the reserve's complete mutable state.
func (r *Reserve) Snapshot() *ReserveSnapshot {
	stablePositions, stableTotal, stableAvg := r.stableDebt.Snapshot()
	return &ReserveSnapshot{
		Asset:               r.asset,
		LiquidityIndex:      r.LiquidityIndex(),
		VariableBorrowIndex: r.VariableBorrowIndex(),
		LiquidityRate:       r.CurrentLiquidityRate(),
		VariableBorrowRate:  r.CurrentVariableBorrowRate(),
		StableBorrowRate:    r.CurrentStableBorrowRate(),
		LastUpdateTimestamp: r.lastUpdateTimestamp,
		AvailableLiquidity:  r.AvailableLiquidity(),
		TreasuryBalance:     r.TreasuryBalance(),
		SupplyScaled:        r.supply.Snapshot(),
		VariableDebtScaled:  r.variableDebt.Snapshot(),
		StablePositions:     stablePositions,
		StableTotal:         stableTotal,
		StableAverageRate:   stableAvg,
	}
}

// RestoreSnapshot replaces the reserve's mutable state.
func (r *Reserve) RestoreSnapshot(s *ReserveSnapshot) {
	r.liquidityIndex = new(big.Int).Set(s.LiquidityIndex)
	r.variableBorrowIndex = new(big.Int).Set(s.VariableBorrowIndex)
	r.currentLiquidityRate = new(big.Int).Set(s.LiquidityRate)
	r.currentVariableBorrowRate = new(big.Int).Set(s.VariableBorrowRate)
	r.currentStableBorrowRate = new(big.Int).Set(s.StableBorrowRate)
	r.lastUpdateTimestamp = s.LastUpdateTimestamp
	r.availableLiquidity = new(big.Int).Set(s.AvailableLiquidity)
	r.treasuryBalance = new(big.Int).Set(s.TreasuryBalance)
	r.supply.Restore(s.SupplyScaled)
	r.variableDebt.Restore(s.VariableDebtScaled)
	r.stableDebt.Restore(s.StablePositions, s.StableTotal, s.StableAverageRate)
}
