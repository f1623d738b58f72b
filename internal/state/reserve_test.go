package state_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/ledger"
	"LendLedger/internal/math"
	"LendLedger/internal/rates"
	"LendLedger/internal/state"
)

func testConfig(asset string) state.ReserveConfig {
	return state.ReserveConfig{
		Asset:                asset,
		Decimals:             18,
		Active:               true,
		Frozen:               false,
		ReserveFactor:        big.NewInt(0),
		LiquidationThreshold: math.RayFromFraction(80, 100),
		LiquidationBonus:     math.RayFromFraction(5, 100),
		Curve: rates.CurveParams{
			OptimalUtilization: math.RayFromFraction(80, 100),
			BaseVariableRate:   math.RayFromFraction(1, 100),
			VariableSlope1:     math.RayFromFraction(4, 100),
			VariableSlope2:     math.RayFromFraction(75, 100),
			StableSlope1:       math.RayFromFraction(2, 100),
			StableSlope2:       math.RayFromFraction(60, 100),
		},
	}
}

func newTestReserve(t *testing.T, asset string) *state.Reserve {
	t.Helper()
	r, err := state.NewReserve(testConfig(asset), 0)
	if err != nil {
		t.Fatalf("NewReserve failed: %v", err)
	}
	return r
}

// ============================================================================
// Test: deposit / withdraw
// ============================================================================

func TestReserve_DepositThenWithdrawAll(t *testing.T) {
	r := newTestReserve(t, "DAI")
	user := uuid.New()

	if err := r.Deposit(user, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	// Immediate withdraw-all at index 1.0 returns exactly the deposit and
	// zeroes the scaled balance.
	withdrawn, err := r.Withdraw(user, nil, 0)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if withdrawn.Cmp(math.NewWad(1000)) != 0 {
		t.Errorf("withdrawn: got %s, want exactly 1000 wad", withdrawn)
	}
	if r.ScaledSupplyOf(user).Sign() != 0 {
		t.Errorf("scaled balance should be 0 after withdraw-all")
	}
	if r.AvailableLiquidity().Sign() != 0 {
		t.Errorf("available liquidity should be 0, got %s", r.AvailableLiquidity())
	}
}

func TestReserve_WithdrawBeyondBalance(t *testing.T) {
	r := newTestReserve(t, "DAI")
	user := uuid.New()

	if err := r.Deposit(user, math.NewWad(100), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	_, err := r.Withdraw(user, math.NewWad(101), 0)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("want ErrInsufficientBalance, got %v", err)
	}
}

func TestReserve_WithdrawBlockedByLiquidity(t *testing.T) {
	r := newTestReserve(t, "DAI")
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(100), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(60), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	// Supplier's balance is intact, but the cash is out the door.
	_, err := r.Withdraw(supplier, math.NewWad(100), 0)
	if !errors.Is(err, state.ErrInsufficientLiquidity) {
		t.Errorf("want ErrInsufficientLiquidity, got %v", err)
	}
}

func TestReserve_OpErrorCarriesContext(t *testing.T) {
	r := newTestReserve(t, "DAI")
	user := uuid.New()

	_, err := r.Withdraw(user, math.NewWad(5), 0)
	var opErr *state.OpError
	if !errors.As(err, &opErr) {
		t.Fatalf("error should be an OpError, got %T", err)
	}
	if opErr.Reserve != "DAI" {
		t.Errorf("reserve context: got %q, want DAI", opErr.Reserve)
	}
	if opErr.User != user {
		t.Errorf("user context: got %s, want %s", opErr.User, user)
	}
	if opErr.Amount.Cmp(math.NewWad(5)) != 0 {
		t.Errorf("amount context: got %s, want 5 wad", opErr.Amount)
	}
}

// ============================================================================
// Test: policy gating
// ============================================================================

func TestReserve_FrozenBlocksNewExposure(t *testing.T) {
	cfg := testConfig("DAI")
	r, err := state.NewReserve(cfg, 0)
	if err != nil {
		t.Fatalf("NewReserve failed: %v", err)
	}
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(100), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	cfg.Frozen = true
	if err := r.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	if err := r.Deposit(supplier, math.NewWad(1), 1); !errors.Is(err, state.ErrReserveFrozen) {
		t.Errorf("deposit on frozen reserve: want ErrReserveFrozen, got %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(1), state.RateModeVariable, 1); !errors.Is(err, state.ErrReserveFrozen) {
		t.Errorf("borrow on frozen reserve: want ErrReserveFrozen, got %v", err)
	}

	// Exits stay open.
	if _, err := r.Repay(borrower, math.NewWad(50), state.RateModeVariable, 1); err != nil {
		t.Errorf("repay on frozen reserve should succeed: %v", err)
	}
	if _, err := r.Withdraw(supplier, math.NewWad(10), 1); err != nil {
		t.Errorf("withdraw on frozen reserve should succeed: %v", err)
	}
}

func TestReserve_InactiveBlocksEverything(t *testing.T) {
	cfg := testConfig("DAI")
	r, err := state.NewReserve(cfg, 0)
	if err != nil {
		t.Fatalf("NewReserve failed: %v", err)
	}
	user := uuid.New()
	if err := r.Deposit(user, math.NewWad(100), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}

	cfg.Active = false
	if err := r.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	if err := r.Deposit(user, math.NewWad(1), 1); !errors.Is(err, state.ErrReserveInactive) {
		t.Errorf("want ErrReserveInactive, got %v", err)
	}
	if _, err := r.Withdraw(user, math.NewWad(1), 1); !errors.Is(err, state.ErrReserveInactive) {
		t.Errorf("want ErrReserveInactive, got %v", err)
	}
	if err := r.Borrow(user, math.NewWad(1), state.RateModeVariable, 1); !errors.Is(err, state.ErrReserveInactive) {
		t.Errorf("want ErrReserveInactive, got %v", err)
	}
	if _, err := r.Repay(user, math.NewWad(1), state.RateModeVariable, 1); !errors.Is(err, state.ErrReserveInactive) {
		t.Errorf("want ErrReserveInactive, got %v", err)
	}
}

// ============================================================================
// Test: borrow / repay
// ============================================================================

func TestReserve_BorrowRequiresLiquidity(t *testing.T) {
	r := newTestReserve(t, "DAI")
	user := uuid.New()

	if err := r.Deposit(user, math.NewWad(100), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	err := r.Borrow(user, math.NewWad(101), state.RateModeVariable, 0)
	if !errors.Is(err, state.ErrInsufficientLiquidity) {
		t.Errorf("want ErrInsufficientLiquidity, got %v", err)
	}
}

func TestReserve_RepayCapsAtOutstandingDebt(t *testing.T) {
	r := newTestReserve(t, "DAI")
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(100), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	// Overpay: only the outstanding debt is burned, the rest is refunded by
	// the caller.
	paid, err := r.Repay(borrower, math.NewWad(150), state.RateModeVariable, 0)
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	if paid.Cmp(math.NewWad(100)) != 0 {
		t.Errorf("paid: got %s, want 100 wad", paid)
	}

	debt, err := r.VariableDebtOf(borrower)
	if err != nil {
		t.Fatalf("VariableDebtOf failed: %v", err)
	}
	if debt.Sign() != 0 {
		t.Errorf("debt should be fully cleared, got %s", debt)
	}
}

func TestReserve_RepayWithNoDebt(t *testing.T) {
	r := newTestReserve(t, "DAI")
	user := uuid.New()

	_, err := r.Repay(user, math.NewWad(10), state.RateModeVariable, 0)
	if !errors.Is(err, ledger.ErrInsufficientDebt) {
		t.Errorf("want ErrInsufficientDebt, got %v", err)
	}
}

func TestReserve_StableBorrowLocksCurrentRate(t *testing.T) {
	r := newTestReserve(t, "DAI")
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(200), state.RateModeStable, 0); err != nil {
		t.Fatalf("stable Borrow failed: %v", err)
	}

	if r.TotalStableDebt().Cmp(math.NewWad(200)) != 0 {
		t.Errorf("total stable debt: got %s, want 200 wad", r.TotalStableDebt())
	}
	if r.AverageStableRate().Sign() < 0 {
		t.Errorf("average stable rate should be non-negative")
	}

	debt, err := r.StableDebtOf(borrower, 0)
	if err != nil {
		t.Fatalf("StableDebtOf failed: %v", err)
	}
	if debt.Cmp(math.NewWad(200)) != 0 {
		t.Errorf("stable debt: got %s, want 200 wad", debt)
	}
}

// ============================================================================
// Test: accrual
// ============================================================================

func TestReserve_AccrueRejectsBackwardTimestamp(t *testing.T) {
	r := newTestReserve(t, "DAI")

	if err := r.Accrue(100); err != nil {
		t.Fatalf("Accrue failed: %v", err)
	}
	err := r.Accrue(50)
	if !errors.Is(err, state.ErrInvalidTimestamp) {
		t.Errorf("want ErrInvalidTimestamp, got %v", err)
	}
}

func TestReserve_IndexesMonotone(t *testing.T) {
	r := newTestReserve(t, "DAI")
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(500), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	prevLiquidity := r.LiquidityIndex()
	prevVariable := r.VariableBorrowIndex()
	for _, now := range []int64{1, 3600, 3600, 86_400, 2_592_000, 31_536_000} {
		if err := r.Accrue(now); err != nil {
			t.Fatalf("Accrue(%d) failed: %v", now, err)
		}
		if r.LiquidityIndex().Cmp(prevLiquidity) < 0 {
			t.Errorf("liquidity index decreased at t=%d", now)
		}
		if r.VariableBorrowIndex().Cmp(prevVariable) < 0 {
			t.Errorf("variable borrow index decreased at t=%d", now)
		}
		prevLiquidity = r.LiquidityIndex()
		prevVariable = r.VariableBorrowIndex()
	}

	if prevLiquidity.Cmp(math.Ray) <= 0 {
		t.Error("liquidity index should have grown with utilization above zero")
	}
	if prevVariable.Cmp(math.Ray) <= 0 {
		t.Error("variable borrow index should have grown")
	}
}

func TestReserve_InterestRaisesBalances(t *testing.T) {
	r := newTestReserve(t, "DAI")
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(500), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := r.Accrue(math.SecondsPerYear); err != nil {
		t.Fatalf("Accrue failed: %v", err)
	}

	supplyBalance, err := r.SupplyBalanceOf(supplier)
	if err != nil {
		t.Fatalf("SupplyBalanceOf failed: %v", err)
	}
	if supplyBalance.Cmp(math.NewWad(1000)) <= 0 {
		t.Errorf("supplier balance should have grown past 1000, got %s", supplyBalance)
	}

	debt, err := r.VariableDebtOf(borrower)
	if err != nil {
		t.Fatalf("VariableDebtOf failed: %v", err)
	}
	if debt.Cmp(math.NewWad(500)) <= 0 {
		t.Errorf("borrower debt should have grown past 500, got %s", debt)
	}
	// Borrowers pay at least what suppliers earn.
	supplierInterest := new(big.Int).Sub(supplyBalance, math.NewWad(1000))
	borrowerInterest := new(big.Int).Sub(debt, math.NewWad(500))
	if borrowerInterest.Cmp(supplierInterest) < 0 {
		t.Errorf("debt interest %s should cover supply interest %s", borrowerInterest, supplierInterest)
	}
}

func TestReserve_TreasuryTakesReserveFactorShare(t *testing.T) {
	cfg := testConfig("DAI")
	cfg.ReserveFactor = math.RayFromFraction(20, 100)
	r, err := state.NewReserve(cfg, 0)
	if err != nil {
		t.Fatalf("NewReserve failed: %v", err)
	}
	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(500), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	if r.TreasuryBalance().Sign() != 0 {
		t.Fatalf("treasury should start empty, got %s", r.TreasuryBalance())
	}
	if err := r.Accrue(math.SecondsPerYear); err != nil {
		t.Fatalf("Accrue failed: %v", err)
	}
	if r.TreasuryBalance().Sign() <= 0 {
		t.Errorf("treasury should have accrued a share of interest, got %s", r.TreasuryBalance())
	}
}

// ============================================================================
// Test: conservation
// ============================================================================

func TestReserveManager_ConservationAfterOperations(t *testing.T) {
	rm := state.NewReserveManager()
	if _, err := rm.AddReserve(testConfig("DAI"), 0); err != nil {
		t.Fatalf("AddReserve failed: %v", err)
	}
	r, _ := rm.Reserve("DAI")

	supplier := uuid.New()
	borrower := uuid.New()

	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(300), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(100), state.RateModeStable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if _, err := r.Repay(borrower, math.NewWad(50), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}

	drift, err := rm.Conservation("DAI")
	if err != nil {
		t.Fatalf("Conservation failed: %v", err)
	}
	drift.Abs(drift)
	if drift.Cmp(big.NewInt(8)) > 0 {
		t.Errorf("conservation drift %s wei exceeds per-operation rounding bound", drift)
	}
}

func TestReserveManager_ConservationDriftBoundedUnderAccrual(t *testing.T) {
	rm := state.NewReserveManager()
	if _, err := rm.AddReserve(testConfig("DAI"), 0); err != nil {
		t.Fatalf("AddReserve failed: %v", err)
	}
	r, _ := rm.Reserve("DAI")

	supplier := uuid.New()
	borrower := uuid.New()
	if err := r.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := r.Borrow(borrower, math.NewWad(500), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	// Hourly accruals for a day. The linear supply side lags the compounded
	// debt side by a second-order term, so the pool runs a small surplus:
	// claims never exceed supply by more than dust, and the gap stays tiny.
	for hour := int64(1); hour <= 24; hour++ {
		if err := r.Accrue(hour * 3600); err != nil {
			t.Fatalf("Accrue failed: %v", err)
		}
	}

	drift, err := rm.Conservation("DAI")
	if err != nil {
		t.Fatalf("Conservation failed: %v", err)
	}
	// supply - claims: the deficit (negative drift) must stay under a
	// millionth of a token for this horizon.
	bound := new(big.Int).Quo(math.Wad, big.NewInt(1_000_000))
	abs := new(big.Int).Abs(drift)
	if abs.Cmp(bound) > 0 {
		t.Errorf("conservation drift %s exceeds bound %s", drift, bound)
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestReserveManager_SnapshotRoundTrip(t *testing.T) {
	rm := state.NewReserveManager()
	if _, err := rm.AddReserve(testConfig("DAI"), 0); err != nil {
		t.Fatalf("AddReserve failed: %v", err)
	}
	if _, err := rm.AddReserve(testConfig("WETH"), 0); err != nil {
		t.Fatalf("AddReserve failed: %v", err)
	}

	dai, _ := rm.Reserve("DAI")
	supplier := uuid.New()
	borrower := uuid.New()
	if err := dai.Deposit(supplier, math.NewWad(1000), 0); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := dai.Borrow(borrower, math.NewWad(400), state.RateModeVariable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := dai.Borrow(borrower, math.NewWad(100), state.RateModeStable, 0); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if err := dai.Accrue(86_400); err != nil {
		t.Fatalf("Accrue failed: %v", err)
	}
	if err := rm.SetUsingAsCollateral("WETH", supplier, false); err != nil {
		t.Fatalf("SetUsingAsCollateral failed: %v", err)
	}

	snap := rm.Snapshot()

	restored := state.NewReserveManager()
	if err := restored.RestoreSnapshot(snap); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}

	rdai, err := restored.Reserve("DAI")
	if err != nil {
		t.Fatalf("restored reserve missing: %v", err)
	}
	if rdai.LiquidityIndex().Cmp(dai.LiquidityIndex()) != 0 {
		t.Error("restored liquidity index differs")
	}
	if rdai.VariableBorrowIndex().Cmp(dai.VariableBorrowIndex()) != 0 {
		t.Error("restored variable borrow index differs")
	}
	origBalance, _ := dai.SupplyBalanceOf(supplier)
	restBalance, _ := rdai.SupplyBalanceOf(supplier)
	if origBalance.Cmp(restBalance) != 0 {
		t.Error("restored supply balance differs")
	}
	origDebt, _ := dai.StableDebtOf(borrower, 86_400)
	restDebt, _ := rdai.StableDebtOf(borrower, 86_400)
	if origDebt.Cmp(restDebt) != 0 {
		t.Error("restored stable debt differs")
	}
	if restored.UsingAsCollateral("WETH", supplier) {
		t.Error("collateral opt-out should survive the round trip")
	}
}
