package math_test

import (
	"math/big"
	"testing"

	"LendLedger/internal/math"
)

// ============================================================================
// Test: linear interest factor
// ============================================================================

func TestLinearInterest_ZeroDelta(t *testing.T) {
	rate := math.RayFromFraction(5, 100) // 5% annual
	got, err := math.LinearInterest(rate, 0)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	if got.Cmp(math.Ray) != 0 {
		t.Errorf("zero elapsed time should yield 1.0 ray, got %s", got)
	}
}

func TestLinearInterest_FullYear(t *testing.T) {
	rate := math.RayFromFraction(5, 100)
	got, err := math.LinearInterest(rate, math.SecondsPerYear)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	want := new(big.Int).Add(math.Ray, rate) // exactly 1.05
	if got.Cmp(want) != 0 {
		t.Errorf("one year at 5%%: got %s, want %s", got, want)
	}
}

func TestLinearInterest_NegativeDelta(t *testing.T) {
	_, err := math.LinearInterest(math.Ray, -1)
	if err == nil {
		t.Error("negative elapsed time should be rejected")
	}
}

// ============================================================================
// Test: compounded interest factor
// ============================================================================

func TestCompoundedInterest_ZeroDelta(t *testing.T) {
	rate := math.RayFromFraction(5, 100)
	got, err := math.CompoundedInterest(rate, 0)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}
	if got.Cmp(math.Ray) != 0 {
		t.Errorf("zero elapsed time should yield 1.0 ray, got %s", got)
	}
}

func TestCompoundedInterest_ZeroRate(t *testing.T) {
	got, err := math.CompoundedInterest(big.NewInt(0), math.SecondsPerYear)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}
	if got.Cmp(math.Ray) != 0 {
		t.Errorf("zero rate should yield 1.0 ray, got %s", got)
	}
}

func TestCompoundedInterest_ExceedsLinearOverAYear(t *testing.T) {
	rate := math.RayFromFraction(10, 100) // 10% annual
	compounded, err := math.CompoundedInterest(rate, math.SecondsPerYear)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}
	linear, err := math.LinearInterest(rate, math.SecondsPerYear)
	if err != nil {
		t.Fatalf("LinearInterest failed: %v", err)
	}
	if compounded.Cmp(linear) <= 0 {
		t.Errorf("per-second compounding should beat simple interest: %s <= %s", compounded, linear)
	}
}

func TestCompoundedInterest_TracksTruePower(t *testing.T) {
	// The three-term expansion of (1 + r/Y)^t should agree with the exact
	// power computation to within a relative error of about 1e-6 for
	// realistic annual rates.
	rate := math.RayFromFraction(5, 100)
	approx, err := math.CompoundedInterest(rate, math.SecondsPerYear)
	if err != nil {
		t.Fatalf("CompoundedInterest failed: %v", err)
	}

	ratePerSecond := new(big.Int).Quo(rate, big.NewInt(math.SecondsPerYear))
	base := new(big.Int).Add(math.Ray, ratePerSecond)
	exact, err := math.RayPow(base, math.SecondsPerYear)
	if err != nil {
		t.Fatalf("RayPow failed: %v", err)
	}

	diff := new(big.Int).Sub(exact, approx)
	diff.Abs(diff)
	tolerance := new(big.Int).Quo(math.Ray, big.NewInt(1_000_000))
	if diff.Cmp(tolerance) > 0 {
		t.Errorf("binomial approximation drift %s exceeds tolerance %s (approx %s, exact %s)",
			diff, tolerance, approx, exact)
	}
}

func TestCompoundedInterest_MonotoneInTime(t *testing.T) {
	rate := math.RayFromFraction(20, 100)
	prev := new(big.Int).Set(math.Ray)
	for _, dt := range []int64{1, 2, 10, 3600, 86_400, 2_592_000, math.SecondsPerYear} {
		factor, err := math.CompoundedInterest(rate, dt)
		if err != nil {
			t.Fatalf("CompoundedInterest(%d) failed: %v", dt, err)
		}
		if factor.Cmp(prev) < 0 {
			t.Errorf("growth factor decreased at dt=%d: %s < %s", dt, factor, prev)
		}
		prev = factor
	}
}
