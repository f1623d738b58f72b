package math_test

import (
	"errors"
	"math/big"
	"testing"

	"LendLedger/internal/math"
)

// ============================================================================
// Test: Wad/Ray multiply and divide
// ============================================================================

func TestWadMul_Exact(t *testing.T) {
	// 2.0 * 3.0 = 6.0
	got, err := math.WadMul(math.NewWad(2), math.NewWad(3))
	if err != nil {
		t.Fatalf("WadMul failed: %v", err)
	}
	if got.Cmp(math.NewWad(6)) != 0 {
		t.Errorf("got %s, want %s", got, math.NewWad(6))
	}
}

func TestWadMul_RoundsHalfUp(t *testing.T) {
	// 1 wei * 0.5 = 0.5 wei, rounds up to 1
	half := new(big.Int).Rsh(math.Wad, 1)
	got, err := math.WadMul(big.NewInt(1), half)
	if err != nil {
		t.Fatalf("WadMul failed: %v", err)
	}
	if got.Int64() != 1 {
		t.Errorf("0.5 wei should round up to 1, got %s", got)
	}

	// 1 wei * 0.4999... rounds down to 0
	justUnder := new(big.Int).Sub(half, big.NewInt(1))
	got, err = math.WadMul(big.NewInt(1), justUnder)
	if err != nil {
		t.Fatalf("WadMul failed: %v", err)
	}
	if got.Int64() != 0 {
		t.Errorf("just under half should round down to 0, got %s", got)
	}
}

func TestRayMul_Identity(t *testing.T) {
	x := math.NewRay(12345)
	got, err := math.RayMul(x, math.Ray)
	if err != nil {
		t.Fatalf("RayMul failed: %v", err)
	}
	if got.Cmp(x) != 0 {
		t.Errorf("x * 1.0 should equal x: got %s, want %s", got, x)
	}
}

func TestRayDiv_Exact(t *testing.T) {
	got, err := math.RayDiv(math.NewRay(10), math.NewRay(4))
	if err != nil {
		t.Fatalf("RayDiv failed: %v", err)
	}
	want := math.RayFromFraction(10, 4) // 2.5
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDiv_ByZero(t *testing.T) {
	_, err := math.WadDiv(math.NewWad(1), big.NewInt(0))
	if !errors.Is(err, math.ErrDivisionByZero) {
		t.Errorf("want ErrDivisionByZero, got %v", err)
	}

	_, err = math.RayDiv(math.NewRay(1), big.NewInt(0))
	if !errors.Is(err, math.ErrDivisionByZero) {
		t.Errorf("want ErrDivisionByZero, got %v", err)
	}
}

func TestMul_Overflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 250)
	_, err := math.RayMul(huge, huge)
	if !errors.Is(err, math.ErrOverflow) {
		t.Errorf("want ErrOverflow, got %v", err)
	}
}

func TestMul_NegativeInput(t *testing.T) {
	_, err := math.WadMul(big.NewInt(-1), math.NewWad(1))
	if !errors.Is(err, math.ErrOverflow) {
		t.Errorf("negative input should be rejected, got %v", err)
	}
}

// ============================================================================
// Test: RayPow
// ============================================================================

func TestRayPow_ZeroExponent(t *testing.T) {
	got, err := math.RayPow(math.NewRay(7), 0)
	if err != nil {
		t.Fatalf("RayPow failed: %v", err)
	}
	if got.Cmp(math.Ray) != 0 {
		t.Errorf("x^0 should be 1.0 ray, got %s", got)
	}
}

func TestRayPow_SmallPowers(t *testing.T) {
	// 2.0^10 = 1024.0
	got, err := math.RayPow(math.NewRay(2), 10)
	if err != nil {
		t.Fatalf("RayPow failed: %v", err)
	}
	if got.Cmp(math.NewRay(1024)) != 0 {
		t.Errorf("2^10: got %s, want %s", got, math.NewRay(1024))
	}
}

func TestRayPow_MatchesRepeatedMul(t *testing.T) {
	base := math.RayFromFraction(105, 100) // 1.05
	byPow, err := math.RayPow(base, 5)
	if err != nil {
		t.Fatalf("RayPow failed: %v", err)
	}

	byMul := new(big.Int).Set(math.Ray)
	for i := 0; i < 5; i++ {
		byMul, err = math.RayMul(byMul, base)
		if err != nil {
			t.Fatalf("RayMul failed: %v", err)
		}
	}

	// Squaring and repeated multiplication round at different points;
	// results must agree within a few units of the last place.
	diff := new(big.Int).Sub(byPow, byMul)
	diff.Abs(diff)
	if diff.Int64() > 8 {
		t.Errorf("pow and repeated mul diverge: %s vs %s", byPow, byMul)
	}
}

// ============================================================================
// Test: scale conversions
// ============================================================================

func TestWadRayRoundTrip(t *testing.T) {
	x := math.NewWad(123456789)
	ray, err := math.WadToRay(x)
	if err != nil {
		t.Fatalf("WadToRay failed: %v", err)
	}
	back := math.RayToWad(ray)
	if back.Cmp(x) != 0 {
		t.Errorf("wad->ray->wad: got %s, want %s", back, x)
	}
}

func TestRayWadRoundTrip_WithinOneUnit(t *testing.T) {
	// A ray value that is not a multiple of 1e9 loses sub-wad precision,
	// bounded by one wad unit after the round trip.
	x := new(big.Int).Add(math.NewRay(5), big.NewInt(499_999_999))
	wad := math.RayToWad(x)
	back, err := math.WadToRay(wad)
	if err != nil {
		t.Fatalf("WadToRay failed: %v", err)
	}

	diff := new(big.Int).Sub(back, x)
	diff.Abs(diff)
	if diff.Cmp(math.WadRayRatio) > 0 {
		t.Errorf("round trip drift %s exceeds one wad unit", diff)
	}
}
