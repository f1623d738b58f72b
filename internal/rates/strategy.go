package rates

import (
	"fmt"
	"math/big"

	"LendLedger/internal/math"
)

// CurveParams are the per-reserve interest curve parameters, all at Ray
// scale. The curve is kinked at OptimalUtilization: below it rates climb
// along slope 1, above it the steeper slope 2 takes over.
type CurveParams struct {
	OptimalUtilization *big.Int
	BaseVariableRate   *big.Int
	VariableSlope1     *big.Int
	VariableSlope2     *big.Int
	StableSlope1       *big.Int
	StableSlope2       *big.Int
}

// RateInput is the reserve state the curve is evaluated against.
// Amounts are Wad, rates are Ray.
type RateInput struct {
	AvailableLiquidity *big.Int
	TotalVariableDebt  *big.Int
	TotalStableDebt    *big.Int
	AverageStableRate  *big.Int
	ReserveFactor      *big.Int
}

// Rates is the curve output. All values are Ray.
type Rates struct {
	Utilization        *big.Int
	LiquidityRate      *big.Int
	VariableBorrowRate *big.Int
	StableBorrowRate   *big.Int
}

// Strategy evaluates the kinked rate curve. It is a pure function of its
// input and holds no mutable state.
type Strategy struct {
	params CurveParams
}

func NewStrategy(params CurveParams) (*Strategy, error) {
	if params.OptimalUtilization.Sign() <= 0 || params.OptimalUtilization.Cmp(math.Ray) >= 0 {
		return nil, fmt.Errorf("optimal utilization must be in (0, 1) ray, got %s", params.OptimalUtilization)
	}
	return &Strategy{params: params}, nil
}

func (s *Strategy) Params() CurveParams {
	return s.params
}

// CalculateRates derives the liquidity, variable borrow, and stable borrow
// rates from the reserve's current totals. With zero debt the utilization is
// 0 and the borrow rates sit at their floors (base rate for variable, the
// current average for stable).
func (s *Strategy) CalculateRates(in RateInput) (Rates, error) {
	totalDebt := new(big.Int).Add(in.TotalVariableDebt, in.TotalStableDebt)

	utilization := big.NewInt(0)
	if totalDebt.Sign() > 0 {
		var err error
		utilization, err = math.RayDiv(totalDebt, new(big.Int).Add(in.AvailableLiquidity, totalDebt))
		if err != nil {
			return Rates{}, err
		}
	}

	variableRate, err := s.kinkedRate(s.params.BaseVariableRate, s.params.VariableSlope1, s.params.VariableSlope2, utilization)
	if err != nil {
		return Rates{}, err
	}
	stableRate, err := s.kinkedRate(in.AverageStableRate, s.params.StableSlope1, s.params.StableSlope2, utilization)
	if err != nil {
		return Rates{}, err
	}

	overall, err := overallBorrowRate(in.TotalVariableDebt, variableRate, in.TotalStableDebt, in.AverageStableRate)
	if err != nil {
		return Rates{}, err
	}

	// liquidityRate = overallBorrowRate * U * (1 - reserveFactor)
	liquidityRate, err := math.RayMul(overall, utilization)
	if err != nil {
		return Rates{}, err
	}
	liquidityRate, err = math.RayMul(liquidityRate, new(big.Int).Sub(math.Ray, in.ReserveFactor))
	if err != nil {
		return Rates{}, err
	}

	return Rates{
		Utilization:        utilization,
		LiquidityRate:      liquidityRate,
		VariableBorrowRate: variableRate,
		StableBorrowRate:   stableRate,
	}, nil
}

// kinkedRate evaluates base + slope1*U/optimal below the kink, and
// base + slope1 + slope2*(U-optimal)/(1-optimal) above it.
func (s *Strategy) kinkedRate(base, slope1, slope2, utilization *big.Int) (*big.Int, error) {
	if utilization.Cmp(s.params.OptimalUtilization) <= 0 {
		ratio, err := math.RayDiv(utilization, s.params.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		contribution, err := math.RayMul(slope1, ratio)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Add(base, contribution), nil
	}

	excess := new(big.Int).Sub(utilization, s.params.OptimalUtilization)
	span := new(big.Int).Sub(math.Ray, s.params.OptimalUtilization)
	ratio, err := math.RayDiv(excess, span)
	if err != nil {
		return nil, err
	}
	contribution, err := math.RayMul(slope2, ratio)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Add(base, slope1)
	return rate.Add(rate, contribution), nil
}

// overallBorrowRate is the debt-weighted average of the variable and stable
// borrow rates, 0 when there is no debt.
func overallBorrowRate(variableDebt, variableRate, stableDebt, averageStableRate *big.Int) (*big.Int, error) {
	totalDebt := new(big.Int).Add(variableDebt, stableDebt)
	if totalDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}

	weighted := new(big.Int).Mul(variableDebt, variableRate)
	weighted.Add(weighted, new(big.Int).Mul(stableDebt, averageStableRate))
	weighted.Add(weighted, new(big.Int).Rsh(totalDebt, 1))
	return weighted.Quo(weighted, totalDebt), nil
}
