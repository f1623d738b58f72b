package math

import "math/big"

// SecondsPerYear is the accrual year length (365 days).
const SecondsPerYear = 365 * 24 * 3600

var (
	secondsPerYear = big.NewInt(SecondsPerYear)
	two            = big.NewInt(2)
	six            = big.NewInt(6)
)

// LinearInterest returns the simple-interest growth factor
// 1 + rate*Δt/year at Ray scale. Supply-side indexes grow linearly between
// accrual points; the periodic rate refresh supplies the compounding.
func LinearInterest(annualRate *big.Int, deltaSeconds int64) (*big.Int, error) {
	if deltaSeconds < 0 {
		return nil, ErrOverflow
	}
	if annualRate.Sign() < 0 {
		return nil, ErrOverflow
	}
	r := new(big.Int).Mul(annualRate, big.NewInt(deltaSeconds))
	r.Quo(r, secondsPerYear)
	r.Add(r, Ray)
	return checkRange(r)
}

// CompoundedInterest approximates the compound growth factor
// (1 + rate/year)^Δt at Ray scale with a three-term binomial expansion:
//
//	1 + r*t + r^2*t*(t-1)/2 + r^3*t*(t-1)*(t-2)/6
//
// where r is the per-second rate. The truncation error is negligible for
// realistic rates and the exact term-by-term rounding is part of the
// numeric contract of the debt indexes, so the expansion must not be
// replaced with a true power computation.
func CompoundedInterest(annualRate *big.Int, deltaSeconds int64) (*big.Int, error) {
	if deltaSeconds < 0 || annualRate.Sign() < 0 {
		return nil, ErrOverflow
	}
	if deltaSeconds == 0 {
		return new(big.Int).Set(Ray), nil
	}

	exp := big.NewInt(deltaSeconds)
	expMinusOne := big.NewInt(deltaSeconds - 1)
	expMinusTwo := big.NewInt(0)
	if deltaSeconds > 2 {
		expMinusTwo = big.NewInt(deltaSeconds - 2)
	}

	ratePerSecond := new(big.Int).Quo(annualRate, secondsPerYear)

	basePowerTwo, err := RayMul(ratePerSecond, ratePerSecond)
	if err != nil {
		return nil, err
	}
	basePowerThree, err := RayMul(basePowerTwo, ratePerSecond)
	if err != nil {
		return nil, err
	}

	firstTerm := new(big.Int).Mul(exp, ratePerSecond)

	secondTerm := new(big.Int).Mul(exp, expMinusOne)
	secondTerm.Mul(secondTerm, basePowerTwo)
	secondTerm.Quo(secondTerm, two)

	thirdTerm := new(big.Int).Mul(exp, expMinusOne)
	thirdTerm.Mul(thirdTerm, expMinusTwo)
	thirdTerm.Mul(thirdTerm, basePowerThree)
	thirdTerm.Quo(thirdTerm, six)

	result := new(big.Int).Add(Ray, firstTerm)
	result.Add(result, secondTerm)
	result.Add(result, thirdTerm)
	return checkRange(result)
}
