package math

import (
	"errors"
	"math/big"
)

// Fixed-point arithmetic on two scales: Wad (1e18) for token amounts and
// Ray (1e27) for rates and indices. All operations round half up and operate
// on an unsigned 256-bit domain. Overflow and division by zero are reported
// as errors, never panics.

var (
	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

var (
	// Wad is 10^18, the scale for token amounts.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// Ray is 10^27, the scale for rates and indices.
	Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	// WadRayRatio is Ray / Wad = 10^9.
	WadRayRatio = new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)

	halfWad    = new(big.Int).Rsh(Wad, 1)
	halfRay    = new(big.Int).Rsh(Ray, 1)
	halfRatio  = new(big.Int).Rsh(WadRayRatio, 1)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// NewWad returns units scaled to Wad.
func NewWad(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), Wad)
}

// NewRay returns units scaled to Ray.
func NewRay(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), Ray)
}

// RayFromFraction returns num/den at Ray scale, rounding half up.
func RayFromFraction(num, den int64) *big.Int {
	n := new(big.Int).Mul(big.NewInt(num), Ray)
	d := big.NewInt(den)
	n.Add(n, new(big.Int).Rsh(d, 1))
	return n.Quo(n, d)
}

func checkRange(v *big.Int) (*big.Int, error) {
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, ErrOverflow
	}
	return v, nil
}

// mulScaled computes round_half_up(a*b / scale) in a wide intermediate.
func mulScaled(a, b, scale, half *big.Int) (*big.Int, error) {
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrOverflow
	}
	r := new(big.Int).Mul(a, b)
	r.Add(r, half)
	r.Quo(r, scale)
	return checkRange(r)
}

// divScaled computes round_half_up(a*scale / b).
func divScaled(a, b, scale *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrOverflow
	}
	r := new(big.Int).Mul(a, scale)
	r.Add(r, new(big.Int).Rsh(b, 1))
	r.Quo(r, b)
	return checkRange(r)
}

// WadMul multiplies two Wad values, rounding half up.
func WadMul(a, b *big.Int) (*big.Int, error) {
	return mulScaled(a, b, Wad, halfWad)
}

// WadDiv divides two Wad values, rounding half up.
func WadDiv(a, b *big.Int) (*big.Int, error) {
	return divScaled(a, b, Wad)
}

// RayMul multiplies two Ray values, rounding half up.
func RayMul(a, b *big.Int) (*big.Int, error) {
	return mulScaled(a, b, Ray, halfRay)
}

// RayDiv divides two Ray values, rounding half up.
func RayDiv(a, b *big.Int) (*big.Int, error) {
	return divScaled(a, b, Ray)
}

// RayPow raises a Ray-scale base to a non-negative integer exponent by
// squaring. Exponent 0 yields 1.0 Ray.
func RayPow(base *big.Int, exp uint64) (*big.Int, error) {
	result := new(big.Int).Set(Ray)
	b := new(big.Int).Set(base)
	for exp > 0 {
		var err error
		if exp&1 == 1 {
			result, err = RayMul(result, b)
			if err != nil {
				return nil, err
			}
		}
		exp >>= 1
		if exp > 0 {
			b, err = RayMul(b, b)
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// WadToRay converts a Wad value to Ray scale. The conversion is exact; only
// values near the top of the 256-bit range can overflow.
func WadToRay(a *big.Int) (*big.Int, error) {
	if a.Sign() < 0 {
		return nil, ErrOverflow
	}
	return checkRange(new(big.Int).Mul(a, WadRayRatio))
}

// RayToWad converts a Ray value to Wad scale, rounding half up at the
// boundary.
func RayToWad(a *big.Int) *big.Int {
	r := new(big.Int).Add(a, halfRatio)
	return r.Quo(r, WadRayRatio)
}
