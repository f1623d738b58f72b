package ledger

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/math"
)

// StableDebtPosition is one borrower's stable-rate debt: a principal that
// compounds lazily at the rate locked in when the position was last touched.
type StableDebtPosition struct {
	Principal  *big.Int // Wad
	Rate       *big.Int // Ray
	LastUpdate int64    // unix seconds
}

// StableDebtLedger tracks stable-rate borrowers and the reserve-level
// aggregate (total principal and principal-weighted average rate). Each
// borrower's debt compounds at their own locked rate; the aggregate
// compounds at the average rate between accruals. The two drift apart by
// bounded rounding dust, which is accepted rather than corrected.
type StableDebtLedger struct {
	positions      map[uuid.UUID]*StableDebtPosition
	totalPrincipal *big.Int // Wad
	averageRate    *big.Int // Ray
}

func NewStableDebtLedger() *StableDebtLedger {
	return &StableDebtLedger{
		positions:      make(map[uuid.UUID]*StableDebtPosition),
		totalPrincipal: big.NewInt(0),
		averageRate:    big.NewInt(0),
	}
}

// TotalPrincipal returns the aggregate principal as of the last compounding.
func (l *StableDebtLedger) TotalPrincipal() *big.Int {
	return new(big.Int).Set(l.totalPrincipal)
}

// AverageRate returns the principal-weighted average rate across borrowers.
func (l *StableDebtLedger) AverageRate() *big.Int {
	return new(big.Int).Set(l.averageRate)
}

// PositionOf returns a copy of the borrower's position, or nil.
func (l *StableDebtLedger) PositionOf(user uuid.UUID) *StableDebtPosition {
	p, ok := l.positions[user]
	if !ok {
		return nil
	}
	return &StableDebtPosition{
		Principal:  new(big.Int).Set(p.Principal),
		Rate:       new(big.Int).Set(p.Rate),
		LastUpdate: p.LastUpdate,
	}
}

// BalanceOf returns the borrower's debt compounded to now at their own rate.
func (l *StableDebtLedger) BalanceOf(user uuid.UUID, now int64) (*big.Int, error) {
	p, ok := l.positions[user]
	if !ok {
		return big.NewInt(0), nil
	}
	return compoundPrincipal(p, now)
}

// CompoundAggregate rolls the total principal forward at the average rate.
// Called once per reserve accrual; individual positions keep compounding
// lazily at their own rates.
func (l *StableDebtLedger) CompoundAggregate(deltaSeconds int64) error {
	if deltaSeconds == 0 || l.totalPrincipal.Sign() == 0 {
		return nil
	}
	factor, err := math.CompoundedInterest(l.averageRate, deltaSeconds)
	if err != nil {
		return err
	}
	total, err := math.RayMul(l.totalPrincipal, factor)
	if err != nil {
		return err
	}
	l.totalPrincipal = total
	return nil
}

// Mint adds stable debt at the current market stable rate. The borrower's
// existing principal is compounded to now first, then their locked rate
// becomes the principal-weighted average of the compounded position at the
// old rate and the new amount at the market rate.
func (l *StableDebtLedger) Mint(user uuid.UUID, amount, marketRate *big.Int, now int64) error {
	p, ok := l.positions[user]
	if !ok {
		p = &StableDebtPosition{
			Principal:  big.NewInt(0),
			Rate:       big.NewInt(0),
			LastUpdate: now,
		}
		l.positions[user] = p
	}

	compounded, err := compoundPrincipal(p, now)
	if err != nil {
		return err
	}
	balanceIncrease := new(big.Int).Sub(compounded, p.Principal)

	// newRate = (compounded*oldRate + amount*marketRate) / (compounded + amount)
	newTotal := new(big.Int).Add(compounded, amount)
	weighted := new(big.Int).Mul(compounded, p.Rate)
	weighted.Add(weighted, new(big.Int).Mul(amount, marketRate))
	weighted.Add(weighted, new(big.Int).Rsh(newTotal, 1))
	newRate := weighted.Quo(weighted, newTotal)

	if err := l.addToAggregate(p.Rate, balanceIncrease, marketRate, amount); err != nil {
		return err
	}

	p.Principal = newTotal
	p.Rate = newRate
	p.LastUpdate = now
	return nil
}

// Burn repays stable debt. The position is compounded to now first; the
// repaid amount must not exceed the compounded debt. A partial repayment
// keeps the borrower's locked rate; a full repayment removes the position so
// its rate no longer contributes to the reserve average. Returns the
// borrower's remaining debt.
func (l *StableDebtLedger) Burn(user uuid.UUID, amount *big.Int, now int64) (*big.Int, error) {
	p, ok := l.positions[user]
	if !ok {
		return nil, ErrInsufficientDebt
	}

	compounded, err := compoundPrincipal(p, now)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(compounded) > 0 {
		return nil, ErrInsufficientDebt
	}
	balanceIncrease := new(big.Int).Sub(compounded, p.Principal)

	if err := l.removeFromAggregate(p.Rate, balanceIncrease, amount); err != nil {
		return nil, err
	}

	remaining := new(big.Int).Sub(compounded, amount)
	if remaining.Sign() == 0 {
		delete(l.positions, user)
		return remaining, nil
	}
	// partial repayment keeps the locked rate
	p.Principal = remaining
	p.LastUpdate = now
	return new(big.Int).Set(remaining), nil
}

// Borrowers returns the users with outstanding stable debt.
func (l *StableDebtLedger) Borrowers() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.positions))
	for u := range l.positions {
		out = append(out, u)
	}
	return out
}

// Snapshot returns a copy of all positions plus the aggregate state.
func (l *StableDebtLedger) Snapshot() (map[uuid.UUID]*StableDebtPosition, *big.Int, *big.Int) {
	out := make(map[uuid.UUID]*StableDebtPosition, len(l.positions))
	for u := range l.positions {
		out[u] = l.PositionOf(u)
	}
	return out, l.TotalPrincipal(), l.AverageRate()
}

// Restore replaces the ledger contents from a snapshot.
func (l *StableDebtLedger) Restore(positions map[uuid.UUID]*StableDebtPosition, totalPrincipal, averageRate *big.Int) {
	l.positions = make(map[uuid.UUID]*StableDebtPosition, len(positions))
	for u, p := range positions {
		l.positions[u] = &StableDebtPosition{
			Principal:  new(big.Int).Set(p.Principal),
			Rate:       new(big.Int).Set(p.Rate),
			LastUpdate: p.LastUpdate,
		}
	}
	l.totalPrincipal = new(big.Int).Set(totalPrincipal)
	l.averageRate = new(big.Int).Set(averageRate)
}

// addToAggregate folds a borrower's realized interest and newly minted debt
// into the incrementally tracked total and weighted average rate.
func (l *StableDebtLedger) addToAggregate(userRate, balanceIncrease, marketRate, amount *big.Int) error {
	previous := l.totalPrincipal
	next := new(big.Int).Add(previous, balanceIncrease)
	next.Add(next, amount)
	if next.Sign() == 0 {
		return nil
	}

	weighted := new(big.Int).Mul(l.averageRate, previous)
	weighted.Add(weighted, new(big.Int).Mul(userRate, balanceIncrease))
	weighted.Add(weighted, new(big.Int).Mul(marketRate, amount))
	weighted.Add(weighted, new(big.Int).Rsh(next, 1))

	l.averageRate = weighted.Quo(weighted, next)
	l.totalPrincipal = next
	return nil
}

// removeFromAggregate reverses a borrower's share of the tracked average.
// Rounding can leave the subtraction slightly negative; it clamps at zero
// rather than underflow.
func (l *StableDebtLedger) removeFromAggregate(userRate, balanceIncrease, amount *big.Int) error {
	previous := new(big.Int).Add(l.totalPrincipal, balanceIncrease)
	next := new(big.Int).Sub(previous, amount)
	if next.Sign() <= 0 {
		l.totalPrincipal = big.NewInt(0)
		l.averageRate = big.NewInt(0)
		return nil
	}

	weighted := new(big.Int).Mul(l.averageRate, l.totalPrincipal)
	weighted.Add(weighted, new(big.Int).Mul(userRate, balanceIncrease))
	weighted.Sub(weighted, new(big.Int).Mul(userRate, amount))
	if weighted.Sign() < 0 {
		weighted.SetInt64(0)
	}
	weighted.Add(weighted, new(big.Int).Rsh(next, 1))

	l.averageRate = weighted.Quo(weighted, next)
	l.totalPrincipal = next
	return nil
}

func compoundPrincipal(p *StableDebtPosition, now int64) (*big.Int, error) {
	if p.Principal.Sign() == 0 {
		return big.NewInt(0), nil
	}
	delta := now - p.LastUpdate
	if delta < 0 {
		return nil, math.ErrOverflow
	}
	factor, err := math.CompoundedInterest(p.Rate, delta)
	if err != nil {
		return nil, err
	}
	return math.RayMul(p.Principal, factor)
}
