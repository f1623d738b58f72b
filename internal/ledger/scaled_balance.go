package ledger

import (
	"errors"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/math"
)

var (
	// ErrInsufficientBalance is returned when a burn or transfer exceeds the
	// holder's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientDebt is returned when a debt burn exceeds the
	// borrower's outstanding debt.
	ErrInsufficientDebt = errors.New("insufficient debt")
	// ErrZeroScaledAmount is returned when an amount is too small to
	// represent at the current index.
	ErrZeroScaledAmount = errors.New("amount scales to zero units")
)

// ScaledBalanceLedger tracks index-linked balances. A holder's entry is the
// balance divided by the index at the time it was last touched; multiplying
// by the current index yields the real, interest-inclusive balance. Interest
// therefore materializes on read with no per-holder writes.
//
// The same primitive backs both supply balances and variable-debt balances.
// Balances are Wad, indexes are Ray.
type ScaledBalanceLedger struct {
	balances    map[uuid.UUID]*big.Int
	totalScaled *big.Int
}

func NewScaledBalanceLedger() *ScaledBalanceLedger {
	return &ScaledBalanceLedger{
		balances:    make(map[uuid.UUID]*big.Int),
		totalScaled: big.NewInt(0),
	}
}

// ScaledBalanceOf returns the holder's scaled balance.
func (l *ScaledBalanceLedger) ScaledBalanceOf(user uuid.UUID) *big.Int {
	if b, ok := l.balances[user]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// BalanceOf returns the holder's real balance at the given index.
func (l *ScaledBalanceLedger) BalanceOf(user uuid.UUID, index *big.Int) (*big.Int, error) {
	return math.RayMul(l.ScaledBalanceOf(user), index)
}

// TotalScaled returns the sum of all scaled balances.
func (l *ScaledBalanceLedger) TotalScaled() *big.Int {
	return new(big.Int).Set(l.totalScaled)
}

// TotalSupply returns the real total at the given index.
func (l *ScaledBalanceLedger) TotalSupply(index *big.Int) (*big.Int, error) {
	return math.RayMul(l.totalScaled, index)
}

// Mint credits amount/index scaled units to the holder. Amounts too small to
// represent a single scaled unit at the current index are rejected rather
// than silently dropped.
func (l *ScaledBalanceLedger) Mint(user uuid.UUID, amount, index *big.Int) (*big.Int, error) {
	scaled, err := math.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return nil, ErrZeroScaledAmount
	}

	current, ok := l.balances[user]
	if !ok {
		current = big.NewInt(0)
		l.balances[user] = current
	}
	current.Add(current, scaled)
	l.totalScaled.Add(l.totalScaled, scaled)
	return scaled, nil
}

// Burn debits amount/index scaled units from the holder. Returns the scaled
// units burned.
func (l *ScaledBalanceLedger) Burn(user uuid.UUID, amount, index *big.Int) (*big.Int, error) {
	scaled, err := math.RayDiv(amount, index)
	if err != nil {
		return nil, err
	}
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return nil, ErrZeroScaledAmount
	}

	current, ok := l.balances[user]
	if !ok || current.Cmp(scaled) < 0 {
		return nil, ErrInsufficientBalance
	}
	current.Sub(current, scaled)
	if current.Sign() == 0 {
		delete(l.balances, user)
	}
	l.totalScaled.Sub(l.totalScaled, scaled)
	return scaled, nil
}

// BurnAll removes the holder's entire scaled balance and returns the real
// amount it was worth at the given index. Burning the scaled units first and
// deriving the real amount from them leaves no dust behind.
func (l *ScaledBalanceLedger) BurnAll(user uuid.UUID, index *big.Int) (*big.Int, error) {
	current, ok := l.balances[user]
	if !ok || current.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}
	real, err := math.RayMul(current, index)
	if err != nil {
		return nil, err
	}
	l.totalScaled.Sub(l.totalScaled, current)
	delete(l.balances, user)
	return real, nil
}

// Transfer moves a real amount between holders by converting to scaled units
// at the current index, so both sides observe consistent real balances.
func (l *ScaledBalanceLedger) Transfer(from, to uuid.UUID, amount, index *big.Int) error {
	scaled, err := math.RayDiv(amount, index)
	if err != nil {
		return err
	}
	if scaled.Sign() == 0 && amount.Sign() > 0 {
		return ErrZeroScaledAmount
	}

	source, ok := l.balances[from]
	if !ok || source.Cmp(scaled) < 0 {
		return ErrInsufficientBalance
	}
	source.Sub(source, scaled)
	if source.Sign() == 0 {
		delete(l.balances, from)
	}

	dest, ok := l.balances[to]
	if !ok {
		dest = big.NewInt(0)
		l.balances[to] = dest
	}
	dest.Add(dest, scaled)
	return nil
}

// TransferAll moves the sender's entire scaled balance and returns the real
// amount it was worth at the given index.
func (l *ScaledBalanceLedger) TransferAll(from, to uuid.UUID, index *big.Int) (*big.Int, error) {
	source, ok := l.balances[from]
	if !ok || source.Sign() == 0 {
		return nil, ErrInsufficientBalance
	}
	real, err := math.RayMul(source, index)
	if err != nil {
		return nil, err
	}

	dest, ok := l.balances[to]
	if !ok {
		dest = big.NewInt(0)
		l.balances[to] = dest
	}
	dest.Add(dest, source)
	delete(l.balances, from)
	return real, nil
}

// Holders returns the holders with a non-zero scaled balance.
func (l *ScaledBalanceLedger) Holders() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.balances))
	for u := range l.balances {
		out = append(out, u)
	}
	return out
}

// Snapshot returns a copy of the scaled balances keyed by holder.
func (l *ScaledBalanceLedger) Snapshot() map[uuid.UUID]*big.Int {
	out := make(map[uuid.UUID]*big.Int, len(l.balances))
	for u, b := range l.balances {
		out[u] = new(big.Int).Set(b)
	}
	return out
}

// Restore replaces the ledger contents from a snapshot.
func (l *ScaledBalanceLedger) Restore(balances map[uuid.UUID]*big.Int) {
	l.balances = make(map[uuid.UUID]*big.Int, len(balances))
	l.totalScaled = big.NewInt(0)
	for u, b := range balances {
		if b.Sign() == 0 {
			continue
		}
		l.balances[u] = new(big.Int).Set(b)
		l.totalScaled.Add(l.totalScaled, b)
	}
}
