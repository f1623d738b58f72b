package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/math"
)

// FlashLoanReceiver is the callback invoked mid-operation with the borrowed
// funds. It returns, per asset, the amount it hands back to the pool; the
// engine re-validates those amounts after the callback rather than trusting
// any pre-callback snapshot, since the receiver may itself have operated on
// the same reserves.
type FlashLoanReceiver interface {
	Execute(assets []string, amounts, premiums []*big.Int, initiator uuid.UUID, params []byte) ([]*big.Int, error)
}

// FlashLoanManager implements atomic borrow/execute/repay-with-premium
// bookkeeping. The premium is folded into available liquidity without
// minting scaled units or bumping the liquidity index; the pool simply gets
// richer, which feeds through to suppliers at the next accrual.
type FlashLoanManager struct {
	reserves *ReserveManager
	feeRate  *big.Int // Ray
}

func NewFlashLoanManager(reserves *ReserveManager, feeRate *big.Int) (*FlashLoanManager, error) {
	if feeRate.Sign() < 0 || feeRate.Cmp(math.Ray) >= 0 {
		return nil, fmt.Errorf("flash loan fee rate must be in [0, 1) ray, got %s", feeRate)
	}
	return &FlashLoanManager{
		reserves: reserves,
		feeRate:  new(big.Int).Set(feeRate),
	}, nil
}

func (fm *FlashLoanManager) FeeRate() *big.Int {
	return new(big.Int).Set(fm.feeRate)
}

// FlashLoan lends the requested amounts, invokes the receiver synchronously,
// and requires every asset to come back with amount + premium. Any failure
// restores the whole pool to its pre-call state, including reserves the
// callback touched that were not flash-borrowed.
func (fm *FlashLoanManager) FlashLoan(
	receiver FlashLoanReceiver,
	initiator uuid.UUID,
	assets []string,
	amounts []*big.Int,
	params []byte,
	now int64,
) ([]*big.Int, error) {
	if len(assets) == 0 || len(assets) != len(amounts) {
		return nil, fmt.Errorf("flash loan needs matching assets and amounts, got %d/%d", len(assets), len(amounts))
	}
	seen := make(map[string]bool, len(assets))
	for _, asset := range assets {
		if seen[asset] {
			return nil, fmt.Errorf("duplicate flash loan asset %s", asset)
		}
		seen[asset] = true
	}

	// The snapshot covers every reserve, not just the flash-borrowed ones:
	// the reentrant callback may mutate any reserve, and a failed flash loan
	// must leave none of it committed.
	undo := fm.reserves.Snapshot()

	involved := make([]*Reserve, len(assets))
	premiums := make([]*big.Int, len(assets))

	for i, asset := range assets {
		r, err := fm.reserves.Reserve(asset)
		if err != nil {
			return nil, fm.abort(undo, err)
		}
		if !r.Config().Active {
			return nil, fm.abort(undo, opError("flash_loan", asset, initiator, amounts[i], ErrReserveInactive))
		}
		involved[i] = r

		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return nil, fm.abort(undo, opError("flash_loan", asset, initiator, amounts[i], ErrInvalidAmount))
		}
		if err := r.rollState(now); err != nil {
			return nil, fm.abort(undo, err)
		}
		if amounts[i].Cmp(r.availableLiquidity) > 0 {
			return nil, fm.abort(undo, opError("flash_loan", asset, initiator, amounts[i], ErrInsufficientLiquidity))
		}
		r.availableLiquidity.Sub(r.availableLiquidity, amounts[i])

		premiums[i], err = math.RayMul(amounts[i], fm.feeRate)
		if err != nil {
			return nil, fm.abort(undo, err)
		}
	}

	// The only reentrant boundary in the engine: the receiver may call back
	// into any operation while it holds the funds.
	repaid, err := receiver.Execute(assets, amounts, premiums, initiator, params)
	if err != nil {
		return nil, fm.abort(undo, fmt.Errorf("flash loan callback: %w", err))
	}
	if len(repaid) != len(assets) {
		return nil, fm.abort(undo, opError("flash_loan", assets[0], initiator, nil, ErrInvalidFlashLoanRepayment))
	}

	// Post-callback validation against the current, possibly changed state.
	for i := range assets {
		owed := new(big.Int).Add(amounts[i], premiums[i])
		if repaid[i] == nil || repaid[i].Cmp(owed) < 0 {
			return nil, fm.abort(undo, opError("flash_loan", assets[i], initiator, owed, ErrInvalidFlashLoanRepayment))
		}
	}

	for i, r := range involved {
		r.availableLiquidity.Add(r.availableLiquidity, repaid[i])
		if err := r.refreshRates(); err != nil {
			return nil, fm.abort(undo, err)
		}
	}
	return premiums, nil
}

// abort rolls every reserve back to the pre-call snapshot and passes the
// cause through. A restore failure supersedes it, since that means the pool
// state itself could not be recovered.
func (fm *FlashLoanManager) abort(undo *ManagerSnapshot, cause error) error {
	if err := fm.reserves.RestoreSnapshot(undo); err != nil {
		return fmt.Errorf("flash loan rollback: %w", err)
	}
	return cause
}
