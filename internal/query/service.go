package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables plus the live
// core state for account-level data. Queries are served via gRPC-Gateway
// HTTP/JSON endpoints; all responses include as_of_sequence for freshness
// semantics.
type QueryService struct {
	db   *sql.DB
	core CoreStateReader // May be nil when only projections are served
}

func NewQueryService(db *sql.DB, core CoreStateReader) *QueryService {
	return &QueryService{db: db, core: core}
}

// GetReserveState returns the latest projected state of one reserve.
func (qs *QueryService) GetReserveState(ctx context.Context, asset string) (*ReserveStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT asset, liquidity_index, variable_borrow_index, liquidity_rate,
		       variable_borrow_rate, stable_borrow_rate, available_liquidity,
		       total_stable_debt, treasury_balance, updated_at
		FROM projections.reserve_state
		WHERE asset = $1
	`, asset)

	var r ReserveStateResponse
	r.AsOfSequence = asOfSeq
	if err := row.Scan(
		&r.Asset, &r.LiquidityIndex, &r.VariableBorrowIndex, &r.LiquidityRate,
		&r.VariableBorrowRate, &r.StableBorrowRate, &r.AvailableLiquidity,
		&r.TotalStableDebt, &r.TreasuryBalance, &r.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("unknown reserve: %s", asset)
		}
		return nil, err
	}

	return &r, nil
}

// ListReserves returns the latest projected state of every reserve.
func (qs *QueryService) ListReserves(ctx context.Context) ([]ReserveStateResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, liquidity_index, variable_borrow_index, liquidity_rate,
		       variable_borrow_rate, stable_borrow_rate, available_liquidity,
		       total_stable_debt, treasury_balance, updated_at
		FROM projections.reserve_state
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reserves []ReserveStateResponse
	for rows.Next() {
		var r ReserveStateResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Asset, &r.LiquidityIndex, &r.VariableBorrowIndex, &r.LiquidityRate,
			&r.VariableBorrowRate, &r.StableBorrowRate, &r.AvailableLiquidity,
			&r.TotalStableDebt, &r.TreasuryBalance, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		reserves = append(reserves, r)
	}

	return reserves, rows.Err()
}

// GetRateHistory returns a reserve's rate series, newest first, with
// cursor-based pagination on sequence.
func (qs *QueryService) GetRateHistory(
	ctx context.Context,
	asset string,
	limit int,
	afterSequence *int64,
) ([]RateHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate, timestamp
		FROM projections.rate_history
		WHERE asset = $1
	`
	args := []interface{}{asset}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RateHistoryResponse
	for rows.Next() {
		var h RateHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Asset, &h.Sequence, &h.LiquidityRate, &h.VariableBorrowRate,
			&h.StableBorrowRate, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetLiquidationHistory returns liquidation calls against a borrower,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetLiquidationHistory(
	ctx context.Context,
	borrower uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]LiquidationHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, request_id, liquidator, borrower, collateral_asset, debt_asset,
		       debt_to_cover, receive_underlying, timestamp
		FROM projections.liquidation_history
		WHERE borrower = $1
	`
	args := []interface{}{borrower}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationHistoryResponse
	for rows.Next() {
		var r LiquidationHistoryResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Sequence, &r.RequestID, &r.Liquidator, &r.Borrower,
			&r.CollateralAsset, &r.DebtAsset, &r.DebtToCover, &r.ReceiveUnderlying, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetUserAccountData returns a user's aggregate collateral, debt, and health
// factor from the live core state.
func (qs *QueryService) GetUserAccountData(ctx context.Context, userID uuid.UUID) (*AccountDataResponse, error) {
	if qs.core == nil {
		return nil, fmt.Errorf("account data unavailable: no core state reader configured")
	}
	return qs.core.UserAccountData(userID)
}

// GetUserReserves returns a user's per-reserve balances and debts from the
// live core state.
func (qs *QueryService) GetUserReserves(ctx context.Context, userID uuid.UUID) ([]UserReserveResponse, error) {
	if qs.core == nil {
		return nil, fmt.Errorf("account data unavailable: no core state reader configured")
	}
	return qs.core.UserReserves(userID)
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and liquidity index
// monotonicity over the persisted history.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check liquidity index monotonicity per reserve
	idxRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, sequence FROM (
			SELECT asset, sequence, liquidity_index,
			       LAG(liquidity_index) OVER (PARTITION BY asset ORDER BY sequence) AS prev_index
			FROM event_log.reserve_history
		) h
		WHERE prev_index IS NOT NULL AND liquidity_index < prev_index
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer idxRows.Close()

	for idxRows.Next() {
		var reg IndexRegression
		if err := idxRows.Scan(&reg.Asset, &reg.Sequence); err != nil {
			return nil, err
		}
		report.IndexRegressions = append(report.IndexRegressions, reg)
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.IndexRegressions) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
