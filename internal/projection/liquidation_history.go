package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// liquidationPayload is the subset of the LiquidationRequested event the
// history projection keeps.
type liquidationPayload struct {
	RequestID         uuid.UUID `json:"request_id"`
	Liquidator        uuid.UUID `json:"liquidator"`
	Borrower          uuid.UUID `json:"borrower"`
	CollateralReserve string    `json:"collateral_reserve"`
	DebtReserve       string    `json:"debt_reserve"`
	DebtToCover       *big.Int  `json:"debt_to_cover"`
	ReceiveUnderlying bool      `json:"receive_underlying"`
}

// recordLiquidation appends an applied liquidation call to
// projections.liquidation_history.
func recordLiquidation(ctx context.Context, tx *sql.Tx, sequence int64, ts time.Time, payload []byte) error {
	var p liquidationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal liquidation payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, request_id, liquidator, borrower, collateral_asset, debt_asset,
			 debt_to_cover, receive_underlying, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence) DO NOTHING
	`, sequence, p.RequestID, p.Liquidator, p.Borrower, p.CollateralReserve, p.DebtReserve,
		p.DebtToCover.String(), p.ReceiveUnderlying, ts)
	return err
}

// LiquidationHistoryEntry is a queryable liquidation record.
type LiquidationHistoryEntry struct {
	Sequence          int64
	RequestID         uuid.UUID
	Liquidator        uuid.UUID
	Borrower          uuid.UUID
	CollateralAsset   string
	DebtAsset         string
	DebtToCover       *big.Int
	ReceiveUnderlying bool
	Timestamp         time.Time
}

// QueryLiquidationsByBorrower returns the most recent liquidation calls
// against a borrower, newest first.
func QueryLiquidationsByBorrower(ctx context.Context, db *sql.DB, borrower uuid.UUID, limit int) ([]LiquidationHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence, request_id, liquidator, borrower, collateral_asset, debt_asset,
		       debt_to_cover, receive_underlying, timestamp
		FROM projections.liquidation_history
		WHERE borrower = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, borrower, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LiquidationHistoryEntry
	for rows.Next() {
		var e LiquidationHistoryEntry
		var debtToCover string
		if err := rows.Scan(
			&e.Sequence, &e.RequestID, &e.Liquidator, &e.Borrower,
			&e.CollateralAsset, &e.DebtAsset, &debtToCover, &e.ReceiveUnderlying, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(debtToCover, 10)
		if !ok {
			return nil, fmt.Errorf("bad debt_to_cover in row seq=%d: %s", e.Sequence, debtToCover)
		}
		e.DebtToCover = v
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
