package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence      int64
	EventType     string
	Asset         *string
	Payload       []byte // JSON-encoded event, used for event-specific projections
	ReserveStates []ReserveStateUpdate
	Timestamp     time.Time
}

// ReserveStateUpdate is the post-event accounting state of one reserve.
// Big values travel as decimal strings for NUMERIC columns.
type ReserveStateUpdate struct {
	Asset               string
	LiquidityIndex      string // Ray
	VariableBorrowIndex string // Ray
	LiquidityRate       string // Ray, annual
	VariableBorrowRate  string // Ray, annual
	StableBorrowRate    string // Ray, annual
	AvailableLiquidity  string // Wad
	TotalStableDebt     string // Wad
	TreasuryBalance     string // Wad (scaled)
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop: if projections fall behind,
// they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().
					Int64("sequence", output.Sequence).
					Str("event_type", output.EventType).
					Err(err).
					Msg("projection update failed")
				// Continue: projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rs := range output.ReserveStates {
		if err := pw.upsertReserveState(ctx, tx, output.Sequence, output.Timestamp, rs); err != nil {
			return fmt.Errorf("reserve state projection: %w", err)
		}
		if err := pw.appendRateHistory(ctx, tx, output.Sequence, output.Timestamp, rs); err != nil {
			return fmt.Errorf("rate history projection: %w", err)
		}
	}

	if output.EventType == "LiquidationRequested" {
		if err := recordLiquidation(ctx, tx, output.Sequence, output.Timestamp, output.Payload); err != nil {
			return fmt.Errorf("liquidation history projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) upsertReserveState(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, rs ReserveStateUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reserve_state
			(asset, liquidity_index, variable_borrow_index, liquidity_rate,
			 variable_borrow_rate, stable_borrow_rate, available_liquidity,
			 total_stable_debt, treasury_balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (asset) DO UPDATE SET
			liquidity_index = $2, variable_borrow_index = $3, liquidity_rate = $4,
			variable_borrow_rate = $5, stable_borrow_rate = $6, available_liquidity = $7,
			total_stable_debt = $8, treasury_balance = $9, last_sequence = $10, updated_at = $11
	`, rs.Asset, rs.LiquidityIndex, rs.VariableBorrowIndex, rs.LiquidityRate,
		rs.VariableBorrowRate, rs.StableBorrowRate, rs.AvailableLiquidity,
		rs.TotalStableDebt, rs.TreasuryBalance, seq, ts)
	return err
}

func (pw *ProjectionWorker) appendRateHistory(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, rs ReserveStateUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.rate_history
			(asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset, sequence) DO NOTHING
	`, rs.Asset, seq, rs.LiquidityRate, rs.VariableBorrowRate, rs.StableBorrowRate, ts)
	return err
}

// RebuildProjections rebuilds all projection tables from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.reserve_state`,
		`TRUNCATE projections.rate_history`,
		`TRUNCATE projections.liquidation_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Latest state per asset
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.reserve_state
			(asset, liquidity_index, variable_borrow_index, liquidity_rate,
			 variable_borrow_rate, stable_borrow_rate, available_liquidity,
			 total_stable_debt, treasury_balance, last_sequence, updated_at)
		SELECT DISTINCT ON (asset)
			asset, liquidity_index, variable_borrow_index, liquidity_rate,
			variable_borrow_rate, stable_borrow_rate, available_liquidity,
			total_stable_debt, treasury_balance, sequence, timestamp
		FROM event_log.reserve_history
		ORDER BY asset, sequence DESC
	`)
	if err != nil {
		return fmt.Errorf("rebuild reserve state: %w", err)
	}

	// Full rate series
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.rate_history
			(asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate, timestamp)
		SELECT asset, sequence, liquidity_rate, variable_borrow_rate, stable_borrow_rate, timestamp
		FROM event_log.reserve_history
		ON CONFLICT (asset, sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild rate history: %w", err)
	}

	// Liquidation calls from the event log
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, request_id, liquidator, borrower, collateral_asset, debt_asset,
			 debt_to_cover, receive_underlying, timestamp)
		SELECT sequence,
		       (payload->>'request_id')::uuid,
		       (payload->>'liquidator')::uuid,
		       (payload->>'borrower')::uuid,
		       payload->>'collateral_reserve',
		       payload->>'debt_reserve',
		       (payload->>'debt_to_cover')::numeric,
		       (payload->>'receive_underlying')::boolean,
		       timestamp
		FROM event_log.events
		WHERE event_type = 'LiquidationRequested'
		ON CONFLICT (sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild liquidation history: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
