package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// EventLogWriter writes events and reserve state history to Postgres using
// batch inserts. Multi-row INSERT is used as a portable alternative to the
// COPY protocol; switch to pgx CopyFrom if write throughput becomes the
// bottleneck.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// ReserveStateRow represents a row in event_log.reserve_history: the full
// accounting state of one reserve after one applied event. Index, rate, and
// balance columns are NUMERIC(78,0) so they travel as decimal strings.
type ReserveStateRow struct {
	Sequence            int64
	Asset               string
	LiquidityIndex      string // Ray
	VariableBorrowIndex string // Ray
	LiquidityRate       string // Ray, annual
	VariableBorrowRate  string // Ray, annual
	StableBorrowRate    string // Ray, annual
	AvailableLiquidity  string // Wad
	TotalStableDebt     string // Wad
	TreasuryBalance     string // Wad (scaled)
	Timestamp           time.Time
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch writes a batch of events to event_log.events using
// multi-row INSERT inside the caller's transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, tx *sql.Tx) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, asset, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Asset,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteReserveStateBatch writes a batch of reserve state rows to
// event_log.reserve_history inside the caller's transaction.
func (w *EventLogWriter) WriteReserveStateBatch(ctx context.Context, rows []ReserveStateRow, tx *sql.Tx) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.reserve_history
		(sequence, asset, liquidity_index, variable_borrow_index, liquidity_rate,
		 variable_borrow_rate, stable_borrow_rate, available_liquidity, total_stable_debt,
		 treasury_balance, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)

	for i, r := range rows {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			r.Sequence, r.Asset, r.LiquidityIndex, r.VariableBorrowIndex, r.LiquidityRate,
			r.VariableBorrowRate, r.StableBorrowRate, r.AvailableLiquidity, r.TotalStableDebt,
			r.TreasuryBalance, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, asset) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// MarshalPayload is a convenience wrapper for JSON-encoding event payloads.
func MarshalPayload(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("WARN: failed to marshal payload: %v", err)
		return []byte("{}")
	}
	return data
}
