package ingestion

import (
	"LendLedger/internal/event"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositRequested":
		return parseDepositRequested(raw.Data)
	case "WithdrawRequested":
		return parseWithdrawRequested(raw.Data)
	case "CollateralUsageSet":
		return parseCollateralUsageSet(raw.Data)
	case "BorrowRequested":
		return parseBorrowRequested(raw.Data)
	case "RepayRequested":
		return parseRepayRequested(raw.Data)
	case "LiquidationRequested":
		return parseLiquidationRequested(raw.Data)
	case "FlashLoanRequested":
		return parseFlashLoanRequested(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "ReserveConfigUpdate":
		return parseReserveConfigUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers. Token amounts and
// rates travel as decimal strings since they exceed int64 range.

// parseAmount converts a decimal-string amount and rejects zero and negative
// values.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid decimal %q", field, s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("parse %s: must be positive, got %s", field, s)
	}
	return v, nil
}

// parseParam converts a decimal-string parameter; zero is allowed.
func parseParam(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid decimal %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: must not be negative, got %s", field, s)
	}
	return v, nil
}

func parseRateMode(s string) (event.RateMode, error) {
	switch s {
	case "variable":
		return event.RateModeVariable, nil
	case "stable":
		return event.RateModeStable, nil
	default:
		return event.RateModeUnknown, fmt.Errorf("parse rate_mode: unknown mode %q", s)
	}
}

type depositJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Reserve     string `json:"reserve"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositRequested(data []byte) (*event.DepositRequested, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.DepositRequested{
		RequestID: requestID,
		UserID:    userID,
		Reserve:   j.Reserve,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Reserve     string `json:"reserve"`
	Amount      string `json:"amount,omitempty"` // Empty or absent withdraws the whole balance
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseWithdrawRequested(data []byte) (*event.WithdrawRequested, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	var amount *big.Int
	if j.Amount != "" {
		amount, err = parseAmount("amount", j.Amount)
		if err != nil {
			return nil, err
		}
	}
	return &event.WithdrawRequested{
		RequestID: requestID,
		UserID:    userID,
		Reserve:   j.Reserve,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type collateralUsageJSON struct {
	RequestID       string `json:"request_id"`
	UserID          string `json:"user_id"`
	Reserve         string `json:"reserve"`
	UseAsCollateral bool   `json:"use_as_collateral"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseCollateralUsageSet(data []byte) (*event.CollateralUsageSet, error) {
	var j collateralUsageJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralUsageSet: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.CollateralUsageSet{
		RequestID:       requestID,
		UserID:          userID,
		Reserve:         j.Reserve,
		UseAsCollateral: j.UseAsCollateral,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type borrowJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	Reserve     string `json:"reserve"`
	Amount      string `json:"amount"`
	RateMode    string `json:"rate_mode"` // "variable" or "stable"
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBorrowRequested(data []byte) (*event.BorrowRequested, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BorrowRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	mode, err := parseRateMode(j.RateMode)
	if err != nil {
		return nil, err
	}
	return &event.BorrowRequested{
		RequestID: requestID,
		UserID:    userID,
		Reserve:   j.Reserve,
		Amount:    amount,
		Mode:      mode,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseRepayRequested(data []byte) (*event.RepayRequested, error) {
	var j borrowJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RepayRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	mode, err := parseRateMode(j.RateMode)
	if err != nil {
		return nil, err
	}
	return &event.RepayRequested{
		RequestID: requestID,
		UserID:    userID,
		Reserve:   j.Reserve,
		Amount:    amount,
		Mode:      mode,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidationJSON struct {
	RequestID         string `json:"request_id"`
	Liquidator        string `json:"liquidator"`
	Borrower          string `json:"borrower"`
	CollateralReserve string `json:"collateral_reserve"`
	DebtReserve       string `json:"debt_reserve"`
	DebtToCover       string `json:"debt_to_cover"`
	ReceiveUnderlying bool   `json:"receive_underlying"`
	Sequence          int64  `json:"sequence"`
	TimestampUs       int64  `json:"timestamp_us"`
}

func parseLiquidationRequested(data []byte) (*event.LiquidationRequested, error) {
	var j liquidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LiquidationRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	liquidator, err := uuid.Parse(j.Liquidator)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator: %w", err)
	}
	borrower, err := uuid.Parse(j.Borrower)
	if err != nil {
		return nil, fmt.Errorf("parse borrower: %w", err)
	}
	debtToCover, err := parseAmount("debt_to_cover", j.DebtToCover)
	if err != nil {
		return nil, err
	}
	return &event.LiquidationRequested{
		RequestID:         requestID,
		Liquidator:        liquidator,
		Borrower:          borrower,
		CollateralReserve: j.CollateralReserve,
		DebtReserve:       j.DebtReserve,
		DebtToCover:       debtToCover,
		ReceiveUnderlying: j.ReceiveUnderlying,
		Sequence:          j.Sequence,
		Timestamp:         time.UnixMicro(j.TimestampUs),
	}, nil
}

type flashLoanJSON struct {
	RequestID   string   `json:"request_id"`
	Initiator   string   `json:"initiator"`
	Receiver    string   `json:"receiver"`
	Reserves    []string `json:"reserves"`
	Amounts     []string `json:"amounts"`
	Params      []byte   `json:"params,omitempty"`
	Sequence    int64    `json:"sequence"`
	TimestampUs int64    `json:"timestamp_us"`
}

func parseFlashLoanRequested(data []byte) (*event.FlashLoanRequested, error) {
	var j flashLoanJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlashLoanRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	initiator, err := uuid.Parse(j.Initiator)
	if err != nil {
		return nil, fmt.Errorf("parse initiator: %w", err)
	}
	if j.Receiver == "" {
		return nil, fmt.Errorf("parse receiver: must not be empty")
	}
	if len(j.Reserves) == 0 {
		return nil, fmt.Errorf("parse reserves: must not be empty")
	}
	if len(j.Amounts) != len(j.Reserves) {
		return nil, fmt.Errorf("parse amounts: got %d amounts for %d reserves", len(j.Amounts), len(j.Reserves))
	}
	amounts := make([]*big.Int, len(j.Amounts))
	for i, s := range j.Amounts {
		amounts[i], err = parseAmount(fmt.Sprintf("amounts[%d]", i), s)
		if err != nil {
			return nil, err
		}
	}
	return &event.FlashLoanRequested{
		RequestID: requestID,
		Initiator: initiator,
		Receiver:  j.Receiver,
		Reserves:  j.Reserves,
		Amounts:   amounts,
		Params:    j.Params,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type priceUpdateJSON struct {
	Reserve        string `json:"reserve"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"` // Epoch seconds
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.PriceUpdate{
		Reserve:        j.Reserve,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type reserveConfigJSON struct {
	Reserve  string `json:"reserve"`
	Decimals uint8  `json:"decimals"`
	Active   bool   `json:"active"`
	Frozen   bool   `json:"frozen"`

	ReserveFactor        string `json:"reserve_factor"`
	LiquidationThreshold string `json:"liquidation_threshold"`
	LiquidationBonus     string `json:"liquidation_bonus"`

	OptimalUtilization string `json:"optimal_utilization"`
	BaseVariableRate   string `json:"base_variable_rate"`
	VariableSlope1     string `json:"variable_slope1"`
	VariableSlope2     string `json:"variable_slope2"`
	StableSlope1       string `json:"stable_slope1"`
	StableSlope2       string `json:"stable_slope2"`

	EffectiveSeq int64 `json:"effective_seq"`
	Sequence     int64 `json:"sequence"`
	Timestamp    int64 `json:"timestamp"` // Epoch seconds
}

func parseReserveConfigUpdate(data []byte) (*event.ReserveConfigUpdate, error) {
	var j reserveConfigJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ReserveConfigUpdate: %w", err)
	}

	out := &event.ReserveConfigUpdate{
		Reserve:      j.Reserve,
		Decimals:     j.Decimals,
		Active:       j.Active,
		Frozen:       j.Frozen,
		EffectiveSeq: j.EffectiveSeq,
		Sequence:     j.Sequence,
		Timestamp:    j.Timestamp,
	}

	fields := map[string]struct {
		src string
		dst **big.Int
	}{
		"reserve_factor":        {j.ReserveFactor, &out.ReserveFactor},
		"liquidation_threshold": {j.LiquidationThreshold, &out.LiquidationThreshold},
		"liquidation_bonus":     {j.LiquidationBonus, &out.LiquidationBonus},
		"optimal_utilization":   {j.OptimalUtilization, &out.OptimalUtilization},
		"base_variable_rate":    {j.BaseVariableRate, &out.BaseVariableRate},
		"variable_slope1":       {j.VariableSlope1, &out.VariableSlope1},
		"variable_slope2":       {j.VariableSlope2, &out.VariableSlope2},
		"stable_slope1":         {j.StableSlope1, &out.StableSlope1},
		"stable_slope2":         {j.StableSlope2, &out.StableSlope2},
	}
	for field, f := range fields {
		v, err := parseParam(field, f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	return out, nil
}
