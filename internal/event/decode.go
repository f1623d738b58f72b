package event

import (
	"encoding/json"
	"fmt"
)

// Decode reconstructs a typed event from its stored log payload. The event
// log stores each event in its canonical JSON encoding, so recovery replay
// round-trips through the same structs that produced the payload.
func Decode(eventType string, data []byte) (Event, error) {
	var evt Event
	switch eventType {
	case "DepositRequested":
		evt = &DepositRequested{}
	case "WithdrawRequested":
		evt = &WithdrawRequested{}
	case "CollateralUsageSet":
		evt = &CollateralUsageSet{}
	case "BorrowRequested":
		evt = &BorrowRequested{}
	case "RepayRequested":
		evt = &RepayRequested{}
	case "LiquidationRequested":
		evt = &LiquidationRequested{}
	case "FlashLoanRequested":
		evt = &FlashLoanRequested{}
	case "PriceUpdate":
		evt = &PriceUpdate{}
	case "ReserveConfigUpdate":
		evt = &ReserveConfigUpdate{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
