package risk

import (
	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

// Leg names one order of a trade.
type Leg string

const (
	LegEntry          Leg = "ENTRY"
	LegStopLoss       Leg = "STOP_LOSS"
	LegTakeProfit     Leg = "TAKE_PROFIT"
	LegEmergencyClose Leg = "EMERGENCY_CLOSE"
)

// EntryOrder is the market order that opens a position.
func EntryOrder(instrument string, dir state.Direction, qty decimal.Decimal, clientID string) common.OrderRequest {
	return common.OrderRequest{
		Symbol:   instrument,
		Side:     dir.EntrySide(),
		Type:     common.OrderTypeMarket,
		Qty:      qty,
		ClientID: clientID,
	}
}

// StopLossOrder is a reduce-only STOP_MARKET on the exit side for the full quantity.
func StopLossOrder(instrument string, dir state.Direction, qty, stop decimal.Decimal, clientID string) common.OrderRequest {
	return common.OrderRequest{
		Symbol:     instrument,
		Side:       dir.ExitSide(),
		Type:       common.OrderTypeStopMarket,
		Qty:        qty,
		StopPrice:  stop,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}

// TakeProfitOrder is a reduce-only TAKE_PROFIT_MARKET on the exit side.
func TakeProfitOrder(instrument string, dir state.Direction, qty, target decimal.Decimal, clientID string) common.OrderRequest {
	return common.OrderRequest{
		Symbol:     instrument,
		Side:       dir.ExitSide(),
		Type:       common.OrderTypeTakeProfitMarket,
		Qty:        qty,
		StopPrice:  target,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}

// EmergencyCloseOrder flattens an unprotected position at market.
func EmergencyCloseOrder(instrument string, dir state.Direction, qty decimal.Decimal, clientID string) common.OrderRequest {
	return common.OrderRequest{
		Symbol:     instrument,
		Side:       dir.ExitSide(),
		Type:       common.OrderTypeMarket,
		Qty:        qty,
		ReduceOnly: true,
		ClientID:   clientID,
	}
}
