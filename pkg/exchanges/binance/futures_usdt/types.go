package futures_usdt

import (
	"fmt"
	"strconv"

	"sniper-core/pkg/exchanges/common"
)

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []symbolFilter `json:"filters"`
}

// symbolFilter carries the union of the filter fields we read.
type symbolFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
	Notional   string `json:"notional"`
}

func (s symbolInfo) rules() (common.SymbolRules, error) {
	r := common.SymbolRules{Symbol: s.Symbol}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			r.PriceTick = parseDecimal(f.TickSize)
		case "LOT_SIZE":
			r.QuantityStep = parseDecimal(f.StepSize)
			r.MinQuantity = parseDecimal(f.MinQty)
			r.MaxQuantity = parseDecimal(f.MaxQty)
		case "MIN_NOTIONAL":
			r.MinNotional = parseDecimal(f.Notional)
		}
	}
	if !r.QuantityStep.IsPositive() || !r.PriceTick.IsPositive() {
		return common.SymbolRules{}, fmt.Errorf("symbol %s: missing LOT_SIZE or PRICE_FILTER", s.Symbol)
	}
	return r, nil
}

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

func (o orderResp) result() common.OrderResult {
	return common.OrderResult{
		OrderID:   strconv.FormatInt(o.OrderID, 10),
		ClientID:  o.ClientOrderID,
		Status:    mapStatus(o.Status),
		AvgPrice:  parseDecimal(o.AvgPrice),
		FilledQty: parseDecimal(o.ExecutedQty),
	}
}

// PositionRisk is one row of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}
