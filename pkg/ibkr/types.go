package ibkr

import (
	"fmt"
	"strconv"
	"strings"
)

// Snapshot field codes of the Client Portal market data API.
const (
	fieldLast         = "31"
	fieldBid          = "84"
	fieldAsk          = "85"
	fieldImpliedVol   = "7283"
	fieldDelta        = "7308"
	fieldGamma        = "7309"
	fieldTheta        = "7310"
	fieldVega         = "7311"
	fieldVolume       = "7762"
	fieldOpenInterest = "7638"
)

var optionFields = strings.Join([]string{
	fieldLast, fieldBid, fieldAsk, fieldImpliedVol, fieldDelta, fieldGamma,
	fieldTheta, fieldVega, fieldVolume, fieldOpenInterest,
}, ",")

type account struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Description string `json:"desc"`
}

type summaryValue struct {
	Amount float64 `json:"amount"`
}

type accountSummary struct {
	NetLiquidation summaryValue `json:"netliquidation"`
	TotalCash      summaryValue `json:"totalcashvalue"`
	BuyingPower    summaryValue `json:"buyingpower"`
	UnrealizedPnL  summaryValue `json:"unrealizedpnl"`
	RealizedPnL    summaryValue `json:"realizedpnl"`
}

type position struct {
	ConID        int64   `json:"conid"`
	ContractDesc string  `json:"contractDesc"`
	Ticker       string  `json:"ticker"`
	Position     float64 `json:"position"`
	MarketPrice  float64 `json:"mktPrice"`
	AverageCost  float64 `json:"avgCost"`
	AssetClass   string  `json:"assetClass"`
}

type searchResult struct {
	ConID    string    `json:"conid"`
	Symbol   string    `json:"symbol"`
	Sections []section `json:"sections"`
}

type section struct {
	SecType string `json:"secType"`
	Months  string `json:"months"`
}

type strikes struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

type contractInfo struct {
	ConID        int64   `json:"conid"`
	Symbol       string  `json:"symbol"`
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"`
	MaturityDate string  `json:"maturityDate"`
}

type historyBar struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"`
}

type history struct {
	Symbol string       `json:"symbol"`
	Data   []historyBar `json:"data"`
}

type orderTicket struct {
	ConID     int64   `json:"conid"`
	OrderType string  `json:"orderType"`
	Price     float64 `json:"price,omitempty"`
	Side      string  `json:"side"`
	Quantity  int     `json:"quantity"`
	TIF       string  `json:"tif"`
}

type orderBody struct {
	Orders []orderTicket `json:"orders"`
}

// orderReply is either an acknowledgement (OrderID set) or a question that
// must be confirmed through /iserver/reply/{id}.
type orderReply struct {
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	ReplyID     string   `json:"id"`
	Message     []string `json:"message"`
}

type orderStatus struct {
	OrderID      string      `json:"order_id"`
	ConID        int64       `json:"conid"`
	Symbol       string      `json:"symbol"`
	Side         string      `json:"side"`
	OrderType    string      `json:"order_type"`
	LimitPrice   interface{} `json:"limit_price"`
	TotalSize    interface{} `json:"total_size"`
	CumFill      interface{} `json:"cum_fill"`
	AveragePrice interface{} `json:"average_price"`
	OrderStatus  string      `json:"order_status"`
	TimeInForce  string      `json:"tif"`
}

// parseFieldValue reads snapshot values, which arrive as numbers, strings
// with suffixes such as "25.3%", or objects with a "v" member.
func parseFieldValue(field interface{}) float64 {
	switch val := field.(type) {
	case nil:
		return 0
	case float64:
		return val
	case string:
		var f float64
		fmt.Sscanf(strings.TrimLeft(strings.ReplaceAll(val, ",", ""), "CH"), "%f", &f)
		return f
	case map[string]interface{}:
		if v, ok := val["v"]; ok {
			return parseFieldValue(v)
		}
	}
	return 0
}

func parseConID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid conid %q: %w", raw, err)
	}
	return id, nil
}
