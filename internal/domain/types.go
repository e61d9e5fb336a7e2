// Package domain defines the core value types shared across the backtester:
// candles, orders, account snapshots and equity samples.
package domain

import "time"

// Candle is one OHLCV bar. Candle arrays handed to a run are sorted
// ascending by Time and cover a single symbol and timeframe.
type Candle struct {
	Time   time.Time `json:"timestamp"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// OrderSide is the direction of a market order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is buy or sell.
func (s OrderSide) Valid() bool { return s == OrderSideBuy || s == OrderSideSell }

// CloseReason records how an order left the open set.
type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseEndOfTest  CloseReason = "end_of_test"
)

// ContractSize is the number of base-currency units in one standard lot.
const ContractSize = 100000

// Order is a market position opened by OrderSend. Once CloseTime is set the
// order is in history and never changes again.
type Order struct {
	Ticket      int         `json:"ticket"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Volume      float64     `json:"volume"`
	OpenPrice   float64     `json:"open_price"`
	OpenTime    time.Time   `json:"open_time"`
	StopLoss    float64     `json:"stop_loss"`
	TakeProfit  float64     `json:"take_profit"`
	Comment     string      `json:"comment,omitempty"`
	Magic       int         `json:"magic,omitempty"`
	Profit      float64     `json:"profit"`
	Commission  float64     `json:"commission"`
	Swap        float64     `json:"swap"`
	ClosePrice  float64     `json:"close_price,omitempty"`
	CloseTime   *time.Time  `json:"close_time,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// IsOpen reports whether the order has not been closed yet.
func (o *Order) IsOpen() bool { return o.CloseTime == nil }

// NetProfit is the realised profit after commission and swap.
func (o *Order) NetProfit() float64 { return o.Profit + o.Commission + o.Swap }

// ProfitAt returns the profit of the order if it were closed at price.
func (o *Order) ProfitAt(price float64) float64 {
	p := (price - o.OpenPrice) * o.Volume * ContractSize
	if o.Side == OrderSideSell {
		return -p
	}
	return p
}

// AccountInfo is a snapshot of the simulated trading account.
type AccountInfo struct {
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	InitialBalance float64 `json:"initial_balance"`
	FreeMargin     float64 `json:"free_margin"`
	Symbol         string  `json:"symbol"`
	Point          float64 `json:"point"`
	Digits         int     `json:"digits"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
	Equity  float64   `json:"equity"`
}
