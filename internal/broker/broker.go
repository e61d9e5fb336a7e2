// Package broker provides the simulated market and trading account a
// strategy runs against during a backtest.
package broker

import (
	"errors"
	"time"

	"mqlbt/internal/domain"
)

// Terminal is the trading-platform surface a strategy sees: prices,
// indicators, orders and account state for the bar under evaluation.
type Terminal interface {
	// Symbol returns the traded symbol.
	Symbol() string

	// Bid returns the close of the current bar; Ask adds the spread.
	Bid() float64
	Ask() float64
	Point() float64
	Digits() int
	// Bars returns the number of bars visible to the strategy (cursor+1).
	Bars() int
	// Time returns the open time of the current bar.
	Time() time.Time

	IOpen(shift int) float64
	IHigh(shift int) float64
	ILow(shift int) float64
	IClose(shift int) float64
	IVolume(shift int) float64
	ITime(shift int) time.Time

	IMA(period, shift int, method MAMethod, price AppliedPrice) float64
	IRSI(period, shift int, price AppliedPrice) float64
	IMACD(fast, slow, signal int, price AppliedPrice, line MACDLine, shift int) float64
	IBands(period int, deviation float64, price AppliedPrice, line BandLine, shift int) float64
	IATR(period, shift int) float64
	IStochastic(kPeriod, dPeriod, slowing int, line StochLine, shift int) float64
	ICCI(period int, price AppliedPrice, shift int) float64
	IMomentum(period int, price AppliedPrice, shift int) float64

	// OrderSend opens a market order and returns its ticket.
	OrderSend(req OrderRequest) (int, error)
	// OrderClose closes an open order. A price <= 0 closes at market.
	OrderClose(ticket int, volume, price float64, slippage int) bool
	OrderModify(ticket int, price, stopLoss, takeProfit float64) bool
	OrderDelete(ticket int) bool
	// OrderSelect returns a snapshot handle of the order at index, read
	// either by position in pool or by ticket.
	OrderSelect(index int, by SelectBy, pool Pool) (OrderHandle, bool)
	OrdersTotal() int
	OrdersHistoryTotal() int

	AccountBalance() float64
	AccountEquity() float64
	AccountFreeMargin() float64
	AccountInfo() domain.AccountInfo

	// Print and Printf write to the run log.
	Print(args ...any)
	Printf(format string, args ...any)
}

// OrderRequest describes a market order. Price <= 0 fills at market (ask
// for buys, bid for sells). Expiration is accepted and ignored.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Volume     float64
	Price      float64
	Slippage   int
	StopLoss   float64
	TakeProfit float64
	Comment    string
	Magic      int
	Expiration time.Time
}

// Errors returned by OrderSend.
var (
	ErrInvalidVolume = errors.New("broker: volume must be positive")
	ErrInvalidSide   = errors.New("broker: side must be buy or sell")
	ErrNoMarketData  = errors.New("broker: no market data")
)

// Pool selects the order set OrderSelect reads from.
type Pool int

const (
	PoolTrades  Pool = iota // open orders
	PoolHistory             // closed orders
)

// SelectBy selects how OrderSelect interprets its index argument.
type SelectBy int

const (
	SelectByPos SelectBy = iota
	SelectByTicket
)

// OrderHandle is an immutable view of an order taken at selection time.
// For open orders Profit is the floating profit at the then-current price.
type OrderHandle struct {
	order domain.Order
}

func (h OrderHandle) Ticket() int            { return h.order.Ticket }
func (h OrderHandle) Symbol() string         { return h.order.Symbol }
func (h OrderHandle) Type() domain.OrderSide { return h.order.Side }
func (h OrderHandle) Lots() float64          { return h.order.Volume }
func (h OrderHandle) OpenPrice() float64     { return h.order.OpenPrice }
func (h OrderHandle) OpenTime() time.Time    { return h.order.OpenTime }
func (h OrderHandle) StopLoss() float64      { return h.order.StopLoss }
func (h OrderHandle) TakeProfit() float64    { return h.order.TakeProfit }
func (h OrderHandle) Profit() float64        { return h.order.Profit }
func (h OrderHandle) Commission() float64    { return h.order.Commission }
func (h OrderHandle) Swap() float64          { return h.order.Swap }
func (h OrderHandle) Comment() string        { return h.order.Comment }
func (h OrderHandle) Magic() int             { return h.order.Magic }
func (h OrderHandle) ClosePrice() float64    { return h.order.ClosePrice }

// CloseReason is empty for an open order.
func (h OrderHandle) CloseReason() domain.CloseReason { return h.order.CloseReason }

// CloseTime returns the zero time for an order that is still open.
func (h OrderHandle) CloseTime() time.Time {
	if h.order.CloseTime == nil {
		return time.Time{}
	}
	return *h.order.CloseTime
}

// Order returns a copy of the underlying order.
func (h OrderHandle) Order() domain.Order { return h.order }
