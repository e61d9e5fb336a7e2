package broker

import (
	"fmt"
	"strings"

	"mqlbt/internal/domain"
)

// OrderSend opens a market order. Commission is debited from the balance
// immediately. No margin check is performed.
func (e *Emulator) OrderSend(req OrderRequest) (int, error) {
	if !req.Side.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, req.Side)
	}
	if req.Volume <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidVolume, req.Volume)
	}
	if len(e.candles) == 0 {
		return 0, ErrNoMarketData
	}
	price := req.Price
	if price <= 0 {
		price = e.marketOpen(req.Side)
	}
	symbol := strings.ToUpper(req.Symbol)
	if symbol == "" {
		symbol = e.opts.Symbol
	}

	o := &domain.Order{
		Ticket:     e.nextTicket,
		Symbol:     symbol,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  price,
		OpenTime:   e.Time(),
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
		Magic:      req.Magic,
		Commission: -req.Volume * e.opts.Commission,
	}
	e.nextTicket++
	e.balance += o.Commission
	e.open = append(e.open, o)

	e.logger.Debug("order opened", "ticket", o.Ticket, "side", o.Side, "volume", o.Volume, "price", price, "bar", e.cursor)
	return o.Ticket, nil
}

// OrderClose closes the whole of an open order. A price <= 0 closes at the
// market: bid for buys, ask for sells. volume and slippage are accepted for
// call compatibility; partial closes are not modelled.
func (e *Emulator) OrderClose(ticket int, volume, price float64, slippage int) bool {
	i := e.openIndex(ticket)
	if i < 0 {
		return false
	}
	o := e.open[i]
	if price <= 0 {
		price = e.marketClose(o.Side)
	}
	e.closeAt(i, price, domain.CloseManual)
	return true
}

// OrderModify replaces the stop loss and take profit of an open order. The
// price argument applies to pending orders, which are not modelled.
func (e *Emulator) OrderModify(ticket int, price, stopLoss, takeProfit float64) bool {
	i := e.openIndex(ticket)
	if i < 0 {
		return false
	}
	e.open[i].StopLoss = stopLoss
	e.open[i].TakeProfit = takeProfit
	return true
}

// OrderDelete removes an open order with no effect on the account.
func (e *Emulator) OrderDelete(ticket int) bool {
	i := e.openIndex(ticket)
	if i < 0 {
		return false
	}
	e.open = append(e.open[:i], e.open[i+1:]...)
	return true
}

func (e *Emulator) OrderSelect(index int, by SelectBy, pool Pool) (OrderHandle, bool) {
	var o *domain.Order
	switch by {
	case SelectByTicket:
		if i := e.openIndex(index); i >= 0 {
			o = e.open[i]
		} else {
			for _, h := range e.history {
				if h.Ticket == index {
					o = h
					break
				}
			}
		}
	default:
		set := e.open
		if pool == PoolHistory {
			set = e.history
		}
		if index >= 0 && index < len(set) {
			o = set[index]
		}
	}
	if o == nil {
		return OrderHandle{}, false
	}
	h := OrderHandle{order: *o}
	if o.IsOpen() {
		h.order.Profit = o.ProfitAt(e.marketClose(o.Side))
	}
	return h, true
}

func (e *Emulator) OrdersTotal() int        { return len(e.open) }
func (e *Emulator) OrdersHistoryTotal() int { return len(e.history) }

// OpenOrders returns copies of the open orders in ticket order.
func (e *Emulator) OpenOrders() []domain.Order { return copyOrders(e.open) }

// History returns copies of the closed orders in close order.
func (e *Emulator) History() []domain.Order { return copyOrders(e.history) }

func copyOrders(src []*domain.Order) []domain.Order {
	out := make([]domain.Order, len(src))
	for i, o := range src {
		out[i] = *o
	}
	return out
}

// CheckStops closes every open order whose stop loss or take profit the
// current price has crossed, at the stop level. Buys are tested against the
// bid and sells against the ask; stop loss is tested first.
func (e *Emulator) CheckStops() int {
	if len(e.candles) == 0 {
		return 0
	}
	bid, ask := e.Bid(), e.Ask()
	closed := 0
	for i := 0; i < len(e.open); {
		o := e.open[i]
		price, reason := 0.0, domain.CloseReason("")
		switch o.Side {
		case domain.OrderSideBuy:
			if o.StopLoss > 0 && bid <= o.StopLoss {
				price, reason = o.StopLoss, domain.CloseStopLoss
			} else if o.TakeProfit > 0 && bid >= o.TakeProfit {
				price, reason = o.TakeProfit, domain.CloseTakeProfit
			}
		case domain.OrderSideSell:
			if o.StopLoss > 0 && ask >= o.StopLoss {
				price, reason = o.StopLoss, domain.CloseStopLoss
			} else if o.TakeProfit > 0 && ask <= o.TakeProfit {
				price, reason = o.TakeProfit, domain.CloseTakeProfit
			}
		}
		if reason == "" {
			i++
			continue
		}
		e.closeAt(i, price, reason)
		closed++
	}
	return closed
}

// CloseAll closes every open order at market with the given reason.
func (e *Emulator) CloseAll(reason domain.CloseReason) int {
	n := len(e.open)
	for len(e.open) > 0 {
		e.closeAt(0, e.marketClose(e.open[0].Side), reason)
	}
	return n
}

// closeAt realises the profit of open[i] at price and moves it to history.
func (e *Emulator) closeAt(i int, price float64, reason domain.CloseReason) {
	o := e.open[i]
	t := e.Time()
	o.ClosePrice = price
	o.CloseTime = &t
	o.CloseReason = reason
	o.Profit = o.ProfitAt(price)

	e.open = append(e.open[:i], e.open[i+1:]...)
	e.history = append(e.history, o)
	e.balance += o.Profit
	e.equity = e.balance
	e.curve = append(e.curve, domain.EquityPoint{Time: t, Balance: e.balance, Equity: e.equity})

	e.logger.Debug("order closed", "ticket", o.Ticket, "reason", reason, "price", price, "profit", o.Profit, "bar", e.cursor)
}

func (e *Emulator) openIndex(ticket int) int {
	for i, o := range e.open {
		if o.Ticket == ticket {
			return i
		}
	}
	return -1
}

func (e *Emulator) marketOpen(side domain.OrderSide) float64 {
	if side == domain.OrderSideSell {
		return e.Bid()
	}
	return e.Ask()
}

func (e *Emulator) marketClose(side domain.OrderSide) float64 {
	if side == domain.OrderSideSell {
		return e.Ask()
	}
	return e.Bid()
}
