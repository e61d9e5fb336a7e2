// Package builtins provides the strategies that ship with mqlbt.
package builtins

import (
	"context"
	"fmt"

	"mqlbt/internal/broker"
	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Initializer = (*SMACross)(nil)
	_ strategy.Ticker      = (*SMACross)(nil)
)

// SMACross is a moving-average crossover. It goes long when the fast MA
// crosses above the slow MA and short when it crosses below, reversing any
// position it holds.
type SMACross struct {
	fast, slow int
	method     broker.MAMethod
	lots       float64
	slPoints   float64
	tpPoints   float64
	magic      int
}

// NewSMACross creates an SMACross from its inputs: fast, slow, method
// (0=SMA 1=EMA 2=SMMA 3=LWMA), lots, sl_points, tp_points and magic.
func NewSMACross(p strategy.Params) (strategy.Strategy, error) {
	s := &SMACross{
		fast:     p.Int("fast", 10),
		slow:     p.Int("slow", 30),
		method:   broker.MAMethod(p.Int("method", int(broker.ModeSMA))),
		lots:     p.Float("lots", 0.1),
		slPoints: p.Float("sl_points", 0),
		tpPoints: p.Float("tp_points", 0),
		magic:    p.Int("magic", 1001),
	}
	if s.fast <= 0 || s.slow <= 0 || s.fast >= s.slow {
		return nil, fmt.Errorf("need 0 < fast < slow, got fast=%d slow=%d", s.fast, s.slow)
	}
	if s.lots <= 0 {
		return nil, fmt.Errorf("lots must be positive, got %v", s.lots)
	}
	return s, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

func (s *SMACross) OnInit(_ context.Context, t broker.Terminal) (int, error) {
	t.Printf("sma-cross fast=%d slow=%d lots=%v", s.fast, s.slow, s.lots)
	return 0, nil
}

func (s *SMACross) OnTick(_ context.Context, t broker.Terminal) error {
	if t.Bars() <= s.slow {
		return nil
	}
	fastNow := t.IMA(s.fast, 0, s.method, broker.PriceClose)
	slowNow := t.IMA(s.slow, 0, s.method, broker.PriceClose)
	fastPrev := t.IMA(s.fast, 1, s.method, broker.PriceClose)
	slowPrev := t.IMA(s.slow, 1, s.method, broker.PriceClose)

	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		closeSide(t, s.magic, domain.OrderSideSell)
		if len(positions(t, s.magic)) == 0 {
			return open(t, domain.OrderSideBuy, s.lots, s.slPoints, s.tpPoints, s.magic, "sma-cross long")
		}
	case fastPrev >= slowPrev && fastNow < slowNow:
		closeSide(t, s.magic, domain.OrderSideBuy)
		if len(positions(t, s.magic)) == 0 {
			return open(t, domain.OrderSideSell, s.lots, s.slPoints, s.tpPoints, s.magic, "sma-cross short")
		}
	}
	return nil
}

// positions returns handles of the open orders carrying magic.
func positions(t broker.Terminal, magic int) []broker.OrderHandle {
	var out []broker.OrderHandle
	for i := 0; i < t.OrdersTotal(); i++ {
		h, ok := t.OrderSelect(i, broker.SelectByPos, broker.PoolTrades)
		if ok && h.Magic() == magic {
			out = append(out, h)
		}
	}
	return out
}

func closeSide(t broker.Terminal, magic int, side domain.OrderSide) {
	for _, h := range positions(t, magic) {
		if h.Type() == side {
			t.OrderClose(h.Ticket(), h.Lots(), 0, 3)
		}
	}
}

// open sends a market order with stops placed slPoints and tpPoints away
// from the entry price. A zero distance leaves that stop unset.
func open(t broker.Terminal, side domain.OrderSide, lots, slPoints, tpPoints float64, magic int, comment string) error {
	price, dir := t.Ask(), 1.0
	if side == domain.OrderSideSell {
		price, dir = t.Bid(), -1.0
	}
	req := broker.OrderRequest{Side: side, Volume: lots, Price: price, Slippage: 3, Magic: magic, Comment: comment}
	if slPoints > 0 {
		req.StopLoss = price - dir*slPoints*t.Point()
	}
	if tpPoints > 0 {
		req.TakeProfit = price + dir*tpPoints*t.Point()
	}
	if _, err := t.OrderSend(req); err != nil {
		return fmt.Errorf("%s: %w", comment, err)
	}
	return nil
}
