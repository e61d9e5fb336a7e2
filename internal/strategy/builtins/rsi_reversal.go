package builtins

import (
	"context"
	"fmt"

	"mqlbt/internal/broker"
	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

var _ strategy.Ticker = (*RSIReversal)(nil)

// RSIReversal buys when RSI falls below the oversold level and sells when
// it rises above the overbought level. Positions exit when RSI crosses back
// through 50 or a stop is hit.
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
	lots       float64
	slPoints   float64
	tpPoints   float64
	magic      int
}

func NewRSIReversal(p strategy.Params) (strategy.Strategy, error) {
	s := &RSIReversal{
		period:     p.Int("period", 14),
		oversold:   p.Float("oversold", 30),
		overbought: p.Float("overbought", 70),
		lots:       p.Float("lots", 0.1),
		slPoints:   p.Float("sl_points", 300),
		tpPoints:   p.Float("tp_points", 600),
		magic:      p.Int("magic", 2002),
	}
	if s.period <= 1 {
		return nil, fmt.Errorf("period must be > 1, got %d", s.period)
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("oversold %v must be below overbought %v", s.oversold, s.overbought)
	}
	if s.lots <= 0 {
		return nil, fmt.Errorf("lots must be positive, got %v", s.lots)
	}
	return s, nil
}

func (s *RSIReversal) Name() string { return "rsi-reversal" }

func (s *RSIReversal) OnTick(_ context.Context, t broker.Terminal) error {
	if t.Bars() <= s.period {
		return nil
	}
	rsi := t.IRSI(s.period, 0, broker.PriceClose)

	held := positions(t, s.magic)
	if len(held) > 0 {
		for _, h := range held {
			if (h.Type() == domain.OrderSideBuy && rsi > 50) || (h.Type() == domain.OrderSideSell && rsi < 50) {
				t.OrderClose(h.Ticket(), h.Lots(), 0, 3)
			}
		}
		return nil
	}

	switch {
	case rsi < s.oversold:
		return open(t, domain.OrderSideBuy, s.lots, s.slPoints, s.tpPoints, s.magic, "rsi-reversal long")
	case rsi > s.overbought:
		return open(t, domain.OrderSideSell, s.lots, s.slPoints, s.tpPoints, s.magic, "rsi-reversal short")
	}
	return nil
}
