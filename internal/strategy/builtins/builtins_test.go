package builtins

import (
	"context"
	"errors"
	"testing"
	"time"

	"mqlbt/internal/broker"
	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

func candles(closes []float64) []domain.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 0.0005, Low: c - 0.0005, Close: c}
	}
	return out
}

// drive replays every bar through s the way the runner does.
func drive(t *testing.T, s strategy.Strategy, closes []float64) *broker.Emulator {
	t.Helper()
	zero := 0.0
	opts := broker.DefaultOptions()
	opts.Spread = &zero
	e := broker.New(candles(closes), opts)
	ctx := context.Background()
	if init, ok := s.(strategy.Initializer); ok {
		if code, err := init.OnInit(ctx, e); code != 0 || err != nil {
			t.Fatalf("OnInit = %d, %v", code, err)
		}
	}
	tick := s.(strategy.Ticker)
	for i := range closes {
		e.SetCursor(i)
		e.CheckStops()
		if err := tick.OnTick(ctx, e); err != nil {
			t.Fatalf("bar %d: %v", i, err)
		}
		e.UpdateEquity()
	}
	return e
}

func newRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	Register(reg)
	return reg
}

func TestRegister(t *testing.T) {
	names := newRegistry().List()
	if len(names) != 2 || names[0] != "rsi-reversal" || names[1] != "sma-cross" {
		t.Errorf("List() = %v", names)
	}
}

func TestSMACrossReverses(t *testing.T) {
	var closes []float64
	p := 1.2000
	for i := 0; i < 40; i++ {
		p -= 0.001
		closes = append(closes, p)
	}
	for i := 0; i < 40; i++ {
		p += 0.002
		closes = append(closes, p)
	}
	for i := 0; i < 40; i++ {
		p -= 0.002
		closes = append(closes, p)
	}

	s, err := newRegistry().New("sma-cross", strategy.Params{"fast": 5.0, "slow": 20.0})
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "sma-cross" {
		t.Errorf("Name() = %q", s.Name())
	}
	e := drive(t, s, closes)

	hist := e.History()
	if len(hist) != 1 || hist[0].Side != domain.OrderSideBuy {
		t.Fatalf("history = %+v, want one closed buy", hist)
	}
	if hist[0].Profit <= 0 {
		t.Errorf("long leg profit = %v, want > 0", hist[0].Profit)
	}
	open := e.OpenOrders()
	if len(open) != 1 || open[0].Side != domain.OrderSideSell || open[0].Magic != 1001 {
		t.Errorf("open = %+v, want one sell", open)
	}
}

func TestSMACrossStops(t *testing.T) {
	s, err := NewSMACross(strategy.Params{"fast": 2.0, "slow": 3.0, "sl_points": 100.0, "tp_points": 200.0})
	if err != nil {
		t.Fatal(err)
	}
	e := drive(t, s, []float64{1.1000, 1.0990, 1.0980, 1.0970, 1.0990, 1.1010})
	var all []domain.Order
	all = append(all, e.History()...)
	all = append(all, e.OpenOrders()...)
	if len(all) == 0 {
		t.Fatal("no order opened")
	}
	o := all[0]
	if o.Side != domain.OrderSideBuy {
		t.Fatalf("first order side = %s", o.Side)
	}
	if !near(o.StopLoss, o.OpenPrice-0.001) || !near(o.TakeProfit, o.OpenPrice+0.002) {
		t.Errorf("stops = %v/%v for entry %v", o.StopLoss, o.TakeProfit, o.OpenPrice)
	}
}

func TestRSIReversal(t *testing.T) {
	var closes []float64
	p := 1.2000
	for i := 0; i < 20; i++ {
		closes = append(closes, p)
		p -= 0.001
	}
	p = closes[len(closes)-1]
	for i := 0; i < 15; i++ {
		p += 0.002
		closes = append(closes, p)
	}

	s, err := newRegistry().New("rsi-reversal", strategy.Params{"sl_points": 0.0, "tp_points": 0.0})
	if err != nil {
		t.Fatal(err)
	}
	e := drive(t, s, closes)

	hist := e.History()
	if len(hist) != 1 || hist[0].Side != domain.OrderSideBuy || hist[0].Profit <= 0 {
		t.Fatalf("history = %+v, want one profitable buy", hist)
	}
	open := e.OpenOrders()
	if len(open) != 1 || open[0].Side != domain.OrderSideSell {
		t.Errorf("open = %+v, want one sell", open)
	}
}

func TestInvalidParams(t *testing.T) {
	reg := newRegistry()
	tests := []struct {
		name   string
		params strategy.Params
	}{
		{"sma-cross", strategy.Params{"fast": 30.0, "slow": 10.0}},
		{"sma-cross", strategy.Params{"lots": 0.0}},
		{"rsi-reversal", strategy.Params{"oversold": 80.0}},
		{"rsi-reversal", strategy.Params{"period": 1.0}},
	}
	for _, tt := range tests {
		_, err := reg.New(tt.name, tt.params)
		var loadErr *strategy.LoadError
		if !errors.As(err, &loadErr) {
			t.Errorf("%s %v: err = %v, want *LoadError", tt.name, tt.params, err)
		}
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
