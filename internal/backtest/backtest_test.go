package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
	"time"

	"mqlbt/internal/broker"
	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func candles(closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return out
}

func newTestRunner() *Runner {
	zero := 0.0
	return NewRunner(Config{Spread: &zero})
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// buyOnce opens a single lot at the first bar.
func buyOnce(sl, tp float64, side domain.OrderSide) *strategy.Funcs {
	return &strategy.Funcs{
		ID: "once",
		Tick: func(_ context.Context, t broker.Terminal) error {
			if t.Bars() == 1 {
				_, err := t.OrderSend(broker.OrderRequest{Side: side, Volume: 1, StopLoss: sl, TakeProfit: tp})
				return err
			}
			return nil
		},
	}
}

func TestEmptyCandles(t *testing.T) {
	rep := newTestRunner().Run(context.Background(), buyOnce(0, 0, domain.OrderSideBuy), nil)
	if !rep.Success || rep.State != StateDone {
		t.Fatalf("report = %+v", rep)
	}
	r := rep.Results
	if r.TotalTrades != 0 || r.NetProfit != 0 || r.ProfitFactor != 0 || r.SharpeRatio != 0 {
		t.Errorf("result = %+v", r)
	}
	if r.FinalBalance != 10000 || len(r.EquityCurve) != 1 {
		t.Errorf("final balance = %v, curve = %v", r.FinalBalance, r.EquityCurve)
	}
	if _, err := json.Marshal(rep); err != nil {
		t.Errorf("marshal: %v", err)
	}
}

func TestSingleTradeHeldToEnd(t *testing.T) {
	cs := candles(1.1000, 1.1010, 1.1020, 1.1005, 1.1030, 1.1040, 1.1015, 1.1035, 1.1045, 1.1050)
	rep := newTestRunner().Run(context.Background(), buyOnce(0, 0, domain.OrderSideBuy), cs)
	if !rep.Success {
		t.Fatalf("run failed: %s", rep.Error)
	}
	r := rep.Results
	if r.TotalTrades != 1 || len(r.Trades) != 1 {
		t.Fatalf("trades = %d", r.TotalTrades)
	}
	tr := r.Trades[0]
	if !approx(tr.Profit, 500) || tr.Commission != -7 || !approx(r.NetProfit, 493) {
		t.Errorf("profit = %v, commission = %v, net = %v", tr.Profit, tr.Commission, r.NetProfit)
	}
	if tr.CloseReason != domain.CloseEndOfTest {
		t.Errorf("close reason = %s", tr.CloseReason)
	}
	if !approx(r.FinalBalance, 10493) || !approx(r.FinalEquity, 10493) || !approx(r.TotalReturn, 4.93) {
		t.Errorf("final balance = %v, equity = %v, return = %v", r.FinalBalance, r.FinalEquity, r.TotalReturn)
	}
	if r.ProfitFactor != profitFactorCap || r.WinRate != 100 || r.BarsProcessed != 10 {
		t.Errorf("pf = %v, win rate = %v, bars = %v", r.ProfitFactor, r.WinRate, r.BarsProcessed)
	}
}

func TestSellStopLossClosesOnTriggerBar(t *testing.T) {
	cs := candles(1.1000, 1.1005, 1.1010, 1.1025, 1.1000, 1.0990)
	r := newTestRunner()
	var openAt4 int = -1
	r.afterBar = func(bar int, e *broker.Emulator) {
		if bar == 4 {
			openAt4 = e.OrdersTotal()
		}
	}
	rep := r.Run(context.Background(), buyOnce(1.1020, 0, domain.OrderSideSell), cs)
	if !rep.Success {
		t.Fatal(rep.Error)
	}
	if openAt4 != 0 {
		t.Errorf("open orders at bar 4 = %d, want 0", openAt4)
	}
	tr := rep.Results.Trades[0]
	if tr.CloseReason != domain.CloseStopLoss || tr.ClosePrice != 1.1020 || !tr.CloseTime.Equal(cs[3].Time) {
		t.Errorf("trade = %+v", tr)
	}
	if !approx(tr.Profit, -200) {
		t.Errorf("profit = %v, want -200", tr.Profit)
	}
}

func TestEquityIdentity(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	closes := make([]float64, 500)
	p := 1.1
	for i := range closes {
		p += (rng.Float64() - 0.5) * 0.002
		closes[i] = p
	}

	random := &strategy.Funcs{Tick: func(_ context.Context, t broker.Terminal) error {
		switch rng.IntN(4) {
		case 0:
			side := domain.OrderSideBuy
			if rng.IntN(2) == 0 {
				side = domain.OrderSideSell
			}
			_, err := t.OrderSend(broker.OrderRequest{Side: side, Volume: 0.1 * float64(1+rng.IntN(5))})
			return err
		case 1:
			if n := t.OrdersTotal(); n > 0 {
				if h, ok := t.OrderSelect(rng.IntN(n), broker.SelectByPos, broker.PoolTrades); ok {
					t.OrderClose(h.Ticket(), h.Lots(), 0, 0)
				}
			}
		}
		return nil
	}}

	r := NewRunner(Config{})
	checked := 0
	r.afterBar = func(bar int, e *broker.Emulator) {
		want := e.AccountBalance() + e.FloatingProfit()
		if !approx(e.AccountEquity(), want) {
			t.Fatalf("bar %d: equity %v != balance + floating %v", bar, e.AccountEquity(), want)
		}
		checked++
	}
	rep := r.Run(context.Background(), random, candles(closes...))
	if !rep.Success || checked != len(closes) {
		t.Fatalf("success = %v, checked %d bars", rep.Success, checked)
	}
	if !approx(rep.Results.FinalBalance, rep.Results.FinalEquity) {
		t.Errorf("final balance %v != equity %v", rep.Results.FinalBalance, rep.Results.FinalEquity)
	}
}

func TestTickPanicIsRecovered(t *testing.T) {
	ticks := 0
	s := &strategy.Funcs{Tick: func(_ context.Context, t broker.Terminal) error {
		ticks++
		switch t.Bars() {
		case 3:
			panic("index out of range")
		case 5:
			return errors.New("no signal")
		}
		return nil
	}}
	rep := newTestRunner().Run(context.Background(), s, candles(1, 2, 3, 4, 5, 6))
	if !rep.Success {
		t.Fatalf("run failed: %s", rep.Error)
	}
	if ticks != 6 || len(rep.Errors) != 2 {
		t.Fatalf("ticks = %d, errors = %v", ticks, rep.Errors)
	}
	if !strings.HasPrefix(rep.Errors[0], "bar 2 ") || !strings.Contains(rep.Errors[0], "index out of range") {
		t.Errorf("errors[0] = %q", rep.Errors[0])
	}
	if !strings.HasPrefix(rep.Errors[1], "bar 4 ") {
		t.Errorf("errors[1] = %q", rep.Errors[1])
	}
}

func TestInitFailureIsFatal(t *testing.T) {
	ticked := false
	s := &strategy.Funcs{
		Init: func(_ context.Context, t broker.Terminal) (int, error) {
			t.Print("checking inputs")
			return 3, nil
		},
		Tick: func(context.Context, broker.Terminal) error { ticked = true; return nil },
	}
	rep := newTestRunner().Run(context.Background(), s, candles(1, 2, 3))
	if rep.Success || rep.State != StateFailed || rep.Phase != StateInit || ticked {
		t.Fatalf("report = %+v, ticked = %v", rep, ticked)
	}
	var ie *InitError
	if !errors.As(rep.Err, &ie) || ie.Code != 3 {
		t.Errorf("err = %v, want InitError code 3", rep.Err)
	}
	if len(rep.Logs) != 1 || rep.Logs[0] != "checking inputs" {
		t.Errorf("logs = %v", rep.Logs)
	}
}

func TestDeinitPanicIsFatal(t *testing.T) {
	s := &strategy.Funcs{Deinit: func(context.Context, broker.Terminal) error { panic("boom") }}
	rep := newTestRunner().Run(context.Background(), s, candles(1, 2))
	var fe *RunFatalError
	if rep.Success || !errors.As(rep.Err, &fe) || fe.Phase != StateDeinit {
		t.Fatalf("report = %+v", rep)
	}
	var pe *PanicError
	if !errors.As(rep.Err, &pe) || pe.Value != "boom" {
		t.Errorf("err = %v", rep.Err)
	}
}

func TestCancelBetweenBars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &strategy.Funcs{Tick: func(_ context.Context, t broker.Terminal) error {
		t.Printf("bar %d", t.Bars()-1)
		if t.Bars() == 4 {
			cancel()
		}
		return nil
	}}
	rep := newTestRunner().Run(ctx, s, candles(1, 2, 3, 4, 5, 6, 7, 8))
	var fe *RunFatalError
	if rep.Success || !errors.As(rep.Err, &fe) {
		t.Fatalf("report = %+v", rep)
	}
	if fe.Bar != 4 || !errors.Is(rep.Err, context.Canceled) {
		t.Errorf("fatal = %+v", fe)
	}
	if len(rep.Logs) != 4 || rep.Logs[3] != "bar 3" {
		t.Errorf("logs = %v", rep.Logs)
	}
}

func TestProgressLogs(t *testing.T) {
	cs := make([]float64, 250)
	for i := range cs {
		cs[i] = 1
	}
	rep := NewRunner(Config{ProgressEvery: 100}).Run(context.Background(), &strategy.Funcs{}, candles(cs...))
	want := []string{"processed 100/250 bars", "processed 200/250 bars"}
	if !reflect.DeepEqual(rep.Logs, want) {
		t.Errorf("logs = %v, want %v", rep.Logs, want)
	}
}

func TestRunStrategyLoadError(t *testing.T) {
	rep := newTestRunner().RunStrategy(context.Background(), strategy.NewRegistry(), "missing", nil, candles(1))
	var le *strategy.LoadError
	if rep.Success || !errors.As(rep.Err, &le) || !errors.Is(rep.Err, strategy.ErrUnknownStrategy) {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Phase != StateInit || rep.State != StateFailed {
		t.Errorf("phase = %s, state = %s", rep.Phase, rep.State)
	}
}

func TestSweepKeepsJobOrder(t *testing.T) {
	reg := strategy.NewRegistry()
	reg.Register("once", func(p strategy.Params) (strategy.Strategy, error) {
		side := domain.OrderSide(p.String("side", "buy"))
		return buyOnce(0, 0, side), nil
	})
	cs := candles(1.1000, 1.1010, 1.1020)
	var jobs []Job
	for i := 0; i < 12; i++ {
		side := "buy"
		if i%2 == 1 {
			side = "sell"
		}
		jobs = append(jobs, Job{
			Strategy: "once",
			Params:   strategy.Params{"side": side},
			Config:   Config{InitialBalance: float64(1000 * (i + 1))},
			Candles:  cs,
		})
	}
	jobs = append(jobs, Job{Strategy: "missing", Candles: cs})

	reports, err := Sweep(context.Background(), reg, jobs, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != len(jobs) {
		t.Fatalf("got %d reports", len(reports))
	}
	for i, rep := range reports[:12] {
		if !rep.Success || rep.Results.InitialBalance != float64(1000*(i+1)) {
			t.Fatalf("report %d = %+v", i, rep)
		}
		side := rep.Results.Trades[0].Side
		if (i%2 == 0) != (side == domain.OrderSideBuy) {
			t.Errorf("report %d side = %s", i, side)
		}
	}
	if reports[12].Success {
		t.Error("unknown strategy job should fail")
	}
}

func TestStateText(t *testing.T) {
	b, err := json.Marshal(struct{ S State }{StateFinalizing})
	if err != nil || string(b) != `{"S":"finalizing"}` {
		t.Fatalf("marshal = %s, %v", b, err)
	}
	var s State
	if err := s.UnmarshalText([]byte("failed")); err != nil || s != StateFailed || !s.Terminal() {
		t.Errorf("unmarshal = %v, %v", s, err)
	}
	if StateRunning.Terminal() {
		t.Error("running is not terminal")
	}
}
