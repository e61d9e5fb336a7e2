package backtest

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"mqlbt/internal/domain"
)

func closed(day int, side domain.OrderSide, profit, commission float64) domain.Order {
	ct := t0.AddDate(0, 0, day)
	return domain.Order{
		Ticket:     day,
		Side:       side,
		Volume:     1,
		OpenTime:   t0,
		Profit:     profit,
		Commission: commission,
		CloseTime:  &ct,
	}
}

// sample returns five trades out of close-time order.
func sample() []domain.Order {
	return []domain.Order{
		closed(5, domain.OrderSideBuy, -30, 0),
		closed(3, domain.OrderSideSell, -50, 0),
		closed(1, domain.OrderSideSell, 100, 0),
		closed(4, domain.OrderSideBuy, 0, 0),
		closed(2, domain.OrderSideBuy, 200, 0),
	}
}

func TestComputeResultMetrics(t *testing.T) {
	r := ComputeResult(sample(), nil, 1000, 1220, 1220, 0)

	if r.TotalTrades != 5 || r.WinningTrades != 2 || r.LosingTrades != 2 || r.WinRate != 40 {
		t.Errorf("counts = %d/%d/%d, win rate %v", r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	}
	checks := []struct {
		name      string
		got, want float64
	}{
		{"gross profit", r.GrossProfit, 300},
		{"gross loss", r.GrossLoss, 80},
		{"net profit", r.NetProfit, 220},
		{"profit factor", r.ProfitFactor, 3.75},
		{"average win", r.AverageWin, 150},
		{"average loss", r.AverageLoss, 40},
		{"largest win", r.LargestWin, 200},
		{"largest loss", r.LargestLoss, 50},
		{"average trade", r.AverageTrade, 44},
		{"expectancy", r.Expectancy, 36},
		{"max drawdown", r.MaxDrawdown, 80},
		{"max drawdown %", r.MaxDrawdownPercent, 80.0 / 1300 * 100},
		{"drawdown days", r.MaxDrawdownDuration, 3},
		{"recovery factor", r.RecoveryFactor, 2.75},
		{"total return", r.TotalReturn, 22},
		{"sortino", r.SortinoRatio, 4.4},
	}
	for _, c := range checks {
		if !approx(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if r.SharpeRatio <= 0 {
		t.Errorf("sharpe = %v, want > 0", r.SharpeRatio)
	}
	// W W L 0 L: the zero trade breaks the losing run.
	if r.MaxConsecutiveWins != 2 || r.MaxConsecutiveLosses != 1 {
		t.Errorf("streaks = %d/%d", r.MaxConsecutiveWins, r.MaxConsecutiveLosses)
	}
	for i := 1; i < len(r.Trades); i++ {
		if r.Trades[i].CloseTime.Before(*r.Trades[i-1].CloseTime) {
			t.Fatalf("trades not in close order: %v", r.Trades)
		}
	}

	if r.Short.Trades != 2 || r.Short.Wins != 1 || r.Short.Losses != 1 || r.Short.ProfitFactor != 2 {
		t.Errorf("short = %+v", r.Short)
	}
	if r.Long.Trades != 3 || !approx(r.Long.WinRate, 100.0/3) || !approx(r.Long.NetProfit, 170) {
		t.Errorf("long = %+v", r.Long)
	}
}

func TestComputeResultIsIdempotent(t *testing.T) {
	in := sample()
	before := make([]domain.Order, len(in))
	copy(before, in)
	curve := []domain.EquityPoint{{Time: t0, Balance: 1000, Equity: 1000}}

	a := ComputeResult(in, curve, 1000, 1220, 1220, 3)
	b := ComputeResult(in, curve, 1000, 1220, 1220, 3)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("results differ:\n%+v\n%+v", a, b)
	}
	if !reflect.DeepEqual(in, before) {
		t.Error("history was reordered")
	}
	if len(a.Trades) != 3 || a.TotalTradeCount != 5 {
		t.Errorf("trades = %d, total = %d", len(a.Trades), a.TotalTradeCount)
	}
}

func TestComputeResultConventions(t *testing.T) {
	tests := []struct {
		name    string
		history []domain.Order
		pf      float64
	}{
		{"none", nil, 0},
		{"only wins", []domain.Order{closed(1, domain.OrderSideBuy, 10, -7)}, profitFactorCap},
		{"only flat", []domain.Order{closed(1, domain.OrderSideBuy, 0, 0), closed(2, domain.OrderSideBuy, 0, 0)}, 0},
		{"only losses", []domain.Order{closed(1, domain.OrderSideBuy, -10, 0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ComputeResult(tt.history, nil, 10000, 10000, 10000, 1000)
			if r.ProfitFactor != tt.pf {
				t.Errorf("profit factor = %v, want %v", r.ProfitFactor, tt.pf)
			}
			if r.SharpeRatio != 0 || r.SortinoRatio != 0 {
				t.Errorf("ratios = %v/%v with fewer than two varied trades", r.SharpeRatio, r.SortinoRatio)
			}
			if _, err := json.Marshal(r); err != nil {
				t.Errorf("marshal: %v", err)
			}
		})
	}
}

func TestComputeResultZeroBalanceIsFinite(t *testing.T) {
	r := ComputeResult(sample(), nil, 0, 0, 0, 0)
	v := reflect.ValueOf(*r)
	for i := 0; i < v.NumField(); i++ {
		if f, ok := v.Field(i).Interface().(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			t.Errorf("%s = %v", v.Type().Field(i).Name, f)
		}
	}
}

func TestDrawdownDurationFromPeak(t *testing.T) {
	trades := []domain.Order{
		closed(2, domain.OrderSideBuy, 100, 0),
		closed(4, domain.OrderSideBuy, -40, 0),
		closed(9, domain.OrderSideBuy, -10, 0),
	}
	abs, _, days := drawdown(trades, 1000)
	if abs != 50 || days != 7 {
		t.Errorf("drawdown = %v over %v days, want 50 over 7", abs, days)
	}
}
