package backtest

import (
	"math"
	"sort"
	"time"

	"mqlbt/internal/domain"
)

// profitFactorCap is reported as the profit factor when there are winning
// trades and no losing ones.
const profitFactorCap = 999

// SideStats summarises the closed trades of one order side.
type SideStats struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	NetProfit    float64 `json:"net_profit"`
	ProfitFactor float64 `json:"profit_factor"`
}

// Result is the scored outcome of a run.
type Result struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	FinalEquity    float64 `json:"final_equity"`

	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	GrossProfit     float64 `json:"gross_profit"`
	GrossLoss       float64 `json:"gross_loss"`
	NetProfit       float64 `json:"net_profit"`
	TotalCommission float64 `json:"total_commission"`
	ProfitFactor    float64 `json:"profit_factor"`

	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	AverageTrade float64 `json:"average_trade"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	MaxDrawdown         float64 `json:"max_drawdown"`
	MaxDrawdownPercent  float64 `json:"max_drawdown_percent"`
	MaxDrawdownDuration float64 `json:"max_drawdown_duration_days"`

	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	Expectancy     float64 `json:"expectancy"`
	RecoveryFactor float64 `json:"recovery_factor"`
	TotalReturn    float64 `json:"total_return_percent"`

	Long  SideStats `json:"long"`
	Short SideStats `json:"short"`

	Trades          []domain.Order       `json:"trades"`
	TotalTradeCount int                  `json:"total_trade_count"`
	EquityCurve     []domain.EquityPoint `json:"equity_curve"`
	BarsProcessed   int                  `json:"bars_processed"`
}

// ComputeResult scores a closed-trade history. It does not modify its
// inputs and returns the same Result for the same arguments. Trades are
// considered in close-time order; at most maxTrades of them are copied
// into Result.Trades.
func ComputeResult(history []domain.Order, curve []domain.EquityPoint, initialBalance, finalBalance, finalEquity float64, maxTrades int) *Result {
	trades := make([]domain.Order, len(history))
	copy(trades, history)
	sort.SliceStable(trades, func(i, j int) bool {
		return closeTime(trades[i]).Before(closeTime(trades[j]))
	})

	r := &Result{
		InitialBalance:  initialBalance,
		FinalBalance:    finalBalance,
		FinalEquity:     finalEquity,
		TotalTrades:     len(trades),
		TotalTradeCount: len(trades),
		Trades:          []domain.Order{},
		EquityCurve:     []domain.EquityPoint{},
	}
	if maxTrades <= 0 || maxTrades > len(trades) {
		maxTrades = len(trades)
	}
	r.Trades = append(r.Trades, trades[:maxTrades]...)
	r.EquityCurve = append(r.EquityCurve, curve...)

	var long, short []domain.Order
	for _, t := range trades {
		r.TotalCommission += t.Commission
		r.NetProfit += t.Profit + t.Commission
		if t.Profit > 0 {
			r.WinningTrades++
			r.GrossProfit += t.Profit
			r.LargestWin = math.Max(r.LargestWin, t.Profit)
		} else if t.Profit < 0 {
			r.LosingTrades++
			r.GrossLoss += -t.Profit
			r.LargestLoss = math.Max(r.LargestLoss, -t.Profit)
		}
		if t.Side == domain.OrderSideSell {
			short = append(short, t)
		} else {
			long = append(long, t)
		}
	}

	if r.TotalTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades) * 100
		r.AverageTrade = r.NetProfit / float64(r.TotalTrades)
	}
	if r.WinningTrades > 0 {
		r.AverageWin = r.GrossProfit / float64(r.WinningTrades)
	}
	if r.LosingTrades > 0 {
		r.AverageLoss = r.GrossLoss / float64(r.LosingTrades)
	}
	r.ProfitFactor = profitFactor(r.GrossProfit, r.GrossLoss)

	winFrac := r.WinRate / 100
	r.Expectancy = winFrac*r.AverageWin - (1-winFrac)*r.AverageLoss

	r.MaxConsecutiveWins, r.MaxConsecutiveLosses = streaks(trades)
	r.MaxDrawdown, r.MaxDrawdownPercent, r.MaxDrawdownDuration = drawdown(trades, initialBalance)
	r.SharpeRatio, r.SortinoRatio = riskRatios(trades, initialBalance)

	if r.MaxDrawdown > 0 {
		r.RecoveryFactor = r.NetProfit / r.MaxDrawdown
	}
	if initialBalance > 0 {
		r.TotalReturn = (finalBalance - initialBalance) / initialBalance * 100
	}

	r.Long = sideStats(long)
	r.Short = sideStats(short)
	sanitize(r)
	return r
}

func closeTime(o domain.Order) time.Time {
	if o.CloseTime != nil {
		return *o.CloseTime
	}
	return o.OpenTime
}

func profitFactor(gross, loss float64) float64 {
	switch {
	case loss > 0:
		return gross / loss
	case gross > 0:
		return profitFactorCap
	default:
		return 0
	}
}

// streaks returns the longest runs of winning and losing trades. A trade
// with zero profit ends both runs.
func streaks(trades []domain.Order) (maxWins, maxLosses int) {
	var wins, losses int
	for _, t := range trades {
		switch {
		case t.Profit > 0:
			wins++
			losses = 0
		case t.Profit < 0:
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		maxWins = max(maxWins, wins)
		maxLosses = max(maxLosses, losses)
	}
	return maxWins, maxLosses
}

// drawdown replays the net result of each trade onto the initial balance
// and reports the deepest decline from a running peak. The duration is the
// number of days from the peak of the deepest episode to the trade that
// set it.
func drawdown(trades []domain.Order, initialBalance float64) (abs, pct, days float64) {
	if len(trades) == 0 {
		return 0, 0, 0
	}
	running := initialBalance
	peak := initialBalance
	peakTime := trades[0].OpenTime
	for _, t := range trades {
		running += t.Profit + t.Commission
		at := closeTime(t)
		if running > peak {
			peak = running
			peakTime = at
			continue
		}
		dd := peak - running
		if dd > abs {
			abs = dd
			days = at.Sub(peakTime).Hours() / 24
		}
		if peak > 0 {
			pct = math.Max(pct, dd/peak*100)
		}
	}
	return abs, pct, days
}

// riskRatios computes per-trade Sharpe and Sortino ratios from returns
// relative to the initial balance.
func riskRatios(trades []domain.Order, initialBalance float64) (sharpe, sortino float64) {
	if len(trades) < 2 || initialBalance <= 0 {
		return 0, 0
	}
	returns := make([]float64, len(trades))
	var negative []float64
	for i, t := range trades {
		returns[i] = (t.Profit + t.Commission) / initialBalance
		if returns[i] < 0 {
			negative = append(negative, returns[i])
		}
	}
	m := mean(returns)
	if sd := stddev(returns); sd > 0 {
		sharpe = m / sd
	}
	if sd := stddev(negative); sd > 0 {
		sortino = m / sd
	}
	return sharpe, sortino
}

func sideStats(trades []domain.Order) SideStats {
	var s SideStats
	s.Trades = len(trades)
	for _, t := range trades {
		s.NetProfit += t.Profit + t.Commission
		if t.Profit > 0 {
			s.Wins++
			s.GrossProfit += t.Profit
		} else if t.Profit < 0 {
			s.Losses++
			s.GrossLoss += -t.Profit
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	s.ProfitFactor = profitFactor(s.GrossProfit, s.GrossLoss)
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// sanitize replaces any non-finite metric with zero so a Result always
// encodes as JSON.
func sanitize(r *Result) {
	for _, f := range []*float64{
		&r.WinRate, &r.GrossProfit, &r.GrossLoss, &r.NetProfit, &r.TotalCommission,
		&r.ProfitFactor, &r.AverageWin, &r.AverageLoss, &r.LargestWin, &r.LargestLoss,
		&r.AverageTrade, &r.MaxDrawdown, &r.MaxDrawdownPercent, &r.MaxDrawdownDuration,
		&r.SharpeRatio, &r.SortinoRatio, &r.Expectancy, &r.RecoveryFactor, &r.TotalReturn,
		&r.FinalBalance, &r.FinalEquity,
		&r.Long.WinRate, &r.Long.NetProfit, &r.Long.ProfitFactor,
		&r.Short.WinRate, &r.Short.NetProfit, &r.Short.ProfitFactor,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
}
