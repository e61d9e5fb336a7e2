// Package backtest drives a strategy bar by bar over historical candles
// against a broker.Emulator and scores the resulting trade history.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mqlbt/internal/broker"
	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

// Report is the outcome of one run. A failed run still carries every log
// line and tick error recorded before the failure.
type Report struct {
	Success bool     `json:"success"`
	Results *Result  `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
	Logs    []string `json:"logs"`
	Errors  []string `json:"errors"`
	// State is StateDone or StateFailed; Phase is the last phase entered.
	State State `json:"state"`
	Phase State `json:"phase"`

	// Err is the fatal error behind a failed run.
	Err error `json:"-"`
}

// Runner executes backtests with a fixed configuration. A Runner holds no
// per-run state and may be used from several goroutines.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	// afterBar, when set, is called after equity is updated on each bar.
	afterBar func(bar int, e *broker.Emulator)
}

// NewRunner creates a Runner. Unset fields of cfg take their defaults.
func NewRunner(cfg Config) *Runner {
	cfg = cfg.WithDefaults()
	return &Runner{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "backtest"),
	}
}

// Config returns the effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// RunStrategy instantiates name from reg and runs it. A strategy that
// cannot be loaded yields a failed Report.
func (r *Runner) RunStrategy(ctx context.Context, reg *strategy.Registry, name string, params strategy.Params, candles []domain.Candle) *Report {
	s, err := reg.New(name, params)
	if err != nil {
		x := r.newRun(nil, candles)
		return x.fail(err)
	}
	return r.Run(ctx, s, candles)
}

// Run replays candles through s and returns the scored Report. It never
// panics and never returns nil. Cancellation of ctx is observed between
// bars only.
func (r *Runner) Run(ctx context.Context, s strategy.Strategy, candles []domain.Candle) (rep *Report) {
	x := r.newRun(s, candles)
	defer func() {
		if v := recover(); v != nil {
			rep = x.fail(&RunFatalError{Phase: x.phase, Bar: x.bar, Err: &PanicError{Value: v}})
		}
	}()

	r.logger.Info("backtest started",
		"strategy", s.Name(),
		"symbol", r.cfg.Symbol,
		"timeframe", r.cfg.Timeframe,
		"bars", len(candles),
	)
	start := time.Now()

	if err := x.init(ctx); err != nil {
		return x.fail(err)
	}
	if err := x.loop(ctx); err != nil {
		return x.fail(err)
	}
	if err := x.deinit(ctx); err != nil {
		return x.fail(err)
	}
	rep = x.finalize()

	r.logger.Info("backtest finished",
		"strategy", s.Name(),
		"trades", rep.Results.TotalTrades,
		"net_profit", rep.Results.NetProfit,
		"tick_errors", len(rep.Errors),
		"elapsed", time.Since(start),
	)
	return rep
}

// run is the mutable state of a single backtest.
type run struct {
	*Runner
	strat   strategy.Strategy
	candles []domain.Candle
	emu     *broker.Emulator

	phase State
	bar   int
	logs  []string
	errs  []string
}

func (r *Runner) newRun(s strategy.Strategy, candles []domain.Candle) *run {
	x := &run{
		Runner:  r,
		strat:   s,
		candles: candles,
		phase:   StateInit,
		bar:     -1,
		logs:    []string{},
		errs:    []string{},
	}
	x.emu = broker.New(candles, broker.Options{
		InitialBalance: r.cfg.InitialBalance,
		Symbol:         r.cfg.Symbol,
		Spread:         r.cfg.Spread,
		Commission:     *r.cfg.Commission,
		Output:         x.log,
		Logger:         r.cfg.Logger,
	})
	return x
}

func (x *run) log(line string) { x.logs = append(x.logs, line) }

func (x *run) init(ctx context.Context) error {
	h, ok := x.strat.(strategy.Initializer)
	if !ok {
		return nil
	}
	var code int
	err := guard(func() (err error) {
		code, err = h.OnInit(ctx, x.emu)
		return err
	})
	var pe *PanicError
	if errors.As(err, &pe) {
		return &RunFatalError{Phase: StateInit, Bar: -1, Err: err}
	}
	if code != 0 || err != nil {
		return &InitError{Code: code, Err: err}
	}
	return nil
}

func (x *run) loop(ctx context.Context) error {
	x.phase = StateRunning
	tick, _ := x.strat.(strategy.Ticker)
	n := len(x.candles)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return &RunFatalError{Phase: StateRunning, Bar: i, Err: err}
		}
		x.bar = i
		x.emu.SetCursor(i)
		x.emu.CheckStops()
		if tick != nil {
			if err := guard(func() error { return tick.OnTick(ctx, x.emu) }); err != nil {
				te := &TickError{Bar: i, Time: x.candles[i].Time, Err: err}
				x.errs = append(x.errs, te.Error())
				x.logger.Warn("tick failed", "bar", i, "error", err)
			}
		}
		x.emu.UpdateEquity()
		if x.afterBar != nil {
			x.afterBar(i, x.emu)
		}
		if (i+1)%x.cfg.ProgressEvery == 0 {
			msg := fmt.Sprintf("processed %d/%d bars", i+1, n)
			x.log(msg)
			x.logger.Info(msg, "bar", i, "equity", x.emu.AccountEquity())
		}
	}
	return nil
}

func (x *run) deinit(ctx context.Context) error {
	x.phase = StateDeinit
	x.bar = -1
	if h, ok := x.strat.(strategy.Deinitializer); ok {
		if err := guard(func() error { return h.OnDeinit(ctx, x.emu) }); err != nil {
			return &RunFatalError{Phase: StateDeinit, Bar: -1, Err: err}
		}
	}
	if n := x.emu.CloseAll(domain.CloseEndOfTest); n > 0 {
		x.logger.Debug("closed open orders at end of test", "count", n)
	}
	x.emu.UpdateEquity()
	return nil
}

func (x *run) finalize() *Report {
	x.phase = StateFinalizing
	res := ComputeResult(
		x.emu.History(),
		x.emu.EquityCurve(),
		x.cfg.InitialBalance,
		x.emu.AccountBalance(),
		x.emu.AccountEquity(),
		x.cfg.MaxTrades,
	)
	res.BarsProcessed = len(x.candles)
	return &Report{
		Success: true,
		Results: res,
		Logs:    x.logs,
		Errors:  x.errs,
		State:   StateDone,
		Phase:   StateFinalizing,
	}
}

func (x *run) fail(err error) *Report {
	x.logger.Error("backtest failed", "phase", x.phase, "bar", x.bar, "error", err)
	return &Report{
		Success: false,
		Error:   err.Error(),
		Logs:    x.logs,
		Errors:  x.errs,
		State:   StateFailed,
		Phase:   x.phase,
		Err:     err,
	}
}

// guard calls fn and converts a panic into a *PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return fn()
}
