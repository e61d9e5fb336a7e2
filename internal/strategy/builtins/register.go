package builtins

import "mqlbt/internal/strategy"

// Register adds every built-in strategy to reg.
func Register(reg *strategy.Registry) {
	reg.RegisterInfo(strategy.Info{
		Name:        "sma-cross",
		Description: "Moving-average crossover, always in the market once a cross has occurred",
		Defaults:    strategy.Params{"fast": 10.0, "slow": 30.0, "method": 0.0, "lots": 0.1, "sl_points": 0.0, "tp_points": 0.0},
	}, NewSMACross)
	reg.RegisterInfo(strategy.Info{
		Name:        "rsi-reversal",
		Description: "Mean reversion on RSI extremes with exit at the midline",
		Defaults:    strategy.Params{"period": 14.0, "oversold": 30.0, "overbought": 70.0, "lots": 0.1, "sl_points": 300.0, "tp_points": 600.0},
	}, NewRSIReversal)
}
