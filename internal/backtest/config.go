package backtest

import (
	"log/slog"

	"mqlbt/internal/broker"
)

// Config holds the parameters of a single run. Zero fields take the values
// from Defaults; Spread and Commission are pointers so that an explicit
// zero is kept.
type Config struct {
	InitialBalance float64  `json:"initial_balance" yaml:"initial_balance"`
	Symbol         string   `json:"symbol" yaml:"symbol"`
	Timeframe      string   `json:"timeframe" yaml:"timeframe"`
	Spread         *float64 `json:"spread,omitempty" yaml:"spread"`
	Commission     *float64 `json:"commission,omitempty" yaml:"commission"`
	MaxTrades      int      `json:"max_trades,omitempty" yaml:"max_trades"`
	ProgressEvery  int      `json:"progress_every,omitempty" yaml:"progress_every"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

// Defaults returns the default run configuration.
func Defaults() Config {
	commission := float64(broker.DefaultCommission)
	return Config{
		InitialBalance: 10000,
		Symbol:         "EURUSD",
		Timeframe:      "H1",
		Commission:     &commission,
		MaxTrades:      1000,
		ProgressEvery:  100,
	}
}

// WithDefaults returns c with every unset field filled from Defaults.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.InitialBalance <= 0 {
		c.InitialBalance = d.InitialBalance
	}
	if c.Symbol == "" {
		c.Symbol = d.Symbol
	}
	if c.Timeframe == "" {
		c.Timeframe = d.Timeframe
	}
	if c.Commission == nil {
		c.Commission = d.Commission
	}
	if c.MaxTrades <= 0 {
		c.MaxTrades = d.MaxTrades
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = d.ProgressEvery
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
