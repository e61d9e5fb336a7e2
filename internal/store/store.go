// Package store defines storage interfaces for historical candles and
// backtest run history, with Parquet and SQLite implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mqlbt/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CandleStore persists and retrieves OHLCV candles per symbol and
// timeframe.
type CandleStore interface {
	// WriteCandles merges candles into storage, replacing any stored candle
	// with the same timestamp.
	WriteCandles(ctx context.Context, symbol string, tf domain.Timeframe, candles []domain.Candle) error

	// ReadCandles returns candles within [start, end] sorted by time. A zero
	// start or end leaves that side unbounded.
	ReadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all symbols with stored candles.
	ListSymbols(ctx context.Context) ([]string, error)
}

// RunRecord is one persisted backtest.
type RunRecord struct {
	ID          string          `json:"id"`
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Params      json.RawMessage `json:"params,omitempty"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	NetProfit   float64         `json:"net_profit"`
	TotalTrades int             `json:"total_trades"`
	CreatedAt   time.Time       `json:"created_at"`
	// Report is the full encoded report. ListRuns leaves it empty.
	Report json.RawMessage `json:"report,omitempty"`
}

// RunStore persists backtest run history.
type RunStore interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun returns the run with the given ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns up to limit runs, newest first, without reports.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
