// Package gather downloads historical candles from market-data providers
// into a store.CandleStore.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mqlbt/internal/domain"
	"mqlbt/internal/store"
)

// Fetcher retrieves historical candles from a provider.
type Fetcher interface {
	// Name returns the provider identifier.
	Name() string
	// Fetch returns candles for symbol within [start, end], sorted by time.
	Fetch(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Chunks splits r into consecutive windows of at most size. The last
// window ends at r.End.
func (r DateRange) Chunks(size time.Duration) []DateRange {
	if size <= 0 || !r.Start.Before(r.End) {
		return []DateRange{r}
	}
	var out []DateRange
	for s := r.Start; s.Before(r.End); s = s.Add(size) {
		out = append(out, DateRange{Start: s, End: minTime(s.Add(size), r.End)})
	}
	return out
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// StorageSymbol is the name candles for symbol are stored under. Pair
// separators such as the slash in "BTC/USD" are dropped.
func StorageSymbol(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "", "_", "").Replace(symbol))
}

// Download fetches [r.Start, r.End] in chunks of chunk length and writes
// each chunk to dst as it arrives. It returns the number of candles
// stored.
func Download(ctx context.Context, f Fetcher, dst store.CandleStore, symbol string, tf domain.Timeframe, r DateRange, chunk time.Duration) (int, error) {
	log := slog.Default().With("fetcher", f.Name(), "symbol", symbol, "timeframe", tf)
	total := 0
	chunks := r.Chunks(chunk)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		candles, err := f.Fetch(ctx, symbol, tf, c.Start, c.End)
		if err != nil {
			return total, fmt.Errorf("fetching %s %s: %w", symbol, c.Start.Format(time.DateOnly), err)
		}
		if err := dst.WriteCandles(ctx, StorageSymbol(symbol), tf, candles); err != nil {
			return total, fmt.Errorf("storing %s: %w", symbol, err)
		}
		total += len(candles)
		log.Info("chunk stored",
			"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)),
			"from", c.Start.Format(time.DateOnly),
			"candles", len(candles),
		)
	}
	return total, nil
}
