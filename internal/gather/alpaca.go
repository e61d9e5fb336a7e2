package gather

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"mqlbt/internal/domain"
	"mqlbt/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// barsClient is the subset of *marketdata.Client the fetcher uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
}

// AlpacaOptions configures an AlpacaFetcher.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	// Feed is the stock data feed, "iex" or "sip". Defaults to iex.
	Feed string
	// RateLimitPerMin bounds API calls. Defaults to 200.
	RateLimitPerMin int
	// MaxAttempts per request. Defaults to 3.
	MaxAttempts int
	// RegularHours drops intraday stock bars outside the NYSE session.
	RegularHours bool
}

// AlpacaFetcher downloads stock and crypto bars from the Alpaca market-data
// API. Symbols containing a slash, such as "BTC/USD", are crypto pairs.
type AlpacaFetcher struct {
	client   barsClient
	opts     AlpacaOptions
	limiter  *util.RateLimiter
	calendar *util.TradingCalendar
	backoff  time.Duration
	log      *slog.Logger
}

// NewAlpacaFetcher creates an AlpacaFetcher configured with the given
// Alpaca credentials.
func NewAlpacaFetcher(opts AlpacaOptions) *AlpacaFetcher {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	return newAlpacaFetcher(marketdata.NewClient(co), opts)
}

func newAlpacaFetcher(client barsClient, opts AlpacaOptions) *AlpacaFetcher {
	if opts.Feed == "" {
		opts.Feed = marketdata.IEX
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 200
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &AlpacaFetcher{
		client:   client,
		opts:     opts,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin),
		calendar: util.NewTradingCalendar(util.MarketUS),
		backoff:  time.Second,
		log:      slog.Default().With("fetcher", "alpaca"),
	}
}

// Name returns the fetcher identifier.
func (f *AlpacaFetcher) Name() string { return "alpaca" }

// Fetch retrieves bars for symbol within [start, end].
func (f *AlpacaFetcher) Fetch(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	frame, err := alpacaTimeFrame(tf)
	if err != nil {
		return nil, err
	}

	var candles []domain.Candle
	fetch := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		if strings.Contains(symbol, "/") {
			candles, err = f.fetchCrypto(symbol, frame, start, end)
		} else {
			candles, err = f.fetchStock(symbol, frame, start, end)
		}
		return err
	}
	err = util.RetryNotify(ctx, f.opts.MaxAttempts, f.backoff, fetch, func(attempt int, err error, delay time.Duration) {
		f.log.Warn("request failed, retrying", "symbol", symbol, "attempt", attempt, "delay", delay, "error", err)
	})
	if err != nil {
		return nil, err
	}

	if f.opts.RegularHours && !strings.Contains(symbol, "/") && tf.Duration() < 24*time.Hour {
		kept := candles[:0]
		for _, c := range candles {
			if f.calendar.IsMarketOpen(c.Time) {
				kept = append(kept, c)
			}
		}
		candles = kept
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

func (f *AlpacaFetcher) fetchStock(symbol string, frame marketdata.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	bars, err := f.client.GetBars(strings.ToUpper(symbol), marketdata.GetBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
		Feed:      f.opts.Feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}
	out := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Candle{
			Time:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	return out, nil
}

func (f *AlpacaFetcher) fetchCrypto(symbol string, frame marketdata.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	bars, err := f.client.GetCryptoBars(strings.ToUpper(symbol), marketdata.GetCryptoBarsRequest{
		TimeFrame: frame,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars: %w", err)
	}
	out := make([]domain.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, domain.Candle{
			Time:   b.Timestamp.UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return out, nil
}

// alpacaTimeFrame maps a MetaTrader timeframe to an Alpaca bar size.
func alpacaTimeFrame(tf domain.Timeframe) (marketdata.TimeFrame, error) {
	switch tf {
	case domain.M1:
		return marketdata.OneMin, nil
	case domain.M5:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case domain.M15:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case domain.M30:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case domain.H1:
		return marketdata.OneHour, nil
	case domain.H4:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case domain.D1:
		return marketdata.OneDay, nil
	case domain.W1:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case domain.MN1:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("timeframe %q not supported by alpaca", tf)
}
