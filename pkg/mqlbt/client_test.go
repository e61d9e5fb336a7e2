package mqlbt

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mqlbt/internal/api"
	"mqlbt/internal/backtest"
	"mqlbt/internal/domain"
	"mqlbt/internal/store"
	"mqlbt/internal/strategy"
	"mqlbt/internal/strategy/builtins"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newTestServer(t *testing.T) *Client {
	t.Helper()
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })

	reg := strategy.NewRegistry()
	builtins.Register(reg)
	svc := api.NewService(api.Options{Registry: reg, Runs: runs, Defaults: backtest.Config{}})
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

// wave oscillates so crossover strategies trade.
func wave(n int) []domain.Candle {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := range out {
		c := 1.1 + 0.01*math.Sin(float64(i)/6)
		out[i] = domain.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: c, High: c + 0.0005, Low: c - 0.0005, Close: c}
	}
	return out
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	infos, err := c.Strategies(ctx)
	if err != nil || len(infos) == 0 {
		t.Fatalf("strategies = %v, %v", infos, err)
	}

	resp, err := c.RunBacktest(ctx, &BacktestRequest{Strategy: "sma-cross", Candles: wave(200)})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Results == nil || resp.Results.BarsProcessed != 200 {
		t.Fatalf("resp = %+v", resp.Report)
	}

	runs, err := c.Runs(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
	run, err := c.GetRun(ctx, resp.RunID)
	if err != nil || run.ID != resp.RunID || len(run.Report) == 0 {
		t.Errorf("run = %+v, %v", run, err)
	}

	parsed, err := c.Parse(ctx, "input int N = 3;\nvoid OnTick() {}")
	if err != nil || !parsed.Success || len(parsed.Inputs) != 1 {
		t.Errorf("parsed = %+v, %v", parsed, err)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestServer(t)
	ctx := context.Background()

	_, err := c.RunBacktest(ctx, &BacktestRequest{Strategy: "missing", Candles: wave(3)})
	var e *Error
	if !errors.As(err, &e) || e.Code != api.CodeInvalidStrategy {
		t.Errorf("err = %v, want %s", err, api.CodeInvalidStrategy)
	}
	if _, err := c.GetRun(ctx, "nope"); !errors.As(err, &e) || e.Code != api.CodeNotFound {
		t.Errorf("err = %v, want %s", err, api.CodeNotFound)
	}
}
