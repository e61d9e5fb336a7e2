package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mqlbt/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	cp := ps.candlePath("eurusd", domain.H1, 2024)
	want := filepath.Join("/data", "EURUSD", "H1", "2024.parquet")
	if cp != want {
		t.Errorf("candlePath mismatch:\n  got  %s\n  want %s", cp, want)
	}
}

func hourly(start time.Time, closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{Time: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 0.001, Low: c - 0.001, Close: c, Volume: float64(100 + i)}
	}
	return out
}

func TestParquetStoreWriteReadCandles(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	// Two candles in 2023, two in 2024.
	start := time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC)
	candles := hourly(start, 1.10, 1.11, 1.12, 1.13)
	if err := ps.WriteCandles(ctx, "EURUSD", domain.H1, candles); err != nil {
		t.Fatalf("WriteCandles: %v", err)
	}

	got, err := ps.ReadCandles(ctx, "eurusd", domain.H1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("ReadCandles returned %d candles, want 4", len(got))
	}
	for i := range got {
		if !got[i].Time.Equal(candles[i].Time) || got[i].Close != candles[i].Close || got[i].Volume != candles[i].Volume {
			t.Errorf("candle %d = %+v, want %+v", i, got[i], candles[i])
		}
	}

	ranged, err := ps.ReadCandles(ctx, "EURUSD", domain.H1, candles[1].Time, candles[2].Time)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 2 || ranged[0].Close != 1.11 || ranged[1].Close != 1.12 {
		t.Errorf("ranged read = %+v", ranged)
	}

	none, err := ps.ReadCandles(ctx, "EURUSD", domain.D1, time.Time{}, time.Time{})
	if err != nil || len(none) != 0 {
		t.Errorf("other timeframe = %v, %v", none, err)
	}
}

func TestParquetStoreMergesByTimestamp(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteCandles(ctx, "GBPUSD", domain.H1, hourly(start, 1.25, 1.26)); err != nil {
		t.Fatal(err)
	}
	// Overlaps the second candle and adds a third.
	if err := ps.WriteCandles(ctx, "GBPUSD", domain.H1, hourly(start.Add(time.Hour), 1.30, 1.31)); err != nil {
		t.Fatal(err)
	}
	got, err := ps.ReadCandles(ctx, "GBPUSD", domain.H1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Close != 1.25 || got[1].Close != 1.30 || got[2].Close != 1.31 {
		t.Errorf("merged = %+v", got)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	syms, err := ps.ListSymbols(ctx)
	if err != nil || len(syms) != 0 {
		t.Fatalf("empty store: %v, %v", syms, err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"usdjpy", "EURUSD"} {
		if err := ps.WriteCandles(ctx, s, domain.M15, hourly(start, 1)); err != nil {
			t.Fatal(err)
		}
	}
	syms, err = ps.ListSymbols(ctx)
	if err != nil || strings.Join(syms, ",") != "EURUSD,USDJPY" {
		t.Errorf("ListSymbols = %v, %v", syms, err)
	}

	missing, err := NewParquetStore(filepath.Join(t.TempDir(), "nope")).ListSymbols(ctx)
	if err != nil || missing != nil {
		t.Errorf("missing dir = %v, %v", missing, err)
	}
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run := &RunRecord{
		ID:          "run-1",
		Strategy:    "sma-cross",
		Symbol:      "EURUSD",
		Timeframe:   "H1",
		Params:      json.RawMessage(`{"fast":5}`),
		Success:     true,
		NetProfit:   493,
		TotalTrades: 1,
		CreatedAt:   created,
		Report:      json.RawMessage(`{"success":true}`),
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "sma-cross" || !got.Success || got.NetProfit != 493 || !got.CreatedAt.Equal(created) {
		t.Errorf("GetRun = %+v", got)
	}
	if string(got.Params) != `{"fast":5}` || string(got.Report) != `{"success":true}` {
		t.Errorf("params = %s, report = %s", got.Params, got.Report)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListRunsNewestFirst(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		err := s.SaveRun(ctx, &RunRecord{
			ID: id, Strategy: "rsi-reversal", Symbol: "EURUSD", Timeframe: "H1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute), Report: json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("ListRuns = %+v", runs)
	}
	if runs[0].Report != nil || string(runs[0].Params) != "{}" {
		t.Errorf("summary row = %+v", runs[0])
	}
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	for i := 0; i < 2; i++ {
		s, err := NewSQLiteStore(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		var version int
		if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil || version != len(migrations) {
			t.Errorf("user_version = %d, %v", version, err)
		}
		s.Close()
	}
}

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		first time.Time
		n     int
	}{
		{
			name: "metatrader export",
			input: "<DATE>\t<TIME>\t<OPEN>\t<HIGH>\t<LOW>\t<CLOSE>\t<TICKVOL>\n" +
				"2024.01.02\t01:00:00\t1.1040\t1.1050\t1.1030\t1.1045\t900\n" +
				"2024.01.02\t00:00:00\t1.1030\t1.1045\t1.1020\t1.1040\t812\n",
			first: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			n:     2,
		},
		{
			name:  "single time column",
			input: "time,open,high,low,close,volume\n2024.03.01 15:04,1.2,1.3,1.1,1.25,10\n",
			first: time.Date(2024, 3, 1, 15, 4, 0, 0, time.UTC),
			n:     1,
		},
		{
			name:  "rfc3339 without volume",
			input: "2024-03-01T10:00:00Z;1;2;0.5;1.5\n",
			first: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			n:     1,
		},
		{
			name:  "unix seconds",
			input: "1704067200,1,1,1,1,0\n\n1704070800,1,1,1,1,0\n",
			first: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			n:     2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ReadCSV: %v", err)
			}
			if len(got) != tt.n || !got[0].Time.Equal(tt.first) {
				t.Fatalf("got %+v", got)
			}
		})
	}

	c, err := ReadCSV(strings.NewReader("2024.01.02 00:00,1.1,1.2,1.0,1.15,42\n"))
	if err != nil || c[0].Open != 1.1 || c[0].High != 1.2 || c[0].Low != 1.0 || c[0].Close != 1.15 || c[0].Volume != 42 {
		t.Errorf("columns = %+v, %v", c, err)
	}

	if _, err := ReadCSV(strings.NewReader("2024.01.02 00:00,1,1,1,1\nbad,1,1,1,1\n")); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("bad row err = %v", err)
	}
}
