package store

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"mqlbt/internal/domain"
)

// csvTimeLayouts are tried in order for the time column. MetaTrader exports
// use dotted dates.
var csvTimeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// ReadCSV parses candles from a comma-, semicolon- or tab-separated file
// with columns time, open, high, low, close and an optional volume. The
// time may be split over a date and a time column as in MetaTrader
// exports, or be given as unix seconds. A header row is skipped. Candles
// are returned sorted by time.
func ReadCSV(r io.Reader) ([]domain.Candle, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(string(first))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var candles []domain.Candle
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		c, err := parseCandleRecord(rec)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

func sniffDelimiter(sample string) rune {
	line, _, _ := strings.Cut(sample, "\n")
	switch {
	case strings.Contains(line, "\t"):
		return '\t'
	case strings.Contains(line, ";"):
		return ';'
	default:
		return ','
	}
}

func parseCandleRecord(rec []string) (domain.Candle, error) {
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}
	ts, rest, err := parseCSVTime(rec)
	if err != nil {
		return domain.Candle{}, err
	}
	if len(rest) < 4 {
		return domain.Candle{}, fmt.Errorf("want open, high, low, close; got %d columns", len(rest))
	}
	var vals [5]float64
	n := min(len(rest), 5)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(rest[i], 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		vals[i] = v
	}
	return domain.Candle{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// parseCSVTime reads the time from the leading one or two columns and
// returns the remaining columns.
func parseCSVTime(rec []string) (time.Time, []string, error) {
	if len(rec) >= 2 && strings.Contains(rec[1], ":") {
		if t, ok := parseTime(rec[0] + " " + rec[1]); ok {
			return t, rec[2:], nil
		}
	}
	if t, ok := parseTime(rec[0]); ok {
		return t, rec[1:], nil
	}
	return time.Time{}, nil, fmt.Errorf("unrecognised time %q", rec[0])
}

func parseTime(s string) (time.Time, bool) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
