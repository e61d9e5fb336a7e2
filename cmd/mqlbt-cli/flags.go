package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"mqlbt/internal/api"
	"mqlbt/internal/strategy"
)

// paramFlag collects repeated key=value flags.
type paramFlag map[string]any

func (p paramFlag) String() string { return formatParams(strategy.Params(p)) }

func (p paramFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("parameter %q is not key=value", s)
	}
	p[k] = parseValue(v)
	return nil
}

// gridFlag collects repeated key=v1,v2 flags.
type gridFlag map[string][]any

func (g gridFlag) String() string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		vals := make([]string, len(g[k]))
		for j, v := range g[k] {
			vals[j] = fmt.Sprint(v)
		}
		parts[i] = k + "=" + strings.Join(vals, ",")
	}
	return strings.Join(parts, " ")
}

func (g gridFlag) Set(s string) error {
	k, list, ok := strings.Cut(s, "=")
	if !ok || k == "" || list == "" {
		return fmt.Errorf("grid axis %q is not key=v1,v2", s)
	}
	for _, v := range strings.Split(list, ",") {
		g[k] = append(g[k], parseValue(strings.TrimSpace(v)))
	}
	return nil
}

// parseValue types a command-line value the way JSON would: numbers become
// float64 and true/false become bool.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

// parseDate parses YYYY-MM-DD. endOfDay moves the result to the last
// millisecond of that day. Empty input yields the zero time.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

func formatParams(p strategy.Params) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, p[k])
	}
	return strings.Join(parts, " ")
}

func printReport(resp *api.BacktestResponse) {
	if resp.RunID != "" {
		fmt.Printf("run %s\n", resp.RunID)
	}
	if !resp.Success {
		fmt.Printf("FAILED in %s: %s\n", resp.Phase, resp.Error)
	}
	for _, e := range resp.Errors {
		fmt.Printf("tick error: %s\n", e)
	}
	r := resp.Results
	if r == nil {
		return
	}
	fmt.Printf("bars          %d\n", r.BarsProcessed)
	fmt.Printf("balance       %.2f -> %.2f (%.2f%%)\n", r.InitialBalance, r.FinalBalance, r.TotalReturn)
	fmt.Printf("trades        %d (won %d, lost %d, win rate %.1f%%)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	fmt.Printf("net profit    %.2f (gross %.2f / -%.2f, commission %.2f)\n", r.NetProfit, r.GrossProfit, r.GrossLoss, r.TotalCommission)
	fmt.Printf("profit factor %.2f\n", r.ProfitFactor)
	fmt.Printf("expectancy    %.2f\n", r.Expectancy)
	fmt.Printf("max drawdown  %.2f (%.2f%%, %.1f days)\n", r.MaxDrawdown, r.MaxDrawdownPercent, r.MaxDrawdownDuration)
	fmt.Printf("sharpe        %.2f\n", r.SharpeRatio)
	fmt.Printf("sortino       %.2f\n", r.SortinoRatio)
	fmt.Printf("recovery      %.2f\n", r.RecoveryFactor)
}
