package broker

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mqlbt/internal/domain"
)

// Compile-time interface check.
var _ Terminal = (*Emulator)(nil)

// DefaultCommission is the commission charged per lot at order open.
const DefaultCommission = 7

// Options configures an Emulator.
type Options struct {
	InitialBalance float64
	Symbol         string
	// Spread in points overrides the symbol table when non-nil.
	Spread *float64
	// Commission per lot, debited at open.
	Commission float64
	// Output receives every line written with Print or Printf.
	Output func(line string)
	Logger *slog.Logger
}

// DefaultOptions returns the options of a standard EURUSD run.
func DefaultOptions() Options {
	return Options{InitialBalance: 10000, Symbol: "EURUSD", Commission: DefaultCommission}
}

// Emulator is a single-run simulated market and account over a fixed
// candle array. It is not safe for concurrent use; every backtest owns its
// own Emulator.
type Emulator struct {
	candles []domain.Candle
	cursor  int
	spec    SymbolSpec
	opts    Options
	logger  *slog.Logger

	balance float64
	equity  float64

	open       []*domain.Order
	history    []*domain.Order
	nextTicket int
	curve      []domain.EquityPoint

	// observe, when set, is called with every in-range candle index requested.
	observe func(i int)
}

// New creates an Emulator positioned at bar 0.
func New(candles []domain.Candle, opts Options) *Emulator {
	if opts.Symbol == "" {
		opts.Symbol = "EURUSD"
	}
	opts.Symbol = strings.ToUpper(opts.Symbol)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	spec := LookupSymbol(opts.Symbol)
	if opts.Spread != nil {
		spec.Spread = *opts.Spread
	}
	e := &Emulator{
		candles:    candles,
		spec:       spec,
		opts:       opts,
		logger:     opts.Logger.With("component", "emulator", "symbol", opts.Symbol),
		balance:    opts.InitialBalance,
		equity:     opts.InitialBalance,
		nextTicket: 1,
	}
	e.curve = append(e.curve, domain.EquityPoint{Time: e.Time(), Balance: e.balance, Equity: e.equity})
	return e
}

// ---------------------------------------------------------------------------
// Cursor and prices
// ---------------------------------------------------------------------------

// SetCursor moves the current bar to i, clamped to the candle range.
func (e *Emulator) SetCursor(i int) {
	if i >= len(e.candles) {
		i = len(e.candles) - 1
	}
	if i < 0 {
		i = 0
	}
	e.cursor = i
}

// Cursor returns the index of the current bar.
func (e *Emulator) Cursor() int { return e.cursor }

// at is the only way candle data is read. It refuses indices beyond the
// cursor so no accessor can observe a future bar.
func (e *Emulator) at(i int) (domain.Candle, bool) {
	if e.observe != nil && i >= 0 && i < len(e.candles) {
		e.observe(i)
	}
	if i < 0 || i > e.cursor || i >= len(e.candles) {
		return domain.Candle{}, false
	}
	return e.candles[i], true
}

func (e *Emulator) Symbol() string  { return e.opts.Symbol }
func (e *Emulator) Point() float64  { return e.spec.Point }
func (e *Emulator) Digits() int     { return e.spec.Digits }
func (e *Emulator) Spread() float64 { return e.spec.Spread }

func (e *Emulator) Bid() float64 {
	c, _ := e.at(e.cursor)
	return c.Close
}

func (e *Emulator) Ask() float64 {
	if len(e.candles) == 0 {
		return 0
	}
	return e.Bid() + e.spec.Spread*e.spec.Point
}

func (e *Emulator) Bars() int {
	if len(e.candles) == 0 {
		return 0
	}
	return e.cursor + 1
}

func (e *Emulator) Time() time.Time {
	c, _ := e.at(e.cursor)
	return c.Time
}

// ---------------------------------------------------------------------------
// Historical series. A shift outside [0, cursor] yields zero.
// ---------------------------------------------------------------------------

func (e *Emulator) shifted(shift int) domain.Candle {
	if shift < 0 {
		return domain.Candle{}
	}
	c, _ := e.at(e.cursor - shift)
	return c
}

func (e *Emulator) IOpen(shift int) float64   { return e.shifted(shift).Open }
func (e *Emulator) IHigh(shift int) float64   { return e.shifted(shift).High }
func (e *Emulator) ILow(shift int) float64    { return e.shifted(shift).Low }
func (e *Emulator) IClose(shift int) float64  { return e.shifted(shift).Close }
func (e *Emulator) IVolume(shift int) float64 { return e.shifted(shift).Volume }
func (e *Emulator) ITime(shift int) time.Time { return e.shifted(shift).Time }

// ---------------------------------------------------------------------------
// Run log
// ---------------------------------------------------------------------------

func (e *Emulator) Print(args ...any) {
	e.emit(fmt.Sprint(args...))
}

func (e *Emulator) Printf(format string, args ...any) {
	e.emit(fmt.Sprintf(format, args...))
}

func (e *Emulator) emit(line string) {
	e.logger.Debug("strategy output", "bar", e.cursor, "line", line)
	if e.opts.Output != nil {
		e.opts.Output(line)
	}
}
