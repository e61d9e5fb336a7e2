// Package api exposes the backtester over HTTP and gRPC. Both transports
// share one Service, so a request behaves the same whichever way it
// arrives.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"mqlbt/internal/backtest"
	"mqlbt/internal/domain"
	"mqlbt/internal/mql"
	"mqlbt/internal/mql/ast"
	"mqlbt/internal/mql/lexer"
	"mqlbt/internal/store"
	"mqlbt/internal/strategy"
)

// Options configures a Service. Candles and Runs may be nil: requests
// that need them then fail with DATA_NOT_FOUND, and runs are not saved.
type Options struct {
	Registry *strategy.Registry
	Candles  store.CandleStore
	Runs     store.RunStore
	// Defaults fill the unset fields of every request's config.
	Defaults     backtest.Config
	SweepWorkers int
	MaxSweepJobs int
	// RunTimeout bounds a single backtest; zero means no limit.
	RunTimeout time.Duration
	Logger     *slog.Logger
}

// Service implements the backtest operations behind both transports.
type Service struct {
	reg          *strategy.Registry
	candles      store.CandleStore
	runs         store.RunStore
	defaults     backtest.Config
	sweepWorkers int
	maxSweepJobs int
	runTimeout   time.Duration
	log          *slog.Logger
}

// NewService creates a Service.
func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxJobs := opts.MaxSweepJobs
	if maxJobs <= 0 {
		maxJobs = 256
	}
	reg := opts.Registry
	if reg == nil {
		reg = strategy.NewRegistry()
	}
	return &Service{
		reg:          reg,
		candles:      opts.Candles,
		runs:         opts.Runs,
		defaults:     opts.Defaults.WithDefaults(),
		sweepWorkers: opts.SweepWorkers,
		maxSweepJobs: maxJobs,
		runTimeout:   opts.RunTimeout,
		log:          log.With("component", "api"),
	}
}

// ---------------------------------------------------------------------------
// Requests and responses
// ---------------------------------------------------------------------------

// DataSource selects stored candles. Zero Start or End leaves that side
// unbounded.
type DataSource struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Start     time.Time `json:"start,omitzero"`
	End       time.Time `json:"end,omitzero"`
}

// BacktestRequest runs one strategy. Candles, when non-null (even empty),
// take precedence over Source.
type BacktestRequest struct {
	Strategy string          `json:"strategy"`
	Params   strategy.Params `json:"params,omitempty"`
	Candles  []domain.Candle `json:"candles"`
	Source   *DataSource     `json:"source,omitempty"`
	Config   backtest.Config `json:"config"`
}

// BacktestResponse is the report of one run. Code is set when the run
// failed.
type BacktestResponse struct {
	*backtest.Report
	RunID string `json:"run_id,omitempty"`
	Code  string `json:"code,omitempty"`
}

// SweepRequest runs one strategy once per parameter set. ParamSets are
// used as given; otherwise Grid is expanded into its cartesian product.
// Params are the base values every set is layered on.
type SweepRequest struct {
	Strategy  string            `json:"strategy"`
	Params    strategy.Params   `json:"params,omitempty"`
	ParamSets []strategy.Params `json:"param_sets,omitempty"`
	Grid      map[string][]any  `json:"grid,omitempty"`
	Candles   []domain.Candle   `json:"candles"`
	Source    *DataSource       `json:"source,omitempty"`
	Config    backtest.Config   `json:"config"`
	Workers   int               `json:"workers,omitempty"`
}

// SweepRun summarises one job of a sweep. Summary omits the trade list and
// equity curve.
type SweepRun struct {
	Params  strategy.Params  `json:"params"`
	Success bool             `json:"success"`
	Error   string           `json:"error,omitempty"`
	Summary *backtest.Result `json:"summary,omitempty"`
}

// SweepResponse lists runs in parameter-set order. Best is the index of
// the successful run with the highest net profit, or -1.
type SweepResponse struct {
	Success bool       `json:"success"`
	Runs    []SweepRun `json:"runs"`
	Best    int        `json:"best"`
}

// ParseRequest carries MQL5 source.
type ParseRequest struct {
	Source string `json:"source"`
}

// Declaration is one top-level declaration of a parsed program.
type Declaration struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Line int    `json:"line"`
}

// SyntaxError is one recoverable parse error.
type SyntaxError struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
}

// ParseResponse describes a compiled program. Success is false when any
// syntax error was recovered from.
type ParseResponse struct {
	Success      bool          `json:"success"`
	Declarations []Declaration `json:"declarations"`
	Inputs       []mql.Input   `json:"inputs"`
	Functions    []string      `json:"functions"`
	Enums        []string      `json:"enums"`
	Handlers     mql.Handlers  `json:"handlers"`
	Program      string        `json:"program"`
	Errors       []SyntaxError `json:"errors"`
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Run executes a single backtest. Request problems are returned as
// *APIError; a run that fails while executing is not an error and comes
// back with Success false and Code set.
func (s *Service) Run(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	if req.Strategy == "" {
		return nil, newError(CodeInvalidParams, "strategy is required")
	}
	if _, ok := s.reg.Lookup(req.Strategy); !ok {
		return nil, newError(CodeInvalidStrategy, "unknown strategy %q", req.Strategy)
	}
	cfg := s.config(req.Config, req.Source)
	candles, err := s.loadCandles(ctx, req.Candles, req.Source)
	if err != nil {
		return nil, err
	}
	strat, err := s.reg.New(req.Strategy, req.Params)
	if err != nil {
		return nil, newError(CodeInvalidParams, "%v", err)
	}

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	rep := backtest.NewRunner(cfg).Run(ctx, strat, candles)

	resp := &BacktestResponse{Report: rep}
	if !rep.Success {
		resp.Code = failureCode(rep.Err)
	}
	resp.RunID = s.saveRun(ctx, req.Strategy, req.Params, cfg, rep)
	return resp, nil
}

// Sweep runs one backtest per parameter set on a bounded worker pool.
func (s *Service) Sweep(ctx context.Context, req *SweepRequest) (*SweepResponse, error) {
	if req.Strategy == "" {
		return nil, newError(CodeInvalidParams, "strategy is required")
	}
	if _, ok := s.reg.Lookup(req.Strategy); !ok {
		return nil, newError(CodeInvalidStrategy, "unknown strategy %q", req.Strategy)
	}
	sets := req.ParamSets
	if len(sets) == 0 {
		sets = expandGrid(req.Grid)
	}
	if len(sets) > s.maxSweepJobs {
		return nil, newError(CodeInvalidParams, "sweep has %d parameter sets, limit is %d", len(sets), s.maxSweepJobs)
	}
	cfg := s.config(req.Config, req.Source)
	candles, err := s.loadCandles(ctx, req.Candles, req.Source)
	if err != nil {
		return nil, err
	}

	jobs := make([]backtest.Job, len(sets))
	for i, set := range sets {
		jobs[i] = backtest.Job{
			Strategy: req.Strategy,
			Params:   layer(req.Params, set),
			Config:   cfg,
			Candles:  candles,
		}
	}
	workers := req.Workers
	if workers <= 0 || (s.sweepWorkers > 0 && workers > s.sweepWorkers) {
		workers = s.sweepWorkers
	}

	start := time.Now()
	reports, err := backtest.Sweep(ctx, s.reg, jobs, workers)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(CodeTimeout, "sweep timed out")
		}
		return nil, newError(CodeExecutionFailed, "%v", err)
	}

	resp := &SweepResponse{Success: true, Runs: make([]SweepRun, len(reports)), Best: -1}
	for i, rep := range reports {
		run := SweepRun{Params: jobs[i].Params, Success: rep.Success, Error: rep.Error}
		if rep.Results != nil {
			sum := *rep.Results
			sum.Trades = nil
			sum.EquityCurve = nil
			run.Summary = &sum
		}
		if !rep.Success {
			resp.Success = false
		} else if resp.Best < 0 || run.Summary.NetProfit > resp.Runs[resp.Best].Summary.NetProfit {
			resp.Best = i
		}
		resp.Runs[i] = run
	}
	s.log.Info("sweep finished", "strategy", req.Strategy, "jobs", len(jobs), "workers", workers, "elapsed", time.Since(start))
	return resp, nil
}

// Parse compiles MQL5 source and describes it. Only a lexical error fails
// the request; syntax errors are listed in the response.
func (s *Service) Parse(_ context.Context, req *ParseRequest) (*ParseResponse, error) {
	unit, err := mql.Compile(req.Source)
	if err != nil {
		ae := newError(CodeInvalidStrategy, "%v", err)
		var le *lexer.LexError
		if errors.As(err, &le) {
			ae.Details = map[string]any{"line": le.Line, "column": le.Column}
		}
		return nil, ae
	}

	resp := &ParseResponse{
		Success:      len(unit.Errors) == 0,
		Declarations: []Declaration{},
		Inputs:       orEmpty(unit.Inputs),
		Functions:    orEmpty(unit.Functions),
		Enums:        orEmpty(unit.Enums),
		Handlers:     unit.Handlers,
		Program:      unit.Program.String(),
		Errors:       make([]SyntaxError, len(unit.Errors)),
	}
	for _, d := range unit.Program.Declarations {
		resp.Declarations = append(resp.Declarations, describe(d))
	}
	for i, e := range unit.Errors {
		resp.Errors[i] = SyntaxError{Line: e.Token.Line, Column: e.Token.Column, Message: e.Msg}
	}
	return resp, nil
}

// Strategies lists the registered strategies.
func (s *Service) Strategies(context.Context) []strategy.Info {
	return s.reg.Infos()
}

// Runs lists saved runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if s.runs == nil {
		return []store.RunRecord{}, nil
	}
	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, newError(CodeExecutionFailed, "listing runs: %v", err)
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return runs, nil
}

// GetRun returns one saved run including its full report.
func (s *Service) GetRun(ctx context.Context, id string) (*store.RunRecord, error) {
	if s.runs == nil {
		return nil, newError(CodeNotFound, "run %s not found", id)
	}
	run, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeNotFound, "run %s not found", id)
	}
	if err != nil {
		return nil, newError(CodeExecutionFailed, "loading run %s: %v", id, err)
	}
	return run, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// config layers req over the service defaults. A data source names the
// symbol and timeframe when the request config does not.
func (s *Service) config(req backtest.Config, src *DataSource) backtest.Config {
	cfg := s.defaults
	if src != nil {
		if src.Symbol != "" {
			cfg.Symbol = src.Symbol
		}
		if tf, err := domain.ParseTimeframe(src.Timeframe); err == nil {
			cfg.Timeframe = tf.String()
		}
	}
	if req.InitialBalance > 0 {
		cfg.InitialBalance = req.InitialBalance
	}
	if req.Symbol != "" {
		cfg.Symbol = req.Symbol
	}
	if req.Timeframe != "" {
		cfg.Timeframe = req.Timeframe
	}
	if req.Spread != nil {
		cfg.Spread = req.Spread
	}
	if req.Commission != nil {
		cfg.Commission = req.Commission
	}
	if req.MaxTrades > 0 {
		cfg.MaxTrades = req.MaxTrades
	}
	if req.ProgressEvery > 0 {
		cfg.ProgressEvery = req.ProgressEvery
	}
	cfg.Logger = s.log
	return cfg
}

func (s *Service) loadCandles(ctx context.Context, inline []domain.Candle, src *DataSource) ([]domain.Candle, error) {
	if inline != nil {
		for i := 1; i < len(inline); i++ {
			if !inline[i].Time.After(inline[i-1].Time) {
				return nil, newError(CodeInvalidParams, "candles must be sorted ascending by time (index %d)", i)
			}
		}
		return inline, nil
	}
	if src == nil {
		return nil, newError(CodeInvalidParams, "candles or source is required")
	}
	if src.Symbol == "" {
		return nil, newError(CodeInvalidParams, "source symbol is required")
	}
	tf, err := domain.ParseTimeframe(src.Timeframe)
	if err != nil {
		return nil, newError(CodeInvalidParams, "%v", err)
	}
	if s.candles == nil {
		return nil, newError(CodeDataNotFound, "no candle store configured")
	}
	candles, err := s.candles.ReadCandles(ctx, src.Symbol, tf, src.Start, src.End)
	if err != nil {
		return nil, newError(CodeExecutionFailed, "reading candles: %v", err)
	}
	if len(candles) == 0 {
		return nil, newError(CodeDataNotFound, "no %s %s candles in range", src.Symbol, tf)
	}
	return candles, nil
}

// saveRun persists a finished run and returns its ID, or "" when runs are
// not stored. A storage failure is logged and does not fail the request.
func (s *Service) saveRun(ctx context.Context, name string, params strategy.Params, cfg backtest.Config, rep *backtest.Report) string {
	if s.runs == nil {
		return ""
	}
	rec := &store.RunRecord{
		ID:        uuid.NewString(),
		Strategy:  name,
		Symbol:    cfg.Symbol,
		Timeframe: cfg.Timeframe,
		Success:   rep.Success,
		Error:     rep.Error,
		CreatedAt: time.Now().UTC(),
	}
	if rep.Results != nil {
		rec.NetProfit = rep.Results.NetProfit
		rec.TotalTrades = rep.Results.TotalTrades
	}
	var err error
	if rec.Params, err = json.Marshal(params); err == nil {
		rec.Report, err = json.Marshal(rep)
	}
	if err == nil {
		err = s.runs.SaveRun(context.WithoutCancel(ctx), rec)
	}
	if err != nil {
		s.log.Warn("saving run failed", "strategy", name, "error", err)
		return ""
	}
	return rec.ID
}

func failureCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeExecutionFailed
}

// expandGrid returns the cartesian product of grid. Keys are iterated in
// sorted order with the last key varying fastest. An empty grid yields a
// single empty set.
func expandGrid(grid map[string][]any) []strategy.Params {
	keys := make([]string, 0, len(grid))
	for k, vals := range grid {
		if len(vals) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	sets := []strategy.Params{{}}
	for _, k := range keys {
		next := make([]strategy.Params, 0, len(sets)*len(grid[k]))
		for _, base := range sets {
			for _, v := range grid[k] {
				p := layer(base, strategy.Params{k: v})
				next = append(next, p)
			}
		}
		sets = next
	}
	return sets
}

func layer(base, over strategy.Params) strategy.Params {
	out := make(strategy.Params, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func describe(d ast.Declaration) Declaration {
	out := Declaration{Line: d.Pos().Line}
	switch d := d.(type) {
	case *ast.FunctionDeclaration:
		out.Kind, out.Name = "function", d.Name
	case *ast.VariableDeclaration:
		out.Kind, out.Name = "variable", d.Name
		if d.IsInput {
			out.Kind = "input"
		}
	case *ast.EnumDeclaration:
		out.Kind, out.Name = "enum", d.Name
	default:
		out.Kind = "unknown"
	}
	return out
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
