package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"mqlbt/internal/api"
	"mqlbt/internal/backtest"
	"mqlbt/internal/config"
	"mqlbt/internal/domain"
	"mqlbt/internal/gather"
	"mqlbt/internal/store"
	"mqlbt/internal/strategy"
	"mqlbt/internal/strategy/builtins"
	"mqlbt/internal/util"
	"mqlbt/pkg/mqlbt"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: mqlbt-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version     Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies  List available strategies\n")
	fmt.Fprintf(os.Stderr, "  parse       Parse an MQL5 source file\n")
	fmt.Fprintf(os.Stderr, "  run         Run a backtest\n")
	fmt.Fprintf(os.Stderr, "  sweep       Run a parameter sweep\n")
	fmt.Fprintf(os.Stderr, "  import      Import candles from a CSV file\n")
	fmt.Fprintf(os.Stderr, "  fetch       Download candles from Alpaca\n")
	fmt.Fprintf(os.Stderr, "  runs        List saved runs\n")
	fmt.Fprintf(os.Stderr, "\nRun 'mqlbt-cli <command> -h' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "version":
		fmt.Printf("mqlbt-cli %s\n", version)
	case "strategies":
		err = cmdStrategies(ctx, args)
	case "parse":
		err = cmdParse(ctx, args)
	case "run":
		err = cmdRun(ctx, args)
	case "sweep":
		err = cmdSweep(ctx, args)
	case "import":
		err = cmdImport(ctx, args)
	case "fetch":
		err = cmdFetch(ctx, args)
	case "runs":
		err = cmdRuns(ctx, args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "mqlbt-cli %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

// env is the local backend of the commands that do not talk to a server.
type env struct {
	cfg     *config.Config
	candles *store.ParquetStore
	runs    *store.SQLiteStore
	svc     *api.Service
}

func (e *env) close() {
	if e.runs != nil {
		e.runs.Close()
	}
}

// openEnv loads configuration and opens the local stores. withRuns opens
// the SQLite run history as well.
func openEnv(cfgPath string, withRuns bool) (*env, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	util.SetDefault(logger)

	e := &env{cfg: cfg, candles: store.NewParquetStore(cfg.Storage.DataDir)}
	if withRuns {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		if e.runs, err = store.NewSQLiteStore(cfg.Storage.SQLitePath); err != nil {
			return nil, fmt.Errorf("opening run store: %w", err)
		}
	}

	reg := strategy.NewRegistry()
	builtins.Register(reg)
	opts := api.Options{
		Registry:     reg,
		Candles:      e.candles,
		Defaults:     cfg.Backtest,
		SweepWorkers: cfg.Sweep.Workers,
		MaxSweepJobs: cfg.Sweep.MaxJobs,
		Logger:       logger,
	}
	if e.runs != nil {
		opts.Runs = e.runs
	}
	e.svc = api.NewService(opts)
	return e, nil
}

// commonFlags are accepted by every command that reads configuration or
// may talk to a server.
type commonFlags struct {
	config string
	server string
	json   bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", os.Getenv("MQLBT_CONFIG"), "path to the YAML config")
	fs.StringVar(&c.server, "server", "", "mqlbt-server base URL; empty runs locally")
	fs.BoolVar(&c.json, "json", false, "print JSON instead of a summary")
}

// dataFlags select the candles a backtest runs on.
type dataFlags struct {
	csv       string
	symbol    string
	timeframe string
	start     string
	end       string
}

func (d *dataFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.csv, "csv", "", "CSV file with candles")
	fs.StringVar(&d.symbol, "symbol", "", "stored symbol to test on")
	fs.StringVar(&d.timeframe, "timeframe", "H1", "candle timeframe")
	fs.StringVar(&d.start, "start", "", "first candle date (YYYY-MM-DD)")
	fs.StringVar(&d.end, "end", "", "last candle date (YYYY-MM-DD)")
}

// resolve returns inline candles from -csv or a stored data source.
func (d *dataFlags) resolve() ([]domain.Candle, *api.DataSource, error) {
	if d.csv != "" {
		f, err := os.Open(d.csv)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		candles, err := store.ReadCSV(f)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", d.csv, err)
		}
		return candles, nil, nil
	}
	if d.symbol == "" {
		return nil, nil, errors.New("either -csv or -symbol is required")
	}
	src := &api.DataSource{Symbol: d.symbol, Timeframe: d.timeframe}
	var err error
	if src.Start, err = parseDate(d.start, false); err != nil {
		return nil, nil, err
	}
	if src.End, err = parseDate(d.end, true); err != nil {
		return nil, nil, err
	}
	return nil, src, nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func cmdStrategies(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("strategies", flag.ContinueOnError)
	var cf commonFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var infos []strategy.Info
	if cf.server != "" {
		var err error
		if infos, err = mqlbt.NewClient(cf.server).Strategies(ctx); err != nil {
			return err
		}
	} else {
		reg := strategy.NewRegistry()
		builtins.Register(reg)
		infos = reg.Infos()
	}
	if cf.json {
		return writeJSON(infos)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDEFAULTS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, formatParams(info.Defaults), info.Description)
	}
	return tw.Flush()
}

func cmdParse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	var cf commonFlags
	cf.register(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mqlbt-cli parse [options] <file.mq5>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return flag.ErrHelp
	}
	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	var resp *api.ParseResponse
	if cf.server != "" {
		resp, err = mqlbt.NewClient(cf.server).Parse(ctx, string(src))
	} else {
		resp, err = api.NewService(api.Options{}).Parse(ctx, &api.ParseRequest{Source: string(src)})
	}
	if err != nil {
		return err
	}
	if cf.json {
		return writeJSON(resp)
	}

	fmt.Printf("%s: %d declarations, %d syntax errors\n", fs.Arg(0), len(resp.Declarations), len(resp.Errors))
	for _, in := range resp.Inputs {
		fmt.Printf("  input %s %s = %v\n", in.Type, in.Name, in.Default)
	}
	fmt.Printf("  handlers: OnInit=%t OnTick=%t OnDeinit=%t\n", resp.Handlers.OnInit, resp.Handlers.OnTick, resp.Handlers.OnDeinit)
	for _, e := range resp.Errors {
		fmt.Printf("  %d:%d: %s\n", e.Line, e.Column, e.Message)
	}
	if !resp.Success {
		return fmt.Errorf("%d syntax errors", len(resp.Errors))
	}
	return nil
}

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		cf      commonFlags
		df      dataFlags
		params  = paramFlag{}
		name    = fs.String("strategy", "", "strategy name")
		balance = fs.Float64("balance", 0, "initial balance (default from config)")
		logs    = fs.Bool("logs", false, "print strategy log lines")
	)
	cf.register(fs)
	df.register(fs)
	fs.Var(params, "p", "strategy parameter key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-strategy is required")
	}
	candles, src, err := df.resolve()
	if err != nil {
		return err
	}
	req := &api.BacktestRequest{
		Strategy: *name,
		Params:   strategy.Params(params),
		Candles:  candles,
		Source:   src,
		Config:   backtest.Config{InitialBalance: *balance},
	}

	var resp *api.BacktestResponse
	if cf.server != "" {
		resp, err = mqlbt.NewClient(cf.server).RunBacktest(ctx, req)
	} else {
		var e *env
		if e, err = openEnv(cf.config, true); err != nil {
			return err
		}
		defer e.close()
		resp, err = e.svc.Run(ctx, req)
	}
	if err != nil {
		return err
	}
	if cf.json {
		return writeJSON(resp)
	}
	if *logs {
		for _, l := range resp.Logs {
			fmt.Println(l)
		}
	}
	printReport(resp)
	if !resp.Success {
		return fmt.Errorf("%s: %s", resp.Code, resp.Error)
	}
	return nil
}

func cmdSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	var (
		cf      commonFlags
		df      dataFlags
		params  = paramFlag{}
		grid    = gridFlag{}
		name    = fs.String("strategy", "", "strategy name")
		workers = fs.Int("workers", 0, "concurrent runs (default from config)")
	)
	cf.register(fs)
	df.register(fs)
	fs.Var(params, "p", "base parameter key=value (repeatable)")
	fs.Var(grid, "g", "grid axis key=v1,v2,... (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("-strategy is required")
	}
	candles, src, err := df.resolve()
	if err != nil {
		return err
	}
	req := &api.SweepRequest{
		Strategy: *name,
		Params:   strategy.Params(params),
		Grid:     grid,
		Candles:  candles,
		Source:   src,
		Workers:  *workers,
	}

	var resp *api.SweepResponse
	if cf.server != "" {
		resp, err = mqlbt.NewClient(cf.server).Sweep(ctx, req)
	} else {
		var e *env
		if e, err = openEnv(cf.config, false); err != nil {
			return err
		}
		resp, err = e.svc.Sweep(ctx, req)
	}
	if err != nil {
		return err
	}
	if cf.json {
		return writeJSON(resp)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tPARAMS\tTRADES\tNET\tPF\tMAX DD %\tSHARPE\t")
	for i, run := range resp.Runs {
		mark := ""
		if i == resp.Best {
			mark = "*"
		}
		if !run.Success {
			fmt.Fprintf(tw, "%d%s\t%s\t-\t-\t-\t-\t%s\t\n", i, mark, formatParams(run.Params), run.Error)
			continue
		}
		s := run.Summary
		fmt.Fprintf(tw, "%d%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			i, mark, formatParams(run.Params), s.TotalTrades, s.NetProfit, s.ProfitFactor, s.MaxDrawdownPercent, s.SharpeRatio)
	}
	return tw.Flush()
}

func cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var (
		cf        commonFlags
		csvPath   = fs.String("csv", "", "CSV file with candles")
		symbol    = fs.String("symbol", "", "symbol to store the candles under")
		timeframe = fs.String("timeframe", "H1", "candle timeframe")
	)
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *csvPath == "" || *symbol == "" {
		return errors.New("-csv and -symbol are required")
	}
	tf, err := domain.ParseTimeframe(*timeframe)
	if err != nil {
		return err
	}
	df := dataFlags{csv: *csvPath}
	candles, _, err := df.resolve()
	if err != nil {
		return err
	}

	e, err := openEnv(cf.config, false)
	if err != nil {
		return err
	}
	sym := gather.StorageSymbol(*symbol)
	if err := e.candles.WriteCandles(ctx, sym, tf, candles); err != nil {
		return err
	}
	fmt.Printf("imported %d %s %s candles into %s\n", len(candles), sym, tf, e.cfg.Storage.DataDir)
	return nil
}

func cmdFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	var (
		cf        commonFlags
		symbol    = fs.String("symbol", "", "symbol, e.g. AAPL or BTC/USD")
		timeframe = fs.String("timeframe", "H1", "candle timeframe")
		start     = fs.String("start", "", "first date (YYYY-MM-DD)")
		end       = fs.String("end", "", "last date (YYYY-MM-DD, default today)")
	)
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *symbol == "" || *start == "" {
		return errors.New("-symbol and -start are required")
	}
	tf, err := domain.ParseTimeframe(*timeframe)
	if err != nil {
		return err
	}
	var r gather.DateRange
	if r.Start, err = parseDate(*start, false); err != nil {
		return err
	}
	if r.End, err = parseDate(*end, true); err != nil {
		return err
	}
	if r.End.IsZero() {
		r.End = time.Now().UTC()
	}

	e, err := openEnv(cf.config, false)
	if err != nil {
		return err
	}
	if e.cfg.Alpaca.APIKey == "" {
		return errors.New("alpaca credentials are not configured")
	}
	f := gather.NewAlpacaFetcher(gather.AlpacaOptions{
		APIKey:          e.cfg.Alpaca.APIKey,
		APISecret:       e.cfg.Alpaca.APISecret,
		DataURL:         e.cfg.Alpaca.DataURL,
		Feed:            e.cfg.Alpaca.Feed,
		RateLimitPerMin: e.cfg.Gather.RateLimitPerMin,
		MaxAttempts:     e.cfg.Gather.MaxAttempts,
		RegularHours:    e.cfg.Gather.RegularHours,
	})
	chunk := time.Duration(e.cfg.Gather.ChunkDays) * 24 * time.Hour
	n, err := gather.Download(ctx, f, e.candles, *symbol, tf, r, chunk)
	if err != nil {
		return err
	}
	fmt.Printf("stored %d %s %s candles\n", n, gather.StorageSymbol(*symbol), tf)
	return nil
}

func cmdRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var cf commonFlags
	limit := fs.Int("limit", 20, "number of runs to list")
	id := fs.String("id", "", "show one run in full")
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		svc    *api.Service
		client *mqlbt.Client
	)
	if cf.server != "" {
		client = mqlbt.NewClient(cf.server)
	} else {
		e, err := openEnv(cf.config, true)
		if err != nil {
			return err
		}
		defer e.close()
		svc = e.svc
	}

	if *id != "" {
		var (
			run *store.RunRecord
			err error
		)
		if client != nil {
			run, err = client.GetRun(ctx, *id)
		} else {
			run, err = svc.GetRun(ctx, *id)
		}
		if err != nil {
			return err
		}
		return writeJSON(run)
	}

	var (
		runs []store.RunRecord
		err  error
	)
	if client != nil {
		runs, err = client.Runs(ctx, *limit)
	} else {
		runs, err = svc.Runs(ctx, *limit)
	}
	if err != nil {
		return err
	}
	if cf.json {
		return writeJSON(runs)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTRATEGY\tSYMBOL\tTF\tOK\tTRADES\tNET")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%d\t%.2f\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Strategy, r.Symbol, r.Timeframe, r.Success, r.TotalTrades, r.NetProfit)
	}
	return tw.Flush()
}
