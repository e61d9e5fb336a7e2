package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"mqlbt/internal/domain"
	"mqlbt/internal/strategy"
)

// Job is one independent run of a parameter sweep.
type Job struct {
	Strategy string          `json:"strategy"`
	Params   strategy.Params `json:"params,omitempty"`
	Config   Config          `json:"config"`
	Candles  []domain.Candle `json:"-"`
}

// Sweep runs every job on at most workers goroutines and returns the
// reports in job order. Each job gets its own Emulator; candle slices may
// be shared between jobs since runs only read them. Cancelling ctx stops
// every unfinished job at its next bar and is returned as the error.
func Sweep(ctx context.Context, reg *strategy.Registry, jobs []Job, workers int) ([]*Report, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	reports := make([]*Report, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, job := range jobs {
		g.Go(func() error {
			r := NewRunner(job.Config)
			reports[i] = r.RunStrategy(gctx, reg, job.Strategy, job.Params, job.Candles)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, ctx.Err()
}
