package backtest

import (
	"fmt"
	"time"
)

// InitError is returned when a strategy's OnInit hook reports failure,
// either with a non-zero code or an error. It is fatal to the run.
type InitError struct {
	Code int
	Err  error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strategy init failed: %v", e.Err)
	}
	return fmt.Sprintf("strategy init returned %d", e.Code)
}

func (e *InitError) Unwrap() error { return e.Err }

// TickError is a failure inside OnTick for one bar. The run logs it and
// continues with the next bar.
type TickError struct {
	Bar  int
	Time time.Time
	Err  error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("bar %d (%s): %v", e.Bar, e.Time.UTC().Format(time.RFC3339), e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }

// RunFatalError aborts a run outside the per-bar boundary: a failure in
// Deinit or Finalizing, a panic in Init, or cancellation between bars.
type RunFatalError struct {
	Phase State
	Bar   int // -1 when not tied to a bar
	Err   error
}

func (e *RunFatalError) Error() string {
	if e.Bar >= 0 {
		return fmt.Sprintf("run aborted during %s at bar %d: %v", e.Phase, e.Bar, e.Err)
	}
	return fmt.Sprintf("run aborted during %s: %v", e.Phase, e.Err)
}

func (e *RunFatalError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a strategy hook.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
