// Package strategy defines the Strategy contract driven by the backtest
// runner and a Registry of named strategy factories.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"mqlbt/internal/broker"
)

// Strategy is the interface every expert advisor implements. The event
// hooks are optional; a strategy implements whichever of Initializer,
// Ticker and Deinitializer it needs.
type Strategy interface {
	// Name returns the identifier of this strategy.
	Name() string
}

// Initializer is implemented by strategies with an OnInit hook. A non-zero
// return code aborts the run before the first bar.
type Initializer interface {
	OnInit(ctx context.Context, t broker.Terminal) (int, error)
}

// Ticker is implemented by strategies with an OnTick hook, called once per
// bar after pending stops are checked.
type Ticker interface {
	OnTick(ctx context.Context, t broker.Terminal) error
}

// Deinitializer is implemented by strategies with an OnDeinit hook, called
// after the last bar and before open orders are force-closed.
type Deinitializer interface {
	OnDeinit(ctx context.Context, t broker.Terminal) error
}

// Funcs adapts plain functions to a Strategy with all three hooks. Nil
// fields are no-ops.
type Funcs struct {
	ID     string
	Init   func(ctx context.Context, t broker.Terminal) (int, error)
	Tick   func(ctx context.Context, t broker.Terminal) error
	Deinit func(ctx context.Context, t broker.Terminal) error
}

// Compile-time interface checks.
var (
	_ Initializer   = (*Funcs)(nil)
	_ Ticker        = (*Funcs)(nil)
	_ Deinitializer = (*Funcs)(nil)
)

func (f *Funcs) Name() string {
	if f.ID == "" {
		return "funcs"
	}
	return f.ID
}

func (f *Funcs) OnInit(ctx context.Context, t broker.Terminal) (int, error) {
	if f.Init == nil {
		return 0, nil
	}
	return f.Init(ctx, t)
}

func (f *Funcs) OnTick(ctx context.Context, t broker.Terminal) error {
	if f.Tick == nil {
		return nil
	}
	return f.Tick(ctx, t)
}

func (f *Funcs) OnDeinit(ctx context.Context, t broker.Terminal) error {
	if f.Deinit == nil {
		return nil
	}
	return f.Deinit(ctx, t)
}

// Params are the input values a strategy is instantiated with. Values
// decoded from JSON arrive as float64.
type Params map[string]any

// Float returns the numeric parameter name, or def when absent or not a
// finite number.
func (p Params) Float(name string, def float64) float64 {
	switch v := p[name].(type) {
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	case int:
		return float64(v)
	}
	return def
}

// Int returns the parameter name truncated to an int, or def.
func (p Params) Int(name string, def int) int {
	return int(p.Float(name, float64(def)))
}

// String returns the string parameter name, or def.
func (p Params) String(name, def string) string {
	if s, ok := p[name].(string); ok {
		return s
	}
	return def
}

// Factory builds a fresh Strategy instance from params. Every run gets its
// own instance.
type Factory func(params Params) (Strategy, error)

// ErrUnknownStrategy is wrapped by LoadError when no factory is registered
// under the requested name.
var ErrUnknownStrategy = errors.New("unknown strategy")

// LoadError reports a strategy that could not be instantiated. It is fatal
// to a run.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading strategy %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Info describes a registered strategy.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Defaults    Params `json:"defaults,omitempty"`
}

type entry struct {
	info    Info
	factory Factory
}

// Registry holds named strategy factories. Register everything before
// sharing the registry between goroutines.
type Registry struct {
	entries map[string]entry
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.RegisterInfo(Info{Name: name}, f)
}

// RegisterInfo adds a factory along with its description and defaults.
func (r *Registry) RegisterInfo(info Info, f Factory) {
	r.entries[info.Name] = entry{info: info, factory: f}
}

// New instantiates the strategy registered under name. Failures are
// reported as *LoadError.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &LoadError{Name: name, Err: ErrUnknownStrategy}
	}
	merged := make(Params, len(e.info.Defaults)+len(params))
	for k, v := range e.info.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	s, err := e.factory(merged)
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	if s == nil {
		return nil, &LoadError{Name: name, Err: errors.New("factory returned nil")}
	}
	return s, nil
}

// Lookup returns the description of the strategy registered under name.
func (r *Registry) Lookup(name string) (Info, bool) {
	e, ok := r.entries[name]
	return e.info, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos returns the descriptions of all registered strategies sorted by
// name.
func (r *Registry) Infos() []Info {
	names := r.List()
	out := make([]Info, len(names))
	for i, n := range names {
		out[i] = r.entries[n].info
	}
	return out
}
