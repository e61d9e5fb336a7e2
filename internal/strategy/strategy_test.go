package strategy

import (
	"context"
	"errors"
	"testing"

	"mqlbt/internal/broker"
)

// stubStrategy is a minimal Strategy with no hooks.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }

func stubFactory(name string) Factory {
	return func(Params) (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestRegistryRegisterAndNew(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	got, err := r.New("test-strategy", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got.Name() != "test-strategy" {
		t.Errorf("New returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryNew_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nonexistent", nil)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("err = %v, want *LoadError", err)
	}
	if !errors.Is(err, ErrUnknownStrategy) || loadErr.Name != "nonexistent" {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryNew_FactoryFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("bad params")
	r.Register("broken", func(Params) (Strategy, error) { return nil, boom })
	r.Register("nil", func(Params) (Strategy, error) { return nil, nil })

	if _, err := r.New("broken", nil); !errors.Is(err, boom) {
		t.Errorf("broken: err = %v, want wrapping %v", err, boom)
	}
	var loadErr *LoadError
	if _, err := r.New("nil", nil); !errors.As(err, &loadErr) {
		t.Errorf("nil: err = %v, want *LoadError", err)
	}
}

func TestRegistryMergesDefaults(t *testing.T) {
	r := NewRegistry()
	var seen Params
	r.RegisterInfo(Info{Name: "p", Defaults: Params{"fast": 5.0, "slow": 20.0}}, func(p Params) (Strategy, error) {
		seen = p
		return &stubStrategy{name: "p"}, nil
	})
	if _, err := r.New("p", Params{"slow": 50.0}); err != nil {
		t.Fatal(err)
	}
	if seen.Int("fast", 0) != 5 || seen.Int("slow", 0) != 50 {
		t.Errorf("params = %v, want fast=5 slow=50", seen)
	}
	if infos := r.Infos(); len(infos) != 1 || infos[0].Defaults.Float("slow", 0) != 20 {
		t.Errorf("defaults were mutated: %v", infos)
	}
	if info, ok := r.Lookup("p"); !ok || info.Name != "p" {
		t.Errorf("Lookup(p) = %v, %v", info, ok)
	}
	if _, ok := r.Lookup("q"); ok {
		t.Error("Lookup(q) found an unregistered strategy")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestParams(t *testing.T) {
	p := Params{"n": 14.0, "i": 3, "s": "x", "bad": "7"}
	if p.Int("n", 0) != 14 || p.Float("i", 0) != 3 || p.String("s", "") != "x" {
		t.Errorf("lookups failed on %v", p)
	}
	if p.Float("bad", 1.5) != 1.5 || p.Int("missing", 9) != 9 || p.String("n", "d") != "d" {
		t.Error("defaults not applied")
	}
}

func TestFuncs(t *testing.T) {
	var f Funcs
	if f.Name() != "funcs" {
		t.Errorf("Name() = %q", f.Name())
	}
	if code, err := f.OnInit(context.Background(), nil); code != 0 || err != nil {
		t.Errorf("nil Init = %d, %v", code, err)
	}
	if f.OnTick(context.Background(), nil) != nil || f.OnDeinit(context.Background(), nil) != nil {
		t.Error("nil hooks should be no-ops")
	}

	ticks := 0
	f = Funcs{ID: "counter", Tick: func(context.Context, broker.Terminal) error { ticks++; return nil }}
	_ = f.OnTick(context.Background(), nil)
	if ticks != 1 || f.Name() != "counter" {
		t.Errorf("ticks = %d, name = %q", ticks, f.Name())
	}
}
