package mql

import (
	"errors"
	"testing"

	"mqlbt/internal/mql/lexer"
)

const expert = `
#property strict
input int    MagicNumber = 12345;
input double Lots        = 0.1;
input double StopLoss    = -50;
input string Note        = "ea";
input bool   Trail       = true;
input ENUM_MA_METHOD Method = MODE_SMA;
input int    Period;

enum Direction { LONG_ONLY, SHORT_ONLY, BOTH };

int Helper(int a);

int OnInit() { return INIT_SUCCEEDED; }

void OnTick() {
	double ma = iMA(NULL, 0, 14, 0, MODE_SMA, PRICE_CLOSE, 1);
	if (Bid > ma) Print("above");
}

void OnDeinit(const int reason) {}
`

func TestCompile(t *testing.T) {
	u, err := Compile(expert)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if u.Err() != nil {
		t.Fatalf("parse errors: %v", u.Err())
	}

	wantDefaults := map[string]any{
		"MagicNumber": 12345.0,
		"Lots":        0.1,
		"StopLoss":    -50.0,
		"Note":        "ea",
		"Trail":       true,
		"Method":      "MODE_SMA",
		"Period":      nil,
	}
	if len(u.Inputs) != len(wantDefaults) {
		t.Fatalf("got %d inputs, want %d", len(u.Inputs), len(wantDefaults))
	}
	for _, in := range u.Inputs {
		if want := wantDefaults[in.Name]; in.Default != want {
			t.Errorf("input %s default = %v, want %v", in.Name, in.Default, want)
		}
	}
	if u.Inputs[5].Type != "ENUM_MA_METHOD" {
		t.Errorf("Method type = %q", u.Inputs[5].Type)
	}

	if got := u.Functions; len(got) != 4 || got[0] != "Helper" || got[3] != "OnDeinit" {
		t.Errorf("Functions = %v", got)
	}
	if len(u.Enums) != 1 || u.Enums[0] != "Direction" {
		t.Errorf("Enums = %v", u.Enums)
	}
	if !u.Handlers.OnInit || !u.Handlers.OnTick || !u.Handlers.OnDeinit {
		t.Errorf("Handlers = %+v, want all set", u.Handlers)
	}
}

func TestCompilePrototypeIsNotAHandler(t *testing.T) {
	u, err := Compile("void OnTick();")
	if err != nil {
		t.Fatal(err)
	}
	if u.Handlers.OnTick {
		t.Error("prototype counted as OnTick handler")
	}
}

func TestCompileLexErrorIsFatal(t *testing.T) {
	_, err := Compile(`string s = "unterminated`)
	var lexErr *lexer.LexError
	if !errors.As(err, &lexErr) {
		t.Fatalf("err = %v, want *lexer.LexError", err)
	}
}

func TestCompileCollectsParseErrors(t *testing.T) {
	u, err := Compile("int ;\nvoid OnTick() {}")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Errors) != 1 || u.Err() == nil {
		t.Errorf("got %d errors, want 1", len(u.Errors))
	}
	if !u.Handlers.OnTick {
		t.Error("OnTick lost after recovery")
	}
}
