package broker

import "strings"

// SymbolSpec holds the quoting properties of a symbol.
type SymbolSpec struct {
	Point  float64
	Digits int
	// Spread is the typical spread in points.
	Spread float64
}

const defaultSpread = 20

var spreads = map[string]float64{
	"EURUSD": 10,
	"GBPUSD": 12,
	"AUDUSD": 12,
	"NZDUSD": 18,
	"USDCHF": 14,
	"USDCAD": 15,
	"EURGBP": 14,
	"EURCHF": 18,
	"USDJPY": 10,
	"EURJPY": 15,
	"GBPJPY": 25,
	"AUDJPY": 18,
}

// LookupSymbol returns the spec for name. JPY-quoted pairs use a point of
// 0.001 and three digits; every other symbol uses 0.00001 and five.
// Unknown symbols get a default spread.
func LookupSymbol(name string) SymbolSpec {
	name = strings.ToUpper(name)
	spec := SymbolSpec{Point: 0.00001, Digits: 5, Spread: defaultSpread}
	if strings.Contains(name, "JPY") {
		spec.Point, spec.Digits = 0.001, 3
	}
	if s, ok := spreads[name]; ok {
		spec.Spread = s
	}
	return spec
}
