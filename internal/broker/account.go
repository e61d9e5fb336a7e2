package broker

import "mqlbt/internal/domain"

// marginPerLot is the margin held per lot at a flat 1:100 leverage.
const marginPerLot = domain.ContractSize / 100

// FloatingProfit sums the unrealised profit of the open orders at the
// current market price.
func (e *Emulator) FloatingProfit() float64 {
	var sum float64
	for _, o := range e.open {
		sum += o.ProfitAt(e.marketClose(o.Side))
	}
	return sum
}

// UpdateEquity recomputes equity as balance plus floating profit.
func (e *Emulator) UpdateEquity() float64 {
	e.equity = e.balance + e.FloatingProfit()
	return e.equity
}

func (e *Emulator) AccountBalance() float64 { return e.balance }
func (e *Emulator) AccountEquity() float64  { return e.equity }

func (e *Emulator) AccountFreeMargin() float64 {
	var used float64
	for _, o := range e.open {
		used += o.Volume * marginPerLot
	}
	return e.equity - used
}

func (e *Emulator) AccountInfo() domain.AccountInfo {
	return domain.AccountInfo{
		Balance:        e.balance,
		Equity:         e.equity,
		InitialBalance: e.opts.InitialBalance,
		FreeMargin:     e.AccountFreeMargin(),
		Symbol:         e.opts.Symbol,
		Point:          e.spec.Point,
		Digits:         e.spec.Digits,
	}
}

// EquityCurve returns a copy of the equity samples: the opening balance
// followed by one sample per closed order.
func (e *Emulator) EquityCurve() []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(e.curve))
	copy(out, e.curve)
	return out
}
