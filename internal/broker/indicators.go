package broker

import "math"

// MAMethod selects the moving-average smoothing.
type MAMethod int

const (
	ModeSMA MAMethod = iota
	ModeEMA
	ModeSMMA
	ModeLWMA
)

// AppliedPrice selects which candle value an indicator reads.
type AppliedPrice int

const (
	PriceClose AppliedPrice = iota
	PriceOpen
	PriceHigh
	PriceLow
	PriceMedian   // (high+low)/2
	PriceTypical  // (high+low+close)/3
	PriceWeighted // (high+low+2*close)/4
)

// MACDLine selects the MACD output.
type MACDLine int

const (
	MACDMain MACDLine = iota
	MACDSignal
	MACDHistogram
)

// BandLine selects the Bollinger band output.
type BandLine int

const (
	BandBase BandLine = iota
	BandUpper
	BandLower
)

// StochLine selects the stochastic oscillator output.
type StochLine int

const (
	StochMain StochLine = iota
	StochSignal
)

// neutralOscillator is returned by bounded oscillators without enough history.
const neutralOscillator = 50

// window returns the applied prices of the period bars ending shift bars
// before the cursor, oldest first. ok is false when the window does not
// fit inside [0, cursor].
func (e *Emulator) window(period, shift int, price AppliedPrice) (vals []float64, ok bool) {
	if period <= 0 || shift < 0 {
		return nil, false
	}
	end := e.cursor - shift
	start := end - period + 1
	if start < 0 || end >= len(e.candles) {
		return nil, false
	}
	vals = make([]float64, 0, period)
	for i := start; i <= end; i++ {
		c, ok := e.at(i)
		if !ok {
			return nil, false
		}
		vals = append(vals, applied(c.Open, c.High, c.Low, c.Close, price))
	}
	return vals, true
}

func applied(open, high, low, close float64, price AppliedPrice) float64 {
	switch price {
	case PriceOpen:
		return open
	case PriceHigh:
		return high
	case PriceLow:
		return low
	case PriceMedian:
		return (high + low) / 2
	case PriceTypical:
		return (high + low + close) / 3
	case PriceWeighted:
		return (high + low + 2*close) / 4
	}
	return close
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// EMA smooths prices (oldest first) with factor 2/(period+1), seeded with
// the first price.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 || period <= 0 {
		return 0
	}
	k := 2 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

func smma(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	n := float64(period)
	v := prices[0]
	for _, p := range prices[1:] {
		v = (v*(n-1) + p) / n
	}
	return v
}

// lwma weights the most recent price by period and the oldest by 1.
func lwma(prices []float64) float64 {
	var sum, weights float64
	for i, p := range prices {
		w := float64(i + 1)
		sum += p * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// IMA is the moving average of the given method. Returns 0 without enough
// history.
func (e *Emulator) IMA(period, shift int, method MAMethod, price AppliedPrice) float64 {
	vals, ok := e.window(period, shift, price)
	if !ok {
		return 0
	}
	switch method {
	case ModeEMA:
		return EMA(vals, period)
	case ModeSMMA:
		return smma(vals, period)
	case ModeLWMA:
		return lwma(vals)
	}
	return mean(vals)
}

// IRSI is the relative strength index over simple average gains and
// losses. Returns 50 without enough history.
func (e *Emulator) IRSI(period, shift int, price AppliedPrice) float64 {
	vals, ok := e.window(period+1, shift, price)
	if !ok || period <= 0 {
		return neutralOscillator
	}
	var gain, loss float64
	for i := 1; i < len(vals); i++ {
		d := vals[i] - vals[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	switch {
	case loss == 0 && gain == 0:
		return neutralOscillator
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// IMACD is the difference of a fast and a slow EMA. The signal line is the
// main line scaled by 0.9 and the histogram by 0.1; the signal period is
// accepted for call compatibility only.
func (e *Emulator) IMACD(fast, slow, signal int, price AppliedPrice, line MACDLine, shift int) float64 {
	fastVals, ok1 := e.window(fast, shift, price)
	slowVals, ok2 := e.window(slow, shift, price)
	if !ok1 || !ok2 {
		return 0
	}
	main := EMA(fastVals, fast) - EMA(slowVals, slow)
	switch line {
	case MACDSignal:
		return main * 0.9
	case MACDHistogram:
		return main * 0.1
	}
	return main
}

// IBands returns the Bollinger band line. With less than period bars of
// history every line is the SMA of the bars available.
func (e *Emulator) IBands(period int, deviation float64, price AppliedPrice, line BandLine, shift int) float64 {
	vals, ok := e.window(period, shift, price)
	if !ok {
		avail := e.cursor - shift + 1
		if avail > period {
			avail = period
		}
		if vals, ok = e.window(avail, shift, price); !ok {
			return 0
		}
		return mean(vals)
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		ss += (v - m) * (v - m)
	}
	sd := math.Sqrt(ss / float64(len(vals)))
	switch line {
	case BandUpper:
		return m + deviation*sd
	case BandLower:
		return m - deviation*sd
	}
	return m
}

// IATR is the simple average true range. Returns 0 without enough history.
func (e *Emulator) IATR(period, shift int) float64 {
	if period <= 0 || shift < 0 {
		return 0
	}
	end := e.cursor - shift
	start := end - period + 1
	if start < 0 {
		return 0
	}
	var sum float64
	for i := start; i <= end; i++ {
		c, ok := e.at(i)
		if !ok {
			return 0
		}
		tr := c.High - c.Low
		if prev, ok := e.at(i - 1); ok {
			tr = math.Max(tr, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
		}
		sum += tr
	}
	return sum / float64(period)
}

// IStochastic is the raw %K of the last kPeriod bars; %D is %K scaled by
// 0.9. dPeriod and slowing are accepted for call compatibility only.
// Returns 50 without enough history or in a flat range.
func (e *Emulator) IStochastic(kPeriod, dPeriod, slowing int, line StochLine, shift int) float64 {
	highs, ok1 := e.window(kPeriod, shift, PriceHigh)
	lows, ok2 := e.window(kPeriod, shift, PriceLow)
	if !ok1 || !ok2 {
		return neutralOscillator
	}
	hh, ll := highs[0], lows[0]
	for i := range highs {
		hh = math.Max(hh, highs[i])
		ll = math.Min(ll, lows[i])
	}
	if hh == ll {
		return neutralOscillator
	}
	k := (e.shifted(shift).Close - ll) / (hh - ll) * 100
	if line == StochSignal {
		return k * 0.9
	}
	return k
}

// ICCI is the commodity channel index. Returns 0 without enough history or
// zero mean deviation.
func (e *Emulator) ICCI(period int, price AppliedPrice, shift int) float64 {
	vals, ok := e.window(period, shift, price)
	if !ok {
		return 0
	}
	m := mean(vals)
	var dev float64
	for _, v := range vals {
		dev += math.Abs(v - m)
	}
	dev /= float64(len(vals))
	if dev == 0 {
		return 0
	}
	return (vals[len(vals)-1] - m) / (0.015 * dev)
}

// IMomentum is price / price[period bars earlier] * 100. Returns 0 without
// enough history.
func (e *Emulator) IMomentum(period int, price AppliedPrice, shift int) float64 {
	vals, ok := e.window(period+1, shift, price)
	if !ok || period <= 0 || vals[0] == 0 {
		return 0
	}
	return vals[len(vals)-1] / vals[0] * 100
}
