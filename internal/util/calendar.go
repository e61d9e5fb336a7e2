package util

import "time"

// Market identifies the trading session rules a calendar applies.
type Market string

const (
	// MarketFX trades continuously from Sunday 22:00 to Friday 22:00 UTC.
	MarketFX Market = "fx"
	// MarketUS is the NYSE regular session, 9:30-16:00 America/New_York on
	// weekdays. Exchange holidays are not modelled.
	MarketUS Market = "us"
)

// fxRollover is the UTC hour at which the FX week opens and closes.
const fxRollover = 22

// TradingCalendar provides market-hours awareness for a specific market.
type TradingCalendar struct {
	market Market
	loc    *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market.
// Unknown markets fall back to FX rules.
func NewTradingCalendar(market Market) *TradingCalendar {
	tc := &TradingCalendar{market: market, loc: time.UTC}
	if market == MarketUS {
		if loc, err := time.LoadLocation("America/New_York"); err == nil {
			tc.loc = loc
		} else {
			tc.loc = time.FixedZone("EST", -5*3600)
		}
	} else {
		tc.market = MarketFX
	}
	return tc
}

// Market returns the market the calendar was built for.
func (tc *TradingCalendar) Market() Market { return tc.market }

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	t = t.In(tc.loc)
	if tc.market == MarketUS {
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
		mins := t.Hour()*60 + t.Minute()
		return mins >= 9*60+30 && mins < 16*60
	}
	switch t.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return t.Hour() >= fxRollover
	case time.Friday:
		return t.Hour() < fxRollover
	}
	return true
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	if tc.IsMarketOpen(t) {
		return t
	}
	t = t.In(tc.loc)
	for d := 0; d < 8; d++ {
		day := time.Date(t.Year(), t.Month(), t.Day()+d, 0, 0, 0, 0, tc.loc)
		open, ok := tc.sessionOpen(day)
		if ok && !open.Before(t) {
			return open
		}
	}
	return time.Time{}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	t = t.In(tc.loc)
	for d := 0; d < 8; d++ {
		day := time.Date(t.Year(), t.Month(), t.Day()+d, 0, 0, 0, 0, tc.loc)
		cl, ok := tc.sessionClose(day)
		if ok && !cl.Before(t) {
			return cl
		}
	}
	return time.Time{}
}

// sessionOpen returns the opening instant that falls on day, if any.
func (tc *TradingCalendar) sessionOpen(day time.Time) (time.Time, bool) {
	if tc.market == MarketUS {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			return time.Time{}, false
		}
		return day.Add(9*time.Hour + 30*time.Minute), true
	}
	if day.Weekday() == time.Sunday {
		return day.Add(fxRollover * time.Hour), true
	}
	return time.Time{}, false
}

// sessionClose returns the closing instant that falls on day, if any.
func (tc *TradingCalendar) sessionClose(day time.Time) (time.Time, bool) {
	if tc.market == MarketUS {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			return time.Time{}, false
		}
		return day.Add(16 * time.Hour), true
	}
	if day.Weekday() == time.Friday {
		return day.Add(fxRollover * time.Hour), true
	}
	return time.Time{}, false
}
