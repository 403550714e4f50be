// Package calendar answers whether an instrument is tradeable at a given
// instant. It is pure: no I/O, deterministic for a (symbol, time) pair.
package calendar

import (
	"fmt"
	"time"
)

// AssetClass groups instruments with the same default trading hours.
type AssetClass string

const (
	Crypto    AssetClass = "crypto"
	Forex     AssetClass = "forex"
	Index     AssetClass = "index"
	Commodity AssetClass = "commodity"
	Share     AssetClass = "share"
)

// Window is a daily open/close span in a market's local time zone.
type Window struct {
	OpenHour   int
	OpenMin    int
	CloseHour  int
	CloseMin   int
}

// SymbolHours overrides the asset-class default for one symbol.
type SymbolHours struct {
	Timezone string // IANA name, e.g. "America/New_York"
	Window   Window
	// LunchBreaks are windows within the trading day when entries pause,
	// e.g. the Tokyo midday break.
	LunchBreaks []Window
	Weekdays    []time.Weekday // empty means Monday-Friday
}

// Calendar resolves trading hours per symbol.
type Calendar struct {
	assetClasses map[string]AssetClass
	overrides    map[string]SymbolHours
	openBuffer   time.Duration
	closeBuffer  time.Duration
}

// Config holds the entry buffers applied around session edges.
type Config struct {
	OpenBuffer  time.Duration // skip the first minutes after the open
	CloseBuffer time.Duration // stop entering before the close
}

// New builds a calendar with built-in defaults for common symbols.
func New(cfg Config) *Calendar {
	return &Calendar{
		assetClasses: map[string]AssetClass{
			"BTCUSD": Crypto,
			"ETHUSD": Crypto,
			"EURUSD": Forex,
			"GBPUSD": Forex,
			"USDJPY": Forex,
			"US500":  Index,
			"US100":  Index,
			"DE40":   Index,
			"J225":   Index,
			"GOLD":   Commodity,
			"OIL":    Commodity,
		},
		overrides: map[string]SymbolHours{
			// US index CFDs track the NYSE cash session.
			"US500": {
				Timezone: "America/New_York",
				Window:   Window{OpenHour: 9, OpenMin: 30, CloseHour: 16},
			},
			"US100": {
				Timezone: "America/New_York",
				Window:   Window{OpenHour: 9, OpenMin: 30, CloseHour: 16},
			},
			"DE40": {
				Timezone: "Europe/Berlin",
				Window:   Window{OpenHour: 9, CloseHour: 17, CloseMin: 30},
			},
			// Nikkei keeps the Tokyo lunch break.
			"J225": {
				Timezone: "Asia/Tokyo",
				Window:   Window{OpenHour: 9, CloseHour: 15},
				LunchBreaks: []Window{
					{OpenHour: 11, OpenMin: 30, CloseHour: 12, CloseMin: 30},
				},
			},
			"GOLD": {
				Timezone: "America/New_York",
				Window:   Window{OpenHour: 8, CloseHour: 17},
			},
			"OIL": {
				Timezone: "America/New_York",
				Window:   Window{OpenHour: 9, CloseHour: 17},
			},
		},
		openBuffer:  cfg.OpenBuffer,
		closeBuffer: cfg.CloseBuffer,
	}
}

// SetAssetClass registers or overrides a symbol's asset class.
func (c *Calendar) SetAssetClass(symbol string, class AssetClass) {
	c.assetClasses[symbol] = class
}

// SetOverride registers or replaces per-symbol hours.
func (c *Calendar) SetOverride(symbol string, hours SymbolHours) {
	c.overrides[symbol] = hours
}

// AssetClassOf resolves a symbol's asset class, defaulting to Index for
// unknown symbols, the most restrictive of the defaults.
func (c *Calendar) AssetClassOf(symbol string) AssetClass {
	if class, ok := c.assetClasses[symbol]; ok {
		return class
	}
	return Index
}

// ShouldTrade reports whether the symbol may be traded at the given
// instant, with a human-readable reason when it may not.
func (c *Calendar) ShouldTrade(symbol string, now time.Time) (bool, string) {
	class := c.AssetClassOf(symbol)

	if class == Crypto {
		return true, ""
	}

	if class == Forex {
		if _, ok := c.overrides[symbol]; !ok {
			return c.forexOpen(now)
		}
	}

	hours, ok := c.overrides[symbol]
	if !ok {
		// No explicit table: fall back to forex-style 24/5.
		return c.forexOpen(now)
	}

	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		return false, fmt.Sprintf("unknown timezone %q", hours.Timezone)
	}
	local := now.In(loc)

	if !weekdayAllowed(local.Weekday(), hours.Weekdays) {
		return false, fmt.Sprintf("market closed on %s", local.Weekday())
	}

	open := windowStart(local, hours.Window)
	close := windowEnd(local, hours.Window)

	if local.Before(open.Add(c.openBuffer)) {
		if local.Before(open) {
			return false, fmt.Sprintf("market opens at %02d:%02d", hours.Window.OpenHour, hours.Window.OpenMin)
		}
		return false, "inside the post-open buffer"
	}
	if !local.Before(close.Add(-c.closeBuffer)) {
		if !local.Before(close) {
			return false, fmt.Sprintf("market closed at %02d:%02d", hours.Window.CloseHour, hours.Window.CloseMin)
		}
		return false, "inside the pre-close buffer"
	}

	for _, lb := range hours.LunchBreaks {
		if !local.Before(windowStart(local, lb)) && local.Before(windowEnd(local, lb)) {
			return false, "lunch break"
		}
	}

	return true, ""
}

// forexOpen implements the 24/5 convention: closed from Friday 22:00 UTC
// until Sunday 22:00 UTC.
func (c *Calendar) forexOpen(now time.Time) (bool, string) {
	utc := now.UTC()
	switch utc.Weekday() {
	case time.Saturday:
		return false, "forex weekend"
	case time.Friday:
		if utc.Hour() >= 22 {
			return false, "forex weekend"
		}
	case time.Sunday:
		if utc.Hour() < 22 {
			return false, "forex weekend"
		}
	}
	return true, ""
}

func weekdayAllowed(day time.Weekday, allowed []time.Weekday) bool {
	if len(allowed) == 0 {
		return day != time.Saturday && day != time.Sunday
	}
	for _, d := range allowed {
		if d == day {
			return true
		}
	}
	return false
}

func windowStart(local time.Time, w Window) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), w.OpenHour, w.OpenMin, 0, 0, local.Location())
}

func windowEnd(local time.Time, w Window) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), w.CloseHour, w.CloseMin, 0, 0, local.Location())
}
