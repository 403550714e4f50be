package calendar

import (
	"testing"
	"time"
)

func newTestCalendar() *Calendar {
	return New(Config{
		OpenBuffer:  15 * time.Minute,
		CloseBuffer: 15 * time.Minute,
	})
}

// mustTime builds a UTC instant; tests convert per-market expectations
// into UTC explicitly so DST assumptions stay visible.
func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test time %q: %v", value, err)
	}
	return ts
}

func TestCryptoAlwaysTradeable(t *testing.T) {
	c := newTestCalendar()

	times := []string{
		"2026-08-22T03:00:00Z", // Saturday
		"2026-08-23T12:00:00Z", // Sunday
		"2026-08-24T23:59:00Z", // Monday
	}
	for _, ts := range times {
		ok, reason := c.ShouldTrade("BTCUSD", mustTime(t, ts))
		if !ok {
			t.Errorf("BTCUSD at %s should trade, got reason %q", ts, reason)
		}
	}
}

func TestForexClosedOnWeekend(t *testing.T) {
	c := newTestCalendar()

	cases := []struct {
		ts   string
		want bool
	}{
		{"2026-08-21T21:00:00Z", true},  // Friday before 22:00 UTC
		{"2026-08-21T22:30:00Z", false}, // Friday after the close
		{"2026-08-22T12:00:00Z", false}, // Saturday
		{"2026-08-23T20:00:00Z", false}, // Sunday before 22:00 UTC
		{"2026-08-23T22:30:00Z", true},  // Sunday evening reopen
		{"2026-08-25T10:00:00Z", true},  // Tuesday
	}
	for _, tc := range cases {
		ok, reason := c.ShouldTrade("EURUSD", mustTime(t, tc.ts))
		if ok != tc.want {
			t.Errorf("EURUSD at %s: got %v (%s), want %v", tc.ts, ok, reason, tc.want)
		}
	}
}

func TestIndexExchangeHours(t *testing.T) {
	c := newTestCalendar()

	// 2026-08-24 is a Monday. NYSE cash session 09:30-16:00 ET = 13:30-20:00 UTC (EDT).
	cases := []struct {
		ts   string
		want bool
		why  string
	}{
		{"2026-08-24T13:00:00Z", false, "before the open"},
		{"2026-08-24T13:35:00Z", false, "inside the 15m post-open buffer"},
		{"2026-08-24T13:46:00Z", true, "after the open buffer"},
		{"2026-08-24T18:00:00Z", true, "mid-session"},
		{"2026-08-24T19:50:00Z", false, "inside the 15m pre-close buffer"},
		{"2026-08-24T20:30:00Z", false, "after the close"},
		{"2026-08-22T15:00:00Z", false, "Saturday"},
	}
	for _, tc := range cases {
		ok, reason := c.ShouldTrade("US500", mustTime(t, tc.ts))
		if ok != tc.want {
			t.Errorf("US500 at %s (%s): got %v (%s), want %v", tc.ts, tc.why, ok, reason, tc.want)
		}
	}
}

func TestLunchBreakBlocksEntries(t *testing.T) {
	c := newTestCalendar()

	// Tokyo 11:30-12:30 lunch = 02:30-03:30 UTC.
	ok, reason := c.ShouldTrade("J225", mustTime(t, "2026-08-24T03:00:00Z"))
	if ok {
		t.Fatal("J225 should not trade during the Tokyo lunch break")
	}
	if reason != "lunch break" {
		t.Fatalf("unexpected reason %q", reason)
	}

	// Just after the break ends.
	ok, reason = c.ShouldTrade("J225", mustTime(t, "2026-08-24T03:45:00Z"))
	if !ok {
		t.Fatalf("J225 should trade after lunch, got reason %q", reason)
	}
}

func TestDeterministicForSameInstant(t *testing.T) {
	c := newTestCalendar()
	ts := mustTime(t, "2026-08-24T14:00:00Z")

	ok1, r1 := c.ShouldTrade("US500", ts)
	ok2, r2 := c.ShouldTrade("US500", ts)
	if ok1 != ok2 || r1 != r2 {
		t.Fatalf("calendar must be deterministic: (%v,%q) vs (%v,%q)", ok1, r1, ok2, r2)
	}
}

func TestUnknownSymbolFallsBackToForexHours(t *testing.T) {
	c := newTestCalendar()
	c.SetAssetClass("XAGEUR", Forex)

	ok, _ := c.ShouldTrade("XAGEUR", mustTime(t, "2026-08-25T10:00:00Z"))
	if !ok {
		t.Fatal("forex-class symbol without overrides should follow 24/5 hours")
	}
	ok, _ = c.ShouldTrade("XAGEUR", mustTime(t, "2026-08-22T10:00:00Z"))
	if ok {
		t.Fatal("forex-class symbol should be closed on Saturday")
	}
}
