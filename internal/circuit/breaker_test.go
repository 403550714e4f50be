package circuit

import (
	"strings"
	"testing"
	"time"
)

func newTestBreaker(cfg *Config) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(cfg)
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return current }
	cb.dailyResetTime = current.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return cb, &current
}

func TestTripsAfterConsecutiveLosses(t *testing.T) {
	cb, _ := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 3,
		CooldownHours:        4,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})

	for i := 0; i < 3; i++ {
		if ok, _ := cb.CanTrade(); !ok {
			t.Fatalf("breaker should allow trade %d", i)
		}
		cb.RecordTrade(-0.5)
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}
	ok, reason := cb.CanTrade()
	if ok {
		t.Fatal("breaker should block after trip")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestHalfOpenRecoversOnWinner(t *testing.T) {
	cb, current := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 2,
		CooldownHours:        4,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})

	cb.RecordTrade(-1)
	cb.RecordTrade(-1)
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	// Cooldown elapses: next check transitions to half-open.
	*current = current.Add(5 * time.Hour)
	if ok, reason := cb.CanTrade(); ok {
		// Consecutive losses still at the limit block trading even in
		// half-open until a winner resets them.
		t.Fatalf("expected block in half-open with losses at limit, got allow (%s)", reason)
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", cb.GetState())
	}

	// A winning trade closes the breaker and clears the loss streak.
	cb.RecordTrade(0.8)
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed after winner", cb.GetState())
	}
	if ok, reason := cb.CanTrade(); !ok {
		t.Fatalf("breaker should allow trading after recovery: %s", reason)
	}
}

func TestHalfOpenLoserRetrips(t *testing.T) {
	cb, current := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 2,
		CooldownHours:        2,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})

	cb.RecordTrade(-1)
	cb.RecordTrade(-1)
	*current = current.Add(3 * time.Hour)
	cb.CanTrade() // transitions to half-open

	cb.RecordTrade(-1)
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open after half-open loss", cb.GetState())
	}
}

func TestDailyLossLimit(t *testing.T) {
	cb, _ := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 100,
		CooldownHours:        4,
		MaxDailyLoss:         3.0,
		MaxDailyTrades:       100,
	})

	cb.RecordTrade(-2)
	cb.RecordTrade(1) // winner resets the streak but not the daily loss
	cb.RecordTrade(-1.5)

	ok, reason := cb.CanTrade()
	if ok {
		t.Fatal("daily loss limit should block trading")
	}
	if !strings.Contains(reason, "daily loss") && !strings.Contains(reason, "cooldown") {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestDailyCountersResetNextDay(t *testing.T) {
	cb, current := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 100,
		MaxDailyLoss:         50,
		CooldownHours:        1,
		MaxDailyTrades:       2,
	})

	cb.RecordTrade(1)
	cb.RecordTrade(1)
	if ok, _ := cb.CanTrade(); ok {
		t.Fatal("daily trade cap should block")
	}

	*current = current.Add(24 * time.Hour)
	if ok, reason := cb.CanTrade(); !ok {
		t.Fatalf("counters should reset on the next day: %s", reason)
	}
}

func TestForceResetClearsState(t *testing.T) {
	cb, _ := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 1,
		CooldownHours:        4,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})

	cb.RecordTrade(-1)
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.ForceReset()
	if cb.GetState() != StateClosed {
		t.Fatal("force reset should close the breaker")
	}
	if ok, reason := cb.CanTrade(); !ok {
		t.Fatalf("trading should be allowed after force reset: %s", reason)
	}
}

func TestDisabledBreakerAlwaysAllows(t *testing.T) {
	cb, _ := newTestBreaker(&Config{Enabled: false})

	cb.RecordTrade(-100)
	if ok, _ := cb.CanTrade(); !ok {
		t.Fatal("disabled breaker must not block")
	}
}

func TestIgnoresNaNResults(t *testing.T) {
	cb, _ := newTestBreaker(&Config{
		Enabled:              true,
		MaxConsecutiveLosses: 1,
		CooldownHours:        4,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})

	cb.RecordTrade(nan())
	if cb.GetState() != StateClosed {
		t.Fatal("NaN result must not trip the breaker")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}
