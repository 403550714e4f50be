package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Trading halted
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"` // Losing trades in a row before tripping
	CooldownHours        float64 `json:"cooldown_hours"`         // Halt duration after a trip
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // Max daily loss as percent of portfolio
	MaxDailyTrades       int     `json:"max_daily_trades"`       // Hard daily trade ceiling
}

// DefaultConfig returns safe defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		CooldownHours:        4,
		MaxDailyLoss:         5.0,
		MaxDailyTrades:       50,
	}
}

// CircuitBreaker halts trading after sustained losses. After the
// cooldown it enters half-open: the next winning trade closes it, the
// next losing trade re-trips it.
type CircuitBreaker struct {
	config            *Config
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	dailyTrades       int
	lastTripTime      time.Time
	dailyResetTime    time.Time
	tripReason        string
	mu                sync.RWMutex
	onTrip            func(reason string)
	onReset           func()
	now               func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.dailyResetTime = cb.now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return cb
}

// OnTrip sets callback for when breaker trips
func (cb *CircuitBreaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// OnReset sets callback for when breaker resets
func (cb *CircuitBreaker) OnReset(handler func()) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onReset = handler
}

// CanTrade checks if trading is allowed
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.resetCountersIfNeeded()

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownHours * float64(time.Hour))

		if elapsed < cooldown {
			remaining := cooldown - elapsed
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				remaining.Round(time.Second), cb.tripReason)
		}

		// Cooldown passed, try half-open
		cb.state = StateHalfOpen
	}

	if cb.dailyLoss >= cb.config.MaxDailyLoss {
		return false, fmt.Sprintf("daily loss limit reached: %.2f%% >= %.2f%%",
			cb.dailyLoss, cb.config.MaxDailyLoss)
	}

	if cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		return false, fmt.Sprintf("max consecutive losses reached: %d", cb.consecutiveLosses)
	}

	if cb.dailyTrades >= cb.config.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached: %d trades", cb.dailyTrades)
	}

	return true, ""
}

// RecordTrade records a trade result as a percent of portfolio.
func (cb *CircuitBreaker) RecordTrade(pnlPercent float64) {
	if !cb.config.Enabled {
		return
	}
	// NaN/Inf results must not poison the counters.
	if math.IsNaN(pnlPercent) || math.IsInf(pnlPercent, 0) {
		return
	}

	cb.mu.Lock()

	cb.resetCountersIfNeeded()
	cb.dailyTrades++

	var recovered bool
	if pnlPercent < 0 {
		cb.consecutiveLosses++
		cb.dailyLoss += -pnlPercent

		if cb.state == StateHalfOpen {
			// The probe trade lost: straight back to open.
			cb.trip("losing trade during half-open recovery")
			cb.mu.Unlock()
			return
		}
	} else {
		cb.consecutiveLosses = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.tripReason = ""
			recovered = true
		}
	}

	cb.checkAndTrip()
	onReset := cb.onReset
	cb.mu.Unlock()

	if recovered && onReset != nil {
		go onReset()
	}
}

// checkAndTrip checks conditions and trips if needed. Caller holds mu.
func (cb *CircuitBreaker) checkAndTrip() {
	if cb.state == StateOpen {
		return
	}

	var reason string
	if cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	} else if cb.dailyLoss >= cb.config.MaxDailyLoss {
		reason = fmt.Sprintf("daily loss: %.2f%%", cb.dailyLoss)
	}

	if reason != "" {
		cb.trip(reason)
	}
}

// trip opens the circuit breaker. Caller holds mu.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason

	if cb.onTrip != nil {
		go cb.onTrip(reason)
	}
}

// resetCountersIfNeeded resets the daily counters. Caller holds mu.
func (cb *CircuitBreaker) resetCountersIfNeeded() {
	if cb.now().After(cb.dailyResetTime) {
		cb.dailyLoss = 0
		cb.dailyTrades = 0
		cb.dailyResetTime = cb.now().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
	onReset := cb.onReset
	cb.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}

// GetState returns current breaker state
func (cb *CircuitBreaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"state":              string(cb.state),
		"consecutive_losses": cb.consecutiveLosses,
		"daily_loss":         cb.dailyLoss,
		"daily_trades":       cb.dailyTrades,
		"trip_reason":        cb.tripReason,
		"last_trip_time":     cb.lastTripTime,
	}
}

// IsEnabled returns if circuit breaker is enabled
func (cb *CircuitBreaker) IsEnabled() bool {
	return cb.config.Enabled
}

// UpdateConfig updates the circuit breaker configuration
func (cb *CircuitBreaker) UpdateConfig(updates *Config) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if updates.MaxConsecutiveLosses > 0 {
		cb.config.MaxConsecutiveLosses = updates.MaxConsecutiveLosses
	}
	if updates.CooldownHours > 0 {
		cb.config.CooldownHours = updates.CooldownHours
	}
	if updates.MaxDailyLoss > 0 {
		cb.config.MaxDailyLoss = updates.MaxDailyLoss
	}
	if updates.MaxDailyTrades > 0 {
		cb.config.MaxDailyTrades = updates.MaxDailyTrades
	}
}

// SetEnabled enables or disables the circuit breaker
func (cb *CircuitBreaker) SetEnabled(enabled bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.config.Enabled = enabled
}
