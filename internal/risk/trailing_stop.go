package risk

import (
	"log"
	"sync"
	"time"
)

// TrailingStopManager manages trailing stop losses for positions
type TrailingStopManager struct {
	positions map[string]*TrailingPosition // keyed by position id
	config    *TrailingConfig
	mu        sync.RWMutex
}

// TrailingConfig holds trailing stop configuration
type TrailingConfig struct {
	Enabled           bool    // Enable trailing stops
	TrailingPercent   float64 // Distance from high water mark
	ActivationPercent float64 // Profit % to activate trailing
}

// TrailingPosition tracks a position with trailing stop
type TrailingPosition struct {
	ID               string
	Symbol           string
	Direction        string // "BUY" or "SELL"
	EntryPrice       float64
	CurrentStopLoss  float64
	OriginalStopLoss float64
	HighWaterMark    float64 // Highest price since entry (for longs)
	LowWaterMark     float64 // Lowest price since entry (for shorts)
	IsActivated      bool
	LastUpdate       time.Time
}

// StopUpdate represents a stop loss update
type StopUpdate struct {
	ID           string
	Symbol       string
	OldStopLoss  float64
	NewStopLoss  float64
	IsTriggered  bool
	TriggerPrice float64
}

// NewTrailingStopManager creates a new trailing stop manager
func NewTrailingStopManager(config *TrailingConfig) *TrailingStopManager {
	return &TrailingStopManager{
		positions: make(map[string]*TrailingPosition),
		config:    config,
	}
}

// AddPosition adds a new position to track
func (tsm *TrailingStopManager) AddPosition(id, symbol, direction string, entryPrice, stopLoss float64) {
	tsm.mu.Lock()
	defer tsm.mu.Unlock()

	tsm.positions[id] = &TrailingPosition{
		ID:               id,
		Symbol:           symbol,
		Direction:        direction,
		EntryPrice:       entryPrice,
		CurrentStopLoss:  stopLoss,
		OriginalStopLoss: stopLoss,
		HighWaterMark:    entryPrice,
		LowWaterMark:     entryPrice,
		LastUpdate:       time.Now(),
	}

	log.Printf("[TrailingStop] Position added: %s %s @ %.4f, SL: %.4f", direction, symbol, entryPrice, stopLoss)
}

// RemovePosition removes a position from tracking
func (tsm *TrailingStopManager) RemovePosition(id string) {
	tsm.mu.Lock()
	defer tsm.mu.Unlock()
	delete(tsm.positions, id)
}

// UpdatePrice updates the current price and adjusts the trailing stop if
// needed. Returns nil when nothing changed.
func (tsm *TrailingStopManager) UpdatePrice(id string, currentPrice float64) *StopUpdate {
	tsm.mu.Lock()
	defer tsm.mu.Unlock()

	pos, exists := tsm.positions[id]
	if !exists {
		return nil
	}

	var update *StopUpdate
	if pos.Direction == "BUY" {
		update = tsm.updateLongPosition(pos, currentPrice)
	} else {
		update = tsm.updateShortPosition(pos, currentPrice)
	}

	pos.LastUpdate = time.Now()
	return update
}

// updateLongPosition updates trailing stop for a long position
func (tsm *TrailingStopManager) updateLongPosition(pos *TrailingPosition, currentPrice float64) *StopUpdate {
	if currentPrice <= pos.CurrentStopLoss {
		return &StopUpdate{
			ID:           pos.ID,
			Symbol:       pos.Symbol,
			OldStopLoss:  pos.CurrentStopLoss,
			NewStopLoss:  pos.CurrentStopLoss,
			IsTriggered:  true,
			TriggerPrice: currentPrice,
		}
	}

	if currentPrice > pos.HighWaterMark {
		pos.HighWaterMark = currentPrice
	}

	profitPercent := ((currentPrice - pos.EntryPrice) / pos.EntryPrice) * 100
	if !pos.IsActivated && profitPercent >= tsm.config.ActivationPercent {
		pos.IsActivated = true
		log.Printf("[TrailingStop] Activated for %s at %.2f%% profit", pos.Symbol, profitPercent)
	}

	if pos.IsActivated && tsm.config.Enabled {
		trailingDistance := pos.HighWaterMark * (tsm.config.TrailingPercent / 100)
		newStopLoss := pos.HighWaterMark - trailingDistance

		// Only move stop loss up, never down
		if newStopLoss > pos.CurrentStopLoss {
			oldStop := pos.CurrentStopLoss
			pos.CurrentStopLoss = newStopLoss

			log.Printf("[TrailingStop] %s: SL moved up %.4f -> %.4f (HWM: %.4f)",
				pos.Symbol, oldStop, newStopLoss, pos.HighWaterMark)

			return &StopUpdate{
				ID:          pos.ID,
				Symbol:      pos.Symbol,
				OldStopLoss: oldStop,
				NewStopLoss: newStopLoss,
			}
		}
	}

	return nil
}

// updateShortPosition updates trailing stop for a short position
func (tsm *TrailingStopManager) updateShortPosition(pos *TrailingPosition, currentPrice float64) *StopUpdate {
	if currentPrice >= pos.CurrentStopLoss {
		return &StopUpdate{
			ID:           pos.ID,
			Symbol:       pos.Symbol,
			OldStopLoss:  pos.CurrentStopLoss,
			NewStopLoss:  pos.CurrentStopLoss,
			IsTriggered:  true,
			TriggerPrice: currentPrice,
		}
	}

	if currentPrice < pos.LowWaterMark {
		pos.LowWaterMark = currentPrice
	}

	profitPercent := ((pos.EntryPrice - currentPrice) / pos.EntryPrice) * 100
	if !pos.IsActivated && profitPercent >= tsm.config.ActivationPercent {
		pos.IsActivated = true
		log.Printf("[TrailingStop] Activated for %s SHORT at %.2f%% profit", pos.Symbol, profitPercent)
	}

	if pos.IsActivated && tsm.config.Enabled {
		trailingDistance := pos.LowWaterMark * (tsm.config.TrailingPercent / 100)
		newStopLoss := pos.LowWaterMark + trailingDistance

		// Only move stop loss down for shorts
		if newStopLoss < pos.CurrentStopLoss {
			oldStop := pos.CurrentStopLoss
			pos.CurrentStopLoss = newStopLoss

			log.Printf("[TrailingStop] %s SHORT: SL moved down %.4f -> %.4f (LWM: %.4f)",
				pos.Symbol, oldStop, newStopLoss, pos.LowWaterMark)

			return &StopUpdate{
				ID:          pos.ID,
				Symbol:      pos.Symbol,
				OldStopLoss: oldStop,
				NewStopLoss: newStopLoss,
			}
		}
	}

	return nil
}

// GetPosition returns a copy of a position's trailing stop state.
func (tsm *TrailingStopManager) GetPosition(id string) *TrailingPosition {
	tsm.mu.RLock()
	defer tsm.mu.RUnlock()

	if pos, exists := tsm.positions[id]; exists {
		copied := *pos
		return &copied
	}
	return nil
}

// GetCurrentStopLoss returns the current stop loss for a position.
func (tsm *TrailingStopManager) GetCurrentStopLoss(id string) (float64, bool) {
	tsm.mu.RLock()
	defer tsm.mu.RUnlock()

	if pos, exists := tsm.positions[id]; exists {
		return pos.CurrentStopLoss, true
	}
	return 0, false
}
