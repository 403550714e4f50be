// Package ledger is the bot's own record of open positions. The broker
// remains the source of truth for execution; the ledger tracks intent,
// stops and realized results, one open position per symbol.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"capital-trading-bot/internal/capital"
)

// ErrNoPosition is returned when closing a symbol with nothing open.
var ErrNoPosition = errors.New("no open position")

// Position is an open trade tracked by the ledger.
type Position struct {
	ID           string    `json:"id"`
	DealID       string    `json:"deal_id"`
	Symbol       string    `json:"symbol"`
	Direction    string    `json:"direction"` // BUY or SELL
	Quantity     float64   `json:"quantity"`
	EntryPrice   float64   `json:"entry_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	CurrentPrice float64   `json:"current_price"`
	Strategy     string    `json:"strategy"`
	OpenedAt     time.Time `json:"opened_at"`
}

// UnrealizedPnL returns the mark-to-market result before fees.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.Quantity * directionSign(p.Direction)
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Trade is the realized record of a closed position.
type Trade struct {
	ID         string    `json:"id"`
	DealID     string    `json:"deal_id"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	PnLPercent float64   `json:"pnl_percent"`
	Fees       float64   `json:"fees"`
	Reason     string    `json:"reason"`
	Strategy   string    `json:"strategy"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// ArchiveFunc persists a closed trade. It runs on its own goroutine and
// must tolerate failure without affecting the ledger.
type ArchiveFunc func(Trade)

// Ledger tracks open positions behind a single mutex. The bot is the
// only writer; the API server reads copies.
type Ledger struct {
	mu        sync.Mutex
	positions map[string]*Position // keyed by symbol
	feeRate   float64              // per-side fee fraction
	archive   ArchiveFunc
	logger    zerolog.Logger
}

// New creates an empty ledger. archive may be nil.
func New(feeRate float64, archive ArchiveFunc, logger zerolog.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		feeRate:   feeRate,
		archive:   archive,
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// Open records a new position. A second open on the same symbol is an
// error; the caller decides whether to close first or reject.
func (l *Ledger) Open(symbol, direction, dealID, strategyName string, quantity, entryPrice, stopLoss, takeProfit float64) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[symbol]; exists {
		return nil, fmt.Errorf("position already open for %s", symbol)
	}

	pos := &Position{
		ID:           uuid.NewString(),
		DealID:       dealID,
		Symbol:       symbol,
		Direction:    direction,
		Quantity:     quantity,
		EntryPrice:   entryPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		CurrentPrice: entryPrice,
		Strategy:     strategyName,
		OpenedAt:     time.Now(),
	}
	l.positions[symbol] = pos

	l.logger.Info().
		Str("symbol", symbol).
		Str("direction", direction).
		Str("deal_id", dealID).
		Float64("quantity", quantity).
		Float64("entry", entryPrice).
		Msg("position opened")

	copied := *pos
	return &copied, nil
}

// Get returns a copy of the open position for the symbol.
func (l *Ledger) Get(symbol string) (*Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return nil, false
	}
	copied := *pos
	return &copied, true
}

// HasPosition reports whether a position is open for the symbol.
func (l *Ledger) HasPosition(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[symbol]
	return ok
}

// UpdatePrice records the latest mark price for a symbol.
func (l *Ledger) UpdatePrice(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.CurrentPrice = price
	}
}

// SetStopLoss adjusts the tracked stop, used by the trailing ratchet.
func (l *Ledger) SetStopLoss(symbol string, stop float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.StopLoss = stop
	}
}

// Close realizes the position at the exit price. Fees are charged on
// both sides of the round trip.
func (l *Ledger) Close(symbol string, exitPrice float64, reason string) (*Trade, error) {
	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return nil, ErrNoPosition
	}
	delete(l.positions, symbol)

	fees := (pos.EntryPrice + exitPrice) * pos.Quantity * l.feeRate
	gross := (exitPrice - pos.EntryPrice) * pos.Quantity * directionSign(pos.Direction)
	pnl := gross - fees

	pnlPercent := 0.0
	if notional := pos.EntryPrice * pos.Quantity; notional > 0 {
		pnlPercent = pnl / notional * 100
	}

	trade := &Trade{
		ID:         pos.ID,
		DealID:     pos.DealID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Fees:       fees,
		Reason:     reason,
		Strategy:   pos.Strategy,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   time.Now(),
	}
	l.mu.Unlock()

	l.logger.Info().
		Str("symbol", trade.Symbol).
		Str("reason", reason).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Float64("fees", fees).
		Msg("position closed")

	if l.archive != nil {
		go l.archive(*trade)
	}
	return trade, nil
}

// OpenPositions returns copies of all open positions.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// Exposure returns the total mark-to-market value of open positions.
func (l *Ledger) Exposure() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, pos := range l.positions {
		total += pos.CurrentPrice * pos.Quantity
	}
	return total
}

// Resync reconciles the ledger against the broker's open positions,
// used after a restart. Broker positions the ledger does not know are
// adopted; ledger positions the broker no longer has are dropped
// without realizing a trade (the broker already settled them).
func (l *Ledger) Resync(brokerPositions []capital.BrokerPosition) (adopted, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byDealID := make(map[string]bool, len(brokerPositions))
	for _, bp := range brokerPositions {
		byDealID[bp.DealID] = true

		if _, tracked := l.positions[bp.Epic]; tracked {
			continue
		}
		l.positions[bp.Epic] = &Position{
			ID:           uuid.NewString(),
			DealID:       bp.DealID,
			Symbol:       bp.Epic,
			Direction:    bp.Direction,
			Quantity:     bp.Size,
			EntryPrice:   bp.OpenLevel,
			CurrentPrice: bp.OpenLevel,
			Strategy:     "resync",
			OpenedAt:     time.Now(),
		}
		adopted++
		l.logger.Warn().Str("symbol", bp.Epic).Str("deal_id", bp.DealID).Msg("adopted broker position")
	}

	for symbol, pos := range l.positions {
		if pos.Strategy != "resync" && !byDealID[pos.DealID] {
			delete(l.positions, symbol)
			dropped++
			l.logger.Warn().Str("symbol", symbol).Str("deal_id", pos.DealID).Msg("dropped position missing at broker")
		}
	}
	return adopted, dropped
}

func directionSign(direction string) float64 {
	if direction == "SELL" {
		return -1
	}
	return 1
}
