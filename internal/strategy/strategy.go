package strategy

import (
	"context"
	"time"

	"capital-trading-bot/internal/capital"
)

// Direction is the side a signal wants to trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Signal is the output of a strategy analysis for one symbol.
// StopHint and TargetHint are optional price levels a strategy derives
// from its own structure (support, resistance, pattern targets). The
// risk engine honors them when they sit on the correct side of the
// entry; zero means "let the engine pick".
type Signal struct {
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Confidence  float64   `json:"confidence"` // 0-100
	Price       float64   `json:"price"`
	ATR         float64   `json:"atr"` // absolute price units
	StopHint    float64   `json:"stop_hint,omitempty"`
	TargetHint  float64   `json:"target_hint,omitempty"`
	Reason      string    `json:"reason"`
	Strategy    string    `json:"strategy"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Actionable reports whether the signal asks for a trade.
func (s *Signal) Actionable() bool {
	return s != nil && (s.Direction == DirectionBuy || s.Direction == DirectionSell)
}

// Snapshot is the per-symbol market state handed to a strategy.
type Snapshot struct {
	Symbol  string
	Market  *capital.MarketDetails
	Candles []capital.Candle
}

// Strategy analyzes a market snapshot into a signal. Analyze must honor
// ctx cancellation; the control loop runs strategies under a deadline.
type Strategy interface {
	Name() string
	Analyze(ctx context.Context, snap Snapshot) (*Signal, error)
}

// Hold builds a no-trade signal with the given reason.
func Hold(strategyName, symbol, reason string) *Signal {
	return &Signal{
		Symbol:      symbol,
		Direction:   DirectionHold,
		Reason:      reason,
		Strategy:    strategyName,
		GeneratedAt: time.Now(),
	}
}

// mid returns the bid/ask midpoint of a price point.
func mid(p capital.PricePoint) float64 {
	return (p.Bid + p.Ask) / 2
}

// atr computes the average true range over the trailing period using
// candle midpoints. Returns 0 when there is not enough history.
func atr(candles []capital.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	var sum float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		high := mid(candles[i].High)
		low := mid(candles[i].Low)
		prevClose := mid(candles[i-1].Close)

		tr := high - low
		if d := high - prevClose; d > tr {
			tr = d
		}
		if d := prevClose - low; d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}
