package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"capital-trading-bot/internal/capital"
)

// Momentum is a moving-average crossover strategy. It goes long when the
// fast average pulls above the slow one by more than the threshold, short
// in the opposite case, and holds in between.
type Momentum struct {
	fastPeriod   int
	slowPeriod   int
	atrPeriod    int
	thresholdPct float64
}

// NewMomentum creates a momentum strategy with standard periods.
func NewMomentum() *Momentum {
	return &Momentum{
		fastPeriod:   5,
		slowPeriod:   20,
		atrPeriod:    14,
		thresholdPct: 0.15,
	}
}

func (m *Momentum) Name() string { return "momentum" }

// Analyze evaluates the snapshot into a signal.
func (m *Momentum) Analyze(ctx context.Context, snap Snapshot) (*Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(snap.Candles) < m.slowPeriod+1 {
		return Hold(m.Name(), snap.Symbol, fmt.Sprintf("insufficient history: %d candles", len(snap.Candles))), nil
	}

	fast := m.sma(snap.Candles, m.fastPeriod)
	slow := m.sma(snap.Candles, m.slowPeriod)
	price := mid(snap.Candles[len(snap.Candles)-1].Close)
	rangeAvg := atr(snap.Candles, m.atrPeriod)

	if slow == 0 || price <= 0 {
		return Hold(m.Name(), snap.Symbol, "no usable price"), nil
	}

	diffPct := (fast - slow) / slow * 100

	var direction Direction
	switch {
	case diffPct > m.thresholdPct:
		direction = DirectionBuy
	case diffPct < -m.thresholdPct:
		direction = DirectionSell
	default:
		return Hold(m.Name(), snap.Symbol, fmt.Sprintf("flat momentum %.3f%%", diffPct)), nil
	}

	confidence := 50 + math.Abs(diffPct)*60
	if confidence > 95 {
		confidence = 95
	}

	// Anchor the stop behind the recent swing extreme instead of a bare
	// ATR multiple. The engine falls back to ATR if the hint is unusable.
	var stopHint float64
	if direction == DirectionBuy {
		stopHint = lowestLow(snap.Candles, m.fastPeriod*2)
	} else {
		stopHint = highestHigh(snap.Candles, m.fastPeriod*2)
	}

	return &Signal{
		Symbol:      snap.Symbol,
		Direction:   direction,
		Confidence:  confidence,
		Price:       price,
		ATR:         rangeAvg,
		StopHint:    stopHint,
		Reason:      fmt.Sprintf("fast MA %.4f vs slow MA %.4f (%.3f%%)", fast, slow, diffPct),
		Strategy:    m.Name(),
		GeneratedAt: time.Now(),
	}, nil
}

// lowestLow returns the lowest low midpoint of the trailing period.
func lowestLow(candles []capital.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}
	low := math.Inf(1)
	for i := len(candles) - period; i < len(candles); i++ {
		if v := mid(candles[i].Low); v < low {
			low = v
		}
	}
	return low
}

// highestHigh returns the highest high midpoint of the trailing period.
func highestHigh(candles []capital.Candle, period int) float64 {
	var high float64
	if len(candles) < period {
		return 0
	}
	for i := len(candles) - period; i < len(candles); i++ {
		if v := mid(candles[i].High); v > high {
			high = v
		}
	}
	return high
}

// sma averages the closing midpoints of the trailing period.
func (m *Momentum) sma(candles []capital.Candle, period int) float64 {
	if len(candles) < period {
		return 0
	}
	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += mid(candles[i].Close)
	}
	return sum / float64(period)
}
