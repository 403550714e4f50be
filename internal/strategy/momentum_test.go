package strategy

import (
	"context"
	"testing"
	"time"

	"capital-trading-bot/internal/capital"
)

// makeCandles builds a series where each close moves by stepPct from the
// previous one.
func makeCandles(start, stepPct float64, count int) []capital.Candle {
	candles := make([]capital.Candle, count)
	price := start
	for i := 0; i < count; i++ {
		open := price
		price = price * (1 + stepPct/100)
		high := price * 1.001
		low := open * 0.999
		candles[i] = capital.Candle{
			SnapshotTime: time.Now().Add(-time.Duration(count-i) * time.Minute),
			Open:         capital.PricePoint{Bid: open, Ask: open},
			High:         capital.PricePoint{Bid: high, Ask: high},
			Low:          capital.PricePoint{Bid: low, Ask: low},
			Close:        capital.PricePoint{Bid: price, Ask: price},
		}
	}
	return candles
}

func TestMomentumBuySignalOnUptrend(t *testing.T) {
	m := NewMomentum()
	snap := Snapshot{
		Symbol:  "BTCUSD",
		Candles: makeCandles(50000, 0.5, 30),
	}

	sig, err := m.Analyze(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Direction != DirectionBuy {
		t.Fatalf("got %s, want BUY (%s)", sig.Direction, sig.Reason)
	}
	if sig.Confidence <= 50 || sig.Confidence > 95 {
		t.Fatalf("confidence %.1f out of expected range", sig.Confidence)
	}
	if sig.ATR <= 0 {
		t.Fatal("ATR should be positive with full history")
	}
	if sig.Price <= 0 {
		t.Fatal("price should be set from the last close")
	}
	if sig.StopHint <= 0 || sig.StopHint >= sig.Price {
		t.Fatalf("stop hint %.2f should anchor below the entry %.2f", sig.StopHint, sig.Price)
	}
}

func TestMomentumSellSignalOnDowntrend(t *testing.T) {
	m := NewMomentum()
	snap := Snapshot{
		Symbol:  "EURUSD",
		Candles: makeCandles(1.10, -0.5, 30),
	}

	sig, err := m.Analyze(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Direction != DirectionSell {
		t.Fatalf("got %s, want SELL (%s)", sig.Direction, sig.Reason)
	}
	if sig.StopHint <= sig.Price {
		t.Fatalf("short stop hint %.4f should anchor above the entry %.4f", sig.StopHint, sig.Price)
	}
}

func TestMomentumHoldsWithoutHistory(t *testing.T) {
	m := NewMomentum()
	snap := Snapshot{
		Symbol:  "US500",
		Candles: makeCandles(6000, 0.5, 5),
	}

	sig, err := m.Analyze(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Direction != DirectionHold {
		t.Fatalf("got %s, want HOLD", sig.Direction)
	}
	if sig.Actionable() {
		t.Fatal("hold signal must not be actionable")
	}
}

func TestMomentumHoldsOnFlatMarket(t *testing.T) {
	m := NewMomentum()
	snap := Snapshot{
		Symbol:  "GOLD",
		Candles: makeCandles(2650, 0.0, 30),
	}

	sig, err := m.Analyze(context.Background(), snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Direction != DirectionHold {
		t.Fatalf("got %s, want HOLD (%s)", sig.Direction, sig.Reason)
	}
}

func TestMomentumHonorsCancelledContext(t *testing.T) {
	m := NewMomentum()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Analyze(ctx, Snapshot{Symbol: "BTCUSD", Candles: makeCandles(50000, 0.5, 30)})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
