package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"capital-trading-bot/config"
	"capital-trading-bot/internal/cache"
	"capital-trading-bot/internal/calendar"
	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/circuit"
	"capital-trading-bot/internal/events"
	"capital-trading-bot/internal/ledger"
	"capital-trading-bot/internal/risk"
	"capital-trading-bot/internal/strategy"
)

// stubStrategy emits fixed signals per symbol and holds otherwise.
type stubStrategy struct {
	name    string
	signals map[string]*strategy.Signal
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Analyze(ctx context.Context, snap strategy.Snapshot) (*strategy.Signal, error) {
	if sig, ok := s.signals[snap.Symbol]; ok {
		copied := *sig
		copied.Strategy = s.name
		copied.GeneratedAt = time.Now()
		return &copied, nil
	}
	return strategy.Hold(s.name, snap.Symbol, "no setup"), nil
}

func testBotConfig(symbols []string) *config.Config {
	return &config.Config{
		CapitalConfig: config.CapitalConfig{FeeRate: 0.001},
		TradingConfig: config.TradingConfig{
			Enabled:            true,
			Symbols:            symbols,
			IntervalSecs:       300,
			WorkerCount:        2,
			MinConfidence:      60,
			MaxDailyTrades:     20,
			MaxSessionTrades:   20,
			SessionWindowMins:  240,
			DailyResetTimezone: "UTC",
			ReversalPolicy:     "close_then_reopen",
			MaxPositionAgeHrs:  48,
			AnalysisTimeoutSec: 5,
		},
	}
}

type testHarness struct {
	bot     *TradingBot
	client  *capital.MockClient
	book    *ledger.Ledger
	breaker *circuit.CircuitBreaker
	bus     *events.EventBus
}

func newTestBot(cfg *config.Config) *testHarness {
	client := capital.NewMockClient()

	cal := calendar.New(calendar.Config{
		OpenBuffer:  15 * time.Minute,
		CloseBuffer: 15 * time.Minute,
	})
	cal.SetAssetClass("LTCUSD", calendar.Crypto)
	client.SetPrice("LTCUSD", 100)

	engine := risk.NewEngine(&risk.Config{
		RiskFraction:     0.02,
		MaxPositionValue: 5000,
		MinConfidence:    cfg.TradingConfig.MinConfidence,
		MinRiskReward:    1.5,
		MinStopPercent:   2.0,
		ATRMultiplier:    1.5,
		TakeProfitRatio:  2.0,
		MaxRiskScore:     75,
		UseTrailingStop:  true,
		AssetClassLeverage: map[string]float64{
			"crypto": 2, "forex": 30, "index": 20, "commodity": 10,
		},
	}, cache.New(time.Minute), zerolog.Nop())

	trailing := risk.NewTrailingStopManager(&risk.TrailingConfig{
		Enabled:           true,
		TrailingPercent:   1.5,
		ActivationPercent: 1.0,
	})

	book := ledger.New(cfg.CapitalConfig.FeeRate, nil, zerolog.Nop())
	breaker := circuit.NewCircuitBreaker(&circuit.Config{
		Enabled:              true,
		MaxConsecutiveLosses: 5,
		CooldownHours:        4,
		MaxDailyLoss:         50,
		MaxDailyTrades:       100,
	})
	bus := events.NewEventBus(256)

	b := New(cfg, client, cal, engine, trailing, book, breaker, bus, zerolog.Nop())
	return &testHarness{bot: b, client: client, book: book, breaker: breaker, bus: bus}
}

func buySig(symbol string, price, atr, confidence float64) *strategy.Signal {
	return &strategy.Signal{
		Symbol:     symbol,
		Direction:  strategy.DirectionBuy,
		Confidence: confidence,
		Price:      price,
		ATR:        atr,
	}
}

func TestCycleExecutesApprovedSignal(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD", "ETHUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name: "stub",
		signals: map[string]*strategy.Signal{
			"BTCUSD": buySig("BTCUSD", 104500, 600, 85),
		},
	})

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1", got)
	}
	pos, ok := h.book.Get("BTCUSD")
	if !ok {
		t.Fatal("ledger should track the opened position")
	}
	if pos.Direction != "BUY" || pos.Quantity <= 0 {
		t.Fatalf("unexpected position %+v", pos)
	}
}

func TestTwoSignalsSameSymbolOpenOnePosition(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))

	// Two strategies agree on the same symbol in the same cycle.
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "alpha",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	})
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "beta",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 80)},
	})

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want exactly 1", got)
	}
	if h.book.Count() != 1 {
		t.Fatalf("ledger holds %d positions, want 1", h.book.Count())
	}
}

func TestDailyCapLimitsTrades(t *testing.T) {
	cfg := testBotConfig([]string{"BTCUSD", "ETHUSD", "LTCUSD"})
	cfg.TradingConfig.MaxDailyTrades = 2

	h := newTestBot(cfg)
	h.bot.RegisterStrategy(&stubStrategy{
		name: "stub",
		signals: map[string]*strategy.Signal{
			"BTCUSD": buySig("BTCUSD", 104500, 600, 90),
			"ETHUSD": buySig("ETHUSD", 3900, 20, 85),
			"LTCUSD": buySig("LTCUSD", 100, 0.5, 80),
		},
	})

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 2 {
		t.Fatalf("placed %d orders, want 2 (daily cap)", got)
	}
}

func TestTrippedBreakerBlocksExecution(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	})

	// Trip the breaker with a losing streak before the cycle.
	for i := 0; i < 5; i++ {
		h.breaker.RecordTrade(-1)
	}

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 0 {
		t.Fatalf("placed %d orders, want 0 with open breaker", got)
	}
}

func TestReversalPolicyReject(t *testing.T) {
	cfg := testBotConfig([]string{"BTCUSD"})
	cfg.TradingConfig.ReversalPolicy = "reject"

	h := newTestBot(cfg)
	stub := &stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	}
	h.bot.RegisterStrategy(stub)

	h.bot.RunCycle(context.Background())
	if h.book.Count() != 1 {
		t.Fatal("first cycle should open a position")
	}

	// Flip the signal: with the reject policy the position must survive.
	stub.signals["BTCUSD"].Direction = strategy.DirectionSell
	h.bot.RunCycle(context.Background())

	pos, ok := h.book.Get("BTCUSD")
	if !ok || pos.Direction != "BUY" {
		t.Fatalf("position should remain BUY, got %+v", pos)
	}
	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1", got)
	}
}

func TestReversalCloseThenReopen(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	stub := &stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	}
	h.bot.RegisterStrategy(stub)

	h.bot.RunCycle(context.Background())
	stub.signals["BTCUSD"].Direction = strategy.DirectionSell
	h.bot.RunCycle(context.Background())

	pos, ok := h.book.Get("BTCUSD")
	if !ok || pos.Direction != "SELL" {
		t.Fatalf("position should have reversed to SELL, got %+v", pos)
	}
	if got := len(h.client.PlacedOrders); got != 2 {
		t.Fatalf("placed %d orders, want 2 (open + reopen)", got)
	}
}

func TestSessionErrorDegradesToAnalysisOnly(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	})
	h.client.SessionErr = &capital.SessionError{Op: "ensure session"}

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 0 {
		t.Fatalf("placed %d orders, want 0 in analysis-only mode", got)
	}
	if h.bot.Status()["analysis_only"] != true {
		t.Fatal("status should report analysis-only mode")
	}
}

func TestLowConfidenceSignalRejected(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 40)},
	})

	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 0 {
		t.Fatalf("placed %d orders, want 0 for low confidence", got)
	}
}

func TestEmergencyStopClosesAllPositions(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD", "ETHUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name: "stub",
		signals: map[string]*strategy.Signal{
			"BTCUSD": buySig("BTCUSD", 104500, 600, 90),
			"ETHUSD": buySig("ETHUSD", 3900, 20, 85),
		},
	})

	h.bot.RunCycle(context.Background())
	if h.book.Count() != 2 {
		t.Fatalf("want 2 open positions, got %d", h.book.Count())
	}

	if err := h.bot.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("emergency stop failed: %v", err)
	}
	if h.book.Count() != 0 {
		t.Fatalf("%d positions remain after emergency stop", h.book.Count())
	}
	if h.bot.IsRunning() {
		t.Fatal("bot should be stopped")
	}
}

func TestRuntimeMinConfidenceApplies(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 70)},
	})

	// Tighten the floor above the signal's confidence, as PUT /config
	// does on a running bot.
	h.bot.SetMinConfidence(99)
	h.bot.RunCycle(context.Background())
	if got := len(h.client.PlacedOrders); got != 0 {
		t.Fatalf("placed %d orders, want 0 with a raised confidence floor", got)
	}

	// Loosening it again lets the same signal through.
	h.bot.SetMinConfidence(60)
	h.bot.RunCycle(context.Background())
	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1 after lowering the floor", got)
	}
}

func TestRuntimeMaxDailyTradesApplies(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD", "ETHUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name: "stub",
		signals: map[string]*strategy.Signal{
			"BTCUSD": buySig("BTCUSD", 104500, 600, 90),
			"ETHUSD": buySig("ETHUSD", 3900, 20, 85),
		},
	})

	h.bot.SetMaxDailyTrades(1)
	h.bot.RunCycle(context.Background())

	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1 with the lowered cap", got)
	}
}

func TestRuntimeReversalPolicyApplies(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"})) // close_then_reopen
	stub := &stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	}
	h.bot.RegisterStrategy(stub)

	h.bot.RunCycle(context.Background())
	if h.book.Count() != 1 {
		t.Fatal("first cycle should open a position")
	}

	// Switch to reject at runtime; the flipped signal must not reverse.
	h.bot.SetReversalPolicy("reject")
	stub.signals["BTCUSD"].Direction = strategy.DirectionSell
	h.bot.RunCycle(context.Background())

	pos, ok := h.book.Get("BTCUSD")
	if !ok || pos.Direction != "BUY" {
		t.Fatalf("position should remain BUY, got %+v", pos)
	}
}

func TestAdaptiveDailyCapTracksConfidence(t *testing.T) {
	cfg := testBotConfig([]string{"BTCUSD"})
	cfg.TradingConfig.MaxDailyTrades = 8
	h := newTestBot(cfg)

	if got := h.bot.dailyCap(); got != 8 {
		t.Fatalf("base cap = %d, want 8", got)
	}

	// A full window of high-confidence acceptances raises the cap by a
	// quarter.
	now := time.Now()
	for i := 0; i < recentSignalWindow; i++ {
		h.bot.recordTradeAccepted(now, 90)
	}
	if got := h.bot.dailyCap(); got != 10 {
		t.Fatalf("cap after high-confidence run = %d, want 10", got)
	}

	// Mediocre acceptances push the trailing average back down.
	for i := 0; i < recentSignalWindow; i++ {
		h.bot.recordTradeAccepted(now, 70)
	}
	if got := h.bot.dailyCap(); got != 8 {
		t.Fatalf("cap after mediocre run = %d, want 8", got)
	}
}

func TestSessionBudgetLimitsTrades(t *testing.T) {
	cfg := testBotConfig([]string{"BTCUSD", "ETHUSD"})
	cfg.TradingConfig.MaxSessionTrades = 1
	h := newTestBot(cfg)
	h.bot.RegisterStrategy(&stubStrategy{
		name: "stub",
		signals: map[string]*strategy.Signal{
			"BTCUSD": buySig("BTCUSD", 104500, 600, 90),
			"ETHUSD": buySig("ETHUSD", 3900, 20, 85),
		},
	})
	sub := h.bus.Subscribe(events.EventSignalRejected)
	defer h.bus.Unsubscribe(sub)

	h.bot.RunCycle(context.Background())

	// Higher confidence wins the single budget slot.
	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1 with a session budget of 1", got)
	}

	var budgetRejection bool
drain:
	for {
		select {
		case ev := <-sub.C:
			if ev.Data["reason"] == "session trade budget exhausted" {
				budgetRejection = true
			}
		default:
			break drain
		}
	}
	if !budgetRejection {
		t.Fatal("second signal should be rejected by the session budget")
	}

	// Once the recorded trade ages out of the rolling window the budget
	// frees up again.
	h.bot.mu.Lock()
	h.bot.sessionTrades[0] = time.Now().Add(-5 * time.Hour)
	h.bot.mu.Unlock()

	h.bot.RunCycle(context.Background())
	if got := len(h.client.PlacedOrders); got != 2 {
		t.Fatalf("placed %d orders, want 2 after the window rolled", got)
	}
}

func TestDailyResetCatchesMissedBoundary(t *testing.T) {
	cfg := testBotConfig([]string{"BTCUSD"})
	cfg.TradingConfig.DailyResetHour = 6
	h := newTestBot(cfg)

	// Last reset two days back; the current time sits before today's
	// reset hour, so yesterday's boundary is the one that was missed.
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
	h.bot.mu.Lock()
	h.bot.dailyTrades = 7
	h.bot.lastDailyReset = now.Add(-48 * time.Hour)
	h.bot.mu.Unlock()

	h.bot.maybeDailyReset(now)

	h.bot.mu.Lock()
	trades := h.bot.dailyTrades
	h.bot.mu.Unlock()
	if trades != 0 {
		t.Fatalf("daily trades = %d, want 0 after a missed reset boundary", trades)
	}

	// Inside the same day the counter must survive.
	h.bot.mu.Lock()
	h.bot.dailyTrades = 3
	h.bot.mu.Unlock()
	h.bot.maybeDailyReset(now.Add(time.Hour))

	h.bot.mu.Lock()
	trades = h.bot.dailyTrades
	h.bot.mu.Unlock()
	if trades != 3 {
		t.Fatalf("daily trades = %d, want 3 (no double reset)", trades)
	}
}

func TestAnalysisOnlyFallsBackToCachedMarketData(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{
		name:    "stub",
		signals: map[string]*strategy.Signal{"BTCUSD": buySig("BTCUSD", 104500, 600, 90)},
	})

	// A healthy cycle executes and leaves a market snapshot behind.
	h.bot.RunCycle(context.Background())
	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want 1 from the healthy cycle", got)
	}

	// A real authentication outage takes the session and every
	// authenticated endpoint down together.
	h.client.SessionErr = &capital.SessionError{Op: "ensure session"}
	h.client.AccountsErr = &capital.SessionError{Op: "accounts"}
	h.client.MarketErr = &capital.NetworkError{Op: "GET /markets", Err: errors.New("connection refused")}

	h.bot.RunCycle(context.Background())

	if h.bot.Status()["analysis_only"] != true {
		t.Fatal("status should report analysis-only mode")
	}
	if got := len(h.client.PlacedOrders); got != 1 {
		t.Fatalf("placed %d orders, want no new orders in the degraded cycle", got)
	}
	// The degraded cycle must complete on the cached snapshot rather
	// than abort.
	if got := h.bot.Status()["cycle_count"].(int64); got != 2 {
		t.Fatalf("cycle count = %d, want 2", got)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newTestBot(testBotConfig([]string{"BTCUSD"}))
	h.bot.RegisterStrategy(&stubStrategy{name: "stub"})

	if err := h.bot.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := h.bot.Start(); err == nil {
		t.Fatal("second start should fail")
	}
	if !h.bot.IsRunning() {
		t.Fatal("bot should be running")
	}

	h.bot.Stop()
	if h.bot.IsRunning() {
		t.Fatal("bot should be stopped")
	}
	// Stop is idempotent.
	h.bot.Stop()
}
