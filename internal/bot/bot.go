// Package bot runs the trading control loop: analyze markets on a fixed
// interval, gate signals through calendar, budgets, circuit breaker and
// risk engine, then execute sequentially against the broker.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"capital-trading-bot/config"
	"capital-trading-bot/internal/calendar"
	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/circuit"
	"capital-trading-bot/internal/events"
	"capital-trading-bot/internal/ledger"
	"capital-trading-bot/internal/metrics"
	"capital-trading-bot/internal/risk"
	"capital-trading-bot/internal/strategy"
)

const (
	priceResolution = "MINUTE_5"
	priceHistory    = 50

	// recentSignalWindow is how many accepted signals feed the adaptive
	// daily cap.
	recentSignalWindow = 10
	// adaptiveCapConfidence is the trailing average confidence needed to
	// raise the daily cap by a quarter.
	adaptiveCapConfidence = 85.0
)

// TradingBot manages the trading control loop.
type TradingBot struct {
	client     capital.BrokerAPI
	config     *config.Config
	cal        *calendar.Calendar
	engine     *risk.Engine
	trailing   *risk.TrailingStopManager
	book       *ledger.Ledger
	breaker    *circuit.CircuitBreaker
	eventBus   *events.EventBus
	strategies []strategy.Strategy
	logger     zerolog.Logger

	mu           sync.Mutex
	running      bool
	analysisOnly bool
	stopChan     chan struct{}
	forceChan    chan struct{}
	wg           sync.WaitGroup

	dailyTrades      int
	lastDailyReset   time.Time
	sessionTrades    []time.Time
	recentConfidence []float64
	cycleCount       int64
	lastCycleAt      time.Time
	lastCycleSummary string
	lastRenewals     int64

	// Runtime-tunable settings, adjusted through the API while the loop
	// is running.
	maxDailyTrades int
	reversalPolicy string

	// Last good market snapshot, reused when a degraded cycle cannot
	// fetch fresh data.
	lastMarketData map[string]*capital.MarketDetails
}

func breakerStateValue(state circuit.BreakerState) float64 {
	switch state {
	case circuit.StateHalfOpen:
		return 1
	case circuit.StateOpen:
		return 2
	default:
		return 0
	}
}

// New creates a trading bot. The broker client may be the real Capital
// client or the mock for dry-run mode.
func New(
	cfg *config.Config,
	client capital.BrokerAPI,
	cal *calendar.Calendar,
	engine *risk.Engine,
	trailing *risk.TrailingStopManager,
	book *ledger.Ledger,
	breaker *circuit.CircuitBreaker,
	eventBus *events.EventBus,
	logger zerolog.Logger,
) *TradingBot {
	return &TradingBot{
		client:         client,
		config:         cfg,
		cal:            cal,
		engine:         engine,
		trailing:       trailing,
		book:           book,
		breaker:        breaker,
		eventBus:       eventBus,
		logger:         logger.With().Str("component", "bot").Logger(),
		stopChan:       make(chan struct{}),
		forceChan:      make(chan struct{}, 1),
		maxDailyTrades: cfg.TradingConfig.MaxDailyTrades,
		reversalPolicy: cfg.TradingConfig.ReversalPolicy,
	}
}

// SetMinConfidence adjusts the risk engine's confidence floor at runtime.
func (b *TradingBot) SetMinConfidence(v float64) {
	b.engine.SetMinConfidence(v)
}

// SetMaxDailyTrades adjusts the base daily trade cap at runtime.
func (b *TradingBot) SetMaxDailyTrades(n int) {
	b.mu.Lock()
	b.maxDailyTrades = n
	b.mu.Unlock()
	b.logger.Info().Int("max_daily_trades", n).Msg("daily trade cap updated")
}

// SetReversalPolicy switches how opposite-direction signals against an
// open position are handled.
func (b *TradingBot) SetReversalPolicy(policy string) {
	b.mu.Lock()
	b.reversalPolicy = policy
	b.mu.Unlock()
	b.logger.Info().Str("reversal_policy", policy).Msg("reversal policy updated")
}

// RegisterStrategy adds a strategy to the analysis fan-out.
func (b *TradingBot) RegisterStrategy(s strategy.Strategy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strategies = append(b.strategies, s)
	b.logger.Info().Str("strategy", s.Name()).Msg("strategy registered")
}

// Start launches the control loop. The first cycle runs immediately.
func (b *TradingBot) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("bot already running")
	}
	b.running = true
	b.stopChan = make(chan struct{})
	b.lastDailyReset = time.Now()
	b.mu.Unlock()

	// Live positions may survive a restart; adopt them before trading.
	if positions, err := b.client.GetOpenPositions(context.Background()); err == nil {
		adopted, dropped := b.book.Resync(positions)
		if adopted > 0 || dropped > 0 {
			b.logger.Warn().Int("adopted", adopted).Int("dropped", dropped).Msg("ledger resynced from broker")
		}
	} else {
		b.logger.Warn().Err(err).Msg("broker position resync failed, continuing with local state")
	}

	b.wg.Add(1)
	go b.run()

	b.eventBus.Publish(events.Event{Type: events.EventBotStarted})
	b.logger.Info().
		Int("symbols", len(b.config.TradingConfig.Symbols)).
		Int("interval_secs", b.config.TradingConfig.IntervalSecs).
		Bool("dry_run", b.config.TradingConfig.DryRun).
		Msg("trading bot started")
	return nil
}

// Stop halts the control loop and waits for the current cycle to finish.
func (b *TradingBot) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.eventBus.Publish(events.Event{Type: events.EventBotStopped})
	b.logger.Info().Msg("trading bot stopped")
}

// IsRunning reports whether the loop is active.
func (b *TradingBot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// ForceCycle requests an immediate cycle outside the timer cadence.
func (b *TradingBot) ForceCycle() {
	select {
	case b.forceChan <- struct{}{}:
	default:
		// A forced cycle is already pending.
	}
}

// EmergencyStop closes every open position at the broker and stops the
// loop. Close failures are logged and do not block the remaining closes.
func (b *TradingBot) EmergencyStop(ctx context.Context) error {
	b.logger.Warn().Msg("emergency stop requested")
	b.eventBus.Publish(events.Event{Type: events.EventEmergencyStop})

	var firstErr error
	for _, pos := range b.book.OpenPositions() {
		if err := b.closePosition(ctx, pos, pos.CurrentPrice, "emergency_stop"); err != nil {
			b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("emergency close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	b.Stop()
	return firstErr
}

func (b *TradingBot) run() {
	defer b.wg.Done()

	interval := time.Duration(b.config.TradingConfig.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.RunCycle(context.Background())

	for {
		select {
		case <-ticker.C:
			b.RunCycle(context.Background())
		case <-b.forceChan:
			b.RunCycle(context.Background())
		case <-b.stopChan:
			return
		}
	}
}

// RunCycle executes one full trading cycle: housekeeping, session check,
// position management, analysis fan-out, gated execution, summary.
func (b *TradingBot) RunCycle(ctx context.Context) {
	started := time.Now()
	b.maybeDailyReset(started)

	analysisOnly := false
	if err := b.client.EnsureValidSession(ctx); err != nil {
		var sessErr *capital.SessionError
		if errors.As(err, &sessErr) {
			// Can't authenticate: keep analyzing, stop executing.
			analysisOnly = true
			b.logger.Error().Err(err).Msg("session unavailable, cycle degraded to analysis-only")
			metrics.BrokerErrors.WithLabelValues("session").Inc()
		} else {
			b.logger.Error().Err(err).Msg("session check failed, skipping cycle")
			b.eventBus.PublishError("bot", "session check failed", err)
			return
		}
	}
	b.mu.Lock()
	b.analysisOnly = analysisOnly
	b.mu.Unlock()

	// The account is only needed for sizing; a degraded cycle never
	// executes, so skip the call rather than let it abort the cycle.
	var account *capital.AccountInfo
	if !analysisOnly {
		var err error
		account, err = b.client.GetAccounts(ctx)
		if err != nil {
			b.logger.Error().Err(err).Msg("account fetch failed, skipping cycle")
			b.eventBus.PublishError("bot", "account fetch failed", err)
			return
		}
	}

	marketData, err := b.client.GetMarketData(ctx, b.config.TradingConfig.Symbols)
	if err != nil {
		b.mu.Lock()
		cached := b.lastMarketData
		b.mu.Unlock()
		if !analysisOnly || cached == nil {
			b.logger.Error().Err(err).Msg("market data fetch failed, skipping cycle")
			b.eventBus.PublishError("bot", "market data fetch failed", err)
			return
		}
		// Stale data is good enough for analysis; nothing executes on it.
		b.logger.Warn().Err(err).Msg("market data unavailable, analyzing last good snapshot")
		marketData = cached
	} else {
		b.mu.Lock()
		b.lastMarketData = marketData
		b.mu.Unlock()
	}

	b.managePositions(ctx, marketData)

	signals := b.analyze(ctx, marketData)

	executed, rejected := 0, 0
	if analysisOnly {
		for _, sig := range signals {
			b.eventBus.PublishSignalRejected(sig.Symbol, string(sig.Direction), "analysis-only mode")
		}
		rejected = len(signals)
	} else {
		executed, rejected = b.execute(ctx, signals, marketData, account)
	}

	summary := fmt.Sprintf("cycle %d: %d signals, %d executed, %d rejected, %d open, took %s",
		b.cycleCount+1, len(signals), executed, rejected, b.book.Count(), time.Since(started).Round(time.Millisecond))

	renewals := b.client.SessionRenewals()

	b.mu.Lock()
	b.cycleCount++
	b.lastCycleAt = started
	b.lastCycleSummary = summary
	renewed := renewals - b.lastRenewals
	if renewed > 0 {
		metrics.SessionRenewals.Add(float64(renewed))
		b.lastRenewals = renewals
	}
	b.mu.Unlock()

	if renewed > 0 {
		b.eventBus.Publish(events.Event{
			Type: events.EventSessionRenewed,
			Data: map[string]interface{}{"total": renewals},
		})
	}

	metrics.CyclesTotal.Inc()
	metrics.OpenPositions.Set(float64(b.book.Count()))
	metrics.BreakerState.Set(breakerStateValue(b.breaker.GetState()))

	b.logger.Info().
		Int("signals", len(signals)).
		Int("executed", executed).
		Int("rejected", rejected).
		Int("open_positions", b.book.Count()).
		Dur("elapsed", time.Since(started)).
		Msg("cycle completed")
	b.eventBus.Publish(events.Event{
		Type: events.EventCycleCompleted,
		Data: map[string]interface{}{
			"signals":  len(signals),
			"executed": executed,
			"rejected": rejected,
			"summary":  summary,
		},
	})
}

// maybeDailyReset clears the daily trade counter when the configured
// local wall-clock reset hour has been crossed since the last reset.
func (b *TradingBot) maybeDailyReset(now time.Time) {
	loc, err := time.LoadLocation(b.config.TradingConfig.DailyResetTimezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	// The most recent reset instant at or before now. Before today's
	// reset hour that is yesterday's instant; comparing against it
	// catches resets missed while the loop was not running.
	resetInstant := time.Date(local.Year(), local.Month(), local.Day(),
		b.config.TradingConfig.DailyResetHour, 0, 0, 0, loc)
	if local.Before(resetInstant) {
		resetInstant = resetInstant.AddDate(0, 0, -1)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastDailyReset.IsZero() {
		b.lastDailyReset = now
		return
	}
	if b.lastDailyReset.In(loc).Before(resetInstant) {
		b.logger.Info().Int("daily_trades", b.dailyTrades).Msg("daily counters reset")
		b.dailyTrades = 0
		b.lastDailyReset = now
		metrics.DailyPnL.Set(0)
	}
}

// dailyCap returns the adaptive daily trade cap: the configured maximum,
// raised by a quarter while the trailing average confidence of recently
// accepted signals stays high.
func (b *TradingBot) dailyCap() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.maxDailyTrades
	if len(b.recentConfidence) < recentSignalWindow {
		return base
	}
	var sum float64
	for _, c := range b.recentConfidence {
		sum += c
	}
	if sum/float64(len(b.recentConfidence)) >= adaptiveCapConfidence {
		return base + base/4
	}
	return base
}

// sessionBudgetAvailable prunes the rolling window and reports whether
// another trade fits in it.
func (b *TradingBot) sessionBudgetAvailable(now time.Time) bool {
	window := time.Duration(b.config.TradingConfig.SessionWindowMins) * time.Minute

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.sessionTrades[:0]
	for _, t := range b.sessionTrades {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	b.sessionTrades = kept
	return len(b.sessionTrades) < b.config.TradingConfig.MaxSessionTrades
}

func (b *TradingBot) recordTradeAccepted(now time.Time, confidence float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dailyTrades++
	b.sessionTrades = append(b.sessionTrades, now)
	b.recentConfidence = append(b.recentConfidence, confidence)
	if len(b.recentConfidence) > recentSignalWindow {
		b.recentConfidence = b.recentConfidence[len(b.recentConfidence)-recentSignalWindow:]
	}
}

// managePositions marks open positions to market, runs the trailing
// ratchet and closes anything whose stop, target or age limit is hit.
func (b *TradingBot) managePositions(ctx context.Context, marketData map[string]*capital.MarketDetails) {
	now := time.Now()
	maxAge := time.Duration(b.config.TradingConfig.MaxPositionAgeHrs) * time.Hour

	for _, pos := range b.book.OpenPositions() {
		md, ok := marketData[pos.Symbol]
		if !ok {
			continue
		}
		price := (md.Bid + md.Offer) / 2
		b.book.UpdatePrice(pos.Symbol, price)

		if upd := b.trailing.UpdatePrice(pos.ID, price); upd != nil {
			if upd.IsTriggered {
				if err := b.closePosition(ctx, pos, price, "stop_loss"); err != nil {
					b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("stop close failed")
				}
				continue
			}
			b.book.SetStopLoss(pos.Symbol, upd.NewStopLoss)
		} else if stopHit(pos, price) {
			if err := b.closePosition(ctx, pos, price, "stop_loss"); err != nil {
				b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("stop close failed")
			}
			continue
		}

		if targetHit(pos, price) {
			if err := b.closePosition(ctx, pos, price, "take_profit"); err != nil {
				b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("target close failed")
			}
			continue
		}

		if maxAge > 0 && pos.Age(now) >= maxAge {
			if err := b.closePosition(ctx, pos, price, "max_age"); err != nil {
				b.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("age close failed")
			}
		}
	}

	if positions := b.book.OpenPositions(); len(positions) > 0 {
		b.eventBus.Publish(events.Event{
			Type: events.EventPositionUpdate,
			Data: map[string]interface{}{"positions": positions},
		})
	}
}

func stopHit(pos ledger.Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Direction == "BUY" {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

func targetHit(pos ledger.Position, price float64) bool {
	if pos.TakeProfit <= 0 {
		return false
	}
	if pos.Direction == "BUY" {
		return price >= pos.TakeProfit
	}
	return price <= pos.TakeProfit
}

// analyze fans (symbol x strategy) out over a bounded worker pool and
// returns actionable signals sorted by confidence, best first. Analysis
// errors degrade to HOLD for that symbol, never abort the cycle.
func (b *TradingBot) analyze(ctx context.Context, marketData map[string]*capital.MarketDetails) []*strategy.Signal {
	b.mu.Lock()
	strategies := make([]strategy.Strategy, len(b.strategies))
	copy(strategies, b.strategies)
	b.mu.Unlock()

	if len(strategies) == 0 {
		return nil
	}

	timeout := time.Duration(b.config.TradingConfig.AnalysisTimeoutSec) * time.Second
	workers := b.config.TradingConfig.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string)
	var (
		resMu   sync.Mutex
		signals []*strategy.Signal
		wg      sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				md, ok := marketData[symbol]
				if !ok {
					continue
				}
				candles, err := b.client.GetPrices(ctx, symbol, priceResolution, priceHistory)
				if err != nil {
					b.logger.Warn().Err(err).Str("symbol", symbol).Msg("price history unavailable, holding")
					continue
				}

				snap := strategy.Snapshot{Symbol: symbol, Market: md, Candles: candles}
				for _, strat := range strategies {
					actx, cancel := context.WithTimeout(ctx, timeout)
					sig, err := strat.Analyze(actx, snap)
					cancel()
					if err != nil {
						b.logger.Warn().Err(err).
							Str("symbol", symbol).
							Str("strategy", strat.Name()).
							Msg("analysis failed, holding")
						continue
					}
					if !sig.Actionable() {
						continue
					}
					b.eventBus.PublishSignal(sig.Strategy, sig.Symbol, string(sig.Direction), sig.Reason, sig.Confidence, sig.Price)

					resMu.Lock()
					signals = append(signals, sig)
					resMu.Unlock()
				}
			}
		}()
	}

	for _, symbol := range b.config.TradingConfig.Symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Confidence > signals[j].Confidence
	})
	return signals
}

// execute runs the gated, sequential execution pass over sorted signals.
func (b *TradingBot) execute(ctx context.Context, signals []*strategy.Signal, marketData map[string]*capital.MarketDetails, account *capital.AccountInfo) (executed, rejected int) {
	now := time.Now()

	b.mu.Lock()
	policy := b.reversalPolicy
	b.mu.Unlock()

	for _, sig := range signals {
		if reason, ok := b.gate(sig, now); !ok {
			b.eventBus.PublishSignalRejected(sig.Symbol, string(sig.Direction), reason)
			metrics.SignalsTotal.WithLabelValues("rejected").Inc()
			rejected++
			continue
		}

		// One open position per symbol. An opposite-direction signal is
		// a reversal; what happens next depends on policy.
		if existing, ok := b.book.Get(sig.Symbol); ok {
			if existing.Direction == string(sig.Direction) {
				b.eventBus.PublishSignalRejected(sig.Symbol, string(sig.Direction), "position already open")
				metrics.SignalsTotal.WithLabelValues("rejected").Inc()
				rejected++
				continue
			}
			if policy == "reject" {
				b.eventBus.PublishSignalRejected(sig.Symbol, string(sig.Direction), "reversal rejected by policy")
				metrics.SignalsTotal.WithLabelValues("rejected").Inc()
				rejected++
				continue
			}
			if err := b.closePosition(ctx, *existing, sig.Price, "reversal"); err != nil {
				b.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("reversal close failed, skipping signal")
				rejected++
				continue
			}
		}

		assessment, err := b.engine.Evaluate(sig, marketData[sig.Symbol], account)
		if err != nil {
			b.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("risk evaluation failed")
			b.eventBus.PublishError("bot", "risk evaluation failed", err)
			rejected++
			continue
		}
		if !assessment.Approved {
			b.eventBus.PublishSignalRejected(sig.Symbol, string(sig.Direction), assessment.Reason)
			metrics.SignalsTotal.WithLabelValues("rejected").Inc()
			rejected++
			continue
		}

		if err := b.openPosition(ctx, sig, assessment); err != nil {
			b.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("order placement failed")
			b.eventBus.PublishError("bot", "order placement failed", err)
			recordBrokerError(err)
			rejected++
			continue
		}

		b.recordTradeAccepted(now, sig.Confidence)
		metrics.SignalsTotal.WithLabelValues("executed").Inc()
		executed++
	}
	return executed, rejected
}

// gate applies the cheap pre-risk checks: market hours, circuit breaker
// and trade budgets.
func (b *TradingBot) gate(sig *strategy.Signal, now time.Time) (string, bool) {
	if ok, reason := b.cal.ShouldTrade(sig.Symbol, now); !ok {
		return "market closed: " + reason, false
	}
	if ok, reason := b.breaker.CanTrade(); !ok {
		return reason, false
	}

	b.mu.Lock()
	daily := b.dailyTrades
	b.mu.Unlock()
	if daily >= b.dailyCap() {
		return fmt.Sprintf("daily trade cap reached (%d)", daily), false
	}
	if !b.sessionBudgetAvailable(now) {
		return "session trade budget exhausted", false
	}
	return "", true
}

func (b *TradingBot) openPosition(ctx context.Context, sig *strategy.Signal, a *risk.Assessment) error {
	req := capital.OrderRequest{
		Epic:      sig.Symbol,
		Direction: string(sig.Direction),
		Size:      a.Quantity,
	}
	if a.TrailingStop {
		req.TrailingStop = true
		req.StopDistance = a.StopDistance
	} else {
		req.StopLevel = a.StopLevel
	}
	req.ProfitLevel = a.ProfitLevel

	dealID, err := b.client.PlaceOrder(ctx, req)
	if err != nil {
		return err
	}

	pos, err := b.book.Open(sig.Symbol, string(sig.Direction), dealID, sig.Strategy,
		a.Quantity, sig.Price, a.StopLevel, a.ProfitLevel)
	if err != nil {
		// The broker accepted but the ledger refused: unwind to stay
		// consistent.
		b.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("ledger open failed, closing broker position")
		if closeErr := b.client.ClosePosition(ctx, dealID); closeErr != nil {
			b.logger.Error().Err(closeErr).Str("deal_id", dealID).Msg("unwind close failed")
		}
		return err
	}

	b.trailing.AddPosition(pos.ID, pos.Symbol, pos.Direction, pos.EntryPrice, pos.StopLoss)
	b.eventBus.PublishTradeOpened(pos.Symbol, pos.Direction, dealID, pos.EntryPrice, pos.Quantity)
	metrics.OpenPositions.Set(float64(b.book.Count()))

	b.logger.Info().
		Str("symbol", pos.Symbol).
		Str("direction", pos.Direction).
		Str("deal_id", dealID).
		Float64("quantity", pos.Quantity).
		Float64("entry", pos.EntryPrice).
		Float64("stop", pos.StopLoss).
		Float64("target", pos.TakeProfit).
		Msg("position opened")
	return nil
}

func (b *TradingBot) closePosition(ctx context.Context, pos ledger.Position, price float64, reason string) error {
	if err := b.client.ClosePosition(ctx, pos.DealID); err != nil {
		recordBrokerError(err)
		return err
	}

	trade, err := b.book.Close(pos.Symbol, price, reason)
	if err != nil {
		return err
	}
	b.trailing.RemovePosition(pos.ID)
	b.breaker.RecordTrade(trade.PnLPercent)

	result := "win"
	if trade.PnL < 0 {
		result = "loss"
	}
	metrics.TradesTotal.WithLabelValues(result).Inc()
	metrics.OpenPositions.Set(float64(b.book.Count()))
	metrics.DailyPnL.Add(trade.PnL)
	b.eventBus.PublishTradeClosed(trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.PnL, trade.Fees)

	b.logger.Info().
		Str("symbol", trade.Symbol).
		Str("reason", reason).
		Float64("pnl", trade.PnL).
		Float64("pnl_percent", trade.PnLPercent).
		Msg("position closed")
	return nil
}

func recordBrokerError(err error) {
	var netErr *capital.NetworkError
	var rateErr *capital.RateLimitError
	var rejErr *capital.BrokerRejection
	var sessErr *capital.SessionError

	switch {
	case errors.As(err, &netErr):
		metrics.BrokerErrors.WithLabelValues("network").Inc()
	case errors.As(err, &rateErr):
		metrics.BrokerErrors.WithLabelValues("rate_limit").Inc()
	case errors.As(err, &rejErr):
		metrics.BrokerErrors.WithLabelValues("rejection").Inc()
	case errors.As(err, &sessErr):
		metrics.BrokerErrors.WithLabelValues("session").Inc()
	}
}

// Status returns a snapshot for the API layer.
func (b *TradingBot) Status() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"running":          b.running,
		"analysis_only":    b.analysisOnly,
		"dry_run":          b.config.TradingConfig.DryRun,
		"cycle_count":      b.cycleCount,
		"last_cycle_at":    b.lastCycleAt,
		"last_cycle":       b.lastCycleSummary,
		"daily_trades":     b.dailyTrades,
		"max_daily_trades": b.maxDailyTrades,
		"reversal_policy":  b.reversalPolicy,
		"open_positions":   b.book.Count(),
		"breaker_state":    string(b.breaker.GetState()),
		"session_renewals": b.client.SessionRenewals(),
		"symbols":          b.config.TradingConfig.Symbols,
	}
}

// OpenPositions exposes ledger copies for the API layer.
func (b *TradingBot) OpenPositions() []ledger.Position {
	return b.book.OpenPositions()
}
