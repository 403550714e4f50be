package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"capital-trading-bot/config"
	"capital-trading-bot/internal/circuit"
	"capital-trading-bot/internal/events"
	"capital-trading-bot/internal/ledger"
)

// fakeBot implements BotAPI for handler tests.
type fakeBot struct {
	running        bool
	positions      []ledger.Position
	forced         int
	stopped        bool
	minConfidence  float64
	maxDailyTrades int
	reversalPolicy string
}

func (f *fakeBot) Status() map[string]interface{} {
	return map[string]interface{}{"running": f.running}
}

func (f *fakeBot) OpenPositions() []ledger.Position { return f.positions }

func (f *fakeBot) Start() error {
	f.running = true
	return nil
}

func (f *fakeBot) Stop() { f.running = false; f.stopped = true }

func (f *fakeBot) ForceCycle() { f.forced++ }

func (f *fakeBot) EmergencyStop(ctx context.Context) error {
	f.running = false
	f.positions = nil
	return nil
}

func (f *fakeBot) SetMinConfidence(v float64) { f.minConfidence = v }

func (f *fakeBot) SetMaxDailyTrades(n int) { f.maxDailyTrades = n }

func (f *fakeBot) SetReversalPolicy(policy string) { f.reversalPolicy = policy }

func newTestServer(bot *fakeBot) *Server {
	cfg := &config.Config{
		ServerConfig: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			AllowedOrigins: "*",
			ReadTimeout:    5,
			WriteTimeout:   5,
		},
		TradingConfig: config.TradingConfig{
			MinConfidence:  60,
			MaxDailyTrades: 10,
			ReversalPolicy: "reject",
		},
	}
	breaker := circuit.NewCircuitBreaker(circuit.DefaultConfig())
	return NewServer(cfg, bot, breaker, nil, events.NewEventBus(16))
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeBot{})

	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d", w.Code)
	}
}

func TestStatusIncludesBotFields(t *testing.T) {
	s := newTestServer(&fakeBot{running: true})

	w := doRequest(s, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status returned %d", w.Code)
	}

	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Data["running"] != true {
		t.Fatalf("expected running=true, got %v", resp.Data["running"])
	}
}

func TestBotLifecycleEndpoints(t *testing.T) {
	bot := &fakeBot{}
	s := newTestServer(bot)

	if w := doRequest(s, http.MethodPost, "/api/bot/start", nil); w.Code != http.StatusOK {
		t.Fatalf("start returned %d", w.Code)
	}
	if !bot.running {
		t.Fatal("bot should be running after start")
	}

	if w := doRequest(s, http.MethodPost, "/api/bot/force-cycle", nil); w.Code != http.StatusOK {
		t.Fatalf("force-cycle returned %d", w.Code)
	}
	if bot.forced != 1 {
		t.Fatalf("forced %d cycles, want 1", bot.forced)
	}

	if w := doRequest(s, http.MethodPost, "/api/bot/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("stop returned %d", w.Code)
	}
	if bot.running {
		t.Fatal("bot should be stopped")
	}
}

func TestTradesUnavailableWithoutArchive(t *testing.T) {
	s := newTestServer(&fakeBot{})

	w := doRequest(s, http.MethodGet, "/api/trades", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("trades returned %d, want 503 without archive", w.Code)
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	bot := &fakeBot{}
	s := newTestServer(bot)

	body, _ := json.Marshal(map[string]interface{}{"min_confidence": 150})
	if w := doRequest(s, http.MethodPut, "/api/config", body); w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range min_confidence returned %d, want 400", w.Code)
	}

	body, _ = json.Marshal(map[string]interface{}{"reversal_policy": "maybe"})
	if w := doRequest(s, http.MethodPut, "/api/config", body); w.Code != http.StatusBadRequest {
		t.Fatalf("bad reversal_policy returned %d, want 400", w.Code)
	}

	// Swapping broker clients needs a restart.
	body, _ = json.Marshal(map[string]interface{}{"dry_run": true})
	if w := doRequest(s, http.MethodPut, "/api/config", body); w.Code != http.StatusBadRequest {
		t.Fatalf("dry_run toggle returned %d, want 400", w.Code)
	}
	if bot.maxDailyTrades != 0 || bot.minConfidence != 0 {
		t.Fatal("rejected request must not apply anything")
	}

	body, _ = json.Marshal(map[string]interface{}{
		"min_confidence":   75.0,
		"max_daily_trades": 5,
		"reversal_policy":  "close_then_reopen",
	})
	w := doRequest(s, http.MethodPut, "/api/config", body)
	if w.Code != http.StatusOK {
		t.Fatalf("valid update returned %d", w.Code)
	}
	// The values must reach the running bot, not just the config copy.
	if bot.minConfidence != 75 || bot.maxDailyTrades != 5 || bot.reversalPolicy != "close_then_reopen" {
		t.Fatalf("settings not pushed to the bot: %+v", bot)
	}
	if s.cfg.TradingConfig.MinConfidence != 75 || s.cfg.TradingConfig.MaxDailyTrades != 5 {
		t.Fatalf("config view not updated: %+v", s.cfg.TradingConfig)
	}
}

func TestBreakerResetEndpoint(t *testing.T) {
	s := newTestServer(&fakeBot{})

	// Trip it on consecutive losses, then reset through the API. Losses
	// stay small so the daily loss limit is not also breached.
	for i := 0; i < 5; i++ {
		s.breaker.RecordTrade(-0.5)
	}
	if ok, _ := s.breaker.CanTrade(); ok {
		t.Fatal("breaker should be open")
	}

	if w := doRequest(s, http.MethodPost, "/api/circuit-breaker/reset", nil); w.Code != http.StatusOK {
		t.Fatalf("reset returned %d", w.Code)
	}
	if ok, reason := s.breaker.CanTrade(); !ok {
		t.Fatalf("breaker still blocked after reset: %s", reason)
	}
}
