package capital

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// MockClient simulates the broker for dry-run mode and tests. Errors can
// be injected per method; positions and prices live in memory.
type MockClient struct {
	mu        sync.RWMutex
	prices    map[string]float64
	statuses  map[string]string // marketStatus per epic, default TRADEABLE
	trailing  map[string]bool   // trailing-stop availability per epic
	positions map[string]BrokerPosition
	balance   float64
	available float64
	dealSeq   int64
	renewals  int64

	// Error injection for tests
	SessionErr   error
	PlaceErr     error
	CloseErr     error
	MarketErr    error
	AccountsErr  error
	PlacedOrders []OrderRequest
}

// NewMockClient seeds a mock with realistic prices and a funded account.
func NewMockClient() *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BTCUSD": 104500.00,
			"ETHUSD": 3900.00,
			"EURUSD": 1.0850,
			"GBPUSD": 1.2700,
			"US500":  6050.00,
			"GOLD":   2650.00,
			"OIL":    71.50,
		},
		statuses:  make(map[string]string),
		trailing:  make(map[string]bool),
		positions: make(map[string]BrokerPosition),
		balance:   10000,
		available: 10000,
	}
}

// SetPrice overrides the simulated price for an epic.
func (m *MockClient) SetPrice(epic string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[epic] = price
}

// SetMarketStatus overrides the market status for an epic.
func (m *MockClient) SetMarketStatus(epic, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[epic] = status
}

// SetTrailingSupported marks an epic as supporting trailing stops.
func (m *MockClient) SetTrailingSupported(epic string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trailing[epic] = ok
}

// SetBalance overrides the account balance and available margin.
func (m *MockClient) SetBalance(balance, available float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = balance
	m.available = available
}

func (m *MockClient) CreateSession(ctx context.Context) error {
	if m.SessionErr != nil {
		return m.SessionErr
	}
	atomic.AddInt64(&m.renewals, 1)
	return nil
}

func (m *MockClient) EnsureValidSession(ctx context.Context) error {
	return m.SessionErr
}

func (m *MockClient) GetAccounts(ctx context.Context) (*AccountInfo, error) {
	if m.AccountsErr != nil {
		return nil, m.AccountsErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &AccountInfo{
		AccountID: "mock-account",
		Balance:   m.balance,
		Available: m.available,
		Currency:  "USD",
	}, nil
}

func (m *MockClient) GetMarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	if m.MarketErr != nil {
		return nil, m.MarketErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marketDetailsLocked(epic)
}

func (m *MockClient) marketDetailsLocked(epic string) (*MarketDetails, error) {
	price, ok := m.prices[epic]
	if !ok {
		return nil, &BrokerRejection{Epic: epic, Reason: "unknown epic"}
	}
	status := m.statuses[epic]
	if status == "" {
		status = "TRADEABLE"
	}
	pref := "NOT_AVAILABLE"
	if m.trailing[epic] {
		pref = "AVAILABLE"
	}
	spread := price * 0.0002
	return &MarketDetails{
		Epic:           epic,
		InstrumentName: epic,
		InstrumentType: instrumentTypeFor(epic),
		Bid:            price - spread/2,
		Offer:          price + spread/2,
		MarketStatus:   status,
		DealingRules: DealingRules{
			MinDealSize:             0.001,
			MaxDealSize:             1000,
			TrailingStopsPreference: pref,
		},
		UpdateTime: time.Now(),
	}, nil
}

func instrumentTypeFor(epic string) string {
	switch epic {
	case "BTCUSD", "ETHUSD":
		return "CRYPTOCURRENCIES"
	case "EURUSD", "GBPUSD":
		return "CURRENCIES"
	case "GOLD", "OIL":
		return "COMMODITIES"
	default:
		return "INDICES"
	}
}

func (m *MockClient) GetMarketData(ctx context.Context, epics []string) (map[string]*MarketDetails, error) {
	if m.MarketErr != nil {
		return nil, m.MarketErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*MarketDetails, len(epics))
	for _, epic := range epics {
		if md, err := m.marketDetailsLocked(epic); err == nil {
			out[epic] = md
		}
	}
	return out, nil
}

func (m *MockClient) GetPrices(ctx context.Context, epic, resolution string, max int) ([]Candle, error) {
	m.mu.RLock()
	base, ok := m.prices[epic]
	m.mu.RUnlock()
	if !ok {
		return nil, &BrokerRejection{Epic: epic, Reason: "unknown epic"}
	}

	candles := make([]Candle, max)
	price := base
	for i := max - 1; i >= 0; i-- {
		change := (rand.Float64() - 0.5) * 0.01
		open := price
		clos := price * (1 + change)
		high := open * 1.003
		low := open * 0.997
		candles[i] = Candle{
			SnapshotTime: time.Now().Add(-time.Duration(max-i) * time.Minute),
			Open:         PricePoint{Bid: open, Ask: open},
			High:         PricePoint{Bid: high, Ask: high},
			Low:          PricePoint{Bid: low, Ask: low},
			Close:        PricePoint{Bid: clos, Ask: clos},
		}
		price = clos
	}
	return candles, nil
}

func (m *MockClient) GetOpenPositions(ctx context.Context) ([]BrokerPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]BrokerPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.TrailingStop && req.GuaranteedStop {
		return "", &ValidationError{Field: "stop", Reason: "trailing stop cannot be combined with guaranteed stop"}
	}
	if req.TrailingStop && req.StopDistance <= 0 {
		return "", &ValidationError{Field: "stopDistance", Reason: "trailing stop requires a positive distance"}
	}
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	status := m.statuses[req.Epic]
	if status != "" && status != "TRADEABLE" {
		return "", &BrokerRejection{Epic: req.Epic, Reason: fmt.Sprintf("market status is %s", status)}
	}

	m.dealSeq++
	dealID := fmt.Sprintf("MOCK-%06d", m.dealSeq)
	m.positions[dealID] = BrokerPosition{
		DealID:    dealID,
		Epic:      req.Epic,
		Direction: req.Direction,
		Size:      req.Size,
		OpenLevel: m.prices[req.Epic],
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	m.PlacedOrders = append(m.PlacedOrders, req)
	return dealID, nil
}

func (m *MockClient) ClosePosition(ctx context.Context, dealID string) error {
	if m.CloseErr != nil {
		return m.CloseErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unknown deal id is idempotent success, matching the real client.
	delete(m.positions, dealID)
	return nil
}

func (m *MockClient) LastError() string { return "" }

func (m *MockClient) FailureCount() int { return 0 }

func (m *MockClient) SessionRenewals() int64 {
	return atomic.LoadInt64(&m.renewals)
}

var _ BrokerAPI = (*MockClient)(nil)
