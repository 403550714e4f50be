package capital

import "context"

// BrokerAPI is the surface the rest of the bot depends on. The control
// loop, risk engine and ledger only ever see this interface, so tests
// can substitute MockClient.
type BrokerAPI interface {
	CreateSession(ctx context.Context) error
	EnsureValidSession(ctx context.Context) error
	GetAccounts(ctx context.Context) (*AccountInfo, error)
	GetMarketDetails(ctx context.Context, epic string) (*MarketDetails, error)
	GetMarketData(ctx context.Context, epics []string) (map[string]*MarketDetails, error)
	GetPrices(ctx context.Context, epic, resolution string, max int) ([]Candle, error)
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	ClosePosition(ctx context.Context, dealID string) error
	LastError() string
	FailureCount() int
	SessionRenewals() int64
}

// Ensure the real client satisfies the interface.
var _ BrokerAPI = (*Client)(nil)
