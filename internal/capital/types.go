package capital

import "time"

// SessionToken is the credential pair returned by POST /session in the
// CST and X-SECURITY-TOKEN response headers.
type SessionToken struct {
	CST              string        `json:"cst"`
	SecurityToken    string        `json:"security_token"`
	CreatedAt        time.Time     `json:"created_at"`
	TTL              time.Duration `json:"ttl"`
	RenewalThreshold time.Duration `json:"renewal_threshold"`
}

// Valid reports whether the token exists and is younger than its renewal
// threshold.
func (t *SessionToken) Valid(now time.Time) bool {
	if t == nil || t.CST == "" || t.SecurityToken == "" {
		return false
	}
	return now.Sub(t.CreatedAt) <= t.RenewalThreshold
}

// AccountInfo mirrors the relevant fields of GET /accounts.
type AccountInfo struct {
	AccountID string  `json:"accountId"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
	Deposit   float64 `json:"deposit"`
	PnL       float64 `json:"profitLoss"`
	Currency  string  `json:"currency"`
}

// DealingRules carries the instrument constraints the risk engine needs.
type DealingRules struct {
	MinDealSize             float64 `json:"minDealSize"`
	MaxDealSize             float64 `json:"maxDealSize"`
	TrailingStopsPreference string  `json:"trailingStopsPreference"` // AVAILABLE or NOT_AVAILABLE
}

// MarketDetails mirrors one entry of GET /markets?epics=...
type MarketDetails struct {
	Epic           string       `json:"epic"`
	InstrumentName string       `json:"instrumentName"`
	InstrumentType string       `json:"instrumentType"` // CRYPTOCURRENCIES, CURRENCIES, INDICES, COMMODITIES, SHARES
	Bid            float64      `json:"bid"`
	Offer          float64      `json:"offer"`
	MarketStatus   string       `json:"marketStatus"` // TRADEABLE, CLOSED, SUSPENDED
	DealingRules   DealingRules `json:"dealingRules"`
	UpdateTime     time.Time    `json:"updateTime"`
}

// Tradeable reports whether the broker will currently accept orders.
func (m *MarketDetails) Tradeable() bool {
	return m != nil && m.MarketStatus == "TRADEABLE"
}

// TrailingStopsSupported reports the instrument's trailing-stop preference.
func (m *MarketDetails) TrailingStopsSupported() bool {
	return m != nil && m.DealingRules.TrailingStopsPreference == "AVAILABLE"
}

// PricePoint is one side of an OHLC candle.
type PricePoint struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// Candle mirrors one entry of GET /prices/{epic}.
type Candle struct {
	SnapshotTime time.Time  `json:"snapshotTime"`
	Open         PricePoint `json:"openPrice"`
	High         PricePoint `json:"highPrice"`
	Low          PricePoint `json:"lowPrice"`
	Close        PricePoint `json:"closePrice"`
	Volume       float64    `json:"lastTradedVolume"`
}

// OrderRequest is the payload for POST /positions.
type OrderRequest struct {
	Epic           string  `json:"epic"`
	Direction      string  `json:"direction"` // BUY or SELL
	Size           float64 `json:"size"`
	GuaranteedStop bool    `json:"guaranteedStop,omitempty"`
	StopLevel      float64 `json:"stopLevel,omitempty"`
	TrailingStop   bool    `json:"trailingStop,omitempty"`
	StopDistance   float64 `json:"stopDistance,omitempty"`
	ProfitLevel    float64 `json:"profitLevel,omitempty"`
}

// DealConfirmation is the response to POST /positions.
type DealConfirmation struct {
	DealReference string `json:"dealReference"`
}

// BrokerPosition mirrors one entry of GET /positions.
type BrokerPosition struct {
	DealID    string  `json:"dealId"`
	Epic      string  `json:"epic"`
	Direction string  `json:"direction"`
	Size      float64 `json:"size"`
	OpenLevel float64 `json:"level"`
	PnL       float64 `json:"upl"`
	CreatedAt string  `json:"createdDate"`
}

// sessionResponse is the JSON body of POST /session; the interesting
// tokens arrive in headers, the body only confirms account state.
type sessionResponse struct {
	AccountID      string `json:"currentAccountId"`
	StreamEndpoint string `json:"streamEndpoint"`
	TimezoneOffset int    `json:"timezoneOffset"`
	HasActiveDemo  bool   `json:"hasActiveDemoAccounts"`
	HasActiveLive  bool   `json:"hasActiveLiveAccounts"`
}

type accountsResponse struct {
	Accounts []struct {
		AccountID string `json:"accountId"`
		Currency  string `json:"currency"`
		Balance   struct {
			Balance   float64 `json:"balance"`
			Deposit   float64 `json:"deposit"`
			PnL       float64 `json:"profitLoss"`
			Available float64 `json:"available"`
		} `json:"balance"`
	} `json:"accounts"`
}

type marketsResponse struct {
	MarketDetails []struct {
		Instrument struct {
			Epic string `json:"epic"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"instrument"`
		Snapshot struct {
			Bid          float64 `json:"bid"`
			Offer        float64 `json:"offer"`
			MarketStatus string  `json:"marketStatus"`
		} `json:"snapshot"`
		DealingRules struct {
			MinDealSize struct {
				Value float64 `json:"value"`
			} `json:"minDealSize"`
			MaxDealSize struct {
				Value float64 `json:"value"`
			} `json:"maxDealSize"`
			TrailingStopsPreference string `json:"trailingStopsPreference"`
		} `json:"dealingRules"`
	} `json:"marketDetails"`
}

type pricesResponse struct {
	Prices []struct {
		SnapshotTime     string     `json:"snapshotTime"`
		OpenPrice        PricePoint `json:"openPrice"`
		HighPrice        PricePoint `json:"highPrice"`
		LowPrice         PricePoint `json:"lowPrice"`
		ClosePrice       PricePoint `json:"closePrice"`
		LastTradedVolume float64    `json:"lastTradedVolume"`
	} `json:"prices"`
}

type positionsResponse struct {
	Positions []struct {
		Position struct {
			DealID      string  `json:"dealId"`
			Direction   string  `json:"direction"`
			Size        float64 `json:"size"`
			Level       float64 `json:"level"`
			UPL         float64 `json:"upl"`
			CreatedDate string  `json:"createdDate"`
		} `json:"position"`
		Market struct {
			Epic string `json:"epic"`
		} `json:"market"`
	} `json:"positions"`
}
