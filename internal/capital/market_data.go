package capital

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GetAccounts reads GET /accounts and returns the first account's
// balance snapshot.
func (c *Client) GetAccounts(ctx context.Context) (*AccountInfo, error) {
	var resp accountsResponse
	if err := c.authedRequest(ctx, http.MethodGet, apiBase+"/accounts", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Accounts) == 0 {
		return nil, &BrokerRejection{Reason: "no accounts returned"}
	}

	a := resp.Accounts[0]
	return &AccountInfo{
		AccountID: a.AccountID,
		Balance:   a.Balance.Balance,
		Available: a.Balance.Available,
		Deposit:   a.Balance.Deposit,
		PnL:       a.Balance.PnL,
		Currency:  a.Currency,
	}, nil
}

// GetMarketDetails reads a single instrument from GET /markets.
func (c *Client) GetMarketDetails(ctx context.Context, epic string) (*MarketDetails, error) {
	markets, err := c.fetchMarkets(ctx, []string{epic})
	if err != nil {
		return nil, err
	}
	m, ok := markets[epic]
	if !ok {
		return nil, &BrokerRejection{Epic: epic, Reason: "unknown epic"}
	}
	return m, nil
}

// GetMarketData fetches market details for many symbols in bounded
// batches with an inter-batch delay, so a long symbol list cannot burn
// through the remote rate limit. A failed batch is logged and skipped;
// the remaining batches still contribute, so callers get partial results
// rather than nothing.
func (c *Client) GetMarketData(ctx context.Context, epics []string) (map[string]*MarketDetails, error) {
	if len(epics) == 0 {
		return map[string]*MarketDetails{}, nil
	}

	batchSize := c.cfg.MarketDataBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	results := make(map[string]*MarketDetails, len(epics))
	var failed []string

	for start := 0; start < len(epics); start += batchSize {
		end := start + batchSize
		if end > len(epics) {
			end = len(epics)
		}
		batch := epics[start:end]

		if start > 0 {
			select {
			case <-time.After(c.cfg.BatchDelay):
			case <-ctx.Done():
				return results, &NetworkError{Op: "get_market_data", Err: ctx.Err()}
			}
		}

		markets, err := c.fetchMarkets(ctx, batch)
		if err != nil {
			c.logger.Warn().Strs("epics", batch).Err(err).Msg("market data batch failed")
			failed = append(failed, batch...)
			continue
		}
		for epic, m := range markets {
			results[epic] = m
		}
	}

	if len(results) == 0 && len(failed) > 0 {
		return nil, &NetworkError{Op: "get_market_data", Err: fmt.Errorf("all %d batches failed", (len(epics)+batchSize-1)/batchSize)}
	}
	return results, nil
}

func (c *Client) fetchMarkets(ctx context.Context, epics []string) (map[string]*MarketDetails, error) {
	path := apiBase + "/markets?epics=" + url.QueryEscape(strings.Join(epics, ","))

	var resp marketsResponse
	if err := c.authedRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	markets := make(map[string]*MarketDetails, len(resp.MarketDetails))
	for _, md := range resp.MarketDetails {
		markets[md.Instrument.Epic] = &MarketDetails{
			Epic:           md.Instrument.Epic,
			InstrumentName: md.Instrument.Name,
			InstrumentType: md.Instrument.Type,
			Bid:            md.Snapshot.Bid,
			Offer:          md.Snapshot.Offer,
			MarketStatus:   md.Snapshot.MarketStatus,
			DealingRules: DealingRules{
				MinDealSize:             md.DealingRules.MinDealSize.Value,
				MaxDealSize:             md.DealingRules.MaxDealSize.Value,
				TrailingStopsPreference: md.DealingRules.TrailingStopsPreference,
			},
			UpdateTime: time.Now(),
		}
	}
	return markets, nil
}

// GetPrices reads an OHLC candle series from GET /prices/{epic}.
func (c *Client) GetPrices(ctx context.Context, epic, resolution string, max int) ([]Candle, error) {
	if epic == "" {
		return nil, &ValidationError{Field: "epic", Reason: "must not be empty"}
	}
	if max <= 0 {
		max = 100
	}

	q := url.Values{}
	q.Set("resolution", resolution)
	q.Set("max", strconv.Itoa(max))
	path := apiBase + "/prices/" + url.PathEscape(epic) + "?" + q.Encode()

	var resp pricesResponse
	if err := c.authedRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		ts, err := time.Parse("2006-01-02T15:04:05", p.SnapshotTime)
		if err != nil {
			// Some endpoints return RFC3339; accept both.
			ts, _ = time.Parse(time.RFC3339, p.SnapshotTime)
		}
		candles = append(candles, Candle{
			SnapshotTime: ts,
			Open:         p.OpenPrice,
			High:         p.HighPrice,
			Low:          p.LowPrice,
			Close:        p.ClosePrice,
			Volume:       p.LastTradedVolume,
		})
	}
	return candles, nil
}
