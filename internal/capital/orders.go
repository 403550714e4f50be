package capital

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// PlaceOrder validates the order spec, confirms the instrument is
// currently tradeable and submits POST /positions. Validation failures
// and a non-tradeable market fail before any order call reaches the
// network.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Epic == "" {
		return "", &ValidationError{Field: "epic", Reason: "must not be empty"}
	}
	if req.Direction != "BUY" && req.Direction != "SELL" {
		return "", &ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", req.Direction)}
	}
	if req.Size <= 0 {
		return "", &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if req.TrailingStop && req.GuaranteedStop {
		return "", &ValidationError{Field: "stop", Reason: "trailing stop cannot be combined with guaranteed stop"}
	}
	if req.TrailingStop && req.StopDistance <= 0 {
		return "", &ValidationError{Field: "stopDistance", Reason: "trailing stop requires a positive distance"}
	}

	market, err := c.GetMarketDetails(ctx, req.Epic)
	if err != nil {
		return "", fmt.Errorf("error checking market status for %s: %w", req.Epic, err)
	}
	if !market.Tradeable() {
		return "", &BrokerRejection{
			Epic:       req.Epic,
			StatusCode: 0,
			Reason:     fmt.Sprintf("market status is %s", market.MarketStatus),
		}
	}

	var conf DealConfirmation
	if err := c.authedRequest(ctx, http.MethodPost, apiBase+"/positions", req, &conf); err != nil {
		return "", err
	}
	if conf.DealReference == "" {
		return "", &BrokerRejection{Epic: req.Epic, Reason: "order accepted without a deal reference"}
	}

	c.logger.Info().
		Str("epic", req.Epic).
		Str("direction", req.Direction).
		Float64("size", req.Size).
		Str("deal_ref", conf.DealReference).
		Msg("order placed")
	return conf.DealReference, nil
}

// ClosePosition closes a deal via DELETE /positions/{dealId}. The open
// positions are re-read first; a deal that is already gone counts as
// success so that double-close races stay harmless.
func (c *Client) ClosePosition(ctx context.Context, dealID string) error {
	if dealID == "" {
		return &ValidationError{Field: "dealId", Reason: "must not be empty"}
	}

	positions, err := c.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("error confirming position %s: %w", dealID, err)
	}

	found := false
	for _, p := range positions {
		if p.DealID == dealID {
			found = true
			break
		}
	}
	if !found {
		c.logger.Info().Str("deal_id", dealID).Msg("position already closed")
		return nil
	}

	err = c.authedRequest(ctx, http.MethodDelete, apiBase+"/positions/"+dealID, nil, nil)
	if errors.Is(err, ErrPositionNotFound) {
		// Lost the race between confirm and delete; same outcome.
		c.logger.Info().Str("deal_id", dealID).Msg("position closed concurrently")
		return nil
	}
	if err != nil {
		return err
	}

	c.logger.Info().Str("deal_id", dealID).Msg("position closed")
	return nil
}

// GetOpenPositions reads GET /positions.
func (c *Client) GetOpenPositions(ctx context.Context) ([]BrokerPosition, error) {
	var resp positionsResponse
	if err := c.authedRequest(ctx, http.MethodGet, apiBase+"/positions", nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]BrokerPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, BrokerPosition{
			DealID:    p.Position.DealID,
			Epic:      p.Market.Epic,
			Direction: p.Position.Direction,
			Size:      p.Position.Size,
			OpenLevel: p.Position.Level,
			PnL:       p.Position.UPL,
			CreatedAt: p.Position.CreatedDate,
		})
	}
	return positions, nil
}
