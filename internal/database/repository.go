package database

import (
	"context"
	"fmt"
	"time"

	"capital-trading-bot/internal/ledger"
	"capital-trading-bot/internal/strategy"
)

// Repository provides data access for the trade archive and signal audit
// trail.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveTrade archives a closed trade.
func (r *Repository) SaveTrade(ctx context.Context, t ledger.Trade) error {
	query := `
		INSERT INTO trades (id, deal_id, symbol, direction, quantity, entry_price,
			exit_price, pnl, pnl_percent, fees, reason, strategy, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.DealID, t.Symbol, t.Direction, t.Quantity, t.EntryPrice,
		t.ExitPrice, t.PnL, t.PnLPercent, t.Fees, t.Reason, t.Strategy,
		t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving trade: %w", err)
	}
	return nil
}

// ListTrades returns the most recently closed trades.
func (r *Repository) ListTrades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, deal_id, symbol, direction, quantity, entry_price,
			exit_price, pnl, pnl_percent, fees, reason, strategy, opened_at, closed_at
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing trades: %w", err)
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		var t ledger.Trade
		if err := rows.Scan(
			&t.ID, &t.DealID, &t.Symbol, &t.Direction, &t.Quantity, &t.EntryPrice,
			&t.ExitPrice, &t.PnL, &t.PnLPercent, &t.Fees, &t.Reason, &t.Strategy,
			&t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// SaveSignal records a signal and the gate outcome it met.
func (r *Repository) SaveSignal(ctx context.Context, sig strategy.Signal, outcome string) error {
	query := `
		INSERT INTO signals (symbol, direction, confidence, price, strategy, reason, outcome, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Pool.Exec(ctx, query,
		sig.Symbol, string(sig.Direction), sig.Confidence, sig.Price,
		sig.Strategy, sig.Reason, outcome, sig.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("error saving signal: %w", err)
	}
	return nil
}

// DailySummary aggregates realized results for one trading day.
type DailySummary struct {
	Day      time.Time `json:"day"`
	Trades   int       `json:"trades"`
	Wins     int       `json:"wins"`
	Losses   int       `json:"losses"`
	TotalPnL float64   `json:"total_pnl"`
	Fees     float64   `json:"fees"`
}

// GetDailySummary computes the realized summary for the day containing t.
func (r *Repository) GetDailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE pnl >= 0),
			COUNT(*) FILTER (WHERE pnl < 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(fees), 0)
		FROM trades
		WHERE closed_at >= $1 AND closed_at < $2`

	summary := &DailySummary{Day: start}
	err := r.db.Pool.QueryRow(ctx, query, start, end).Scan(
		&summary.Trades, &summary.Wins, &summary.Losses, &summary.TotalPnL, &summary.Fees,
	)
	if err != nil {
		return nil, fmt.Errorf("error computing daily summary: %w", err)
	}
	return summary, nil
}
