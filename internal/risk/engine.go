package risk

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"capital-trading-bot/internal/cache"
	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/strategy"
)

// Rejection reason codes. A rejection is an expected outcome of a risk
// check; fatal input problems are returned as errors instead.
const (
	ReasonLowConfidence      = "low_confidence"
	ReasonInsufficientMargin = "insufficient_margin"
	ReasonRiskReward         = "risk_reward"
	ReasonRiskScore          = "risk_score"
	ReasonBelowMinSize       = "below_min_deal_size"
)

// Assessment is the outcome of evaluating a signal. When Approved is
// false, Reason carries the failed check; the sizing fields are only
// meaningful on approval.
type Assessment struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`

	Quantity       float64 `json:"quantity"`
	PositionValue  float64 `json:"position_value"`
	MarginRequired float64 `json:"margin_required"`
	Leverage       float64 `json:"leverage"`
	StopLevel      float64 `json:"stop_level"`
	ProfitLevel    float64 `json:"profit_level"`
	StopDistance   float64 `json:"stop_distance"`
	TrailingStop   bool    `json:"trailing_stop"`
	RiskScore      float64 `json:"risk_score"`
}

// Config holds risk engine configuration
type Config struct {
	RiskFraction       float64            // Fraction of portfolio committed per trade
	MaxPositionValue   float64            // Absolute position value cap
	MinConfidence      float64            // Signals below this are rejected
	MinRiskReward      float64            // Required reward/risk ratio
	MinStopPercent     float64            // Stop distance floor as percent of entry
	ATRMultiplier      float64            // ATR stop distance multiplier
	TakeProfitRatio    float64            // Target distance as multiple of stop distance
	MaxRiskScore       float64            // Approval ceiling, 0-100
	UseTrailingStop    bool
	AssetClassLeverage map[string]float64 // keyed by asset class name
}

// Engine evaluates signals into sized, stop-bracketed trade plans.
// Market preferences (leverage tier, trailing stop support) are cached so
// repeat evaluations of the same instrument skip the lookup.
type Engine struct {
	config *Config
	prefs  *cache.TTLCache
	logger zerolog.Logger

	mu            sync.RWMutex
	minConfidence float64 // tunable at runtime via the API
}

// NewEngine creates a risk engine backed by the given preferences cache.
func NewEngine(cfg *Config, prefs *cache.TTLCache, logger zerolog.Logger) *Engine {
	return &Engine{
		config:        cfg,
		prefs:         prefs,
		logger:        logger.With().Str("component", "risk").Logger(),
		minConfidence: cfg.MinConfidence,
	}
}

// MinConfidence returns the active confidence floor.
func (e *Engine) MinConfidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minConfidence
}

// SetMinConfidence changes the confidence floor for subsequent
// evaluations.
func (e *Engine) SetMinConfidence(v float64) {
	e.mu.Lock()
	e.minConfidence = v
	e.mu.Unlock()
	e.logger.Info().Float64("min_confidence", v).Msg("confidence floor updated")
}

// Evaluate sizes a signal against the account and market snapshot.
// A returned error means the inputs were unusable; a non-approved
// Assessment means a risk check said no.
func (e *Engine) Evaluate(signal *strategy.Signal, market *capital.MarketDetails, account *capital.AccountInfo) (*Assessment, error) {
	price := signal.Price
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, &capital.ValidationError{Field: "price", Reason: fmt.Sprintf("unusable price %v for %s", price, signal.Symbol)}
	}
	if math.IsNaN(signal.ATR) || math.IsInf(signal.ATR, 0) || signal.ATR < 0 {
		return nil, &capital.ValidationError{Field: "atr", Reason: fmt.Sprintf("unusable ATR %v for %s", signal.ATR, signal.Symbol)}
	}
	if account == nil || account.Balance <= 0 {
		return nil, &capital.ValidationError{Field: "account", Reason: "no account balance available"}
	}

	if minConf := e.MinConfidence(); signal.Confidence < minConf {
		return &Assessment{
			Approved: false,
			Reason:   ReasonLowConfidence,
			Detail:   fmt.Sprintf("confidence %.0f below minimum %.0f", signal.Confidence, minConf),
		}, nil
	}

	leverage := e.leverageFor(market)

	sign := 1.0
	if signal.Direction == strategy.DirectionSell {
		sign = -1
	}

	// Stop distance: ATR-scaled, never tighter than the percentage floor.
	atrDistance := signal.ATR * e.config.ATRMultiplier
	floorDistance := price * e.config.MinStopPercent / 100
	stopDistance := math.Max(atrDistance, floorDistance)

	// A strategy-supplied stop wins over the ATR estimate when it sits on
	// the losing side of the entry; the percentage floor still applies.
	if signal.StopHint > 0 {
		if d := (price - signal.StopHint) * sign; d > 0 {
			stopDistance = math.Max(d, floorDistance)
		}
	}

	profitDistance := stopDistance * e.config.TakeProfitRatio
	if signal.TargetHint > 0 {
		if d := (signal.TargetHint - price) * sign; d > 0 {
			profitDistance = d
		}
	}

	stopLevel := price - stopDistance*sign
	profitLevel := price + profitDistance*sign

	if rr := profitDistance / stopDistance; rr < e.config.MinRiskReward {
		return &Assessment{
			Approved: false,
			Reason:   ReasonRiskReward,
			Detail:   fmt.Sprintf("reward/risk %.2f below minimum %.2f", rr, e.config.MinRiskReward),
		}, nil
	}

	// Value-based sizing: commit a fixed slice of the portfolio, capped.
	positionValue := account.Balance * e.config.RiskFraction
	if e.config.MaxPositionValue > 0 && positionValue > e.config.MaxPositionValue {
		positionValue = e.config.MaxPositionValue
	}

	marginRequired := positionValue / leverage
	if marginRequired > account.Available {
		// A smaller position would fit, but silent downsizing hides
		// broken sizing assumptions from the operator.
		return &Assessment{
			Approved: false,
			Reason:   ReasonInsufficientMargin,
			Detail:   fmt.Sprintf("margin %.2f exceeds available %.2f", marginRequired, account.Available),
		}, nil
	}

	quantity := positionValue / price
	if market != nil {
		if min := market.DealingRules.MinDealSize; min > 0 && quantity < min {
			return &Assessment{
				Approved: false,
				Reason:   ReasonBelowMinSize,
				Detail:   fmt.Sprintf("size %.6f below broker minimum %.6f", quantity, min),
			}, nil
		}
		if max := market.DealingRules.MaxDealSize; max > 0 && quantity > max {
			quantity = max
			positionValue = quantity * price
			marginRequired = positionValue / leverage
		}
	}

	score := e.riskScore(price, signal.ATR, stopDistance, leverage, signal.Confidence)
	if score > e.config.MaxRiskScore {
		return &Assessment{
			Approved:  false,
			Reason:    ReasonRiskScore,
			Detail:    fmt.Sprintf("risk score %.1f above ceiling %.1f", score, e.config.MaxRiskScore),
			RiskScore: score,
		}, nil
	}

	trailing := e.config.UseTrailingStop && e.trailingSupported(market)

	e.logger.Debug().
		Str("symbol", signal.Symbol).
		Str("direction", string(signal.Direction)).
		Float64("quantity", quantity).
		Float64("position_value", positionValue).
		Float64("stop_level", stopLevel).
		Float64("risk_score", score).
		Msg("signal approved")

	return &Assessment{
		Approved:       true,
		Quantity:       quantity,
		PositionValue:  positionValue,
		MarginRequired: marginRequired,
		Leverage:       leverage,
		StopLevel:      stopLevel,
		ProfitLevel:    profitLevel,
		StopDistance:   stopDistance,
		TrailingStop:   trailing,
		RiskScore:      score,
	}, nil
}

// riskScore blends volatility, leverage and stop width into a 0-100
// score. Wider stops and higher leverage both push the score up; high
// confidence pulls it down slightly.
func (e *Engine) riskScore(price, atr, stopDistance, leverage, confidence float64) float64 {
	volPct := atr / price * 100
	stopPct := stopDistance / price * 100

	score := volPct*10 + leverage*1.0 + stopPct*5 - (confidence-50)*0.2
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// leverageFor resolves the leverage tier for an instrument, caching the
// result per epic.
func (e *Engine) leverageFor(market *capital.MarketDetails) float64 {
	if market == nil {
		return 1
	}
	key := "leverage:" + market.Epic
	if v, ok := e.prefs.Get(key); ok {
		return v.(float64)
	}

	class := assetClassForInstrument(market.InstrumentType)
	leverage, ok := e.config.AssetClassLeverage[class]
	if !ok || leverage <= 0 {
		leverage = 1
	}
	e.prefs.Set(key, leverage)
	return leverage
}

// trailingSupported reports whether the instrument allows trailing stops,
// caching the broker's preference flag per epic.
func (e *Engine) trailingSupported(market *capital.MarketDetails) bool {
	if market == nil {
		return false
	}
	key := "trailing:" + market.Epic
	if v, ok := e.prefs.Get(key); ok {
		return v.(bool)
	}
	supported := market.TrailingStopsSupported()
	e.prefs.Set(key, supported)
	return supported
}

func assetClassForInstrument(instrumentType string) string {
	switch instrumentType {
	case "CRYPTOCURRENCIES":
		return "crypto"
	case "CURRENCIES":
		return "forex"
	case "COMMODITIES":
		return "commodity"
	case "SHARES", "OPT_SHARES":
		return "share"
	default:
		return "index"
	}
}
