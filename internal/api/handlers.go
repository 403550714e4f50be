package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleMetrics exposes the Prometheus registry.
func (s *Server) handleMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// handleStatus returns the bot status snapshot
func (s *Server) handleStatus(c *gin.Context) {
	status := s.bot.Status()
	status["ws_clients"] = s.hub.ClientCount()
	status["events_dropped"] = s.eventBus.Dropped()
	successResponse(c, status)
}

func (s *Server) handleBotStart(c *gin.Context) {
	if err := s.bot.Start(); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	successResponse(c, gin.H{"running": true})
}

func (s *Server) handleBotStop(c *gin.Context) {
	s.bot.Stop()
	successResponse(c, gin.H{"running": false})
}

func (s *Server) handleForceCycle(c *gin.Context) {
	s.bot.ForceCycle()
	successResponse(c, gin.H{"forced": true})
}

// handleEmergencyStop closes every open position and halts the bot.
func (s *Server) handleEmergencyStop(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := s.bot.EmergencyStop(ctx); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"stopped": true})
}

// handleGetPositions returns the open position ledger
func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.bot.OpenPositions())
}

// handleGetTrades returns recently closed trades from the archive
func (s *Server) handleGetTrades(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade archive is disabled")
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	trades, err := s.repo.ListTrades(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, trades)
}

// handleDailyReport returns the realized summary for today (or ?date=YYYY-MM-DD)
func (s *Server) handleDailyReport(c *gin.Context) {
	if s.repo == nil {
		errorResponse(c, http.StatusServiceUnavailable, "trade archive is disabled")
		return
	}

	day := time.Now().UTC()
	if v := c.Query("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	summary, err := s.repo.GetDailySummary(c.Request.Context(), day)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, summary)
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	successResponse(c, s.breaker.GetStats())
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	s.breaker.ForceReset()
	successResponse(c, s.breaker.GetStats())
}

// handleGetConfig returns the active configuration with secrets redacted
func (s *Server) handleGetConfig(c *gin.Context) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	cfg := s.cfg

	successResponse(c, gin.H{
		"capital": gin.H{
			"base_url":            cfg.CapitalConfig.BaseURL,
			"demo":                cfg.CapitalConfig.Demo,
			"session_ttl_minutes": cfg.CapitalConfig.SessionTTLMinutes,
			"fee_rate":            cfg.CapitalConfig.FeeRate,
		},
		"trading": cfg.TradingConfig,
		"risk":    cfg.RiskConfig,
		"circuit_breaker": gin.H{
			"enabled":                cfg.CircuitBreakerConfig.Enabled,
			"max_consecutive_losses": cfg.CircuitBreakerConfig.MaxConsecutiveLosses,
			"cooldown_hours":         cfg.CircuitBreakerConfig.CooldownHours,
			"max_daily_loss":         cfg.CircuitBreakerConfig.MaxDailyLoss,
			"max_daily_trades":       cfg.CircuitBreakerConfig.MaxDailyTrades,
		},
	})
}

// configUpdateRequest carries the runtime-tunable settings. Pointer fields
// distinguish "absent" from zero values.
type configUpdateRequest struct {
	MinConfidence  *float64 `json:"min_confidence"`
	MaxDailyTrades *int     `json:"max_daily_trades"`
	DryRun         *bool    `json:"dry_run"`
	ReversalPolicy *string  `json:"reversal_policy"`
}

// handleUpdateConfig applies runtime-tunable trading settings. Validation
// runs fully before anything is applied, so a rejected request changes
// nothing. The bot setters push each value into the live loop; the config
// copy is only updated for GET /config to report.
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req configUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.MinConfidence != nil && (*req.MinConfidence < 0 || *req.MinConfidence > 100) {
		errorResponse(c, http.StatusBadRequest, "min_confidence must be between 0 and 100")
		return
	}
	if req.MaxDailyTrades != nil && *req.MaxDailyTrades < 0 {
		errorResponse(c, http.StatusBadRequest, "max_daily_trades must be non-negative")
		return
	}
	if req.DryRun != nil {
		// Switching broker clients needs a restart; refuse rather than
		// silently accept a flag that cannot take effect.
		errorResponse(c, http.StatusBadRequest, "dry_run cannot be changed at runtime, restart with the new setting")
		return
	}
	if req.ReversalPolicy != nil && *req.ReversalPolicy != "reject" && *req.ReversalPolicy != "close_then_reopen" {
		errorResponse(c, http.StatusBadRequest, "reversal_policy must be reject or close_then_reopen")
		return
	}

	s.cfgMu.Lock()
	if req.MinConfidence != nil {
		s.bot.SetMinConfidence(*req.MinConfidence)
		s.cfg.TradingConfig.MinConfidence = *req.MinConfidence
	}
	if req.MaxDailyTrades != nil {
		s.bot.SetMaxDailyTrades(*req.MaxDailyTrades)
		s.cfg.TradingConfig.MaxDailyTrades = *req.MaxDailyTrades
	}
	if req.ReversalPolicy != nil {
		s.bot.SetReversalPolicy(*req.ReversalPolicy)
		s.cfg.TradingConfig.ReversalPolicy = *req.ReversalPolicy
	}
	applied := s.cfg.TradingConfig
	s.cfgMu.Unlock()

	successResponse(c, applied)
}
