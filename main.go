package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"capital-trading-bot/config"
	"capital-trading-bot/internal/api"
	"capital-trading-bot/internal/bot"
	"capital-trading-bot/internal/cache"
	"capital-trading-bot/internal/calendar"
	"capital-trading-bot/internal/capital"
	"capital-trading-bot/internal/circuit"
	"capital-trading-bot/internal/database"
	"capital-trading-bot/internal/events"
	"capital-trading-bot/internal/ledger"
	"capital-trading-bot/internal/risk"
	"capital-trading-bot/internal/strategy"
	"capital-trading-bot/internal/vault"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Str("version", version).Msg("Starting capital trading bot")

	// Broker credentials come from Vault when enabled, otherwise from
	// config/env.
	if cfg.VaultConfig.Enabled {
		vaultClient, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create vault client")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		creds, err := vaultClient.FetchCredentials(ctx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to fetch broker credentials from vault")
		}

		cfg.CapitalConfig.APIKey = creds.APIKey
		cfg.CapitalConfig.Identifier = creds.Identifier
		cfg.CapitalConfig.Password = creds.Password
		logger.Info().Msg("Broker credentials loaded from vault")
	}

	eventBus := events.NewEventBus(256)

	// Session tokens survive restarts via Redis when available.
	var store *capital.SessionStore
	if cfg.RedisConfig.Enabled {
		store, err = capital.NewSessionStore(capital.SessionStoreConfig{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis session store unavailable, continuing without token persistence")
		}
	}

	var client capital.BrokerAPI
	if cfg.TradingConfig.DryRun {
		client = capital.NewMockClient()
		logger.Warn().Msg("Dry-run mode: using simulated broker")
	} else {
		client = capital.NewClient(capital.Config{
			APIKey:              cfg.CapitalConfig.APIKey,
			Identifier:          cfg.CapitalConfig.Identifier,
			Password:            cfg.CapitalConfig.Password,
			BaseURL:             cfg.CapitalConfig.BaseURL,
			SessionTTL:          time.Duration(cfg.CapitalConfig.SessionTTLMinutes) * time.Minute,
			RenewalThreshold:    time.Duration(cfg.CapitalConfig.RenewalThresholdMin) * time.Minute,
			HealthCheckInterval: time.Duration(cfg.CapitalConfig.HealthCheckSecs) * time.Second,
			MaxRetries:          cfg.CapitalConfig.MaxRetries,
			RetryBaseDelay:      time.Duration(cfg.CapitalConfig.RetryBaseDelayMs) * time.Millisecond,
			RetryMaxDelay:       time.Duration(cfg.CapitalConfig.RetryMaxDelayMs) * time.Millisecond,
			RateLimitCooldown:   time.Duration(cfg.CapitalConfig.RateLimitCooldownMs) * time.Millisecond,
			FailureCeiling:      cfg.CapitalConfig.FailureCeiling,
			MarketDataBatchSize: cfg.CapitalConfig.MarketDataBatchSize,
			BatchDelay:          time.Duration(cfg.CapitalConfig.BatchDelayMs) * time.Millisecond,
			RequestTimeout:      time.Duration(cfg.CapitalConfig.RequestTimeoutSecs) * time.Second,
		}, store, logger)
	}

	// Trade archive is optional; without it closed trades only live in logs
	// and events.
	var repo *database.Repository
	var archive ledger.ArchiveFunc
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}

		repo = database.NewRepository(db)
		archiveLogger := logger.With().Str("component", "archive").Logger()
		archive = func(t ledger.Trade) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.SaveTrade(ctx, t); err != nil {
				archiveLogger.Error().Err(err).Str("symbol", t.Symbol).Msg("Failed to archive trade")
			}
		}
	}

	if repo != nil {
		sub := eventBus.Subscribe(events.EventSignalGenerated, events.EventSignalRejected)
		go persistSignals(repo, sub, logger.With().Str("component", "signal-audit").Logger())
	}

	cal := calendar.New(calendar.Config{
		OpenBuffer:  time.Duration(cfg.CalendarConfig.OpenBufferMins) * time.Minute,
		CloseBuffer: time.Duration(cfg.CalendarConfig.CloseBufferMins) * time.Minute,
	})

	prefs := cache.New(time.Duration(cfg.RiskConfig.PreferencesCacheTTL) * time.Second)

	engine := risk.NewEngine(&risk.Config{
		RiskFraction:       cfg.RiskConfig.RiskFraction,
		MaxPositionValue:   cfg.RiskConfig.MaxPositionValue,
		MinConfidence:      cfg.TradingConfig.MinConfidence,
		MinRiskReward:      cfg.RiskConfig.MinRiskReward,
		MinStopPercent:     cfg.RiskConfig.MinStopPercent,
		ATRMultiplier:      cfg.RiskConfig.ATRMultiplier,
		TakeProfitRatio:    cfg.RiskConfig.TakeProfitRatio,
		MaxRiskScore:       cfg.RiskConfig.MaxRiskScore,
		UseTrailingStop:    cfg.RiskConfig.UseTrailingStop,
		AssetClassLeverage: cfg.RiskConfig.AssetClassLeverage,
	}, prefs, logger)

	trailing := risk.NewTrailingStopManager(&risk.TrailingConfig{
		Enabled:           cfg.RiskConfig.UseTrailingStop,
		TrailingPercent:   cfg.RiskConfig.TrailingPercent,
		ActivationPercent: cfg.RiskConfig.TrailingActivation,
	})

	book := ledger.New(cfg.CapitalConfig.FeeRate, archive, logger)

	breaker := circuit.NewCircuitBreaker(&circuit.Config{
		Enabled:              cfg.CircuitBreakerConfig.Enabled,
		MaxConsecutiveLosses: cfg.CircuitBreakerConfig.MaxConsecutiveLosses,
		CooldownHours:        cfg.CircuitBreakerConfig.CooldownHours,
		MaxDailyLoss:         cfg.CircuitBreakerConfig.MaxDailyLoss,
		MaxDailyTrades:       cfg.CircuitBreakerConfig.MaxDailyTrades,
	})
	breaker.OnTrip(func(reason string) {
		eventBus.Publish(events.Event{
			Type: events.EventBreakerTripped,
			Data: map[string]interface{}{"reason": reason},
		})
	})
	breaker.OnReset(func() {
		eventBus.Publish(events.Event{Type: events.EventBreakerReset})
	})

	tradingBot := bot.New(cfg, client, cal, engine, trailing, book, breaker, eventBus, logger)
	tradingBot.RegisterStrategy(strategy.NewMomentum())

	if cfg.TradingConfig.Enabled {
		if err := tradingBot.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start trading bot")
		}
	} else {
		logger.Info().Msg("Trading disabled, bot waiting for /api/bot/start")
	}

	server := api.NewServer(cfg, tradingBot, breaker, repo, eventBus)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	tradingBot.Stop()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second,
	)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if store != nil {
		store.Close()
	}

	logger.Info().Msg("Shutdown complete")
}

const version = "1.0.0"

// persistSignals drains signal events into the audit trail. It exits when
// the subscription channel closes at shutdown.
func persistSignals(repo *database.Repository, sub *events.Subscription, logger zerolog.Logger) {
	for event := range sub.C {
		outcome := "generated"
		if event.Type == events.EventSignalRejected {
			outcome = "rejected"
		}

		sig := strategy.Signal{
			Symbol:      asString(event.Data["symbol"]),
			Direction:   strategy.Direction(asString(event.Data["direction"])),
			Confidence:  asFloat(event.Data["confidence"]),
			Price:       asFloat(event.Data["price"]),
			Strategy:    asString(event.Data["strategy"]),
			Reason:      asString(event.Data["reason"]),
			GeneratedAt: event.Timestamp,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := repo.SaveSignal(ctx, sig, outcome); err != nil {
			logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("Failed to persist signal")
		}
		cancel()
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

// newLogger builds the root logger from config. Console output is the
// default; JSON is for log shippers.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
