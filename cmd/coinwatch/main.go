// Coinwatch - Risk-integrity core for an automated crypto trading session
//
// The daemon streams live prices from Binance, scores them into directional
// predictions, and runs every entry and exit through a lifecycle manager
// (stop loss, trailing stop, take profit, partial-profit ladder, time
// horizon). A reconciliation engine independently audits the portfolio's
// accounting on a fixed interval and halts trading when the books cannot
// be trusted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantbyte/coinwatch/internal/alert"
	"github.com/quantbyte/coinwatch/internal/config"
	"github.com/quantbyte/coinwatch/internal/feed"
	"github.com/quantbyte/coinwatch/internal/lifecycle"
	"github.com/quantbyte/coinwatch/internal/predictor"
	"github.com/quantbyte/coinwatch/internal/reconcile"
	"github.com/quantbyte/coinwatch/internal/session"
	"github.com/quantbyte/coinwatch/internal/storage"
)

const version = "1.0.0"

const atrPeriod = 14

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "PAPER"
	}

	log.Info().
		Str("version", version).
		Str("mode", mode).
		Strs("symbols", cfg.Symbols).
		Str("base_capital", cfg.BaseCapital.StringFixed(2)).
		Msg("⚡ Coinwatch starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== CORE COMPONENTS ======

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	notifier, err := alert.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram alerts")
	}

	engineCfg := reconcile.DefaultConfig()
	engineCfg.Tolerance = cfg.Tolerance
	engineCfg.HighThreshold = cfg.HighThreshold
	engineCfg.CriticalThreshold = cfg.CriticalThreshold
	engineCfg.LeverageLimit = cfg.LeverageLimit
	engineCfg.StaleAfter = cfg.StaleAfter

	engine, err := reconcile.NewEngine(engineCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reconciliation thresholds")
	}

	lcm := lifecycle.NewManager(lifecycle.Config{
		Fees:                 lifecycle.FlatFee(cfg.FeeRate),
		StopLossMultiplier:   cfg.StopLossMultiplier,
		TakeProfitMultiplier: cfg.TakeProfitMultiplier,
		TrailingMultiplier:   cfg.TrailingMultiplier,
		PartialLadder:        cfg.PartialLadder,
		PartialExitFraction:  cfg.PartialExitFraction,
		MaxHold:              cfg.MaxHold,
	})

	breaker := session.NewBreaker(cfg.MaxConsecutiveLosses, cfg.HaltCooldown)

	sess := session.New(session.Config{
		BaseCapital:        cfg.BaseCapital,
		PositionSizePct:    cfg.PositionSizePct,
		MaxPositions:       cfg.MaxPositions,
		MinConfidence:      cfg.MinConfidence,
		ProfitLockFraction: cfg.ProfitLockFraction,
		ReconcileInterval:  cfg.ReconcileInterval,
		DryRun:             cfg.DryRun,
	}, engine, lcm, breaker, db, notifier)

	if err := sess.RecoverPositions(); err != nil {
		log.Error().Err(err).Msg("Position recovery failed, starting fresh")
	}

	// ====== MARKET DATA ======

	feedClient := feed.NewClient(cfg.BinanceWSURL, cfg.BinanceAPIURL, cfg.Symbols)
	feedClient.SetTickCallback(func(tick feed.Tick) {
		sess.OnPrice(tick.Symbol, tick.Price, feedClient.ATR(tick.Symbol, atrPeriod))
	})
	if err := feedClient.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start Binance feed")
	}

	pred := predictor.New(feedClient, cfg.Symbols, cfg.MaxHold)
	pred.SetSignalCallback(func(sig predictor.Signal) {
		sess.HandleSignal(sig.Symbol, sig.Price, sig.Prediction, feedClient.ATR(sig.Symbol, atrPeriod))
	})
	pred.Start()

	// ====== RECONCILIATION LOOP ======

	go sess.Run(ctx)

	notifier.NotifyStartup(mode, cfg.BaseCapital, cfg.Symbols)
	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("🛑 Received shutdown signal")

	cancel()
	pred.Stop()
	feedClient.Stop()

	log.Info().Msg("👋 Goodbye!")
}
