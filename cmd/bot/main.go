package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/avelarkai/tradepilot/config"
	"github.com/avelarkai/tradepilot/internal/adapters/chain"
	"github.com/avelarkai/tradepilot/internal/adapters/exchange"
	"github.com/avelarkai/tradepilot/internal/adapters/notify"
	"github.com/avelarkai/tradepilot/internal/adapters/storage"
	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/engine"
	"github.com/avelarkai/tradepilot/internal/ports"
	"github.com/avelarkai/tradepilot/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	report := flag.Bool("report", false, "print the stats report from history and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()

	if *report {
		runReport(store, console)
		return
	}

	slog.Info("tradepilot starting",
		"config", *configPath,
		"discovery_interval", cfg.DiscoveryInterval(),
		"monitor_interval", cfg.MonitorInterval(),
		"max_concurrent", cfg.Engine.MaxConcurrentTrades,
		"max_per_hour", cfg.Engine.MaxTradesPerHour,
	)

	chains, exchanges := buildConnectors(cfg)
	strategies := buildStrategies(cfg, chains, exchanges)
	publisher := buildPublisher(cfg, console)

	engineCfg := engine.Config{
		DiscoveryInterval:   cfg.DiscoveryInterval(),
		MonitorInterval:     cfg.MonitorInterval(),
		BalanceInterval:     cfg.BalanceInterval(),
		MaxConcurrentTrades: cfg.Engine.MaxConcurrentTrades,
		MaxTradesPerHour:    cfg.Engine.MaxTradesPerHour,
		WalletBuyPercentage: cfg.Engine.WalletBuyPercentage,
		TakeProfitPct:       cfg.Engine.TakeProfit,
		StopLossPct:         cfg.Engine.StopLoss,
		MaxTradeTime:        cfg.MaxTradeTime(),
		CloseTradesOnStop:   cfg.Engine.CloseTradesOnStop,
		Risk: engine.RiskConfig{
			MaxTradeSize:   cfg.Risk.MaxTradeSize,
			DailyLossLimit: cfg.Risk.DailyLossLimit,
		},
	}

	eng := engine.New(engineCfg, strategies, chains, exchanges, store, publisher)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine failed to start", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	if err := eng.Stop(); err != nil {
		slog.Error("engine stop failed", "err", err)
		os.Exit(1)
	}
	slog.Info("tradepilot stopped cleanly")
}

// buildConnectors wires the enabled venues. A venue whose credentials or
// setup is broken is disabled with a warning; the engine runs with the
// remaining venues and only fails to start when none could be built.
func buildConnectors(cfg *config.Config) ([]ports.ChainConnector, []ports.ExchangeConnector) {
	var chains []ports.ChainConnector
	var exchanges []ports.ExchangeConnector

	if cfg.Venues.Chain.Enabled {
		prices := chain.NewPriceClient(cfg.Venues.Chain.PriceBase, cfg.Venues.Chain.Name)
		paper := chain.NewPaperConnector(
			cfg.Venues.Chain.Name,
			cfg.Venues.Chain.QuoteAsset,
			cfg.Venues.Chain.PaperBalance,
			prices,
		)
		chains = append(chains, paper)
		slog.Info("chain venue enabled (paper execution)",
			"venue", paper.Venue(), "wallet", paper.Address())
	}

	if cfg.Venues.Binance.Enabled {
		conn, err := exchange.NewBinance(cfg.Venues.Binance.APIKey, cfg.Venues.Binance.SecretKey)
		if err != nil {
			slog.Warn("binance venue disabled", "err", err)
		} else {
			exchanges = append(exchanges, conn)
			slog.Info("exchange venue enabled", "venue", conn.Venue())
		}
	}

	return chains, exchanges
}

// buildStrategies wires the enabled strategies to a price source on their
// configured venue.
func buildStrategies(cfg *config.Config, chains []ports.ChainConnector, exchanges []ports.ExchangeConnector) []ports.Strategy {
	var strategies []ports.Strategy

	wl := cfg.Strategies.Watchlist
	if wl.Enabled && len(wl.Instruments) > 0 {
		prices, class := priceSourceFor(wl.Venue, chains, exchanges)
		if prices == nil {
			slog.Warn("watchlist strategy disabled: venue not available", "venue", wl.Venue)
		} else {
			strategies = append(strategies, strategy.NewWatchlist(strategy.WatchlistConfig{
				Venue:       wl.Venue,
				VenueClass:  class,
				Instruments: wl.Instruments,
				DipPct:      wl.DipPct,
				Amount:      wl.Amount,
				Score:       wl.Score,
			}, prices))
			slog.Info("watchlist strategy enabled",
				"venue", wl.Venue, "instruments", len(wl.Instruments), "dip_pct", wl.DipPct)
		}
	}

	return strategies
}

func priceSourceFor(venue string, chains []ports.ChainConnector, exchanges []ports.ExchangeConnector) (strategy.PriceFunc, domain.VenueClass) {
	for _, c := range chains {
		if c.Venue() == venue {
			return c.GetTokenPrice, domain.VenueChain
		}
	}
	for _, c := range exchanges {
		if c.Venue() == venue {
			return c.GetCurrentPrice, domain.VenueExchange
		}
	}
	return nil, ""
}

// buildPublisher composes the console output with the websocket hub when
// telemetry is enabled.
func buildPublisher(cfg *config.Config, console *notify.Console) ports.Publisher {
	if !cfg.Telemetry.Enabled {
		return console
	}

	hub := notify.NewHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	go func() {
		slog.Info("telemetry listening", "addr", cfg.Telemetry.Listen)
		if err := http.ListenAndServe(cfg.Telemetry.Listen, mux); err != nil {
			slog.Warn("telemetry server stopped", "err", err)
		}
	}()
	return notify.Multi{console, hub}
}

func runReport(store *storage.SQLiteStore, console *notify.Console) {
	history, err := store.Load(context.Background())
	if err != nil {
		slog.Error("failed to load history", "err", err)
		os.Exit(1)
	}
	console.PrintReport(domain.DeriveStats(history), history)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
