// Package main runs the token signal watcher: it bootstraps monitors from
// the call store, streams on-chain updates through the candle/indicator
// pipeline and logs emitted alerts.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"solana-signal-watch/internal/config"
	"solana-signal-watch/internal/derive"
	"solana-signal-watch/internal/indicator"
	"solana-signal-watch/internal/monitor"
	"solana-signal-watch/internal/observability"
	"solana-signal-watch/internal/quote"
	chstore "solana-signal-watch/internal/storage/clickhouse"
	pgstore "solana-signal-watch/internal/storage/postgres"
	"solana-signal-watch/internal/transport"
	"solana-signal-watch/internal/watch"
)

func main() {
	// Missing .env is fine; system env vars still apply.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("chain", cfg.Chain).Msg("starting signal watcher")

	deriver, err := derive.NewDeriver(cfg.CurveProgramID, derive.DefaultSeedPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("build deriver")
	}

	metrics := observability.NewMetrics("", prometheus.DefaultRegisterer)
	registry := monitor.NewRegistry(log)

	manager := transport.NewManager(transport.ManagerConfig{
		Stream:            transport.StreamConfig{URL: cfg.StreamURL, APIKey: cfg.StreamKey},
		Socket:            transport.SocketConfig{URL: cfg.SocketURL, APIKey: cfg.SocketKey},
		ReconnectBase:     cfg.ReconnectBase,
		ReconnectMax:      cfg.ReconnectMax,
		ReconnectAttempts: cfg.ReconnectAttempts,
	}, registry, metrics, log)

	quotes := quote.New(quote.Config{
		TokenURL: cfg.QuoteTokenURL,
		SolURL:   cfg.QuoteSolURL,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := watch.Options{
		Registry: registry,
		Deriver:  deriver,
		Engine:   indicator.NewEngine(0, 0, 0),
		Stream:   manager,
		Quotes:   quotes,
		Metrics:  metrics,
		Logger:   log,
	}

	if cfg.ClickHouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect clickhouse")
		}
		defer conn.Close()
		opts.Sink = chstore.NewSink(conn)
	}

	service := watch.NewService(watch.Config{
		Chain:          cfg.Chain,
		CandleInterval: cfg.CandleInterval,
		MaxCandles:     cfg.MaxCandles,
		PollInterval:   cfg.PollInterval,
	}, opts)

	if err := service.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start service")
	}

	if cfg.PostgresDSN != "" {
		bootstrap(ctx, cfg, service, log)
	}

	// Alert consumers subscribe here; without a downstream dispatcher the
	// watcher just logs what it would have sent.
	alerts := service.Subscribe()
	go func() {
		for alert := range alerts {
			log.Info().
				Str("type", alert.Type).
				Str("token", alert.TokenAddress).
				Str("symbol", alert.TokenSymbol).
				Float64("price", alert.Price).
				Str("message", alert.Message).
				Msg("signal")
		}
	}()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	service.Stop()
	log.Info().Msg("stopped")
}

// bootstrap registers monitors for recent call records.
func bootstrap(ctx context.Context, cfg config.Config, service *watch.Service, log zerolog.Logger) {
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	records, err := pgstore.NewCallStore(pool).RecentCalls(ctx, cfg.Chain, cfg.Lookback)
	if err != nil {
		log.Fatal().Err(err).Msg("load recent calls")
	}
	service.Bootstrap(ctx, records)
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint up")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
