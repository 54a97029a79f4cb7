// Command gateway runs the token-trimming chat-completion proxy.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tokentrim/gateway/internal/compress"
	"github.com/tokentrim/gateway/internal/config"
	"github.com/tokentrim/gateway/internal/gateway"
	"github.com/tokentrim/gateway/internal/monitoring"
	"github.com/tokentrim/gateway/internal/store"
)

func main() {
	// A missing .env is fine; explicit env always wins.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg.Logging)

	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{
		Enabled:            true,
		LogPath:            cfg.Monitoring.TelemetryLogPath,
		CompressionLogPath: cfg.Monitoring.CompressionLogPath,
		LogToStdout:        cfg.Monitoring.LogToStdout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() { _ = tracker.Close() }()

	compressor, err := compress.New(tracker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tokenizer")
	}

	metrics := monitoring.NewMetricsCollector()
	prom := monitoring.NewPromCollector()

	var history *store.History
	if path := cfg.Monitoring.HistoryDBPath; path != "" {
		history, err = store.Open(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to open history store")
		}
		defer func() { _ = history.Close() }()
	}

	gw, err := gateway.New(cfg, compressor, tracker, metrics, prom, history)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gateway")
	}

	tracker.RecordInit(&monitoring.InitEvent{
		Timestamp:          time.Now(),
		Event:              "gateway_init",
		ServerAddr:         cfg.Server.Addr(),
		UpstreamBaseURL:    cfg.Upstream.BaseURL,
		CompressionRatio:   cfg.Compression.Ratio,
		KeepFraction:       cfg.Compression.EffectiveKeepFraction(),
		CompressionEnabled: cfg.Compression.Enabled(),
		TelemetryPath:      cfg.Monitoring.TelemetryLogPath,
		CompressionLogPath: cfg.Monitoring.CompressionLogPath,
		HistoryDBPath:      cfg.Monitoring.HistoryDBPath,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      gw.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr()).
			Str("upstream", cfg.Upstream.BaseURL).
			Float64("keep_fraction", cfg.Compression.EffectiveKeepFraction()).
			Bool("compression", cfg.Compression.Enabled()).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
