package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stockdash/internal/api"
	"stockdash/internal/market"
	"stockdash/internal/portfolio"
	"stockdash/internal/quotecache"
	"stockdash/internal/realtime"
	"stockdash/internal/refresh"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		addr     = flag.String("addr", envOr("ADDR", ":8080"), "server listen address")
		interval = flag.Duration("refresh-interval", 30*time.Second, "market refresh interval")
		ttl      = flag.Duration("quote-ttl", quotecache.DefaultTTL, "quote cache time-to-live")
		logLevel = flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	client := market.NewClient(log)
	cache := quotecache.New(client, *ttl)
	ledger := portfolio.NewLedger(portfolio.DefaultWatchlist...)
	orchestrator := refresh.NewOrchestrator(cache, ledger, refresh.DefaultIndices, log)
	hub := realtime.NewHub(log)
	apiServer := api.NewServer(cache, client, orchestrator, ledger, hub, log)
	orchestrator.OnRefresh(apiServer.BroadcastUpdate)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go orchestrator.Run(ctx, *interval)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	log.Info().Str("addr", *addr).Dur("refreshInterval", *interval).Msg("stockdash backend listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
