// Bandeja server: websocket hub for tray clients, notification CRUD API,
// scheduler loop and helpdesk ticket poller.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/contalink/bandeja/internal/config"
	"github.com/contalink/bandeja/internal/schedule"
	"github.com/contalink/bandeja/internal/server"
	"github.com/contalink/bandeja/internal/store"
	"github.com/contalink/bandeja/internal/tickets"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	st, err := store.Open(cfg.DatabasePath, log, store.RetryPolicy{
		MaxAttempts:     uint64(cfg.StoreRetryAttempts),
		InitialInterval: cfg.StoreRetryInitial,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, st, log)

	sched := schedule.New(log, st, srv.Dispatcher(), cfg.SchedulerInterval)
	sched.Start(ctx)

	var poller *tickets.Poller
	if cfg.TicketsBaseURL != "" {
		poller = tickets.New(log, tickets.Config{
			BaseURL:  cfg.TicketsBaseURL,
			Token:    cfg.TicketsToken,
			PageSize: cfg.TicketsPageSize,
			Spec:     cfg.TicketsSpec,
		}, srv.Dispatcher())
		if err := poller.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start ticket poller")
		}
	}

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	stop()
	sched.Wait()
	if poller != nil {
		poller.Stop()
	}
	log.Info().Msg("shutdown complete")
}
