// Command ingestord runs the multi-account ingestion and indexing daemon:
// it loads every enabled account, starts its Telegram session, and serves
// both the WebSocket/health surface and the Command API admin surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	gonats "github.com/nats-io/nats.go"

	"github.com/blockedby/positions-os/internal/api"
	"github.com/blockedby/positions-os/internal/config"
	"github.com/blockedby/positions-os/internal/database"
	"github.com/blockedby/positions-os/internal/engine"
	"github.com/blockedby/positions-os/internal/logger"
	ingestnats "github.com/blockedby/positions-os/internal/nats"
	"github.com/blockedby/positions-os/internal/repository"
	"github.com/blockedby/positions-os/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting ingestion daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	nc, err := ingestnats.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
	} else {
		defer nc.Close()
		if err := nc.EnsureStream(ctx, "INGEST", []string{"ingest.>"}); err != nil {
			log.Warn().Err(err).Msg("failed to ensure nats stream")
		}
	}

	var conn *gonats.Conn
	if nc != nil {
		conn = nc.Conn
	}
	eng := engine.New(cfg, db.Pool, conn)

	if err := eng.StartAccounts(ctx); err != nil {
		log.Error().Err(err).Msg("starting accounts failed")
	}
	go eng.Run(ctx)

	search := repository.NewSearchRepository(db.Pool, cfg)

	webCfg := &web.Config{Port: cfg.HTTPPort}
	webServer := web.NewServer(webCfg, nil, eng.Hub)

	apiCfg := &api.Config{
		Port:        cfg.FuegoPort,
		Title:       "Telegram Ingestion Command API",
		Description: "Account, dialog, invite, scheduler and search administration",
		Version:     "dev",
	}
	apiDeps := &api.Dependencies{
		Accounts:   eng.Accounts,
		Dialogs:    eng.Dialogs,
		Sessions:   eng.Sessions,
		Registry:   eng.Registry,
		Invites:    eng.Invites,
		Invite:     eng.Invite,
		Schedulers: eng.Enrichment,
		Search:     search,
	}
	apiServer := api.NewServer(apiCfg, apiDeps)

	log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
	go func() {
		if err := webServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("web server error")
		}
	}()

	log.Info().Int("port", cfg.FuegoPort).Msg("starting command api server")
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = webServer.Stop(shutdownCtx)
	_ = apiServer.Stop(shutdownCtx)

	log.Info().Msg("shutdown complete")
}
