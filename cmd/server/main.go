package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/telemeet/huddle/internal/adapters/http"
	"github.com/telemeet/huddle/internal/app"
	"github.com/telemeet/huddle/internal/auth"
	"github.com/telemeet/huddle/internal/config"
	"github.com/telemeet/huddle/internal/media"
	"github.com/telemeet/huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Secret == "" {
		log.Fatal().Msg("secret is required")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	pool, err := media.NewPool(media.PoolConfig{
		Workers:     cfg.Media.Workers,
		RTCMinPort:  cfg.Media.RTCMinPort,
		RTCPortSpan: cfg.Media.RTCPortSpan,
		AnnouncedIP: cfg.Media.AnnouncedIP,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media workers")
	}

	users := store.NewUserStore(db)
	rooms := store.NewRoomStore(db)
	reports := store.NewReportStore(db)

	verifier := auth.NewVerifier(cfg.Secret, users)
	registry := app.NewRegistry()
	routers := media.NewRegistry(pool)
	orch := app.NewOrchestrator(registry, rooms, users, routers)
	limiter := app.NewReportRateLimiter(5, time.Minute)
	mod := app.NewModerator(reports, rooms, users, orch, limiter)

	r := router.SetupRouter(ctx, cfg, orch, mod, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", pool.Size()).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	pool.Close()
	log.Info().Msg("Server exited gracefully")
}
